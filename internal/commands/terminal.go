package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrDismissed is returned when the input ends before an answer was given.
var ErrDismissed = errors.New("prompt dismissed")

// Terminal prompts on out and reads answers line by line from in.
type Terminal struct {
	in  io.Reader
	out io.Writer

	mu    sync.Mutex
	once  sync.Once
	lines chan string
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// Captcha adapts the terminal to session.CaptchaPresenter.
func (t *Terminal) Captcha() CaptchaPrompt { return CaptchaPrompt{t} }

// Web adapts the terminal to session.WebPresenter.
func (t *Terminal) Web() WebPrompt { return WebPrompt{t} }

// CaptchaPrompt shows the captcha image URL and reads the answer.
type CaptchaPrompt struct{ t *Terminal }

func (p CaptchaPrompt) Present(ctx context.Context, sid, imageURL string) (string, error) {
	return p.t.ask(ctx, fmt.Sprintf("Captcha %s required, open %s\nAnswer: ", sid, imageURL))
}

// WebPrompt shows a page URL and reads the URL the browser was redirected to.
type WebPrompt struct{ t *Terminal }

func (p WebPrompt) Present(ctx context.Context, pageURL string) (string, error) {
	return p.t.ask(ctx, fmt.Sprintf("Open %s\nPaste the final URL: ", pageURL))
}

func (t *Terminal) ask(ctx context.Context, prompt string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := io.WriteString(t.out, prompt); err != nil {
		return "", err
	}
	t.once.Do(t.startReader)

	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", ErrDismissed
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// startReader owns in so that an abandoned prompt never leaves a concurrent
// reader behind.
func (t *Terminal) startReader() {
	t.lines = make(chan string)
	go func() {
		defer close(t.lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			t.lines <- strings.TrimSpace(scanner.Text())
		}
	}()
}
