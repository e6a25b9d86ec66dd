package session

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gaborage/vkflow/token"
)

// Authorizator obtains tokens and validates redirects.
type Authorizator interface {
	Authorize(ctx context.Context) (*token.Token, error)
	AuthorizeWith(ctx context.Context, rawToken string, expiresIn time.Duration) (*token.Token, error)
	Validate(ctx context.Context, redirectURI string) error
}

// CaptchaPresenter shows a captcha image and returns the user's answer.
type CaptchaPresenter interface {
	Present(ctx context.Context, sid, imageURL string) (string, error)
}

// WebPresenter opens pageURL for the user and returns the URL the page finally
// redirected to.
type WebPresenter interface {
	Present(ctx context.Context, pageURL string) (string, error)
}

// Redirect fragment keys.
const (
	fragmentAccessToken = "access_token"
	fragmentExpiresIn   = "expires_in"
	fragmentError       = "error"
	fragmentCancel      = "cancel"
	fragmentFail        = "fail"
	fragmentSuccess     = "success"

	accessDenied = "access_denied"
)

// WebAuthorizator runs the implicit flow: it presents AuthURL and reads the
// token from the redirect fragment.
type WebAuthorizator struct {
	AuthURL   string
	Presenter WebPresenter
}

func NewWebAuthorizator(authURL string, presenter WebPresenter) *WebAuthorizator {
	return &WebAuthorizator{AuthURL: authURL, Presenter: presenter}
}

func (w *WebAuthorizator) Authorize(ctx context.Context) (*token.Token, error) {
	if w.Presenter == nil {
		return nil, ErrWebPresenterMissing
	}
	if w.AuthURL == "" {
		return nil, fmt.Errorf("%w: empty authorize url", ErrAuthorizationFailed)
	}
	redirect, err := w.Presenter.Present(ctx, w.AuthURL)
	if err != nil {
		return nil, err
	}
	values, err := parseFragment(redirect)
	if err != nil {
		return nil, err
	}
	return tokenFromFragment(values)
}

// AuthorizeWith wraps a token obtained elsewhere. expiresIn of zero means the
// token does not expire.
func (w *WebAuthorizator) AuthorizeWith(_ context.Context, rawToken string, expiresIn time.Duration) (*token.Token, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrAuthorizationFailed)
	}
	return token.New(rawToken, expiresIn, nil), nil
}

// Validate presents redirectURI and succeeds when the page reports success.
func (w *WebAuthorizator) Validate(ctx context.Context, redirectURI string) error {
	if w.Presenter == nil {
		return ErrWebPresenterMissing
	}
	redirect, err := w.Presenter.Present(ctx, redirectURI)
	if err != nil {
		return err
	}
	values, err := parseFragment(redirect)
	if err != nil {
		return err
	}
	if err := fragmentFailure(values); err != nil {
		return err
	}
	if values.Get(fragmentSuccess) == "1" || values.Get(fragmentAccessToken) != "" {
		return nil
	}
	return fmt.Errorf("%w: validation did not succeed", ErrAuthorizationFailed)
}

func parseFragment(redirect string) (url.Values, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redirect: %w", ErrAuthorizationFailed, err)
	}
	raw := u.Fragment
	if raw == "" {
		raw = u.RawQuery
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redirect fragment: %w", ErrAuthorizationFailed, err)
	}
	return values, nil
}

func fragmentFailure(values url.Values) error {
	switch {
	case values.Get(fragmentError) == accessDenied, values.Get(fragmentCancel) == "1":
		return ErrAuthorizationDenied
	case values.Get(fragmentFail) == "1":
		return ErrAuthorizationFailed
	case values.Has(fragmentError):
		return fmt.Errorf("%w: %s", ErrAuthorizationFailed, values.Get(fragmentError))
	}
	return nil
}

func tokenFromFragment(values url.Values) (*token.Token, error) {
	if err := fragmentFailure(values); err != nil {
		return nil, err
	}
	value := values.Get(fragmentAccessToken)
	if value == "" {
		return nil, fmt.Errorf("%w: no access_token in redirect", ErrAuthorizationFailed)
	}

	var expiresIn time.Duration
	if raw := values.Get(fragmentExpiresIn); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expires_in %q", ErrAuthorizationFailed, raw)
		}
		expiresIn = time.Duration(secs) * time.Second
	}

	info := make(map[string]string)
	for k := range values {
		if k == fragmentAccessToken || k == fragmentExpiresIn {
			continue
		}
		info[k] = values.Get(k)
	}
	return token.New(value, expiresIn, info), nil
}
