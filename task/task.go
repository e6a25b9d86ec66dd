// Package task drives one logical call through its attempts: it applies the
// continuation chain, retries transport failures, runs recovery flows for
// API errors and reports exactly one outcome.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaborage/vkflow/attempt"
	"github.com/gaborage/vkflow/httpclient"
	"github.com/gaborage/vkflow/logger"
	"github.com/gaborage/vkflow/metrics"
	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/response"
	"github.com/gaborage/vkflow/token"
	"github.com/gaborage/vkflow/trace"
	"github.com/gaborage/vkflow/wire"
)

// Scheduler accepts attempts for execution.
type Scheduler interface {
	Schedule(a attempt.Attempt, concurrent bool) error
}

// RequestBuilder turns a logical request into an HTTP request.
type RequestBuilder interface {
	Build(raw request.Raw, cfg request.Config, captcha *wire.CaptchaAnswer, tok *token.Token) (*httpclient.Request, error)
}

// Recoverer runs the interactive flows behind API errors. Every method must
// return promptly once ctx is cancelled.
type Recoverer interface {
	Reauthorize(ctx context.Context) error
	SolveCaptcha(ctx context.Context, sid, imageURL string) (string, error)
	ValidateRedirect(ctx context.Context, redirectURI string) error
}

// AttemptFactory creates the attempt for one built request.
type AttemptFactory func(req *httpclient.Request, name string, concurrent bool, cb attempt.Callbacks) attempt.Attempt

// Deps are the collaborators of a Task.
type Deps struct {
	Scheduler  Scheduler
	Builder    RequestBuilder
	NewAttempt AttemptFactory
	Recoverer  Recoverer
	// Token returns the token to inject at build time; nil when logged out.
	Token   func() *token.Token
	Logger  logger.Logger
	Metrics *metrics.Recorder
	// OnTerminal runs once after the task reaches a terminal state.
	OnTerminal func(*Task)
}

// Task is the orchestrator of one logical call including its chained steps.
type Task struct {
	id   int64
	deps Deps
	cb   request.Callbacks
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	current  *request.Request
	queue    []request.Continuation
	attempts int
	lastErr  error
	captcha  *wire.CaptchaAnswer
	running  attempt.Attempt
	retry    *time.Timer
	payload  []byte
	err      error
}

// New prepares a task for req. Call Start to send it.
func New(id int64, req *request.Request, cb request.Callbacks, deps Deps) *Task {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Token == nil {
		deps.Token = func() *token.Token { return nil }
	}

	ctx := trace.WithTaskID(trace.WithRequestID(context.Background(), uuid.NewString()), id)
	ctx, cancel := context.WithCancel(ctx)

	t := &Task{
		id:     id,
		deps:   deps,
		cb:     cb,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  Created,
	}
	if req != nil {
		t.current = req.Resolve(req.Config)
		t.queue = t.current.Continuations()
	}
	t.log = deps.Logger.WithFields(map[string]any{
		"task_id":    id,
		"request_id": trace.EnsureRequestID(ctx),
	})
	return t
}

// NewFailed returns a task that already failed with err. OnError fires before
// it is returned.
func NewFailed(id int64, err error, cb request.Callbacks, deps Deps) *Task {
	t := New(id, nil, cb, deps)
	t.fail(err)
	return t
}

// Start sends the first attempt.
func (t *Task) Start() {
	if t.current == nil {
		t.fail(response.ErrUnexpectedResponse)
		return
	}
	t.send()
}

func (t *Task) ID() int64 { return t.id }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the attempt counter of the current step.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Done is closed on the terminal transition.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the payload and error of a terminal task.
func (t *Task) Result() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Cancelled {
		return nil, ErrCancelled
	}
	return t.payload, t.err
}

// Wait blocks until the task is terminal or ctx is done.
func (t *Task) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops the running attempt and any recovery in progress. Neither
// OnSuccess nor OnError fires afterwards; a progress tick racing with Cancel
// can still be delivered once.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = Cancelled
	running := t.running
	t.running = nil
	if t.retry != nil {
		t.retry.Stop()
	}
	t.mu.Unlock()

	t.cancel()
	if running != nil {
		running.Cancel()
	}
	close(t.done)

	t.log.Debug().Msg("Task cancelled")
	t.deps.Metrics.RecordTask(context.Background(), metrics.OutcomeCancelled)
	if t.deps.OnTerminal != nil {
		t.deps.OnTerminal(t)
	}
}

func (t *Task) send() {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	req := t.current
	cfg := req.Config
	if cfg.MaxAttempts > 0 && t.attempts >= cfg.MaxAttempts {
		last := t.lastErr
		t.mu.Unlock()
		t.fail(maxAttemptsError(last))
		return
	}
	t.attempts++
	captcha := t.captcha
	t.captcha = nil
	t.state = Sent
	n := t.attempts
	t.mu.Unlock()

	httpReq, err := t.deps.Builder.Build(req.Raw, cfg, captcha, t.deps.Token())
	if err != nil {
		t.fail(err)
		return
	}
	if httpReq.Headers == nil {
		httpReq.Headers = make(map[string]string)
	}
	httpReq.Headers[trace.HeaderXRequestID] = trace.EnsureRequestID(t.ctx)

	concurrent := req.Raw.Concurrent()
	a := t.deps.NewAttempt(httpReq, req.Raw.String(), concurrent, attempt.Callbacks{
		OnFinish:   t.onFinish,
		OnSent:     t.progress(request.ProgressSent),
		OnReceived: t.progress(request.ProgressReceived),
	})

	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		a.Cancel()
		return
	}
	t.running = a
	t.mu.Unlock()

	t.log.Debug().
		Str("call", req.Raw.String()).
		Int("attempt", n).
		Bool("concurrent", concurrent).
		Msg("Sending attempt")

	if err := t.deps.Scheduler.Schedule(a, concurrent); err != nil {
		t.fail(err)
	}
}

// progress drops ticks once the task is terminal. The check and the call are
// not atomic so that OnProgress may cancel the task.
func (t *Task) progress(kind request.ProgressKind) func(current, total int64) {
	if t.cb.OnProgress == nil {
		return nil
	}
	return func(current, total int64) {
		if t.State().Terminal() {
			return
		}
		t.cb.OnProgress(kind, current, total)
	}
}

func (t *Task) onFinish(r response.Response) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.running = nil
	t.mu.Unlock()

	if r.OK() {
		t.advance(r.Payload)
		return
	}
	t.handleError(r.Err)
}

// advance runs the next continuation or finishes with payload.
func (t *Task) advance(payload []byte) {
	t.mu.Lock()
	if len(t.queue) == 0 {
		t.mu.Unlock()
		t.succeed(payload)
		return
	}
	next := t.queue[0]
	t.queue = t.queue[1:]
	prevCfg := t.current.Config
	t.mu.Unlock()

	req, err := next(payload)
	if err == nil && req == nil {
		err = ErrEmptyContinuation
	}
	if err != nil {
		t.fail(err)
		return
	}
	req = req.Resolve(prevCfg)

	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.current = req
	t.queue = append(req.Continuations(), t.queue...)
	t.attempts = 0
	t.lastErr = nil
	t.mu.Unlock()

	t.log.Debug().Str("call", req.Raw.String()).Msg("Continuing chain")
	t.send()
}

func (t *Task) handleError(err error) {
	t.mu.Lock()
	t.lastErr = err
	cfg := t.current.Config
	remaining := cfg.MaxAttempts == 0 || t.attempts < cfg.MaxAttempts
	t.mu.Unlock()

	if !cfg.CatchErrors {
		t.fail(err)
		return
	}

	var apiErr *response.APIError
	if errors.As(err, &apiErr) {
		rec := Classify(apiErr)
		if rec.Action == ActionNone {
			t.fail(err)
			return
		}
		if !remaining {
			t.fail(maxAttemptsError(err))
			return
		}
		go t.runRecovery(rec, apiErr)
		return
	}

	if !httpclient.IsTransient(err) {
		t.fail(err)
		return
	}
	if !remaining {
		t.fail(maxAttemptsError(err))
		return
	}

	delay := backoffDelay(cfg.RetryDelay, t.Attempts()-1)
	t.log.Debug().Err(err).Dur("delay", delay).Msg("Retrying after transport error")
	if delay == 0 {
		t.send()
		return
	}

	t.mu.Lock()
	if !t.state.Terminal() {
		t.retry = time.AfterFunc(delay, t.send)
	}
	t.mu.Unlock()
}

// runRecovery runs on its own goroutine so the worker that delivered the error
// is never blocked by an interactive flow.
func (t *Task) runRecovery(rec Recovery, cause *response.APIError) {
	if t.deps.Recoverer == nil {
		t.fail(&RecoveryError{Action: rec.Action, Err: ErrNoRecoverer, Cause: cause})
		return
	}

	t.log.Info().Str("action", rec.Action.String()).Int("code", cause.Code).Msg("Recovering from API error")

	var err error
	switch rec.Action {
	case ActionReauthorize:
		err = t.deps.Recoverer.Reauthorize(t.ctx)
	case ActionSolveCaptcha:
		var key string
		key, err = t.deps.Recoverer.SolveCaptcha(t.ctx, rec.CaptchaSID, rec.CaptchaImage)
		if err == nil {
			t.mu.Lock()
			t.captcha = &wire.CaptchaAnswer{SID: rec.CaptchaSID, Key: key}
			t.mu.Unlock()
		}
	case ActionValidateRedirect:
		err = t.deps.Recoverer.ValidateRedirect(t.ctx, rec.RedirectURI)
	}
	t.deps.Metrics.RecordRecovery(t.ctx, rec.Action.String(), err)

	if t.ctx.Err() != nil {
		return
	}
	if err != nil {
		t.fail(&RecoveryError{Action: rec.Action, Err: err, Cause: cause})
		return
	}
	t.send()
}

func (t *Task) succeed(payload []byte) {
	if !t.finish(Succeeded, payload, nil) {
		return
	}
	t.log.Debug().Msg("Task succeeded")
	t.deps.Metrics.RecordTask(context.Background(), metrics.OutcomeSucceeded)
	if t.cb.OnSuccess != nil {
		t.cb.OnSuccess(payload)
	}
	if t.deps.OnTerminal != nil {
		t.deps.OnTerminal(t)
	}
}

func (t *Task) fail(err error) {
	if !t.finish(Failed, nil, err) {
		return
	}
	t.log.Debug().Err(err).Msg("Task failed")
	t.deps.Metrics.RecordTask(context.Background(), metrics.OutcomeFailed)
	if t.cb.OnError != nil {
		t.cb.OnError(err)
	}
	if t.deps.OnTerminal != nil {
		t.deps.OnTerminal(t)
	}
}

func (t *Task) finish(state State, payload []byte, err error) bool {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = state
	t.payload = payload
	t.err = err
	t.running = nil
	t.mu.Unlock()

	t.cancel()
	close(t.done)
	return true
}
