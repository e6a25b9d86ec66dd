// Package session owns tokens and schedulers and dispatches tasks. A Session
// is also the recoverer its tasks call back into when the API asks for a new
// login, a captcha answer or a redirect validation.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gaborage/vkflow/attempt"
	"github.com/gaborage/vkflow/logger"
	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/task"
	"github.com/gaborage/vkflow/token"
)

// DefaultRecoveryTimeout bounds each interactive recovery flow.
const DefaultRecoveryTimeout = 10 * time.Minute

// State of a session. Dead is final.
type State int32

const (
	Dead State = iota
	Initiated
	Authorized
)

func (s State) String() string {
	switch s {
	case Dead:
		return "dead"
	case Initiated:
		return "initiated"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Options configure one session.
type Options struct {
	// ID is generated when empty.
	ID string
	// Config is used for requests sent with a zero config.
	Config request.Config
	// Limit of the serial lane. The zero value is unlimited.
	Limit          attempt.Limit
	CaptchaTimeout time.Duration
	WebTimeout     time.Duration
}

// Session sends requests on behalf of one account.
type Session struct {
	id        string
	key       string
	factory   *Factory
	deps      Dependencies
	scheduler *attempt.Scheduler
	log       logger.Logger
	config    request.Config

	captchaTimeout time.Duration
	webTimeout     time.Duration

	// ctx is cancelled by Die and aborts running recovery flows.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	state State
	tok   *token.Token

	tasksMu sync.Mutex
	tasks   map[int64]*task.Task

	flights singleflight.Group
	captcha chan struct{}
}

func newSession(f *Factory, opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Config.IsZero() {
		opts.Config = request.DefaultConfig()
	}
	if opts.CaptchaTimeout <= 0 {
		opts.CaptchaTimeout = DefaultRecoveryTimeout
	}
	if opts.WebTimeout <= 0 {
		opts.WebTimeout = DefaultRecoveryTimeout
	}

	log := f.deps.Logger.WithFields(map[string]any{"session_id": opts.ID})
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:      opts.ID,
		key:     token.Key(f.deps.AppID, opts.ID),
		factory: f,
		deps:    f.deps,
		scheduler: attempt.NewScheduler(opts.Limit,
			attempt.WithWindow(f.deps.Window),
			attempt.WithLogger(log),
			attempt.WithMetrics(f.deps.Metrics),
		),
		log:            log,
		config:         opts.Config,
		captchaTimeout: opts.CaptchaTimeout,
		webTimeout:     opts.WebTimeout,
		ctx:            ctx,
		cancel:         cancel,
		state:          Initiated,
		tasks:          make(map[int64]*task.Task),
		captcha:        make(chan struct{}, 1),
	}
	log.Debug().Str("limit", opts.Limit.String()).Msg("Session created")
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token returns a copy of the current token, nil when logged out.
func (s *Session) Token() *token.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok.Clone()
}

// ActiveTasks returns the tasks that have not reached a terminal state,
// ordered by id.
func (s *Session) ActiveTasks() []*task.Task {
	s.tasksMu.Lock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, tk := range s.tasks {
		out = append(out, tk)
	}
	s.tasksMu.Unlock()

	slices.SortFunc(out, func(a, b *task.Task) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// Send starts a task for req. A zero config takes the session defaults on a
// copy; req itself is never modified. A dead session returns a task that
// already failed with ErrSessionIsDead and never touches the transport.
func (s *Session) Send(req *request.Request, cb request.Callbacks) *task.Task {
	if s.State() == Dead {
		return s.factory.NewFailedTask(ErrSessionIsDead, cb)
	}
	if req == nil {
		return s.factory.NewFailedTask(fmt.Errorf("%w: nil request", attempt.ErrWrongAttemptType), cb)
	}
	req = req.Resolve(s.config)
	if err := req.Config.Validate(); err != nil {
		return s.factory.NewFailedTask(err, cb)
	}

	tk := s.factory.NewTask(req, cb, task.Deps{
		Scheduler:  s,
		Recoverer:  s,
		Token:      s.Token,
		OnTerminal: s.release,
	})

	s.tasksMu.Lock()
	s.tasks[tk.ID()] = tk
	s.tasksMu.Unlock()

	tk.Start()
	return tk
}

// Await sends req and blocks until it finishes or ctx is done. The task is
// cancelled when ctx ends first.
func (s *Session) Await(ctx context.Context, req *request.Request) ([]byte, error) {
	tk := s.Send(req, request.Callbacks{})
	payload, err := tk.Wait(ctx)
	if ctx.Err() != nil && !tk.State().Terminal() {
		tk.Cancel()
	}
	return payload, err
}

// Schedule hands a to the session scheduler.
func (s *Session) Schedule(a attempt.Attempt, concurrent bool) error {
	if s.State() == Dead {
		return ErrSessionIsDead
	}
	return s.scheduler.Schedule(a, concurrent)
}

// SetAttemptLimit changes the serial lane budget for future admissions.
func (s *Session) SetAttemptLimit(limit attempt.Limit) {
	s.scheduler.SetLimit(limit)
	s.log.Info().Str("limit", limit.String()).Msg("Attempt limit updated")
}

// SchedulerStats returns a snapshot of the serial lane.
func (s *Session) SchedulerStats() attempt.Stats {
	return s.scheduler.Stats()
}

// LogIn adopts a stored token when there is a valid one and runs the
// authorizator otherwise.
func (s *Session) LogIn(ctx context.Context) error {
	if s.State() == Dead {
		return ErrSessionIsDead
	}

	restored, err := s.Restore(ctx)
	switch {
	case errors.Is(err, ErrSessionIsDead):
		return err
	case err != nil:
		s.log.Warn().Err(err).Msg("Failed to load stored token")
	case restored:
		return nil
	}

	return s.authorize(ctx)
}

// Restore adopts a valid stored token without contacting the authorizator.
// It reports whether a token was adopted.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	if s.State() == Dead {
		return false, ErrSessionIsDead
	}
	tok, err := s.deps.Storage.Load(ctx, s.key)
	switch {
	case errors.Is(err, token.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to load token: %w", err)
	case tok.Expired(time.Now()):
		return false, nil
	}
	if err := s.adopt(tok); err != nil {
		return false, err
	}
	s.log.Debug().Msg("Adopted stored token")
	return true, nil
}

// LogInWith authorizes with a token obtained outside the SDK.
func (s *Session) LogInWith(ctx context.Context, rawToken string, expiresIn time.Duration) error {
	if s.State() == Dead {
		return ErrSessionIsDead
	}
	tok, err := s.authorizator().AuthorizeWith(ctx, rawToken, expiresIn)
	if err != nil {
		return err
	}
	return s.persist(ctx, tok)
}

// LogOut forgets the token. It is a no-op when there is none.
func (s *Session) LogOut(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return ErrSessionIsDead
	}
	if s.tok == nil {
		s.mu.Unlock()
		return nil
	}
	s.tok = nil
	s.state = Initiated
	s.mu.Unlock()

	if err := s.deps.Storage.Remove(ctx, s.key); err != nil && !errors.Is(err, token.ErrNotFound) {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	s.log.Info().Msg("Logged out")
	return nil
}

// Die marks the session dead and cancels its active tasks. The scheduler is
// closed in the background so Die is safe to call from task callbacks.
func (s *Session) Die() {
	if s.kill() {
		go s.scheduler.Close()
	}
}

// shutdown is Die that waits for the scheduler to stop.
func (s *Session) shutdown() {
	s.kill()
	s.scheduler.Close()
}

func (s *Session) kill() bool {
	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return false
	}
	s.state = Dead
	s.mu.Unlock()

	s.cancel()
	for _, tk := range s.ActiveTasks() {
		tk.Cancel()
	}
	s.log.Info().Msg("Session died")
	return true
}

func (s *Session) release(tk *task.Task) {
	s.tasksMu.Lock()
	delete(s.tasks, tk.ID())
	s.tasksMu.Unlock()
}

func (s *Session) authorizator() Authorizator {
	if s.deps.Authorizator != nil {
		return s.deps.Authorizator
	}
	return &WebAuthorizator{}
}

func (s *Session) authorize(ctx context.Context) error {
	tok, err := s.authorizator().Authorize(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Authorization failed")
		return err
	}
	return s.persist(ctx, tok)
}

func (s *Session) persist(ctx context.Context, tok *token.Token) error {
	if err := s.deps.Storage.Save(ctx, s.key, tok); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := s.adopt(tok); err != nil {
		return err
	}
	s.log.Info().Msg("Logged in")
	return nil
}

func (s *Session) adopt(tok *token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Dead {
		return ErrSessionIsDead
	}
	s.tok = tok.Clone()
	s.state = Authorized
	return nil
}
