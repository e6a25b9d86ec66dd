package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gaborage/vkflow/logger"
)

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	// Default configures the session created with the manager.
	Default Options
	// SweepInterval enables a periodic logout of sessions whose token expired.
	// Zero disables it.
	SweepInterval time.Duration
}

// Manager keeps the live sessions of an application. There is always a
// default session until Shutdown.
type Manager struct {
	factory *Factory
	log     logger.Logger
	cron    gocron.Scheduler

	mu        sync.RWMutex
	sessions  map[string]*Session
	order     []string
	defaultID string
}

func NewManager(f *Factory, opts ManagerOptions) (*Manager, error) {
	m := &Manager{
		factory:  f,
		log:      f.deps.Logger,
		sessions: make(map[string]*Session),
	}

	def := m.New(opts.Default)
	m.defaultID = def.ID()

	if opts.SweepInterval > 0 {
		if err := m.startSweep(opts.SweepInterval); err != nil {
			m.Shutdown()
			return nil, err
		}
	}
	return m, nil
}

// New creates and registers a session. A live session with the same id is
// returned as is.
func (m *Manager) New(opts Options) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.ID != "" {
		if s, ok := m.sessions[opts.ID]; ok && s.State() != Dead {
			return s
		}
	}
	s := m.factory.NewSession(opts)
	if _, exists := m.sessions[s.ID()]; !exists {
		m.order = append(m.order, s.ID())
	}
	m.sessions[s.ID()] = s
	return s
}

// Default returns the default session, nil after Shutdown.
func (m *Manager) Default() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[m.defaultID]
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || s.State() == Dead {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// All returns the live sessions in creation order.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		if s := m.sessions[id]; s != nil && s.State() != Dead {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) MakeDefault(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.State() == Dead {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.defaultID = id
	return nil
}

// Kill makes a session dead and forgets it.
func (m *Manager) Kill(id string) error {
	m.mu.Lock()
	if id == m.defaultID {
		m.mu.Unlock()
		return ErrCantKillDefaultSession
	}
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.forget(id)
	m.mu.Unlock()

	s.Die()
	return nil
}

// Shutdown stops the sweep and kills every session, the default one included,
// then waits for their schedulers to stop. It blocks forever when called from
// a task callback because callbacks run on a scheduler worker; use Kill or
// Session.Die there. Afterwards the manager holds no sessions and Default
// returns nil. Calling Shutdown again is a no-op.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cron := m.cron
	m.cron = nil
	m.mu.Unlock()
	if cron != nil {
		if err := cron.Shutdown(); err != nil {
			m.log.Warn().Err(err).Msg("Failed to stop session sweep")
		}
	}

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.order = nil
	m.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
}

// Sweep logs out every live session holding an expired token.
func (m *Manager) Sweep(ctx context.Context) int {
	now := time.Now()
	swept := 0
	for _, s := range m.All() {
		tok := s.Token()
		if tok == nil || !tok.Expired(now) {
			continue
		}
		if err := s.LogOut(ctx); err != nil {
			m.log.Warn().Err(err).Str("session_id", s.ID()).Msg("Failed to log out expired session")
			continue
		}
		swept++
	}
	if swept > 0 {
		m.log.Info().Int("sessions", swept).Msg("Logged out sessions with expired tokens")
	}
	return swept
}

func (m *Manager) startSweep(interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create sweep scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { m.Sweep(context.Background()) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.Start()
	m.cron = s
	m.log.Debug().Dur("interval", interval).Msg("Session sweep started")
	return nil
}

// forget must be called with mu held.
func (m *Manager) forget(id string) {
	delete(m.sessions, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
