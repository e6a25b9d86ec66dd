package attempt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaborage/vkflow/logger"
	"github.com/gaborage/vkflow/metrics"
)

// DefaultWindow is the serial lane admission window.
const DefaultWindow = time.Second

const backlogWarnInterval = 10 * time.Second

// Stats is a snapshot of the serial lane.
type Stats struct {
	Limit    Limit
	Admitted int
	Waiting  int
	Closed   bool
}

type opKind int

const (
	opSchedule opKind = iota
	opSetLimit
	opStats
)

type op struct {
	kind    opKind
	attempt Attempt
	limit   Limit
	reply   chan Stats
}

// Scheduler dispatches concurrent attempts on their own goroutines and serial
// attempts through a single worker. Admission to the serial worker is decided
// by one counter goroutine that owns the limit, the admitted counter and the
// FIFO wait queue.
type Scheduler struct {
	window  time.Duration
	log     logger.Logger
	metrics *metrics.Recorder

	ctx     context.Context
	cancel  context.CancelFunc
	ops     chan op
	lane    *lane
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  atomic.Bool

	backlogWarn rate.Sometimes
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWindow overrides the admission window.
func WithWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler starts the counter and lane goroutines. Call Close to stop them.
func NewScheduler(limit Limit, opts ...Option) *Scheduler {
	s := &Scheduler{
		window:      DefaultWindow,
		log:         logger.Nop(),
		ops:         make(chan op),
		lane:        newLane(),
		backlogWarn: rate.Sometimes{Interval: backlogWarnInterval},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(2)
	go s.count(limit)
	go s.work()
	return s
}

// Schedule runs a immediately when concurrent, otherwise queues it on the
// serial lane.
func (s *Scheduler) Schedule(a Attempt, concurrent bool) error {
	if a == nil {
		return ErrWrongAttemptType
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return ErrSchedulerClosed
	}

	if concurrent {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			a.Run(s.ctx)
		}()
		return nil
	}

	select {
	case s.ops <- op{kind: opSchedule, attempt: a}:
		return nil
	case <-s.ctx.Done():
		return ErrSchedulerClosed
	}
}

// SetLimit changes the budget for future admissions. Already admitted
// attempts are never revoked. Waiting attempts are promoted at once when the
// new budget allows it.
func (s *Scheduler) SetLimit(limit Limit) {
	select {
	case s.ops <- op{kind: opSetLimit, limit: limit}:
	case <-s.ctx.Done():
	}
}

// Stats returns a snapshot of the serial lane.
func (s *Scheduler) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case s.ops <- op{kind: opStats, reply: reply}:
		return <-reply
	case <-s.ctx.Done():
		return Stats{Closed: true}
	}
}

// Close stops the scheduler. Queued attempts are cancelled and running ones
// see their context cancelled. Close waits for every goroutine to exit.
func (s *Scheduler) Close() {
	s.closeMu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.closeMu.Unlock()
		return
	}
	s.cancel()
	s.closeMu.Unlock()

	s.wg.Wait()
	for _, a := range s.lane.drain() {
		a.Cancel()
	}
}

// count owns limit, admitted and waiting. Nothing else touches them.
func (s *Scheduler) count(limit Limit) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.window)
	defer ticker.Stop()

	admitted := 0
	var waiting []Attempt

	promote := func() {
		n := 0
		for len(waiting) > 0 && limit.allows(admitted) {
			a := waiting[0]
			waiting[0] = nil
			waiting = waiting[1:]
			admitted++
			n++
			s.lane.push(a)
		}
		s.metrics.LaneWaiting(s.ctx, -int64(n))
	}

	for {
		select {
		case <-s.ctx.Done():
			for _, a := range waiting {
				a.Cancel()
			}
			s.metrics.LaneWaiting(context.Background(), -int64(len(waiting)))
			return

		case o := <-s.ops:
			switch o.kind {
			case opSchedule:
				if len(waiting) == 0 && limit.allows(admitted) {
					admitted++
					s.lane.push(o.attempt)
					continue
				}
				waiting = append(waiting, o.attempt)
				s.metrics.LaneWaiting(s.ctx, 1)
				backlog := len(waiting)
				s.backlogWarn.Do(func() {
					s.log.Warn().
						Int("waiting", backlog).
						Str("limit", limit.String()).
						Msg("Serial lane is throttling API calls")
				})
			case opSetLimit:
				s.log.Debug().Str("limit", o.limit.String()).Msg("Serial lane limit changed")
				limit = o.limit
				promote()
			case opStats:
				o.reply <- Stats{Limit: limit, Admitted: admitted, Waiting: len(waiting)}
			}

		case <-ticker.C:
			admitted = 0
			promote()
		}
	}
}

// work runs admitted attempts one at a time in admission order.
func (s *Scheduler) work() {
	defer s.wg.Done()
	for {
		a, ok := s.lane.pop(s.ctx)
		if !ok {
			return
		}
		a.Run(s.ctx)
	}
}

// lane is an unbounded FIFO with a wake up signal, so that the counter
// goroutine never blocks on a busy worker.
type lane struct {
	mu     sync.Mutex
	items  []Attempt
	signal chan struct{}
}

func newLane() *lane {
	return &lane{signal: make(chan struct{}, 1)}
}

func (l *lane) push(a Attempt) {
	l.mu.Lock()
	l.items = append(l.items, a)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *lane) pop(ctx context.Context) (Attempt, bool) {
	for {
		l.mu.Lock()
		if len(l.items) > 0 {
			a := l.items[0]
			l.items[0] = nil
			l.items = l.items[1:]
			l.mu.Unlock()
			return a, true
		}
		l.mu.Unlock()

		select {
		case <-l.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (l *lane) drain() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := l.items
	l.items = nil
	return items
}
