package attempt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	eventually = 2 * time.Second
	longWindow = time.Hour
)

type fakeAttempt struct {
	id        int
	ran       chan struct{}
	block     chan struct{}
	cancelled atomic.Bool
	onRun     func(id int)
}

func newFake(id int) *fakeAttempt {
	return &fakeAttempt{id: id, ran: make(chan struct{})}
}

func (f *fakeAttempt) Run(ctx context.Context) {
	if f.onRun != nil {
		f.onRun(f.id)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	close(f.ran)
}

func (f *fakeAttempt) Cancel() { f.cancelled.Store(true) }

func (f *fakeAttempt) hasRun() bool {
	select {
	case <-f.ran:
		return true
	default:
		return false
	}
}

func waitRan(t *testing.T, attempts ...*fakeAttempt) {
	t.Helper()
	for _, a := range attempts {
		select {
		case <-a.ran:
		case <-time.After(eventually):
			t.Fatalf("attempt %d did not run", a.id)
		}
	}
}

func TestLimit(t *testing.T) {
	assert.True(t, Unlimited().IsUnlimited())
	assert.True(t, Limited(0).IsUnlimited())
	assert.Equal(t, 3, Limited(3).Count())
	assert.Equal(t, "3/window", Limited(3).String())
	assert.Equal(t, "unlimited", Unlimited().String())
}

func TestScheduleNilAttempt(t *testing.T) {
	s := NewScheduler(Unlimited())
	defer s.Close()

	assert.ErrorIs(t, s.Schedule(nil, true), ErrWrongAttemptType)
	assert.ErrorIs(t, s.Schedule(nil, false), ErrWrongAttemptType)
}

func TestConcurrentAttemptsAllComplete(t *testing.T) {
	s := NewScheduler(Limited(1), WithWindow(longWindow))
	defer s.Close()

	const n = 50
	attempts := make([]*fakeAttempt, n)
	for i := range attempts {
		attempts[i] = newFake(i)
		require.NoError(t, s.Schedule(attempts[i], true))
	}
	waitRan(t, attempts...)

	assert.Equal(t, 0, s.Stats().Admitted, "concurrent attempts bypass the serial budget")
}

func TestSerialLaneRespectsLimit(t *testing.T) {
	s := NewScheduler(Limited(2), WithWindow(longWindow))
	defer s.Close()

	attempts := make([]*fakeAttempt, 5)
	for i := range attempts {
		attempts[i] = newFake(i)
		require.NoError(t, s.Schedule(attempts[i], false))
	}

	stats := s.Stats()
	assert.Equal(t, 2, stats.Admitted)
	assert.Equal(t, 3, stats.Waiting)

	waitRan(t, attempts[0], attempts[1])
	time.Sleep(50 * time.Millisecond)
	for _, a := range attempts[2:] {
		assert.False(t, a.hasRun(), "attempt %d ran beyond the budget", a.id)
	}
}

func TestSerialLaneWindowTickPromotesFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []int
	record := func(id int) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	s := NewScheduler(Limited(1), WithWindow(30*time.Millisecond))
	defer s.Close()

	attempts := make([]*fakeAttempt, 4)
	for i := range attempts {
		attempts[i] = newFake(i)
		attempts[i].onRun = record
		require.NoError(t, s.Schedule(attempts[i], false))
	}
	waitRan(t, attempts...)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestSerialLaneRunsOneAtATime(t *testing.T) {
	s := NewScheduler(Unlimited())
	defer s.Close()

	var running, peak atomic.Int32
	attempts := make([]*fakeAttempt, 10)
	for i := range attempts {
		attempts[i] = newFake(i)
		attempts[i].onRun = func(int) {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		}
		require.NoError(t, s.Schedule(attempts[i], false))
	}
	waitRan(t, attempts...)

	assert.Equal(t, int32(1), peak.Load())
}

func TestSetLimit(t *testing.T) {
	t.Run("raising_promotes_waiting", func(t *testing.T) {
		s := NewScheduler(Limited(1), WithWindow(longWindow))
		defer s.Close()

		attempts := make([]*fakeAttempt, 4)
		for i := range attempts {
			attempts[i] = newFake(i)
			require.NoError(t, s.Schedule(attempts[i], false))
		}

		s.SetLimit(Limited(3))
		stats := s.Stats()
		assert.Equal(t, 3, stats.Admitted)
		assert.Equal(t, 1, stats.Waiting)
		assert.Equal(t, 3, stats.Limit.Count())
		waitRan(t, attempts[:3]...)

		s.SetLimit(Unlimited())
		waitRan(t, attempts[3])
		assert.Equal(t, 0, s.Stats().Waiting)
	})

	t.Run("lowering_keeps_admitted", func(t *testing.T) {
		s := NewScheduler(Limited(3), WithWindow(longWindow))
		defer s.Close()

		release := make(chan struct{})
		attempts := make([]*fakeAttempt, 3)
		for i := range attempts {
			attempts[i] = newFake(i)
			attempts[i].block = release
			require.NoError(t, s.Schedule(attempts[i], false))
		}

		s.SetLimit(Limited(1))
		late := newFake(99)
		require.NoError(t, s.Schedule(late, false))

		stats := s.Stats()
		assert.Equal(t, 3, stats.Admitted)
		assert.Equal(t, 1, stats.Waiting)

		close(release)
		waitRan(t, attempts...)
		assert.False(t, late.hasRun())
	})
}

func TestClose(t *testing.T) {
	s := NewScheduler(Limited(1), WithWindow(longWindow))

	release := make(chan struct{})
	running := newFake(0)
	running.block = release
	waiting := newFake(1)

	require.NoError(t, s.Schedule(running, false))
	require.NoError(t, s.Schedule(waiting, false))

	s.Close()
	close(release)

	assert.True(t, waiting.cancelled.Load())
	assert.False(t, waiting.hasRun())
	assert.ErrorIs(t, s.Schedule(newFake(2), true), ErrSchedulerClosed)
	assert.ErrorIs(t, s.Schedule(newFake(3), false), ErrSchedulerClosed)
	assert.True(t, s.Stats().Closed)

	assert.NotPanics(t, func() {
		s.SetLimit(Unlimited())
		s.Close()
	})
}
