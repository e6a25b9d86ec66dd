// Package attempt runs single network exchanges and schedules them on a
// concurrent lane or a rate limited serial lane.
package attempt

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrWrongAttemptType is returned when Schedule receives something that is
	// not a usable Attempt.
	ErrWrongAttemptType = errors.New("wrong attempt type")
	// ErrSchedulerClosed is returned by Schedule after Close.
	ErrSchedulerClosed = errors.New("scheduler closed")
)

// Attempt is one single use network exchange. Run blocks until the exchange
// is over. After Cancel, or once it has reported its result, an Attempt never
// calls back again.
type Attempt interface {
	Run(ctx context.Context)
	Cancel()
}

// Limit is the serial lane budget per window.
type Limit struct {
	count int
}

// Unlimited admits every serial attempt immediately.
func Unlimited() Limit { return Limit{} }

// Limited admits at most n serial attempts per window. n <= 0 is unlimited.
func Limited(n int) Limit {
	if n <= 0 {
		return Unlimited()
	}
	return Limit{count: n}
}

func (l Limit) IsUnlimited() bool { return l.count == 0 }

// Count returns the budget, 0 for unlimited.
func (l Limit) Count() int { return l.count }

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.Itoa(l.count) + "/window"
}

func (l Limit) allows(admitted int) bool {
	return l.IsUnlimited() || admitted < l.count
}
