package task

import (
	crand "crypto/rand"
	"math/big"
	"time"
)

const maxBackoff = 30 * time.Second

// backoffDelay is base * 2^retry capped at maxBackoff, with full jitter.
// A zero base means resend immediately.
func backoffDelay(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	}
	if retry > 20 {
		retry = 20
	}
	d := base * time.Duration(1<<retry)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	n, err := crand.Int(crand.Reader, big.NewInt(int64(d)))
	if err != nil {
		return d
	}
	return time.Duration(n.Int64())
}
