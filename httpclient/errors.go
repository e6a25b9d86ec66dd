package httpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRequest is matched by every KindMisuse error.
var ErrInvalidRequest = errors.New("invalid transport request")

// Kind classifies a failed exchange by what a caller can do about it.
type Kind uint8

const (
	// KindNetwork: the exchange broke before a full response arrived.
	KindNetwork Kind = iota + 1
	// KindTimeout: the per-request deadline expired.
	KindTimeout
	// KindStatus: a complete response with a non-2xx status.
	KindStatus
	// KindMisuse: the request could not be built or an interceptor refused
	// it. Sending it again fails the same way.
	KindMisuse
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "status"
	case KindMisuse:
		return "misuse"
	default:
		return "unknown"
	}
}

// Error is a failed exchange. Op names the step that failed, such as "send"
// or "read body".
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	// Body is the response body of a KindStatus error.
	Body    []byte
	Timeout time.Duration
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("transport ")
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" error during ")
		b.WriteString(e.Op)
	} else {
		b.WriteString(" error")
	}
	switch e.Kind {
	case KindStatus:
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	case KindTimeout:
		fmt.Fprintf(&b, ": no response within %v", e.Timeout)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether sending the same request again may succeed:
// network failures, timeouts, 429 and 5xx statuses. A network failure caused
// by the caller cancelling is not transient.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindNetwork:
		return !errors.Is(e.Err, context.Canceled)
	case KindTimeout:
		return true
	case KindStatus:
		return e.StatusCode == 429 || e.StatusCode >= 500
	default:
		return false
	}
}

func networkErr(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func timeoutErr(op string, timeout time.Duration) *Error {
	return &Error{Kind: KindTimeout, Op: op, Timeout: timeout}
}

func statusErr(code int, body []byte) *Error {
	return &Error{Kind: KindStatus, Op: "response", StatusCode: code, Body: body}
}

func misuseErr(op string, err error) *Error {
	return &Error{Kind: KindMisuse, Op: op, Err: fmt.Errorf("%w: %w", ErrInvalidRequest, err)}
}

// KindOf returns the kind of the transport error in err's chain, 0 when there
// is none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsTransient reports whether err carries a transport error worth retrying.
func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Transient()
}

// StatusCode returns the HTTP status of a KindStatus error in err's chain.
func StatusCode(err error) (int, bool) {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindStatus {
		return te.StatusCode, true
	}
	return 0, false
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
