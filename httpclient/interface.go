// Package httpclient performs single HTTP exchanges for built API requests.
// It never retries on its own; retry policy belongs to the caller.
package httpclient

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/vkflow/trace"
)

// HeaderXRequestID is the header used for request id propagation
const HeaderXRequestID = trace.HeaderXRequestID

// Client performs one HTTP exchange.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// ProgressFunc reports transferred bytes. total is -1 when unknown.
type ProgressFunc func(current, total int64)

// Request represents an HTTP request with all necessary data
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Timeout bounds the whole exchange. Zero falls back to the client default.
	Timeout time.Duration

	OnSent     ProgressFunc
	OnReceived ProgressFunc
}

// Response represents an HTTP response with tracking information
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	CallCount   int64
}

// RequestInterceptor is called before sending the request
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving the response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the client configuration
type Config struct {
	Timeout              time.Duration
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	DefaultHeaders       map[string]string
	// LogPayloads enables debug-level logging of response bodies
	LogPayloads bool
	// MaxPayloadLogBytes caps the number of body bytes logged when LogPayloads is enabled
	MaxPayloadLogBytes int
}

// NewRequestIDInterceptor sets X-Request-ID from the context, generating one
// when the context carries none.
func NewRequestIDInterceptor() RequestInterceptor {
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(HeaderXRequestID) == "" {
			req.Header.Set(HeaderXRequestID, trace.EnsureRequestID(ctx))
		}
		return nil
	}
}
