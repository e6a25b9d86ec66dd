package attempt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaborage/vkflow/httpclient"
	"github.com/gaborage/vkflow/metrics"
	"github.com/gaborage/vkflow/response"
)

// Callbacks receive the outcome and progress of an HTTPAttempt.
type Callbacks struct {
	OnFinish   func(response.Response)
	OnSent     func(current, total int64)
	OnReceived func(current, total int64)
}

// HTTPAttempt sends one built request through a transport and decodes the body.
type HTTPAttempt struct {
	client     httpclient.Client
	req        *httpclient.Request
	name       string
	concurrent bool
	cb         Callbacks
	metrics    *metrics.Recorder

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      atomic.Bool
	ran       atomic.Bool
}

// HTTPOption configures an HTTPAttempt.
type HTTPOption func(*HTTPAttempt)

// Named labels the attempt in metrics, usually with the API method.
func Named(name string, concurrent bool) HTTPOption {
	return func(a *HTTPAttempt) {
		a.name = name
		a.concurrent = concurrent
	}
}

func WithRecorder(m *metrics.Recorder) HTTPOption {
	return func(a *HTTPAttempt) { a.metrics = m }
}

func NewHTTPAttempt(client httpclient.Client, req *httpclient.Request, cb Callbacks, opts ...HTTPOption) *HTTPAttempt {
	a := &HTTPAttempt{client: client, req: req, cb: cb}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run performs the exchange. A second Run is ignored.
func (a *HTTPAttempt) Run(ctx context.Context) {
	if !a.ran.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	if a.cancelled.Load() {
		a.mu.Unlock()
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()
	defer a.cancel()

	req := *a.req
	req.OnSent = a.progress(a.cb.OnSent)
	req.OnReceived = a.progress(a.cb.OnReceived)

	start := time.Now()
	resp, err := a.client.Do(ctx, &req)
	result := a.decode(resp, err)
	a.metrics.RecordAttempt(ctx, a.name, a.concurrent, time.Since(start), result.Err)

	a.finish(result)
}

// Cancel aborts the exchange. No callback fires afterwards.
func (a *HTTPAttempt) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *HTTPAttempt) finish(r response.Response) {
	if a.cancelled.Load() || !a.done.CompareAndSwap(false, true) {
		return
	}
	if a.cb.OnFinish != nil {
		a.cb.OnFinish(r)
	}
}

func (a *HTTPAttempt) progress(fn func(current, total int64)) httpclient.ProgressFunc {
	if fn == nil {
		return nil
	}
	return func(current, total int64) {
		if a.cancelled.Load() || a.done.Load() {
			return
		}
		fn(current, total)
	}
}

// decode prefers an API error found in a non-2xx body over the HTTP status.
func (a *HTTPAttempt) decode(resp *httpclient.Response, err error) response.Response {
	if err == nil {
		if resp == nil {
			return response.Failure(response.ErrUnexpectedResponse)
		}
		return response.Decode(resp.Body)
	}

	if resp != nil && httpclient.KindOf(err) == httpclient.KindStatus {
		decoded := response.Decode(resp.Body)
		var apiErr *response.APIError
		if errors.As(decoded.Err, &apiErr) {
			return decoded
		}
	}
	return response.Failure(err)
}
