package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"sync/atomic"
	"time"

	"github.com/gaborage/vkflow/logger"
)

const (
	// DefaultTimeout is the default request timeout duration
	DefaultTimeout = 30 * time.Second

	defaultMaxPayloadLogBytes = 1024
)

type client struct {
	httpClient *nethttp.Client
	logger     logger.Logger
	config     *Config
	callCount  int64
}

// Builder provides a fluent interface for configuring the client
type Builder struct {
	config    *Config
	logger    logger.Logger
	transport nethttp.RoundTripper
}

// NewBuilder creates a new client builder. The request id interceptor is
// always installed first.
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		config: &Config{
			Timeout:             DefaultTimeout,
			RequestInterceptors: []RequestInterceptor{NewRequestIDInterceptor()},
			DefaultHeaders:      make(map[string]string),
			MaxPayloadLogBytes:  defaultMaxPayloadLogBytes,
		},
		logger: log,
	}
}

// NewClient creates a client with default configuration
func NewClient(log logger.Logger) Client {
	return NewBuilder(log).Build()
}

// WithTimeout sets the default request timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// WithPayloadLogging enables debug logging of response bodies up to maxBytes.
func (b *Builder) WithPayloadLogging(maxBytes int) *Builder {
	b.config.LogPayloads = true
	if maxBytes > 0 {
		b.config.MaxPayloadLogBytes = maxBytes
	}
	return b
}

// WithTransport overrides the underlying round tripper.
func (b *Builder) WithTransport(rt nethttp.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// Build creates the client with the configured options
func (b *Builder) Build() Client {
	return &client{
		// Per-request timeouts are applied through the context.
		httpClient: &nethttp.Client{Transport: b.transport},
		logger:     b.logger,
		config:     b.config,
	}
}

// Do performs one exchange. Non-2xx statuses return the Response together
// with a KindStatus *Error.
func (c *client) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	callCount := atomic.AddInt64(&c.callCount, 1)
	method := req.Method
	if method == "" {
		method = nethttp.MethodGet
	}

	c.logRequest(method, req)

	httpReq, err := c.buildRequest(ctx, method, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if c.isTimeout(ctx, err) {
			return nil, timeoutErr("send", timeout)
		}
		return nil, networkErr("send", err)
	}

	resp, err := c.buildResponse(ctx, start, callCount, httpReq, httpResp, req.OnReceived)
	if err != nil {
		if c.isTimeout(ctx, err) {
			return nil, timeoutErr("read body", timeout)
		}
		return nil, err
	}

	c.logResponse(resp)
	if !IsSuccessStatus(resp.StatusCode) {
		return resp, statusErr(resp.StatusCode, resp.Body)
	}
	return resp, nil
}

func (c *client) validateRequest(req *Request) error {
	if req == nil {
		return misuseErr("validate", errors.New("request cannot be nil"))
	}
	if req.URL == "" {
		return misuseErr("validate", errors.New("URL cannot be empty"))
	}
	return nil
}

func (c *client) applyHeaders(httpReq *nethttp.Request, req *Request) {
	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("Content-Type") == "" && req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
}

// buildRequest constructs an *http.Request, applies headers, and runs request interceptors.
func (c *client) buildRequest(ctx context.Context, method string, req *Request) (*nethttp.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = newProgressReader(bytes.NewReader(req.Body), int64(len(req.Body)), req.OnSent)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, misuseErr("build request", err)
	}
	if req.Body != nil {
		httpReq.ContentLength = int64(len(req.Body))
	}

	c.applyHeaders(httpReq, req)

	for _, interceptor := range c.config.RequestInterceptors {
		if err := interceptor(ctx, httpReq); err != nil {
			return nil, misuseErr("request interceptor", err)
		}
	}
	return httpReq, nil
}

// buildResponse runs response interceptors, reads body, and builds a Response.
func (c *client) buildResponse(ctx context.Context, start time.Time, callCount int64, httpReq *nethttp.Request, httpResp *nethttp.Response, onReceived ProgressFunc) (*Response, error) {
	defer httpResp.Body.Close()

	for _, interceptor := range c.config.ResponseInterceptors {
		if err := interceptor(ctx, httpReq, httpResp); err != nil {
			return nil, misuseErr("response interceptor", err)
		}
	}

	respBody, err := io.ReadAll(newProgressReader(httpResp.Body, httpResp.ContentLength, onReceived))
	if err != nil {
		return nil, networkErr("read body", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Headers:    httpResp.Header,
		Stats: Stats{
			ElapsedTime: time.Since(start),
			CallCount:   callCount,
		},
	}, nil
}

// isTimeout distinguishes our own deadline from caller cancellation.
func (c *client) isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *client) logRequest(method string, req *Request) {
	c.logger.Debug().
		Str("direction", "outbound").
		Str("method", method).
		Str("url", req.URL).
		Int("body_bytes", len(req.Body)).
		Msg("API request")
}

func (c *client) logResponse(resp *Response) {
	event := c.logger.Debug().
		Str("direction", "inbound").
		Int("status", resp.StatusCode).
		Dur("elapsed", resp.Stats.ElapsedTime).
		Int64("call_count", resp.Stats.CallCount)

	if c.config.LogPayloads && len(resp.Body) > 0 {
		body := resp.Body
		if len(body) > c.config.MaxPayloadLogBytes {
			body = body[:c.config.MaxPayloadLogBytes]
		}
		event = event.Str("body", string(body))
	}

	event.Msg("API response")
}
