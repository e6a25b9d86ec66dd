// Package request describes logical API calls: what to send, with which
// settings, and which follow-up requests to derive from each result.
package request

import (
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid request config")
	// ErrMissingUploadURL means the upload server response carried no upload_url.
	ErrMissingUploadURL = errors.New("upload server response has no upload_url")
)

// Continuation derives the next request from the decoded payload of the
// previous step. A returned error terminates the call.
type Continuation func(payload []byte) (*Request, error)

// Request is one logical call. A zero Config is replaced by the session
// defaults when the request is sent. Sending never modifies a Request, so one
// value can be sent repeatedly and from several sessions at once.
type Request struct {
	Raw    Raw
	Config Config

	nexts     []Continuation
	overrides []Option
}

// New returns a Request for raw with the given config.
func New(raw Raw, cfg Config) *Request {
	return &Request{Raw: raw, Config: cfg}
}

// Next appends a continuation and returns r for chaining. Continuations run in
// the order they were added.
func (r *Request) Next(fn Continuation) *Request {
	if fn != nil {
		r.nexts = append(r.nexts, fn)
	}
	return r
}

// Override records options applied on top of the config the request is sent
// with, including one inherited from the session or from the previous step.
func (r *Request) Override(opts ...Option) *Request {
	r.overrides = append(r.overrides, opts...)
	return r
}

// Resolve returns a copy of r whose Config is r.Config, or defaults when
// r.Config is zero, with the overrides applied. r is left untouched.
func (r *Request) Resolve(defaults Config) *Request {
	cp := &Request{Raw: r.Raw, Config: r.Config, nexts: r.Continuations()}
	if cp.Config.IsZero() {
		cp.Config = defaults
	}
	cp.Config = cp.Config.Mutated(r.overrides...)
	return cp
}

// Continuations returns a copy of the pending continuations in run order.
func (r *Request) Continuations() []Continuation {
	return append([]Continuation(nil), r.nexts...)
}

// UploadChain builds the usual three step upload: getServer must return an
// object with upload_url; media is posted there with uploadTimeout on top of
// the getServer config, and save turns the upload result into the final request.
func UploadChain(getServer *Request, media []Media, uploadTimeout time.Duration, save Continuation) *Request {
	return getServer.Next(func(payload []byte) (*Request, error) {
		target := gjson.GetBytes(payload, "upload_url").String()
		if target == "" {
			return nil, ErrMissingUploadURL
		}
		upload := New(Upload(target, media...), getServer.Config)
		if uploadTimeout > 0 {
			upload.Override(WithTimeout(uploadTimeout))
		}
		return upload.Next(save), nil
	})
}
