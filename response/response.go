// Package response turns raw API bodies into payloads or typed errors.
package response

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnexpectedResponse is returned when an attempt finishes without a body
// or a usable error.
var ErrUnexpectedResponse = errors.New("unexpected response")

// Response is the outcome of one attempt: a payload or an error, never both.
type Response struct {
	Payload []byte
	Err     error
}

// Success wraps a payload.
func Success(payload []byte) Response { return Response{Payload: payload} }

// Failure wraps an error. A nil err becomes ErrUnexpectedResponse.
func Failure(err error) Response {
	if err == nil {
		err = ErrUnexpectedResponse
	}
	return Response{Err: err}
}

// OK reports whether the response carries a payload.
func (r Response) OK() bool { return r.Err == nil }

// APIError is a well-formed rejection from the API.
type APIError struct {
	Code    int
	Message string
	// Info merges request_params echoes and any other fields of the error object.
	Info map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d", e.Code)
	}
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Is matches another *APIError with the same code, so callers can write
// errors.Is(err, &response.APIError{Code: 5}).
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t != nil && t.Code == e.Code
}

// Field returns one Info entry.
func (e *APIError) Field(key string) (string, bool) {
	v, ok := e.Info[key]
	return v, ok && v != ""
}

// Keys lists Info keys in sorted order, for logs.
func (e *APIError) Keys() []string {
	keys := make([]string, 0, len(e.Info))
	for k := range e.Info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseError wraps a malformed body.
type ParseError struct {
	Body []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errInvalidJSON = errors.New("invalid json")

// Decode inspects an API body. An object with error.error_code or a top level
// error_code always decodes to an *APIError. Otherwise the value of "response"
// is the payload, or the whole body when that field is absent.
func Decode(body []byte) Response {
	if len(body) == 0 {
		return Failure(ErrUnexpectedResponse)
	}
	if !gjson.ValidBytes(body) {
		return Failure(&ParseError{Body: body, Err: errInvalidJSON})
	}

	root := gjson.ParseBytes(body)
	if apiErr, ok := parseAPIError(root); ok {
		return Failure(apiErr)
	}

	if resp := root.Get("response"); resp.Exists() {
		return Success([]byte(resp.Raw))
	}
	return Success(body)
}

func parseAPIError(root gjson.Result) (*APIError, bool) {
	obj := root
	if nested := root.Get("error"); nested.IsObject() && nested.Get("error_code").Exists() {
		obj = nested
	} else if !root.Get("error_code").Exists() {
		return nil, false
	}

	apiErr := &APIError{
		Code:    int(obj.Get("error_code").Int()),
		Message: obj.Get("error_msg").String(),
		Info:    make(map[string]string),
	}

	for _, param := range obj.Get("request_params").Array() {
		if key := param.Get("key").String(); key != "" {
			apiErr.Info[key] = param.Get("value").String()
		}
	}

	obj.ForEach(func(key, value gjson.Result) bool {
		switch k := key.String(); k {
		case "error_code", "error_msg", "request_params":
		default:
			apiErr.Info[k] = scalar(value)
		}
		return true
	})

	return apiErr, true
}

func scalar(v gjson.Result) string {
	if v.IsObject() || v.IsArray() {
		return strings.TrimSpace(v.Raw)
	}
	return v.String()
}
