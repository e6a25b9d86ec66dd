// Package wire converts logical requests into HTTP requests for the API.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/gaborage/vkflow/httpclient"
	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/token"
)

// ErrCantBuildURL is returned when no valid URL can be produced for a request.
var ErrCantBuildURL = errors.New("can't build url")

// Injected parameter names.
const (
	ParamAccessToken = "access_token"
	ParamVersion     = "v"
	ParamLanguage    = "lang"
	ParamHTTPS       = "https"
	ParamCaptchaSID  = "captcha_sid"
	ParamCaptchaKey  = "captcha_key"
)

const (
	contentTypeForm   = "application/x-www-form-urlencoded"
	defaultMediaField = "file"
)

// CaptchaAnswer is a solved captcha attached to the next send only.
type CaptchaAnswer struct {
	SID string
	Key string
}

// Builder builds HTTP requests for the configured API host.
type Builder struct {
	host     *url.URL
	version  string
	language string
}

// NewBuilder parses host (e.g. "https://api.vk.com/method/").
func NewBuilder(host, version, language string) (*Builder, error) {
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid api host %q", ErrCantBuildURL, host)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &Builder{host: u, version: version, language: language}, nil
}

// Build produces the HTTP request for raw. API calls get the token, version,
// language and captcha answer injected; URL fetches and uploads are sent as is.
func (b *Builder) Build(raw request.Raw, cfg request.Config, captcha *CaptchaAnswer, tok *token.Token) (*httpclient.Request, error) {
	switch raw.Kind() {
	case request.KindAPI:
		return b.buildAPI(raw, cfg, captcha, tok)
	case request.KindURL:
		target, err := absolute(raw.Target())
		if err != nil {
			return nil, err
		}
		return &httpclient.Request{Method: request.MethodGet, URL: target, Timeout: cfg.Timeout}, nil
	case request.KindUpload:
		return b.buildUpload(raw, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown request kind %d", ErrCantBuildURL, raw.Kind())
	}
}

func (b *Builder) buildAPI(raw request.Raw, cfg request.Config, captcha *CaptchaAnswer, tok *token.Token) (*httpclient.Request, error) {
	method := raw.Method()
	if method == "" || strings.ContainsAny(method, "/?# ") {
		return nil, fmt.Errorf("%w: invalid method %q", ErrCantBuildURL, method)
	}

	values := url.Values{}
	for k, v := range raw.Params() {
		values.Set(k, v)
	}
	if tok != nil && tok.Value != "" {
		values.Set(ParamAccessToken, tok.Value)
	}
	if b.version != "" {
		values.Set(ParamVersion, b.version)
	}
	lang := cfg.Language
	if lang == "" {
		lang = b.language
	}
	if lang != "" {
		values.Set(ParamLanguage, lang)
	}
	values.Set(ParamHTTPS, "1")
	if captcha != nil {
		values.Set(ParamCaptchaSID, captcha.SID)
		values.Set(ParamCaptchaKey, captcha.Key)
	}

	target := b.host.JoinPath(method)
	req := &httpclient.Request{Method: cfg.HTTPMethod, Timeout: cfg.Timeout}
	if req.Method == request.MethodPost {
		req.URL = target.String()
		req.Body = []byte(values.Encode())
		req.Headers = map[string]string{"Content-Type": contentTypeForm}
		return req, nil
	}

	req.Method = request.MethodGet
	target.RawQuery = values.Encode()
	req.URL = target.String()
	return req, nil
}

func (b *Builder) buildUpload(raw request.Raw, cfg request.Config) (*httpclient.Request, error) {
	target, err := absolute(raw.Target())
	if err != nil {
		return nil, err
	}
	media := raw.Media()
	if len(media) == 0 {
		return nil, fmt.Errorf("%w: upload without media", ErrCantBuildURL)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, m := range media {
		field := m.Field
		if field == "" {
			field = defaultMediaField
			if len(media) > 1 {
				field = fmt.Sprintf("%s%d", defaultMediaField, i+1)
			}
		}
		filename := m.Filename
		if filename == "" {
			filename = field
		}
		contentType := m.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field), escapeQuotes(filename)))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("build multipart: %w", err)
		}
		if _, err := part.Write(m.Data); err != nil {
			return nil, fmt.Errorf("build multipart: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	return &httpclient.Request{
		Method:  request.MethodPost,
		URL:     target,
		Body:    body.Bytes(),
		Headers: map[string]string{"Content-Type": mw.FormDataContentType()},
		Timeout: cfg.Timeout,
	}, nil
}

func absolute(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrCantBuildURL, raw)
	}
	return u.String(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
