package request

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// HTTP methods accepted by Config.HTTPMethod.
const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
)

var validate = validator.New()

// Config is an immutable set of per-call settings. Derive variants with
// Mutated. MaxAttempts 0 means unlimited.
type Config struct {
	Timeout     time.Duration `validate:"gt=0"`
	MaxAttempts int           `validate:"gte=0"`
	HTTPMethod  string        `validate:"oneof=GET POST"`
	CatchErrors bool
	RetryDelay  time.Duration `validate:"gte=0"`
	// Language overrides the session locale when set.
	Language string
}

// DefaultConfig returns the library defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     defaultTimeout,
		MaxAttempts: defaultMaxAttempts,
		HTTPMethod:  MethodGet,
		CatchErrors: true,
	}
}

// IsZero reports whether c was never set.
func (c Config) IsZero() bool {
	return c == Config{}
}

// Option modifies a Config copy.
type Option func(*Config)

func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

func WithMaxAttempts(n int) Option { return func(c *Config) { c.MaxAttempts = n } }

func WithHTTPMethod(m string) Option {
	return func(c *Config) { c.HTTPMethod = strings.ToUpper(m) }
}

func WithCatchErrors(on bool) Option { return func(c *Config) { c.CatchErrors = on } }

func WithRetryDelay(d time.Duration) Option { return func(c *Config) { c.RetryDelay = d } }

func WithLanguage(lang string) Option { return func(c *Config) { c.Language = lang } }

// Mutated returns a copy of c with opts applied. c itself is left untouched.
func (c Config) Mutated(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Validate checks field ranges.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}
