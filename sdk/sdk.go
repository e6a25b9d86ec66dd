// Package sdk wires a ready to use session manager from config.Config.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gaborage/vkflow/attempt"
	"github.com/gaborage/vkflow/config"
	"github.com/gaborage/vkflow/httpclient"
	"github.com/gaborage/vkflow/logger"
	"github.com/gaborage/vkflow/metrics"
	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/session"
	"github.com/gaborage/vkflow/token"
	"github.com/gaborage/vkflow/wire"
)

// DefaultSessionID names the session created at startup.
const DefaultSessionID = "default"

type options struct {
	logger        logger.Logger
	client        httpclient.Client
	storage       token.Storage
	authorizator  session.Authorizator
	captcha       session.CaptchaPresenter
	web           session.WebPresenter
	metricsWriter io.Writer
}

// Option overrides a dependency that would otherwise be built from config.
type Option func(*options)

func WithLogger(l logger.Logger) Option { return func(o *options) { o.logger = l } }

func WithClient(c httpclient.Client) Option { return func(o *options) { o.client = c } }

func WithStorage(s token.Storage) Option { return func(o *options) { o.storage = s } }

// WithAuthorizator replaces the web authorizator built from auth.url.
func WithAuthorizator(a session.Authorizator) Option {
	return func(o *options) { o.authorizator = a }
}

func WithCaptchaPresenter(p session.CaptchaPresenter) Option {
	return func(o *options) { o.captcha = p }
}

func WithWebPresenter(p session.WebPresenter) Option { return func(o *options) { o.web = p } }

// WithMetricsWriter sets where the stdout exporter writes. Defaults to os.Stdout.
func WithMetricsWriter(w io.Writer) Option { return func(o *options) { o.metricsWriter = w } }

// SDK owns everything built from the configuration.
type SDK struct {
	Config   *config.Config
	Logger   logger.Logger
	Factory  *session.Factory
	Sessions *session.Manager

	closers []func(context.Context) error
}

// New builds the SDK. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*SDK, error) {
	if cfg == nil {
		return nil, errors.New("sdk: nil config")
	}
	o := options{metricsWriter: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	s := &SDK{Config: cfg, Logger: o.logger}
	if s.Logger == nil {
		s.Logger = logger.New(cfg.Log.Level, cfg.Log.Pretty)
	}
	s.Logger = s.Logger.WithFields(map[string]any{"app": cfg.App.Name})

	recorder := metrics.Noop()
	if cfg.Metrics.Enabled {
		provider, err := metrics.NewStdoutProvider(o.metricsWriter, cfg.Metrics.Interval)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, provider.Shutdown)
		recorder = metrics.New(provider)
	}

	client := o.client
	if client == nil {
		client = httpclient.NewBuilder(s.Logger).WithTimeout(cfg.Request.Timeout).Build()
	}

	builder, err := wire.NewBuilder(cfg.API.Host, cfg.API.Version, cfg.API.Language)
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	storage := o.storage
	if storage == nil {
		st, closer, err := NewStorage(ctx, cfg.Token.Store)
		if err != nil {
			return nil, s.abort(ctx, err)
		}
		storage = st
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
	}

	authz := o.authorizator
	if authz == nil {
		authz = session.NewWebAuthorizator(cfg.Auth.URL, o.web)
	}

	s.Factory, err = session.NewFactory(session.Dependencies{
		AppID:        cfg.App.ID,
		Client:       client,
		Builder:      builder,
		Authorizator: authz,
		Captcha:      o.captcha,
		Storage:      storage,
		Logger:       s.Logger,
		Metrics:      recorder,
		Window:       cfg.Scheduler.Window,
	})
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	s.Sessions, err = session.NewManager(s.Factory, session.ManagerOptions{
		Default:       SessionOptions(cfg, DefaultSessionID),
		SweepInterval: cfg.Session.Sweep.Interval,
	})
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	s.Logger.Info().
		Str("api_host", cfg.API.Host).
		Str("api_version", cfg.API.Version).
		Str("token_store", cfg.Token.Store.Type).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("SDK initialized")
	return s, nil
}

// Default returns the default session.
func (s *SDK) Default() *session.Session { return s.Sessions.Default() }

// Close kills every session and releases storage and metrics.
func (s *SDK) Close(ctx context.Context) error {
	if s.Sessions != nil {
		s.Sessions.Shutdown()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *SDK) abort(ctx context.Context, err error) error {
	if cerr := s.Close(ctx); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// SessionOptions builds session options from cfg.
func SessionOptions(cfg *config.Config, id string) session.Options {
	return session.Options{
		ID:             id,
		Config:         RequestConfig(cfg),
		Limit:          attempt.Limited(cfg.Scheduler.Limit),
		CaptchaTimeout: cfg.Recovery.CaptchaTimeout,
		WebTimeout:     cfg.Recovery.WebTimeout,
	}
}

// RequestConfig is the request.Config described by cfg.Request.
func RequestConfig(cfg *config.Config) request.Config {
	return request.Config{
		Timeout:     cfg.Request.Timeout,
		MaxAttempts: cfg.Request.MaxAttempts,
		HTTPMethod:  cfg.Request.Method,
		CatchErrors: cfg.Request.CatchErrors,
		RetryDelay:  cfg.Request.RetryDelay,
		Language:    cfg.API.Language,
	}
}

func wrapStoreErr(kind string, err error) error {
	return fmt.Errorf("failed to open %s token store: %w", kind, err)
}
