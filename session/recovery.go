package session

import (
	"context"
	"errors"
	"time"

	"github.com/gaborage/vkflow/token"
)

// Reauthorize drops the rejected token and runs the authorizator again.
// Concurrent callers share one authorization.
func (s *Session) Reauthorize(ctx context.Context) error {
	return s.shared(ctx, "reauthorize", s.webTimeout, func(ctx context.Context) error {
		s.mu.Lock()
		s.tok = nil
		if s.state == Authorized {
			s.state = Initiated
		}
		s.mu.Unlock()

		if err := s.deps.Storage.Remove(ctx, s.key); err != nil && !errors.Is(err, token.ErrNotFound) {
			s.log.Warn().Err(err).Msg("Failed to remove rejected token")
		}
		return s.authorize(ctx)
	})
}

// ValidateRedirect presents redirectURI through the authorizator. Concurrent
// callers for the same URI share one validation.
func (s *Session) ValidateRedirect(ctx context.Context, redirectURI string) error {
	return s.shared(ctx, "validate:"+redirectURI, s.webTimeout, func(ctx context.Context) error {
		return s.authorizator().Validate(ctx, redirectURI)
	})
}

// SolveCaptcha asks the captcha presenter for an answer. Only one captcha is
// on screen per session at a time.
func (s *Session) SolveCaptcha(ctx context.Context, sid, imageURL string) (string, error) {
	if s.State() == Dead {
		return "", ErrSessionIsDead
	}
	if s.deps.Captcha == nil {
		return "", ErrCaptchaPresenterMissing
	}

	select {
	case s.captcha <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.captcha }()

	cctx, cancel := context.WithTimeout(ctx, s.captchaTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.log.Info().Str("captcha_sid", sid).Msg("Captcha needed")
	return s.deps.Captcha.Present(cctx, sid, imageURL)
}

// shared runs fn once per key across concurrent callers. fn runs under the
// session context bounded by timeout; each caller stops waiting when its own
// ctx is done.
func (s *Session) shared(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) error) error {
	if s.State() == Dead {
		return ErrSessionIsDead
	}

	ch := s.flights.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		return nil, fn(fctx)
	})

	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
