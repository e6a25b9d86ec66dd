package session

import "errors"

var (
	// ErrSessionIsDead is returned by every operation on a session after Die.
	ErrSessionIsDead = errors.New("session is dead")
	// ErrCaptchaPresenterMissing is returned when a captcha must be solved but
	// no presenter was configured.
	ErrCaptchaPresenterMissing = errors.New("captcha presenter missing")
	// ErrWebPresenterMissing is returned by WebAuthorizator without a presenter.
	ErrWebPresenterMissing = errors.New("web presenter missing")
	// ErrCantKillDefaultSession is returned by Manager.Kill for the default session.
	ErrCantKillDefaultSession = errors.New("can't kill default session")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAuthorizationDenied means the user declined or dismissed the login page.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrAuthorizationFailed means the login page reported a failure or returned
	// no usable token.
	ErrAuthorizationFailed = errors.New("authorization failed")
)
