package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPresenter struct {
	redirect string
	err      error
	seen     string
}

func (p *staticPresenter) Present(_ context.Context, pageURL string) (string, error) {
	p.seen = pageURL
	return p.redirect, p.err
}

func TestWebAuthorizatorAuthorize(t *testing.T) {
	const authURL = "https://oauth.example.com/authorize?client_id=1"

	tests := []struct {
		name     string
		redirect string
		wantErr  error
		check    func(t *testing.T, value string, info map[string]string, expires time.Time)
	}{
		{
			name:     "token_with_expiry",
			redirect: "https://oauth.example.com/blank.html#access_token=abc&expires_in=3600&user_id=42",
			check: func(t *testing.T, value string, info map[string]string, expires time.Time) {
				assert.Equal(t, "abc", value)
				assert.Equal(t, map[string]string{"user_id": "42"}, info)
				assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)
			},
		},
		{
			name:     "never_expiring",
			redirect: "https://oauth.example.com/blank.html#access_token=abc&expires_in=0",
			check: func(t *testing.T, value string, _ map[string]string, expires time.Time) {
				assert.Equal(t, "abc", value)
				assert.True(t, expires.IsZero())
			},
		},
		{name: "denied", redirect: "https://oauth.example.com/blank.html#error=access_denied&error_reason=user_denied", wantErr: ErrAuthorizationDenied},
		{name: "cancelled", redirect: "https://oauth.example.com/blank.html#cancel=1", wantErr: ErrAuthorizationDenied},
		{name: "failed", redirect: "https://oauth.example.com/blank.html#fail=1", wantErr: ErrAuthorizationFailed},
		{name: "other_error", redirect: "https://oauth.example.com/blank.html#error=invalid_request", wantErr: ErrAuthorizationFailed},
		{name: "no_token", redirect: "https://oauth.example.com/blank.html#state=x", wantErr: ErrAuthorizationFailed},
		{name: "bad_expiry", redirect: "https://oauth.example.com/blank.html#access_token=abc&expires_in=soon", wantErr: ErrAuthorizationFailed},
		{name: "query_fallback", redirect: "https://oauth.example.com/blank.html?access_token=q", check: func(t *testing.T, value string, _ map[string]string, _ time.Time) {
			assert.Equal(t, "q", value)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &staticPresenter{redirect: tt.redirect}
			tok, err := NewWebAuthorizator(authURL, p).Authorize(context.Background())
			assert.Equal(t, authURL, p.seen)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, tok.Value, tok.Info, tok.ExpiresAt)
		})
	}
}

func TestWebAuthorizatorErrors(t *testing.T) {
	_, err := NewWebAuthorizator("https://oauth.example.com", nil).Authorize(context.Background())
	assert.ErrorIs(t, err, ErrWebPresenterMissing)

	_, err = NewWebAuthorizator("", &staticPresenter{}).Authorize(context.Background())
	assert.ErrorIs(t, err, ErrAuthorizationFailed)

	dismissed := errors.New("dismissed")
	_, err = NewWebAuthorizator("https://oauth.example.com", &staticPresenter{err: dismissed}).Authorize(context.Background())
	assert.ErrorIs(t, err, dismissed)

	assert.ErrorIs(t, NewWebAuthorizator("", nil).Validate(context.Background(), "https://m.example.com"), ErrWebPresenterMissing)
}

func TestWebAuthorizatorValidate(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		wantErr  error
	}{
		{name: "success", redirect: "https://oauth.example.com/blank.html#success=1"},
		{name: "new_token", redirect: "https://oauth.example.com/blank.html#access_token=abc"},
		{name: "cancel", redirect: "https://oauth.example.com/blank.html#cancel=1", wantErr: ErrAuthorizationDenied},
		{name: "fail", redirect: "https://oauth.example.com/blank.html#fail=1", wantErr: ErrAuthorizationFailed},
		{name: "nothing", redirect: "https://oauth.example.com/blank.html", wantErr: ErrAuthorizationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &staticPresenter{redirect: tt.redirect}
			err := NewWebAuthorizator("", p).Validate(context.Background(), "https://m.example.com/check")
			assert.Equal(t, "https://m.example.com/check", p.seen)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthorizeWith(t *testing.T) {
	tok, err := NewWebAuthorizator("", nil).AuthorizeWith(context.Background(), "raw", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "raw", tok.Value)
	assert.False(t, tok.ExpiresAt.IsZero())

	_, err = NewWebAuthorizator("", nil).AuthorizeWith(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrAuthorizationFailed)
}
