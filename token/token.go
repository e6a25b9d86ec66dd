// Package token holds the access token record and the storages that persist
// it between process runs.
package token

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrNotFound is returned by Storage.Load when no token is stored under a key.
var ErrNotFound = errors.New("token not found")

// Token is an access token plus its expiry and auxiliary info (user_id, email
// and other fields returned by authorization).
type Token struct {
	Value     string            `cbor:"token"`
	ExpiresAt time.Time         `cbor:"expires_at"`
	Info      map[string]string `cbor:"info,omitempty"`
}

// New returns a token that expires expiresIn from now. expiresIn <= 0 means
// the token never expires.
func New(value string, expiresIn time.Duration, info map[string]string) *Token {
	t := &Token{Value: value, Info: maps.Clone(info)}
	if expiresIn > 0 {
		t.ExpiresAt = time.Now().Add(expiresIn).UTC().Truncate(time.Second)
	}
	return t
}

// Expired reports whether the token is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Clone returns a deep copy.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	return &Token{Value: t.Value, ExpiresAt: t.ExpiresAt, Info: maps.Clone(t.Info)}
}

// Get returns an Info entry.
func (t *Token) Get(key string) string {
	if t == nil {
		return ""
	}
	return t.Info[key]
}

// Storage persists tokens by key.
type Storage interface {
	Save(ctx context.Context, key string, tok *Token) error
	Load(ctx context.Context, key string) (*Token, error)
	Remove(ctx context.Context, key string) error
}

// Key builds the storage key for a session of an application.
func Key(appID, sessionID string) string {
	return appID + ":" + sessionID
}
