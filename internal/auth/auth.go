// Package auth supplies the current upstream access token. Tokens come from
// three sources, tried in order: the PRACTICE_AUTH_TOKEN environment
// override, the system keyring, and the local session database written by
// the desktop login flow. The token value itself is never logged.
package auth

import (
	"errors"
	"strings"
	"time"
)

// Source records where a token came from.
type Source string

const (
	SourceEnv     Source = "env-override"
	SourceKeyring Source = "keyring"
	SourceStore   Source = "store"
)

// Sentinel errors for the two auth failure modes the dispatcher reports.
var (
	ErrMissing = errors.New("no upstream access token available")
	ErrExpired = errors.New("upstream access token is expired")
)

// Token is the credential handed to the gateway. Read-only to everyone but
// this package.
type Token struct {
	Value     string
	Owner     string
	ExpiresAt time.Time
	Source    Source
}

// Expired reports whether the token carries an expiry in the past. Tokens
// without an expiry (env override, keyring) are treated as live.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(now)
}

// Provider is the credential contract the core consumes.
type Provider interface {
	// ActiveToken returns a live token, ErrExpired when only an expired
	// session exists, or ErrMissing when no source has a token at all.
	ActiveToken() (*Token, error)
}

// Redact replaces any occurrence of the token value in s, so upstream error
// bodies that echo credentials never reach logs or responses.
func Redact(s string, tok *Token) string {
	if tok == nil || tok.Value == "" {
		return s
	}
	return strings.ReplaceAll(s, tok.Value, "[redacted]")
}
