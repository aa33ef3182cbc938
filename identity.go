package authsession

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityEventType is the kind of identity provider notification
type IdentityEventType string

const (
	IdentitySignedIn  IdentityEventType = "SIGNED_IN"
	IdentitySignedOut IdentityEventType = "SIGNED_OUT"
)

// IdentityEvent is pushed by the identity provider when its session changes.
// Session is nil for sign-out events.
type IdentityEvent struct {
	Type    IdentityEventType
	Session *IdentitySession
}

// IdentityProvider is the hosted identity service that keeps its own session
// alongside the backend bearer token.
type IdentityProvider interface {
	GetSession(ctx context.Context) (*IdentitySession, error)
	OnAuthStateChange(fn func(IdentityEvent)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// IdentitySession is the provider's opaque session handle. ExpiresAt is zero
// when the token does not carry an expiry.
type IdentitySession struct {
	AccessToken string
	Subject     string
	ExpiresAt   time.Time
}

// NewIdentitySession builds a session from an access token. JWT tokens have
// their sub and exp claims read without verification; the provider already
// vouched for them. Opaque tokens are accepted as-is.
func NewIdentitySession(accessToken string) *IdentitySession {
	session := &IdentitySession{AccessToken: accessToken}
	if accessToken == "" {
		return session
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return session
	}

	session.Subject = claims.Subject
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}

// Live reports whether the session carries a token that has not expired at now.
func (s *IdentitySession) Live(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	if s.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(s.ExpiresAt)
}

// Clone returns a copy
func (s *IdentitySession) Clone() *IdentitySession {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
