package authsession

import (
	"context"
	"time"
)

// ActivityEventType enumerates session audit events.
type ActivityEventType string

const (
	ActivityEventSessionRestored        ActivityEventType = "session.restored"
	ActivityEventSignup                 ActivityEventType = "session.signup"
	ActivityEventLoginSuccess           ActivityEventType = "session.login.success"
	ActivityEventLoginFailure           ActivityEventType = "session.login.failure"
	ActivityEventTwoFactorSent          ActivityEventType = "session.two_factor.sent"
	ActivityEventTwoFactorVerified      ActivityEventType = "session.two_factor.verified"
	ActivityEventTwoFactorFailure       ActivityEventType = "session.two_factor.failure"
	ActivityEventPasswordResetRequested ActivityEventType = "session.password.reset_requested"
	ActivityEventPasswordReset          ActivityEventType = "session.password.reset"
	ActivityEventEmailVerified          ActivityEventType = "session.email.verified"
	ActivityEventIdentitySignedIn       ActivityEventType = "session.identity.signed_in"
	ActivityEventLogout                 ActivityEventType = "session.logout"
	ActivityEventExpired                ActivityEventType = "session.expired"
	ActivityEventDeauthorized           ActivityEventType = "session.deauthorized"
)

// Reasons attached to deauthorizing transitions.
const (
	ReasonLogout              = "logout"
	ReasonInactivityTimeout   = "inactivity_timeout"
	ReasonIdentitySignedOut   = "identity_signed_out"
	ReasonAuthorizationDenied = "authorization_denied"
)

// ActivityEvent captures audit-friendly information about a session change.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	FromState  State
	ToState    State
	Reason     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func deauthEventType(reason string) ActivityEventType {
	switch reason {
	case ReasonLogout:
		return ActivityEventLogout
	case ReasonInactivityTimeout:
		return ActivityEventExpired
	default:
		return ActivityEventDeauthorized
	}
}
