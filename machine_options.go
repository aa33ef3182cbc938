package authsession

import "time"

const defaultTeardownTimeout = 10 * time.Second

// Option customizes Machine construction.
type Option func(*Machine)

// WithClock injects the time source used for the inactivity timer and for
// identity session expiry checks.
func WithClock(clock Clock) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger overrides the machine logger.
func WithLogger(logger Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLoggerProvider resolves the machine logger by name from provider.
func WithLoggerProvider(provider LoggerProvider) Option {
	return func(m *Machine) {
		if provider != nil {
			m.loggerProvider = provider
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish session events.
func WithActivitySink(sink ActivitySink) Option {
	return func(m *Machine) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithInactivityTimeout sets how long an authorized session may stay idle.
// Non-positive values keep the default.
func WithInactivityTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.inactivityTimeout = d
		}
	}
}

// WithActivitySource sets where user activity signals come from.
func WithActivitySource(source ActivitySource) Option {
	return func(m *Machine) {
		m.activitySource = source
	}
}

// WithIdentityProvider enables reconciliation with a hosted identity provider.
func WithIdentityProvider(idp IdentityProvider) Option {
	return func(m *Machine) {
		m.identity = idp
	}
}

// WithPhoneRegion sets the region used to normalize profile phone numbers.
func WithPhoneRegion(region string) Option {
	return func(m *Machine) {
		if region != "" {
			m.phoneRegion = region
		}
	}
}

// WithTeardownTimeout bounds the remote calls made when the session ends
// without a caller context (inactivity, identity sign-out).
func WithTeardownTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.teardownTimeout = d
		}
	}
}
