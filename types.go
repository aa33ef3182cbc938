package authsession

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logging contract used across the module. Messages
// are constant strings and args are key/value pairs.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// AuthAPI is the unauthenticated part of the backend.
type AuthAPI interface {
	Signup(ctx context.Context, req SignupRequest) (*Result, error)
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)
	Logout(ctx context.Context) error
	ForgotPassword(ctx context.Context, email string) (*Result, error)
	ResetPassword(ctx context.Context, req ResetPasswordRequest) (*Result, error)
	VerifyEmail(ctx context.Context, token, email string) (*Result, error)
}

// TwoFactorAPI covers one-time-code dispatch and verification.
type TwoFactorAPI interface {
	SendOTP(ctx context.Context, email string) (*Result, error)
	VerifyOTP(ctx context.Context, email, code string) (*VerifyOTPResult, error)
	Status(ctx context.Context) (*TwoFactorStatus, error)
}

// UserAPI exposes the authenticated user's profile.
type UserAPI interface {
	GetProfile(ctx context.Context) (*UserProfile, error)
}

// Backend is the remote identity backend consumed by the Machine.
// Every call may fail with an error carrying an HTTP-like status code.
type Backend interface {
	AuthAPI
	TwoFactorAPI
	UserAPI
}

// TokenReader gives read-only access to the current bearer token.
type TokenReader interface {
	Get() (string, bool)
}

// Timer is a cancelable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall-clock time so timers can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock returns the real wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// ResolveLogger picks a logger for name: the provider's logger wins, then the
// explicit logger, then the default. The returned provider never yields nil.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	fallback := logger
	if fallback == nil {
		fallback = defaultLogger().GetLogger(name)
	}

	if provider == nil {
		return glog.ProviderFromLogger(fallback), fallback
	}

	resolved := provider.GetLogger(name)
	if resolved == nil {
		return fallbackProvider{provider: provider, fallback: fallback}, fallback
	}

	return fallbackProvider{provider: provider, fallback: fallback}, resolved
}

type fallbackProvider struct {
	provider LoggerProvider
	fallback Logger
}

func (p fallbackProvider) GetLogger(name string) Logger {
	if l := p.provider.GetLogger(name); l != nil {
		return l
	}
	return p.fallback
}

func defaultLogger() *glog.BaseLogger {
	return glog.NewLogger(
		glog.WithName("authsession"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

type noopLogger struct{}

func (noopLogger) Trace(string, ...any)                {}
func (noopLogger) Debug(string, ...any)                {}
func (noopLogger) Info(string, ...any)                 {}
func (noopLogger) Warn(string, ...any)                 {}
func (noopLogger) Error(string, ...any)                {}
func (noopLogger) Fatal(string, ...any)                {}
func (n noopLogger) WithContext(context.Context) Logger { return n }

// NoopLogger discards everything.
func NoopLogger() Logger {
	return noopLogger{}
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s…%s", token[:4], token[len(token)-4:])
}
