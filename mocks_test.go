package authsession_test

import (
	"context"
	"sync"
	"testing"
	"time"

	authsession "github.com/goliatone/go-authsession"
	"github.com/goliatone/go-authsession/authtest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBackend implements authsession.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Signup(ctx context.Context, req authsession.SignupRequest) (*authsession.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*authsession.Result)
	return res, args.Error(1)
}

func (m *MockBackend) Login(ctx context.Context, creds authsession.Credentials) (*authsession.LoginResult, error) {
	args := m.Called(ctx, creds)
	res, _ := args.Get(0).(*authsession.LoginResult)
	return res, args.Error(1)
}

func (m *MockBackend) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) ForgotPassword(ctx context.Context, email string) (*authsession.Result, error) {
	args := m.Called(ctx, email)
	res, _ := args.Get(0).(*authsession.Result)
	return res, args.Error(1)
}

func (m *MockBackend) ResetPassword(ctx context.Context, req authsession.ResetPasswordRequest) (*authsession.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*authsession.Result)
	return res, args.Error(1)
}

func (m *MockBackend) VerifyEmail(ctx context.Context, token, email string) (*authsession.Result, error) {
	args := m.Called(ctx, token, email)
	res, _ := args.Get(0).(*authsession.Result)
	return res, args.Error(1)
}

func (m *MockBackend) SendOTP(ctx context.Context, email string) (*authsession.Result, error) {
	args := m.Called(ctx, email)
	res, _ := args.Get(0).(*authsession.Result)
	return res, args.Error(1)
}

func (m *MockBackend) VerifyOTP(ctx context.Context, email, code string) (*authsession.VerifyOTPResult, error) {
	args := m.Called(ctx, email, code)
	res, _ := args.Get(0).(*authsession.VerifyOTPResult)
	return res, args.Error(1)
}

func (m *MockBackend) Status(ctx context.Context) (*authsession.TwoFactorStatus, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*authsession.TwoFactorStatus)
	return res, args.Error(1)
}

func (m *MockBackend) GetProfile(ctx context.Context) (*authsession.UserProfile, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*authsession.UserProfile)
	return res, args.Error(1)
}

// recordingSink keeps every activity event
type recordingSink struct {
	mu     sync.Mutex
	events []authsession.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event authsession.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []authsession.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]authsession.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) all(eventType authsession.ActivityEventType) []authsession.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []authsession.ActivityEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) last(eventType authsession.ActivityEventType) (authsession.ActivityEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EventType == eventType {
			return s.events[i], true
		}
	}
	return authsession.ActivityEvent{}, false
}

// countingLogger counts warnings
type countingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *countingLogger) Trace(string, ...any) {}
func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *countingLogger) Error(string, ...any)                         {}
func (l *countingLogger) Fatal(string, ...any)                         {}
func (l *countingLogger) WithContext(context.Context) authsession.Logger { return l }

func (l *countingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type harness struct {
	machine *authsession.Machine
	store   *authsession.MemoryTokenStore
	clock   *authtest.ManualClock
	bus     *authtest.ActivityBus
	sink    *recordingSink

	mu         sync.Mutex
	violations []string
}

// newHarness builds a machine over backend with a manual clock, an activity
// bus and a recording sink, resolves startup with an empty store and
// watches the session invariants on every published snapshot.
func newHarness(t *testing.T, backend authsession.Backend, opts ...authsession.Option) *harness {
	t.Helper()

	h := &harness{
		store: authsession.NewMemoryTokenStore(),
		clock: authtest.NewManualClock(epoch),
		bus:   authtest.NewActivityBus(),
		sink:  &recordingSink{},
	}

	base := []authsession.Option{
		authsession.WithClock(h.clock),
		authsession.WithActivitySource(h.bus),
		authsession.WithActivitySink(h.sink),
		authsession.WithLogger(authsession.NoopLogger()),
	}
	h.machine = authsession.New(backend, h.store, append(base, opts...)...)
	h.machine.Subscribe(h.check)
	t.Cleanup(h.machine.Close)
	t.Cleanup(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		require.Empty(t, h.violations, "session invariants violated")
	})
	return h
}

func (h *harness) check(s authsession.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.TwoFactorRequired && s.User != nil {
		h.violations = append(h.violations, "user present while second factor pending")
	}
	if s.User != nil {
		if _, ok := h.store.Get(); !ok {
			h.violations = append(h.violations, "user present without a token")
		}
	}
	if s.TwoFactorRequired != (s.State == authsession.StateAwaitingTwoFactor) {
		h.violations = append(h.violations, "two factor flag out of sync with state")
	}
}

func (h *harness) token() string {
	token, _ := h.store.Get()
	return token
}
