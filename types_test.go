package authsession_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/require"

	authsession "github.com/goliatone/go-authsession"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Trace(message string, args ...any) { l.record("trace", message, args...) }
func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }
func (l *captureLogger) Fatal(message string, args ...any) { l.record("fatal", message, args...) }
func (l *captureLogger) WithContext(context.Context) authsession.Logger {
	return l
}

type loggerProviderSpy struct {
	byName map[string]authsession.Logger
}

func (p *loggerProviderSpy) GetLogger(name string) authsession.Logger {
	return p.byName[name]
}

func TestResolveLoggerDefaults(t *testing.T) {
	provider, logger := authsession.ResolveLogger("authsession.test", nil, nil)
	require.NotNil(t, provider)
	require.NotNil(t, logger)
	require.NotNil(t, provider.GetLogger("authsession.test"))
}

func TestResolveLoggerUsesGlogProvider(t *testing.T) {
	capture := &captureLogger{}
	provider := glog.ProviderFromLogger(capture)

	resolvedProvider, logger := authsession.ResolveLogger("authsession.test", provider, nil)
	require.NotNil(t, resolvedProvider)

	logger.Info("resolved", "key", "value")
	require.Len(t, capture.calls, 1)
	require.Equal(t, "info", capture.calls[0].level)
	require.Equal(t, "resolved", capture.calls[0].message)
	require.Contains(t, capture.calls[0].args, "value")
}

func TestResolveLoggerFallsBackWhenProviderHasNoLogger(t *testing.T) {
	fallback := &captureLogger{}
	spy := &loggerProviderSpy{byName: map[string]authsession.Logger{"authsession.test": nil}}

	provider, logger := authsession.ResolveLogger("authsession.test", spy, fallback)
	require.Same(t, fallback, logger)
	require.Same(t, fallback, provider.GetLogger("authsession.test"))
	require.Same(t, fallback, provider.GetLogger("unknown"))
}

func TestResolveLoggerWithoutProviderKeepsExplicitLogger(t *testing.T) {
	explicit := &captureLogger{}

	provider, logger := authsession.ResolveLogger("authsession.test", nil, explicit)
	require.Same(t, explicit, logger)

	provider.GetLogger("anything").Warn("through provider")
	require.Len(t, explicit.calls, 1)
	require.Equal(t, "warn", explicit.calls[0].level)
}

func TestMachineLogsThroughProvider(t *testing.T) {
	capture := &captureLogger{}
	spy := &loggerProviderSpy{byName: map[string]authsession.Logger{"authsession.machine": capture}}

	backend := &MockBackend{}
	h := newHarness(t, backend, authsession.WithLoggerProvider(spy))
	require.NoError(t, h.machine.Init(context.Background()))

	require.NotEmpty(t, capture.calls)
	require.Equal(t, "debug", capture.calls[0].level)
	require.Equal(t, "no persisted token, session starts unauthenticated", capture.calls[0].message)
}
