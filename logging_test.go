package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goliatone/go-dashboard-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) find(level, message string) (logCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c.level == level && c.message == message {
			return c, true
		}
	}
	return logCall{}, false
}

func argValue(args []any, key string) any {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == key {
			return args[i+1]
		}
	}
	return nil
}

func TestSignOutFailureLoggedAtError(t *testing.T) {
	providerErr := errors.New("network unreachable")
	identity := newFakeIdentityProvider()
	identity.On("SignOut", mock.Anything).Return(providerErr).Once()

	logger := &captureLogger{}
	p := mountProvider(t, identity, auth.WithLogger(logger))

	require.Error(t, p.SignOut(context.Background()))

	call, ok := logger.find("error", "SignOut provider error")
	require.True(t, ok)
	assert.Same(t, providerErr, argValue(call.args, "error"))
}

func TestSignInFailureLoggedAtWarn(t *testing.T) {
	identity := newFakeIdentityProvider()
	identity.On("SignInWithPassword", mock.Anything, "user@example.com", "wrong-pass").
		Return(errors.New("Invalid login credentials")).Once()

	logger := &captureLogger{}
	p := mountProvider(t, identity, auth.WithLogger(logger))

	require.Error(t, p.SignIn(context.Background(), "user@example.com", "wrong-pass"))

	_, ok := logger.find("warn", "SignIn provider error")
	assert.True(t, ok)
}

func TestActivitySinkErrorIsLoggedNotReturned(t *testing.T) {
	logger := &captureLogger{}
	sink := auth.ActivitySinkFunc(func(context.Context, auth.ActivityEvent) error {
		return errors.New("disk full")
	})

	auth.RecordActivity(context.Background(), sink, logger, auth.ActivityEvent{
		EventType: auth.ActivityEventSignOut,
	})

	call, ok := logger.find("warn", "activity sink error")
	require.True(t, ok)
	assert.Equal(t, auth.ActivityEventSignOut, argValue(call.args, "event"))
}
