package auth

import (
	"context"
)

// Logger is the structured logger contract used by the package. Arguments
// after the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AuthEvent names a notification emitted by the identity provider's
// session stream.
type AuthEvent string

const (
	AuthEventInitialSession   AuthEvent = "INITIAL_SESSION"
	AuthEventSignedIn         AuthEvent = "SIGNED_IN"
	AuthEventSignedOut        AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed   AuthEvent = "TOKEN_REFRESHED"
	AuthEventUserUpdated      AuthEvent = "USER_UPDATED"
	AuthEventPasswordRecovery AuthEvent = "PASSWORD_RECOVERY"
)

// AuthStateListener receives session change notifications. A nil session
// means the user is signed out.
type AuthStateListener func(event AuthEvent, session *Session)

// SignUpRequest holds the account creation parameters sent to the
// identity provider.
type SignUpRequest struct {
	Email           string
	Password        string
	EmailRedirectTo string
	Data            map[string]any
}

// IdentityProvider is the external service that issues sessions.
type IdentityProvider interface {
	// GetSession returns the provider's currently cached session, or nil.
	GetSession(ctx context.Context) (*Session, error)

	// OnAuthStateChange registers a listener for session changes and
	// returns the function that cancels the registration.
	OnAuthStateChange(listener AuthStateListener) (unsubscribe func())

	SignUp(ctx context.Context, req SignUpRequest) error
	SignInWithPassword(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
}

// Surface is the read/action view of the auth state handed to the rest of
// the application.
type Surface interface {
	State() State
	SignUp(ctx context.Context, email, password string) error
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	SetURLAuthProcessing(processing bool)
	Watch(fn func(State)) (cancel func())
}
