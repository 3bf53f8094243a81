package auth

import (
	"context"
	"sync/atomic"
	"time"
)

var _ Surface = &Provider{}

// ProviderOption customizes provider construction.
type ProviderOption func(*Provider)

// WithLogger overrides the logger used by the provider and its synchronizer.
func WithLogger(logger Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func WithActivitySink(sink ActivitySink) ProviderOption {
	return func(p *Provider) {
		p.activitySink = normalizeActivitySink(sink)
	}
}

// WithRedirectURL sets the callback target sent with sign up requests.
func WithRedirectURL(url string) ProviderOption {
	return func(p *Provider) {
		p.redirectURL = url
	}
}

// WithProviderLoadingTimeout bounds how long the provider may stay loading.
func WithProviderLoadingTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		p.loadingTimeout = d
	}
}

// Provider is the lifecycle scoped holder of the auth state. It owns
// exactly one Store and one Synchronizer. Nested providers are not
// supported.
type Provider struct {
	identity       IdentityProvider
	store          *Store
	synchronizer   *Synchronizer
	logger         Logger
	activitySink   ActivitySink
	redirectURL    string
	loadingTimeout time.Duration
	mounted        atomic.Bool
}

// NewProvider returns an unmounted provider backed by identity.
func NewProvider(identity IdentityProvider, opts ...ProviderOption) *Provider {
	p := &Provider{
		identity:     identity,
		store:        NewStore(),
		logger:       defaultLogger(),
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.synchronizer = NewSynchronizer(identity, p.store,
		WithSynchronizerLogger(p.logger),
		WithSynchronizerActivitySink(p.activitySink),
		WithLoadingTimeout(p.loadingTimeout),
	)

	return p
}

// Mount starts session synchronization. A provider mounts once.
func (p *Provider) Mount(ctx context.Context) error {
	if err := p.synchronizer.Start(ctx); err != nil {
		return err
	}
	p.mounted.Store(true)
	p.logger.Debug("auth provider mounted")
	return nil
}

// Unmount tears down synchronization. Later mutator calls return
// ErrNotMounted and late provider results are discarded.
func (p *Provider) Unmount() {
	if !p.mounted.Swap(false) {
		return
	}
	p.synchronizer.Close()
	p.logger.Debug("auth provider unmounted")
}

// Mounted reports whether the provider is live.
func (p *Provider) Mounted() bool {
	return p.mounted.Load()
}

// State returns the current auth state.
func (p *Provider) State() State {
	return p.store.Snapshot()
}

// Loaded is closed once the initial loading phase is over.
func (p *Provider) Loaded() <-chan struct{} {
	return p.store.Loaded()
}

// Settled is closed once the initial session fetch has resolved.
func (p *Provider) Settled() <-chan struct{} {
	return p.synchronizer.Settled()
}

// Watch registers fn for state changes.
func (p *Provider) Watch(fn func(State)) (cancel func()) {
	return p.store.Watch(fn)
}

// SetURLAuthProcessing flags that a callback URL exchange is in progress.
func (p *Provider) SetURLAuthProcessing(processing bool) {
	if !p.mounted.Load() {
		return
	}
	if _, changed := p.store.setURLAuthProcessing(processing); changed {
		p.store.flush()
	}
}

// SignUp asks the identity provider to create an account. The resulting
// session, if any, arrives through the session stream.
func (p *Provider) SignUp(ctx context.Context, email, password string) (err error) {
	if !p.mounted.Load() {
		return ErrNotMounted
	}

	creds := Credentials{Email: email, Password: password}.Normalize()
	if verr := creds.ValidateSignUp(); verr != nil {
		return invalidCredentials(verr)
	}

	defer p.recoverProvider("sign_up", &err)

	err = p.identity.SignUp(ctx, SignUpRequest{
		Email:           creds.Email,
		Password:        creds.Password,
		EmailRedirectTo: p.redirectURL,
	})
	if err != nil {
		p.logger.Warn("SignUp provider error", "error", err)
		p.recordActivity(ctx, ActivityEventSignUpFailure, map[string]any{
			"email": creds.Email,
			"error": err.Error(),
		})
		return err
	}

	p.recordActivity(ctx, ActivityEventSignUp, map[string]any{
		"email": creds.Email,
	})
	return nil
}

// SignIn exchanges credentials with the identity provider. Local state is
// not touched; the SIGNED_IN event updates it.
func (p *Provider) SignIn(ctx context.Context, email, password string) (err error) {
	if !p.mounted.Load() {
		return ErrNotMounted
	}

	creds := Credentials{Email: email, Password: password}.Normalize()
	if verr := creds.Validate(); verr != nil {
		return invalidCredentials(verr)
	}

	defer p.recoverProvider("sign_in", &err)

	if err = p.identity.SignInWithPassword(ctx, creds.Email, creds.Password); err != nil {
		p.logger.Warn("SignIn provider error", "error", err)
		p.recordActivity(ctx, ActivityEventSignInFailure, map[string]any{
			"email": creds.Email,
			"error": err.Error(),
		})
		return err
	}

	return nil
}

// SignOut ends the provider session. The store keeps the current session
// until the SIGNED_OUT event arrives.
func (p *Provider) SignOut(ctx context.Context) (err error) {
	if !p.mounted.Load() {
		return ErrNotMounted
	}

	defer p.recoverProvider("sign_out", &err)

	userID := p.store.Snapshot().Session.UserID()
	if err = p.identity.SignOut(ctx); err != nil {
		p.logger.Error("SignOut provider error", "error", err)
		p.recordActivity(ctx, ActivityEventSignOutFailure, map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return err
	}

	p.recordActivity(ctx, ActivityEventSignOut, map[string]any{
		"user_id": userID,
	})
	return nil
}

func (p *Provider) recoverProvider(operation string, err *error) {
	if r := recover(); r != nil {
		p.logger.Error("identity provider panic", "operation", operation, "panic", r)
		*err = providerPanic(operation, r)
	}
}

func (p *Provider) recordActivity(ctx context.Context, eventType ActivityEventType, meta map[string]any) {
	actor := ActorRef{Type: "anonymous"}
	userID := ""
	if identity := p.store.Snapshot().Identity; identity != nil {
		userID = identity.ID.String()
		actor = ActorRef{ID: userID, Type: "user"}
	}

	RecordActivity(ctx, p.activitySink, p.logger, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  meta,
	})
}
