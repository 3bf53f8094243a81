package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-dashboard-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type fetchResult struct {
	session *auth.Session
	err     error
}

// fakeIdentityProvider lets tests decide when the one-shot fetch resolves
// and when stream events fire. Mutators are recorded through mock.Mock.
type fakeIdentityProvider struct {
	mock.Mock

	mu           sync.Mutex
	listeners    map[int]auth.AuthStateListener
	next         int
	unsubscribed int
	fetches      chan fetchResult
}

func newFakeIdentityProvider() *fakeIdentityProvider {
	return &fakeIdentityProvider{
		listeners: map[int]auth.AuthStateListener{},
		fetches:   make(chan fetchResult, 1),
	}
}

func (f *fakeIdentityProvider) GetSession(ctx context.Context) (*auth.Session, error) {
	select {
	case r := <-f.fetches:
		return r.session, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeIdentityProvider) resolveFetch(session *auth.Session, err error) {
	f.fetches <- fetchResult{session: session, err: err}
}

func (f *fakeIdentityProvider) OnAuthStateChange(listener auth.AuthStateListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	f.listeners[id] = listener

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.listeners[id]; ok {
			delete(f.listeners, id)
			f.unsubscribed++
		}
	}
}

func (f *fakeIdentityProvider) emit(event auth.AuthEvent, session *auth.Session) {
	f.mu.Lock()
	listeners := make([]auth.AuthStateListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(event, session)
	}
}

func (f *fakeIdentityProvider) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeIdentityProvider) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

func (f *fakeIdentityProvider) SignUp(ctx context.Context, req auth.SignUpRequest) error {
	args := f.Called(ctx, req)
	return args.Error(0)
}

func (f *fakeIdentityProvider) SignInWithPassword(ctx context.Context, email, password string) error {
	args := f.Called(ctx, email, password)
	return args.Error(0)
}

func (f *fakeIdentityProvider) SignOut(ctx context.Context) error {
	args := f.Called(ctx)
	return args.Error(0)
}

type panickingIdentityProvider struct {
	*fakeIdentityProvider
}

func (panickingIdentityProvider) SignInWithPassword(context.Context, string, string) error {
	panic("boom")
}

func newSession(email string) *auth.Session {
	expires := time.Now().Add(time.Hour)
	return &auth.Session{
		AccessToken: uuid.NewString(),
		TokenType:   "bearer",
		ExpiresAt:   &expires,
		User: &auth.Identity{
			ID:    uuid.New(),
			Email: email,
		},
	}
}

func waitClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}
