package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-dashboard-auth"
	"github.com/google/uuid"
)

var _ auth.IdentityProvider = &Provider{}

// Provider is a GoTrue client holding one in-memory session.
type Provider struct {
	config     Config
	httpClient *http.Client
	verifier   *TokenVerifier
	logger     auth.Logger
	now        func() time.Time

	// dispatch orders listener delivery; it is taken before mu.
	dispatch sync.Mutex

	mu         sync.Mutex
	session    *auth.Session
	generation uint64
	listeners  []listenerEntry
}

type listenerEntry struct {
	id       uuid.UUID
	listener auth.AuthStateListener
}

// New creates a provider. It fails when the token verifier cannot be built.
func New(cfg Config) (*Provider, error) {
	if _, err := cfg.authURL("", nil); err != nil {
		return nil, err
	}

	verifier, err := NewTokenVerifier(cfg)
	if err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	var logger auth.Logger = slog.Default()
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	return &Provider{
		config:     cfg,
		httpClient: client,
		verifier:   verifier,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Close releases background resources.
func (p *Provider) Close() {
	p.verifier.Close()
}

// GetSession returns the cached session. An expired session with a
// refresh token is renewed first; one that cannot be renewed is dropped.
func (p *Provider) GetSession(ctx context.Context) (*auth.Session, error) {
	session, generation := p.current()

	if session == nil || !session.Expired(p.now()) {
		return session, nil
	}

	if session.RefreshToken == "" {
		p.installIf(generation, nil, auth.AuthEventSignedOut)
		session, _ = p.current()
		return session, nil
	}

	refreshed, err := p.Refresh(ctx)
	if errors.Is(err, ErrSessionSuperseded) {
		session, _ = p.current()
		return session, nil
	}
	return refreshed, err
}

// OnAuthStateChange registers listener. The listener receives
// INITIAL_SESSION asynchronously, carrying the session current at delivery
// time, then every subsequent change. Listeners are called one at a time in
// the order sessions were installed and must not call back into mutators.
func (p *Provider) OnAuthStateChange(listener auth.AuthStateListener) func() {
	if listener == nil {
		return func() {}
	}

	id := uuid.New()
	p.mu.Lock()
	p.listeners = append(p.listeners, listenerEntry{id: id, listener: listener})
	p.mu.Unlock()

	go func() {
		p.dispatch.Lock()
		defer p.dispatch.Unlock()

		p.mu.Lock()
		live := p.hasListener(id)
		current := p.session
		p.mu.Unlock()
		if live {
			listener(auth.AuthEventInitialSession, current)
		}
	}()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, entry := range p.listeners {
			if entry.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

func (p *Provider) hasListener(id uuid.UUID) bool {
	for _, entry := range p.listeners {
		if entry.id == id {
			return true
		}
	}
	return false
}

// SignUp creates an account. When the server returns a session (email
// confirmation disabled) the provider signs in immediately.
func (p *Provider) SignUp(ctx context.Context, req auth.SignUpRequest) error {
	var query url.Values
	if req.EmailRedirectTo != "" {
		query = url.Values{"redirect_to": {req.EmailRedirectTo}}
	}

	body := map[string]any{
		"email":    req.Email,
		"password": req.Password,
	}
	if len(req.Data) > 0 {
		body["data"] = req.Data
	}

	var resp tokenResponse
	if err := p.post(ctx, "sign_up", "/signup", query, "", body, &resp); err != nil {
		return err
	}

	if resp.AccessToken == "" {
		p.logger.Info("sign up pending confirmation", "email", req.Email)
		return nil
	}

	session, err := p.sessionFromToken(resp)
	if err != nil {
		return err
	}
	p.replaceSession(session, auth.AuthEventSignedIn)
	return nil
}

// SignInWithPassword exchanges credentials for a session and emits SIGNED_IN.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) error {
	var resp tokenResponse
	err := p.post(ctx, "sign_in", "/token", url.Values{"grant_type": {"password"}}, "", map[string]any{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}

	session, err := p.sessionFromToken(resp)
	if err != nil {
		return err
	}
	p.replaceSession(session, auth.AuthEventSignedIn)
	return nil
}

// SignOut revokes the session and emits SIGNED_OUT. A session the server
// no longer knows about is cleared locally as well.
func (p *Provider) SignOut(ctx context.Context) error {
	session, _ := p.current()

	if session == nil {
		p.replaceSession(nil, auth.AuthEventSignedOut)
		return nil
	}

	err := p.post(ctx, "sign_out", "/logout", nil, session.AccessToken, nil, nil)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || (apiErr.Status != http.StatusUnauthorized && apiErr.Status != http.StatusNotFound && apiErr.Status != http.StatusForbidden) {
			return err
		}
		p.logger.Debug("sign out for unknown session", "status", apiErr.Status)
	}

	p.replaceSession(nil, auth.AuthEventSignedOut)
	return nil
}

// Refresh renews the current session and emits TOKEN_REFRESHED. When the
// session changes while the request is in flight the result is discarded
// and ErrSessionSuperseded is returned.
func (p *Provider) Refresh(ctx context.Context) (*auth.Session, error) {
	current, generation := p.current()

	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("gotrue: no session to refresh")
	}

	var resp tokenResponse
	err := p.post(ctx, "refresh", "/token", url.Values{"grant_type": {"refresh_token"}}, "", map[string]any{
		"refresh_token": current.RefreshToken,
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			p.installIf(generation, nil, auth.AuthEventSignedOut)
		}
		return nil, err
	}

	session, err := p.sessionFromToken(resp)
	if err != nil {
		return nil, err
	}
	if !p.installIf(generation, session, auth.AuthEventTokenRefreshed) {
		p.logger.Debug("refresh result discarded", "reason", "session changed")
		return nil, ErrSessionSuperseded
	}
	return session, nil
}

// ExchangeCodeForSession completes a PKCE callback and emits SIGNED_IN.
func (p *Provider) ExchangeCodeForSession(ctx context.Context, code, verifier string) (*auth.Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("gotrue: auth code is required")
	}

	_, generation := p.current()

	var resp tokenResponse
	err := p.post(ctx, "exchange", "/token", url.Values{"grant_type": {"pkce"}}, "", map[string]any{
		"auth_code":     code,
		"code_verifier": verifier,
	}, &resp)
	if err != nil {
		return nil, err
	}

	session, err := p.sessionFromToken(resp)
	if err != nil {
		return nil, err
	}
	if !p.installIf(generation, session, auth.AuthEventSignedIn) {
		return nil, ErrSessionSuperseded
	}
	return session, nil
}

// AutoRefresh renews the session shortly before it expires until ctx is
// done. Failures are logged and retried on the next tick.
func (p *Provider) AutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.needsRefresh() {
				continue
			}
			if _, err := p.Refresh(ctx); err != nil && !errors.Is(err, ErrSessionSuperseded) {
				p.logger.Warn("session refresh failed", "error", err)
			}
		}
	}
}

func (p *Provider) needsRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil || p.session.RefreshToken == "" || p.session.ExpiresAt == nil {
		return false
	}
	return p.now().Add(p.config.refreshMargin()).After(*p.session.ExpiresAt)
}

func (p *Provider) current() (*auth.Session, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.generation
}

// replaceSession installs session unconditionally and notifies listeners.
func (p *Provider) replaceSession(session *auth.Session, event auth.AuthEvent) {
	p.install(func() bool { return true }, session, event)
}

// installIf installs session only when no other session was installed since
// generation was read.
func (p *Provider) installIf(generation uint64, session *auth.Session, event auth.AuthEvent) bool {
	return p.install(func() bool { return p.generation == generation }, session, event)
}

func (p *Provider) install(allowed func() bool, session *auth.Session, event auth.AuthEvent) bool {
	p.dispatch.Lock()
	defer p.dispatch.Unlock()

	p.mu.Lock()
	if !allowed() {
		p.mu.Unlock()
		return false
	}
	p.session = session
	p.generation++
	listeners := make([]auth.AuthStateListener, 0, len(p.listeners))
	for _, entry := range p.listeners {
		listeners = append(listeners, entry.listener)
	}
	p.mu.Unlock()

	p.logger.Debug("auth state change", "event", event, "listeners", len(listeners))
	for _, l := range listeners {
		l(event, session)
	}
	return true
}

func (p *Provider) sessionFromToken(resp tokenResponse) (*auth.Session, error) {
	if resp.AccessToken == "" {
		return nil, &APIError{Operation: "session", Message: "missing access token"}
	}

	claims, err := p.verifier.Verify(resp.AccessToken)
	if err != nil {
		return nil, err
	}

	identity, err := resp.identity(claims)
	if err != nil {
		return nil, err
	}

	now := p.now()
	session := &auth.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		IssuedAt:     &now,
		User:         identity,
		Raw: map[string]any{
			"session_id": claims.SessionID,
			"aal":        claims.AAL,
		},
	}

	switch {
	case resp.ExpiresAt > 0:
		expires := time.Unix(resp.ExpiresAt, 0)
		session.ExpiresAt = &expires
	case resp.ExpiresIn > 0:
		expires := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
		session.ExpiresAt = &expires
	case claims.ExpiresAt != nil:
		expires := claims.ExpiresAt.Time
		session.ExpiresAt = &expires
	}

	return session, nil
}

func (p *Provider) post(ctx context.Context, operation, path string, query url.Values, bearer string, body any, out any) error {
	endpoint, err := p.config.authURL(path, query)
	if err != nil {
		return err
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.config.AnonKey != "" {
		req.Header.Set("apikey", p.config.AnonKey)
	}
	if bearer == "" {
		bearer = p.config.AnonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(operation, resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Operation: operation, Status: resp.StatusCode, Code: "invalid_response", Message: "failed to decode response", Err: err}
	}
	return nil
}
