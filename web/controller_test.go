package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-dashboard-auth"
	"github.com/goliatone/go-dashboard-auth/activitymap"
	"github.com/goliatone/go-dashboard-auth/repository"
	"github.com/goliatone/go-dashboard-auth/syncop"
	"github.com/goliatone/go-dashboard-auth/web"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityStub signs in synchronously and broadcasts the resulting event.
type identityStub struct {
	mu         sync.Mutex
	listener   auth.AuthStateListener
	signInErr  error
	signOutErr error
}

func (s *identityStub) GetSession(context.Context) (*auth.Session, error) {
	return nil, nil
}

func (s *identityStub) OnAuthStateChange(listener auth.AuthStateListener) func() {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.listener = nil
		s.mu.Unlock()
	}
}

func (s *identityStub) emit(event auth.AuthEvent, session *auth.Session) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(event, session)
	}
}

func (s *identityStub) SignUp(context.Context, auth.SignUpRequest) error {
	return nil
}

func (s *identityStub) SignInWithPassword(_ context.Context, email, _ string) error {
	if s.signInErr != nil {
		return s.signInErr
	}
	s.emit(auth.AuthEventSignedIn, &auth.Session{
		AccessToken: "token",
		User:        &auth.Identity{ID: uuid.New(), Email: email},
	})
	return nil
}

func (s *identityStub) SignOut(context.Context) error {
	if s.signOutErr != nil {
		return s.signOutErr
	}
	s.emit(auth.AuthEventSignedOut, nil)
	return nil
}

type exchangerStub struct {
	surface    auth.Surface
	processing []bool
	code       string
	verifier   string
	err        error
}

func (e *exchangerStub) ExchangeCodeForSession(_ context.Context, code, verifier string) (*auth.Session, error) {
	e.processing = append(e.processing, e.surface.State().URLAuthProcessing)
	e.code, e.verifier = code, verifier
	return nil, e.err
}

type invokerStub struct {
	mu       sync.Mutex
	response string
	err      error
	gate     chan struct{}
	entered  chan struct{}
	calls    int
}

func (i *invokerStub) Invoke(ctx context.Context, _ string, _ any, out any) error {
	i.mu.Lock()
	i.calls++
	response, err, gate, entered := i.response, i.err, i.gate, i.entered
	i.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(response), out)
}

func (i *invokerStub) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

func (i *invokerStub) setResponse(response string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.response = response
}

func (i *invokerStub) hold() func() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.gate = make(chan struct{})
	i.entered = make(chan struct{}, 1)
	gate := i.gate
	return func() { close(gate) }
}

type harness struct {
	app       *fiber.App
	ctrl      *web.Controller
	provider  *auth.Provider
	identity  *identityStub
	exchanger *exchangerStub
	locations *invokerStub
	export    *invokerStub
	recorder  *syncop.Recorder

	mu       sync.Mutex
	operator string
}

func newApp(t *testing.T) (router.Server[*fiber.App], *fiber.App) {
	t.Helper()

	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = router.DefaultFiberOptions(fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}))
		return app
	})
	require.NotNil(t, app)
	return srv, app
}

func newHarness(t *testing.T, opts ...web.ControllerOption) *harness {
	t.Helper()

	h := &harness{
		identity:  &identityStub{},
		locations: &invokerStub{response: `{"locationsFetched":3,"locationsCreated":2,"locationsUpdated":1}`},
		export:    &invokerStub{response: `{"success":true,"gcpPath":"gs://exports/report.csv"}`},
		recorder:  syncop.NewRecorder(10),
	}

	h.provider = auth.NewProvider(h.identity)
	require.NoError(t, h.provider.Mount(context.Background()))
	t.Cleanup(h.provider.Unmount)

	h.exchanger = &exchangerStub{surface: h.provider}

	reg := prometheus.NewRegistry()
	metrics := syncop.NewMetrics(reg)

	locations := syncop.New(
		syncop.NewLocationImport(h.locations),
		syncop.WithNotifier(h.recorder),
		syncop.WithMetrics(metrics),
	)

	srv, app := newApp(t)
	h.app = app

	base := []web.ControllerOption{
		web.WithSurface(h.provider),
		web.WithCodeExchanger(h.exchanger),
		web.WithLocationImport(locations, "tenant-1"),
		web.WithExportFactory(func(req syncop.StorageExportRequest) *syncop.Controller {
			return syncop.New(
				syncop.NewStorageExport(h.export, req),
				syncop.WithNotifier(h.recorder),
				syncop.WithMetrics(metrics),
			)
		}),
		web.WithNotifications(h.recorder),
		web.WithGatherer(reg),
	}

	h.ctrl = web.RegisterRoutes(srv.Router(), append(base, opts...)...)
	t.Cleanup(h.ctrl.Close)
	return h
}

// request performs a call carrying the operator cookie, if any, and keeps
// the cookie the server sets.
func (h *harness) request(method, target, body string, headers ...string) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	h.mu.Lock()
	if h.operator != "" {
		req.AddCookie(&http.Cookie{Name: web.OperatorCookie, Value: h.operator})
	}
	h.mu.Unlock()

	resp, err := h.app.Test(req, -1)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	for _, cookie := range resp.Cookies() {
		if cookie.Name == web.OperatorCookie {
			h.mu.Lock()
			h.operator = cookie.Value
			h.mu.Unlock()
		}
	}

	raw, err := io.ReadAll(resp.Body)
	return resp, raw, err
}

func (h *harness) do(t *testing.T, method, target, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()

	resp, raw, err := h.request(method, target, body, headers...)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (h *harness) decode(t *testing.T, target string, out any) {
	t.Helper()

	resp, raw, err := h.request(http.MethodGet, target, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	require.NoError(t, json.Unmarshal(raw, out))
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()

	resp, _ := h.do(t, http.MethodPost, "/auth/sign-in", `{"email":"user@example.com","password":"secret"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.operator)
}

func (h *harness) forgetOperator() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.operator = ""
}

func TestStateBeforeSignIn(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/auth/state", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["identity"])
	assert.Equal(t, false, body["url_auth_processing"])
}

func TestSignInAndOut(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/auth/sign-in", `{"email":"user@example.com","password":"secret"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	identity, ok := body["identity"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user@example.com", identity["email"])

	resp, body = h.do(t, http.MethodPost, "/auth/sign-out", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["identity"])
	assert.False(t, h.provider.State().Authenticated())

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.operator)
}

func TestSignInProviderErrorIsVerbatim(t *testing.T) {
	h := newHarness(t)
	h.identity.signInErr = errors.New("Invalid login credentials")

	resp, body := h.do(t, http.MethodPost, "/auth/sign-in", `{"email":"user@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid login credentials", body["error"])
}

func TestSignInInvalidCredentials(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/auth/sign-in", `{"email":"nope","password":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, auth.TextCodeInvalidCredentials, body["text_code"])
}

func TestSignOutFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	h.identity.signOutErr = errors.New("network unreachable")
	resp, body := h.do(t, http.MethodPost, "/auth/sign-out", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "network unreachable", body["error"])
	assert.True(t, h.provider.State().Authenticated())
}

func TestAnonymousCallerIsRefused(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/sync/locations?tenant=tenant-1", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, web.TextCodeNotOperator, body["text_code"])

	// another client while the operator is signed in
	h.signIn(t)
	h.forgetOperator()

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodPost, "/sync/locations?tenant=tenant-1", ""},
		{http.MethodPost, "/sync/export", `{"fileName":"a.csv"}`},
		{http.MethodGet, "/sync/notifications", ""},
		{http.MethodGet, "/sync/status", ""},
		{http.MethodPost, "/auth/sign-out", ""},
	} {
		resp, _ := h.do(t, tc.method, tc.target, tc.body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, tc.target)
	}

	assert.Equal(t, 0, h.locations.callCount())
	assert.Equal(t, 0, h.export.callCount())
	assert.Empty(t, h.recorder.List())
	assert.True(t, h.provider.State().Authenticated())

	_, body = h.do(t, http.MethodGet, "/auth/state", "")
	assert.Nil(t, body["identity"])
}

func TestBearerAccessTokenAuthorizes(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.forgetOperator()

	resp, _ := h.do(t, http.MethodPost, "/sync/locations?tenant=tenant-1", "", "Authorization", "Bearer token")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/sync/locations?tenant=tenant-1", "", "Authorization", "Bearer forged")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallbackMarksURLAuthProcessing(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/auth/callback?code=abc&code_verifier=xyz", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, []bool{true}, h.exchanger.processing)
	assert.Equal(t, "abc", h.exchanger.code)
	assert.Equal(t, "xyz", h.exchanger.verifier)
	assert.False(t, h.provider.State().URLAuthProcessing)
}

func TestCallbackWithoutCode(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/auth/callback", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := h.do(t, http.MethodGet, "/auth/callback?error_description=Email+link+is+invalid", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Email link is invalid", body["error"])
	assert.Empty(t, h.exchanger.processing)
}

func TestLocationsAvailability(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(t, http.MethodGet, "/sync/locations/available?tenant=tenant-1", "")
	assert.Equal(t, true, body["enabled"])

	_, body = h.do(t, http.MethodGet, "/sync/locations/available?tenant=other", "")
	assert.Equal(t, false, body["enabled"])

	h.signIn(t)
	resp, _ := h.do(t, http.MethodPost, "/sync/locations?tenant=other", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggerLocations(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	resp, body := h.do(t, http.MethodPost, "/sync/locations?tenant=tenant-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Fetched 3 locations: 2 created, 1 updated", body["summary"])
	assert.Equal(t, syncop.KindSucceeded, body["kind"])

	notes := h.recorder.List()
	require.Len(t, notes, 1)
	assert.Equal(t, syncop.LevelSuccess, notes[0].Level)
}

func TestTriggerLocationsWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	release := h.locations.hold()

	require.True(t, h.ctrl.Locations.Go(context.Background()))
	<-h.locations.entered

	resp, body := h.do(t, http.MethodPost, "/sync/locations?tenant=tenant-1", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, syncop.KindPreconditionUnmet, body["kind"])
	assert.Equal(t, "sync already in progress", body["error"])

	release()
	h.ctrl.Locations.Wait()
}

func TestTriggerExport(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	resp, body := h.do(t, http.MethodPost, "/sync/export", `{"fileName":"report.csv"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Synced to gs://exports/report.csv", body["summary"])

	h.export.setResponse(`{"success":false,"error":"Bucket not found"}`)
	resp, body = h.do(t, http.MethodPost, "/sync/export", `{"fileName":"report.csv"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Bucket not found", body["error"])
}

func TestTriggerExportMissingFileName(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	resp, body := h.do(t, http.MethodPost, "/sync/export", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, syncop.KindPreconditionUnmet, body["kind"])

	notes := h.recorder.List()
	require.Len(t, notes, 1)
	assert.Equal(t, syncop.LevelFailure, notes[0].Level)

	// rejected requests do not keep a controller
	var status []map[string]any
	h.decode(t, "/sync/status", &status)
	require.Len(t, status, 1)
	assert.Equal(t, syncop.OperationLocationImport, status[0]["operation"])
}

func TestExportDefaultBucketSharesController(t *testing.T) {
	h := newHarness(t, web.WithDefaultExportBucket("exports"))
	h.signIn(t)
	release := h.export.hold()

	first := make(chan int, 1)
	go func() {
		resp, _, err := h.request(http.MethodPost, "/sync/export", `{"fileName":"a.csv"}`)
		if err != nil {
			first <- 0
			return
		}
		first <- resp.StatusCode
	}()
	<-h.export.entered

	resp, body := h.do(t, http.MethodPost, "/sync/export", `{"fileName":"a.csv","bucketName":"exports"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, syncop.KindPreconditionUnmet, body["kind"])
	assert.Equal(t, 1, h.export.callCount())

	release()
	assert.Equal(t, http.StatusOK, <-first)

	var status []map[string]any
	h.decode(t, "/sync/status", &status)
	require.Len(t, status, 2)
	assert.Equal(t, "exports/a.csv", status[1]["key"])
	last, ok := status[1]["last"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, syncop.KindSucceeded, last["kind"])
	rejected, ok := status[1]["last_rejected"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sync already in progress", rejected["error"])
}

func TestExportLimitEvictsIdleControllers(t *testing.T) {
	h := newHarness(t, web.WithExportLimit(2))
	h.signIn(t)

	for _, name := range []string{"a.csv", "b.csv", "c.csv"} {
		resp, _ := h.do(t, http.MethodPost, "/sync/export", `{"fileName":"`+name+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, name)
	}

	var status []map[string]any
	h.decode(t, "/sync/status", &status)
	require.Len(t, status, 3)
	assert.Equal(t, "/b.csv", status[1]["key"])
	assert.Equal(t, "/c.csv", status[2]["key"])
}

func TestExportLimitRefusesWhenAllInFlight(t *testing.T) {
	h := newHarness(t, web.WithExportLimit(1))
	h.signIn(t)
	release := h.export.hold()

	first := make(chan int, 1)
	go func() {
		resp, _, err := h.request(http.MethodPost, "/sync/export", `{"fileName":"a.csv"}`)
		if err != nil {
			first <- 0
			return
		}
		first <- resp.StatusCode
	}()
	<-h.export.entered

	resp, body := h.do(t, http.MethodPost, "/sync/export", `{"fileName":"b.csv"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, web.TextCodeExportsBusy, body["text_code"])

	release()
	assert.Equal(t, http.StatusOK, <-first)
	assert.Equal(t, 1, h.export.callCount())
}

func TestNotificationsAndStatus(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.do(t, http.MethodPost, "/sync/export", `{"fileName":"a.csv"}`)
	h.do(t, http.MethodPost, "/sync/export", `{"fileName":"b.csv"}`)

	var notes []syncop.Notification
	h.decode(t, "/sync/notifications", &notes)
	require.Len(t, notes, 2)
	assert.Equal(t, "Synced to gs://exports/report.csv", notes[0].Message)

	var status []map[string]any
	h.decode(t, "/sync/status", &status)
	assert.Len(t, status, 3)

	resp, _ := h.do(t, http.MethodGet, "/sync/notifications?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.do(t, http.MethodPost, "/sync/export", `{"fileName":"a.csv"}`)

	resp, raw, err := h.request(http.MethodGet, "/metrics", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `dashboard_sync_total{operation="storage_export",outcome="succeeded"} 1`)
}

type activityStub struct {
	filter repository.ActivityFilter
}

func (a *activityStub) List(_ context.Context, filter repository.ActivityFilter) ([]activitymap.Normalized, error) {
	a.filter = filter
	return []activitymap.Normalized{{ActorID: "user-1", Verb: "sync.succeeded", Channel: activitymap.ChannelSync}}, nil
}

func TestListActivity(t *testing.T) {
	lister := &activityStub{}
	h := newHarness(t, web.WithActivity(lister))

	resp, _ := h.do(t, http.MethodGet, "/activity", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.signIn(t)

	var records []activitymap.Normalized
	h.decode(t, "/activity?channel=sync&limit=5", &records)
	require.Len(t, records, 1)
	assert.Equal(t, "sync.succeeded", records[0].Verb)
	assert.Equal(t, "sync", lister.filter.Channel)
	assert.Equal(t, 5, lister.filter.Limit)
}
