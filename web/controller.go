// Package web exposes the auth surface and the sync controllers over HTTP.
package web

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	auth "github.com/goliatone/go-dashboard-auth"
	"github.com/goliatone/go-dashboard-auth/activitymap"
	"github.com/goliatone/go-dashboard-auth/repository"
	"github.com/goliatone/go-dashboard-auth/syncop"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// CodeExchanger completes a callback URL sign in.
type CodeExchanger interface {
	ExchangeCodeForSession(ctx context.Context, code, verifier string) (*auth.Session, error)
}

// ActivityLister reads recorded activity.
type ActivityLister interface {
	List(ctx context.Context, filter repository.ActivityFilter) ([]activitymap.Normalized, error)
}

// ExportFactory builds the controller that owns exports of one file. The
// request it receives already carries the default bucket.
type ExportFactory func(req syncop.StorageExportRequest) *syncop.Controller

type Routes struct {
	State         string
	SignIn        string
	SignUp        string
	SignOut       string
	Callback      string
	AfterCallback string
	Locations     string
	Export        string
	Notifications string
	Status        string
	Metrics       string
	Activity      string
}

type Controller struct {
	Logger          auth.Logger
	Surface         auth.Surface
	Exchanger       CodeExchanger
	Locations       *syncop.Controller
	LocationsTenant string
	NewExport       ExportFactory
	DefaultBucket   string
	Notifications   *syncop.Recorder
	Gatherer        prometheus.Gatherer
	Activity        ActivityLister
	SecureCookies   bool
	Routes          *Routes

	exports  *exportRegistry
	operator *operatorGrant
}

type ControllerOption func(*Controller) *Controller

func WithLogger(logger auth.Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithSurface(surface auth.Surface) ControllerOption {
	return func(c *Controller) *Controller {
		if surface != nil {
			c.Surface = surface
		}
		return c
	}
}

func WithCodeExchanger(exchanger CodeExchanger) ControllerOption {
	return func(c *Controller) *Controller {
		c.Exchanger = exchanger
		return c
	}
}

// WithLocationImport wires the location import controller. tenant is the
// only tenant allowed to trigger it; empty disables the import.
func WithLocationImport(ctrl *syncop.Controller, tenant string) ControllerOption {
	return func(c *Controller) *Controller {
		c.Locations = ctrl
		c.LocationsTenant = tenant
		return c
	}
}

func WithExportFactory(factory ExportFactory) ControllerOption {
	return func(c *Controller) *Controller {
		c.NewExport = factory
		return c
	}
}

// WithDefaultExportBucket sets the bucket used when a request names none.
func WithDefaultExportBucket(bucket string) ControllerOption {
	return func(c *Controller) *Controller {
		c.DefaultBucket = strings.TrimSpace(bucket)
		return c
	}
}

// WithExportLimit bounds how many export targets keep a controller. Idle
// controllers are evicted first when the limit is reached.
func WithExportLimit(limit int) ControllerOption {
	return func(c *Controller) *Controller {
		if limit > 0 {
			c.exports.limit = limit
		}
		return c
	}
}

func WithNotifications(recorder *syncop.Recorder) ControllerOption {
	return func(c *Controller) *Controller {
		c.Notifications = recorder
		return c
	}
}

func WithGatherer(gatherer prometheus.Gatherer) ControllerOption {
	return func(c *Controller) *Controller {
		c.Gatherer = gatherer
		return c
	}
}

func WithActivity(lister ActivityLister) ControllerOption {
	return func(c *Controller) *Controller {
		c.Activity = lister
		return c
	}
}

// WithSecureCookies controls the Secure flag of cookies the controller sets.
func WithSecureCookies(secure bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.SecureCookies = secure
		return c
	}
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:        slog.Default(),
		Surface:       auth.InertSurface(),
		SecureCookies: true,
		exports:       newExportRegistry(defaultExportLimit),
		operator:      &operatorGrant{},
		Routes: &Routes{
			State:         "/auth/state",
			SignIn:        "/auth/sign-in",
			SignUp:        "/auth/sign-up",
			SignOut:       "/auth/sign-out",
			Callback:      "/auth/callback",
			AfterCallback: "/",
			Locations:     "/sync/locations",
			Export:        "/sync/export",
			Notifications: "/sync/notifications",
			Status:        "/sync/status",
			Metrics:       "/metrics",
			Activity:      "/activity",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Notifications == nil {
		c.Notifications = syncop.NewRecorder(0)
	}

	return c
}

// RegisterRoutes mounts every endpoint on app and returns the controller so
// the caller can Close it on shutdown. Sync endpoints, sign out and the
// activity feed require the signed in operator.
func RegisterRoutes[T any](app router.Router[T], opts ...ControllerOption) *Controller {
	c := NewController(opts...)

	surface := SurfaceMiddleware(c.Surface)
	operator := c.RequireOperator()

	app.Get(c.Routes.State, c.State, surface).SetName("auth.state")
	app.Post(c.Routes.SignIn, c.SignIn, surface).SetName("auth.sign-in")
	app.Post(c.Routes.SignUp, c.SignUp, surface).SetName("auth.sign-up")
	app.Post(c.Routes.SignOut, c.SignOut, surface, operator).SetName("auth.sign-out")
	app.Get(c.Routes.Callback, c.Callback, surface).SetName("auth.callback")

	app.Get(c.Routes.Locations+"/available", c.LocationsAvailable, surface).SetName("sync.locations.available")
	app.Post(c.Routes.Locations, c.TriggerLocations, surface, operator).SetName("sync.locations")
	app.Post(c.Routes.Export, c.TriggerExport, surface, operator).SetName("sync.export")
	app.Get(c.Routes.Notifications, c.ListNotifications, surface, operator).SetName("sync.notifications")
	app.Get(c.Routes.Status, c.SyncStatus, surface, operator).SetName("sync.status")

	if c.Activity != nil {
		app.Get(c.Routes.Activity, c.ListActivity, surface, operator).SetName("activity")
	}

	if c.Gatherer != nil {
		app.Get(c.Routes.Metrics, c.Metrics).SetName("metrics")
	}

	return c
}

// SurfaceMiddleware makes the auth surface available to handlers through
// the request context.
func SurfaceMiddleware(surface auth.Surface) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			ctx.SetContext(auth.WithSurface(ctx.Context(), surface))
			return next(ctx)
		}
	}
}

// Close tears down every sync controller. Results of calls still in flight
// are discarded.
func (c *Controller) Close() {
	if c.Locations != nil {
		c.Locations.Close()
	}
	c.exports.close()
}

func (c *Controller) surface(ctx router.Context) auth.Surface {
	if auth.HasSurface(ctx.Context()) {
		return auth.FromContext(ctx.Context())
	}
	return c.Surface
}

// State reports the auth state. Callers that are not the signed in operator
// only see the loading flags.
func (c *Controller) State(ctx router.Context) error {
	state := c.surface(ctx).State()
	if !c.authorized(ctx) {
		state = auth.State{Loading: state.Loading, URLAuthProcessing: state.URLAuthProcessing}
	}
	return ctx.JSON(http.StatusOK, state)
}

func (c *Controller) SignIn(ctx router.Context) error {
	var payload auth.Credentials
	if err := ctx.Bind(&payload); err != nil {
		return c.writeError(ctx, badRequest(err), http.StatusBadRequest)
	}

	surface := c.surface(ctx)
	if err := surface.SignIn(ctx.Context(), payload.Email, payload.Password); err != nil {
		return c.writeError(ctx, err, http.StatusUnauthorized)
	}

	state := surface.State()
	c.grantOperator(ctx, state)
	return ctx.JSON(http.StatusOK, state)
}

func (c *Controller) SignUp(ctx router.Context) error {
	var payload auth.Credentials
	if err := ctx.Bind(&payload); err != nil {
		return c.writeError(ctx, badRequest(err), http.StatusBadRequest)
	}

	surface := c.surface(ctx)
	if err := surface.SignUp(ctx.Context(), payload.Email, payload.Password); err != nil {
		return c.writeError(ctx, err, http.StatusBadRequest)
	}

	state := surface.State()
	c.grantOperator(ctx, state)
	return ctx.JSON(http.StatusAccepted, state)
}

func (c *Controller) SignOut(ctx router.Context) error {
	surface := c.surface(ctx)
	if err := surface.SignOut(ctx.Context()); err != nil {
		return c.writeError(ctx, err, http.StatusBadGateway)
	}

	c.revokeOperator(ctx)
	return ctx.JSON(http.StatusOK, surface.State())
}

// Callback completes a sign in started by an emailed link. The surface
// reports URL auth processing for the duration of the exchange.
func (c *Controller) Callback(ctx router.Context) error {
	code := strings.TrimSpace(ctx.Query("code", ""))
	if code == "" {
		if desc := ctx.Query("error_description", ""); desc != "" {
			return c.writeError(ctx, unauthorized(desc), http.StatusUnauthorized)
		}
		return c.writeError(ctx, badRequest(errMissingCode), http.StatusBadRequest)
	}

	if c.Exchanger == nil {
		return c.writeError(ctx, errNoExchanger, http.StatusNotImplemented)
	}

	verifier := ctx.Query("code_verifier", "")
	if verifier == "" {
		verifier = ctx.Cookies(codeVerifierCookie)
	}

	surface := c.surface(ctx)
	surface.SetURLAuthProcessing(true)
	defer surface.SetURLAuthProcessing(false)

	if _, err := c.Exchanger.ExchangeCodeForSession(ctx.Context(), code, verifier); err != nil {
		return c.writeError(ctx, err, http.StatusUnauthorized)
	}

	c.deleteCookie(ctx, codeVerifierCookie)
	c.grantOperator(ctx, surface.State())
	return ctx.Redirect(c.Routes.AfterCallback, http.StatusFound)
}

func (c *Controller) LocationsAvailable(ctx router.Context) error {
	enabled := c.Locations != nil && syncop.LocationImportEnabled(ctx.Query("tenant", ""), c.LocationsTenant)
	return ctx.JSON(http.StatusOK, map[string]any{"enabled": enabled})
}

func (c *Controller) TriggerLocations(ctx router.Context) error {
	if c.Locations == nil {
		return c.writeError(ctx, errSyncDisabled, http.StatusNotFound)
	}
	if !syncop.LocationImportEnabled(ctx.Query("tenant", ""), c.LocationsTenant) {
		return c.writeError(ctx, errSyncDisabled, http.StatusNotFound)
	}
	return c.writeOutcome(ctx, c.Locations.Trigger(ctx.Context()))
}

func (c *Controller) TriggerExport(ctx router.Context) error {
	if c.NewExport == nil {
		return c.writeError(ctx, errSyncDisabled, http.StatusNotFound)
	}

	var req syncop.StorageExportRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.Bind(&req); err != nil {
			return c.writeError(ctx, badRequest(err), http.StatusBadRequest)
		}
	}

	req.BucketName = strings.TrimSpace(req.BucketName)
	if req.BucketName == "" {
		req.BucketName = c.DefaultBucket
	}

	// invalid requests are rejected by a throwaway controller so the
	// failure is still notified, but nothing is kept for them
	if err := req.Validate(); err != nil {
		ctrl := c.NewExport(req)
		defer ctrl.Close()
		return c.writeOutcome(ctx, ctrl.Trigger(ctx.Context()))
	}

	ctrl, ok := c.exports.acquire(exportKey(req), func() *syncop.Controller {
		return c.NewExport(req)
	})
	if !ok {
		return c.writeError(ctx, errExportsBusy, http.StatusServiceUnavailable)
	}
	return c.writeOutcome(ctx, ctrl.Trigger(ctx.Context()))
}

func (c *Controller) ListNotifications(ctx router.Context) error {
	if raw := ctx.Query("since", ""); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.writeError(ctx, badRequest(err), http.StatusBadRequest)
		}
		return ctx.JSON(http.StatusOK, c.Notifications.Since(since))
	}
	return ctx.JSON(http.StatusOK, c.Notifications.List())
}

type statusEntry struct {
	Operation string        `json:"operation"`
	Key       string        `json:"key,omitempty"`
	Phase     string        `json:"phase"`
	Last      *outcomeEntry `json:"last,omitempty"`
	Rejected  *outcomeEntry `json:"last_rejected,omitempty"`
}

func (c *Controller) SyncStatus(ctx router.Context) error {
	entries := []statusEntry{}
	if c.Locations != nil {
		entries = append(entries, statusFor("", c.Locations))
	}

	c.exports.each(func(key string, ctrl *syncop.Controller) {
		entries = append(entries, statusFor(key, ctrl))
	})

	return ctx.JSON(http.StatusOK, entries)
}

func statusFor(key string, ctrl *syncop.Controller) statusEntry {
	entry := statusEntry{
		Operation: ctrl.Operation(),
		Key:       key,
		Phase:     ctrl.Phase().String(),
	}
	if last, ok := ctrl.LastOutcome(); ok {
		o := newOutcomeEntry(last)
		entry.Last = &o
	}
	if rejected, ok := ctrl.LastRejection(); ok {
		o := newOutcomeEntry(rejected)
		entry.Rejected = &o
	}
	return entry
}

func (c *Controller) ListActivity(ctx router.Context) error {
	filter := repository.ActivityFilter{
		Channel:  ctx.Query("channel", ""),
		ObjectID: ctx.Query("object", ""),
		ActorID:  ctx.Query("actor", ""),
		Limit:    ctx.QueryInt("limit", 0),
	}
	if raw := ctx.Query("since", ""); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.writeError(ctx, badRequest(err), http.StatusBadRequest)
		}
		filter.Since = since
	}

	records, err := c.Activity.List(ctx.Context(), filter)
	if err != nil {
		return c.writeError(ctx, err, http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, records)
}

// Metrics writes the gathered collectors in the prometheus text format.
func (c *Controller) Metrics(ctx router.Context) error {
	families, err := c.Gatherer.Gather()
	if err != nil {
		return c.writeError(ctx, err, http.StatusInternalServerError)
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return c.writeError(ctx, err, http.StatusInternalServerError)
		}
	}

	ctx.SetHeader("Content-Type", string(format))
	return ctx.Send(buf.Bytes())
}
