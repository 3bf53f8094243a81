package syncop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-dashboard-auth"
	"github.com/google/uuid"
)

// Phase is the lifecycle state of a controller.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseInFlight
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInFlight:
		return "in_flight"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the successful output of an operation.
type Result struct {
	Summary string
	Data    map[string]any
}

// Operation is one remote sync call.
type Operation interface {
	// Name identifies the operation in notifications and metrics.
	Name() string
	// Validate checks required parameters. A non-nil error rejects the
	// trigger without contacting the proxy.
	Validate() error
	// Run performs the proxy call. Returning an *ApplicationError marks a
	// domain failure; any other error is a transport failure.
	Run(ctx context.Context) (Result, error)
}

// Outcome describes how a trigger ended.
type Outcome struct {
	Operation string
	Phase     Phase
	Kind      string
	Summary   string
	Err       error
	Duration  time.Duration
	// Dropped is set when the result arrived after Close and nothing was emitted.
	Dropped bool
}

// Succeeded reports whether the trigger completed successfully.
func (o Outcome) Succeeded() bool {
	return o.Phase == PhaseSucceeded && o.Err == nil
}

// Option customizes a Controller.
type Option func(*Controller)

// WithNotifier sets where notifications are delivered.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithOnSuccess registers a callback invoked only after a successful run.
func WithOnSuccess(fn func(ctx context.Context, result Result)) Option {
	return func(c *Controller) {
		c.onSuccess = fn
	}
}

// WithLogger overrides the controller logger.
func WithLogger(logger auth.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithActivitySink records sync.succeeded and sync.failed events.
func WithActivitySink(sink auth.ActivitySink) Option {
	return func(c *Controller) {
		c.activitySink = sink
	}
}

// WithTimeout bounds each proxy call. Zero leaves the caller context as is.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// Controller runs a single Operation with a single-flight guard. Triggers
// while a call is outstanding are rejected, not queued.
type Controller struct {
	op           Operation
	notifier     Notifier
	onSuccess    func(ctx context.Context, result Result)
	logger       auth.Logger
	metrics      *Metrics
	activitySink auth.ActivitySink
	timeout      time.Duration
	now          func() time.Time

	phase  atomic.Int32
	closed atomic.Bool
	last   atomic.Pointer[Outcome]
	reject atomic.Pointer[Outcome]
	wg     sync.WaitGroup
}

// New returns an idle controller for op.
func New(op Operation, opts ...Option) *Controller {
	c := &Controller{
		op:       op,
		notifier: noopNotifier{},
		logger:   defaultLogger(),
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// Operation returns the wrapped operation name.
func (c *Controller) Operation() string {
	return c.op.Name()
}

// LastOutcome returns the outcome of the most recent trigger that ran.
// Rejected triggers never replace it.
func (c *Controller) LastOutcome() (Outcome, bool) {
	return loadOutcome(&c.last)
}

// LastRejection returns the most recent trigger rejected before running.
func (c *Controller) LastRejection() (Outcome, bool) {
	return loadOutcome(&c.reject)
}

func loadOutcome(p *atomic.Pointer[Outcome]) (Outcome, bool) {
	o := p.Load()
	if o == nil {
		return Outcome{}, false
	}
	return *o, true
}

// Trigger runs the operation and blocks until it resolves. Exactly one
// notification is emitted unless the controller was closed meanwhile.
func (c *Controller) Trigger(ctx context.Context) Outcome {
	if outcome, ok := c.begin(ctx); !ok {
		return outcome
	}
	return c.run(ctx)
}

// Go starts the operation in the background. It reports whether the
// trigger was accepted; a rejected trigger has already been notified.
func (c *Controller) Go(ctx context.Context) bool {
	if _, ok := c.begin(ctx); !ok {
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return true
}

// Wait blocks until triggers started with Go have resolved.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close marks the controller as torn down. Calls still in flight are
// allowed to finish but their results are discarded.
func (c *Controller) Close() {
	c.closed.Store(true)
}

// begin runs the precondition check and claims the in flight slot.
func (c *Controller) begin(ctx context.Context) (Outcome, bool) {
	name := c.op.Name()

	if c.closed.Load() {
		return Outcome{Operation: name, Phase: c.Phase(), Kind: KindPreconditionUnmet, Err: ErrClosed, Dropped: true}, false
	}

	if err := c.op.Validate(); err != nil {
		return c.rejectTrigger(ctx, preconditionUnmet(name, err)), false
	}

	for {
		cur := c.phase.Load()
		if Phase(cur) == PhaseInFlight {
			return c.rejectTrigger(ctx, preconditionUnmet(name, errAlreadyInFlight)), false
		}
		if c.phase.CompareAndSwap(cur, int32(PhaseInFlight)) {
			return Outcome{}, true
		}
	}
}

func (c *Controller) rejectTrigger(ctx context.Context, err error) Outcome {
	outcome := Outcome{
		Operation: c.op.Name(),
		Phase:     PhaseFailed,
		Kind:      KindPreconditionUnmet,
		Err:       err,
	}
	c.logger.Debug("sync trigger rejected", "operation", outcome.Operation, "error", err)
	c.metrics.outcome(outcome.Operation, outcome.Kind)
	o := outcome
	c.reject.Store(&o)
	c.emit(ctx, outcome)
	return outcome
}

func (c *Controller) run(ctx context.Context) Outcome {
	name := c.op.Name()
	final := PhaseInFlight
	defer func() {
		// a newer trigger may already own the slot
		c.phase.CompareAndSwap(int32(final), int32(PhaseIdle))
	}()

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.metrics.started(name)
	start := c.now()
	result, err := c.op.Run(runCtx)
	elapsed := c.now().Sub(start)
	c.metrics.finished(name, elapsed)

	outcome := Outcome{
		Operation: name,
		Kind:      Kind(err),
		Duration:  elapsed,
		Err:       err,
	}

	if c.closed.Load() {
		outcome.Dropped = true
		outcome.Phase = PhaseFailed
		if err == nil {
			outcome.Phase = PhaseSucceeded
		}
		c.logger.Debug("sync result after teardown discarded", "operation", name, "kind", outcome.Kind)
		return outcome
	}

	if err != nil {
		outcome.Phase = PhaseFailed
		final = PhaseFailed
		c.phase.Store(int32(final))
		c.logger.Warn("sync failed", "operation", name, "kind", outcome.Kind, "error", err)
	} else {
		outcome.Phase = PhaseSucceeded
		outcome.Summary = result.Summary
		final = PhaseSucceeded
		c.phase.Store(int32(final))
		c.logger.Info("sync succeeded", "operation", name, "summary", result.Summary, "duration", elapsed)
	}

	c.metrics.outcome(name, outcome.Kind)
	o := outcome
	c.last.Store(&o)
	c.emit(ctx, outcome)

	if err == nil && c.onSuccess != nil {
		c.onSuccess(ctx, result)
	}

	return outcome
}

func (c *Controller) emit(ctx context.Context, outcome Outcome) {
	n := Notification{
		ID:         uuid.New(),
		Operation:  outcome.Operation,
		Kind:       outcome.Kind,
		OccurredAt: c.now(),
	}
	if outcome.Err != nil {
		n.Level = LevelFailure
		n.Message = Message(outcome.Err)
	} else {
		n.Level = LevelSuccess
		n.Message = outcome.Summary
	}
	c.notifier.Notify(ctx, n)

	if c.activitySink == nil {
		return
	}

	eventType := auth.ActivityEventSyncSucceeded
	if outcome.Err != nil {
		eventType = auth.ActivityEventSyncFailed
	}

	event := auth.ActivityEvent{
		EventType: eventType,
		Metadata: map[string]any{
			"operation": outcome.Operation,
			"kind":      outcome.Kind,
			"message":   n.Message,
		},
		OccurredAt: n.OccurredAt,
	}
	if identity := auth.FromContext(ctx).State().Identity; identity != nil {
		event.UserID = identity.ID.String()
		event.Actor = auth.ActorRef{ID: event.UserID, Type: "user"}
	}
	auth.RecordActivity(ctx, c.activitySink, c.logger, event)
}
