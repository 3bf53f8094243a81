package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSessionChanged ActivityEventType = "session.changed"
	ActivityEventSignInFailure  ActivityEventType = "auth.sign_in.failure"
	ActivityEventSignUp         ActivityEventType = "auth.sign_up"
	ActivityEventSignUpFailure  ActivityEventType = "auth.sign_up.failure"
	ActivityEventSignOut        ActivityEventType = "auth.sign_out"
	ActivityEventSignOutFailure ActivityEventType = "auth.sign_out.failure"
	ActivityEventSyncSucceeded  ActivityEventType = "sync.succeeded"
	ActivityEventSyncFailed     ActivityEventType = "sync.failed"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// RecordActivity forwards event to sink, filling the actor and timestamp
// when missing. Sink failures are logged and swallowed.
func RecordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error", "error", err, "event", event.EventType)
	}
}
