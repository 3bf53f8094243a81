package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-dashboard-auth"
)

const (
	// MetadataKeyActorType stores the actor type derived from auth.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyOperation stores the sync operation name for sync events.
	MetadataKeyOperation = "operation"
)

const (
	defaultActorID = "system"

	ChannelAuth = "auth"
	ChannelSync = "sync"

	ObjectTypeSession = "session"
	ObjectTypeSync    = "sync_operation"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(auth.ActivityEvent) string
}

// Normalize converts an auth.ActivityEvent into a generic normalized shape.
// Sync events land on the sync channel keyed by operation name; everything
// else is a session event keyed by user.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions(event)
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   strings.TrimSpace(options.objectIDResolver(event)),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel overrides the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType overrides the object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(auth.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if resolver != nil {
			opts.objectIDResolver = resolver
		}
	}
}

// WithActorFallback sets the final actor-id fallback when actor/user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// IsSyncEvent reports whether the event came from a sync controller.
func IsSyncEvent(eventType auth.ActivityEventType) bool {
	return strings.HasPrefix(string(eventType), ChannelSync+".")
}

func defaultNormalizeOptions(event auth.ActivityEvent) normalizeOptions {
	if IsSyncEvent(event.EventType) {
		return normalizeOptions{
			channel:          ChannelSync,
			objectType:       ObjectTypeSync,
			actorFallback:    defaultActorID,
			objectIDResolver: operationName,
		}
	}
	return normalizeOptions{
		channel:          ChannelAuth,
		objectType:       ObjectTypeSession,
		actorFallback:    defaultActorID,
		objectIDResolver: func(e auth.ActivityEvent) string { return e.UserID },
	}
}

func operationName(event auth.ActivityEvent) string {
	if op, ok := event.Metadata[MetadataKeyOperation].(string); ok {
		return op
	}
	return ""
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyActorType]; !exists {
			metadata[MetadataKeyActorType] = actorType
		}
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
