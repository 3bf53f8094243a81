package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	auth "github.com/goliatone/go-dashboard-auth"
	"github.com/goliatone/go-dashboard-auth/activitymap"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivityModel is the Bun model for audit activity records.
type ActivityModel struct {
	bun.BaseModel `bun:"table:dashboard_activity"`

	ID         uuid.UUID      `bun:"id,pk,type:uuid"`
	ActorID    string         `bun:"actor_id,notnull"`
	Verb       string         `bun:"verb,notnull"`
	ObjectType string         `bun:"object_type"`
	ObjectID   string         `bun:"object_id"`
	Channel    string         `bun:"channel,notnull"`
	Metadata   map[string]any `bun:"metadata,type:jsonb"`
	OccurredAt time.Time      `bun:"occurred_at,notnull"`
}

// ActivityFilter narrows List results. Zero values match everything.
type ActivityFilter struct {
	Channel  string
	ObjectID string
	ActorID  string
	Since    time.Time
	Limit    int
}

const defaultActivityLimit = 100

// ActivityRepository persists activity events. It implements
// auth.ActivitySink so it can be handed directly to the provider and the
// sync controllers.
type ActivityRepository struct {
	db   *bun.DB
	opts []activitymap.Option
}

var _ auth.ActivitySink = &ActivityRepository{}

// NewActivityRepository creates a new repository. Options are applied to
// every normalized record.
func NewActivityRepository(db *bun.DB, opts ...activitymap.Option) *ActivityRepository {
	return &ActivityRepository{db: db, opts: opts}
}

// CreateSchema creates the activity table when it is missing.
func (r *ActivityRepository) CreateSchema(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*ActivityModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return err
	}

	_, err = r.db.NewCreateIndex().
		Model((*ActivityModel)(nil)).
		Index("idx_dashboard_activity_channel_occurred").
		IfNotExists().
		Column("channel", "occurred_at").
		Exec(ctx)
	return err
}

// Record implements auth.ActivitySink.
func (r *ActivityRepository) Record(ctx context.Context, event auth.ActivityEvent) error {
	normalized := activitymap.Normalize(event, r.opts...)
	model := fromNormalized(normalized)

	_, err := r.db.NewInsert().
		Model(model).
		Exec(ctx)
	return err
}

// List returns records newest first.
func (r *ActivityRepository) List(ctx context.Context, filter ActivityFilter) ([]activitymap.Normalized, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}

	var models []ActivityModel
	q := r.db.NewSelect().
		Model(&models).
		Order("occurred_at DESC").
		Limit(limit)

	if filter.Channel != "" {
		q = q.Where("channel = ?", filter.Channel)
	}
	if filter.ObjectID != "" {
		q = q.Where("object_id = ?", filter.ObjectID)
	}
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("occurred_at > ?", filter.Since)
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []activitymap.Normalized{}, nil
		}
		return nil, err
	}

	out := make([]activitymap.Normalized, len(models))
	for i := range models {
		out[i] = toNormalized(&models[i])
	}
	return out, nil
}

// Purge deletes records that occurred before cutoff and returns how many
// were removed.
func (r *ActivityRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*ActivityModel)(nil)).
		Where("occurred_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func fromNormalized(n activitymap.Normalized) *ActivityModel {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &ActivityModel{
		ID:         uuid.New(),
		ActorID:    n.ActorID,
		Verb:       n.Verb,
		ObjectType: n.ObjectType,
		ObjectID:   n.ObjectID,
		Channel:    n.Channel,
		Metadata:   metadata,
		OccurredAt: n.OccurredAt.UTC(),
	}
}

func toNormalized(m *ActivityModel) activitymap.Normalized {
	return activitymap.Normalized{
		ActorID:    m.ActorID,
		Verb:       m.Verb,
		ObjectType: m.ObjectType,
		ObjectID:   m.ObjectID,
		Channel:    m.Channel,
		Metadata:   m.Metadata,
		OccurredAt: m.OccurredAt,
	}
}
