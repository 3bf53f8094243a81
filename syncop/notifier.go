package syncop

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelFailure Level = "failure"
)

// Notification is the transient user facing message emitted once per trigger.
type Notification struct {
	ID         uuid.UUID `json:"id"`
	Operation  string    `json:"operation"`
	Level      Level     `json:"level"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier receives sync notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	if f != nil {
		f(ctx, n)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

const defaultRecorderCapacity = 50

// Recorder keeps the most recent notifications in memory so an HTTP client
// can poll them.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	items    []Notification
}

// NewRecorder returns a recorder holding up to capacity notifications.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{capacity: capacity}
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, n)
	if len(r.items) > r.capacity {
		r.items = append([]Notification(nil), r.items[len(r.items)-r.capacity:]...)
	}
}

// List returns notifications newest first.
func (r *Recorder) List() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Notification, len(r.items))
	for i, n := range r.items {
		out[len(r.items)-1-i] = n
	}
	return out
}

// Since returns notifications that occurred after t, newest first.
func (r *Recorder) Since(t time.Time) []Notification {
	all := r.List()
	out := all[:0]
	for _, n := range all {
		if n.OccurredAt.After(t) {
			out = append(out, n)
		}
	}
	return out
}
