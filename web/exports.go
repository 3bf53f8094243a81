package web

import (
	"sync"

	"github.com/goliatone/go-dashboard-auth/syncop"
)

const defaultExportLimit = 64

func exportKey(req syncop.StorageExportRequest) string {
	return req.BucketName + "/" + req.FileName
}

// exportRegistry keeps one controller per export target so the single
// flight guard holds per file. Entries are ordered by last use.
type exportRegistry struct {
	mu      sync.Mutex
	limit   int
	order   []string
	entries map[string]*syncop.Controller
}

func newExportRegistry(limit int) *exportRegistry {
	return &exportRegistry{
		limit:   limit,
		entries: map[string]*syncop.Controller{},
	}
}

// acquire returns the controller for key, building it when missing. It
// reports false when the registry is full of calls still in flight.
func (r *exportRegistry) acquire(key string, build func() *syncop.Controller) (*syncop.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctrl, ok := r.entries[key]; ok {
		r.touch(key)
		return ctrl, true
	}

	if len(r.entries) >= r.limit && !r.evictIdle() {
		return nil, false
	}

	ctrl := build()
	r.entries[key] = ctrl
	r.order = append(r.order, key)
	return ctrl, true
}

func (r *exportRegistry) touch(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(append(r.order[:i:i], r.order[i+1:]...), key)
			return
		}
	}
}

// evictIdle drops the least recently used controller that is not in flight.
func (r *exportRegistry) evictIdle() bool {
	for i, key := range r.order {
		ctrl := r.entries[key]
		if ctrl.Phase() == syncop.PhaseInFlight {
			continue
		}
		ctrl.Close()
		delete(r.entries, key)
		r.order = append(r.order[:i:i], r.order[i+1:]...)
		return true
	}
	return false
}

func (r *exportRegistry) each(fn func(key string, ctrl *syncop.Controller)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.order {
		fn(key, r.entries[key])
	}
}

func (r *exportRegistry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctrl := range r.entries {
		ctrl.Close()
	}
}
