package auth

import (
	"sync"

	"github.com/google/uuid"
)

type watcher struct {
	id uuid.UUID
	fn func(State)
}

// Store holds the current auth state. Writes are staged under the lock and
// delivered to watchers afterwards, in commit order, by whichever caller
// is draining the queue.
type Store struct {
	mu          sync.Mutex
	state       State
	revision    uint64
	loaded      chan struct{}
	watchers    []watcher
	pending     []State
	dispatching bool
}

// NewStore returns a store in the loading state.
func NewStore() *Store {
	return &Store{
		state:  State{Loading: true},
		loaded: make(chan struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Revision returns the number of committed state changes.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Loaded is closed once loading has cleared.
func (s *Store) Loaded() <-chan struct{} {
	return s.loaded
}

// Watch registers fn to be called with every changed state. The returned
// function removes the registration.
func (s *Store) Watch(fn func(State)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	id := uuid.New()
	s.mu.Lock()
	s.watchers = append(s.watchers, watcher{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, w := range s.watchers {
				if w.id == id {
					s.watchers = append(s.watchers[:i:i], s.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

// stage applies mutate and queues the resulting state for delivery when
// it differs from the previous one.
func (s *Store) stage(mutate func(*State)) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	next := prev
	mutate(&next)

	// identity and session travel together
	if next.Session == nil || next.Session.User == nil {
		next.Session = nil
		next.Identity = nil
	} else {
		next.Identity = next.Session.User
	}

	// loading never returns once cleared
	if !prev.Loading {
		next.Loading = false
	}

	if prev.equal(next) {
		return prev, false
	}

	if prev.Loading && !next.Loading {
		close(s.loaded)
	}

	s.state = next
	s.revision++
	s.pending = append(s.pending, next)
	return next, true
}

// flush delivers queued states. Reentrant calls from inside a watcher
// return immediately and their states are picked up by the outer loop.
func (s *Store) flush() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true

	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		watchers := append([]watcher(nil), s.watchers...)
		s.mu.Unlock()

		for _, state := range batch {
			for _, w := range watchers {
				w.fn(state)
			}
		}

		s.mu.Lock()
	}

	s.dispatching = false
	s.mu.Unlock()
}

func (s *Store) setSession(session *Session) (State, bool) {
	return s.stage(func(st *State) {
		st.Session = session
		st.Loading = false
	})
}

func (s *Store) clearLoading() (State, bool) {
	return s.stage(func(st *State) {
		st.Loading = false
	})
}

func (s *Store) setURLAuthProcessing(processing bool) (State, bool) {
	return s.stage(func(st *State) {
		st.URLAuthProcessing = processing
	})
}
