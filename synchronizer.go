package auth

import (
	"context"
	"sync"
	"time"
)

type completionSource string

const (
	completionEvent completionSource = "event"
	completionFetch completionSource = "fetch"
)

// completion is one resolved write attempt against the store.
type completion struct {
	source  completionSource
	event   AuthEvent
	seq     uint64
	issued  uint64
	stale   bool
	session *Session
}

const completionLogSize = 16

// completionLog orders completions by arrival. A fetch that was issued
// before an event arrived carries an older snapshot than that event and is
// marked stale when it lands.
type completionLog struct {
	entries      []completion
	seq          uint64
	lastEventSeq uint64
}

func (l *completionLog) head() uint64 {
	return l.seq
}

func (l *completionLog) append(c completion) completion {
	l.seq++
	c.seq = l.seq

	switch c.source {
	case completionEvent:
		l.lastEventSeq = c.seq
	case completionFetch:
		c.stale = l.lastEventSeq > c.issued
	}

	l.entries = append(l.entries, c)
	if len(l.entries) > completionLogSize {
		l.entries = append([]completion(nil), l.entries[len(l.entries)-completionLogSize:]...)
	}
	return c
}

// latest returns the newest admissible completion.
func (l *completionLog) latest() (completion, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if !l.entries[i].stale {
			return l.entries[i], true
		}
	}
	return completion{}, false
}

// SynchronizerOption customizes synchronizer construction.
type SynchronizerOption func(*Synchronizer)

// WithSynchronizerLogger overrides the synchronizer logger.
func WithSynchronizerLogger(logger Logger) SynchronizerOption {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSynchronizerActivitySink sets the sink that receives session changes.
func WithSynchronizerActivitySink(sink ActivitySink) SynchronizerOption {
	return func(s *Synchronizer) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithLoadingTimeout clears loading after d when neither the fetch nor the
// event stream has completed. Zero disables the timeout.
func WithLoadingTimeout(d time.Duration) SynchronizerOption {
	return func(s *Synchronizer) {
		s.loadingTimeout = d
	}
}

// Synchronizer reconciles the provider's one-shot session fetch and its
// session change stream into a Store.
type Synchronizer struct {
	provider       IdentityProvider
	store          *Store
	logger         Logger
	activitySink   ActivitySink
	loadingTimeout time.Duration

	mu          sync.Mutex
	log         completionLog
	started     bool
	alive       bool
	unsubscribe func()
	timer       *time.Timer
	settled     chan struct{}
}

// NewSynchronizer returns a synchronizer writing into store.
func NewSynchronizer(provider IdentityProvider, store *Store, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		provider:     provider,
		store:        store,
		logger:       defaultLogger(),
		activitySink: noopActivitySink{},
		settled:      make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Start subscribes to the session stream and launches the one-shot fetch.
// It can only be called once.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyMounted
	}
	s.started = true
	s.alive = true
	s.mu.Unlock()

	unsubscribe := s.provider.OnAuthStateChange(s.handleEvent)

	s.mu.Lock()
	if !s.alive {
		// closed while subscribing
		s.mu.Unlock()
		close(s.settled)
		if unsubscribe != nil {
			unsubscribe()
		}
		return nil
	}
	s.unsubscribe = unsubscribe
	if s.loadingTimeout > 0 {
		s.timer = time.AfterFunc(s.loadingTimeout, s.expireLoading)
	}
	// events landing after this point are newer than the fetch snapshot
	issued := s.log.head()
	s.mu.Unlock()

	go s.fetch(ctx, issued)
	return nil
}

// Settled is closed once the one-shot fetch has resolved, whether its
// result was committed, discarded as stale, or failed.
func (s *Synchronizer) Settled() <-chan struct{} {
	return s.settled
}

// Close releases the subscription. Completions arriving afterwards are
// dropped. Close is idempotent.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.alive = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Synchronizer) handleEvent(event AuthEvent, session *Session) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		s.logger.Debug("session event after teardown discarded", "event", event)
		return
	}

	s.log.append(completion{source: completionEvent, event: event, session: session})
	prev := s.store.Snapshot()
	next, changed := s.commitLatest()
	s.mu.Unlock()

	s.store.flush()

	if changed && prev.Identity != next.Identity {
		s.recordSessionChange(event, prev, next)
	}
}

func (s *Synchronizer) fetch(ctx context.Context, issued uint64) {
	defer close(s.settled)

	session, err := s.provider.GetSession(ctx)

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		s.logger.Debug("session fetch resolved after teardown discarded")
		return
	}

	if err != nil {
		s.logger.Warn("initial session fetch failed", "error", err)
		s.store.clearLoading()
		s.mu.Unlock()
		s.store.flush()
		return
	}

	c := s.log.append(completion{source: completionFetch, issued: issued, session: session})
	if c.stale {
		s.logger.Debug("initial session fetch superseded by event", "seq", c.seq)
	}
	prev := s.store.Snapshot()
	next, changed := s.commitLatest()
	s.mu.Unlock()

	s.store.flush()

	if changed && prev.Identity != next.Identity {
		s.recordSessionChange(AuthEventInitialSession, prev, next)
	}
}

// commitLatest writes the newest admissible completion. Callers hold s.mu.
func (s *Synchronizer) commitLatest() (State, bool) {
	winner, ok := s.log.latest()
	if !ok {
		return s.store.clearLoading()
	}
	return s.store.setSession(winner.session)
}

func (s *Synchronizer) expireLoading() {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	_, changed := s.store.clearLoading()
	s.mu.Unlock()

	if changed {
		s.logger.Warn("session loading timed out", "timeout", s.loadingTimeout)
		s.store.flush()
	}
}

func (s *Synchronizer) recordSessionChange(event AuthEvent, prev, next State) {
	meta := map[string]any{"event": string(event)}
	userID := ""
	if next.Identity != nil {
		userID = next.Identity.ID.String()
		meta["signed_in"] = true
	} else {
		meta["signed_in"] = false
		if prev.Identity != nil {
			userID = prev.Identity.ID.String()
		}
	}

	RecordActivity(context.Background(), s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventSessionChanged,
		Actor:     ActorRef{ID: userID, Type: "user"},
		UserID:    userID,
		Metadata:  meta,
	})
}
