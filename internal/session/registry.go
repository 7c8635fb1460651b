package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-audio-downloader-bot/internal/models"

	log "github.com/sirupsen/logrus"
)

// ErrBusy is returned when the user's previous event is still being handled.
var ErrBusy = errors.New("session busy")

// Session is one user's conversation state. Its fields may only be touched
// while the session is held through Registry.TryAcquire or Registry.Acquire.
type Session struct {
	UserID       int64
	Stage        Stage
	Candidates   []models.CandidateItem
	Generation   uint64
	LastActivity time.Time

	lock    chan struct{}
	evicted bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// Snapshot is a copy of a session's observable state.
type Snapshot struct {
	Stage      Stage
	Candidates []models.CandidateItem
	Generation uint64
}

func newSession(userID int64) *Session {
	return &Session{UserID: userID, lock: make(chan struct{}, 1)}
}

// SetCandidates stores a fresh candidate list and returns its generation.
func (s *Session) SetCandidates(items []models.CandidateItem) uint64 {
	s.Generation++
	s.Candidates = append([]models.CandidateItem(nil), items...)
	return s.Generation
}

// Candidate resolves a pick against the current list. Picks made from an older
// list (a different generation) or out of range are rejected.
func (s *Session) Candidate(generation uint64, index int) (models.CandidateItem, bool) {
	if s.Stage != AwaitingSelection || generation != s.Generation {
		return models.CandidateItem{}, false
	}
	if index < 0 || index >= len(s.Candidates) {
		return models.CandidateItem{}, false
	}
	return s.Candidates[index], true
}

// Enter moves the session to stage. Leaving AwaitingSelection drops the candidates.
func (s *Session) Enter(stage Stage) {
	s.Stage = stage
	if stage != AwaitingSelection {
		s.Candidates = nil
	}
}

// Reset returns the session to Idle.
func (s *Session) Reset() { s.Enter(Idle) }

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Stage:      s.Stage,
		Candidates: append([]models.CandidateItem(nil), s.Candidates...),
		Generation: s.Generation,
	}
}

// BeginOperation derives a cancellable context for a slow operation so that
// Interrupt can stop it. done must be called when the operation returns.
func (s *Session) BeginOperation(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	return ctx, func() {
		s.cancelMu.Lock()
		s.cancel = nil
		s.cancelMu.Unlock()
		cancel()
	}
}

func (s *Session) interrupt() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// Registry maps user IDs to sessions, each guarded by its own lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	now      func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session), now: time.Now}
}

func (r *Registry) lookup(userID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		s = newSession(userID)
		s.LastActivity = r.now()
		r.sessions[userID] = s
	}
	return s
}

// TryAcquire takes the user's session without waiting. It fails with ErrBusy
// while another event of the same user is in flight.
func (r *Registry) TryAcquire(userID int64) (*Session, error) {
	for {
		s := r.lookup(userID)
		select {
		case s.lock <- struct{}{}:
		default:
			return nil, ErrBusy
		}
		if s.evicted {
			<-s.lock
			continue
		}
		s.LastActivity = r.now()
		return s, nil
	}
}

// Acquire waits for the user's session until ctx is done.
func (r *Registry) Acquire(ctx context.Context, userID int64) (*Session, error) {
	for {
		s := r.lookup(userID)
		select {
		case s.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if s.evicted {
			<-s.lock
			continue
		}
		s.LastActivity = r.now()
		return s, nil
	}
}

// Release gives the session back.
func (r *Registry) Release(s *Session) {
	s.LastActivity = r.now()
	<-s.lock
}

// Interrupt cancels the in-flight operation of the user's session, if any,
// without waiting for the session lock.
func (r *Registry) Interrupt(userID int64) bool {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return s.interrupt()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Prune drops sessions that are not handling an event and have been untouched
// for longer than idleFor. A dropped session behaves like a reset one.
func (r *Registry) Prune(idleFor time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, s := range r.sessions {
		select {
		case s.lock <- struct{}{}:
		default:
			continue
		}
		if now.Sub(s.LastActivity) > idleFor {
			s.evicted = true
			delete(r.sessions, id)
			removed++
		}
		<-s.lock
	}
	if removed > 0 {
		log.Debugf("Pruned %d idle sessions", removed)
	}
	return removed
}
