// Package ratelimit implements the per-user download cooldown.
//
// A user may not start a new download within the cooldown window of their
// previous successful start. Checks hand out a Reservation that must be
// committed when the download succeeds or released when it fails, so failed
// attempts never consume the cooldown.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrRateLimited matches every *RateLimitError.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError reports how long the user has to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

type userState struct {
	lastStart time.Time
	pending   *Reservation
}

// Limiter tracks the cooldown anchor of every user.
type Limiter struct {
	window time.Duration
	mu     sync.Mutex
	users  map[int64]*userState
}

// Reservation is a granted download slot.
type Reservation struct {
	limiter *Limiter
	userID  int64
	start   time.Time
	done    bool
}

// New creates a Limiter. A non-positive window disables the cooldown.
func New(window time.Duration) *Limiter {
	return &Limiter{window: window, users: make(map[int64]*userState)}
}

// Window returns the configured cooldown.
func (l *Limiter) Window() time.Duration { return l.window }

// CheckAndReserve grants a reservation or reports the remaining wait.
// While a reservation is outstanding every further check for the same user is denied.
func (l *Limiter) CheckAndReserve(userID int64, now time.Time) (*Reservation, time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.users[userID]
	if !ok {
		st = &userState{}
		l.users[userID] = st
	}

	if st.pending != nil {
		wait := l.window - now.Sub(st.pending.start)
		if wait <= 0 {
			wait = time.Second
		}
		return nil, wait, false
	}

	if l.window > 0 && !st.lastStart.IsZero() {
		if elapsed := now.Sub(st.lastStart); elapsed < l.window {
			return nil, l.window - elapsed, false
		}
	}

	res := &Reservation{limiter: l, userID: userID, start: now}
	st.pending = res
	return res, 0, true
}

// Reserve is CheckAndReserve returning a *RateLimitError on denial.
func (l *Limiter) Reserve(userID int64, now time.Time) (*Reservation, error) {
	res, wait, ok := l.CheckAndReserve(userID, now)
	if !ok {
		return nil, &RateLimitError{RetryAfter: wait}
	}
	return res, nil
}

// Commit makes the reservation's start time the user's cooldown anchor.
func (r *Reservation) Commit() {
	r.finish(true)
}

// Release drops the reservation, leaving the previous anchor in place.
func (r *Reservation) Release() {
	r.finish(false)
}

func (r *Reservation) finish(commit bool) {
	if r == nil {
		return
	}
	l := r.limiter
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.done {
		return
	}
	r.done = true

	st, ok := l.users[r.userID]
	if !ok || st.pending != r {
		return
	}
	st.pending = nil
	if commit {
		st.lastStart = r.start
	}
}

// LastStart returns the user's current cooldown anchor.
func (l *Limiter) LastStart(userID int64) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.users[userID]
	if !ok || st.lastStart.IsZero() {
		return time.Time{}, false
	}
	return st.lastStart, true
}

// Prune forgets users whose cooldown has fully elapsed and who hold no reservation.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, st := range l.users {
		if st.pending != nil {
			continue
		}
		if st.lastStart.IsZero() || now.Sub(st.lastStart) >= l.window {
			delete(l.users, id)
			removed++
		}
	}
	return removed
}
