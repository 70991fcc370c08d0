package notify

import (
	"sync"
	"time"
)

// Registry hands out one State per user session. States are created on
// first use and closed on logout, keeping notification handles from
// leaking across sessions.
type Registry struct {
	mu      sync.Mutex
	states  map[string]*State
	touched map[string]time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		states:  make(map[string]*State),
		touched: make(map[string]time.Time),
	}
}

// Get returns the user's state, creating it if missing.
func (r *Registry) Get(userID string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[userID]
	if !ok {
		st = NewState()
		r.states[userID] = st
	}
	r.touched[userID] = time.Now()
	return st
}

// Drop closes and forgets the user's state.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	st, ok := r.states[userID]
	delete(r.states, userID)
	delete(r.touched, userID)
	r.mu.Unlock()
	if ok {
		st.Close()
	}
}

// Prune closes states untouched for longer than maxIdle and returns how
// many were dropped. A dropped user simply gets a fresh state on their
// next notification.
func (r *Registry) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	r.mu.Lock()
	var stale []*State
	for userID, at := range r.touched {
		if at.Before(cutoff) {
			if st, ok := r.states[userID]; ok {
				stale = append(stale, st)
			}
			delete(r.states, userID)
			delete(r.touched, userID)
		}
	}
	r.mu.Unlock()
	for _, st := range stale {
		st.Close()
	}
	return len(stale)
}
