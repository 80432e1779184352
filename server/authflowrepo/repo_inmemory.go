package authflowrepo

import (
	"errors"
	"sync"
	"time"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface.
// Entries older than the TTL are treated as absent and removed by Sweep.
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]*AuthFlowState
	ttl    time.Duration
	now    func() time.Time
}

// NewInMemoryRepo creates a new in-memory auth flow state repository
func NewInMemoryRepo(ttl time.Duration) *InMemoryRepo {
	return &InMemoryRepo{
		states: make(map[string]*AuthFlowState),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides time.Now; intended for tests
func (r *InMemoryRepo) WithClock(now func() time.Time) *InMemoryRepo {
	r.now = now
	return r
}

// Upsert stores or updates an auth flow state. A zero CreatedAt is set to now.
func (r *InMemoryRepo) Upsert(state string, authState *AuthFlowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if authState == nil {
		return errors.New("authState cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Create a copy to prevent external modifications
	stored := *authState
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	r.states[state] = &stored
	return nil
}

// Consume retrieves and deletes an auth flow state
func (r *InMemoryRepo) Consume(state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	authState, exists := r.states[state]
	if !exists {
		return nil, ErrStateNotFound
	}
	delete(r.states, state)

	if r.expired(authState, r.now()) {
		return nil, ErrStateExpired
	}

	out := *authState
	return &out, nil
}

// Sweep removes expired entries and returns how many were removed
func (r *InMemoryRepo) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for state, authState := range r.states {
		if r.expired(authState, now) {
			delete(r.states, state)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending entries
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *InMemoryRepo) expired(authState *AuthFlowState, now time.Time) bool {
	return r.ttl > 0 && !now.Before(authState.CreatedAt.Add(r.ttl))
}
