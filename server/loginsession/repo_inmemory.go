package loginsession

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
)

// DefaultMaxSweep bounds the entries removed by one Sweep call
const DefaultMaxSweep = 1000

// InMemoryLoginSessionRepo is an in-memory implementation of Repo.
// A single mutex serialises all access; at gateway scale this is a throughput
// limit rather than a correctness concern.
type InMemoryLoginSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*entry
	expiry   expiryHeap

	now      func() time.Time
	maxSweep int
}

type entry struct {
	session Session
	index   int // position in expiry heap
}

type InMemoryOption func(*InMemoryLoginSessionRepo)

// WithClock overrides time.Now
func WithClock(now func() time.Time) InMemoryOption {
	return func(r *InMemoryLoginSessionRepo) { r.now = now }
}

// WithMaxSweep bounds how many expired sessions a single Sweep removes
func WithMaxSweep(n int) InMemoryOption {
	return func(r *InMemoryLoginSessionRepo) { r.maxSweep = n }
}

// NewInMemoryLoginSessionRepo creates a new in-memory login session repository
func NewInMemoryLoginSessionRepo(opts ...InMemoryOption) *InMemoryLoginSessionRepo {
	r := &InMemoryLoginSessionRepo{
		sessions: make(map[string]*entry),
		now:      time.Now,
		maxSweep: DefaultMaxSweep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores session under a fresh random id and returns the id
func (r *InMemoryLoginSessionRepo) Create(_ context.Context, session Session, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// 256 random bits make a collision practically impossible, but never overwrite.
	for _, exists := r.sessions[id]; exists; _, exists = r.sessions[id] {
		if id, err = newSessionID(); err != nil {
			return "", err
		}
	}

	now := r.now()
	session = session.clone()
	session.ID = id
	session.CreatedAt = now
	session.ExpiresAt = now.Add(ttl)

	e := &entry{session: session}
	r.sessions[id] = e
	heap.Push(&r.expiry, e)
	return id, nil
}

// Get retrieves a login session by id, evicting it if it has expired
func (r *InMemoryLoginSessionRepo) Get(_ context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, apperrors.ErrSessionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, apperrors.ErrSessionNotFound
	}
	if !r.now().Before(e.session.ExpiresAt) {
		r.remove(e)
		return Session{}, apperrors.ErrSessionExpired
	}
	return e.session.clone(), nil
}

// Revoke removes a login session. Revoking an unknown id is not an error.
func (r *InMemoryLoginSessionRepo) Revoke(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[sessionID]; ok {
		r.remove(e)
	}
	return nil
}

// Sweep removes sessions that expired at or before now, at most maxSweep per call,
// and returns how many were removed.
func (r *InMemoryLoginSessionRepo) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for r.expiry.Len() > 0 && removed < r.maxSweep {
		oldest := r.expiry[0]
		if now.Before(oldest.session.ExpiresAt) {
			break
		}
		r.remove(oldest)
		removed++
	}
	return removed
}

// Len returns the number of stored sessions, including expired ones not yet swept
func (r *InMemoryLoginSessionRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *InMemoryLoginSessionRepo) remove(e *entry) {
	heap.Remove(&r.expiry, e.index)
	delete(r.sessions, e.session.ID)
}

// expiryHeap orders entries by ExpiresAt, soonest first
type expiryHeap []*entry

func (h expiryHeap) Len() int { return len(h) }
func (h expiryHeap) Less(i, j int) bool {
	return h[i].session.ExpiresAt.Before(h[j].session.ExpiresAt)
}
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *expiryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
