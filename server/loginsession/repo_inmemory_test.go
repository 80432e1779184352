package loginsession_test

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/jrsteele09/go-oidc-gateway/server/loginsession"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func testSession() loginsession.Session {
	return loginsession.Session{
		Subject:  "user-123",
		Issuer:   "https://idp.example.com",
		ClientID: "gateway",
		Claims: map[string]any{
			"sub":   "user-123",
			"email": "alice@example.com",
			"roles": []any{"admin"},
		},
	}
}

func TestInMemoryRepo_CreateGet(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	repo := loginsession.NewInMemoryLoginSessionRepo(loginsession.WithClock(clock.Now))

	id, err := repo.Create(ctx, testSession(), time.Hour)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(id), 43) // 32 bytes base64url

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, testSession().Claims, got.Claims)
	require.Equal(t, "user-123", got.Subject)
	require.Equal(t, clock.Now(), got.CreatedAt)
	require.Equal(t, clock.Now().Add(time.Hour), got.ExpiresAt)

	t.Run("returned claims are a copy", func(t *testing.T) {
		got.Claims["email"] = "mallory@example.com"
		again, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "alice@example.com", again.Claims["email"])
	})

	t.Run("ids are unique", func(t *testing.T) {
		seen := map[string]struct{}{id: {}}
		for i := 0; i < 100; i++ {
			next, err := repo.Create(ctx, testSession(), time.Hour)
			require.NoError(t, err)
			_, dup := seen[next]
			require.False(t, dup)
			seen[next] = struct{}{}
		}
	})

	t.Run("non-positive ttl rejected", func(t *testing.T) {
		_, err := repo.Create(ctx, testSession(), 0)
		require.Error(t, err)
	})
}

func TestInMemoryRepo_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	repo := loginsession.NewInMemoryLoginSessionRepo(loginsession.WithClock(clock.Now))

	id, err := repo.Create(ctx, testSession(), time.Minute)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = repo.Get(ctx, id)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = repo.Get(ctx, id)
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)

	// lazily evicted on the expired read
	_, err = repo.Get(ctx, id)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	require.Equal(t, 0, repo.Len())
}

func TestInMemoryRepo_Revoke(t *testing.T) {
	ctx := context.Background()
	repo := loginsession.NewInMemoryLoginSessionRepo()

	id, err := repo.Create(ctx, testSession(), time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.Revoke(ctx, id))
	_, err = repo.Get(ctx, id)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	require.NoError(t, repo.Revoke(ctx, id))
	require.NoError(t, repo.Revoke(ctx, "never-issued"))
}

func TestInMemoryRepo_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	repo := loginsession.NewInMemoryLoginSessionRepo(loginsession.WithClock(clock.Now), loginsession.WithMaxSweep(3))

	var short []string
	for i := 0; i < 6; i++ {
		id, err := repo.Create(ctx, testSession(), time.Minute)
		require.NoError(t, err)
		short = append(short, id)
	}
	long, err := repo.Create(ctx, testSession(), time.Hour)
	require.NoError(t, err)

	// a revoked entry must leave the expiry index too
	require.NoError(t, repo.Revoke(ctx, short[0]))

	require.Equal(t, 0, repo.Sweep(clock.Now()))

	clock.Advance(2 * time.Minute)
	// a lapsed session reads as expired, and the read drops it
	_, err = repo.Get(ctx, short[5])
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)

	require.Equal(t, 3, repo.Sweep(clock.Now()), "bounded by max sweep")
	require.Equal(t, 1, repo.Sweep(clock.Now()))
	require.Equal(t, 0, repo.Sweep(clock.Now()))
	require.Equal(t, 1, repo.Len())

	// once swept, a lapsed session is indistinguishable from an unknown one
	_, err = repo.Get(ctx, short[2])
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	_, err = repo.Get(ctx, long)
	require.NoError(t, err)
}

func TestInMemoryRepo_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := loginsession.NewInMemoryLoginSessionRepo()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := repo.Create(ctx, testSession(), time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := repo.Get(ctx, id); err != nil {
				t.Error(err)
			}
			_ = repo.Revoke(ctx, id)
			repo.Sweep(time.Now())
		}()
	}
	wg.Wait()
	require.Equal(t, 0, repo.Len())
}
