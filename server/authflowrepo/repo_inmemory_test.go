package authflowrepo_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-gateway/server/authflowrepo"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepo_ConsumeOnce(t *testing.T) {
	repo := authflowrepo.NewInMemoryRepo(5 * time.Minute)
	require.NoError(t, repo.Upsert("S1", &authflowrepo.AuthFlowState{Nonce: "N1", CodeVerifier: "v", ReturnURL: "/app"}))

	got, err := repo.Consume("S1")
	require.NoError(t, err)
	require.Equal(t, "N1", got.Nonce)
	require.Equal(t, "v", got.CodeVerifier)
	require.Equal(t, "/app", got.ReturnURL)
	require.False(t, got.CreatedAt.IsZero())

	_, err = repo.Consume("S1")
	require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
}

func TestInMemoryRepo_Validation(t *testing.T) {
	repo := authflowrepo.NewInMemoryRepo(time.Minute)
	require.Error(t, repo.Upsert("", &authflowrepo.AuthFlowState{}))
	require.Error(t, repo.Upsert("S", nil))

	_, err := repo.Consume("")
	require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
	_, err = repo.Consume("never-issued")
	require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
}

func TestInMemoryRepo_TTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := authflowrepo.NewInMemoryRepo(5 * time.Minute).WithClock(clock)

	require.NoError(t, repo.Upsert("old", &authflowrepo.AuthFlowState{Nonce: "a"}))
	now = now.Add(3 * time.Minute)
	require.NoError(t, repo.Upsert("new", &authflowrepo.AuthFlowState{Nonce: "b"}))
	now = now.Add(2 * time.Minute)

	_, err := repo.Consume("old")
	require.ErrorIs(t, err, authflowrepo.ErrStateExpired)
	_, err = repo.Consume("old")
	require.ErrorIs(t, err, authflowrepo.ErrStateNotFound, "expired entries are consumed too")

	require.NoError(t, repo.Upsert("stale", &authflowrepo.AuthFlowState{CreatedAt: now.Add(-10 * time.Minute)}))
	require.Equal(t, 1, repo.Sweep(now))
	require.Equal(t, 1, repo.Len())

	got, err := repo.Consume("new")
	require.NoError(t, err)
	require.Equal(t, "b", got.Nonce)
}

func TestInMemoryRepo_ConcurrentConsume(t *testing.T) {
	repo := authflowrepo.NewInMemoryRepo(time.Minute)
	require.NoError(t, repo.Upsert("S1", &authflowrepo.AuthFlowState{Nonce: "N1"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume("S1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}
