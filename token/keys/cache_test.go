package keys_test

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/jrsteele09/go-oidc-gateway/token/keys"
	"github.com/stretchr/testify/require"
)

type jwksServer struct {
	*httptest.Server
	mu      sync.Mutex
	set     jose.JSONWebKeySet
	fail    bool
	hits    atomic.Int32
	release chan struct{}
}

func newJWKSServer(t *testing.T, release chan struct{}, pairs ...*keys.KeyPair) *jwksServer {
	t.Helper()
	s := &jwksServer{release: release}
	s.publish(t, pairs...)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.release != nil {
			<-s.release
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.set)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) publish(t *testing.T, pairs ...*keys.KeyPair) {
	t.Helper()
	set, err := keys.JWKS(pairs...)
	require.NoError(t, err)
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
}

func (s *jwksServer) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func generate(t *testing.T, kid string) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateRSAKeyPair(kid, 2048)
	require.NoError(t, err)
	return kp
}

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

func TestCache_Key(t *testing.T) {
	ctx := context.Background()
	kp := generate(t, "k1")
	srv := newJWKSServer(t, nil, kp)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := keys.NewCache(srv.URL, keys.WithClock(clock.Now))

	t.Run("fetches on first miss", func(t *testing.T) {
		key, err := cache.Key(ctx, "k1")
		require.NoError(t, err)
		pub, ok := key.(*rsa.PublicKey)
		require.True(t, ok)
		require.Equal(t, kp.PublicKey.(*rsa.PublicKey).N, pub.N)
		require.Equal(t, int32(1), srv.hits.Load())
	})

	t.Run("serves hits from cache", func(t *testing.T) {
		_, err := cache.Key(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, int32(1), srv.hits.Load())
	})

	t.Run("empty kid resolves the single key", func(t *testing.T) {
		_, err := cache.Key(ctx, "")
		require.NoError(t, err)
	})

	t.Run("unknown kid within refresh interval does not refetch", func(t *testing.T) {
		_, err := cache.Key(ctx, "k2")
		require.Error(t, err)
		require.True(t, apperrors.Is(err, apperrors.ErrKeyNotFound))
		require.Equal(t, int32(1), srv.hits.Load())
	})

	t.Run("rotated key is picked up after refresh interval", func(t *testing.T) {
		srv.publish(t, kp, generate(t, "k2"))
		clock.Advance(11 * time.Second)
		_, err := cache.Key(ctx, "k2")
		require.NoError(t, err)
		require.Equal(t, int32(2), srv.hits.Load())
		require.Equal(t, 2, cache.Len())
	})
}

func TestCache_EmptyKidAmongSeveralKeys(t *testing.T) {
	ctx := context.Background()
	unnamed := generate(t, "")
	srv := newJWKSServer(t, nil, generate(t, "k1"), unnamed, generate(t, "k2"))
	cache := keys.NewCache(srv.URL)

	key, err := cache.Key(ctx, "")
	require.NoError(t, err)
	pub, ok := key.(*rsa.PublicKey)
	require.True(t, ok)
	require.Equal(t, unnamed.PublicKey.(*rsa.PublicKey).N, pub.N)
	require.Equal(t, 3, cache.Len())

	t.Run("no unnamed key and several keys", func(t *testing.T) {
		srv := newJWKSServer(t, nil, generate(t, "k1"), generate(t, "k2"))
		_, err := keys.NewCache(srv.URL).Key(ctx, "")
		require.True(t, apperrors.Is(err, apperrors.ErrKeyNotFound))
	})
}

func TestCache_RefreshFailureKeepsKeys(t *testing.T) {
	ctx := context.Background()
	srv := newJWKSServer(t, nil, generate(t, "k1"))
	cache := keys.NewCache(srv.URL)

	_, err := cache.Key(ctx, "k1")
	require.NoError(t, err)

	srv.setFail(true)
	err = cache.Refresh(ctx, true)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrUpstream))

	_, err = cache.Key(ctx, "k1")
	require.NoError(t, err)
}

func TestCache_ConcurrentMissesShareFetch(t *testing.T) {
	release := make(chan struct{})
	srv := newJWKSServer(t, release, generate(t, "k1"))
	cache := keys.NewCache(srv.URL)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Key(context.Background(), "k1")
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), srv.hits.Load())
}

func TestCache_IgnoresEncryptionKeys(t *testing.T) {
	kp := generate(t, "enc")
	srv := newJWKSServer(t, nil)
	srv.mu.Lock()
	srv.set = jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: kp.PublicKey, KeyID: "enc", Algorithm: "RSA-OAEP", Use: "enc"}}}
	srv.mu.Unlock()
	cache := keys.NewCache(srv.URL)

	_, err := cache.Key(context.Background(), "enc")
	require.True(t, apperrors.Is(err, apperrors.ErrKeyNotFound))
}
