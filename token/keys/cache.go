package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-cleanhttp"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/jrsteele09/go-oidc-gateway/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMinRefreshInterval = 10 * time.Second
	defaultFetchTimeout       = 10 * time.Second
	maxJWKSBytes              = 1 << 20
)

// Cache holds the identity provider's published signing keys, indexed by key ID.
// Lookups are read-locked. A lookup for an unknown key ID triggers one refresh of the
// whole set; concurrent misses share the same fetch. When a refresh fails the
// previously fetched keys stay in service.
type Cache struct {
	jwksURL            string
	client             *http.Client
	metrics            *metrics.Metrics
	minRefreshInterval time.Duration
	fetchTimeout       time.Duration
	now                func() time.Time

	mu          sync.RWMutex
	keys        map[string]jose.JSONWebKey
	lastAttempt time.Time

	group singleflight.Group
}

type CacheOption func(*Cache)

// WithHTTPClient sets the client used to fetch the key set
func WithHTTPClient(client *http.Client) CacheOption {
	return func(c *Cache) { c.client = client }
}

// WithMetrics records refresh results on m
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// WithMinRefreshInterval bounds how often a key-ID miss may refetch the key set
func WithMinRefreshInterval(d time.Duration) CacheOption {
	return func(c *Cache) { c.minRefreshInterval = d }
}

// WithFetchTimeout bounds a single key set fetch
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) { c.fetchTimeout = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty cache for the key set published at jwksURL. Keys are fetched on first use.
func NewCache(jwksURL string, opts ...CacheOption) *Cache {
	c := &Cache{
		jwksURL:            jwksURL,
		client:             cleanhttp.DefaultPooledClient(),
		minRefreshInterval: defaultMinRefreshInterval,
		fetchTimeout:       defaultFetchTimeout,
		now:                time.Now,
		keys:               make(map[string]jose.JSONWebKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the verification key for kid, refreshing the key set on a miss.
// An empty kid matches a key published without a kid, or else the only signing key.
func (c *Cache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", apperrors.ErrKeyNotFound, kid)
}

// Refresh fetches the key set. Unless force is set, a refresh within the minimum
// refresh interval of the previous attempt is a no-op.
func (c *Cache) Refresh(ctx context.Context, force bool) error {
	ch := c.group.DoChan("jwks", func() (any, error) {
		c.mu.Lock()
		if !force && !c.lastAttempt.IsZero() && c.now().Sub(c.lastAttempt) < c.minRefreshInterval {
			c.mu.Unlock()
			return nil, nil
		}
		c.lastAttempt = c.now()
		c.mu.Unlock()

		// The fetch outlives any single caller so that joined callers are not failed by one cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		keys, err := c.fetch(fetchCtx)
		c.metrics.ObserveKeyRefresh(err)
		if err != nil {
			log.Warn().Err(err).Str("jwks_url", c.jwksURL).Msg("Signing key refresh failed, keeping cached keys")
			return nil, err
		}

		c.mu.Lock()
		c.keys = keys
		c.mu.Unlock()
		log.Debug().Int("keys", len(keys)).Str("jwks_url", c.jwksURL).Msg("Signing keys refreshed")
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return apperrors.NewUpstreamError("jwks", ctx.Err())
	}
}

// Len returns the number of cached keys
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

func (c *Cache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if k, ok := c.keys[kid]; ok {
		return k.Key, true
	}
	// A token without a kid matches the only published key
	if kid == "" && len(c.keys) == 1 {
		for _, k := range c.keys {
			return k.Key, true
		}
	}
	return nil, false
}

func (c *Cache) fetch(ctx context.Context) (map[string]jose.JSONWebKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamError("jwks", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstreamError("jwks", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewUpstreamError("jwks", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return nil, apperrors.NewUpstreamError("jwks", fmt.Errorf("failed to decode key set: %w", err))
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if !k.Valid() || !k.IsPublic() {
			continue
		}
		keys[k.KeyID] = k
	}
	return keys, nil
}
