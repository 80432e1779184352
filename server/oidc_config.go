package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/jrsteele09/go-oidc-gateway/internal/config"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/jrsteele09/go-oidc-gateway/internal/metrics"
	"github.com/jrsteele09/go-oidc-gateway/token"
	"github.com/jrsteele09/go-oidc-gateway/token/keys"
	"golang.org/x/oauth2"
)

// OidcConfig is everything learned from the provider's discovery document
type OidcConfig struct {
	OAuth2Config       *oauth2.Config
	Keys               *keys.Cache
	Verifier           *token.Verifier
	EndSessionEndpoint string
}

type providerMetadata struct {
	JWKSURI            string `json:"jwks_uri"`
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// Discover fetches the provider's discovery document and builds the OAuth2 client
// configuration and the ID token verifier from it. The discovered issuer must equal
// cfg.OIDC.IssuerURL exactly.
func Discover(ctx context.Context, cfg *config.Config, client *http.Client, m *metrics.Metrics) (*OidcConfig, error) {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	if cfg.OIDC.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.OIDC.UpstreamTimeout)
		defer cancel()
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), cfg.OIDC.IssuerURL)
	if err != nil {
		return nil, apperrors.NewUpstreamError("discovery", err)
	}

	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, apperrors.NewUpstreamError("discovery", apperrors.Wrapf(err, "failed to decode provider metadata"))
	}
	if meta.JWKSURI == "" {
		return nil, apperrors.NewUpstreamError("discovery", fmt.Errorf("provider metadata has no jwks_uri"))
	}

	endpoint := provider.Endpoint()
	if cfg.OIDC.PublicClient {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	cacheOpts := []keys.CacheOption{keys.WithHTTPClient(client), keys.WithMetrics(m)}
	if cfg.OIDC.UpstreamTimeout > 0 {
		cacheOpts = append(cacheOpts, keys.WithFetchTimeout(cfg.OIDC.UpstreamTimeout))
	}
	cache := keys.NewCache(meta.JWKSURI, cacheOpts...)

	var verifierOpts []token.VerifierOption
	if len(cfg.OIDC.SigningAlgorithms) > 0 {
		verifierOpts = append(verifierOpts, token.WithAlgorithms(cfg.OIDC.SigningAlgorithms...))
	}

	return &OidcConfig{
		OAuth2Config: &oauth2.Config{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Scopes:       cfg.OIDC.Scopes,
		},
		Keys:               cache,
		Verifier:           token.NewVerifier(cache, verifierOpts...),
		EndSessionEndpoint: meta.EndSessionEndpoint,
	}, nil
}
