// Package token verifies ID tokens issued by the configured identity provider.
package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
)

// KeySource resolves a verification key by key ID
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

// Expected carries the per-flow values an ID token must match
type Expected struct {
	Issuer   string
	Audience string
	Nonce    string
}

// Verifier checks an ID token's signature and its iss, aud, exp and nonce claims
type Verifier struct {
	keys    KeySource
	methods []string
	leeway  time.Duration
	now     func() time.Time
}

type VerifierOption func(*Verifier)

// WithLeeway allows for clock skew when checking exp, iat and nbf
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithAlgorithms restricts the accepted signing algorithms
func WithAlgorithms(algs ...string) VerifierOption {
	return func(v *Verifier) { v.methods = algs }
}

// NewVerifier creates a verifier that resolves signing keys from keys
func NewVerifier(keys KeySource, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:    keys,
		methods: []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256"},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates rawIDToken against exp and returns its claims. Every failure is a
// *errors.TokenError that unwraps to ErrInvalidToken; no claims are returned on failure.
// The nonce claim is only compared when exp.Nonce is set, so callers completing a login
// must always pass the nonce they sent to the provider.
func (v *Verifier) Verify(ctx context.Context, rawIDToken string, exp Expected) (jwt.MapClaims, error) {
	if rawIDToken == "" {
		return nil, apperrors.NewTokenError(apperrors.ReasonMalformed, errors.New("empty token"))
	}

	var keyErr error
	keyFunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			keyErr = err
			return nil, err
		}
		return key, nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawIDToken, claims, keyFunc,
		jwt.WithValidMethods(v.methods),
		jwt.WithIssuer(exp.Issuer),
		jwt.WithAudience(exp.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if keyErr != nil {
			return nil, apperrors.NewTokenError(apperrors.ReasonUnknownKey, keyErr)
		}
		return nil, apperrors.NewTokenError(reasonFor(err), err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, apperrors.NewTokenError(apperrors.ReasonMissingClaim, errors.New("sub"))
	}

	// With several audiences the authorized party must be this client.
	if aud, _ := claims.GetAudience(); len(aud) > 1 {
		if azp, _ := claims["azp"].(string); azp != exp.Audience {
			return nil, apperrors.NewTokenError(apperrors.ReasonAudience, errors.New("azp does not match client"))
		}
	}

	if exp.Nonce != "" {
		nonce, _ := claims["nonce"].(string)
		if subtle.ConstantTimeCompare([]byte(nonce), []byte(exp.Nonce)) != 1 {
			return nil, apperrors.NewTokenError(apperrors.ReasonNonce, nil)
		}
	}

	return claims, nil
}

func reasonFor(err error) apperrors.TokenReason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperrors.ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.ReasonSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperrors.ReasonIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperrors.ReasonAudience
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return apperrors.ReasonMissingClaim
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return apperrors.ReasonExpired
	default:
		return apperrors.ReasonMalformed
	}
}
