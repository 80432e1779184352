package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-gateway/token/keys"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// IDTokenRequest describes the identity asserted by a minted ID token
type IDTokenRequest struct {
	Issuer   string
	Subject  string
	Audience []string
	Nonce    string
	Expiry   time.Duration
	// Extra claims are copied verbatim and may override the standard ones.
	Extra map[string]any
}

// Creator handles ID token creation for an issuer
type Creator struct {
	signer keys.Signer
}

// NewCreator creates a new JWT creator signing with signer
func NewCreator(signer keys.Signer) *Creator {
	return &Creator{
		signer: signer,
	}
}

// CreateIDToken creates an OpenID Connect ID token
func (c *Creator) CreateIDToken(req IDTokenRequest) (string, error) {
	now := NowTimeFunc()
	expiry := req.Expiry
	if expiry == 0 {
		expiry = time.Hour
	}

	claims := jwtlib.MapClaims{
		"iss": req.Issuer,
		"sub": req.Subject,
		"iat": now.Unix(),
		"exp": now.Add(expiry).Unix(),
		"jti": uuid.New().String(),
	}
	if len(req.Audience) == 1 {
		claims["aud"] = req.Audience[0]
	} else if len(req.Audience) > 1 {
		claims["aud"] = req.Audience
	}
	if req.Nonce != "" {
		claims["nonce"] = req.Nonce
	}
	for k, v := range req.Extra {
		claims[k] = v
	}

	signedToken, err := c.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signedToken, nil
}
