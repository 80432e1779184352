package loginsession

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"maps"
	"time"
)

// sessionIDBytes is the entropy of a session id (256 bits)
const sessionIDBytes = 32

type Session struct {
	ID string `json:"id"`

	// Verified identity
	Subject  string         `json:"subject"`
	Issuer   string         `json:"issuer"`
	ClientID string         `json:"clientId"`
	Claims   map[string]any `json:"claims"`

	// Raw ID token, kept as id_token_hint for provider logout
	IDToken string `json:"idToken,omitempty"`

	// Session management
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Repo stores sessions keyed by an opaque, unguessable id.
// Get fails with ErrSessionNotFound for unknown or revoked ids and ErrSessionExpired once the TTL has elapsed.
type Repo interface {
	Create(ctx context.Context, session Session, ttl time.Duration) (string, error)
	Get(ctx context.Context, sessionID string) (Session, error)
	Revoke(ctx context.Context, sessionID string) error
}

func (s Session) clone() Session {
	s.Claims = maps.Clone(s.Claims)
	return s
}

func newSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
