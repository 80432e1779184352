package authflowrepo

import (
	"errors"
	"time"
)

// AuthFlowState is the server-side half of one login attempt, keyed by its state parameter.
type AuthFlowState struct {
	Nonce        string
	CodeVerifier string
	ReturnURL    string
	CreatedAt    time.Time
}

var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateExpired  = errors.New("state expired")
)

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	// Consume returns the entry for state and deletes it in the same step, so a state is usable once.
	Consume(state string) (*AuthFlowState, error)
}
