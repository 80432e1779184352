package errors

import (
	"errors"
	"fmt"
)

// Common error types for the gateway
var (
	// Login path errors. These are terminal for a login attempt.
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidToken = errors.New("invalid token")
	ErrUpstream     = errors.New("upstream error")

	// Hook errors. Never surfaced to the end user.
	ErrDelivery = errors.New("delivery error")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	// Signing key errors
	ErrKeyNotFound = errors.New("signing key not found")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// TokenReason identifies which ID token check failed. It is logged, never returned to clients.
type TokenReason string

const (
	ReasonMalformed    TokenReason = "malformed"
	ReasonSignature    TokenReason = "signature"
	ReasonUnknownKey   TokenReason = "unknown_key"
	ReasonIssuer       TokenReason = "issuer"
	ReasonAudience     TokenReason = "audience"
	ReasonExpired      TokenReason = "expired"
	ReasonNonce        TokenReason = "nonce"
	ReasonMissingClaim TokenReason = "missing_claim"
)

// TokenError is returned by the token verifier for every failed check.
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid token (%s)", e.Reason)
}

func (e *TokenError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidToken, e.Err}
	}
	return []error{ErrInvalidToken}
}

// NewTokenError builds a TokenError for reason, optionally wrapping the underlying cause
func NewTokenError(reason TokenReason, err error) *TokenError {
	return &TokenError{Reason: reason, Err: err}
}

// UpstreamError wraps a transport or provider failure during the code exchange or key fetch.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// NewUpstreamError wraps err as an upstream failure of op
func NewUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

// DeliveryError describes a failed hook delivery. StatusCode is zero for transport failures.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDelivery, e.Err}
	}
	return []error{ErrDelivery}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
