package errors_test

import (
	"errors"
	"testing"

	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, apperrors.Wrapf(nil, "context %d", 1))
	})

	t.Run("keeps the chain", func(t *testing.T) {
		err := apperrors.Wrapf(apperrors.ErrSessionNotFound, "session %s", "abc")
		require.EqualError(t, err, "session abc: session not found")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})
}

func TestTokenError(t *testing.T) {
	cause := errors.New("kid not published")
	err := apperrors.Wrapf(apperrors.NewTokenError(apperrors.ReasonUnknownKey, cause), "verify")

	require.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
	require.ErrorIs(t, err, cause)
	var te *apperrors.TokenError
	require.True(t, apperrors.As(err, &te))
	require.Equal(t, apperrors.ReasonUnknownKey, te.Reason)
}

func TestDeliveryError(t *testing.T) {
	err := &apperrors.DeliveryError{StatusCode: 302}
	require.ErrorIs(t, err, apperrors.ErrDelivery)
	require.Equal(t, "delivery failed with status 302", err.Error())
}
