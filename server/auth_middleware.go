package server

import (
	"context"
	"net/http"

	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/jrsteele09/go-oidc-gateway/server/loginsession"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the caller's login session
	ContextKeySession ContextKey = "session"
)

// RequireSession is middleware for API routes that validates the session cookie.
// The session is injected into the request context; without one the request fails with 401.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sessionID := loginSessionID(r)
			if sessionID == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "no session")
				return
			}

			session, err := s.loginSessions.Get(r.Context(), sessionID)
			if apperrors.Is(err, apperrors.ErrSessionNotFound) || apperrors.Is(err, apperrors.ErrSessionExpired) {
				s.ClearLoginSessionCookie(w)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "session expired or revoked")
				return
			}
			if err != nil {
				log.Err(err).Msg("Failed to load session")
				writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to load session")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, session)
			next(w, r.WithContext(ctx))
		}
	}
}

// SessionFromContext returns the session injected by RequireSession
func SessionFromContext(ctx context.Context) (loginsession.Session, bool) {
	session, ok := ctx.Value(ContextKeySession).(loginsession.Session)
	return session, ok
}
