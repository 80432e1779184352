package server

import (
	"net/http"
	"net/url"

	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/rs/zerolog/log"
)

// LogoutHandler revokes the login session and clears its cookie. When the provider
// advertises an end_session_endpoint the browser is sent there with the session's ID
// token as id_token_hint; otherwise it lands on POST_LOGIN_URL.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := s.config.PostLoginURL

		if sessionID := loginSessionID(r); sessionID != "" {
			session, err := s.loginSessions.Get(r.Context(), sessionID)
			switch {
			case err == nil:
				if endSession := s.endSessionURL(session.IDToken); endSession != "" {
					target = endSession
				}
			case apperrors.Is(err, apperrors.ErrSessionNotFound), apperrors.Is(err, apperrors.ErrSessionExpired):
				// already gone, still clear the cookie
			default:
				log.Err(err).Msg("Failed to load session for logout")
			}

			if err := s.loginSessions.Revoke(r.Context(), sessionID); err != nil {
				log.Err(err).Msg("Failed to revoke session")
				http.Error(w, "Failed to log out", http.StatusInternalServerError)
				return
			}
		}

		s.ClearLoginSessionCookie(w)
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

func (s *Server) endSessionURL(idToken string) string {
	if s.oidc.EndSessionEndpoint == "" {
		return ""
	}
	u, err := url.Parse(s.oidc.EndSessionEndpoint)
	if err != nil {
		log.Err(err).Str("end_session_endpoint", s.oidc.EndSessionEndpoint).Msg("Invalid end_session_endpoint")
		return ""
	}
	q := u.Query()
	q.Set("client_id", s.config.OIDC.ClientID)
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
