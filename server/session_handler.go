package server

import (
	"net/http"
	"time"
)

// sessionResponse is the body of GET /api/session
type sessionResponse struct {
	Subject   string         `json:"subject"`
	Issuer    string         `json:"issuer"`
	ClientID  string         `json:"clientId"`
	Claims    map[string]any `json:"claims"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// SessionHandler returns the caller's login session as JSON. Mount it behind RequireSession.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "no session")
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			Subject:   session.Subject,
			Issuer:    session.Issuer,
			ClientID:  session.ClientID,
			Claims:    session.Claims,
			ExpiresAt: session.ExpiresAt,
		})
	}
}
