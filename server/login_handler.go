package server

import (
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-oidc-gateway/server/authflowrepo"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	stateBytes = 32
	nonceBytes = 32
)

// LoginHandler starts a login attempt (GET /login). It records a fresh state, nonce and
// PKCE verifier and redirects the browser to the provider's authorize endpoint.
// ?return_to=/path selects where the browser lands after the callback.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := generateRandomString(stateBytes)
		if err != nil {
			log.Err(err).Msg("Failed to generate login state")
			http.Error(w, "Failed to start login", http.StatusInternalServerError)
			return
		}
		nonce, err := generateRandomString(nonceBytes)
		if err != nil {
			log.Err(err).Msg("Failed to generate login nonce")
			http.Error(w, "Failed to start login", http.StatusInternalServerError)
			return
		}

		authState := &authflowrepo.AuthFlowState{
			Nonce:     nonce,
			ReturnURL: safeReturnURL(r.URL.Query().Get("return_to"), s.config.PostLoginURL),
		}
		opts := []oauth2.AuthCodeOption{oidc.Nonce(nonce)}
		if s.config.OIDC.UsePKCE {
			authState.CodeVerifier = oauth2.GenerateVerifier()
			opts = append(opts, oauth2.S256ChallengeOption(authState.CodeVerifier))
		}

		if err := s.authState.Upsert(state, authState); err != nil {
			log.Err(err).Msg("Failed to store login attempt")
			http.Error(w, "Failed to start login", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, s.oidc.OAuth2Config.AuthCodeURL(state, opts...), http.StatusFound)
	}
}
