package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/rs/zerolog/log"
)

const (
	// loggedInSessionID is the name of the cookie carrying the login session id
	loggedInSessionID = "loggedInSessionId"

	contentTypeJSON = "application/json"
)

// randomSource supplies the bytes behind state and nonce values
var randomSource io.Reader = rand.Reader

// generateRandomString creates a random base64url string from length random bytes
func generateRandomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := io.ReadFull(randomSource, b); err != nil {
		return "", apperrors.Wrapf(err, "failed to read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Server) SetLoginSessionCookie(w http.ResponseWriter, sessionID string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     loggedInSessionID,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

func (s *Server) ClearLoginSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     loggedInSessionID,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// loginSessionID returns the session id from the request cookie, or "" when absent
func loginSessionID(r *http.Request) string {
	cookie, err := r.Cookie(loggedInSessionID)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// safeReturnURL accepts only a same-origin relative path; anything else yields fallback
func safeReturnURL(returnTo, fallback string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") {
		return fallback
	}
	// "//host" and "/\host" are treated as absolute by browsers
	if strings.HasPrefix(returnTo, "//") || strings.HasPrefix(returnTo, "/\\") {
		return fallback
	}
	u, err := url.Parse(returnTo)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return returnTo
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}
