// Package oidctest runs an in-process OpenID Connect provider for tests. It serves
// discovery, a JSON Web Key Set, an auto-approving authorize endpoint and a token
// endpoint that mints RS256 ID tokens.
package oidctest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-gateway/token/jwt"
	"github.com/jrsteele09/go-oidc-gateway/token/keys"
)

const (
	PathDiscovery  = "/.well-known/openid-configuration"
	PathJWKS       = "/protocol/openid-connect/certs"
	PathAuthorize  = "/protocol/openid-connect/auth"
	PathToken      = "/protocol/openid-connect/token"
	PathEndSession = "/protocol/openid-connect/logout"

	contentTypeJSON = "application/json"
)

// tokenResponse is the token endpoint response body (RFC 6749 section 5.1)
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// Grant is what the provider asserts when a code is redeemed
type Grant struct {
	Subject string
	Nonce   string
	Claims  map[string]any

	codeChallenge string
	redirectURI   string
}

// Provider is a test OpenID Connect provider. Create it with Start.
type Provider struct {
	server       *httptest.Server
	clientID     string
	clientSecret string

	mu            sync.Mutex
	signer        *keys.KeyPairSigner
	published     []*keys.KeyPair
	codes         map[string]Grant
	identity      Grant
	tokenIssuer   string
	tokenAudience []string
	tokenStatus   int
	tokenDelay    time.Duration
	omitIDToken   bool
	tokenRequests int
	jwksRequests  int
}

// Start launches a provider for the given client registration and stops it when the test ends.
// An empty clientSecret registers a public client.
func Start(t testing.TB, clientID, clientSecret string) *Provider {
	t.Helper()

	p := &Provider{
		clientID:     clientID,
		clientSecret: clientSecret,
		codes:        make(map[string]Grant),
		identity: Grant{
			Subject: "alice-id",
			Claims: map[string]any{
				"preferred_username": "alice",
				"email":              "alice@example.com",
				"name":               "Alice Example",
			},
		},
	}
	if err := p.RotateKey(); err != nil {
		t.Fatalf("oidctest: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathDiscovery, p.discovery)
	mux.HandleFunc("GET "+PathJWKS, p.jwks)
	mux.HandleFunc("GET "+PathAuthorize, p.authorize)
	mux.HandleFunc("POST "+PathToken, p.token)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// Issuer returns the issuer URL advertised in discovery
func (p *Provider) Issuer() string { return p.server.URL }

// Client returns an HTTP client for the provider's server
func (p *Provider) Client() *http.Client { return p.server.Client() }

// IssueCode registers an authorization code directly, bypassing the authorize endpoint
func (p *Provider) IssueCode(code string, grant Grant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[code] = grant
}

// SetTokenIssuer makes minted ID tokens carry iss instead of the discovered issuer
func (p *Provider) SetTokenIssuer(iss string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenIssuer = iss
}

// SetTokenAudience makes minted ID tokens carry aud instead of the client id
func (p *Provider) SetTokenAudience(aud ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenAudience = aud
}

// FailTokenEndpoint makes the token endpoint answer with status; zero restores normal behaviour
func (p *Provider) FailTokenEndpoint(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// SetTokenDelay delays every token response
func (p *Provider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// OmitIDToken makes the token endpoint answer without an id_token
func (p *Provider) OmitIDToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// RotateKey replaces the signing key. Only the new key is published.
func (p *Provider) RotateKey() error {
	kp, err := keys.GenerateRSAKeyPair(uuid.NewString(), 2048)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signer = keys.NewKeyPairSigner(kp)
	p.published = []*keys.KeyPair{kp}
	return nil
}

// TokenRequests returns how many token requests were received
func (p *Provider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// JWKSRequests returns how many key set requests were received
func (p *Provider) JWKSRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksRequests
}

// PendingCodes returns how many issued codes have not been redeemed
func (p *Provider) PendingCodes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.codes)
}

func (p *Provider) discovery(w http.ResponseWriter, _ *http.Request) {
	issuer := p.Issuer()
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + PathAuthorize,
		"token_endpoint":                        issuer + PathToken,
		"jwks_uri":                              issuer + PathJWKS,
		"end_session_endpoint":                  issuer + PathEndSession,
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{keys.RS256},
		"code_challenge_methods_supported":      []string{"S256"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
	})
}

func (p *Provider) jwks(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	p.jwksRequests++
	set, err := keys.JWKS(p.published...)
	p.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// authorize approves every request for the configured identity and redirects back with a code
func (p *Provider) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != p.clientID {
		http.Error(w, "unknown client", http.StatusBadRequest)
		return
	}
	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported response_type", http.StatusBadRequest)
		return
	}
	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirectURI.Host == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if method := q.Get("code_challenge_method"); method != "" && method != "S256" {
		http.Error(w, "unsupported code_challenge_method", http.StatusBadRequest)
		return
	}

	code := uuid.NewString()
	p.mu.Lock()
	grant := p.identity
	grant.Nonce = q.Get("nonce")
	grant.codeChallenge = q.Get("code_challenge")
	grant.redirectURI = redirectURI.String()
	p.codes[code] = grant
	p.mu.Unlock()

	back := redirectURI.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	redirectURI.RawQuery = back.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.tokenRequests++
	status, delay := p.tokenStatus, p.tokenDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "server_error"})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if !p.authenticateClient(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	code := r.PostForm.Get("code")
	p.mu.Lock()
	grant, ok := p.codes[code]
	delete(p.codes, code)
	signer, issuer, audience, omit := p.signer, p.tokenIssuer, p.tokenAudience, p.omitIDToken
	p.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	if grant.redirectURI != "" && r.PostForm.Get("redirect_uri") != grant.redirectURI {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	if grant.codeChallenge != "" && s256(r.PostForm.Get("code_verifier")) != grant.codeChallenge {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "PKCE verification failed"})
		return
	}

	if issuer == "" {
		issuer = p.Issuer()
	}
	if len(audience) == 0 {
		audience = []string{p.clientID}
	}
	extra := make(map[string]any, len(grant.Claims))
	for k, v := range grant.Claims {
		extra[k] = v
	}
	idToken, err := jwt.NewCreator(signer).CreateIDToken(jwt.IDTokenRequest{
		Issuer:   issuer,
		Subject:  grant.Subject,
		Audience: audience,
		Nonce:    grant.Nonce,
		Expiry:   5 * time.Minute,
		Extra:    extra,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	resp := tokenResponse{
		AccessToken: uuid.NewString(),
		TokenType:   "Bearer",
		ExpiresIn:   300,
		Scope:       "openid profile email",
	}
	if !omit {
		resp.IDToken = idToken
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) authenticateClient(r *http.Request) bool {
	id, secret, ok := r.BasicAuth()
	if ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	} else {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	return id == p.clientID && secret == p.clientSecret
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":"server_error"}`)
	}
}
