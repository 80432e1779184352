package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/go-oidc-gateway/hooks"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/jrsteele09/go-oidc-gateway/internal/metrics"
	"github.com/jrsteele09/go-oidc-gateway/server/authflowrepo"
	"github.com/jrsteele09/go-oidc-gateway/server/loginsession"
	"github.com/jrsteele09/go-oidc-gateway/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// callbackParams are the values the provider sends back to the redirect URI
type callbackParams struct {
	state     string
	code      string
	errorCode string
	errorDesc string
}

// completedLogin is the result of a successful callback
type completedLogin struct {
	sessionID string
	returnURL string
}

// OAuthCallbackHandler completes a login attempt. The steps run strictly in order:
// consume the state, exchange the code, verify the ID token, create the session,
// dispatch the login hooks. If the browser disconnects midway the steps still run to
// completion so the authorization code is not left dangling, but no response is written.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue works for both query params and POST form data
		params := callbackParams{
			state:     r.FormValue("state"),
			code:      r.FormValue("code"),
			errorCode: r.FormValue("error"),
			errorDesc: r.FormValue("error_description"),
		}

		login, err := s.completeLogin(context.WithoutCancel(r.Context()), params)
		s.metrics.ObserveLogin(loginOutcome(err))

		if r.Context().Err() != nil {
			log.Warn().Err(err).Msg("Client disconnected during callback, response suppressed")
			return
		}

		if err != nil {
			s.writeLoginError(w, err)
			return
		}

		s.SetLoginSessionCookie(w, login.sessionID, s.config.Sessions.TTL)
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, login.returnURL, http.StatusFound)
	}
}

func (s *Server) completeLogin(ctx context.Context, params callbackParams) (completedLogin, error) {
	if params.state == "" {
		return completedLogin{}, fmt.Errorf("%w: missing state parameter", apperrors.ErrInvalidState)
	}

	authState, err := s.authState.Consume(params.state)
	if err != nil {
		return completedLogin{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidState, err)
	}

	// The state is genuine, so an error here came from the provider
	if params.errorCode != "" {
		return completedLogin{}, apperrors.NewUpstreamError("authorize",
			fmt.Errorf("provider returned %s: %s", params.errorCode, params.errorDesc))
	}
	if params.code == "" {
		return completedLogin{}, apperrors.NewUpstreamError("authorize", fmt.Errorf("provider returned no code"))
	}

	rawIDToken, err := s.exchangeCode(ctx, params.code, authState)
	if err != nil {
		return completedLogin{}, err
	}

	claims, err := s.oidc.Verifier.Verify(ctx, rawIDToken, token.Expected{
		Issuer:   s.config.OIDC.IssuerURL,
		Audience: s.config.OIDC.ClientID,
		Nonce:    authState.Nonce,
	})
	if err != nil {
		return completedLogin{}, err
	}

	subject, _ := claims["sub"].(string)
	sessionID, err := s.loginSessions.Create(ctx, loginsession.Session{
		Subject:  subject,
		Issuer:   s.config.OIDC.IssuerURL,
		ClientID: s.config.OIDC.ClientID,
		Claims:   claims,
		IDToken:  rawIDToken,
	}, s.config.Sessions.TTL)
	if err != nil {
		return completedLogin{}, apperrors.Wrapf(err, "failed to create session")
	}
	s.metrics.IncrementSessionsCreated()

	event := hooks.NewLoginEvent(claims, s.config.OIDC.IssuerURL, s.config.OIDC.ClientID, s.config.OIDC.ClaimAttributes, time.Now())
	report := s.dispatcher.Dispatch(ctx, event)
	if failed := report.Failed(); len(failed) > 0 {
		log.Warn().Str("event_id", report.EventID).Int("failed", len(failed)).Int("hooks", len(report.Outcomes)).Msg("Some login hooks did not complete")
	}

	log.Info().Str("subject", subject).Str("event_id", event.ID).Msg("Login completed")
	return completedLogin{sessionID: sessionID, returnURL: authState.ReturnURL}, nil
}

// exchangeCode redeems the authorization code and returns the raw ID token
func (s *Server) exchangeCode(ctx context.Context, code string, authState *authflowrepo.AuthFlowState) (string, error) {
	if s.config.OIDC.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.OIDC.UpstreamTimeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	var opts []oauth2.AuthCodeOption
	if authState.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(authState.CodeVerifier))
	}

	oauth2Token, err := s.oidc.OAuth2Config.Exchange(ctx, code, opts...)
	if err != nil {
		return "", apperrors.NewUpstreamError("token exchange", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", apperrors.NewUpstreamError("token exchange", fmt.Errorf("no id_token in token response"))
	}
	return rawIDToken, nil
}

// writeLoginError maps a failed login to its response. Which token check failed is
// logged but never shown to the browser.
func (s *Server) writeLoginError(w http.ResponseWriter, err error) {
	var tokenErr *apperrors.TokenError
	switch {
	case apperrors.Is(err, apperrors.ErrInvalidState):
		log.Warn().Err(err).Msg("Login rejected: invalid state")
		http.Error(w, "Login failed, please retry", http.StatusBadRequest)
	case apperrors.As(err, &tokenErr):
		log.Warn().Err(err).Str("reason", string(tokenErr.Reason)).Msg("Login rejected: invalid ID token")
		http.Error(w, "Login failed, please retry", http.StatusBadRequest)
	case apperrors.Is(err, apperrors.ErrUpstream):
		log.Error().Err(err).Msg("Login failed: identity provider error")
		http.Error(w, "Identity provider unavailable, please retry", http.StatusBadGateway)
	default:
		log.Err(err).Msg("Login failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.LoginSuccess
	case apperrors.Is(err, apperrors.ErrInvalidState):
		return metrics.LoginInvalidState
	case apperrors.Is(err, apperrors.ErrInvalidToken):
		return metrics.LoginInvalidToken
	case apperrors.Is(err, apperrors.ErrUpstream):
		return metrics.LoginUpstreamError
	default:
		return metrics.LoginInternalError
	}
}
