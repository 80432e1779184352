package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	envVar         = "ENV"
	logLevelVar    = "LOG_LEVEL"
	stateTTLVar    = "STATE_TTL"
	postLoginVar   = "POST_LOGIN_URL"
	cookieSecVar   = "COOKIE_SECURE"
	originsVar     = "ALLOWED_ORIGINS"
	hooksFileVar   = "HOOKS_FILE"
	dispatchTOVar  = "HOOK_DISPATCH_TIMEOUT"
	retryBackoffVr = "HOOK_RETRY_BACKOFF"

	issuerURLVar       = "OIDC_ISSUER_URL"
	clientIDVar        = "OIDC_CLIENT_ID"
	clientSecretVar    = "OIDC_CLIENT_SECRET"
	publicClientVar    = "OIDC_PUBLIC_CLIENT"
	redirectURLVar     = "OIDC_REDIRECT_URL"
	scopesVar          = "OIDC_SCOPES"
	usePKCEVar         = "OIDC_USE_PKCE"
	upstreamTimeoutVar = "OIDC_UPSTREAM_TIMEOUT"
	claimAttrsVar      = "OIDC_CLAIM_ATTRIBUTES"
	signingAlgsVar     = "OIDC_SIGNING_ALGS"

	sessionTTLVar    = "SESSION_TTL"
	sessionStoreVar  = "SESSION_STORE"
	sweepIntervalVar = "SESSION_SWEEP_INTERVAL"
	redisAddrVar     = "REDIS_ADDR"
)

// Load reads the configuration from the environment (and HOOKS_FILE when set) and validates it.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an injectable variable lookup.
func LoadFrom(getenv func(string) string) (*Config, error) {
	e := envReader{getenv: getenv}

	c := &Config{
		Port:     e.str(portEnvVar, "8080"),
		AppName:  e.str(appNameVar, "OIDC Gateway"),
		Env:      e.str(envVar, "DEV"),
		LogLevel: e.str(logLevelVar, "info"),
		OIDC: OIDC{
			IssuerURL:         e.str(issuerURLVar, ""),
			ClientID:          e.str(clientIDVar, ""),
			ClientSecret:      e.str(clientSecretVar, ""),
			PublicClient:      e.boolean(publicClientVar, false),
			RedirectURL:       e.str(redirectURLVar, "http://localhost:8080/callback"),
			Scopes:            strings.Fields(e.str(scopesVar, "openid profile email")),
			UsePKCE:           e.boolean(usePKCEVar, true),
			UpstreamTimeout:   e.duration(upstreamTimeoutVar, 10*time.Second),
			ClaimAttributes:   splitList(e.str(claimAttrsVar, "")),
			SigningAlgorithms: splitList(e.str(signingAlgsVar, "RS256")),
		},
		Sessions: Sessions{
			TTL:           e.duration(sessionTTLVar, 8*time.Hour),
			Store:         e.str(sessionStoreVar, SessionStoreMemory),
			SweepInterval: e.duration(sweepIntervalVar, time.Minute),
			RedisAddr:     e.str(redisAddrVar, "localhost:6379"),
		},
		Hooks: Hooks{
			DispatchTimeout: e.duration(dispatchTOVar, 10*time.Second),
			RetryBackoff:    e.duration(retryBackoffVr, 200*time.Millisecond),
		},
		StateTTL:       e.duration(stateTTLVar, 5*time.Minute),
		PostLoginURL:   e.str(postLoginVar, "/"),
		CookieSecure:   e.boolean(cookieSecVar, false),
		AllowedOrigins: NewAllowedOrigins(splitList(e.str(originsVar, ""))...),
	}

	if path := e.str(hooksFileVar, ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			e.errs = multierror.Append(e.errs, apperrors.Wrapf(err, "%s", hooksFileVar))
		} else if err := c.Hooks.Merge(data); err != nil {
			e.errs = multierror.Append(e.errs, apperrors.Wrapf(err, "%s", hooksFileVar))
		}
	}

	if err := e.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Merge overlays a YAML hooks document on h. Limits left unset in the document keep their current value.
func (h *Hooks) Merge(data []byte) error {
	var file Hooks
	if err := yaml.Unmarshal(data, &file); err != nil {
		return apperrors.Wrapf(err, "failed to parse hooks")
	}
	if file.DispatchTimeout != 0 {
		h.DispatchTimeout = file.DispatchTimeout
	}
	if file.RetryBackoff != 0 {
		h.RetryBackoff = file.RetryBackoff
	}
	for _, hook := range file.Hooks {
		if hook.Type == "" {
			hook.Type = HookTypeWebhook
		}
		h.Hooks = append(h.Hooks, hook)
	}
	return nil
}

// envReader collects parse errors so that Load can report all bad variables at once.
type envReader struct {
	getenv func(string) string
	errs   *multierror.Error
}

func (e *envReader) str(name, defaultValue string) string {
	value := e.getenv(name)
	if value == "" {
		return defaultValue
	}
	return value
}

func (e *envReader) boolean(name string, defaultValue bool) bool {
	value := e.getenv(name)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = multierror.Append(e.errs, apperrors.Wrapf(err, "%s", name))
		return defaultValue
	}
	return b
}

func (e *envReader) duration(name string, defaultValue time.Duration) time.Duration {
	value := e.getenv(name)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = multierror.Append(e.errs, apperrors.Wrapf(err, "%s", name))
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
