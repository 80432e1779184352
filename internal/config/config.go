package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Config is the process-wide configuration. It is built once by Load at startup
// and handed to every component by pointer; nothing mutates it afterwards.
type Config struct {
	Port     string
	AppName  string
	Env      string
	LogLevel string

	OIDC     OIDC
	Sessions Sessions
	Hooks    Hooks

	StateTTL       time.Duration
	PostLoginURL   string
	CookieSecure   bool
	AllowedOrigins AllowedOrigins
}

// OIDC holds the relying-party registration at the identity provider.
type OIDC struct {
	IssuerURL         string
	ClientID          string
	ClientSecret      string
	PublicClient      bool
	RedirectURL       string
	Scopes            []string
	UsePKCE           bool
	UpstreamTimeout   time.Duration
	ClaimAttributes   []string
	SigningAlgorithms []string
}

// SupportedSigningAlgorithms lists the ID token algorithms the verifier can check
var SupportedSigningAlgorithms = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256"}

type Sessions struct {
	TTL           time.Duration
	Store         string
	SweepInterval time.Duration
	RedisAddr     string
}

// Hooks holds the login hook registrations and dispatch limits.
type Hooks struct {
	DispatchTimeout time.Duration `yaml:"dispatchTimeout"`
	RetryBackoff    time.Duration `yaml:"retryBackoff"`
	Hooks           []HookConfig  `yaml:"hooks"`
}

const (
	HookTypeWebhook = "webhook"
	HookTypeLog     = "log"
)

type HookConfig struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Endpoint   string            `yaml:"endpoint"`
	Timeout    time.Duration     `yaml:"timeout"`
	MaxRetries int               `yaml:"maxRetries"`
	Headers    map[string]string `yaml:"headers"`
}

// IsDev reports whether the process runs in the development environment
func (c *Config) IsDev() bool {
	return c.Env == "DEV"
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.OIDC.IssuerURL == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", issuerURLVar))
	} else if _, err := url.ParseRequestURI(c.OIDC.IssuerURL); err != nil {
		result = multierror.Append(result, apperrors.Wrapf(err, "%s", issuerURLVar))
	}
	if c.OIDC.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", clientIDVar))
	}
	if c.OIDC.PublicClient {
		if c.OIDC.ClientSecret != "" {
			result = multierror.Append(result, fmt.Errorf("public clients must not set %s", clientSecretVar))
		}
		if !c.OIDC.UsePKCE {
			result = multierror.Append(result, fmt.Errorf("public clients require PKCE"))
		}
	} else if c.OIDC.ClientSecret == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required for confidential clients", clientSecretVar))
	}
	if _, err := url.ParseRequestURI(c.OIDC.RedirectURL); err != nil {
		result = multierror.Append(result, apperrors.Wrapf(err, "%s", redirectURLVar))
	}
	if !containsScope(c.OIDC.Scopes, "openid") {
		result = multierror.Append(result, fmt.Errorf("%s must include openid", scopesVar))
	}
	if c.OIDC.UpstreamTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s must be positive", upstreamTimeoutVar))
	}
	if len(c.OIDC.SigningAlgorithms) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s must list at least one algorithm", signingAlgsVar))
	}
	for _, alg := range c.OIDC.SigningAlgorithms {
		if !slices.Contains(SupportedSigningAlgorithms, alg) {
			result = multierror.Append(result, fmt.Errorf("%s: unsupported algorithm %q", signingAlgsVar, alg))
		}
	}

	if c.Sessions.TTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s must be positive", sessionTTLVar))
	}
	if c.Sessions.SweepInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s must be positive", sweepIntervalVar))
	}
	switch c.Sessions.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Sessions.RedisAddr == "" {
			result = multierror.Append(result, fmt.Errorf("%s is required for the redis session store", redisAddrVar))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("%s: unknown store %q", sessionStoreVar, c.Sessions.Store))
	}
	if c.StateTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s must be positive", stateTTLVar))
	}

	if err := c.Hooks.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidConfig, err)
	}
	return nil
}

func (h Hooks) validate() error {
	var result *multierror.Error
	if h.DispatchTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("hook dispatch timeout must be positive"))
	}
	if h.RetryBackoff < 0 {
		result = multierror.Append(result, fmt.Errorf("hook retry backoff must not be negative"))
	}
	names := make(map[string]struct{}, len(h.Hooks))
	for i, hook := range h.Hooks {
		if hook.Name == "" {
			result = multierror.Append(result, fmt.Errorf("hook %d: name is required", i))
		} else if _, dup := names[hook.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("hook %q: duplicate name", hook.Name))
		}
		names[hook.Name] = struct{}{}

		switch hook.Type {
		case HookTypeWebhook:
			if u, err := url.ParseRequestURI(hook.Endpoint); err != nil || u.Host == "" {
				result = multierror.Append(result, fmt.Errorf("hook %q: invalid endpoint %q", hook.Name, hook.Endpoint))
			}
		case HookTypeLog:
		default:
			result = multierror.Append(result, fmt.Errorf("hook %q: unknown type %q", hook.Name, hook.Type))
		}
		if hook.Timeout <= 0 {
			result = multierror.Append(result, fmt.Errorf("hook %q: timeout must be positive", hook.Name))
		}
		if hook.MaxRetries < 0 {
			result = multierror.Append(result, fmt.Errorf("hook %q: maxRetries must not be negative", hook.Name))
		}
	}
	return result.ErrorOrNil()
}

func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
