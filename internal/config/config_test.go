package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-gateway/internal/config"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/stretchr/testify/require"
)

func envFrom(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"OIDC_ISSUER_URL":    "https://idp.example.com/realms/demo",
		"OIDC_CLIENT_ID":     "gateway",
		"OIDC_CLIENT_SECRET": "s3cret",
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := config.LoadFrom(envFrom(baseEnv()))
	require.NoError(t, err)

	require.Equal(t, ":8080", c.Addr())
	require.True(t, c.IsDev())
	require.Equal(t, []string{"openid", "profile", "email"}, c.OIDC.Scopes)
	require.True(t, c.OIDC.UsePKCE)
	require.Equal(t, []string{"RS256"}, c.OIDC.SigningAlgorithms)
	require.Equal(t, 8*time.Hour, c.Sessions.TTL)
	require.Equal(t, config.SessionStoreMemory, c.Sessions.Store)
	require.Equal(t, 5*time.Minute, c.StateTTL)
	require.Equal(t, 10*time.Second, c.Hooks.DispatchTimeout)
	require.Empty(t, c.Hooks.Hooks)
}

func TestLoadFrom_Overrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = ":9090"
	env["SESSION_TTL"] = "30m"
	env["OIDC_SCOPES"] = "openid email"
	env["OIDC_CLAIM_ATTRIBUTES"] = "department, locale"
	env["ALLOWED_ORIGINS"] = "https://app.example.com,*"
	env["OIDC_SIGNING_ALGS"] = "RS256, ES256"

	c, err := config.LoadFrom(envFrom(env))
	require.NoError(t, err)
	require.Equal(t, ":9090", c.Addr())
	require.Equal(t, 30*time.Minute, c.Sessions.TTL)
	require.Equal(t, []string{"openid", "email"}, c.OIDC.Scopes)
	require.Equal(t, []string{"department", "locale"}, c.OIDC.ClaimAttributes)
	require.Equal(t, []string{"RS256", "ES256"}, c.OIDC.SigningAlgorithms)
	require.True(t, c.AllowedOrigins.IsAllowedOrigin("https://app.example.com"))
	require.True(t, c.AllowedOrigins.IsAllowedOrigin("*"))
}

func TestLoadFrom_Invalid(t *testing.T) {
	t.Run("reports every missing field", func(t *testing.T) {
		_, err := config.LoadFrom(envFrom(map[string]string{}))
		require.Error(t, err)
		require.True(t, apperrors.Is(err, apperrors.ErrInvalidConfig))
		require.Contains(t, err.Error(), "OIDC_ISSUER_URL is required")
		require.Contains(t, err.Error(), "OIDC_CLIENT_ID is required")
		require.Contains(t, err.Error(), "OIDC_CLIENT_SECRET is required")
	})

	t.Run("bad duration", func(t *testing.T) {
		env := baseEnv()
		env["SESSION_TTL"] = "forever"
		_, err := config.LoadFrom(envFrom(env))
		require.Error(t, err)
		require.Contains(t, err.Error(), "SESSION_TTL")
	})

	t.Run("public client with secret", func(t *testing.T) {
		env := baseEnv()
		env["OIDC_PUBLIC_CLIENT"] = "true"
		_, err := config.LoadFrom(envFrom(env))
		require.Error(t, err)
		require.Contains(t, err.Error(), "public clients must not set")
	})

	t.Run("public client without secret", func(t *testing.T) {
		env := baseEnv()
		env["OIDC_PUBLIC_CLIENT"] = "true"
		delete(env, "OIDC_CLIENT_SECRET")
		c, err := config.LoadFrom(envFrom(env))
		require.NoError(t, err)
		require.True(t, c.OIDC.PublicClient)
	})

	t.Run("scopes without openid", func(t *testing.T) {
		env := baseEnv()
		env["OIDC_SCOPES"] = "profile"
		_, err := config.LoadFrom(envFrom(env))
		require.Error(t, err)
		require.Contains(t, err.Error(), "must include openid")
	})

	t.Run("unsupported signing algorithm", func(t *testing.T) {
		env := baseEnv()
		env["OIDC_SIGNING_ALGS"] = "RS256,HS256"
		_, err := config.LoadFrom(envFrom(env))
		require.Error(t, err)
		require.Contains(t, err.Error(), `unsupported algorithm "HS256"`)
	})

	t.Run("bad hooks file path", func(t *testing.T) {
		env := baseEnv()
		env["HOOKS_FILE"] = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := config.LoadFrom(envFrom(env))
		require.ErrorIs(t, err, os.ErrNotExist)
		require.Contains(t, err.Error(), "HOOKS_FILE: ")
	})

	t.Run("unknown session store", func(t *testing.T) {
		env := baseEnv()
		env["SESSION_STORE"] = "memcached"
		_, err := config.LoadFrom(envFrom(env))
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown store")
	})
}

func TestLoadFrom_HooksFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.yaml")
	doc := `
dispatchTimeout: 3s
hooks:
  - name: audit
    endpoint: https://audit.example.com/login
    timeout: 500ms
    maxRetries: 2
    headers:
      X-Source: gateway
  - name: trace
    type: log
    timeout: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	env := baseEnv()
	env["HOOKS_FILE"] = path
	c, err := config.LoadFrom(envFrom(env))
	require.NoError(t, err)

	require.Equal(t, 3*time.Second, c.Hooks.DispatchTimeout)
	require.Equal(t, 200*time.Millisecond, c.Hooks.RetryBackoff)
	require.Len(t, c.Hooks.Hooks, 2)

	audit := c.Hooks.Hooks[0]
	require.Equal(t, "audit", audit.Name)
	require.Equal(t, config.HookTypeWebhook, audit.Type)
	require.Equal(t, 500*time.Millisecond, audit.Timeout)
	require.Equal(t, 2, audit.MaxRetries)
	require.Equal(t, "gateway", audit.Headers["X-Source"])

	require.Equal(t, config.HookTypeLog, c.Hooks.Hooks[1].Type)
}

func TestHooks_Validation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"duplicate names", "hooks:\n- {name: a, type: log, timeout: 1s}\n- {name: a, type: log, timeout: 1s}\n", "duplicate name"},
		{"missing endpoint", "hooks:\n- {name: a, timeout: 1s}\n", "invalid endpoint"},
		{"zero timeout", "hooks:\n- {name: a, type: log}\n", "timeout must be positive"},
		{"negative retries", "hooks:\n- {name: a, type: log, timeout: 1s, maxRetries: -1}\n", "maxRetries must not be negative"},
		{"unknown type", "hooks:\n- {name: a, type: kafka, timeout: 1s}\n", "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hooks.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o600))
			env := baseEnv()
			env["HOOKS_FILE"] = path
			_, err := config.LoadFrom(envFrom(env))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
