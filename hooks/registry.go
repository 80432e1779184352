package hooks

import (
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-oidc-gateway/internal/config"
)

// FromConfig builds the hook registrations described by cfg. Webhooks deliver through a copy
// of client that does not follow redirects.
func FromConfig(cfg config.Hooks, client *http.Client) ([]Registration, error) {
	registrations := make([]Registration, 0, len(cfg.Hooks))
	for _, hc := range cfg.Hooks {
		var hook Hook
		switch hc.Type {
		case config.HookTypeWebhook, "":
			opts := []WebhookOption{WithHeaders(hc.Headers)}
			if client != nil {
				opts = append(opts, WithClient(client))
			}
			hook = NewWebhookHook(hc.Name, hc.Endpoint, opts...)
		case config.HookTypeLog:
			hook = NewLogHook(hc.Name)
		default:
			return nil, fmt.Errorf("hook %q: unknown type %q", hc.Name, hc.Type)
		}
		registrations = append(registrations, Registration{
			Hook:       hook,
			Timeout:    hc.Timeout,
			MaxRetries: hc.MaxRetries,
		})
	}
	return registrations, nil
}
