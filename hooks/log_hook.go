package hooks

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogHook writes each login event to the process log
type LogHook struct {
	name string
}

func NewLogHook(name string) *LogHook {
	return &LogHook{name: name}
}

func (h *LogHook) Name() string { return h.name }

func (h *LogHook) Deliver(_ context.Context, event LoginEvent) error {
	log.Info().
		Str("hook", h.name).
		Str("event", EventLoginSuccess).
		Str("event_id", event.ID).
		Str("user_id", event.Subject).
		Str("username", event.Username).
		Str("issuer", event.Issuer).
		Str("client_id", event.ClientID).
		Interface("custom_attributes", event.CustomAttributes).
		Msg("User logged in")
	return nil
}
