package hooks

import (
	"context"
	"time"
)

// Hook is a best-effort side effect run after a successful login
type Hook interface {
	Name() string
	Deliver(ctx context.Context, event LoginEvent) error
}

// Registration binds a hook to its delivery limits. Registrations are fixed at startup.
type Registration struct {
	Hook       Hook
	Timeout    time.Duration
	MaxRetries int
}

// HookFunc adapts a function to the Hook interface
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, event LoginEvent) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) Deliver(ctx context.Context, event LoginEvent) error {
	return h.Fn(ctx, event)
}
