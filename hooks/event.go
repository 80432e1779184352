package hooks

import (
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventLoginSuccess is the event name sent for every completed login
const EventLoginSuccess = "LOGIN_SUCCESS"

// LoginEvent describes one successful login. It is built once per login and passed by value.
type LoginEvent struct {
	ID               string
	Subject          string
	Username         string
	Issuer           string
	ClientID         string
	Timestamp        time.Time
	CustomAttributes map[string]string
}

// NewLoginEvent builds the event for a verified set of ID token claims. The claims
// named in attributeClaims are copied into CustomAttributes when present.
func NewLoginEvent(claims map[string]any, issuer, clientID string, attributeClaims []string, now time.Time) LoginEvent {
	subject, _ := claims["sub"].(string)
	event := LoginEvent{
		ID:               uuid.NewString(),
		Subject:          subject,
		Username:         usernameFrom(claims),
		Issuer:           issuer,
		ClientID:         clientID,
		Timestamp:        now.UTC(),
		CustomAttributes: make(map[string]string, len(attributeClaims)),
	}
	for _, name := range attributeClaims {
		if v, ok := claimString(claims[name]); ok {
			event.CustomAttributes[name] = v
		}
	}
	return event
}

// Attributes returns a copy of the custom attributes so hooks cannot mutate the shared event
func (e LoginEvent) Attributes() map[string]string {
	if e.CustomAttributes == nil {
		return map[string]string{}
	}
	return maps.Clone(e.CustomAttributes)
}

func usernameFrom(claims map[string]any) string {
	for _, name := range []string{"preferred_username", "email", "sub"} {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// claimString renders scalar claim values; objects and arrays are skipped.
func claimString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int, int64, int32:
		return fmt.Sprintf("%d", t), true
	default:
		return "", false
	}
}
