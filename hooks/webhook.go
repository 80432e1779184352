package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
)

const (
	contentTypeJSON  = "application/json"
	webhookUserAgent = "oidc-gateway-webhook/1"
	maxDrainBytes    = 64 << 10
)

// webhookPayload is the flat JSON document POSTed for each login
type webhookPayload struct {
	Event            string            `json:"event"`
	EventID          string            `json:"eventId"`
	UserID           string            `json:"userId"`
	Username         string            `json:"username"`
	Issuer           string            `json:"issuer"`
	ClientID         string            `json:"clientId"`
	Timestamp        time.Time         `json:"timestamp"`
	CustomAttributes map[string]string `json:"customAttributes"`
}

// WebhookHook POSTs the login event as JSON to a fixed endpoint. Any non-2xx status or
// transport failure is a DeliveryError. Payloads are not signed, so endpoints should only
// be reachable on a trusted network.
type WebhookHook struct {
	name     string
	endpoint string
	headers  map[string]string
	client   *http.Client
}

type WebhookOption func(*WebhookHook)

// WithClient sets the HTTP client used for delivery. The hook works on a copy of client
// that does not follow redirects.
func WithClient(client *http.Client) WebhookOption {
	return func(h *WebhookHook) { h.client = client }
}

// WithHeaders adds static request headers to every delivery
func WithHeaders(headers map[string]string) WebhookOption {
	return func(h *WebhookHook) { h.headers = headers }
}

// NewWebhookHook creates a webhook hook delivering to endpoint
func NewWebhookHook(name, endpoint string, opts ...WebhookOption) *WebhookHook {
	h := &WebhookHook{
		name:     name,
		endpoint: endpoint,
		client:   cleanhttp.DefaultPooledClient(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.client = withoutRedirects(h.client)
	return h
}

// withoutRedirects returns a copy of client that hands 3xx responses back to the caller,
// so a redirecting endpoint counts as a failed delivery.
func withoutRedirects(client *http.Client) *http.Client {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &c
}

func (h *WebhookHook) Name() string { return h.name }

// Deliver issues a single POST of event to the hook's endpoint
func (h *WebhookHook) Deliver(ctx context.Context, event LoginEvent) error {
	body, err := json.Marshal(webhookPayload{
		Event:            EventLoginSuccess,
		EventID:          event.ID,
		UserID:           event.Subject,
		Username:         event.Username,
		Issuer:           event.Issuer,
		ClientID:         event.ClientID,
		Timestamp:        event.Timestamp,
		CustomAttributes: event.Attributes(),
	})
	if err != nil {
		return &apperrors.DeliveryError{Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return &apperrors.DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", webhookUserAgent)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return &apperrors.DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apperrors.DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}
