package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login outcome labels
const (
	LoginSuccess       = "success"
	LoginInvalidState  = "invalid_state"
	LoginInvalidToken  = "invalid_token"
	LoginUpstreamError = "upstream_error"
	LoginInternalError = "internal_error"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	Logins          *prometheus.CounterVec
	HookDeliveries  *prometheus.CounterVec
	HookAttempts    *prometheus.CounterVec
	KeyRefreshes    *prometheus.CounterVec
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)
	m.gatherer = reg
	return m
}

// NewWithRegisterer registers all metrics on reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oidc_gateway_logins_total",
			Help: "Login attempts completed at the callback, by outcome",
		}, []string{"outcome"}),
		HookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oidc_gateway_hook_deliveries_total",
			Help: "Login hook outcomes, by hook and status",
		}, []string{"hook", "status"}),
		HookAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oidc_gateway_hook_attempts_total",
			Help: "Individual login hook delivery attempts, by hook",
		}, []string{"hook"}),
		KeyRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oidc_gateway_jwks_refreshes_total",
			Help: "Signing key set refreshes, by result",
		}, []string{"result"}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "oidc_gateway_sessions_created_total",
			Help: "Sessions created after a successful login",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "oidc_gateway_sessions_evicted_total",
			Help: "Expired sessions removed by the sweeper",
		}),
	}
}

// Gatherer returns the registry backing these metrics. Metrics built with
// NewWithRegisterer are served from the default gatherer.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return m.gatherer
}

// ObserveLogin records a callback outcome
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

// ObserveHook records the final status of one hook for one login
func (m *Metrics) ObserveHook(hook, status string, attempts int) {
	if m == nil {
		return
	}
	m.HookDeliveries.WithLabelValues(hook, status).Inc()
	if attempts > 0 {
		m.HookAttempts.WithLabelValues(hook).Add(float64(attempts))
	}
}

// ObserveKeyRefresh records a JWKS fetch result
func (m *Metrics) ObserveKeyRefresh(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.KeyRefreshes.WithLabelValues(result).Inc()
}

// IncrementSessionsCreated increments the sessions created counter by 1
func (m *Metrics) IncrementSessionsCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// AddSessionsEvicted adds n to the evicted sessions counter
func (m *Metrics) AddSessionsEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsEvicted.Add(float64(n))
}
