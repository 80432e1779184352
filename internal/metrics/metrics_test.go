package metrics_test

import (
	"errors"
	"testing"

	"github.com/jrsteele09/go-oidc-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.ObserveLogin(metrics.LoginSuccess)
		m.ObserveHook("audit", "failed", 3)
		m.ObserveKeyRefresh(errors.New("boom"))
		m.IncrementSessionsCreated()
		m.AddSessionsEvicted(2)
	})
	require.Equal(t, prometheus.DefaultGatherer, m.Gatherer())
}

func TestMetrics_Counts(t *testing.T) {
	m := metrics.New()

	m.ObserveLogin(metrics.LoginSuccess)
	m.ObserveLogin(metrics.LoginSuccess)
	m.ObserveLogin(metrics.LoginInvalidToken)
	m.ObserveKeyRefresh(nil)
	m.IncrementSessionsCreated()
	m.AddSessionsEvicted(4)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Logins.WithLabelValues(metrics.LoginSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Logins.WithLabelValues(metrics.LoginInvalidToken)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCreated))
	require.Equal(t, 4.0, testutil.ToFloat64(m.SessionsEvicted))

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		metrics.New()
		metrics.New()
	})
}
