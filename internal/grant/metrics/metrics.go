package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TokenRefreshes       prometheus.Counter
	TokenRefreshFailures prometheus.Counter
	RefreshDuration      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		TokenRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgerbridge_token_refreshes_total",
			Help: "Total number of successful token refreshes",
		}),
		TokenRefreshFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgerbridge_token_refresh_failures_total",
			Help: "Total number of failed token refreshes (terminal and transient)",
		}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgerbridge_token_refresh_duration_seconds",
			Help:    "Duration of token refresh round trips (OAuth critical path)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncRefreshes() {
	m.TokenRefreshes.Inc()
}

func (m *Metrics) IncRefreshFailures() {
	m.TokenRefreshFailures.Inc()
}

func (m *Metrics) ObserveRefresh(start time.Time) {
	m.RefreshDuration.Observe(time.Since(start).Seconds())
}
