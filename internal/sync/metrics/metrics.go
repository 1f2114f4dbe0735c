package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Jobs          *prometheus.CounterVec
	FetchDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Jobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerbridge_sync_jobs_total",
			Help: "Total number of processed sync jobs by result",
		}, []string{"result"}),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgerbridge_sync_fetch_duration_seconds",
			Help:    "Duration of provider resource fetches",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncJob(result string) {
	m.Jobs.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFetch(start time.Time) {
	m.FetchDuration.Observe(time.Since(start).Seconds())
}
