package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Deliveries *prometheus.CounterVec
	Events     *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerbridge_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by outcome",
		}, []string{"outcome"}),
		Events: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerbridge_webhook_events_total",
			Help: "Total number of webhook events by processing result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncDelivery(outcome string) {
	m.Deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncEvent(result string) {
	m.Events.WithLabelValues(result).Inc()
}
