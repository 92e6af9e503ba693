package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type webhookMetrics struct {
	deliveries *prometheus.CounterVec
}

var (
	webhookMetricsOnce sync.Once
	webhookRegistry    *webhookMetrics
)

// Webhooks returns the metrics registry tracking outbound event deliveries.
func Webhooks() *webhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookRegistry = &webhookMetrics{
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settlementd",
				Subsystem: "webhook",
				Name:      "deliveries_total",
				Help:      "Webhook delivery attempts segmented by event type and outcome.",
			}, []string{"event", "outcome"}),
		}
		prometheus.MustRegister(webhookRegistry.deliveries)
	})
	return webhookRegistry
}

// RecordDelivery counts a delivery attempt.
func (m *webhookMetrics) RecordDelivery(event, outcome string) {
	if m == nil {
		return
	}
	event = strings.TrimSpace(event)
	if event == "" {
		event = "unknown"
	}
	m.deliveries.WithLabelValues(event, outcome).Inc()
}
