package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics tracks inbound gateway deliveries through their lifecycle.
type WebhookMetrics struct {
	received   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	processed  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received",
		Help: "Webhook deliveries accepted for processing.",
	}, []string{"gateway"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_duplicate",
		Help: "Webhook deliveries rejected as duplicates.",
	}, []string{"gateway"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_processed",
		Help: "Webhook deliveries processed to completion.",
	}, []string{"gateway"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_failed",
		Help: "Webhook deliveries that exhausted their retries.",
	}, []string{"gateway"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "Time spent processing a webhook delivery.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})
	reg.MustRegister(received, duplicates, processed, failed, duration)
	return &WebhookMetrics{
		received:   received,
		duplicates: duplicates,
		processed:  processed,
		failed:     failed,
		duration:   duration,
	}
}

// IncReceived counts an accepted delivery for the gateway.
func (m *WebhookMetrics) IncReceived(gateway string) {
	if m == nil || m.received == nil {
		return
	}
	m.received.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// IncDuplicate counts a delivery deduplicated by event id.
func (m *WebhookMetrics) IncDuplicate(gateway string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// IncProcessed counts a delivery that reached a terminal completed state.
func (m *WebhookMetrics) IncProcessed(gateway string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// IncFailed counts a delivery that failed permanently.
func (m *WebhookMetrics) IncFailed(gateway string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// ObserveProcessing records the processing time for one delivery.
func (m *WebhookMetrics) ObserveProcessing(gateway string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(gateway)).Observe(duration.Seconds())
}
