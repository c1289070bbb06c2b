package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records counters for gateway webhook processing.
type WebhookMetrics struct {
	processed       *prometheus.CounterVec
	failed          *prometheus.CounterVec
	duplicates      prometheus.Counter
	legacyReference prometheus.Counter
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_processed_total",
		Help: "Gateway webhook events processed, by operation and outcome.",
	}, []string{"operation", "outcome"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_failed_total",
		Help: "Gateway webhook events recorded as failed, by reason.",
	}, []string{"reason"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_duplicate_total",
		Help: "Gateway webhook deliveries short-circuited by the dedup gate.",
	})
	legacyReference := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reference_legacy_form_total",
		Help: "References decoded from the legacy unprefixed wire form.",
	})
	reg.MustRegister(processed, failed, duplicates, legacyReference)
	return &WebhookMetrics{
		processed:       processed,
		failed:          failed,
		duplicates:      duplicates,
		legacyReference: legacyReference,
	}
}

// IncProcessed increments the processed counter for the operation/outcome pair.
func (m *WebhookMetrics) IncProcessed(operation, outcome string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// IncFailed increments the failed counter for the given reason.
func (m *WebhookMetrics) IncFailed(reason string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncDuplicate increments the duplicate-delivery counter.
func (m *WebhookMetrics) IncDuplicate() {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Inc()
}

// IncLegacyReference increments the legacy reference form counter.
func (m *WebhookMetrics) IncLegacyReference() {
	if m == nil || m.legacyReference == nil {
		return
	}
	m.legacyReference.Inc()
}
