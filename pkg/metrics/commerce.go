package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CommerceMetrics records counters for the checkout and fulfillment paths.
type CommerceMetrics struct {
	checkoutOutcomes *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	webhookEvents    *prometheus.CounterVec
	outboxPublished  *prometheus.CounterVec
}

// NewCommerceMetrics registers the commerce metrics on the provided registerer.
func NewCommerceMetrics(reg prometheus.Registerer) *CommerceMetrics {
	if reg == nil {
		return &CommerceMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_attempts_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Duration of checkout transactions in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	webhook := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_webhook_events_total",
		Help: "Fulfillment webhook events by result.",
	}, []string{"result"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox dispatcher results.",
	}, []string{"result"})
	reg.MustRegister(outcomes, duration, webhook, published)
	return &CommerceMetrics{
		checkoutOutcomes: outcomes,
		checkoutDuration: duration,
		webhookEvents:    webhook,
		outboxPublished:  published,
	}
}

// ObserveCheckout records one checkout attempt and its duration.
func (m *CommerceMetrics) ObserveCheckout(outcome string, duration time.Duration) {
	if m == nil || m.checkoutOutcomes == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.checkoutOutcomes.WithLabelValues(label).Inc()
	m.checkoutDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// IncWebhookEvent increments the fulfillment webhook counter.
func (m *CommerceMetrics) IncWebhookEvent(result string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncOutboxEvent increments the outbox dispatcher counter.
func (m *CommerceMetrics) IncOutboxEvent(result string) {
	if m == nil || m.outboxPublished == nil {
		return
	}
	m.outboxPublished.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
