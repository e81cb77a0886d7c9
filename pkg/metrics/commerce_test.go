package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() == labelValue {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestObserveCheckoutRecordsOutcome(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewCommerceMetrics(reg)

	m.ObserveCheckout("success", 120*time.Millisecond)
	m.ObserveCheckout("success", 80*time.Millisecond)
	m.ObserveCheckout("insufficient_stock", 40*time.Millisecond)

	require.EqualValues(t, 2, gatherCounter(t, reg, "checkout_attempts_total", "success"))
	require.EqualValues(t, 1, gatherCounter(t, reg, "checkout_attempts_total", "insufficient_stock"))
}

func TestCountersNormalizeEmptyLabels(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewCommerceMetrics(reg)

	m.IncWebhookEvent("")
	m.IncOutboxEvent("published")

	require.EqualValues(t, 1, gatherCounter(t, reg, "fulfillment_webhook_events_total", "unknown"))
	require.EqualValues(t, 1, gatherCounter(t, reg, "outbox_events_total", "published"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()

	var m *CommerceMetrics
	m.ObserveCheckout("success", time.Second)
	m.IncWebhookEvent("applied")
	m.IncOutboxEvent("failed")

	empty := NewCommerceMetrics(nil)
	empty.ObserveCheckout("success", time.Second)
	empty.IncWebhookEvent("applied")
	empty.IncOutboxEvent("failed")
}

func gatherHistogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name || family.GetType() != dto.MetricType_HISTOGRAM {
			continue
		}
		var total uint64
		for _, metric := range family.GetMetric() {
			total += metric.GetHistogram().GetSampleCount()
		}
		return total
	}
	return 0
}

func TestCheckoutDurationHistogram(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewCommerceMetrics(reg)

	m.ObserveCheckout("success", 100*time.Millisecond)
	m.ObserveCheckout("error", 5*time.Millisecond)

	require.EqualValues(t, 2, gatherHistogramCount(t, reg, "checkout_duration_seconds"))
}
