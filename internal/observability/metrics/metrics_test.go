package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestBookingMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveSubmission("confirmed")
	m.ObserveSubmission("confirmed")
	m.ObserveSubmission("conflict")
	m.ObserveCancellation("refunded")
	m.ObserveReview("doctor", "ok")
	m.ObservePaymentState("widget_ready")
	m.ObserveBackendLatency("create_booking", "ok", 0.25)

	assert.Equal(t, 2.0, counterValue(t, reg, "carebook_booking_submissions_total", map[string]string{"outcome": "confirmed"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "carebook_booking_submissions_total", map[string]string{"outcome": "conflict"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "carebook_booking_cancellations_total", map[string]string{"outcome": "refunded"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "carebook_booking_reviews_total", map[string]string{"target": "doctor"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "carebook_payment_session_transitions_total", map[string]string{"state": "widget_ready"}))

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "carebook_marketplace_request_duration_seconds" {
			found = true
			assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found)
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveSubmission("confirmed")
	m.ObserveCancellation("refunded")
	m.ObserveReview("doctor", "ok")
	m.ObservePaymentState("idle")
	m.ObserveBackendLatency("op", "ok", 0.1)
}
