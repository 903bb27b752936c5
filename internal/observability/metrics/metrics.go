package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flows.
type BookingMetrics struct {
	submissions    *prometheus.CounterVec
	cancellations  *prometheus.CounterVec
	reviews        *prometheus.CounterVec
	paymentStates  *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "submissions_total",
			Help:      "Booking-plus-payment submissions by outcome",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Cancellation requests by outcome",
		}, []string{"outcome"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "reviews_total",
			Help:      "Review submissions by target and outcome",
		}, []string{"target", "outcome"}),
		paymentStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "payment",
			Name:      "session_transitions_total",
			Help:      "Payment session state transitions",
		}, []string{"state"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "marketplace",
			Name:      "request_duration_seconds",
			Help:      "Latency of marketplace backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.submissions, m.cancellations, m.reviews, m.paymentStates, m.backendLatency)
	return m
}

func (m *BookingMetrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveReview(target, outcome string) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(target, outcome).Inc()
}

func (m *BookingMetrics) ObservePaymentState(state string) {
	if m == nil {
		return
	}
	m.paymentStates.WithLabelValues(state).Inc()
}

func (m *BookingMetrics) ObserveBackendLatency(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.backendLatency.WithLabelValues(op, outcome).Observe(seconds)
}
