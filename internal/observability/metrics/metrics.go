package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the reservation flows.
type BookingMetrics struct {
	availabilityTotal *prometheus.CounterVec
	holdsTotal        *prometheus.CounterVec
	promotionsTotal   *prometheus.CounterVec
	webhookTotal      *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
	amountMismatch    prometheus.Counter
	cascadeCancelled  prometheus.Counter
	transitionsTotal  *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "availability",
			Name:      "requests_total",
			Help:      "Availability lookups by result",
		}, []string{"result"}),
		holdsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "bookings",
			Name:      "holds_total",
			Help:      "Provisional holds created",
		}, []string{"result"}),
		promotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "bookings",
			Name:      "promotions_total",
			Help:      "Booking inserts by origin and result",
		}, []string{"origin", "result"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "webhook_total",
			Help:      "Payment gateway notifications by outcome",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of payment webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		amountMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "amount_mismatch_total",
			Help:      "Paid notifications whose amount differs from the held amount",
		}),
		cascadeCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "cascade_cancelled_bookings_total",
			Help:      "Bookings cancelled by approved schedule cancellations",
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Schedule request and cancellation transitions",
		}, []string{"workflow", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.availabilityTotal, m.holdsTotal, m.promotionsTotal, m.webhookTotal,
		m.webhookLatency, m.amountMismatch, m.cascadeCancelled, m.transitionsTotal)
	return m
}

func (m *BookingMetrics) ObserveAvailability(result string) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveHold(result string) {
	if m == nil {
		return
	}
	m.holdsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObservePromotion(origin, result string) {
	if m == nil {
		return
	}
	m.promotionsTotal.WithLabelValues(origin, result).Inc()
}

func (m *BookingMetrics) ObserveWebhook(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(outcome).Inc()
	m.webhookLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *BookingMetrics) ObserveAmountMismatch() {
	if m == nil {
		return
	}
	m.amountMismatch.Inc()
}

func (m *BookingMetrics) ObserveCascade(cancelled int) {
	if m == nil || cancelled <= 0 {
		return
	}
	m.cascadeCancelled.Add(float64(cancelled))
}

func (m *BookingMetrics) ObserveTransition(workflow, status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(workflow, status).Inc()
}
