package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConsultationMetrics exposes counters/histograms for summary streams and
// the middleware guarding them.
type ConsultationMetrics struct {
	streamsTotal      *prometheus.CounterVec
	streamDuration    *prometheus.HistogramVec
	firstFragment     *prometheus.HistogramVec
	fragmentsTotal    *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec
	rateLimitedTotal  prometheus.Counter
}

func NewConsultationMetrics(reg prometheus.Registerer) *ConsultationMetrics {
	m := &ConsultationMetrics{
		streamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medinotes",
			Subsystem: "consultation",
			Name:      "streams_total",
			Help:      "Total summary streams by provider and outcome",
		}, []string{"provider", "outcome"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medinotes",
			Subsystem: "consultation",
			Name:      "stream_duration_seconds",
			Help:      "Wall time of a summary stream from open to close",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"provider", "outcome"}),
		firstFragment: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medinotes",
			Subsystem: "consultation",
			Name:      "first_fragment_seconds",
			Help:      "Latency until the first streamed fragment",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
		}, []string{"provider"}),
		fragmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medinotes",
			Subsystem: "consultation",
			Name:      "fragments_total",
			Help:      "Fragments written to clients",
		}, []string{"provider"}),
		authFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medinotes",
			Subsystem: "http",
			Name:      "auth_failures_total",
			Help:      "Rejected requests by reason",
		}, []string{"reason"}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medinotes",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.streamsTotal, m.streamDuration, m.firstFragment, m.fragmentsTotal, m.authFailuresTotal, m.rateLimitedTotal)
	return m
}

// ObserveStream records one finished stream. outcome is completed, failed
// or aborted.
func (m *ConsultationMetrics) ObserveStream(provider, outcome string, seconds float64, fragments int) {
	if m == nil {
		return
	}
	m.streamsTotal.WithLabelValues(provider, outcome).Inc()
	m.streamDuration.WithLabelValues(provider, outcome).Observe(seconds)
	if fragments > 0 {
		m.fragmentsTotal.WithLabelValues(provider).Add(float64(fragments))
	}
}

func (m *ConsultationMetrics) ObserveFirstFragment(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.firstFragment.WithLabelValues(provider).Observe(seconds)
}

func (m *ConsultationMetrics) ObserveAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *ConsultationMetrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}
