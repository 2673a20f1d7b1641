package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification module.
type Metrics struct {
	// Transitions by source state, event and target state
	Transitions *prometheus.CounterVec

	// Guard rejections by event
	GuardRejections *prometheus.CounterVec

	// Optimistic concurrency losses
	Conflicts prometheus.Counter

	// Provider call latency by kind and outcome
	ProviderLatency *prometheus.HistogramVec

	// Provider retries by kind
	ProviderRetries *prometheus.CounterVec

	// Provider results served from cache by kind
	CacheHits *prometheus.CounterVec

	// Requests reaching a final or review state, by state and environment
	Outcomes *prometheus.CounterVec
}

// New registers the verification metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the verification metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_verification_transitions_total",
			Help: "Total state transitions applied to verification requests",
		}, []string{"from", "event", "to"}),

		GuardRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_verification_guard_rejections_total",
			Help: "Total score guard rejections by event",
		}, []string{"event"}),

		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "verigate_verification_conflicts_total",
			Help: "Total writes rejected because the request changed concurrently",
		}),

		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verigate_provider_duration_seconds",
			Help:    "Duration of score provider calls including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "outcome"}), // outcome: "ok", "error"

		ProviderRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_provider_retries_total",
			Help: "Total provider call retries by kind",
		}, []string{"kind"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_provider_cache_hits_total",
			Help: "Total provider results served from the score cache",
		}, []string{"kind"}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_verification_outcomes_total",
			Help: "Total verification requests reaching verified, failed or manual_review",
		}, []string{"state", "environment"}),
	}
}

func (m *Metrics) IncrementTransition(from, event, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, event, to).Inc()
	}
}

func (m *Metrics) IncrementGuardRejection(event string) {
	if m != nil {
		m.GuardRejections.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

// ObserveProviderLatency records one provider step, including retries.
func (m *Metrics) ObserveProviderLatency(kind string, ok bool, d time.Duration) {
	if m != nil {
		outcome := "ok"
		if !ok {
			outcome = "error"
		}
		m.ProviderLatency.WithLabelValues(kind, outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementProviderRetry(kind string) {
	if m != nil {
		m.ProviderRetries.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementCacheHit(kind string) {
	if m != nil {
		m.CacheHits.WithLabelValues(kind).Inc()
	}
}

// IncrementOutcome records a request reaching state.
func (m *Metrics) IncrementOutcome(state string, sandbox bool) {
	if m != nil {
		env := "production"
		if sandbox {
			env = "sandbox"
		}
		m.Outcomes.WithLabelValues(state, env).Inc()
	}
}
