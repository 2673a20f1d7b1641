package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"verigate/internal/session/models"
)

// Metrics provides observability for session maintenance.
type Metrics struct {
	// Sessions moved to expired by the reaper
	Expired prometheus.Counter

	// Terminal sessions removed by retention cleanup
	Purged prometheus.Counter

	// Maintenance runs that returned an error, by job
	RunFailures *prometheus.CounterVec

	// Maintenance run duration by job
	RunDuration *prometheus.HistogramVec

	// Session counts from the latest stats snapshot, by bucket
	Sessions *prometheus.GaugeVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "verigate_sessions_expired_total",
			Help: "Total sessions marked expired by the reaper",
		}),

		Purged: factory.NewCounter(prometheus.CounterOpts{
			Name: "verigate_sessions_purged_total",
			Help: "Total terminal sessions deleted by retention cleanup",
		}),

		RunFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_session_maintenance_failures_total",
			Help: "Total failed session maintenance runs by job",
		}, []string{"job"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verigate_session_maintenance_duration_seconds",
			Help:    "Duration of session maintenance runs by job",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),

		Sessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "verigate_sessions",
			Help: "Sessions by bucket from the latest expiration stats",
		}, []string{"bucket"}), // bucket: total, active, expired, terminated, expiring_soon
	}
}

func (m *Metrics) AddExpired(n int) {
	if m != nil {
		m.Expired.Add(float64(n))
	}
}

func (m *Metrics) AddPurged(n int) {
	if m != nil {
		m.Purged.Add(float64(n))
	}
}

func (m *Metrics) IncrementRunFailure(job string) {
	if m != nil {
		m.RunFailures.WithLabelValues(job).Inc()
	}
}

func (m *Metrics) ObserveRun(job string, d time.Duration) {
	if m != nil {
		m.RunDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// SetStats overwrites the session gauges with a fresh snapshot.
func (m *Metrics) SetStats(stats models.ExpirationStats) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues("total").Set(float64(stats.Total))
	m.Sessions.WithLabelValues("active").Set(float64(stats.Active))
	m.Sessions.WithLabelValues("expired").Set(float64(stats.Expired))
	m.Sessions.WithLabelValues("terminated").Set(float64(stats.Terminated))
	m.Sessions.WithLabelValues("expiring_soon").Set(float64(stats.ExpiringSoon))
}
