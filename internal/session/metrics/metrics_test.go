package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"verigate/internal/session/models"
)

func TestMetrics(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.AddExpired(3)
	m.AddPurged(2)
	m.IncrementRunFailure("expire")
	m.ObserveRun("cleanup", 5*time.Millisecond)
	m.SetStats(models.ExpirationStats{Total: 7, Active: 4, Expired: 2, Terminated: 1, ExpiringSoon: 1})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Expired))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Purged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunFailures.WithLabelValues("expire")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Sessions.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("expiring_soon")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddExpired(1)
		m.AddPurged(1)
		m.IncrementRunFailure("cleanup")
		m.ObserveRun("expire", time.Second)
		m.SetStats(models.ExpirationStats{})
	})
}
