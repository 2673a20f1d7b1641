package ops

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/circuit"
)

type recordingEmitter struct {
	mu     sync.Mutex
	err    error
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event audit.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func sweepEvent() audit.Event {
	return audit.Event{Action: string(audit.EventSessionsExpired), Subject: "sessions"}
}

func TestPublisher_PassesThroughNonOperationalEvents(t *testing.T) {
	next := &recordingEmitter{err: errors.New("store down")}
	p := New(next, WithSampler(NewSampler(0)))

	err := p.Emit(context.Background(), audit.Event{Action: string(audit.EventVerificationTransitioned)})
	require.Error(t, err, "compliance events keep their error")

	err = p.Emit(context.Background(), audit.Event{Action: string(audit.EventSessionTerminated)})
	require.Error(t, err, "security events are not sampled")
}

func TestPublisher_Sampling(t *testing.T) {
	next := &recordingEmitter{}
	m := NewMetricsWithRegisterer(prometheus.NewRegistry())
	sampler := NewSampler(1)
	sampler.SetRate(string(audit.EventSessionsPurged), 0)
	p := New(next, WithSampler(sampler), WithMetrics(m))

	require.NoError(t, p.Emit(context.Background(), sweepEvent()))
	require.NoError(t, p.Emit(context.Background(), audit.Event{Action: string(audit.EventSessionsPurged)}))

	assert.Equal(t, 1, next.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tracked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sampled))
}

func TestSampler_FractionalRate(t *testing.T) {
	s := NewSampler(0.5)
	draws := []float64{0.2, 0.7}
	s.draw = func() float64 {
		d := draws[0]
		draws = draws[1:]
		return d
	}

	assert.True(t, s.Keep("anything"))
	assert.False(t, s.Keep("anything"))
}

func TestSampler_ClampsRates(t *testing.T) {
	s := NewSampler(4)
	s.SetRate("quiet", -1)

	assert.True(t, s.Keep("loud"))
	assert.False(t, s.Keep("quiet"))
}

func TestPublisher_BreakerDropsWhileStoreFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	next := &recordingEmitter{err: errors.New("store down")}
	m := NewMetricsWithRegisterer(prometheus.NewRegistry())
	breaker := circuit.New("audit-ops",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(clock),
	)
	p := New(next, WithBreaker(breaker), WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, p.Emit(ctx, sweepEvent()))
	require.NoError(t, p.Emit(ctx, sweepEvent()))
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PersistFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState))

	require.NoError(t, p.Emit(ctx, sweepEvent()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerDropped), "open breaker skips the store")

	next.mu.Lock()
	next.err = nil
	next.mu.Unlock()
	now = now.Add(2 * time.Minute)

	require.NoError(t, p.Emit(ctx, sweepEvent()))
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitBreakerState))
	assert.Equal(t, 1, next.count())
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncTracked()
		m.IncSampled()
		m.IncCircuitBreakerDropped()
		m.IncPersistFailures()
		m.SetCircuitBreakerState(true)
	})
}
