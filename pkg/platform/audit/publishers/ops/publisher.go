// Package ops emits operational audit events on a best-effort basis.
//
// Operational events (maintenance sweeps, step failures) help debugging but
// never decide an outcome, so losing one must not fail the caller. The
// publisher samples them, stops writing while the audit store is failing,
// and reports every drop through metrics. Events of any other category pass
// straight through with their error intact.
package ops

import (
	"context"
	"log/slog"

	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/circuit"
)

// Emitter is the downstream audit publisher.
type Emitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Publisher struct {
	next    Emitter
	sampler *Sampler
	breaker *circuit.Breaker
	metrics *Metrics
	logger  *slog.Logger
}

type Option func(*Publisher)

func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		if s != nil {
			p.sampler = s
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New wraps next. Without options every operational event is kept and the
// breaker opens after five consecutive failures.
func New(next Emitter, opts ...Option) *Publisher {
	p := &Publisher{
		next:    next,
		sampler: NewSampler(1),
		breaker: circuit.New("audit-ops"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit persists event. Operational events never return an error.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	if category != audit.CategoryOperations {
		return p.next.Emit(ctx, event)
	}

	if !p.sampler.Keep(event.Action) {
		p.metrics.IncSampled()
		return nil
	}
	if !p.breaker.Allow() {
		p.metrics.IncCircuitBreakerDropped()
		return nil
	}

	if err := p.next.Emit(ctx, event); err != nil {
		p.metrics.IncPersistFailures()
		_, change := p.breaker.RecordFailure()
		if change.Opened {
			p.metrics.SetCircuitBreakerState(true)
		}
		if p.logger != nil {
			p.logger.WarnContext(ctx, "operational audit event dropped",
				"action", event.Action,
				"subject", event.Subject,
				"breaker_open", p.breaker.IsOpen(),
				"error", err,
			)
		}
		return nil
	}

	_, change := p.breaker.RecordSuccess()
	if change.Closed {
		p.metrics.SetCircuitBreakerState(false)
	}
	p.metrics.IncTracked()
	return nil
}
