package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"verigate/pkg/platform/circuit"
)

const (
	defaultAttempts        = 3
	defaultCallTimeout     = 10 * time.Second
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// Resilient wraps a Provider with a per-call timeout, bounded retries for
// retryable failures and a circuit breaker. It implements Provider.
type Resilient struct {
	inner           Provider
	breaker         *circuit.Breaker
	attempts        uint64
	callTimeout     time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *slog.Logger
	onRetry         func(kind Kind, err error)
}

// ResilientOption configures a Resilient provider.
type ResilientOption func(*Resilient)

// WithAttempts sets the total number of calls made before giving up.
func WithAttempts(n int) ResilientOption {
	return func(r *Resilient) {
		if n > 0 {
			r.attempts = uint64(n)
		}
	}
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithBackoff sets the exponential retry schedule.
func WithBackoff(initial, ceiling time.Duration) ResilientOption {
	return func(r *Resilient) {
		if initial > 0 {
			r.initialInterval = initial
		}
		if ceiling > 0 {
			r.maxInterval = ceiling
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) ResilientOption {
	return func(r *Resilient) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithResilientLogger(logger *slog.Logger) ResilientOption {
	return func(r *Resilient) {
		r.logger = logger
	}
}

// WithRetryHook is called before every retry.
func WithRetryHook(fn func(kind Kind, err error)) ResilientOption {
	return func(r *Resilient) {
		r.onRetry = fn
	}
}

// NewResilient wraps inner.
func NewResilient(inner Provider, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		inner:           inner,
		attempts:        defaultAttempts,
		callTimeout:     defaultCallTimeout,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuit.New(inner.ID())
	}
	return r
}

func (r *Resilient) ID() string { return r.inner.ID() }

func (r *Resilient) Kind() Kind { return r.inner.Kind() }

func (r *Resilient) Breaker() *circuit.Breaker { return r.breaker }

func (r *Resilient) Health(ctx context.Context) error {
	return r.inner.Health(ctx)
}

// Evaluate calls the wrapped provider. Non-retryable failures stop retrying
// immediately. The breaker counts one failure per Evaluate call that ends in
// a retryable failure; rejected input does not trip it.
func (r *Resilient) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if !r.breaker.Allow() {
		return nil, &ProviderError{
			Category:   ErrorCircuitOpen,
			ProviderID: r.inner.ID(),
			Message:    "circuit open",
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval
	policy.MaxInterval = r.maxInterval
	policy.MaxElapsedTime = 0
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, r.attempts-1), ctx)

	result, err := backoff.RetryNotifyWithData(func() (*Result, error) {
		return r.call(ctx, req)
	}, bounded, func(err error, wait time.Duration) {
		if r.logger != nil {
			r.logger.WarnContext(ctx, "retrying provider call",
				"provider_id", r.inner.ID(),
				"kind", r.inner.Kind(),
				"category", GetCategory(err),
				"wait", wait,
				"error", err,
			)
		}
		if r.onRetry != nil {
			r.onRetry(r.inner.Kind(), err)
		}
	})
	if err != nil {
		if IsRetryable(err) {
			_, change := r.breaker.RecordFailure()
			if change.Opened && r.logger != nil {
				r.logger.WarnContext(ctx, "provider circuit opened", "provider_id", r.inner.ID())
			}
		}
		return nil, err
	}

	_, change := r.breaker.RecordSuccess()
	if change.Closed && r.logger != nil {
		r.logger.InfoContext(ctx, "provider circuit closed", "provider_id", r.inner.ID())
	}
	return result, nil
}

func (r *Resilient) call(ctx context.Context, req Request) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	result, err := r.inner.Evaluate(callCtx, req)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, backoff.Permanent(ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			err = NewProviderError(ErrorTimeout, r.inner.ID(), "call timed out", err)
		}
	}
	if !IsRetryable(err) {
		return nil, backoff.Permanent(err)
	}
	return nil, err
}
