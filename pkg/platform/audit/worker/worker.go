// Package worker relays queued audit outbox rows to the message bus.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "verigate/pkg/platform/audit"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// OutboxStore reads and acknowledges outbox rows.
type OutboxStore interface {
	FetchUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Producer publishes one record to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// TxRunner runs fn in a transaction so fetched rows stay locked until marked.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// Worker polls the outbox and publishes each row, keyed by aggregate id so a
// verification's audit events stay ordered within a partition.
type Worker struct {
	store     OutboxStore
	producer  Producer
	topic     string
	tx        TxRunner
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Worker)

func WithTxRunner(tx TxRunner) Option {
	return func(w *Worker) {
		w.tx = tx
	}
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

func NewWorker(store OutboxStore, producer Producer, topic string, opts ...Option) *Worker {
	w := &Worker{
		store:     store,
		producer:  producer,
		topic:     topic,
		tx:        noTx{},
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is canceled. A failed batch is logged and retried on
// the next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "audit outbox relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many rows were relayed.
// Rows published before a failure are still marked.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	var (
		relayed    int
		publishErr error
	)
	err := w.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := w.store.FetchUnpublished(ctx, w.batchSize)
		if err != nil {
			return err
		}
		published := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			headers := map[string]string{
				"event_type":     e.EventType,
				"aggregate_type": e.AggregateType,
			}
			if publishErr = w.producer.Publish(ctx, w.topic, []byte(e.AggregateID), e.Payload, headers); publishErr != nil {
				break
			}
			published = append(published, e.ID)
		}
		if err := w.store.MarkPublished(ctx, published, w.now()); err != nil {
			return err
		}
		relayed = len(published)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return relayed, publishErr
}
