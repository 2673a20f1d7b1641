// Package reaper runs the background maintenance that expires sessions past
// their deadline and purges terminal sessions after the retention window.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"verigate/internal/session/metrics"
	"verigate/internal/session/models"
	dErrors "verigate/pkg/domain-errors"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/requestcontext"
)

const (
	JobExpire  = "expire"
	JobCleanup = "cleanup"

	DefaultExpireInterval  = 5 * time.Minute
	DefaultCleanupInterval = 24 * time.Hour
	DefaultRetentionDays   = 30

	// ExpiringSoonWindow is the look-ahead used by GetExpirationStats.
	ExpiringSoonWindow = time.Hour
)

// Store is the subset of the session store the reaper needs. Both writes are
// single set-based statements.
type Store interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context, now time.Time, window time.Duration) (models.ExpirationStats, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// MaintenanceError reports a failed scheduled run. It is logged and the
// next run proceeds on schedule.
type MaintenanceError struct {
	Job string
	Err error
}

func (e *MaintenanceError) Error() string {
	return fmt.Sprintf("session %s run failed: %v", e.Job, e.Err)
}

func (e *MaintenanceError) Unwrap() error {
	return e.Err
}

type Reaper struct {
	store           Store
	audit           AuditPublisher
	metrics         *metrics.Metrics
	logger          *slog.Logger
	now             func() time.Time
	expireInterval  time.Duration
	cleanupInterval time.Duration
	retentionDays   int
}

type Option func(*Reaper)

// WithClock replaces time.Now for expiry and retention decisions.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		r.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Reaper) {
		r.audit = publisher
	}
}

func WithExpireInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.expireInterval = d
		}
	}
}

func WithCleanupInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.cleanupInterval = d
		}
	}
}

// WithRetentionDays sets how long terminal sessions are kept by Start.
func WithRetentionDays(days int) Option {
	return func(r *Reaper) {
		if days > 0 {
			r.retentionDays = days
		}
	}
}

func New(store Store, opts ...Option) *Reaper {
	r := &Reaper{
		store:           store,
		logger:          slog.Default(),
		now:             time.Now,
		expireInterval:  DefaultExpireInterval,
		cleanupInterval: DefaultCleanupInterval,
		retentionDays:   DefaultRetentionDays,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExpireDueSessions moves every live session whose deadline has passed to
// expired and returns how many changed. A second call at the same instant
// changes nothing.
func (r *Reaper) ExpireDueSessions(ctx context.Context) (int, error) {
	now := r.now()
	n, err := r.store.ExpireDue(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire due sessions")
	}
	r.metrics.AddExpired(n)
	if n > 0 {
		r.emitAudit(ctx, audit.EventSessionsExpired, now, fmt.Sprintf("%d sessions passed their deadline", n))
	}
	return n, nil
}

// CleanupOldSessions deletes expired and terminated sessions that reached
// their terminal status more than retentionDays ago.
func (r *Reaper) CleanupOldSessions(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "retention days must be positive")
	}
	now := r.now()
	cutoff := now.AddDate(0, 0, -retentionDays)
	n, err := r.store.DeleteTerminatedBefore(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete old sessions")
	}
	r.metrics.AddPurged(n)
	if n > 0 {
		r.emitAudit(ctx, audit.EventSessionsPurged, now, fmt.Sprintf("%d sessions older than %d days", n, retentionDays))
	}
	return n, nil
}

func (r *Reaper) GetExpirationStats(ctx context.Context) (models.ExpirationStats, error) {
	stats, err := r.store.Stats(ctx, r.now(), ExpiringSoonWindow)
	if err != nil {
		return models.ExpirationStats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session stats")
	}
	return stats, nil
}

// Start runs both jobs once immediately and then on their intervals until
// ctx is cancelled. A failed run is logged and does not stop either loop.
func (r *Reaper) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "session reaper started",
		"expire_interval", r.expireInterval.String(),
		"cleanup_interval", r.cleanupInterval.String(),
		"retention_days", r.retentionDays,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.loop(gctx, JobExpire, r.expireInterval, r.runExpire)
		return nil
	})
	g.Go(func() error {
		r.loop(gctx, JobCleanup, r.cleanupInterval, r.runCleanup)
		return nil
	})
	err := g.Wait()
	r.logger.InfoContext(ctx, "session reaper stopped")
	return err
}

func (r *Reaper) loop(ctx context.Context, job string, interval time.Duration, run func(context.Context) error) {
	r.runOnce(ctx, job, run)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, job, run)
		}
	}
}

func (r *Reaper) runOnce(ctx context.Context, job string, run func(context.Context) error) {
	start := time.Now()
	err := run(ctx)
	r.metrics.ObserveRun(job, time.Since(start))
	if err == nil || ctx.Err() != nil {
		return
	}
	r.metrics.IncrementRunFailure(job)
	r.logger.ErrorContext(ctx, "session maintenance failed",
		"job", job,
		"error", &MaintenanceError{Job: job, Err: err},
	)
}

func (r *Reaper) runExpire(ctx context.Context) error {
	n, err := r.ExpireDueSessions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "expired due sessions", "count", n)
	}
	r.refreshStats(ctx)
	return nil
}

func (r *Reaper) runCleanup(ctx context.Context) error {
	n, err := r.CleanupOldSessions(ctx, r.retentionDays)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "purged old sessions", "count", n, "retention_days", r.retentionDays)
	}
	return nil
}

func (r *Reaper) refreshStats(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	stats, err := r.GetExpirationStats(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to refresh session gauges", "error", err)
		return
	}
	r.metrics.SetStats(stats)
}

// emitAudit records a maintenance summary. The bulk write has already
// committed, so a failed audit write is logged rather than returned.
func (r *Reaper) emitAudit(ctx context.Context, action audit.AuditEvent, now time.Time, reason string) {
	event := audit.Event{
		Category:  action.Category(),
		Timestamp: now,
		Subject:   "sessions",
		Action:    string(action),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   requestcontext.Actor(ctx),
	}
	if r.audit == nil {
		r.logger.InfoContext(ctx, event.Action, "reason", reason)
		return
	}
	if err := r.audit.Emit(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "failed to write maintenance audit event",
			"action", event.Action,
			"error", err,
		)
	}
}
