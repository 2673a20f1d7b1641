// Package service orchestrates a verification request through the state
// machine: it loads the record, consults score providers, applies the
// transition and persists the result with its audit row.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"verigate/internal/verification/events"
	"verigate/internal/verification/metrics"
	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
	"verigate/internal/verification/statemachine"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// Store is the record store for requests and their uploaded artifacts.
type Store interface {
	CreateRequest(ctx context.Context, req *models.VerificationRequest) error
	FindRequest(ctx context.Context, verificationID id.VerificationID) (*models.VerificationRequest, error)
	UpdateRequestIfVersion(ctx context.Context, req *models.VerificationRequest, expectedVersion int) error
	SaveDocument(ctx context.Context, doc *models.Document) error
	FindDocument(ctx context.Context, verificationID id.VerificationID, side id.DocumentSide) (*models.Document, error)
	UpdateExtractedFields(ctx context.Context, verificationID id.VerificationID, side id.DocumentSide, fields map[string]string, now time.Time) error
	SaveSelfie(ctx context.Context, selfie *models.Selfie) error
	FindSelfie(ctx context.Context, verificationID id.VerificationID) (*models.Selfie, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, verificationID id.VerificationID) ([]audit.Event, error)
}

// LifecyclePublisher fans applied transitions out to webhook consumers.
type LifecyclePublisher interface {
	PublishTransition(ctx context.Context, event events.Lifecycle) error
}

// ScoreCache remembers provider results so a resumed request is not billed twice.
type ScoreCache interface {
	Find(ctx context.Context, key string) (*providers.Result, error)
	Save(ctx context.Context, key string, result *providers.Result) error
}

type ProviderLookup interface {
	Get(kind providers.Kind) (providers.Provider, error)
}

// TxRunner runs fn atomically. Stores join the transaction through ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the verification orchestrator.
type Service struct {
	store     Store
	providers ProviderLookup
	cache     ScoreCache
	audit     AuditPublisher
	lifecycle LifecyclePublisher
	tx        TxRunner
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithLifecyclePublisher(publisher LifecyclePublisher) Option {
	return func(s *Service) {
		s.lifecycle = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithScoreCache(cache ScoreCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithTx(tx TxRunner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs the orchestrator. Providers may be nil when only the
// caller-driven Submit* operations are used.
func New(store Store, providers ProviderLookup, opts ...Option) *Service {
	s := &Service{
		store:     store,
		providers: providers,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = noTx{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("verigate/verification")
	}
	return s
}

// noTx runs fn directly; the in-memory store has no transactions.
type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// CreateRequest starts a verification in pending.
func (s *Service) CreateRequest(ctx context.Context, userID id.UserID, developerID id.DeveloperID, isSandbox bool) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "CreateRequest", id.VerificationID{})
	defer func() { endSpan(span, err) }()

	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user ID is required")
	}
	if developerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "developer ID is required")
	}

	req := models.NewVerificationRequest(userID, developerID, isSandbox, requestcontext.Now(ctx))
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CreateRequest(txCtx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification request")
		}
		return s.emitAudit(txCtx, audit.Event{
			VerificationID: req.ID,
			Action:         string(audit.EventVerificationCreated),
			ToState:        string(req.State),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "verification request created",
		"verification_id", req.ID.String(),
		"developer_id", req.DeveloperID.String(),
		"sandbox", req.IsSandbox,
	)
	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, verificationID id.VerificationID) (*models.VerificationRequest, error) {
	return s.load(ctx, verificationID)
}

// ValidEvents lists the events the request can take next.
func (s *Service) ValidEvents(ctx context.Context, verificationID id.VerificationID) ([]models.Event, error) {
	req, err := s.load(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	return statemachine.ValidEvents(req.State), nil
}

// ListAuditTrail returns the request's audit events oldest first.
func (s *Service) ListAuditTrail(ctx context.Context, verificationID id.VerificationID) ([]audit.Event, error) {
	if s.audit == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "audit trail not configured")
	}
	if _, err := s.load(ctx, verificationID); err != nil {
		return nil, err
	}
	trail, err := s.audit.List(ctx, verificationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit trail")
	}
	return trail, nil
}

func (s *Service) load(ctx context.Context, verificationID id.VerificationID) (*models.VerificationRequest, error) {
	req, err := s.store.FindRequest(ctx, verificationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
	}
	return req, nil
}

// emitAudit writes the event inside the caller's transaction. Without a
// publisher the event is only logged.
func (s *Service) emitAudit(ctx context.Context, event audit.Event) error {
	event.RequestID = requestcontext.RequestID(ctx)
	event.ActorID = requestcontext.Actor(ctx)
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if s.audit == nil {
		s.logger.InfoContext(ctx, event.Action,
			"verification_id", event.VerificationID.String(),
			"from_state", event.FromState,
			"to_state", event.ToState,
			"trigger", event.Trigger,
		)
		return nil
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write audit event")
	}
	return nil
}
