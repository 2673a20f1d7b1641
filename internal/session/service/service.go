// Package service owns the live side of a session: start, activate and
// terminate. The reaper expires the same rows concurrently, so every status
// change is a conditional write that names the statuses it may leave.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"verigate/internal/session/models"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

const (
	DefaultTTL = 30 * time.Minute
	MaxTTL     = 24 * time.Hour

	tokenBytes = 32
)

type Store interface {
	Create(ctx context.Context, session *models.Session) error
	FindByToken(ctx context.Context, token string) (*models.Session, error)
	Transition(ctx context.Context, sessionID id.SessionID, from []models.Status, to models.Status, now time.Time) (*models.Session, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner runs fn atomically. Stores join the transaction through ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	store  Store
	audit  AuditPublisher
	tx     TxRunner
	logger *slog.Logger
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

func WithTx(tx TxRunner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = noTx{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Start opens a pending session for the organization. A zero ttl uses
// DefaultTTL. verificationID may be nil when the request is created later.
func (s *Service) Start(ctx context.Context, orgID id.OrganizationID, verificationID id.VerificationID, ttl time.Duration) (*models.Session, error) {
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "organization ID is required")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < 0 || ttl > MaxTTL {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("session ttl must be between 0 and %s", MaxTTL))
	}

	token, err := newToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate session token")
	}
	session := models.NewSession(token, orgID, verificationID, ttl, requestcontext.Now(ctx))

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Create(txCtx, session); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "session already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
		}
		return s.emitAudit(txCtx, audit.EventSessionStarted, session)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session started",
		"session_id", session.ID.String(),
		"organization_id", session.OrganizationID.String(),
		"expires_at", session.ExpiresAt,
	)
	return session, nil
}

// Get resolves a session by its external token.
func (s *Service) Get(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session token is required")
	}
	session, err := s.store.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	return session, nil
}

// Activate marks the user as present. Activating an active session is a no-op.
// A session past its deadline is refused even if the reaper has not run yet.
func (s *Service) Activate(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Status == models.StatusActive {
		return session, nil
	}
	now := requestcontext.Now(ctx)
	if session.Status == models.StatusPending && session.IsExpiredAt(now) {
		return nil, dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeInvalidState, "session has expired")
	}
	return s.transition(ctx, session, []models.Status{models.StatusPending}, models.StatusActive, audit.EventSessionActivated)
}

// Terminate ends a live session. Terminating a terminated session is a
// no-op; an expired session stays expired.
func (s *Service) Terminate(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Status == models.StatusTerminated {
		return session, nil
	}
	return s.transition(ctx, session, models.LiveStatuses, models.StatusTerminated, audit.EventSessionTerminated)
}

func (s *Service) transition(ctx context.Context, session *models.Session, from []models.Status, to models.Status, action audit.AuditEvent) (*models.Session, error) {
	var updated *models.Session
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		updated, err = s.store.Transition(txCtx, session.ID, from, to, requestcontext.Now(txCtx))
		if err != nil {
			switch {
			case errors.Is(err, sentinel.ErrInvalidState):
				return dErrors.Wrap(err, dErrors.CodeInvalidState, fmt.Sprintf("session cannot move to %s", to))
			case errors.Is(err, sentinel.ErrNotFound):
				return dErrors.New(dErrors.CodeNotFound, "session not found")
			default:
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update session")
			}
		}
		return s.emitAudit(txCtx, action, updated)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session status changed",
		"session_id", updated.ID.String(),
		"from", session.Status.String(),
		"to", updated.Status.String(),
	)
	return updated, nil
}

func (s *Service) emitAudit(ctx context.Context, action audit.AuditEvent, session *models.Session) error {
	event := audit.Event{
		Timestamp:      requestcontext.Now(ctx),
		VerificationID: session.VerificationID,
		Subject:        session.ID.String(),
		Action:         string(action),
		ToState:        string(session.Status),
		RequestID:      requestcontext.RequestID(ctx),
		ActorID:        requestcontext.Actor(ctx),
	}
	if s.audit == nil {
		s.logger.InfoContext(ctx, event.Action, "session_id", event.Subject)
		return nil
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write audit event")
	}
	return nil
}

// newToken returns an unguessable URL-safe handle.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
