package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,AuditPublisher,TxRunner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"verigate/internal/session/models"
	"verigate/internal/session/service/mocks"
	"verigate/internal/session/store"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/audit/publisher"
	auditmemory "verigate/pkg/platform/audit/store/memory"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx        context.Context
	now        time.Time
	store      *store.InMemoryStore
	auditStore *auditmemory.InMemoryStore
	service    *Service
	orgID      id.OrganizationID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = store.NewInMemoryStore()
	s.auditStore = auditmemory.NewInMemoryStore()
	s.service = New(s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	)
	s.orgID = id.OrganizationID(uuid.New())
}

func (s *ServiceSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

func (s *ServiceSuite) actions() []string {
	events, err := s.auditStore.ListAll(s.ctx)
	s.Require().NoError(err)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

func (s *ServiceSuite) TestStart() {
	s.Run("creates pending session with default ttl", func() {
		verificationID := id.NewVerificationID()
		session, err := s.service.Start(s.ctx, s.orgID, verificationID, 0)
		s.Require().NoError(err)

		s.Equal(models.StatusPending, session.Status)
		s.Equal(s.now.Add(DefaultTTL), session.ExpiresAt)
		s.Equal(verificationID, session.VerificationID)
		s.Len(session.Token, 43)

		found, err := s.service.Get(s.ctx, session.Token)
		s.Require().NoError(err)
		s.Equal(session.ID, found.ID)
	})

	s.Run("tokens are unique", func() {
		a, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Minute)
		s.Require().NoError(err)
		b, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Minute)
		s.Require().NoError(err)
		s.NotEqual(a.Token, b.Token)
	})

	s.Run("validation", func() {
		_, err := s.service.Start(s.ctx, id.OrganizationID{}, id.VerificationID{}, time.Minute)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.service.Start(s.ctx, s.orgID, id.VerificationID{}, -time.Minute)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.service.Start(s.ctx, s.orgID, id.VerificationID{}, MaxTTL+time.Second)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestGet() {
	_, err := s.service.Get(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.Get(s.ctx, "unknown")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Status changes
// =============================================================================
// Justification: terminal statuses are final, and a live request racing the
// reaper must see a typed error rather than resurrect the session.

func (s *ServiceSuite) TestActivate() {
	s.Run("pending to active then idempotent", func() {
		session, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Hour)
		s.Require().NoError(err)

		active, err := s.service.Activate(s.at(time.Minute), session.Token)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, active.Status)
		s.Equal(s.now.Add(time.Minute), active.UpdatedAt)

		again, err := s.service.Activate(s.at(2*time.Minute), session.Token)
		s.Require().NoError(err)
		s.Equal(active.UpdatedAt, again.UpdatedAt)
	})

	s.Run("past deadline before reaper runs", func() {
		session, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Minute)
		s.Require().NoError(err)

		_, err = s.service.Activate(s.at(2*time.Minute), session.Token)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.ErrorIs(err, sentinel.ErrExpired)
	})

	s.Run("expired by reaper", func() {
		session, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Minute)
		s.Require().NoError(err)
		_, err = s.store.ExpireDue(s.ctx, s.now.Add(time.Hour))
		s.Require().NoError(err)

		_, err = s.service.Activate(s.ctx, session.Token)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *ServiceSuite) TestTerminate() {
	s.Run("live session terminates once", func() {
		session, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Hour)
		s.Require().NoError(err)

		ended, err := s.service.Terminate(s.at(time.Minute), session.Token)
		s.Require().NoError(err)
		s.Equal(models.StatusTerminated, ended.Status)
		s.Require().NotNil(ended.TerminatedAt)

		again, err := s.service.Terminate(s.at(5*time.Minute), session.Token)
		s.Require().NoError(err)
		s.Equal(*ended.TerminatedAt, *again.TerminatedAt)

		_, err = s.service.Activate(s.ctx, session.Token)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("expired session stays expired", func() {
		session, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Minute)
		s.Require().NoError(err)
		_, err = s.store.ExpireDue(s.ctx, s.now.Add(time.Hour))
		s.Require().NoError(err)

		_, err = s.service.Terminate(s.ctx, session.Token)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		found, err := s.service.Get(s.ctx, session.Token)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, found.Status)
	})
}

func (s *ServiceSuite) TestAuditTrail() {
	session, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Hour)
	s.Require().NoError(err)
	_, err = s.service.Activate(s.ctx, session.Token)
	s.Require().NoError(err)
	_, err = s.service.Terminate(s.ctx, session.Token)
	s.Require().NoError(err)

	s.Equal([]string{
		string(audit.EventSessionStarted),
		string(audit.EventSessionActivated),
		string(audit.EventSessionTerminated),
	}, s.actions())

	events, err := s.auditStore.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(session.ID.String(), events[2].Subject)
	s.Equal(audit.CategorySecurity, events[2].Category)
}

// =============================================================================
// Concurrency
// =============================================================================

func (s *ServiceSuite) TestConcurrentTerminateAndExpire() {
	session, err := s.service.Start(s.ctx, s.orgID, id.VerificationID{}, time.Minute)
	s.Require().NoError(err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.service.Terminate(s.ctx, session.Token)
	}()
	go func() {
		defer wg.Done()
		_, _ = s.store.ExpireDue(s.ctx, s.now.Add(time.Hour))
	}()
	wg.Wait()

	found, err := s.service.Get(s.ctx, session.Token)
	s.Require().NoError(err)
	s.True(found.Status.IsTerminal())
}

// =============================================================================
// Dependency failures
// =============================================================================

type ServiceFailureSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockStore
	audit   *mocks.MockAuditPublisher
	service *Service
	ctx     context.Context
}

func TestServiceFailureSuite(t *testing.T) {
	suite.Run(t, new(ServiceFailureSuite))
}

func (s *ServiceFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.service = New(s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.audit),
	)
	s.ctx = context.Background()
}

func (s *ServiceFailureSuite) TestStartStoreFailure() {
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	_, err := s.service.Start(s.ctx, id.OrganizationID(uuid.New()), id.VerificationID{}, time.Minute)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceFailureSuite) TestAuditFailureFailsOperation() {
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit down"))

	_, err := s.service.Start(s.ctx, id.OrganizationID(uuid.New()), id.VerificationID{}, time.Minute)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceFailureSuite) TestTransitionLostToDeletion() {
	session := models.NewSession("tok", id.OrganizationID(uuid.New()), id.VerificationID{}, time.Hour, time.Now())
	s.store.EXPECT().FindByToken(gomock.Any(), "tok").Return(session, nil)
	s.store.EXPECT().Transition(gomock.Any(), session.ID, models.LiveStatuses, models.StatusTerminated, gomock.Any()).
		Return(nil, sentinel.ErrNotFound)

	_, err := s.service.Terminate(s.ctx, "tok")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
