package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,AuditPublisher,LifecyclePublisher,ScoreCache,ProviderLookup,TxRunner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"verigate/internal/verification/events"
	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
	"verigate/internal/verification/service/mocks"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// =============================================================================
// Orchestrator Unit Suite
// =============================================================================
// Justification for unit tests: the orchestrator translates store and
// provider failures into coded errors and must never audit or publish a
// transition that did not commit. Mocks make each failure point reachable.

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	audit     *mocks.MockAuditPublisher
	lifecycle *mocks.MockLifecyclePublisher
	cache     *mocks.MockScoreCache
	lookup    *mocks.MockProviderLookup
	service   *Service
	ctx       context.Context
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.lifecycle = mocks.NewMockLifecyclePublisher(s.ctrl)
	s.cache = mocks.NewMockScoreCache(s.ctrl)
	s.lookup = mocks.NewMockProviderLookup(s.ctrl)
	s.service = New(s.store, s.lookup,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.audit),
		WithLifecyclePublisher(s.lifecycle),
		WithScoreCache(s.cache),
	)
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

// requestIn builds a request that reached state by applying events.
func (s *ServiceSuite) requestIn(state models.State, applied ...models.Event) *models.VerificationRequest {
	req := models.NewVerificationRequest(id.UserID(uuid.New()), id.DeveloperID(uuid.New()), false, s.now.Add(-time.Hour))
	req.State = state
	req.AppliedEvents = applied
	req.Version = len(applied) + 1
	return req
}

func (s *ServiceSuite) expectFind(req *models.VerificationRequest) *gomock.Call {
	return s.store.EXPECT().FindRequest(gomock.Any(), req.ID).DoAndReturn(
		func(context.Context, id.VerificationID) (*models.VerificationRequest, error) {
			return req.Clone(), nil
		})
}

// =============================================================================
// CreateRequest
// =============================================================================

func (s *ServiceSuite) TestCreateRequest() {
	s.Run("creates pending request and audits it", func() {
		userID, devID := id.UserID(uuid.New()), id.DeveloperID(uuid.New())
		s.store.EXPECT().CreateRequest(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *models.VerificationRequest) error {
				s.Equal(models.StatePending, req.State)
				s.Equal(s.now, req.CreatedAt)
				return nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e audit.Event) error {
				s.Equal(string(audit.EventVerificationCreated), e.Action)
				s.Equal("system", e.ActorID)
				return nil
			})

		req, err := s.service.CreateRequest(s.ctx, userID, devID, true)
		s.Require().NoError(err)
		s.True(req.IsSandbox)
		s.Equal(1, req.Version)
	})

	s.Run("missing user is a validation error", func() {
		_, err := s.service.CreateRequest(s.ctx, id.UserID{}, id.DeveloperID(uuid.New()), false)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("store failure is internal", func() {
		s.store.EXPECT().CreateRequest(gomock.Any(), gomock.Any()).Return(errors.New("db down"))
		_, err := s.service.CreateRequest(s.ctx, id.UserID(uuid.New()), id.DeveloperID(uuid.New()), false)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

// =============================================================================
// Transitions
// =============================================================================
// Justification: every committed transition is persisted with version+1,
// audited and published; nothing is audited when the write fails.

func (s *ServiceSuite) TestSubmitCrossValidation() {
	s.Run("guard rejection applies failure path with reason", func() {
		req := s.requestIn(models.StateBackIDProcessing,
			models.EventDocumentUpload, models.EventOcrSuccess, models.EventBackIDUpload)
		s.expectFind(req)
		s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 4).DoAndReturn(
			func(_ context.Context, next *models.VerificationRequest, _ int) error {
				s.Equal(models.StateFailed, next.State)
				s.Equal(5, next.Version)
				s.Equal(s.now, next.UpdatedAt)
				s.Require().NotNil(next.CrossValidationScore)
				s.InDelta(0.5, *next.CrossValidationScore, 1e-9)
				s.Equal(models.EventCrossValidationFailure, next.AppliedEvents[len(next.AppliedEvents)-1])
				return nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e audit.Event) error {
				s.Equal(string(audit.EventVerificationTransitioned), e.Action)
				s.Equal("back_id_processing", e.FromState)
				s.Equal("failed", e.ToState)
				s.Equal("cross_validation_failure", e.Trigger)
				s.Equal("validation failed for transition back_id_processing -> cross_validation_completed", e.Reason)
				return nil
			})
		s.lifecycle.EXPECT().PublishTransition(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e events.Lifecycle) error {
				s.True(e.Terminal)
				s.Equal(models.StateFailed, e.ToState)
				return nil
			})

		got, err := s.service.SubmitCrossValidation(s.ctx, req.ID, 0.5)
		s.Require().NoError(err)
		s.Equal(models.StateFailed, got.State)
	})

	s.Run("already consumed step is a no-op", func() {
		req := s.requestIn(models.StateCrossValidationCompleted,
			models.EventDocumentUpload, models.EventOcrSuccess, models.EventBackIDUpload, models.EventCrossValidationSuccess)
		req.CrossValidationScore = models.Score(0.72)
		s.expectFind(req)

		got, err := s.service.SubmitCrossValidation(s.ctx, req.ID, 0.72)
		s.Require().NoError(err)
		s.Equal(req, got)
	})

	s.Run("event not legal from state is invalid state", func() {
		req := s.requestIn(models.StatePending)
		s.expectFind(req)

		_, err := s.service.SubmitCrossValidation(s.ctx, req.ID, 0.9)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Contains(err.Error(), "invalid transition from pending on event cross_validation_success")
	})

	s.Run("score outside range is rejected before any read", func() {
		_, err := s.service.SubmitCrossValidation(s.ctx, id.NewVerificationID(), 1.5)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing request", func() {
		verID := id.NewVerificationID()
		s.store.EXPECT().FindRequest(gomock.Any(), verID).Return(nil, sentinel.ErrNotFound)
		_, err := s.service.SubmitCrossValidation(s.ctx, verID, 0.9)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestTransitionPersistenceFailures() {
	s.Run("lost version race is a retryable conflict", func() {
		req := s.requestIn(models.StatePending)
		s.expectFind(req)
		s.store.EXPECT().SaveDocument(gomock.Any(), gomock.Any()).Return(nil)
		s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 1).Return(sentinel.ErrConflict)

		_, err := s.service.RecordDocumentUpload(s.ctx, req.ID, models.DocumentUpload{
			StoragePath: "docs/front.jpg", SizeBytes: 100, MimeType: "image/jpeg",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.True(dErrors.IsRetryable(err))
	})

	s.Run("audit failure fails the transition and skips publishing", func() {
		req := s.requestIn(models.StatePending)
		s.expectFind(req).Times(2)
		s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 1).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))

		_, err := s.service.ForceManualReview(s.ctx, req.ID, "unreadable document")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("lifecycle publish failure does not undo the transition", func() {
		req := s.requestIn(models.StatePending)
		s.expectFind(req).Times(2)
		s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 1).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
		s.lifecycle.EXPECT().PublishTransition(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

		got, err := s.service.ForceManualReview(s.ctx, req.ID, "unreadable document")
		s.Require().NoError(err)
		s.Equal(models.StateManualReview, got.State)
		s.Equal("unreadable document", got.ReviewReason)
	})

	s.Run("document save failure aborts before the state write", func() {
		req := s.requestIn(models.StatePending)
		s.expectFind(req)
		s.store.EXPECT().SaveDocument(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

		_, err := s.service.RecordDocumentUpload(s.ctx, req.ID, models.DocumentUpload{
			StoragePath: "docs/front.jpg", SizeBytes: 100, MimeType: "image/jpeg",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestRecordDocumentUploadSides() {
	s.Run("back side fires back_id_upload and stores the back document", func() {
		req := s.requestIn(models.StateOcrCompleted, models.EventDocumentUpload, models.EventOcrSuccess)
		s.expectFind(req)
		s.store.EXPECT().SaveDocument(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, doc *models.Document) error {
				s.Equal(id.DocumentSideBack, doc.Side)
				s.Equal(req.ID, doc.VerificationID)
				return nil
			})
		s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 3).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
		s.lifecycle.EXPECT().PublishTransition(gomock.Any(), gomock.Any()).Return(nil)

		got, err := s.service.RecordDocumentUpload(s.ctx, req.ID, models.DocumentUpload{
			StoragePath: "docs/back.jpg", SizeBytes: 100, MimeType: "image/jpeg", Side: id.DocumentSideBack,
		})
		s.Require().NoError(err)
		s.Equal(models.StateBackIDProcessing, got.State)
	})

	s.Run("invalid upload is rejected", func() {
		_, err := s.service.RecordDocumentUpload(s.ctx, id.NewVerificationID(), models.DocumentUpload{
			StoragePath: "docs/front.jpg", SizeBytes: MaxUploadBytes + 1, MimeType: "image/jpeg",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Provider-driven steps
// =============================================================================
// Justification: provider failures must resolve the request, a cache hit
// must not bill the provider again, and a caller that gives up must leave the
// step open.

type stubProvider struct {
	kind   providers.Kind
	result *providers.Result
	err    error
	calls  int
}

func (p *stubProvider) ID() string                   { return "stub-" + string(p.kind) }
func (p *stubProvider) Kind() providers.Kind         { return p.kind }
func (p *stubProvider) Health(context.Context) error { return nil }
func (p *stubProvider) Evaluate(ctx context.Context, _ providers.Request) (*providers.Result, error) {
	p.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.result, p.err
}

func (s *ServiceSuite) faceMatchReady() *models.VerificationRequest {
	req := s.requestIn(models.StateLiveCaptureProcessing,
		models.EventDocumentUpload, models.EventOcrSuccess, models.EventLiveCaptureUpload)
	s.store.EXPECT().FindDocument(gomock.Any(), req.ID, id.DocumentSideFront).
		Return(&models.Document{StoragePath: "docs/front.jpg", Side: id.DocumentSideFront}, nil).AnyTimes()
	s.store.EXPECT().FindSelfie(gomock.Any(), req.ID).
		Return(&models.Selfie{StoragePath: "selfies/1.jpg"}, nil).AnyTimes()
	return req
}

func (s *ServiceSuite) TestRunFaceMatch() {
	s.Run("cache hit skips the provider", func() {
		req := s.faceMatchReady()
		s.expectFind(req).Times(2)
		s.cache.EXPECT().Find(gomock.Any(), "face_match:"+req.ID.String()).
			Return(&providers.Result{Kind: providers.KindFaceMatch, Score: 0.9}, nil)
		s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 4).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
		s.lifecycle.EXPECT().PublishTransition(gomock.Any(), gomock.Any()).Return(nil)

		got, err := s.service.RunFaceMatch(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StateLivenessChecking, got.State)
	})

	s.Run("provider result is cached and submitted", func() {
		req := s.faceMatchReady()
		provider := &stubProvider{kind: providers.KindFaceMatch, result: &providers.Result{Kind: providers.KindFaceMatch, Score: 0.4}}
		s.expectFind(req).Times(2)
		s.cache.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.lookup.EXPECT().Get(providers.KindFaceMatch).Return(provider, nil)
		s.cache.EXPECT().Save(gomock.Any(), "face_match:"+req.ID.String(), provider.result).Return(nil)
		s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 4).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
		s.lifecycle.EXPECT().PublishTransition(gomock.Any(), gomock.Any()).Return(nil)

		got, err := s.service.RunFaceMatch(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StateFailed, got.State)
		s.Equal(1, provider.calls)
	})

	s.Run("provider failure routes to manual review", func() {
		req := s.faceMatchReady()
		outage := providers.NewProviderError(providers.ErrorProviderOutage, "stub-face_match", "request failed", errors.New("503"))
		provider := &stubProvider{kind: providers.KindFaceMatch, err: outage}
		s.expectFind(req).Times(2)
		s.cache.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.lookup.EXPECT().Get(providers.KindFaceMatch).Return(provider, nil)
		gomock.InOrder(
			s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, e audit.Event) error {
					s.Equal(string(audit.EventVerificationStepFailed), e.Action)
					s.Equal("face_match", e.Trigger)
					return nil
				}),
			s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, e audit.Event) error {
					s.Equal("manual_review_required", e.Trigger)
					return nil
				}),
		)
		s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 4).Return(nil)
		s.lifecycle.EXPECT().PublishTransition(gomock.Any(), gomock.Any()).Return(nil)

		got, err := s.service.RunFaceMatch(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StateManualReview, got.State)
		s.Equal("face_match provider failed: provider_outage", got.ReviewReason)
	})

	s.Run("canceled caller leaves the step open", func() {
		req := s.faceMatchReady()
		provider := &stubProvider{kind: providers.KindFaceMatch}
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		s.expectFind(req)
		s.cache.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.lookup.EXPECT().Get(providers.KindFaceMatch).Return(provider, nil)

		_, err := s.service.RunFaceMatch(ctx, req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("wrong state never bills the provider", func() {
		req := s.requestIn(models.StateOcrCompleted, models.EventDocumentUpload, models.EventOcrSuccess)
		s.expectFind(req)

		_, err := s.service.RunFaceMatch(s.ctx, req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("missing provider is internal and leaves the request alone", func() {
		req := s.faceMatchReady()
		s.expectFind(req)
		s.cache.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.lookup.EXPECT().Get(providers.KindFaceMatch).Return(nil, providers.ErrProviderNotFound)

		_, err := s.service.RunFaceMatch(s.ctx, req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestRunLivenessProviderFailureFromLivenessChecking() {
	req := s.requestIn(models.StateLivenessChecking,
		models.EventDocumentUpload, models.EventOcrSuccess, models.EventLiveCaptureUpload, models.EventFaceMatchSuccess)
	timeout := providers.NewProviderError(providers.ErrorTimeout, "stub-liveness", "timed out", context.DeadlineExceeded)
	s.expectFind(req).Times(2)
	s.store.EXPECT().FindSelfie(gomock.Any(), req.ID).Return(&models.Selfie{StoragePath: "selfies/1.jpg"}, nil)
	s.cache.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
	s.lookup.EXPECT().Get(providers.KindLiveness).Return(&stubProvider{kind: providers.KindLiveness, err: timeout}, nil)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.store.EXPECT().UpdateRequestIfVersion(gomock.Any(), gomock.Any(), 5).Return(nil)
	s.lifecycle.EXPECT().PublishTransition(gomock.Any(), gomock.Any()).Return(nil)

	got, err := s.service.RunLiveness(s.ctx, req.ID)
	s.Require().NoError(err)
	// manual_review_required is not legal from liveness_checking.
	s.Equal(models.StateFailed, got.State)
	s.Equal(models.EventLivenessFailure, got.AppliedEvents[len(got.AppliedEvents)-1])
}

func (s *ServiceSuite) TestListAuditTrail() {
	req := s.requestIn(models.StatePending)
	s.expectFind(req)
	trail := []audit.Event{{VerificationID: req.ID, Action: string(audit.EventVerificationCreated)}}
	s.audit.EXPECT().List(gomock.Any(), req.ID).Return(trail, nil)

	got, err := s.service.ListAuditTrail(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(trail, got)
}
