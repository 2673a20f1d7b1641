package service

import (
	"context"
	"errors"
	"time"

	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
	"verigate/internal/verification/statemachine"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/sentinel"
)

// step binds a provider kind to the events it drives.
type step struct {
	kind     providers.Kind
	success  models.Event
	failure  models.Event
	consumed []models.Event
}

var (
	ocrStep = step{
		kind:     providers.KindOcr,
		success:  models.EventOcrSuccess,
		failure:  models.EventOcrFailure,
		consumed: []models.Event{models.EventOcrSuccess, models.EventOcrFailure},
	}
	crossValidationStep = step{
		kind:     providers.KindCrossValidation,
		success:  models.EventCrossValidationSuccess,
		failure:  models.EventCrossValidationFailure,
		consumed: []models.Event{models.EventCrossValidationSuccess, models.EventCrossValidationFailure},
	}
	faceMatchStep = step{
		kind:     providers.KindFaceMatch,
		success:  models.EventFaceMatchSuccess,
		failure:  models.EventFaceMatchFailure,
		consumed: []models.Event{models.EventFaceMatchSuccess, models.EventFaceMatchFailure},
	}
	livenessStep = step{
		kind:     providers.KindLiveness,
		success:  models.EventLivenessSuccess,
		failure:  models.EventLivenessFailure,
		consumed: []models.Event{models.EventLivenessSuccess, models.EventLivenessFailure},
	}
)

// RunOcr extracts the front document through the OCR provider and submits
// the outcome.
func (s *Service) RunOcr(ctx context.Context, verificationID id.VerificationID) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "RunOcr", verificationID)
	defer func() { endSpan(span, err) }()

	return s.run(ctx, verificationID, ocrStep,
		func(ctx context.Context, req *models.VerificationRequest, pr *providers.Request) error {
			front, err := s.document(ctx, req.ID, id.DocumentSideFront)
			if err != nil {
				return err
			}
			pr.FrontPath = front.StoragePath
			return nil
		},
		func(ctx context.Context, result *providers.Result) (*models.VerificationRequest, error) {
			return s.SubmitOcrResult(ctx, verificationID, result.Passed, result.Fields)
		},
	)
}

// RunCrossValidation compares the front and back of the document.
func (s *Service) RunCrossValidation(ctx context.Context, verificationID id.VerificationID) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "RunCrossValidation", verificationID)
	defer func() { endSpan(span, err) }()

	return s.run(ctx, verificationID, crossValidationStep,
		func(ctx context.Context, req *models.VerificationRequest, pr *providers.Request) error {
			front, err := s.document(ctx, req.ID, id.DocumentSideFront)
			if err != nil {
				return err
			}
			back, err := s.document(ctx, req.ID, id.DocumentSideBack)
			if err != nil {
				return err
			}
			pr.FrontPath = front.StoragePath
			pr.BackPath = back.StoragePath
			return nil
		},
		func(ctx context.Context, result *providers.Result) (*models.VerificationRequest, error) {
			return s.SubmitCrossValidation(ctx, verificationID, result.Score)
		},
	)
}

// RunFaceMatch compares the document portrait with the selfie.
func (s *Service) RunFaceMatch(ctx context.Context, verificationID id.VerificationID) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "RunFaceMatch", verificationID)
	defer func() { endSpan(span, err) }()

	return s.run(ctx, verificationID, faceMatchStep,
		func(ctx context.Context, req *models.VerificationRequest, pr *providers.Request) error {
			front, err := s.document(ctx, req.ID, id.DocumentSideFront)
			if err != nil {
				return err
			}
			selfie, err := s.selfie(ctx, req.ID)
			if err != nil {
				return err
			}
			pr.FrontPath = front.StoragePath
			pr.SelfiePath = selfie.StoragePath
			return nil
		},
		func(ctx context.Context, result *providers.Result) (*models.VerificationRequest, error) {
			return s.SubmitFaceMatch(ctx, verificationID, result.Score)
		},
	)
}

func (s *Service) RunLiveness(ctx context.Context, verificationID id.VerificationID) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "RunLiveness", verificationID)
	defer func() { endSpan(span, err) }()

	return s.run(ctx, verificationID, livenessStep,
		func(ctx context.Context, req *models.VerificationRequest, pr *providers.Request) error {
			selfie, err := s.selfie(ctx, req.ID)
			if err != nil {
				return err
			}
			pr.SelfiePath = selfie.StoragePath
			return nil
		},
		func(ctx context.Context, result *providers.Result) (*models.VerificationRequest, error) {
			return s.SubmitLiveness(ctx, verificationID, result.Score)
		},
	)
}

type (
	prepareFunc func(ctx context.Context, req *models.VerificationRequest, pr *providers.Request) error
	submitFunc  func(ctx context.Context, result *providers.Result) (*models.VerificationRequest, error)
)

// run checks the step is still open, scores it and submits the result. A
// provider that fails after its retries drives the request to manual review
// when that is legal, otherwise to the step's failure event.
func (s *Service) run(ctx context.Context, verificationID id.VerificationID, st step, prepare prepareFunc, submit submitFunc) (*models.VerificationRequest, error) {
	req, err := s.load(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if req.HasApplied(st.consumed...) {
		return req, nil
	}
	if err := requireApplicable(req, st.success); err != nil {
		return nil, err
	}

	pr := providers.Request{Kind: st.kind, VerificationID: req.ID, IsSandbox: req.IsSandbox}
	if err := prepare(ctx, req, &pr); err != nil {
		return nil, err
	}

	result, err := s.score(ctx, pr)
	if err != nil {
		if errors.Is(err, providers.ErrProviderNotFound) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller gave up; the step stays open for a retry.
			return nil, dErrors.Wrap(ctxErr, dErrors.CodeTimeout, "scoring aborted")
		}
		return s.resolveProviderFailure(ctx, req, st, err)
	}
	return submit(ctx, result)
}

// score returns a cached result or calls the provider.
func (s *Service) score(ctx context.Context, pr providers.Request) (*providers.Result, error) {
	key := pr.CacheKey()
	if s.cache != nil {
		cached, err := s.cache.Find(ctx, key)
		switch {
		case err == nil:
			s.metrics.IncrementCacheHit(string(pr.Kind))
			return cached, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			s.logger.WarnContext(ctx, "score cache lookup failed",
				"verification_id", pr.VerificationID.String(),
				"kind", string(pr.Kind),
				"error", err,
			)
		}
	}

	if s.providers == nil {
		return nil, dErrors.Wrap(providers.ErrProviderNotFound, dErrors.CodeInternal, "no score providers configured")
	}
	provider, err := s.providers.Get(pr.Kind)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "score provider lookup failed")
	}

	start := time.Now()
	result, err := provider.Evaluate(ctx, pr)
	s.metrics.ObserveProviderLatency(string(pr.Kind), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Save(ctx, key, result); err != nil {
			s.logger.WarnContext(ctx, "score cache save failed",
				"verification_id", pr.VerificationID.String(),
				"kind", string(pr.Kind),
				"error", err,
			)
		}
	}
	return result, nil
}

func (s *Service) resolveProviderFailure(ctx context.Context, req *models.VerificationRequest, st step, cause error) (*models.VerificationRequest, error) {
	category := providers.GetCategory(cause)
	s.logger.ErrorContext(ctx, "score provider failed",
		"verification_id", req.ID.String(),
		"kind", string(st.kind),
		"category", string(category),
		"error", cause,
	)
	auditErr := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		return s.emitAudit(txCtx, audit.Event{
			VerificationID: req.ID,
			Action:         string(audit.EventVerificationStepFailed),
			FromState:      string(req.State),
			Trigger:        string(st.kind),
			Reason:         cause.Error(),
		})
	})
	if auditErr != nil {
		s.logger.ErrorContext(ctx, "failed to audit provider failure",
			"verification_id", req.ID.String(),
			"error", auditErr,
		)
	}

	reason := string(st.kind) + " provider failed: " + string(category)
	event := st.failure
	if statemachine.CanApply(req.State, models.EventManualReviewRequired) {
		event = models.EventManualReviewRequired
	}
	return s.fire(ctx, req.ID, attempt{
		primary:  event,
		consumed: st.consumed,
		reason:   reason,
	})
}

func (s *Service) document(ctx context.Context, verificationID id.VerificationID, side id.DocumentSide) (*models.Document, error) {
	doc, err := s.store.FindDocument(ctx, verificationID, side)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidState, side.String()+" document not uploaded")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
	}
	return doc, nil
}

func (s *Service) selfie(ctx context.Context, verificationID id.VerificationID) (*models.Selfie, error) {
	selfie, err := s.store.FindSelfie(ctx, verificationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "selfie not uploaded")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load selfie")
	}
	return selfie, nil
}
