package service

import (
	"context"
	"fmt"
	"maps"
	"math"
	"strings"

	"verigate/internal/verification/models"
	"verigate/internal/verification/statemachine"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/requestcontext"
)

// MaxUploadBytes caps the declared size of an uploaded image.
const MaxUploadBytes = 10 << 20

// RecordDocumentUpload stores the document and advances the workflow. The
// front side fires document_upload, the back side fires back_id_upload.
func (s *Service) RecordDocumentUpload(ctx context.Context, verificationID id.VerificationID, upload models.DocumentUpload) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "RecordDocumentUpload", verificationID)
	defer func() { endSpan(span, err) }()

	if err := validateUpload(upload.StoragePath, upload.SizeBytes, upload.MimeType); err != nil {
		return nil, err
	}
	side := upload.Side
	if side == "" {
		side = id.DocumentSideFront
	}
	event := models.EventDocumentUpload
	if side.IsBack() {
		event = models.EventBackIDUpload
	}

	return s.fire(ctx, verificationID, attempt{
		primary:  event,
		consumed: []models.Event{event},
		persist: func(ctx context.Context, req *models.VerificationRequest) error {
			now := requestcontext.Now(ctx)
			doc := &models.Document{
				ID:             id.NewDocumentID(),
				VerificationID: req.ID,
				StoragePath:    upload.StoragePath,
				SizeBytes:      upload.SizeBytes,
				MimeType:       upload.MimeType,
				Side:           side,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.store.SaveDocument(ctx, doc); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save document")
			}
			return nil
		},
	})
}

// RecordSelfieUpload stores the live capture and fires live_capture_upload.
func (s *Service) RecordSelfieUpload(ctx context.Context, verificationID id.VerificationID, upload models.SelfieUpload) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "RecordSelfieUpload", verificationID)
	defer func() { endSpan(span, err) }()

	if err := validateUpload(upload.StoragePath, upload.SizeBytes, upload.MimeType); err != nil {
		return nil, err
	}
	return s.fire(ctx, verificationID, attempt{
		primary:  models.EventLiveCaptureUpload,
		consumed: []models.Event{models.EventLiveCaptureUpload},
		persist: func(ctx context.Context, req *models.VerificationRequest) error {
			selfie := &models.Selfie{
				ID:             id.NewSelfieID(),
				VerificationID: req.ID,
				StoragePath:    upload.StoragePath,
				SizeBytes:      upload.SizeBytes,
				MimeType:       upload.MimeType,
				CreatedAt:      requestcontext.Now(ctx),
			}
			if err := s.store.SaveSelfie(ctx, selfie); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save selfie")
			}
			return nil
		},
	})
}

// SubmitOcrResult records the OCR outcome. Extracted fields are kept on the
// front document for cross-validation; a failed extraction goes to manual review.
func (s *Service) SubmitOcrResult(ctx context.Context, verificationID id.VerificationID, success bool, fields map[string]string) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "SubmitOcrResult", verificationID)
	defer func() { endSpan(span, err) }()

	a := attempt{
		primary:  models.EventOcrFailure,
		consumed: []models.Event{models.EventOcrSuccess, models.EventOcrFailure},
		reason:   "document text could not be extracted",
	}
	if success {
		fields = maps.Clone(fields)
		a.primary = models.EventOcrSuccess
		a.reason = ""
		a.persist = func(ctx context.Context, req *models.VerificationRequest) error {
			err := s.store.UpdateExtractedFields(ctx, req.ID, id.DocumentSideFront, fields, requestcontext.Now(ctx))
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store extracted fields")
			}
			return nil
		}
	}
	return s.fire(ctx, verificationID, a)
}

// SubmitCrossValidation stores the score and attempts the success path; a
// rejected guard applies cross_validation_failure.
func (s *Service) SubmitCrossValidation(ctx context.Context, verificationID id.VerificationID, score float64) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "SubmitCrossValidation", verificationID)
	defer func() { endSpan(span, err) }()

	if err := validateScore(score); err != nil {
		return nil, err
	}
	return s.fire(ctx, verificationID, attempt{
		primary:  models.EventCrossValidationSuccess,
		fallback: models.EventCrossValidationFailure,
		consumed: []models.Event{models.EventCrossValidationSuccess, models.EventCrossValidationFailure},
		mutate: func(req *models.VerificationRequest) {
			req.CrossValidationScore = models.Score(score)
		},
	})
}

func (s *Service) SubmitFaceMatch(ctx context.Context, verificationID id.VerificationID, score float64) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "SubmitFaceMatch", verificationID)
	defer func() { endSpan(span, err) }()

	if err := validateScore(score); err != nil {
		return nil, err
	}
	return s.fire(ctx, verificationID, attempt{
		primary:  models.EventFaceMatchSuccess,
		fallback: models.EventFaceMatchFailure,
		consumed: []models.Event{models.EventFaceMatchSuccess, models.EventFaceMatchFailure},
		mutate: func(req *models.VerificationRequest) {
			req.FaceMatchScore = models.Score(score)
		},
	})
}

func (s *Service) SubmitLiveness(ctx context.Context, verificationID id.VerificationID, score float64) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "SubmitLiveness", verificationID)
	defer func() { endSpan(span, err) }()

	if err := validateScore(score); err != nil {
		return nil, err
	}
	return s.fire(ctx, verificationID, attempt{
		primary:  models.EventLivenessSuccess,
		fallback: models.EventLivenessFailure,
		consumed: []models.Event{models.EventLivenessSuccess, models.EventLivenessFailure},
		mutate: func(req *models.VerificationRequest) {
			req.LivenessScore = models.Score(score)
		},
	})
}

// ForceManualReview routes the request to a human. A request already in
// manual review is returned unchanged.
func (s *Service) ForceManualReview(ctx context.Context, verificationID id.VerificationID, reason string) (_ *models.VerificationRequest, err error) {
	ctx, span := s.startSpan(ctx, "ForceManualReview", verificationID)
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "manual review reason is required")
	}
	current, err := s.load(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if current.State == models.StateManualReview {
		return current, nil
	}
	return s.fire(ctx, verificationID, attempt{
		primary:  models.EventManualReviewRequired,
		consumed: []models.Event{models.EventManualReviewRequired},
		reason:   reason,
	})
}

func validateScore(score float64) error {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("score %v must be within [0,1]", score))
	}
	return nil
}

func validateUpload(path string, size int64, mimeType string) error {
	switch {
	case strings.TrimSpace(path) == "":
		return dErrors.New(dErrors.CodeValidation, "storage path is required")
	case size <= 0:
		return dErrors.New(dErrors.CodeValidation, "upload size must be positive")
	case size > MaxUploadBytes:
		return dErrors.New(dErrors.CodeValidation, "upload exceeds maximum size")
	case strings.TrimSpace(mimeType) == "":
		return dErrors.New(dErrors.CodeValidation, "mime type is required")
	}
	return nil
}

// requireApplicable rejects a step before any provider is billed for it.
func requireApplicable(req *models.VerificationRequest, event models.Event) error {
	if statemachine.CanApply(req.State, event) {
		return nil
	}
	err := &statemachine.TransitionError{Kind: statemachine.ErrInvalidTransition, From: req.State, Event: event}
	return dErrors.Wrap(err, dErrors.CodeInvalidState, "transition rejected")
}
