package models

import (
	"slices"
	"time"

	id "verigate/pkg/domain"
)

// State is a step of the verification workflow.
type State string

const (
	StatePending                  State = "pending"
	StateDocumentUploaded         State = "document_uploaded"
	StateOcrProcessing            State = "ocr_processing"
	StateOcrCompleted             State = "ocr_completed"
	StateBackIDProcessing         State = "back_id_processing"
	StateCrossValidationCompleted State = "cross_validation_completed"
	StateLiveCaptureProcessing    State = "live_capture_processing"
	StateFaceMatching             State = "face_matching"
	StateLivenessChecking         State = "liveness_checking"
	StateVerified                 State = "verified"
	StateFailed                   State = "failed"
	StateManualReview             State = "manual_review"
)

// AllStates lists every state in workflow order.
var AllStates = []State{
	StatePending,
	StateDocumentUploaded,
	StateOcrProcessing,
	StateOcrCompleted,
	StateBackIDProcessing,
	StateCrossValidationCompleted,
	StateLiveCaptureProcessing,
	StateFaceMatching,
	StateLivenessChecking,
	StateVerified,
	StateFailed,
	StateManualReview,
}

func (s State) String() string {
	return string(s)
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	return slices.Contains(AllStates, s)
}

// Event drives a transition between states.
type Event string

const (
	EventDocumentUpload         Event = "document_upload"
	EventOcrSuccess             Event = "ocr_success"
	EventOcrFailure             Event = "ocr_failure"
	EventBackIDUpload           Event = "back_id_upload"
	EventCrossValidationSuccess Event = "cross_validation_success"
	EventCrossValidationFailure Event = "cross_validation_failure"
	EventLiveCaptureUpload      Event = "live_capture_upload"
	EventFaceMatchSuccess       Event = "face_match_success"
	EventFaceMatchFailure       Event = "face_match_failure"
	EventLivenessSuccess        Event = "liveness_success"
	EventLivenessFailure        Event = "liveness_failure"
	EventManualReviewRequired   Event = "manual_review_required"
)

func (e Event) String() string {
	return string(e)
}

// VerificationRequest is a single verification attempt.
// Invariants:
//   - State is reachable from pending through legal transitions
//   - Version increases by one on every persisted mutation
//   - AppliedEvents lists every event applied, in order
type VerificationRequest struct {
	ID                   id.VerificationID
	UserID               id.UserID
	DeveloperID          id.DeveloperID
	State                State
	IsSandbox            bool
	CrossValidationScore *float64
	FaceMatchScore       *float64
	LivenessScore        *float64
	ReviewReason         string
	AppliedEvents        []Event
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewVerificationRequest builds a request in the pending state.
func NewVerificationRequest(userID id.UserID, developerID id.DeveloperID, isSandbox bool, now time.Time) *VerificationRequest {
	return &VerificationRequest{
		ID:          id.NewVerificationID(),
		UserID:      userID,
		DeveloperID: developerID,
		State:       StatePending,
		IsSandbox:   isSandbox,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasApplied reports whether any of events was already applied to the request.
func (r *VerificationRequest) HasApplied(events ...Event) bool {
	for _, e := range events {
		if slices.Contains(r.AppliedEvents, e) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can stage changes without touching the
// stored value.
func (r *VerificationRequest) Clone() *VerificationRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.CrossValidationScore = cloneScore(r.CrossValidationScore)
	c.FaceMatchScore = cloneScore(r.FaceMatchScore)
	c.LivenessScore = cloneScore(r.LivenessScore)
	c.AppliedEvents = slices.Clone(r.AppliedEvents)
	return &c
}

func cloneScore(s *float64) *float64 {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Score returns a pointer to v for optional score fields.
func Score(v float64) *float64 {
	return &v
}

// Document is an uploaded ID image. Owned by its VerificationRequest.
type Document struct {
	ID              id.DocumentID
	VerificationID  id.VerificationID
	StoragePath     string
	SizeBytes       int64
	MimeType        string
	Side            id.DocumentSide
	ExtractedFields map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Selfie is a live capture image. Owned by its VerificationRequest.
type Selfie struct {
	ID             id.SelfieID
	VerificationID id.VerificationID
	StoragePath    string
	SizeBytes      int64
	MimeType       string
	CreatedAt      time.Time
}

// DocumentUpload is the caller's description of a stored document image.
type DocumentUpload struct {
	StoragePath string
	SizeBytes   int64
	MimeType    string
	Side        id.DocumentSide
}

// SelfieUpload is the caller's description of a stored selfie image.
type SelfieUpload struct {
	StoragePath string
	SizeBytes   int64
	MimeType    string
}
