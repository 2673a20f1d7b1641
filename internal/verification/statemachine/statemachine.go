// Package statemachine holds the verification workflow transition table.
//
// The table is the single source of truth for which events are legal from
// which states. It is pure: Apply computes the next state and the caller is
// responsible for persisting it.
package statemachine

import (
	"errors"
	"fmt"
	"slices"

	"verigate/internal/verification/models"
)

var (
	// ErrInvalidTransition means the event is not legal from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrGuardRejected means the event is legal but a score guard failed.
	ErrGuardRejected = errors.New("guard rejected")
)

const (
	CrossValidationThreshold  = 0.70
	FaceMatchThreshold        = 0.85
	FaceMatchSandboxThreshold = 0.80
	LivenessThreshold         = 0.75
	LivenessSandboxThreshold  = 0.65
)

// TransitionContext carries the data guards evaluate.
// A nil score means the score has not been recorded yet.
type TransitionContext struct {
	CrossValidationScore *float64
	FaceMatchScore       *float64
	LivenessScore        *float64
	IsSandbox            bool
}

// ContextFor builds the guard context from a stored request.
func ContextFor(r *models.VerificationRequest) TransitionContext {
	return TransitionContext{
		CrossValidationScore: r.CrossValidationScore,
		FaceMatchScore:       r.FaceMatchScore,
		LivenessScore:        r.LivenessScore,
		IsSandbox:            r.IsSandbox,
	}
}

// Guard is a predicate a transition must satisfy.
type Guard struct {
	Name  string
	Check func(TransitionContext) bool
}

// Transition is one row of the table.
type Transition struct {
	Event  models.Event
	From   []models.State
	To     models.State
	Guards []Guard
}

// ScoreThresholds are the minimum passing scores for one environment.
type ScoreThresholds struct {
	CrossValidation float64
	FaceMatch       float64
	Liveness        float64
}

// Thresholds returns the passing scores for sandbox or production requests.
func Thresholds(isSandbox bool) ScoreThresholds {
	if isSandbox {
		return ScoreThresholds{
			CrossValidation: CrossValidationThreshold,
			FaceMatch:       FaceMatchSandboxThreshold,
			Liveness:        LivenessSandboxThreshold,
		}
	}
	return ScoreThresholds{
		CrossValidation: CrossValidationThreshold,
		FaceMatch:       FaceMatchThreshold,
		Liveness:        LivenessThreshold,
	}
}

func atLeast(score *float64, threshold float64) bool {
	return score != nil && *score >= threshold
}

var (
	crossValidationGuard = Guard{
		Name: "cross_validation_score",
		Check: func(tc TransitionContext) bool {
			return atLeast(tc.CrossValidationScore, Thresholds(tc.IsSandbox).CrossValidation)
		},
	}
	faceMatchGuard = Guard{
		Name: "face_match_score",
		Check: func(tc TransitionContext) bool {
			return atLeast(tc.FaceMatchScore, Thresholds(tc.IsSandbox).FaceMatch)
		},
	}
	livenessGuard = Guard{
		Name: "liveness_score",
		Check: func(tc TransitionContext) bool {
			return atLeast(tc.LivenessScore, Thresholds(tc.IsSandbox).Liveness)
		},
	}
)

var table = [...]Transition{
	{
		Event: models.EventDocumentUpload,
		From:  []models.State{models.StatePending},
		To:    models.StateDocumentUploaded,
	},
	{
		Event: models.EventOcrSuccess,
		From:  []models.State{models.StateDocumentUploaded, models.StateOcrProcessing},
		To:    models.StateOcrCompleted,
	},
	{
		Event: models.EventOcrFailure,
		From:  []models.State{models.StateDocumentUploaded, models.StateOcrProcessing},
		To:    models.StateManualReview,
	},
	{
		Event: models.EventBackIDUpload,
		From:  []models.State{models.StateOcrCompleted},
		To:    models.StateBackIDProcessing,
	},
	{
		Event:  models.EventCrossValidationSuccess,
		From:   []models.State{models.StateBackIDProcessing},
		To:     models.StateCrossValidationCompleted,
		Guards: []Guard{crossValidationGuard},
	},
	{
		Event: models.EventCrossValidationFailure,
		From:  []models.State{models.StateBackIDProcessing},
		To:    models.StateFailed,
	},
	{
		Event: models.EventLiveCaptureUpload,
		From:  []models.State{models.StateOcrCompleted, models.StateCrossValidationCompleted},
		To:    models.StateLiveCaptureProcessing,
	},
	{
		Event:  models.EventFaceMatchSuccess,
		From:   []models.State{models.StateLiveCaptureProcessing, models.StateFaceMatching},
		To:     models.StateLivenessChecking,
		Guards: []Guard{faceMatchGuard},
	},
	{
		Event: models.EventFaceMatchFailure,
		From:  []models.State{models.StateLiveCaptureProcessing, models.StateFaceMatching},
		To:    models.StateFailed,
	},
	{
		Event:  models.EventLivenessSuccess,
		From:   []models.State{models.StateLivenessChecking},
		To:     models.StateVerified,
		Guards: []Guard{livenessGuard},
	},
	{
		Event: models.EventLivenessFailure,
		From:  []models.State{models.StateLivenessChecking},
		To:    models.StateFailed,
	},
	{
		Event: models.EventManualReviewRequired,
		From: []models.State{
			models.StatePending,
			models.StateDocumentUploaded,
			models.StateOcrProcessing,
			models.StateBackIDProcessing,
			models.StateLiveCaptureProcessing,
		},
		To: models.StateManualReview,
	},
}

// TransitionError reports a rejected Apply call. It unwraps to
// ErrInvalidTransition or ErrGuardRejected.
type TransitionError struct {
	Kind  error
	From  models.State
	Event models.Event
	To    models.State
	Guard string
}

func (e *TransitionError) Error() string {
	if e.Kind == ErrGuardRejected {
		return fmt.Sprintf("validation failed for transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid transition from %s on event %s", e.From, e.Event)
}

func (e *TransitionError) Unwrap() error {
	return e.Kind
}

func find(state models.State, event models.Event) (Transition, bool) {
	for _, t := range table {
		if t.Event == event && slices.Contains(t.From, state) {
			return t, true
		}
	}
	return Transition{}, false
}

// CanApply reports whether event is legal from state. Guards are not evaluated.
func CanApply(state models.State, event models.Event) bool {
	_, ok := find(state, event)
	return ok
}

// Apply returns the state reached by firing event from state. Guards run in
// table order and the first failing guard aborts.
func Apply(state models.State, event models.Event, tc TransitionContext) (models.State, error) {
	t, ok := find(state, event)
	if !ok {
		return state, &TransitionError{Kind: ErrInvalidTransition, From: state, Event: event}
	}
	for _, g := range t.Guards {
		if !g.Check(tc) {
			return state, &TransitionError{Kind: ErrGuardRejected, From: state, Event: event, To: t.To, Guard: g.Name}
		}
	}
	return t.To, nil
}

// ValidEvents lists the events legal from state, in table order.
func ValidEvents(state models.State) []models.Event {
	var events []models.Event
	for _, t := range table {
		if slices.Contains(t.From, state) {
			events = append(events, t.Event)
		}
	}
	return events
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(state models.State) bool {
	return state == models.StateVerified || state == models.StateFailed
}

// IsSemiTerminal reports whether state only leaves through human action.
func IsSemiTerminal(state models.State) bool {
	return state == models.StateManualReview
}

// Transitions returns a copy of the table.
func Transitions() []Transition {
	out := make([]Transition, len(table))
	for i, t := range table {
		out[i] = Transition{
			Event:  t.Event,
			From:   slices.Clone(t.From),
			To:     t.To,
			Guards: slices.Clone(t.Guards),
		}
	}
	return out
}
