package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"verigate/internal/verification/events"
	"verigate/internal/verification/models"
	"verigate/internal/verification/statemachine"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// attempt describes one step of the workflow.
type attempt struct {
	// primary is fired first.
	primary models.Event
	// fallback is fired when primary's guard rejects the staged scores.
	fallback models.Event
	// consumed lists the events that mark this step as already done.
	// A request carrying any of them is returned unchanged.
	consumed []models.Event
	// mutate stages data on the copy before the guards run.
	mutate func(req *models.VerificationRequest)
	reason string
	// persist writes artifacts in the same transaction as the state change.
	persist func(ctx context.Context, req *models.VerificationRequest) error
}

// fire applies a step with optimistic concurrency: read, compute, then write
// only if the version is unchanged. No lock is held across the store calls.
func (s *Service) fire(ctx context.Context, verificationID id.VerificationID, a attempt) (*models.VerificationRequest, error) {
	current, err := s.load(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if len(a.consumed) > 0 && current.HasApplied(a.consumed...) {
		s.logger.DebugContext(ctx, "step already applied",
			"verification_id", verificationID.String(),
			"event", string(a.primary),
			"state", string(current.State),
		)
		return current, nil
	}

	next := current.Clone()
	if a.mutate != nil {
		a.mutate(next)
	}

	event := a.primary
	reason := a.reason
	to, err := statemachine.Apply(current.State, event, statemachine.ContextFor(next))
	if errors.Is(err, statemachine.ErrGuardRejected) && a.fallback != "" {
		s.metrics.IncrementGuardRejection(string(event))
		s.logger.InfoContext(ctx, "guard rejected, applying failure path",
			"verification_id", verificationID.String(),
			"event", string(event),
			"fallback", string(a.fallback),
			"error", err.Error(),
		)
		reason = err.Error()
		event = a.fallback
		to, err = statemachine.Apply(current.State, event, statemachine.ContextFor(next))
	}
	if err != nil {
		if errors.Is(err, statemachine.ErrGuardRejected) {
			s.metrics.IncrementGuardRejection(string(event))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "transition rejected")
	}

	now := requestcontext.Now(ctx)
	next.State = to
	next.AppliedEvents = append(next.AppliedEvents, event)
	next.Version = current.Version + 1
	next.UpdatedAt = now
	if to == models.StateManualReview && reason != "" {
		next.ReviewReason = reason
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if a.persist != nil {
			if err := a.persist(txCtx, next); err != nil {
				return err
			}
		}
		if err := s.store.UpdateRequestIfVersion(txCtx, next, current.Version); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				s.metrics.IncrementConflict()
				return dErrors.Wrap(err, dErrors.CodeConflict, "verification request was modified concurrently")
			}
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "verification request not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist verification request")
		}
		return s.emitAudit(txCtx, audit.Event{
			VerificationID: next.ID,
			Action:         string(audit.EventVerificationTransitioned),
			FromState:      string(current.State),
			ToState:        string(to),
			Trigger:        string(event),
			Reason:         reason,
			Timestamp:      now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, current.State, event, next)
	return next, nil
}

// afterTransition runs once the transition is committed. Failures here never
// undo the transition.
func (s *Service) afterTransition(ctx context.Context, from models.State, event models.Event, req *models.VerificationRequest) {
	terminal := statemachine.IsTerminal(req.State) || statemachine.IsSemiTerminal(req.State)
	s.metrics.IncrementTransition(string(from), string(event), string(req.State))
	if terminal {
		s.metrics.IncrementOutcome(string(req.State), req.IsSandbox)
	}

	trace.SpanFromContext(ctx).AddEvent("transition", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("event", string(event)),
		attribute.String("to", string(req.State)),
	))
	s.logger.InfoContext(ctx, "verification transitioned",
		"verification_id", req.ID.String(),
		"from_state", string(from),
		"to_state", string(req.State),
		"event", string(event),
		"version", req.Version,
	)

	if s.lifecycle == nil {
		return
	}
	err := s.lifecycle.PublishTransition(ctx, events.Lifecycle{
		VerificationID: req.ID.String(),
		DeveloperID:    req.DeveloperID.String(),
		UserID:         req.UserID.String(),
		FromState:      from,
		ToState:        req.State,
		Event:          event,
		Sandbox:        req.IsSandbox,
		Terminal:       terminal,
		Version:        req.Version,
		OccurredAt:     req.UpdatedAt,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"verification_id", req.ID.String(),
			"event", string(event),
			"error", err,
		)
	}
}

func (s *Service) startSpan(ctx context.Context, op string, verificationID id.VerificationID) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	if !verificationID.IsNil() {
		attrs = append(attrs, attribute.String("verification.id", verificationID.String()))
	}
	return s.tracer.Start(ctx, "verification."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.GetCode(err)))
	}
	span.End()
}
