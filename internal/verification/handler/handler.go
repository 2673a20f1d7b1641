// Package handler exposes operator endpoints for verification requests on
// the ops listener: inspection, the audit trail and forced manual review.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/httputil"
)

// Service is the subset of the orchestrator operators can reach.
type Service interface {
	GetRequest(ctx context.Context, verificationID id.VerificationID) (*models.VerificationRequest, error)
	ValidEvents(ctx context.Context, verificationID id.VerificationID) ([]models.Event, error)
	ListAuditTrail(ctx context.Context, verificationID id.VerificationID) ([]audit.Event, error)
	ForceManualReview(ctx context.Context, verificationID id.VerificationID, reason string) (*models.VerificationRequest, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes on r. Callers apply authentication.
func (h *Handler) Register(r chi.Router) {
	r.Get("/verifications/{id}", h.handleGet)
	r.Get("/verifications/{id}/audit", h.handleAuditTrail)
	r.Post("/verifications/{id}/manual-review", h.handleManualReview)
}

type requestResponse struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	DeveloperID          string    `json:"developer_id"`
	State                string    `json:"state"`
	Sandbox              bool      `json:"sandbox"`
	CrossValidationScore *float64  `json:"cross_validation_score,omitempty"`
	FaceMatchScore       *float64  `json:"face_match_score,omitempty"`
	LivenessScore        *float64  `json:"liveness_score,omitempty"`
	ReviewReason         string    `json:"review_reason,omitempty"`
	AppliedEvents        []string  `json:"applied_events"`
	NextEvents           []string  `json:"next_events"`
	Version              int       `json:"version"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type auditEventResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state,omitempty"`
	Trigger   string    `json:"trigger,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ActorID   string    `json:"actor_id"`
	RequestID string    `json:"request_id,omitempty"`
}

type manualReviewRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verificationID, ok := h.parseID(w, r)
	if !ok {
		return
	}
	req, err := h.service.GetRequest(ctx, verificationID)
	if err != nil {
		h.writeError(ctx, w, "get verification", err)
		return
	}
	next, err := h.service.ValidEvents(ctx, verificationID)
	if err != nil {
		h.writeError(ctx, w, "list next events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req, next))
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verificationID, ok := h.parseID(w, r)
	if !ok {
		return
	}
	events, err := h.service.ListAuditTrail(ctx, verificationID)
	if err != nil {
		h.writeError(ctx, w, "list audit trail", err)
		return
	}
	out := make([]auditEventResponse, len(events))
	for i, e := range events {
		out[i] = auditEventResponse{
			Timestamp: e.Timestamp,
			Category:  string(e.Category),
			Action:    e.Action,
			FromState: e.FromState,
			ToState:   e.ToState,
			Trigger:   e.Trigger,
			Reason:    e.Reason,
			ActorID:   e.ActorID,
			RequestID: e.RequestID,
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleManualReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verificationID, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var body manualReviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	req, err := h.service.ForceManualReview(ctx, verificationID, body.Reason)
	if err != nil {
		h.writeError(ctx, w, "force manual review", err)
		return
	}
	h.logger.InfoContext(ctx, "operator forced manual review",
		"verification_id", verificationID.String(),
		"reason", body.Reason,
	)
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req, nil))
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (id.VerificationID, bool) {
	verificationID, err := id.ParseVerificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid verification id"))
		return id.VerificationID{}, false
	}
	return verificationID, true
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "failed to "+op, "error", err)
	}
	httputil.WriteError(w, err)
}

func toRequestResponse(req *models.VerificationRequest, next []models.Event) requestResponse {
	return requestResponse{
		ID:                   req.ID.String(),
		UserID:               req.UserID.String(),
		DeveloperID:          req.DeveloperID.String(),
		State:                req.State.String(),
		Sandbox:              req.IsSandbox,
		CrossValidationScore: req.CrossValidationScore,
		FaceMatchScore:       req.FaceMatchScore,
		LivenessScore:        req.LivenessScore,
		ReviewReason:         req.ReviewReason,
		AppliedEvents:        eventNames(req.AppliedEvents),
		NextEvents:           eventNames(next),
		Version:              req.Version,
		CreatedAt:            req.CreatedAt,
		UpdatedAt:            req.UpdatedAt,
	}
}

func eventNames(events []models.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}
