// Package handler exposes operator endpoints for sessions on the ops listener.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verigate/internal/session/models"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/httputil"
)

type Sessions interface {
	Get(ctx context.Context, token string) (*models.Session, error)
	Terminate(ctx context.Context, token string) (*models.Session, error)
}

// Stats is the reaper's read-only aggregate.
type Stats interface {
	GetExpirationStats(ctx context.Context) (models.ExpirationStats, error)
}

type Handler struct {
	sessions Sessions
	stats    Stats
	logger   *slog.Logger
}

func New(sessions Sessions, stats Stats, logger *slog.Logger) *Handler {
	return &Handler{sessions: sessions, stats: stats, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/sessions/stats", h.handleStats)
	r.Get("/sessions/{token}", h.handleGet)
	r.Post("/sessions/{token}/terminate", h.handleTerminate)
}

type sessionResponse struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	VerificationID string     `json:"verification_id,omitempty"`
	Status         string     `json:"status"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetExpirationStats(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "load session stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(r.Context(), w, "get session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(session))
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.sessions.Terminate(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(ctx, w, "terminate session", err)
		return
	}
	h.logger.InfoContext(ctx, "operator terminated session", "session_id", session.ID.String())
	httputil.WriteJSON(w, http.StatusOK, toResponse(session))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "failed to "+op, "error", err)
	}
	httputil.WriteError(w, err)
}

// toResponse omits the token; it is a bearer credential for the end user.
func toResponse(session *models.Session) sessionResponse {
	resp := sessionResponse{
		ID:             session.ID.String(),
		OrganizationID: session.OrganizationID.String(),
		Status:         session.Status.String(),
		ExpiresAt:      session.ExpiresAt,
		CreatedAt:      session.CreatedAt,
		UpdatedAt:      session.UpdatedAt,
		TerminatedAt:   session.TerminatedAt,
	}
	if !session.VerificationID.IsNil() {
		resp.VerificationID = session.VerificationID.String()
	}
	return resp
}
