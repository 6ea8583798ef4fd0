package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"secretsanta/internal/allocation/models"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/email"
	"secretsanta/pkg/platform/httputil"
	"secretsanta/pkg/platform/validation"
	"secretsanta/pkg/requestcontext"
)

// Service is the participant-facing view of the exchange.
type Service interface {
	Draw(ctx context.Context, giverID string) (*models.Match, error)
	MatchFor(ctx context.Context, giverID string) (*models.Match, error)
}

// Handler serves the participant draw endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the draw routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/draws", h.handleDraw)
	r.Get("/draws/{giver}", h.handleGetMatch)
}

// DrawRequest is the body of POST /draws.
type DrawRequest struct {
	Giver string `json:"giver" validate:"required,email"`
}

func (r *DrawRequest) Normalize() {
	if r == nil {
		return
	}
	r.Giver = email.Normalize(r.Giver)
}

// MatchResponse is what a giver learns about their receiver.
type MatchResponse struct {
	Giver               string    `json:"giver"`
	Receiver            string    `json:"receiver"`
	ReceiverDisplayName string    `json:"receiver_display_name"`
	CreatedAt           time.Time `json:"created_at"`
}

func toResponse(m *models.Match) MatchResponse {
	return MatchResponse{
		Giver:               m.Giver,
		Receiver:            m.Receiver,
		ReceiverDisplayName: m.ReceiverDisplayName,
		CreatedAt:           m.CreatedAt.UTC(),
	}
}

func (h *Handler) handleDraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req DrawRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid draw request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	match, err := h.service.Draw(ctx, req.Giver)
	if err != nil {
		h.writeServiceError(ctx, w, "draw", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(match))
}

func (h *Handler) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	giver := chi.URLParam(r, "giver")

	match, err := h.service.MatchFor(ctx, giver)
	if err != nil {
		h.writeServiceError(ctx, w, "lookup match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(match))
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
