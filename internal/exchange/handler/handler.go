package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"secretsanta/internal/allocation/engine"
	"secretsanta/internal/allocation/models"
	exmodels "secretsanta/internal/exchange/models"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/platform/httputil"
	"secretsanta/pkg/platform/validation"
	"secretsanta/pkg/requestcontext"
)

// Service is the admin view of the exchange lifecycle.
type Service interface {
	Start(ctx context.Context, exchangeDate *time.Time) (*exmodels.Settings, error)
	Reset(ctx context.Context) error
	Status(ctx context.Context) (*exmodels.Status, error)
	Feasibility(ctx context.Context) (*engine.FeasibilityReport, error)
	Matches(ctx context.Context) ([]*models.Match, error)
	Undo(ctx context.Context, giverID string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the exchange admin routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/exchange", h.handleStatus)
	r.Post("/admin/exchange/start", h.handleStart)
	r.Post("/admin/exchange/reset", h.handleReset)
	r.Get("/admin/exchange/feasibility", h.handleFeasibility)
	r.Get("/admin/matches", h.handleMatches)
	r.Delete("/admin/matches/{giver}", h.handleUndo)
}

// StartRequest optionally carries the day gifts are exchanged.
type StartRequest struct {
	ExchangeDate *time.Time `json:"exchange_date,omitempty"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StartRequest
	if err := validation.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "start exchange", err)
		return
	}

	settings, err := h.service.Start(ctx, req.ExchangeDate)
	if err != nil {
		h.writeError(ctx, w, "start exchange", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		h.writeError(r.Context(), w, "reset exchange", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "exchange status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) handleFeasibility(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Feasibility(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "feasibility", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.service.Matches(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "list matches", err)
		return
	}
	if matches == nil {
		matches = []*models.Match{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (h *Handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Undo(r.Context(), chi.URLParam(r, "giver")); err != nil {
		h.writeError(r.Context(), w, "undo match", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
