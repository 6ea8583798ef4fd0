// Package handler exposes the participant directory to the admin dashboard.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"secretsanta/internal/directory/models"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/email"
	"secretsanta/pkg/platform/httputil"
	"secretsanta/pkg/platform/validation"
	"secretsanta/pkg/requestcontext"
)

// Service defines the directory operations the admin routes need.
type Service interface {
	Add(ctx context.Context, address, displayName string) (*models.Participant, error)
	Get(ctx context.Context, id string) (*models.Participant, error)
	List(ctx context.Context) ([]*models.Participant, error)
	SetExclusions(ctx context.Context, id string, exclusions []string) (*models.Participant, error)
	SetActive(ctx context.Context, id string, active bool) (*models.Participant, error)
	Rename(ctx context.Context, id, displayName string) (*models.Participant, error)
	Remove(ctx context.Context, id string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the participant routes on r. Callers guard r with the
// admin token middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/participants", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleAdd)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleRename)
			r.Delete("/", h.handleRemove)
			r.Put("/exclusions", h.handleSetExclusions)
			r.Post("/activate", h.handleSetActive(true))
			r.Post("/deactivate", h.handleSetActive(false))
		})
	})
}

type AddParticipantRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"max=200"`
}

func (r *AddParticipantRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = email.Normalize(r.Email)
}

type RenameParticipantRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=200"`
}

type SetExclusionsRequest struct {
	Exclusions []string `json:"exclusions" validate:"max=100"`
}

type ParticipantResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	Exclusions  []string  `json:"exclusions"`
	CreatedAt   time.Time `json:"created_at"`
}

func toResponse(p *models.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Active:      p.Active,
		Exclusions:  lo.Ternary(p.Exclusions == nil, []string{}, p.Exclusions),
		CreatedAt:   p.CreatedAt.UTC(),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	participants, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "list participants", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"participants": lo.Map(participants, func(p *models.Participant, _ int) ParticipantResponse {
			return toResponse(p)
		}),
	})
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req AddParticipantRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(ctx, w, "add participant", err)
		return
	}
	p, err := h.service.Add(ctx, req.Email, req.DisplayName)
	if err != nil {
		h.writeError(ctx, w, "add participant", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(p))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r.Context(), w, "get participant", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RenameParticipantRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(ctx, w, "rename participant", err)
		return
	}
	p, err := h.service.Rename(ctx, chi.URLParam(r, "id"), req.DisplayName)
	if err != nil {
		h.writeError(ctx, w, "rename participant", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(r.Context(), w, "remove participant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetExclusions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req SetExclusionsRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(ctx, w, "set exclusions", err)
		return
	}
	p, err := h.service.SetExclusions(ctx, chi.URLParam(r, "id"), req.Exclusions)
	if err != nil {
		h.writeError(ctx, w, "set exclusions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.service.SetActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			h.writeError(r.Context(), w, "set active", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toResponse(p))
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	} else {
		h.logger.WarnContext(ctx, op+" rejected",
			"request_id", requestcontext.RequestID(ctx),
			"code", dErrors.CodeOf(err),
		)
	}
	httputil.WriteError(w, err)
}
