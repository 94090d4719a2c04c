package club

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clubroster/clubroster/internal/platform/httpx"
)

// Handler exposes club configuration as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers club routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/club", func(r chi.Router) {
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.updateSettings)
		r.Get("/membership-types", h.listTypes)
		r.Post("/membership-types", h.createType)
		r.Post("/membership-types/{id}/deactivate", h.setActive(false))
		r.Post("/membership-types/{id}/activate", h.setActive(true))
	})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.fail(w, "get club settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var in UpdateSettingsInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	settings, err := h.service.UpdateSettings(r.Context(), in)
	if err != nil {
		h.fail(w, "update club settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.ListTypes(r.Context())
	if err != nil {
		h.fail(w, "list membership types", err)
		return
	}
	if types == nil {
		types = []MembershipType{}
	}
	httpx.JSON(w, http.StatusOK, types)
}

func (h *Handler) createType(w http.ResponseWriter, r *http.Request) {
	var in CreateTypeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	t, err := h.service.CreateType(r.Context(), in)
	if err != nil {
		h.fail(w, "create membership type", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.SetTypeActive(r.Context(), chi.URLParam(r, "id"), active); err != nil {
			h.fail(w, "toggle membership type", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.Classified(httpx.ErrNotFound, err))
	case errors.Is(err, ErrDuplicateCode):
		httpx.RespondError(w, httpx.Classified(httpx.ErrDuplicate, err))
	case errors.Is(err, ErrInactiveType), errors.Is(err, ErrDefaultType):
		httpx.RespondError(w, httpx.Classified(httpx.ErrConflict, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
