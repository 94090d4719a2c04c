package members

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clubroster/clubroster/internal/lifecycle"
	"github.com/clubroster/clubroster/internal/platform/httpx"
	"github.com/clubroster/clubroster/internal/shared"
)

// Handler exposes member records as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers member routes. Lifecycle routes share the /members prefix, so
// routes are registered flat rather than through a sub-router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/members", h.listMembers)
	r.Post("/members", h.createMember)
	r.Get("/members/{id}", h.getMember)
	r.Put("/members/{id}/household", h.assignHousehold)
	r.Post("/households", h.createHousehold)
	r.Get("/households/{id}", h.getHousehold)
}

type memberList struct {
	Items      []Member          `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	items, pagination, err := h.service.ListMembers(r.Context(), ListFilters{
		Status:      lifecycle.Status(strings.ToUpper(q.Get("status"))),
		HouseholdID: q.Get("household_id"),
		Query:       q.Get("q"),
		Page:        page,
		PerPage:     perPage,
	})
	if err != nil {
		h.fail(w, "list members", err)
		return
	}
	if items == nil {
		items = []Member{}
	}
	httpx.JSON(w, http.StatusOK, memberList{Items: items, Pagination: pagination})
}

func (h *Handler) createMember(w http.ResponseWriter, r *http.Request) {
	var in CreateMemberInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	m, err := h.service.CreateMember(r.Context(), in)
	if err != nil {
		h.fail(w, "create member", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get member", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

type householdPayload struct {
	HouseholdID string `json:"household_id" validate:"max=64"`
}

func (h *Handler) assignHousehold(w http.ResponseWriter, r *http.Request) {
	var in householdPayload
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	m, err := h.service.AssignHousehold(r.Context(), chi.URLParam(r, "id"), in.HouseholdID)
	if err != nil {
		h.fail(w, "assign household", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) createHousehold(w http.ResponseWriter, r *http.Request) {
	var in CreateHouseholdInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	hh, err := h.service.CreateHousehold(r.Context(), in)
	if err != nil {
		h.fail(w, "create household", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, hh)
}

func (h *Handler) getHousehold(w http.ResponseWriter, r *http.Request) {
	hh, items, err := h.service.HouseholdMembers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get household", err)
		return
	}
	if items == nil {
		items = []Member{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"household": hh, "members": items})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.Classified(httpx.ErrNotFound, err))
	case errors.Is(err, ErrDuplicateNumber):
		httpx.RespondError(w, httpx.Classified(httpx.ErrDuplicate, err))
	case errors.Is(err, ErrInitialStatus):
		httpx.RespondError(w, httpx.Classified(httpx.ErrValidation, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
