// Package lifecyclehttp exposes the member lifecycle engine as JSON endpoints.
package lifecyclehttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clubroster/clubroster/internal/lifecycle"
	"github.com/clubroster/clubroster/internal/platform/httpx"
	"github.com/clubroster/clubroster/internal/shared"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyModule = "lifecycle.transition"
)

// IdempotencyGuard claims request keys so retried submissions commit once.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler wires lifecycle endpoints.
type Handler struct {
	logger      *slog.Logger
	engine      *lifecycle.Engine
	idempotency IdempotencyGuard
	validator   *validator.Validate
}

// NewHandler constructs handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, engine *lifecycle.Engine, idempotency IdempotencyGuard) *Handler {
	return &Handler{logger: logger, engine: engine, idempotency: idempotency, validator: validator.New()}
}

// MountRoutes registers routes. They share the /members/{id} prefix with the member
// handler, so they are registered flat.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/lifecycle/graph", h.graph)
	r.Get("/members/{id}/status", h.status)
	r.Get("/members/{id}/timeline", h.timeline)
	r.Post("/members/{id}/transitions", h.requestTransition)
	r.Post("/members/{id}/transitions/preview", h.previewTransition)
	r.Post("/members/{id}/transitions/apply", h.applyPlan)
	r.Patch("/members/{id}/transitions/{tid}", h.editTransition)
	r.Post("/members/{id}/transitions/{tid}/preview", h.previewEdit)
	r.Delete("/members/{id}/transitions/{tid}", h.revokeTransition)
	r.Post("/members/{id}/transitions/{tid}/revoke/preview", h.previewRevoke)
	r.Post("/members/{id}/membership-type", h.changeType)
	r.Post("/members/{id}/membership-type/preview", h.previewType)
	r.Post("/members/{id}/periods", h.createPeriod)
	r.Post("/members/{id}/periods/{pid}/close", h.closePeriod)
	r.Post("/members/{id}/periods/{pid}/reopen", h.reopenPeriod)
}

func (h *Handler) graph(w http.ResponseWriter, r *http.Request) {
	g := h.engine.Graph()
	out := make([]graphStatusDTO, 0)
	for _, s := range g.Statuses() {
		row := graphStatusDTO{
			Status:         string(s),
			Allowed:        []string{},
			Terminal:       g.IsTerminal(s),
			Destructive:    g.IsDestructive(s),
			RequiresPeriod: g.RequiresPeriod(s),
			Named:          []namedTransitionDTO{},
		}
		for _, target := range g.AllowedTransitions(s) {
			row.Allowed = append(row.Allowed, string(target))
		}
		for _, nt := range g.NamedFor(s) {
			row.Named = append(row.Named, toNamedDTO(nt))
		}
		out = append(out, row)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"initial": string(g.Initial()), "statuses": out})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseOptionalDay(r.URL.Query().Get("as_of"))
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"as_of": "expected YYYY-MM-DD"})
		return
	}
	memberID := chi.URLParam(r, "id")
	status, err := h.engine.GetCurrentStatus(r.Context(), memberID, asOf)
	if err != nil {
		h.fail(w, "get member status", err)
		return
	}
	body := map[string]string{"member_id": memberID, "status": string(status)}
	if !asOf.IsZero() {
		body["as_of"] = formatDay(asOf)
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	tl, err := h.engine.GetTimeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get member timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTimelineDTO(tl))
}

func (h *Handler) requestTransition(w http.ResponseWriter, r *http.Request) {
	req, ok := h.transitionRequest(w, r)
	if !ok {
		return
	}
	key := r.Header.Get(idempotencyHeader)
	if !h.claim(w, r, key) {
		return
	}
	result, err := h.engine.RequestTransition(r.Context(), req)
	if err != nil {
		h.release(r, key)
		h.fail(w, "request transition", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResultDTO(result))
}

func (h *Handler) previewTransition(w http.ResponseWriter, r *http.Request) {
	req, ok := h.transitionRequest(w, r)
	if !ok {
		return
	}
	plan, err := h.engine.PreviewTransition(r.Context(), req)
	if err != nil {
		h.fail(w, "preview transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPlanDTO(plan))
}

func (h *Handler) applyPlan(w http.ResponseWriter, r *http.Request) {
	var payload planDTO
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	memberID := chi.URLParam(r, "id")
	if payload.MemberID != memberID {
		httpx.ValidationProblem(w, map[string]string{"member_id": "plan belongs to another member"})
		return
	}
	plan, err := fromPlanDTO(payload)
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"plan": err.Error()})
		return
	}
	result, err := h.engine.ApplyPlan(r.Context(), plan, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "apply plan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResultDTO(result))
}

func (h *Handler) editTransition(w http.ResponseWriter, r *http.Request) {
	req, ok := h.editRequest(w, r)
	if !ok {
		return
	}
	result, err := h.engine.EditTransition(r.Context(), req)
	if err != nil {
		h.fail(w, "edit transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResultDTO(result))
}

func (h *Handler) previewEdit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.editRequest(w, r)
	if !ok {
		return
	}
	plan, err := h.engine.PreviewEdit(r.Context(), req)
	if err != nil {
		h.fail(w, "preview edit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPlanDTO(plan))
}

func (h *Handler) revokeTransition(w http.ResponseWriter, r *http.Request) {
	req, ok := h.revokeRequest(w, r)
	if !ok {
		return
	}
	result, err := h.engine.RevokeTransition(r.Context(), req)
	if err != nil {
		h.fail(w, "revoke transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResultDTO(result))
}

func (h *Handler) previewRevoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.revokeRequest(w, r)
	if !ok {
		return
	}
	plan, err := h.engine.PreviewRevoke(r.Context(), req)
	if err != nil {
		h.fail(w, "preview revoke", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPlanDTO(plan))
}

func (h *Handler) changeType(w http.ResponseWriter, r *http.Request) {
	req, ok := h.typeChangeRequest(w, r)
	if !ok {
		return
	}
	result, err := h.engine.ChangeMembershipType(r.Context(), req)
	if err != nil {
		h.fail(w, "change membership type", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResultDTO(result))
}

func (h *Handler) previewType(w http.ResponseWriter, r *http.Request) {
	req, ok := h.typeChangeRequest(w, r)
	if !ok {
		return
	}
	plan, err := h.engine.PreviewMembershipType(r.Context(), req)
	if err != nil {
		h.fail(w, "preview membership type", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPlanDTO(plan))
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var payload periodPayload
	if !h.decode(w, r, &payload) {
		return
	}
	join, _ := lifecycle.ParseDay(payload.JoinDate)
	req := lifecycle.PeriodRequest{
		MemberID:         chi.URLParam(r, "id"),
		JoinDate:         join,
		MembershipTypeID: payload.MembershipTypeID,
		Notes:            payload.Notes,
		ActorID:          shared.ActorFromContext(r.Context()),
	}
	if payload.LeaveDate != "" {
		leave, _ := lifecycle.ParseDay(payload.LeaveDate)
		req.LeaveDate = &leave
	}
	period, err := h.engine.CreatePeriod(r.Context(), req)
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPeriodDTO(period))
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	var payload closePayload
	if !h.decode(w, r, &payload) {
		return
	}
	leave, _ := lifecycle.ParseDay(payload.LeaveDate)
	period, err := h.engine.ClosePeriod(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"), leave, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodDTO(period))
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.engine.ReopenPeriod(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "reopen period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodDTO(period))
}

func (h *Handler) transitionRequest(w http.ResponseWriter, r *http.Request) (lifecycle.TransitionRequest, bool) {
	var payload transitionPayload
	if !h.decode(w, r, &payload) {
		return lifecycle.TransitionRequest{}, false
	}
	effective, _ := parseOptionalDay(payload.EffectiveDate)
	return lifecycle.TransitionRequest{
		MemberID:         chi.URLParam(r, "id"),
		ToStatus:         lifecycle.Status(payload.ToStatus),
		Kind:             lifecycle.Kind(payload.Kind),
		Reason:           payload.Reason,
		LeftCategory:     lifecycle.LeftCategory(payload.LeftCategory),
		MembershipTypeID: payload.MembershipTypeID,
		EffectiveDate:    effective,
		ActorID:          shared.ActorFromContext(r.Context()),
		ExpectedVersion:  payload.ExpectedVersion,
	}, true
}

func (h *Handler) editRequest(w http.ResponseWriter, r *http.Request) (lifecycle.EditRequest, bool) {
	var payload editPayload
	if !h.decode(w, r, &payload) {
		return lifecycle.EditRequest{}, false
	}
	req := lifecycle.EditRequest{
		MemberID:         chi.URLParam(r, "id"),
		TransitionID:     chi.URLParam(r, "tid"),
		Reason:           payload.Reason,
		MembershipTypeID: payload.MembershipTypeID,
		ActorID:          shared.ActorFromContext(r.Context()),
		ExpectedVersion:  payload.ExpectedVersion,
	}
	if payload.ToStatus != nil {
		s := lifecycle.Status(*payload.ToStatus)
		req.ToStatus = &s
	}
	if payload.Kind != nil {
		k := lifecycle.Kind(*payload.Kind)
		req.Kind = &k
	}
	if payload.LeftCategory != nil {
		c := lifecycle.LeftCategory(*payload.LeftCategory)
		req.LeftCategory = &c
	}
	if payload.EffectiveDate != nil {
		d, _ := lifecycle.ParseDay(*payload.EffectiveDate)
		req.EffectiveDate = &d
	}
	return req, true
}

func (h *Handler) revokeRequest(w http.ResponseWriter, r *http.Request) (lifecycle.RevokeRequest, bool) {
	var payload revokePayload
	if r.ContentLength != 0 && !h.decode(w, r, &payload) {
		return lifecycle.RevokeRequest{}, false
	}
	return lifecycle.RevokeRequest{
		MemberID:        chi.URLParam(r, "id"),
		TransitionID:    chi.URLParam(r, "tid"),
		Reason:          payload.Reason,
		ActorID:         shared.ActorFromContext(r.Context()),
		ExpectedVersion: payload.ExpectedVersion,
	}, true
}

func (h *Handler) typeChangeRequest(w http.ResponseWriter, r *http.Request) (lifecycle.TypeChangeRequest, bool) {
	var payload typeChangePayload
	if !h.decode(w, r, &payload) {
		return lifecycle.TypeChangeRequest{}, false
	}
	effective, _ := parseOptionalDay(payload.EffectiveDate)
	return lifecycle.TypeChangeRequest{
		MemberID:         chi.URLParam(r, "id"),
		MembershipTypeID: payload.MembershipTypeID,
		Reason:           payload.Reason,
		EffectiveDate:    effective,
		ActorID:          shared.ActorFromContext(r.Context()),
		ExpectedVersion:  payload.ExpectedVersion,
	}, true
}

// decode reads and validates a payload. Date fields are checked by the validator, so
// later ParseDay calls on them cannot fail.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return false
	}
	return true
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request, key string) bool {
	if key == "" || h.idempotency == nil {
		return true
	}
	err := h.idempotency.CheckAndInsert(r.Context(), chi.URLParam(r, "id")+":"+key, idempotencyModule)
	if err == nil {
		return true
	}
	h.fail(w, "claim idempotency key", err)
	return false
}

func (h *Handler) release(r *http.Request, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(context.WithoutCancel(r.Context()), chi.URLParam(r, "id")+":"+key, idempotencyModule); err != nil {
		h.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case lifecycle.IsValidationError(err):
		httpx.RespondError(w, httpx.Classified(httpx.ErrValidation, err))
	case lifecycle.IsConsistencyError(err), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.RespondError(w, httpx.Classified(httpx.ErrConflict, err))
	case errors.Is(err, lifecycle.ErrMemberNotFound), errors.Is(err, lifecycle.ErrTransitionNotFound),
		errors.Is(err, lifecycle.ErrPeriodNotFound):
		httpx.RespondError(w, httpx.Classified(httpx.ErrNotFound, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
