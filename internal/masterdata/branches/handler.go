package branches

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers branch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Show)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

var errorRules = []httpx.StatusRule{
	{Err: shared.ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: shared.ErrInvalidID, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: shared.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: shared.ErrDuplicate, Status: http.StatusConflict, Title: "Conflict"},
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filters := shared.ListFilters{
		Page:    page,
		Limit:   limit,
		Search:  q.Get("search"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
	if raw := q.Get("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filters.IsActive = &active
		}
	}

	branches, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list branches failed", slog.Any("error", err))
		httpx.RespondError(w, err, errorRules...)
		return
	}
	if branches == nil {
		branches = []Branch{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": branches, "total": total})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.ErrInvalidID, errorRules...)
		return
	}
	branch, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var form BranchForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	branch, err := h.service.Create(r.Context(), form.toBranch())
	if err != nil {
		h.logger.Error("create branch failed", slog.Any("error", err))
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusCreated, branch)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.ErrInvalidID, errorRules...)
		return
	}
	var form BranchForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Update(r.Context(), id, form.toBranch()); err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.ErrInvalidID, errorRules...)
		return
	}
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
