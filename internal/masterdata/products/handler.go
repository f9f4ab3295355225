package products

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
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

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Show)
	r.Put("/{id}", h.Update)
	r.Get("/{id}/variants", h.ListVariants)
	r.Post("/{id}/variants", h.CreateVariant)
}

var errorRules = []httpx.StatusRule{
	{Err: shared.ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: shared.ErrInvalidID, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: shared.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: shared.ErrDuplicate, Status: http.StatusConflict, Title: "Conflict"},
	{Err: inventory.ErrUnavailable, Status: http.StatusServiceUnavailable, Title: "Unavailable"},
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filters := shared.ListFilters{Page: page, Limit: limit, Search: q.Get("search"), SortBy: q.Get("sort"), SortDir: q.Get("dir")}
	if raw := q.Get("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filters.IsActive = &active
		}
	}
	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list products failed", slog.Any("error", err))
		httpx.RespondError(w, err, errorRules...)
		return
	}
	if items == nil {
		items = []Product{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "total": total})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var form ProductForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.Create(r.Context(), form.toProduct())
	if err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var form ProductForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Update(r.Context(), id, form.toProduct()); err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListVariants(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	variants, err := h.service.Variants(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	if variants == nil {
		variants = []Variant{}
	}
	httpx.JSON(w, http.StatusOK, variants)
}

func (h *Handler) CreateVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var form VariantForm
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	variant, initialized, err := h.service.CreateVariant(r.Context(), id, Variant{SKU: form.SKU, Name: form.Name})
	if err != nil {
		if variant.ID == 0 {
			httpx.RespondError(w, err, errorRules...)
			return
		}
		h.logger.Warn("variant created without stock rows", slog.Int64("variant_id", variant.ID))
	}
	httpx.JSON(w, http.StatusCreated, variantResponse{Variant: variant, Initialized: initialized})
}

func productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.ErrInvalidID, errorRules...)
		return 0, false
	}
	return id, true
}
