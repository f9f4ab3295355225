package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/audit"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// AuditReader returns the audit history of a record.
type AuditReader interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	audit   AuditReader
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, auditReader AuditReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, audit: auditReader}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleGetByKey)
	r.Put("/", h.handleUpsert)
	r.Post("/reserve", h.handleMovement(h.service.Reserve))
	r.Post("/release", h.handleMovement(h.service.Release))
	r.Post("/restock", h.handleMovement(h.service.Restock))
	r.Post("/sufficiency", h.handleSufficiency)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleZeroOut)
	r.Get("/{id}/audit", h.handleAudit)
}

var errorRules = []httpx.StatusRule{
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: audit.ErrInvalidEntry, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrInsufficientStock, Status: http.StatusConflict, Title: "Insufficient Stock"},
	{Err: ErrInsufficientReserved, Status: http.StatusConflict, Title: "Insufficient Reserved"},
	{Err: ErrReservationOutstanding, Status: http.StatusConflict, Title: "Reservation Outstanding"},
	{Err: ErrCapacityExceeded, Status: http.StatusUnprocessableEntity, Title: "Capacity Exceeded"},
	{Err: ErrUnavailable, Status: http.StatusServiceUnavailable, Title: "Unavailable"},
}

type keyRequest struct {
	BranchID  int64  `json:"branch_id" validate:"required,gt=0"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	VariantID *int64 `json:"variant_id,omitempty" validate:"omitempty,gt=0"`
}

func (k keyRequest) key() Key {
	return Key{BranchID: k.BranchID, ProductID: k.ProductID, Variant: VariantFromPtr(k.VariantID)}
}

type upsertRequest struct {
	keyRequest
	Quantity      int64  `json:"quantity" validate:"gte=0"`
	Reserved      *int64 `json:"reserved_quantity,omitempty" validate:"omitempty,gte=0"`
	MinStockLevel *int64 `json:"min_stock_level,omitempty" validate:"omitempty,gte=0"`
	MaxStockLevel *int64 `json:"max_stock_level,omitempty" validate:"omitempty,gt=0"`
}

type movementRequest struct {
	keyRequest
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type itemRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	VariantID *int64 `json:"variant_id,omitempty" validate:"omitempty,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
}

type sufficiencyRequest struct {
	BranchID int64         `json:"branch_id" validate:"required,gt=0"`
	Items    []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type recordResponse struct {
	ID               int64  `json:"id"`
	BranchID         int64  `json:"branch_id"`
	ProductID        int64  `json:"product_id"`
	VariantID        *int64 `json:"variant_id"`
	Quantity         int64  `json:"quantity"`
	ReservedQuantity int64  `json:"reserved_quantity"`
	MinStockLevel    int64  `json:"min_stock_level"`
	MaxStockLevel    int64  `json:"max_stock_level"`
	LowStock         bool   `json:"low_stock"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

func toResponse(rec Record) recordResponse {
	resp := recordResponse{
		ID:               rec.ID,
		BranchID:         rec.Key.BranchID,
		ProductID:        rec.Key.ProductID,
		VariantID:        rec.Key.Variant.Ptr(),
		Quantity:         rec.Quantity,
		ReservedQuantity: rec.ReservedQuantity,
		MinStockLevel:    rec.MinStockLevel,
		MaxStockLevel:    rec.MaxStockLevel,
		LowStock:         rec.LowStock(),
	}
	if !rec.UpdatedAt.IsZero() {
		resp.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Upsert(r.Context(), UpsertInput{
		Key:           req.key(),
		Quantity:      req.Quantity,
		Reserved:      req.Reserved,
		MinStockLevel: req.MinStockLevel,
		MaxStockLevel: req.MaxStockLevel,
	})
	if err != nil {
		h.fail(w, "upsert", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleMovement(op func(context.Context, Key, int64) (Record, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req movementRequest
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		rec, err := op(r.Context(), req.key(), req.Quantity)
		if err != nil {
			h.fail(w, r.URL.Path, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toResponse(rec))
	}
}

func (h *Handler) handleSufficiency(w http.ResponseWriter, r *http.Request) {
	var req sufficiencyRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, Item{ProductID: it.ProductID, Variant: VariantFromPtr(it.VariantID), Qty: it.Quantity})
	}
	ok, err := h.service.SufficiencyCheck(r.Context(), req.BranchID, items)
	if err != nil {
		h.fail(w, "sufficiency", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"branch_id": req.BranchID, "sufficient": ok})
}

func (h *Handler) handleGetByKey(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var key keyRequest
	var err error
	if key.BranchID, err = strconv.ParseInt(q.Get("branch_id"), 10, 64); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "branch_id tidak valid")
		return
	}
	if key.ProductID, err = strconv.ParseInt(q.Get("product_id"), 10, 64); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id tidak valid")
		return
	}
	if raw := q.Get("variant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variant_id tidak valid")
			return
		}
		key.VariantID = &id
	}
	rec, err := h.service.GetByKey(r.Context(), key.key())
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleZeroOut(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.ZeroOutByID(r.Context(), id)
	if err != nil {
		h.fail(w, "zero_out", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if h.audit == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	result, err := h.audit.Timeline(r.Context(), audit.TimelineFilters{TableName: TableName, RecordID: id, Page: page, PageSize: size})
	if err != nil {
		h.fail(w, "audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	for _, rule := range errorRules {
		if errors.Is(err, rule.Err) {
			status = rule.Status
			break
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("inventory request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorRules...)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id tidak valid")
		return 0, false
	}
	return id, true
}
