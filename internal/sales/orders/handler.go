package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
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

// MountRoutes registers order routes. The assignment lookup lives in the fulfillment handler.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Show)
	r.Get("/{id}/history", h.History)
	r.Post("/{id}/status", h.Transition)
}

var errorRules = []httpx.StatusRule{
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrInvalidStatus, Status: http.StatusConflict, Title: "Invalid Status"},
	{Err: ErrStatusChanged, Status: http.StatusConflict, Title: "Status Changed"},
	{Err: ErrTransitionInProgress, Status: http.StatusConflict, Title: "Transition In Progress"},
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req ListOrdersRequest
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))
	if req.Limit < 0 || req.Limit > 1000 || req.Offset < 0 {
		httpx.RespondError(w, ErrValidation, errorRules...)
		return
	}
	if raw := q.Get("customer_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			req.CustomerID = &id
		}
	}
	if raw := q.Get("status"); raw != "" {
		status := OrderStatus(raw)
		if !status.Valid() {
			httpx.RespondError(w, ErrValidation, errorRules...)
			return
		}
		req.Status = &status
	}

	orders, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list orders failed", slog.Any("error", err))
		httpx.RespondError(w, err, errorRules...)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": orders, "total": total})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create order failed", slog.Any("error", err))
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	rows, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	if rows == nil {
		rows = []StatusHistory{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Transition handles POST /orders/{id}/status.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	order, err := h.service.Transition(r.Context(), id, req.Status, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.respondTransitionError(w, id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// respondTransitionError shows assignment failures with the customer-facing message.
func (h *Handler) respondTransitionError(w http.ResponseWriter, id int64, err error) {
	for _, rule := range errorRules {
		if errors.Is(err, rule.Err) {
			httpx.Problem(w, rule.Status, rule.Title, err.Error())
			return
		}
	}
	for _, rule := range fulfillment.ErrorRules {
		if errors.Is(err, rule.Err) {
			if rule.Status >= http.StatusInternalServerError {
				h.logger.Error("order transition failed", slog.Int64("order_id", id), slog.Any("error", err))
			}
			httpx.Problem(w, rule.Status, rule.Title, fulfillment.UserMessage(err))
			return
		}
	}
	h.logger.Error("order transition failed", slog.Int64("order_id", id), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order id tidak valid")
		return 0, false
	}
	return id, true
}
