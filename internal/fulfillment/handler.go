package fulfillment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// Handler exposes assignment lookups.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine}
}

// ErrorRules maps engine errors to problem responses.
var ErrorRules = []httpx.StatusRule{
	{Err: ErrMissingLocation, Status: http.StatusUnprocessableEntity, Title: "Missing Location"},
	{Err: ErrInvalidOrder, Status: http.StatusUnprocessableEntity, Title: "Invalid Order"},
	{Err: ErrRankingUnavailable, Status: http.StatusServiceUnavailable, Title: "Ranking Unavailable"},
	{Err: ErrCompensationIncomplete, Status: http.StatusInternalServerError, Title: "Compensation Incomplete"},
	{Err: ErrAssignmentPersistFailed, Status: http.StatusServiceUnavailable, Title: "Assignment Not Saved"},
	{Err: inventory.ErrUnavailable, Status: http.StatusServiceUnavailable, Title: "Unavailable"},
	{Err: ErrNoBranchAvailable, Status: http.StatusConflict, Title: "No Branch Available"},
	{Err: ErrAlreadyAssigned, Status: http.StatusConflict, Title: "Already Assigned"},
	{Err: ErrNotAssigned, Status: http.StatusNotFound, Title: "Not Assigned"},
}

// GetAssignment handles GET /orders/{id}/assignment.
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || orderID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order id tidak valid")
		return
	}
	assignment, err := h.engine.Lookup(r.Context(), orderID)
	if err != nil {
		if !errors.Is(err, ErrNotAssigned) {
			h.logger.Error("assignment lookup failed", slog.Int64("order_id", orderID), slog.Any("error", err))
		}
		httpx.RespondError(w, err, ErrorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}
