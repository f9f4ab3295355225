package fulfillment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newAssignmentRouter(h *harness) http.Handler {
	r := chi.NewRouter()
	r.Get("/orders/{id}/assignment", NewHandler(nil, h.engine).GetAssignment)
	return r
}

func TestGetAssignment(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10)
	h.ledger.set(10, 1, 5)
	h.ledger.set(10, 2, 5)
	_, err := h.engine.Assign(context.Background(), orderID)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	newAssignmentRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/500/assignment", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(500), body.OrderID)
	require.Equal(t, int64(10), body.BranchID)
}

func TestGetAssignmentNotAssigned(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10)

	rec := httptest.NewRecorder()
	newAssignmentRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/500/assignment", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	newAssignmentRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/abc/assignment", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserMessage(t *testing.T) {
	require.Empty(t, UserMessage(nil))
	require.Contains(t, UserMessage(ErrNoBranchAvailable), "restock")
	require.Contains(t, UserMessage(ErrAssignmentPersistFailed), "coba lagi")
	require.Contains(t, UserMessage(ErrMissingLocation), "lokasi")
}
