package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/audit"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

type stubAuditReader struct {
	last audit.TimelineFilters
}

func (s *stubAuditReader) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.last = filters
	return audit.Result{Rows: []audit.Entry{{ID: 1, TableName: TableName, RecordID: filters.RecordID, Action: audit.ActionInsert}}}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *memoryRepo, *stubAuditReader) {
	t.Helper()
	repo := newMemoryRepo(1)
	svc, _ := newTestService(repo, ServiceConfig{})
	reader := &stubAuditReader{}
	r := chi.NewRouter()
	r.Route("/inventory", NewHandler(nil, svc, reader).MountRoutes)
	return r, repo, reader
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerUpsertAndReserve(t *testing.T) {
	h, repo, _ := newTestRouter(t)

	res := do(t, h, http.MethodPut, "/inventory/", `{"branch_id":1,"product_id":10,"quantity":8}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var body recordResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, int64(8), body.Quantity)
	require.Nil(t, body.VariantID)

	res = do(t, h, http.MethodPost, "/inventory/reserve", `{"branch_id":1,"product_id":10,"quantity":9}`)
	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
	require.Equal(t, "Insufficient Stock", problem.Title)

	res = do(t, h, http.MethodPost, "/inventory/reserve", `{"branch_id":1,"product_id":10,"quantity":8}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, int64(8), repo.record(t, keyA).ReservedQuantity)

	res = do(t, h, http.MethodDelete, "/inventory/1", "")
	require.Equal(t, http.StatusConflict, res.Code)
}

func TestHandlerValidation(t *testing.T) {
	h, _, _ := newTestRouter(t)

	res := do(t, h, http.MethodPost, "/inventory/restock", `{"branch_id":1,"product_id":10,"quantity":0}`)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = do(t, h, http.MethodPut, "/inventory/", `{"branch_id":1,"product_id":10,"quantity":2000}`)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)

	res = do(t, h, http.MethodGet, "/inventory/abc", "")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = do(t, h, http.MethodGet, "/inventory/5", "")
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestHandlerSufficiencyAndLookup(t *testing.T) {
	h, _, reader := newTestRouter(t)
	res := do(t, h, http.MethodPost, "/inventory/restock", `{"branch_id":1,"product_id":10,"variant_id":4,"quantity":3}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = do(t, h, http.MethodPost, "/inventory/sufficiency", `{"branch_id":1,"items":[{"product_id":10,"variant_id":4,"quantity":3}]}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"branch_id":1,"sufficient":true}`, res.Body.String())

	res = do(t, h, http.MethodGet, "/inventory/?branch_id=1&product_id=10&variant_id=4", "")
	require.Equal(t, http.StatusOK, res.Code)
	var body recordResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.NotNil(t, body.VariantID)
	require.Equal(t, int64(4), *body.VariantID)

	res = do(t, h, http.MethodGet, "/inventory/1/audit?page=2", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, TableName, reader.last.TableName)
	require.Equal(t, int64(1), reader.last.RecordID)
	require.Equal(t, 2, reader.last.Page)
}
