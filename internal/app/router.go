package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/branches"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

// RouterParams carries the handlers mounted by NewRouter. Nil handlers are skipped.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Metrics            *observability.Metrics
	InventoryHandler   *inventory.Handler
	FulfillmentHandler *fulfillment.Handler
	OrdersHandler      *orders.Handler
	BranchesHandler    *branches.Handler
	ProductsHandler    *products.Handler
	JobHandler         *jobs.Handler
}

// NewRouter builds the HTTP router with all routes mounted.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.InventoryHandler != nil {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
	}
	r.Route("/orders", func(r chi.Router) {
		if params.OrdersHandler != nil {
			params.OrdersHandler.MountRoutes(r)
		}
		if params.FulfillmentHandler != nil {
			r.Get("/{id}/assignment", params.FulfillmentHandler.GetAssignment)
		}
	})
	r.Route("/masterdata", func(r chi.Router) {
		if params.BranchesHandler != nil {
			r.Route("/branches", params.BranchesHandler.MountRoutes)
		}
		if params.ProductsHandler != nil {
			r.Route("/products", params.ProductsHandler.MountRoutes)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
