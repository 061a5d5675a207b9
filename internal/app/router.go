package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mensa-erp/mensa-erp/internal/auth"
	"github.com/mensa-erp/mensa-erp/internal/documents"
	"github.com/mensa-erp/mensa-erp/internal/masterdata/categories"
	"github.com/mensa-erp/mensa-erp/internal/masterdata/products"
	"github.com/mensa-erp/mensa-erp/internal/masterdata/warehouses"
	"github.com/mensa-erp/mensa-erp/internal/observability"
	reconhttp "github.com/mensa-erp/mensa-erp/internal/recon/http"
	"github.com/mensa-erp/mensa-erp/internal/stock"
	"github.com/mensa-erp/mensa-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AuthMiddleware   *auth.Middleware
	InventoryHandler *reconhttp.Handler
	StockHandler     *stock.Handler
	DocumentsHandler *documents.Handler
	WarehouseHandler *warehouses.Handler
	CategoryHandler  *categories.Handler
	ProductHandler   *products.Handler
	JobHandler       *jobs.Handler
	Pool             *pgxpool.Pool
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded","postgres":"down"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.AuthMiddleware != nil {
			r.Use(params.AuthMiddleware.RequireToken)
		}
		params.InventoryHandler.MountRoutes(r)
		r.Route("/stock", params.StockHandler.MountRoutes)
		r.Route("/documents", params.DocumentsHandler.MountRoutes)
		r.Route("/warehouses", params.WarehouseHandler.MountRoutes)
		r.Route("/categories", params.CategoryHandler.MountRoutes)
		r.Route("/products", params.ProductHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
