package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func newRouter(logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", Health)
	return r
}

// NewShopRouter serves the product catalog.
func NewShopRouter(h *ProductHandler, logger *zap.Logger) http.Handler {
	r := newRouter(logger)

	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})

	return otelhttp.NewHandler(r, "shop.http")
}

// NewWarehouseRouter serves the administrative inventory endpoints.
func NewWarehouseRouter(h *InventoryHandler, logger *zap.Logger) http.Handler {
	r := newRouter(logger)

	r.Route("/inventory", func(r chi.Router) {
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Put)
	})

	return otelhttp.NewHandler(r, "warehouse.http")
}

func Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
