package api

import (
	"net/http"

	"github.com/bcnelson/stack-traffic-manager/internal/api/handler"
	"github.com/bcnelson/stack-traffic-manager/internal/api/middleware"
	"github.com/bcnelson/stack-traffic-manager/internal/service"
	"github.com/bcnelson/stack-traffic-manager/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
)

// RouterOptions holds the optional collaborators of the router.
type RouterOptions struct {
	// BootstrapKey is accepted while no API keys exist.
	BootstrapKey string
	// Verifier enables OIDC bearer tokens when set.
	Verifier middleware.TokenVerifier
	// Inventory enables version registration when set.
	Inventory handler.Inventory
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(store storage.Storage, traffic *service.TrafficService, opts RouterOptions, log logr.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(log.WithName("http")))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(store, opts.BootstrapKey, opts.Verifier, log.WithName("auth")))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(store, log)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		r.Route("/applications/{app}", func(r chi.Router) {
			versionHandler := handler.NewVersionHandler(traffic, opts.Inventory, log)
			r.Get("/versions", versionHandler.List)
			if opts.Inventory != nil {
				r.Put("/versions/{version}", versionHandler.Register)
				r.Delete("/versions/{version}", versionHandler.Deregister)
			}

			trafficHandler := handler.NewTrafficHandler(traffic, log)
			r.Get("/traffic", trafficHandler.Get)
			r.Put("/traffic", trafficHandler.Set)
		})
	})

	return r
}
