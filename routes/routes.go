package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/mdm-catalog/app"
	"github.com/upb/mdm-catalog/handlers"
	"github.com/upb/mdm-catalog/internal/observability"
	"github.com/upb/mdm-catalog/middleware"
	"github.com/upb/mdm-catalog/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if deps.HTTPMetrics != nil {
		r.Use(middleware.Instrument(deps.HTTPMetrics))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := handlers.NewHealthHandler(deps.DB.DB, map[string]handlers.ReadinessChecker{
		"files": deps.Files,
	}, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", observability.Handler(deps.Registry))
	}

	apps := handlers.NewApplicationHandler(deps.Catalog, deps.Files, deps.Logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/applications", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.ExtractTenant)

			// Uploads can take far longer than the rest of the API
			r.With(chimw.Timeout(10*time.Minute)).Post("/", apps.HandleCreateApplication)

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(60 * time.Second))

				r.Get("/", apps.HandleListApplications)
				r.Put("/{id}", apps.HandleUpdateApplication)
				r.Delete("/{id}", apps.HandleDeleteApplication)
				r.Get("/{id}/versions", apps.HandleListVersions)
				r.Get("/{id}/configurations", apps.HandleGetApplicationLinks)
				r.Put("/{id}/configurations", apps.HandleUpdateApplicationLinks)
				r.With(deps.AuthMiddleware.RequireSuperAdmin).Post("/{id}/promote", apps.HandlePromote)

				r.Put("/versions/{versionId}", apps.HandleUpdateVersion)
				r.Delete("/versions/{versionId}", apps.HandleDeleteVersion)
				r.Get("/versions/{versionId}/configurations", apps.HandleGetVersionLinks)
				r.Put("/versions/{versionId}/configurations", apps.HandleUpdateVersionLinks)
			})

			r.With(chimw.Timeout(10*time.Minute)).Post("/{id}/versions", apps.HandleCreateVersion)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
	})

	return r
}
