package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/durasql/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin HTTP handler. Actor endpoints live under /admin
// and require secret when it is set; /metrics is served when Prometheus is
// enabled.
func NewRouter(handlers *AdminHandlers, secret string) http.Handler {
	r := chi.NewRouter()

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(secret))

		r.Get("/actors", handlers.handleListActors)

		r.Route("/actors/{id}", func(r chi.Router) {
			r.Post("/sql", handlers.handleSQL)
			r.Post("/abort", handlers.handleAbort)
			r.Get("/size", handlers.handleSize)
			r.Put("/limit", handlers.handleSetLimit)

			r.Get("/kv", handlers.handleListKeys)
			r.Get("/kv/{key}", handlers.handleGetKey)
			r.Put("/kv/{key}", handlers.handlePutKey)
			r.Delete("/kv/{key}", handlers.handleDeleteKey)
		})
	})

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	log.Info().Bool("auth", secret != "").Msg("Admin endpoints enabled at /admin/actors/*")
	return r
}
