package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipy/download-manager/internal/manager"
)

// NewRouter creates the HTTP router with configured routes, middleware, and
// handlers. It sets up the download command surface, the event stream, the
// health check, and the Prometheus metrics endpoint.
func NewRouter(m *manager.Manager, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	h := NewDownloadHandler(m, logger)

	r.Route("/downloads", func(r chi.Router) {
		r.Post("/", h.StartDownload)
		r.Get("/", h.ListDownloads)
		r.Delete("/completed", h.ClearCompleted)

		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", h.GetDownload)
			r.Delete("/", h.RemoveDownload)
			r.Post("/pause", h.Command("pause"))
			r.Post("/resume", h.Command("resume"))
			r.Post("/cancel", h.Command("cancel"))
			r.Post("/retry", h.Command("retry"))
		})
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Put("/concurrency", h.SetConcurrency)
	})

	r.Get("/events", h.StreamEvents)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
