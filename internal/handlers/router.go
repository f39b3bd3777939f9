package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router wires every API surface onto a chi mux.
func Router(notify *NotifyHandler, batches *BatchHandler, templates *TemplateHandler, logs *LogsHandler, metrics *AnalyticsHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/notify", notify.CreateNotification)
		r.Get("/notify/status/{jobId}", notify.GetJobStatus)

		r.Post("/batch", batches.CreateBatch)
		r.Get("/batch/{batchId}/status", batches.GetBatchStatus)

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", templates.CreateTemplate)
			r.Get("/", templates.ListTemplates)
			r.Get("/{id}", templates.GetTemplate)
			r.Put("/{id}", templates.UpdateTemplate)
			r.Delete("/{id}", templates.DeleteTemplate)
		})

		r.Get("/logs", logs.ListLogs)

		r.Get("/analytics/dashboard", metrics.Dashboard)
		r.Get("/analytics/realtime", metrics.RealTime)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
	})

	return r
}
