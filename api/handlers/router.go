package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"presentationGenerator/api/middleware"
)

func NewRouter(h *TaskHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.CleanPath)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", h.Status)
			r.Get("/status", h.Status)
			r.Get("/presentation", h.Presentation)
			r.Patch("/slides/{slideNumber}", h.UpdateSlide)
			r.Post("/cancel", h.Cancel)
		})
	})

	return r
}
