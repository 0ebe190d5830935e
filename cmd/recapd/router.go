package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/recapd/recapd/internal/api"
	apiMiddleware "github.com/recapd/recapd/internal/api/middleware"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	eventHandler := api.NewEventHandler(app.ingestor, app.logger)
	statsHandler := api.NewStatsHandler(app.taskStore, app.logger)

	r.Route("/api", func(r chi.Router) {
		// Notification delivery from the event provider
		r.Post("/events/notifications", eventHandler.HandleNotification)

		// Operator endpoints
		r.Delete("/events/{externalID}", eventHandler.ForgetEvent)
		r.Get("/tasks/stats", statsHandler.GetStats)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
