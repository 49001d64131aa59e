package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	ih := NewImportHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Tapestries.
	r.Get("/tapestries", h.ListTapestries)
	r.Post("/tapestries", h.CreateTapestry)
	r.Get("/tapestries/{id}", h.GetTapestry)
	r.Delete("/tapestries/{id}", h.DeleteTapestry)
	r.Get("/tapestries/{id}/export", h.ExportTapestry)
	r.Post("/tapestries/{id}/fork", h.ForkTapestry)

	// Archive uploads and their jobs.
	r.Post("/imports", ih.Upload)
	r.Get("/jobs/{id}", h.GetJob)

	// Manifest migration.
	r.Post("/migrate", h.Migrate)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
