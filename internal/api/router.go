package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mimir/internal/contrib"
	"github.com/starford/mimir/internal/kb"
	"github.com/starford/mimir/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// webhookHandler is mounted at POST /github-webhook outside the identity
// middleware: webhook callers are the remote repository, not users.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(svc *kb.Service, pipeline *contrib.Pipeline, broker *sse.Broker, webhookHandler http.Handler, idOpts IdentityOptions) chi.Router {
	h := NewHandler(svc, pipeline, broker)

	r := chi.NewRouter()

	if webhookHandler != nil {
		r.Post("/github-webhook", webhookHandler.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware(idOpts))

		// Knowledge base reads.
		r.Get("/notes", h.ListNotes)
		r.Post("/notes/refresh", h.RefreshNotes)
		r.Get("/notes/*", h.GetNote)
		r.Get("/search", h.Search)

		// Contributions.
		r.Post("/contribute", h.Contribute)
		r.Post("/contribute-batch", h.ContributeBatch)

		// PR tracking.
		r.Get("/pr-status/{number}", h.PRStatus)
		r.Get("/submitted-prs", h.SubmittedPRs)
		r.Post("/track-pr", h.TrackPR)

		if broker != nil {
			r.Get("/events", broker.ServeHTTP)
		}
	})

	return r
}
