package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/recordservice"
)

// NewRouter creates a chi router with the contact and lead collections
// mounted. authEnabled controls whether Bearer token auth is enforced.
// history may be nil; sseHandler, if non-nil, is mounted at GET /events
// inside the auth group.
func NewRouter(svc *recordservice.Service, history HistoryFunc, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, history)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/contacts", func(r chi.Router) {
		mountCollection(r, h, models.TypeContact)
	})
	r.Route("/leads", func(r chi.Router) {
		mountCollection(r, h, models.TypeLead)
	})

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// mountCollection wires one entity type's routes. Both collections share the
// same handler implementation; only the bound type differs.
func mountCollection(r chi.Router, h *Handler, typ models.EntityType) {
	r.Get("/", h.List(typ))
	r.Post("/", h.Create(typ))
	r.Get("/duplicates", h.Duplicates(typ))
	r.Post("/duplicates/check", h.CheckDuplicates(typ))
	r.Post("/merge", h.Merge(typ))
	r.Get("/{id}", h.Get(typ))
	r.Put("/{id}", h.Update(typ))
	r.Delete("/{id}", h.Delete(typ))
	if h.history != nil {
		r.Get("/{id}/history", h.History(typ))
	}
}
