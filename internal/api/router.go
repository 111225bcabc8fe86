package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quire/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
//
// Display locators (GET /assets/{token}) are served outside the auth group;
// the renderer loads them without headers.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Get("/assets/{token}", h.ServeAsset)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Route("/notebooks", func(r chi.Router) {
			r.Get("/", h.NotebookTree)
			r.Post("/", h.CreateNotebook)
			r.Patch("/{id}", h.RenameNotebook)
			r.Delete("/{id}", h.DeleteNotebook)
			r.Post("/{id}/move", h.MoveNotebook)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", h.TagTree)
			r.Post("/", h.FindOrCreateTag)
			r.Delete("/{id}", h.DeleteTag)
			r.Post("/{id}/move", h.MoveTag)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Get("/", h.ListNotes)
			r.Post("/", h.CreateNote)
			r.Get("/{id}", h.GetNote)
			r.Put("/{id}", h.UpdateNote)
			r.Delete("/{id}", h.DeleteNote)
			r.Get("/{id}/display", h.GetNoteDisplay)
			r.Put("/{id}/display", h.SaveNoteDisplay)
			r.Post("/{id}/trash", h.TrashNote)
			r.Post("/{id}/restore", h.RestoreNote)
		})
		r.Get("/trash", h.ListTrash)

		r.Get("/settings", h.GetSettings)
		r.Patch("/settings", h.PatchSettings)

		r.Post("/attachments", h.Upload)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
