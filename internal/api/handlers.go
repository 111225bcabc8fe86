package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/starford/quire/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List live notes, optionally narrowed to a notebook or tag
//	@Tags			notes
//	@Produce		json
//	@Param			notebook	query		int	false	"Notebook id"
//	@Param			tag			query		int	false	"Tag id"
//	@Param			q			query		string	false	"Title search; notebook and tag are ignored when set"
//	@Param			limit		query		int	false	"Max results"
//	@Success		200			{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		notes, err := h.svc.SearchNotes(r.Context(), q, limit)
		if err != nil {
			writeError(w, r, "search notes", err)
			return
		}
		writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
		return
	}
	notebook, ok := optionalID(w, r, "notebook")
	if !ok {
		return
	}
	tag, ok := optionalID(w, r, "tag")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notes, err := h.svc.ListNotes(r.Context(), notebook, tag, limit)
	if err != nil {
		writeError(w, r, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// ListTrash handles GET /api/trash.
func (h *Handler) ListTrash(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notes, err := h.svc.ListTrash(r.Context(), limit)
	if err != nil {
		writeError(w, r, "list trash", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// GetNote handles GET /api/notes/{id}. The body is in storage form.
//
//	@Summary		Get a single note
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		int	true	"Note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	note, err := h.svc.GetNote(r.Context(), id)
	if err != nil {
		writeError(w, r, "get note", err)
		return
	}
	writeETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

// GetNoteDisplay handles GET /api/notes/{id}/display. Asset references are
// replaced by display locators served from /assets/{token}.
func (h *Handler) GetNoteDisplay(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	note, err := h.svc.GetNoteDisplay(r.Context(), id)
	if err != nil {
		writeError(w, r, "get note display", err)
		return
	}
	writeETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	note, err := h.svc.CreateNote(r.Context(), req)
	if err != nil {
		writeError(w, r, "create note", err)
		return
	}
	writeETag(w, note)
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Update a note with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		int			true	"Note id"
//	@Param			If-Match	header		string		false	"Content hash for optimistic concurrency"
//	@Param			body		body		NoteRequest	true	"Updated note"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.svc.UpdateNote)
}

// SaveNoteDisplay handles PUT /api/notes/{id}/display: the body carries
// display locators that are mapped back to durable references.
func (h *Handler) SaveNoteDisplay(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.svc.SaveNoteDisplay)
}

type updateFunc = func(ctx context.Context, id int64, in noteservice.NoteInput, ifMatch string) (*noteservice.NoteDetail, error)

func (h *Handler) update(w http.ResponseWriter, r *http.Request, fn updateFunc) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	note, err := fn(r.Context(), id, req, ifMatch)
	if err != nil {
		writeError(w, r, "update note", err)
		return
	}
	writeETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

// TrashNote handles POST /api/notes/{id}/trash.
func (h *Handler) TrashNote(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, "trash note", h.svc.TrashNote)
}

// RestoreNote handles POST /api/notes/{id}/restore.
func (h *Handler) RestoreNote(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, "restore note", h.svc.RestoreNote)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note permanently
//	@Tags			notes
//	@Param			id	path	int	true	"Note id"
//	@Success		204	"Note deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, "delete note", h.svc.DeleteNote)
}

func (h *Handler) noContent(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id int64) error) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		writeError(w, r, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Settings(r.Context())
	if err != nil {
		writeError(w, r, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PatchSettings handles PATCH /api/settings. A null value clears a key.
func (h *Handler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if !decodeJSON(w, r, &patch) {
		return
	}
	s, err := h.svc.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeError(w, r, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func writeETag(w http.ResponseWriter, note *noteservice.NoteDetail) {
	if note.ContentHash != "" {
		w.Header().Set("ETag", `"`+note.ContentHash+`"`)
	}
}
