package api

import (
	"context"
	"net/http"

	"github.com/starford/quire/internal/hierarchy"
)

// NotebookTree handles GET /api/notebooks.
//
//	@Summary		Stacks and notebooks in display order
//	@Tags			notebooks
//	@Produce		json
//	@Success		200	{object}	NotebookTreeResponse
//	@Security		BearerAuth
//	@Router			/notebooks [get]
func (h *Handler) NotebookTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.NotebookTree(r.Context())
	if err != nil {
		writeError(w, r, "notebook tree", err)
		return
	}
	writeJSON(w, http.StatusOK, NotebookTreeResponse{Notebooks: tree})
}

// CreateNotebook handles POST /api/notebooks.
func (h *Handler) CreateNotebook(w http.ResponseWriter, r *http.Request) {
	var req CreateNotebookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	nb, err := h.svc.CreateNotebook(r.Context(), req)
	if err != nil {
		writeError(w, r, "create notebook", err)
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

// RenameNotebook handles PATCH /api/notebooks/{id}.
func (h *Handler) RenameNotebook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req RenameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.RenameNotebook(r.Context(), id, req.Name); err != nil {
		writeError(w, r, "rename notebook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotebook handles DELETE /api/notebooks/{id}.
func (h *Handler) DeleteNotebook(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, "delete notebook", h.svc.DeleteNotebook)
}

// MoveNotebook handles POST /api/notebooks/{id}/move.
//
//	@Summary		Reparent or reorder a stack or notebook
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int			true	"Notebook id"
//	@Param			body	body		MoveRequest	true	"Placement"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/{id}/move [post]
func (h *Handler) MoveNotebook(w http.ResponseWriter, r *http.Request) {
	id, req, pos, ok := moveRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	var err error
	var changed any
	if req.TargetID != nil {
		changed, err = h.svc.MoveNotebookRelative(ctx, id, *req.TargetID, pos)
	} else {
		changed, err = h.svc.MoveNotebook(ctx, id, req.ParentID, req.Index)
	}
	if err != nil {
		writeError(w, r, "move notebook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

// TagTree handles GET /api/tags.
func (h *Handler) TagTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.TagTree(r.Context())
	if err != nil {
		writeError(w, r, "tag tree", err)
		return
	}
	writeJSON(w, http.StatusOK, TagTreeResponse{Tags: tree})
}

// FindOrCreateTag handles POST /api/tags. An existing sibling with the same
// name (case-insensitive) is returned with 200, a new tag with 201.
func (h *Handler) FindOrCreateTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tag, created, err := h.svc.FindOrCreateTag(r.Context(), req.Name, req.ParentID)
	if err != nil {
		writeError(w, r, "find or create tag", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, TagResponse{Tag: tag, Created: created})
}

// DeleteTag handles DELETE /api/tags/{id}.
func (h *Handler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, "delete tag", h.svc.DeleteTag)
}

// MoveTag handles POST /api/tags/{id}/move.
func (h *Handler) MoveTag(w http.ResponseWriter, r *http.Request) {
	id, req, pos, ok := moveRequest(w, r)
	if !ok {
		return
	}
	move := func(ctx context.Context) (any, error) {
		if req.TargetID != nil {
			return h.svc.MoveTagRelative(ctx, id, *req.TargetID, pos)
		}
		return h.svc.MoveTag(ctx, id, req.ParentID, req.Index)
	}
	changed, err := move(r.Context())
	if err != nil {
		writeError(w, r, "move tag", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func moveRequest(w http.ResponseWriter, r *http.Request) (int64, MoveRequest, hierarchy.Position, bool) {
	var req MoveRequest
	id, ok := idParam(w, r)
	if !ok || !decodeJSON(w, r, &req) {
		return 0, req, "", false
	}
	if req.TargetID == nil {
		return id, req, "", true
	}
	pos, err := hierarchy.ParsePosition(req.Position)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return 0, req, "", false
	}
	return id, req, pos, true
}
