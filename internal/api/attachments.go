package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quire/internal/apperr"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Upload handles POST /api/attachments (multipart/form-data, field "file",
// optional field "noteId" to attach the asset to a note).
//
//	@Summary		Import bytes into the content-addressed asset store
//	@Tags			attachments
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"Asset bytes"
//	@Param			noteId	formData	int		false	"Owning note"
//	@Success		201		{object}	AttachmentUploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/attachments [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	var noteID *int64
	if raw := r.FormValue("noteId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid noteId"))
			return
		}
		noteID = &id
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	typ := header.Header.Get("Content-Type")
	if typ == "" || typ == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			typ = byExt
		}
	}
	up, err := h.svc.UploadAsset(r.Context(), noteID, data, filepath.Base(header.Filename), typ)
	if err != nil {
		writeError(w, r, "upload asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, up)
}

// ServeAsset handles GET /assets/{token}: it resolves a display locator
// issued by this process to the stored asset file.
func (h *Handler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.ResolveLocator(chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		writeError(w, r, "serve asset", err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, p)
}
