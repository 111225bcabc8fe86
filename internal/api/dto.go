package api

import (
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/noteservice"
)

// CreateNotebookRequest is the request body for creating a stack or notebook.
type CreateNotebookRequest = noteservice.CreateNotebookInput

// RenameRequest is the request body for renaming a stack or notebook.
type RenameRequest struct {
	Name string `json:"name" example:"Projects" validate:"required"`
}

// MoveRequest reparents a node. Either ParentID+Index (absolute) or
// TargetID+Position (relative: before, after, inside) is used; TargetID
// takes precedence when set.
type MoveRequest struct {
	ParentID *int64 `json:"parentId"`
	Index    int    `json:"index" example:"0"`
	TargetID *int64 `json:"targetId"`
	Position string `json:"position" example:"inside" enums:"before,after,inside"`
}

// TagRequest is the request body for find-or-create of a tag.
type TagRequest struct {
	Name     string `json:"name" example:"todo" validate:"required"`
	ParentID *int64 `json:"parentId"`
}

// TagResponse reports the tag and whether it was created.
type TagResponse struct {
	Tag     models.Tag `json:"tag"`
	Created bool       `json:"created"`
}

// NoteRequest is the request body for creating or updating a note.
type NoteRequest = noteservice.NoteInput

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// NotebookTreeResponse wraps the notebook tree.
type NotebookTreeResponse struct {
	Notebooks []noteservice.NotebookNode `json:"notebooks" validate:"required"`
}

// TagTreeResponse wraps the tag tree.
type TagTreeResponse struct {
	Tags []noteservice.TagNode `json:"tags" validate:"required"`
}

// AttachmentUploadResponse is returned after a successful upload.
type AttachmentUploadResponse = noteservice.Upload
