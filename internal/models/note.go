// Package models defines the domain types for Quire.
package models

import "encoding/json"

// NotebookType distinguishes the two levels of the notebook tree.
type NotebookType string

const (
	NotebookTypeStack    NotebookType = "stack"
	NotebookTypeNotebook NotebookType = "notebook"
)

// Note is a row of the notes table.
type Note struct {
	ID          int64                      `json:"id"`
	ExternalID  string                     `json:"externalId,omitempty"`
	Title       string                     `json:"title"`
	NotebookID  *int64                     `json:"notebookId"`
	Trashed     bool                       `json:"trashed"`
	UpdatedAt   int64                      `json:"updatedAt"` // epoch seconds
	ContentHash string                     `json:"contentHash"`
	ContentSize int64                      `json:"contentSize"`
	Metadata    map[string]json.RawMessage `json:"metadata"`
}

// Notebook is a stack or a notebook. A stack has no parent; a notebook's
// parent is a stack or nil ("unsorted").
type Notebook struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	ParentID     *int64       `json:"parentId"`
	NotebookType NotebookType `json:"notebookType"`
	SortOrder    float64      `json:"sortOrder"`
}

// Tag is a node of the tag tree.
type Tag struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	ParentID  *int64  `json:"parentId"`
	SortOrder float64 `json:"sortOrder"`
}

// NoteTag is the explicit join between notes and tags.
type NoteTag struct {
	NoteID int64 `json:"noteId"`
	TagID  int64 `json:"tagId"`
}

// Resource is a binary attachment owned by exactly one note and addressed by
// its content hash.
type Resource struct {
	ID           int64  `json:"id"`
	ParentNoteID int64  `json:"noteId"`
	Hash         string `json:"hash"`
	Filename     string `json:"filename,omitempty"`
	Mime         string `json:"mime,omitempty"`
	Size         int64  `json:"size"`
}
