package export

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quire/internal/content"
)

// ManifestVersion is bumped on incompatible manifest changes.
const ManifestVersion = 1

// Attachment status values.
const (
	StatusCopied     = "copied"
	StatusMissing    = "missing"
	StatusCopyFailed = "copy_failed"
	StatusSkipped    = "skipped"
	StatusInvalid    = "invalid"
)

// Missing entry kinds.
const (
	MissingDocument   = "document"
	MissingAttachment = "attachment"
	MissingCopy       = "copy"
	MissingInvalid    = "invalid_attachment"
	MissingNotebook   = "notebook"
	MissingTag        = "tag"
)

// Manifest is the single JSON document describing a finished export.
type Manifest struct {
	Version           int                `json:"version"`
	Meta              Meta               `json:"meta"`
	Stacks            []StackRecord      `json:"stacks"`
	Notebooks         []NotebookRecord   `json:"notebooks"`
	Tags              []TagRecord        `json:"tags"`
	Notes             []NoteRecord       `json:"notes"`
	Attachments       []AttachmentLink   `json:"attachments"`
	NoteTags          []NoteTagLink      `json:"noteTags"`
	MissingContentLog []MissingEntry     `json:"missingContentLog"`
	DecodeErrors      []DecodeErrorEntry `json:"decodeErrors"`
}

// Meta carries the run parameters and the summary counts.
type Meta struct {
	GeneratedAt     string   `json:"generatedAt"`
	Generation      string   `json:"generation"`
	DB              string   `json:"db"`
	RTE             string   `json:"rte"`
	Limit           int      `json:"limit,omitempty"`
	Resources       string   `json:"resources,omitempty"`
	LegacyResources []string `json:"legacyResources,omitempty"`
	Assets          string   `json:"assets,omitempty"`
	AssetsBase      string   `json:"assetsBase"`
	Workers         int      `json:"workers"`
	Counts          Counts   `json:"counts"`
}

// Counts summarises a run.
type Counts struct {
	Stacks             int `json:"stacks"`
	Notebooks          int `json:"notebooks"`
	Tags               int `json:"tags"`
	Notes              int `json:"notes"`
	Trashed            int `json:"trashed"`
	DocumentsFound     int `json:"documentsFound"`
	DocumentsMissing   int `json:"documentsMissing"`
	DecodeErrors       int `json:"decodeErrors"`
	Attachments        int `json:"attachments"`
	AttachmentsCopied  int `json:"attachmentsCopied"`
	AttachmentsMissing int `json:"attachmentsMissing"`
	CopyFailures       int `json:"copyFailures"`
	AttachmentsInvalid int `json:"attachmentsInvalid"`
	DanglingLinks      int `json:"danglingLinks"`
}

// StackRecord is a top-level grouping node.
type StackRecord struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	SortOrder float64 `json:"sortOrder"`
}

// NotebookRecord is a notebook. Stack and StackID are nil for unsorted notebooks.
type NotebookRecord struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Stack     *string `json:"stack"`
	StackID   *int64  `json:"stackId"`
	SortOrder float64 `json:"sortOrder"`
}

// TagRecord is a node of the tag tree.
type TagRecord struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	ParentID  *int64  `json:"parentId"`
	SortOrder float64 `json:"sortOrder"`
}

// NoteAttachment is an attachment as listed on its note. RelPath is relative
// to meta.assetsBase and nil when the attachment was not copied.
type NoteAttachment struct {
	Hash     string  `json:"hash"`
	Filename string  `json:"filename"`
	Mime     string  `json:"mime"`
	Size     int64   `json:"size"`
	RelPath  *string `json:"relPath"`
}

// Validate checks the hash and the portability of the relative path.
func (a NoteAttachment) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Hash, validation.Required),
		validation.Field(&a.RelPath, validation.By(portablePath)),
	)
}

// NoteRecord is the joined relational row and decoded document of one note.
type NoteRecord struct {
	ID            int64                      `json:"id"`
	ExternalID    string                     `json:"externalId"`
	Title         string                     `json:"title"`
	NotebookID    *int64                     `json:"notebookId"`
	Trashed       bool                       `json:"trashed"`
	UpdatedAt     int64                      `json:"updatedAt"`
	ContentHash   string                     `json:"contentHash"`
	ContentSize   int64                      `json:"contentSize"`
	Metadata      map[string]json.RawMessage `json:"metadata"`
	TagIDs        []int64                    `json:"tagIds"`
	DocumentFound bool                       `json:"documentFound"`
	DocumentTitle *string                    `json:"documentTitle"`
	ENML          *string                    `json:"enml"`
	ENMLResolved  *string                    `json:"enmlResolved"`
	StyleMap      map[string]json.RawMessage `json:"styleMap"`
	MetaMap       map[string]json.RawMessage `json:"metaMap"`
	ContentPath   string                     `json:"contentPath,omitempty"`
	MetaPath      string                     `json:"metaPath"`
	Attachments   []NoteAttachment           `json:"attachments"`
}

// Validate runs once at assembly time.
func (n NoteRecord) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required, validation.Min(int64(1))),
		validation.Field(&n.MetaPath, validation.Required),
		validation.Field(&n.ContentPath, validation.When(n.ENML != nil, validation.Required)),
		validation.Field(&n.Attachments),
	)
}

// AttachmentLink is one row of the note-file join.
type AttachmentLink struct {
	NoteID   int64   `json:"noteId"`
	Hash     string  `json:"hash"`
	Filename string  `json:"filename"`
	Mime     string  `json:"mime"`
	Size     int64   `json:"size"`
	RelPath  *string `json:"relPath"`
	Status   string  `json:"status"`
}

// NoteTagLink is one row of the note-tag join.
type NoteTagLink struct {
	NoteID int64 `json:"noteId"`
	TagID  int64 `json:"tagId"`
}

// MissingEntry records an expected-absence or per-item copy failure.
type MissingEntry struct {
	Kind       string `json:"kind"`
	NoteID     int64  `json:"noteId"`
	ExternalID string `json:"externalId,omitempty"`
	Hash       string `json:"hash,omitempty"`
	RefID      int64  `json:"refId,omitempty"`
	Path       string `json:"path"`
	Error      string `json:"error,omitempty"`
}

// DecodeErrorEntry records a document log that exists but would not replay.
type DecodeErrorEntry struct {
	NoteID     int64  `json:"noteId"`
	ExternalID string `json:"externalId"`
	Path       string `json:"path"`
	Error      string `json:"error"`
}

var errNotPortable = errors.New("must be a forward-slash hh/hash[.ext] path")

func portablePath(v any) error {
	p, _ := v.(*string)
	if p == nil {
		return nil
	}
	if strings.Contains(*p, `\`) || !content.IsDurable(*p) {
		return errNotPortable
	}
	return nil
}

// Decode parses a manifest document.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// NoteContentPath is the bundle-relative path of a note's body.
func NoteContentPath(id int64) string { return "notes/" + strconv.FormatInt(id, 10) + ".enml" }

// NoteMetaPath is the bundle-relative path of a note's metadata file.
func NoteMetaPath(id int64) string { return "notes/" + strconv.FormatInt(id, 10) + ".json" }
