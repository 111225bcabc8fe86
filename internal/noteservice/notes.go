package noteservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/assets"
	"github.com/starford/quire/internal/checksum"
	"github.com/starford/quire/internal/content"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/store"
)

// NoteDetail is a note joined with its tags, resources and decoded document.
type NoteDetail struct {
	models.Note
	Body           string                     `json:"body"`
	Style          map[string]json.RawMessage `json:"style"`
	DocumentStatus string                     `json:"documentStatus"`
	DocumentError  string                     `json:"documentError,omitempty"`
	TagIDs         []int64                    `json:"tagIds"`
	Resources      []models.Resource          `json:"resources"`
}

// NoteInput carries the user-editable fields of a note. On update a nil
// TagIDs leaves the tag links as they are.
type NoteInput struct {
	Title      string                     `json:"title"`
	Body       string                     `json:"body"`
	NotebookID *int64                     `json:"notebookId"`
	TagIDs     []int64                    `json:"tagIds"`
	Metadata   map[string]json.RawMessage `json:"metadata"`
	Style      map[string]json.RawMessage `json:"style"`
}

// Validate checks the input fields.
func (in NoteInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Length(0, 1024)),
		validation.Field(&in.Metadata, validation.By(scalarValues)),
		validation.Field(&in.Style, validation.By(scalarValues)),
	)
}

func scalarValues(v any) error {
	m, _ := v.(map[string]json.RawMessage)
	for k, raw := range m {
		var x any
		if err := json.Unmarshal(raw, &x); err != nil {
			return fmt.Errorf("%s: invalid JSON", k)
		}
		switch x.(type) {
		case map[string]any, []any:
			return fmt.Errorf("%s: must be a scalar", k)
		}
	}
	return nil
}

// ListNotes returns live (non-trashed) notes, optionally narrowed to a
// notebook or tag.
func (s *Service) ListNotes(ctx context.Context, notebookID, tagID *int64, limit int) ([]models.Note, error) {
	return s.db.ListNotes(ctx, store.NoteFilter{NotebookID: notebookID, TagID: tagID, Limit: limit})
}

// SearchNotes finds live notes by title.
func (s *Service) SearchNotes(ctx context.Context, query string, limit int) ([]models.Note, error) {
	return s.db.SearchNotes(ctx, query, limit)
}

// ListTrash returns trashed notes.
func (s *Service) ListTrash(ctx context.Context, limit int) ([]models.Note, error) {
	return s.db.ListNotes(ctx, store.NoteFilter{Trashed: true, Limit: limit})
}

// GetNote returns a note with its body in storage form.
func (s *Service) GetNote(ctx context.Context, id int64) (*NoteDetail, error) {
	n, err := s.db.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, n)
}

// GetNoteByExternalID looks a note up by its external id.
func (s *Service) GetNoteByExternalID(ctx context.Context, externalID string) (*NoteDetail, error) {
	n, err := s.db.GetNoteByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, n)
}

// GetNoteDisplay returns a note whose body references assets through this
// process's display locators.
func (s *Service) GetNoteDisplay(ctx context.Context, id int64) (*NoteDetail, error) {
	d, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Body = s.session.ToDisplayForm(d.Body, mediaLookup(d.Resources))
	return d, nil
}

// mediaLookup places embedded media in the asset store by hash, taking the
// extension from the note's resource row when there is one.
func mediaLookup(resources []models.Resource) content.MediaLookup {
	byHash := make(map[string]models.Resource, len(resources))
	for _, r := range resources {
		byHash[strings.ToLower(r.Hash)] = r
	}
	return func(hash, mime string) (string, bool) {
		r := byHash[hash]
		if mime == "" {
			mime = r.Mime
		}
		rel, err := assets.RelativePath(hash, assets.ExtensionFor(r.Filename, mime))
		if err != nil {
			return "", false
		}
		return rel, true
	}
}

func (s *Service) detail(ctx context.Context, n models.Note) (*NoteDetail, error) {
	d := &NoteDetail{Note: n, Style: map[string]json.RawMessage{}}
	res := docstore.Decode(s.docs.Root(), n.ExternalID)
	d.DocumentStatus = res.Status.String()
	switch res.Status {
	case docstore.StatusOK:
		d.Body = res.Doc.Body
		d.Style = res.Doc.Style
	case docstore.StatusDecodeError:
		d.DocumentError = res.Err
		s.logger.Warn("noteservice: document decode failed",
			slog.Int64("note_id", n.ID), slog.String("error", res.Err))
	}
	var err error
	if d.TagIDs, err = s.db.NoteTagIDs(ctx, n.ID); err != nil {
		return nil, err
	}
	if d.Resources, err = s.db.ListResources(ctx, n.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateNote stores a new note and writes its first document log entries.
func (s *Service) CreateNote(ctx context.Context, in NoteInput) (*NoteDetail, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	n := models.Note{
		ExternalID: s.newID(),
		Title:      in.Title,
		NotebookID: in.NotebookID,
		Metadata:   in.Metadata,
	}
	stamp(&n, in.Body, s.now().Unix())

	s.noteMu.Lock()
	defer s.noteMu.Unlock()
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		if err := checkNotebook(ctx, tx, in.NotebookID); err != nil {
			return err
		}
		var err error
		if n, err = tx.CreateNote(ctx, n); err != nil {
			return err
		}
		return tx.SetNoteTags(ctx, n.ID, in.TagIDs)
	})
	if err != nil {
		return nil, err
	}
	if err := s.putDocument(n, in); err != nil {
		if derr := s.db.DeleteNote(ctx, n.ID); derr != nil {
			s.logger.Error("noteservice: drop note without document",
				slog.Int64("note_id", n.ID), slog.String("error", derr.Error()))
		}
		return nil, err
	}
	s.notify("note.created", map[string]any{"id": n.ID, "externalId": n.ExternalID})
	return s.detail(ctx, n)
}

// UpdateNote replaces a note's editable fields. When ifMatch is non-empty
// it must equal the stored content hash.
func (s *Service) UpdateNote(ctx context.Context, id int64, in NoteInput, ifMatch string) (*NoteDetail, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	var n models.Note
	s.noteMu.Lock()
	defer s.noteMu.Unlock()
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if n, err = tx.GetNote(ctx, id); err != nil {
			return err
		}
		if ifMatch != "" && ifMatch != n.ContentHash {
			return fmt.Errorf("noteservice: note %d: %w", id, apperr.ErrConflict)
		}
		if err := checkNotebook(ctx, tx, in.NotebookID); err != nil {
			return err
		}
		if n.ExternalID == "" {
			n.ExternalID = s.newID()
			if err := tx.SetExternalID(ctx, n.ID, n.ExternalID); err != nil {
				return err
			}
		}
		n.Title = in.Title
		n.NotebookID = in.NotebookID
		if in.Metadata != nil {
			n.Metadata = in.Metadata
		}
		stamp(&n, in.Body, s.now().Unix())
		if err := tx.UpdateNote(ctx, n); err != nil {
			return err
		}
		if in.TagIDs != nil {
			return tx.SetNoteTags(ctx, n.ID, in.TagIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.putDocument(n, in); err != nil {
		s.logger.Error("noteservice: document lags committed note",
			slog.Int64("note_id", n.ID), slog.String("error", err.Error()))
		return nil, err
	}
	s.notify("note.updated", map[string]any{"id": n.ID, "externalId": n.ExternalID})
	return s.detail(ctx, n)
}

// SaveNoteDisplay is UpdateNote for a body in display form. Locators issued
// by this process are turned back into durable references first.
func (s *Service) SaveNoteDisplay(ctx context.Context, id int64, in NoteInput, ifMatch string) (*NoteDetail, error) {
	body, err := s.session.ToStorageForm(in.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	in.Body = body
	return s.UpdateNote(ctx, id, in, ifMatch)
}

// TrashNote moves a note to the trash.
func (s *Service) TrashNote(ctx context.Context, id int64) error {
	if err := s.db.SetTrashed(ctx, id, true, s.now().Unix()); err != nil {
		return err
	}
	s.notify("note.trashed", map[string]any{"id": id})
	return nil
}

// RestoreNote takes a note out of the trash.
func (s *Service) RestoreNote(ctx context.Context, id int64) error {
	if err := s.db.SetTrashed(ctx, id, false, s.now().Unix()); err != nil {
		return err
	}
	s.notify("note.restored", map[string]any{"id": id})
	return nil
}

// DeleteNote removes a note for good: tag links and resources cascade and the
// document log is deleted.
func (s *Service) DeleteNote(ctx context.Context, id int64) error {
	n, err := s.db.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteNote(ctx, id); err != nil {
		return err
	}
	if n.ExternalID != "" {
		if err := s.docs.Remove(n.ExternalID); err != nil {
			s.logger.Warn("noteservice: remove document log failed",
				slog.Int64("note_id", id), slog.String("error", err.Error()))
		}
	}
	s.notify("note.deleted", map[string]any{"id": id, "externalId": n.ExternalID})
	return nil
}

// putDocument appends the committed note state to its document log. It runs
// after the commit, under noteMu, so log order follows commit order.
func (s *Service) putDocument(n models.Note, in NoteInput) error {
	style := in.Style
	if style == nil {
		if res := docstore.Decode(s.docs.Root(), n.ExternalID); res.Status == docstore.StatusOK {
			style = res.Doc.Style
		}
	}
	return s.docs.Put(n.ExternalID, docstore.Document{
		Title: n.Title,
		Body:  in.Body,
		Style: style,
		Meta:  n.Metadata,
	})
}

func stamp(n *models.Note, body string, now int64) {
	n.ContentHash = checksum.Sum([]byte(body))
	n.ContentSize = int64(len(body))
	n.UpdatedAt = now
}

func checkNotebook(ctx context.Context, tx *store.Tx, id *int64) error {
	if id == nil {
		return nil
	}
	nb, err := tx.GetNotebook(ctx, *id)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("%w: notebook %d does not exist", apperr.ErrInvalidInput, *id)
	}
	if err != nil {
		return err
	}
	if nb.NotebookType == models.NotebookTypeStack {
		return fmt.Errorf("%w: notes cannot be filed in a stack", apperr.ErrInvalidInput)
	}
	return nil
}
