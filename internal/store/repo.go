package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/models"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the row-level operations shared by DB and Tx.
type queries struct {
	q querier
}

// Tx is a store transaction. It exposes the same operations as DB.
type Tx struct {
	queries
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&Tx{queries{q: sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func nullID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func idArg(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: %s %v: %w", what, id, apperr.ErrNotFound)
	}
	return fmt.Errorf("store: %s %v: %w", what, id, err)
}

func checkAffected(res sql.Result, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s %v: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %v: %w", what, id, apperr.ErrNotFound)
	}
	return nil
}

// --- notebooks ---

const notebookCols = `id, name, parent_id, notebook_type, sort_order`

func scanNotebook(sc interface{ Scan(...any) error }) (models.Notebook, error) {
	var (
		nb     models.Notebook
		parent sql.NullInt64
		typ    string
	)
	if err := sc.Scan(&nb.ID, &nb.Name, &parent, &typ, &nb.SortOrder); err != nil {
		return nb, err
	}
	nb.ParentID = nullID(parent)
	nb.NotebookType = models.NotebookType(typ)
	return nb, nil
}

// ListNotebooks returns every notebook and stack.
func (s queries) ListNotebooks(ctx context.Context) ([]models.Notebook, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+notebookCols+` FROM notebooks ORDER BY sort_order, name, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list notebooks: %w", err)
	}
	defer rows.Close()
	var out []models.Notebook
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

// GetNotebook returns one notebook or stack.
func (s queries) GetNotebook(ctx context.Context, id int64) (models.Notebook, error) {
	nb, err := scanNotebook(s.q.QueryRowContext(ctx, `SELECT `+notebookCols+` FROM notebooks WHERE id = ?`, id))
	if err != nil {
		return nb, notFound(err, "notebook", id)
	}
	return nb, nil
}

// CreateNotebook inserts nb and returns it with its new id.
func (s queries) CreateNotebook(ctx context.Context, nb models.Notebook) (models.Notebook, error) {
	if nb.NotebookType == "" {
		nb.NotebookType = models.NotebookTypeNotebook
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO notebooks (name, parent_id, notebook_type, sort_order) VALUES (?, ?, ?, ?)`,
		nb.Name, idArg(nb.ParentID), string(nb.NotebookType), nb.SortOrder)
	if err != nil {
		return nb, fmt.Errorf("store: create notebook: %w", err)
	}
	nb.ID, err = res.LastInsertId()
	return nb, err
}

// RenameNotebook changes a notebook's name.
func (s queries) RenameNotebook(ctx context.Context, id int64, name string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE notebooks SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("store: rename notebook: %w", err)
	}
	return checkAffected(res, "notebook", id)
}

// SetNotebookPlacement updates a notebook's parent and sort order.
func (s queries) SetNotebookPlacement(ctx context.Context, id int64, parent *int64, sortOrder float64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE notebooks SET parent_id = ?, sort_order = ? WHERE id = ?`,
		idArg(parent), sortOrder, id)
	if err != nil {
		return fmt.Errorf("store: place notebook: %w", err)
	}
	return checkAffected(res, "notebook", id)
}

// DeleteNotebook removes a notebook. Child notebooks and notes are detached
// by the foreign keys.
func (s queries) DeleteNotebook(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM notebooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete notebook: %w", err)
	}
	return checkAffected(res, "notebook", id)
}

// NextSortOrder returns one past the largest sort order among the children
// of parent in table ("notebooks" or "tags").
func (s queries) NextSortOrder(ctx context.Context, table string, parent *int64) (float64, error) {
	if table != "notebooks" && table != "tags" {
		return 0, fmt.Errorf("store: next sort order: unknown table %q", table)
	}
	var top sql.NullFloat64
	var err error
	if parent == nil {
		err = s.q.QueryRowContext(ctx, `SELECT MAX(sort_order) FROM `+table+` WHERE parent_id IS NULL`).Scan(&top)
	} else {
		err = s.q.QueryRowContext(ctx, `SELECT MAX(sort_order) FROM `+table+` WHERE parent_id = ?`, *parent).Scan(&top)
	}
	if err != nil {
		return 0, fmt.Errorf("store: next sort order: %w", err)
	}
	if !top.Valid {
		return 0, nil
	}
	return top.Float64 + 1, nil
}

// --- tags ---

func scanTag(sc interface{ Scan(...any) error }) (models.Tag, error) {
	var (
		tg     models.Tag
		parent sql.NullInt64
	)
	if err := sc.Scan(&tg.ID, &tg.Name, &parent, &tg.SortOrder); err != nil {
		return tg, err
	}
	tg.ParentID = nullID(parent)
	return tg, nil
}

// ListTags returns every tag.
func (s queries) ListTags(ctx context.Context) ([]models.Tag, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, parent_id, sort_order FROM tags ORDER BY sort_order, name, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list tags: %w", err)
	}
	defer rows.Close()
	var out []models.Tag
	for rows.Next() {
		tg, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tg)
	}
	return out, rows.Err()
}

// GetTag returns one tag.
func (s queries) GetTag(ctx context.Context, id int64) (models.Tag, error) {
	tg, err := scanTag(s.q.QueryRowContext(ctx, `SELECT id, name, parent_id, sort_order FROM tags WHERE id = ?`, id))
	if err != nil {
		return tg, notFound(err, "tag", id)
	}
	return tg, nil
}

// CreateTag inserts tg and returns it with its new id.
func (s queries) CreateTag(ctx context.Context, tg models.Tag) (models.Tag, error) {
	res, err := s.q.ExecContext(ctx, `INSERT INTO tags (name, parent_id, sort_order) VALUES (?, ?, ?)`,
		tg.Name, idArg(tg.ParentID), tg.SortOrder)
	if err != nil {
		return tg, fmt.Errorf("store: create tag: %w", err)
	}
	tg.ID, err = res.LastInsertId()
	return tg, err
}

// SetTagPlacement updates a tag's parent and sort order.
func (s queries) SetTagPlacement(ctx context.Context, id int64, parent *int64, sortOrder float64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE tags SET parent_id = ?, sort_order = ? WHERE id = ?`,
		idArg(parent), sortOrder, id)
	if err != nil {
		return fmt.Errorf("store: place tag: %w", err)
	}
	return checkAffected(res, "tag", id)
}

// DeleteTag removes a tag and its note links.
func (s queries) DeleteTag(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete tag: %w", err)
	}
	return checkAffected(res, "tag", id)
}

// --- notes ---

const noteCols = `id, external_id, title, notebook_id, trashed, updated_at, content_hash, content_size, metadata`

func scanNote(sc interface{ Scan(...any) error }) (models.Note, error) {
	var (
		n        models.Note
		ext      sql.NullString
		nbID     sql.NullInt64
		trashed  int64
		metadata string
	)
	if err := sc.Scan(&n.ID, &ext, &n.Title, &nbID, &trashed, &n.UpdatedAt, &n.ContentHash, &n.ContentSize, &metadata); err != nil {
		return n, err
	}
	n.ExternalID = ext.String
	n.NotebookID = nullID(nbID)
	n.Trashed = trashed != 0
	n.Metadata = decodeMetadata(metadata)
	return n, nil
}

func decodeMetadata(raw string) map[string]json.RawMessage {
	m := map[string]json.RawMessage{}
	if strings.TrimSpace(raw) == "" {
		return m
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]json.RawMessage{}
	}
	return m
}

func encodeMetadata(m map[string]json.RawMessage) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("store: encode metadata: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NoteFilter narrows ListNotes. Trashed selects the trash listing instead of
// the live notes.
type NoteFilter struct {
	NotebookID *int64
	TagID      *int64
	Trashed    bool
	Limit      int
}

// ListNotes returns notes matching f, most recently updated first.
func (s queries) ListNotes(ctx context.Context, f NoteFilter) ([]models.Note, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "n.trashed = ?")
	args = append(args, boolInt(f.Trashed))
	if f.NotebookID != nil {
		where = append(where, "n.notebook_id = ?")
		args = append(args, *f.NotebookID)
	}
	if f.TagID != nil {
		where = append(where, "EXISTS (SELECT 1 FROM note_tags nt WHERE nt.note_id = n.id AND nt.tag_id = ?)")
		args = append(args, *f.TagID)
	}
	query := `SELECT n.` + strings.ReplaceAll(noteCols, ", ", ", n.") + ` FROM notes n WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY n.updated_at DESC, n.id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list notes: %w", err)
	}
	defer rows.Close()
	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetNote returns one note.
func (s queries) GetNote(ctx context.Context, id int64) (models.Note, error) {
	n, err := scanNote(s.q.QueryRowContext(ctx, `SELECT `+noteCols+` FROM notes WHERE id = ?`, id))
	if err != nil {
		return n, notFound(err, "note", id)
	}
	return n, nil
}

// GetNoteByExternalID returns the note with the given external id.
func (s queries) GetNoteByExternalID(ctx context.Context, externalID string) (models.Note, error) {
	n, err := scanNote(s.q.QueryRowContext(ctx, `SELECT `+noteCols+` FROM notes WHERE external_id = ?`, externalID))
	if err != nil {
		return n, notFound(err, "note", externalID)
	}
	return n, nil
}

// CreateNote inserts n and returns it with its new id.
func (s queries) CreateNote(ctx context.Context, n models.Note) (models.Note, error) {
	meta, err := encodeMetadata(n.Metadata)
	if err != nil {
		return n, err
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO notes (external_id, title, notebook_id, trashed, updated_at, content_hash, content_size, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(n.ExternalID), n.Title, idArg(n.NotebookID), boolInt(n.Trashed), n.UpdatedAt,
		n.ContentHash, n.ContentSize, meta)
	if err != nil {
		if isUniqueViolation(err) {
			return n, fmt.Errorf("store: create note %q: %w", n.ExternalID, apperr.ErrAlreadyExists)
		}
		return n, fmt.Errorf("store: create note: %w", err)
	}
	n.ID, err = res.LastInsertId()
	return n, err
}

// UpdateNote writes every mutable column of n.
func (s queries) UpdateNote(ctx context.Context, n models.Note) error {
	meta, err := encodeMetadata(n.Metadata)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE notes SET title = ?, notebook_id = ?, trashed = ?, updated_at = ?,
			content_hash = ?, content_size = ?, metadata = ?
		WHERE id = ?`,
		n.Title, idArg(n.NotebookID), boolInt(n.Trashed), n.UpdatedAt, n.ContentHash, n.ContentSize, meta, n.ID)
	if err != nil {
		return fmt.Errorf("store: update note: %w", err)
	}
	return checkAffected(res, "note", n.ID)
}

// SetExternalID assigns an external id to a note that has none.
func (s queries) SetExternalID(ctx context.Context, id int64, externalID string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE notes SET external_id = ? WHERE id = ?`, externalID, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: external id %q: %w", externalID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("store: set external id: %w", err)
	}
	return checkAffected(res, "note", id)
}

// SetTrashed moves a note into or out of the trash.
func (s queries) SetTrashed(ctx context.Context, id int64, trashed bool, updatedAt int64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE notes SET trashed = ?, updated_at = ? WHERE id = ?`,
		boolInt(trashed), updatedAt, id)
	if err != nil {
		return fmt.Errorf("store: trash note: %w", err)
	}
	return checkAffected(res, "note", id)
}

// DeleteNote removes a note; tag links and resources cascade.
func (s queries) DeleteNote(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete note: %w", err)
	}
	return checkAffected(res, "note", id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- note tags ---

// NoteTagIDs returns the tag ids linked to a note.
func (s queries) NoteTagIDs(ctx context.Context, noteID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT tag_id FROM note_tags WHERE note_id = ? ORDER BY tag_id`, noteID)
	if err != nil {
		return nil, fmt.Errorf("store: note tags: %w", err)
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetNoteTags replaces the tag links of a note.
func (s queries) SetNoteTags(ctx context.Context, noteID int64, tagIDs []int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("store: clear note tags: %w", err)
	}
	for _, tagID := range tagIDs {
		if _, err := s.q.ExecContext(ctx, `INSERT OR IGNORE INTO note_tags (note_id, tag_id) VALUES (?, ?)`, noteID, tagID); err != nil {
			return fmt.Errorf("store: link note %d tag %d: %w", noteID, tagID, err)
		}
	}
	return nil
}

// --- resources ---

func scanResource(sc interface{ Scan(...any) error }) (models.Resource, error) {
	var r models.Resource
	err := sc.Scan(&r.ID, &r.ParentNoteID, &r.Hash, &r.Filename, &r.Mime, &r.Size)
	return r, err
}

// ListResources returns the attachments of a note.
func (s queries) ListResources(ctx context.Context, noteID int64) ([]models.Resource, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, note_id, hash, filename, mime, size FROM resources WHERE note_id = ? ORDER BY id`, noteID)
	if err != nil {
		return nil, fmt.Errorf("store: list resources: %w", err)
	}
	defer rows.Close()
	out := []models.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddResource attaches r to its note and returns it with its new id.
func (s queries) AddResource(ctx context.Context, r models.Resource) (models.Resource, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO resources (note_id, hash, filename, mime, size) VALUES (?, ?, ?, ?, ?)`,
		r.ParentNoteID, strings.ToLower(r.Hash), r.Filename, r.Mime, r.Size)
	if err != nil {
		return r, fmt.Errorf("store: add resource: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return r, err
}

// --- settings ---

// Settings returns every stored setting as raw JSON.
func (s queries) Settings(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("store: settings: %w", err)
	}
	defer rows.Close()
	out := map[string]json.RawMessage{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

// PutSetting stores value under key. A nil value deletes the key.
func (s queries) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	if value == nil || string(value) == "null" {
		_, err := s.q.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("store: delete setting: %w", err)
		}
		return nil
	}
	if !json.Valid(value) {
		return fmt.Errorf("store: setting %s: invalid JSON", key)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(value))
	if err != nil {
		return fmt.Errorf("store: put setting: %w", err)
	}
	return nil
}
