package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/quire/internal/models"
)

// LoadedNotebook is a notebook row as found on disk. Stack carries the raw
// legacy stack column and is empty for the modern generation.
type LoadedNotebook struct {
	models.Notebook
	Stack string
}

// Snapshot is everything the exporter reads from the relational store.
type Snapshot struct {
	Generation Generation
	Notebooks  []LoadedNotebook
	Notes      []models.Note
	Tags       []models.Tag
	NoteTags   []models.NoteTag
	Resources  []models.Resource
	// Absent lists optional tables that were not present.
	Absent []string
}

// column renders a select expression for table.col, falling back to dflt
// when the column is absent in this schema generation.
func (db *DB) column(table, col, dflt string) string {
	if !db.HasColumn(table, col) {
		return dflt
	}
	if dflt == "NULL" {
		return col
	}
	return fmt.Sprintf("COALESCE(%s, %s)", col, dflt)
}

// Load reads the full relational snapshot. When limit > 0 only the first
// limit notes (by id) are loaded, and joins are cut down to those notes.
func (db *DB) Load(ctx context.Context, limit int) (*Snapshot, error) {
	if err := db.RequireTables(RequiredTables...); err != nil {
		return nil, err
	}
	snap := &Snapshot{Generation: db.Generation()}
	for _, t := range OptionalTables {
		if !db.HasTable(t) {
			snap.Absent = append(snap.Absent, t)
		}
	}

	var err error
	if snap.Notebooks, err = db.loadNotebooks(ctx); err != nil {
		return nil, err
	}
	if snap.Notes, err = db.loadNotes(ctx, limit); err != nil {
		return nil, err
	}
	keep := make(map[int64]bool, len(snap.Notes))
	for _, n := range snap.Notes {
		keep[n.ID] = true
	}
	if db.HasTable("tags") {
		if snap.Tags, err = db.loadTags(ctx); err != nil {
			return nil, err
		}
	}
	if db.HasTable("note_tags") {
		if snap.NoteTags, err = db.loadNoteTags(ctx, keep); err != nil {
			return nil, err
		}
	}
	if db.HasTable("resources") {
		if snap.Resources, err = db.loadResources(ctx, keep); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (db *DB) loadNotebooks(ctx context.Context) ([]LoadedNotebook, error) {
	const t = "notebooks"
	query := fmt.Sprintf(`SELECT id, %s, %s, %s, %s, %s FROM notebooks ORDER BY id`,
		db.column(t, "name", "''"),
		db.column(t, "parent_id", "NULL"),
		db.column(t, "notebook_type", "'notebook'"),
		db.column(t, "sort_order", "0"),
		db.column(t, "stack", "''"),
	)
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: load notebooks: %w", err)
	}
	defer rows.Close()
	var out []LoadedNotebook
	for rows.Next() {
		var (
			nb     LoadedNotebook
			parent sql.NullInt64
			typ    string
		)
		if err := rows.Scan(&nb.ID, &nb.Name, &parent, &typ, &nb.SortOrder, &nb.Stack); err != nil {
			return nil, fmt.Errorf("store: load notebooks: %w", err)
		}
		nb.ParentID = nullID(parent)
		nb.NotebookType = models.NotebookType(strings.ToLower(strings.TrimSpace(typ)))
		if nb.NotebookType != models.NotebookTypeStack {
			nb.NotebookType = models.NotebookTypeNotebook
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

func (db *DB) loadNotes(ctx context.Context, limit int) ([]models.Note, error) {
	const t = "notes"
	query := fmt.Sprintf(`SELECT id, %s, %s, %s, %s, %s, %s, %s, %s FROM notes ORDER BY id`,
		db.column(t, "external_id", "''"),
		db.column(t, "title", "''"),
		db.column(t, "notebook_id", "NULL"),
		db.column(t, "trashed", "0"),
		db.column(t, "updated_at", "0"),
		db.column(t, "content_hash", "''"),
		db.column(t, "content_size", "0"),
		db.column(t, "metadata", "'{}'"),
	)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: load notes: %w", err)
	}
	defer rows.Close()
	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("store: load notes: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (db *DB) loadTags(ctx context.Context) ([]models.Tag, error) {
	const t = "tags"
	query := fmt.Sprintf(`SELECT id, %s, %s, %s FROM tags ORDER BY id`,
		db.column(t, "name", "''"),
		db.column(t, "parent_id", "NULL"),
		db.column(t, "sort_order", "0"),
	)
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: load tags: %w", err)
	}
	defer rows.Close()
	var out []models.Tag
	for rows.Next() {
		tg, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("store: load tags: %w", err)
		}
		out = append(out, tg)
	}
	return out, rows.Err()
}

func (db *DB) loadNoteTags(ctx context.Context, keep map[int64]bool) ([]models.NoteTag, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT note_id, tag_id FROM note_tags ORDER BY note_id, tag_id`)
	if err != nil {
		return nil, fmt.Errorf("store: load note tags: %w", err)
	}
	defer rows.Close()
	var out []models.NoteTag
	for rows.Next() {
		var nt models.NoteTag
		if err := rows.Scan(&nt.NoteID, &nt.TagID); err != nil {
			return nil, fmt.Errorf("store: load note tags: %w", err)
		}
		if keep[nt.NoteID] {
			out = append(out, nt)
		}
	}
	return out, rows.Err()
}

func (db *DB) loadResources(ctx context.Context, keep map[int64]bool) ([]models.Resource, error) {
	const t = "resources"
	query := fmt.Sprintf(`SELECT id, note_id, COALESCE(LOWER(hash), ''), %s, %s, %s FROM resources ORDER BY note_id, id`,
		db.column(t, "filename", "''"),
		db.column(t, "mime", "''"),
		db.column(t, "size", "0"),
	)
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: load resources: %w", err)
	}
	defer rows.Close()
	var out []models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("store: load resources: %w", err)
		}
		if keep[r.ParentNoteID] {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}
