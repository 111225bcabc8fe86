// Package store is the SQLite-backed relational store for notes, notebooks,
// tags, resources and settings. It creates the current schema for the daemon
// and reads older schema generations read-only for export.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notebooks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL DEFAULT '',
	parent_id     INTEGER REFERENCES notebooks(id) ON DELETE SET NULL,
	notebook_type TEXT NOT NULL DEFAULT 'notebook' CHECK (notebook_type IN ('stack', 'notebook')),
	sort_order    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS notes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id  TEXT UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	notebook_id  INTEGER REFERENCES notebooks(id) ON DELETE SET NULL,
	trashed      INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	content_size INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS tags (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	parent_id  INTEGER REFERENCES tags(id) ON DELETE SET NULL,
	sort_order REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS note_tags (
	note_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	tag_id  INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (note_id, tag_id)
);

CREATE TABLE IF NOT EXISTS resources (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	note_id  INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	hash     TEXT NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	mime     TEXT NOT NULL DEFAULT '',
	size     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_notebook ON notes(notebook_id);
CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_resources_note ON resources(note_id);
`

// Generation identifies the schema layout of an opened database.
type Generation int

const (
	// GenerationModern has a notebook tree (parent_id, notebook_type).
	GenerationModern Generation = iota
	// GenerationLegacy stores the stack as free text on each notebook.
	GenerationLegacy
)

func (g Generation) String() string {
	if g == GenerationLegacy {
		return "legacy"
	}
	return "modern"
}

// Required and optional tables for export.
var (
	RequiredTables = []string{"notes", "notebooks"}
	OptionalTables = []string{"tags", "note_tags", "resources"}
)

// ErrMissingTables is returned when required tables are absent.
var ErrMissingTables = errors.New("store: required tables missing")

// DB wraps a sql.DB with store operations.
type DB struct {
	queries
	conn     *sql.DB
	readOnly bool
	columns  map[string]map[string]bool
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, err
	}
	db := &DB{queries: queries{q: conn}, conn: conn}
	if err := db.loadColumns(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenReadOnly opens an existing database without creating or altering
// anything. Any schema generation is accepted.
func OpenReadOnly(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store: open read-only: %w", err)
	}
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open read-only: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	db := &DB{queries: queries{q: conn}, conn: conn, readOnly: true}
	if err := db.loadColumns(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// ReadOnly reports whether the database was opened with OpenReadOnly.
func (db *DB) ReadOnly() bool {
	return db.readOnly
}

func (db *DB) loadColumns(ctx context.Context) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return fmt.Errorf("store: list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	db.columns = make(map[string]map[string]bool, len(tables))
	for _, table := range tables {
		cols, err := tableColumns(ctx, db.conn, table)
		if err != nil {
			return err
		}
		db.columns[strings.ToLower(table)] = cols
	}
	return nil
}

func tableColumns(ctx context.Context, conn *sql.DB, table string) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("store: table_info %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// HasTable reports whether table exists.
func (db *DB) HasTable(table string) bool {
	_, ok := db.columns[strings.ToLower(table)]
	return ok
}

// HasColumn reports whether table has column.
func (db *DB) HasColumn(table, column string) bool {
	return db.columns[strings.ToLower(table)][strings.ToLower(column)]
}

// RequireTables returns ErrMissingTables naming every absent table.
func (db *DB) RequireTables(tables ...string) error {
	var missing []string
	for _, t := range tables {
		if !db.HasTable(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingTables, strings.Join(missing, ", "))
	}
	return nil
}

// Generation reports the notebook layout of the database.
func (db *DB) Generation() Generation {
	if db.HasColumn("notebooks", "stack") && !db.HasColumn("notebooks", "notebook_type") {
		return GenerationLegacy
	}
	return GenerationModern
}
