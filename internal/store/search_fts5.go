//go:build sqlite_fts5

package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const ftsSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
	title,
	content = 'notes',
	content_rowid = 'id',
	tokenize = 'unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS notes_fts_ai AFTER INSERT ON notes BEGIN
	INSERT INTO notes_fts (rowid, title) VALUES (new.id, new.title);
END;

CREATE TRIGGER IF NOT EXISTS notes_fts_ad AFTER DELETE ON notes BEGIN
	INSERT INTO notes_fts (notes_fts, rowid, title) VALUES ('delete', old.id, old.title);
END;

CREATE TRIGGER IF NOT EXISTS notes_fts_au AFTER UPDATE OF title ON notes BEGIN
	INSERT INTO notes_fts (notes_fts, rowid, title) VALUES ('delete', old.id, old.title);
	INSERT INTO notes_fts (rowid, title) VALUES (new.id, new.title);
END;

INSERT INTO notes_fts (notes_fts) VALUES ('rebuild');
`

func initFTS(conn *sql.DB) error {
	if _, err := conn.Exec(ftsSQL); err != nil {
		return fmt.Errorf("store: init fts: %w", err)
	}
	return nil
}

// searchClause matches the query as a prefix phrase so partial words find
// titles the way the LIKE fallback does.
func searchClause(query string) (string, any) {
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"*`
	return `n.id IN (SELECT rowid FROM notes_fts WHERE notes_fts MATCH ?)`, phrase
}
