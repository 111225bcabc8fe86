//go:build !sqlite_fts5

package store

import (
	"database/sql"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; SearchNotes falls back to LIKE on notes.title.
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func searchClause(query string) (string, any) {
	return `n.title LIKE ? ESCAPE '\'`, "%" + likeEscaper.Replace(query) + "%"
}
