package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/quire/internal/models"
)

const defaultSearchLimit = 20

// SearchNotes returns live notes whose title matches query, most recently
// updated first. The matching strategy depends on the sqlite_fts5 build tag.
func (s queries) SearchNotes(ctx context.Context, query string, limit int) ([]models.Note, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Note{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	clause, arg := searchClause(query)
	rows, err := s.q.QueryContext(ctx, `SELECT n.`+strings.ReplaceAll(noteCols, ", ", ", n.")+
		` FROM notes n WHERE n.trashed = 0 AND `+clause+
		` ORDER BY n.updated_at DESC, n.id DESC LIMIT ?`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()
	out := []models.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
