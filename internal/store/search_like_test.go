//go:build !sqlite_fts5

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/quire/internal/models"
)

func TestSearchNotes_LikeWildcardsAreLiteral(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_, err := db.CreateNote(ctx, models.Note{Title: "50% off"})
	require.NoError(t, err)
	_, err = db.CreateNote(ctx, models.Note{Title: "500 things"})
	require.NoError(t, err)
	_, err = db.CreateNote(ctx, models.Note{Title: "snake_case"})
	require.NoError(t, err)

	got, err := db.SearchNotes(ctx, "50%", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"50% off"}, titles(got))

	got, err = db.SearchNotes(ctx, "e_c", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"snake_case"}, titles(got))
}
