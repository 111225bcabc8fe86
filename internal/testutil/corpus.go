package testutil

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/starford/quire/internal/checksum"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/store"
)

// PlanHash is the resource hash used by the Plan fixture.
var PlanHash = "abc123" + strings.Repeat("0", 58)

// PlanAsset is the durable path of the Plan fixture's image.
var PlanAsset = PlanHash[:2] + "/" + PlanHash + ".png"

// Corpus is an export source: a relational store, a document-log root and
// a resource cache, all under one temporary directory.
type Corpus struct {
	Dir       string
	DBPath    string
	DocRoot   string
	Resources string
	DB        *store.DB
	Docs      *docstore.Writer
}

// NewCorpus creates an empty corpus with the current schema.
func NewCorpus(t *testing.T) *Corpus {
	t.Helper()
	dir := t.TempDir()
	c := &Corpus{
		Dir:       dir,
		DBPath:    filepath.Join(dir, "notes.db"),
		DocRoot:   filepath.Join(dir, "rte"),
		Resources: filepath.Join(dir, "resources"),
	}
	db, err := store.Open(c.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	c.DB = db
	c.Docs = docstore.NewWriter(c.DocRoot, 1)
	return c
}

// Note inserts a note and, when body is non-empty, its document log.
func (c *Corpus) Note(t *testing.T, externalID, title, body string, notebookID *int64) models.Note {
	t.Helper()
	n, err := c.DB.CreateNote(context.Background(), models.Note{
		ExternalID:  externalID,
		Title:       title,
		NotebookID:  notebookID,
		UpdatedAt:   1_700_000_000,
		ContentHash: checksum.Sum([]byte(body)),
		ContentSize: int64(len(body)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		if err := c.Docs.Put(externalID, docstore.Document{Title: title, Body: body}); err != nil {
			t.Fatal(err)
		}
	}
	return n
}

// Resource registers an attachment row and, when data is non-nil, places
// its bytes in the resource cache at noteID/hash.
func (c *Corpus) Resource(t *testing.T, noteID int64, hash, filename, mime string, data []byte) {
	t.Helper()
	if _, err := c.DB.AddResource(context.Background(), models.Resource{
		ParentNoteID: noteID,
		Hash:         hash,
		Filename:     filename,
		Mime:         mime,
		Size:         int64(len(data)),
	}); err != nil {
		t.Fatal(err)
	}
	if data != nil {
		WriteFile(t, c.Resources, strconv.FormatInt(noteID, 10)+"/"+hash, data)
	}
}

// Close closes the store so an exporter can open it read-only.
func (c *Corpus) Close(t *testing.T) {
	t.Helper()
	if err := c.DB.Close(); err != nil {
		t.Fatal(err)
	}
}

// PlanCorpus builds the reference corpus: stack "Work" holding notebook
// "Projects", holding note "Plan" whose body embeds one PNG resource. A
// second note links to Plan. The store is closed on return.
func PlanCorpus(t *testing.T) (*Corpus, models.Note) {
	t.Helper()
	ctx := context.Background()
	c := NewCorpus(t)
	stack, err := c.DB.CreateNotebook(ctx, models.Notebook{Name: "Work", NotebookType: models.NotebookTypeStack})
	if err != nil {
		t.Fatal(err)
	}
	nb, err := c.DB.CreateNotebook(ctx, models.Notebook{Name: "Projects", ParentID: &stack.ID})
	if err != nil {
		t.Fatal(err)
	}
	tag, err := c.DB.CreateTag(ctx, models.Tag{Name: "todo"})
	if err != nil {
		t.Fatal(err)
	}

	body := `<en-note><p>Diagram:</p><en-media hash="` + PlanHash + `" type="image/png"/></en-note>`
	plan := c.Note(t, "plan-0001", "Plan", body, &nb.ID)
	c.Resource(t, plan.ID, PlanHash, "diagram.png", "image/png", []byte("\x89PNG\r\n"))
	if err := c.DB.SetNoteTags(ctx, plan.ID, []int64{tag.ID}); err != nil {
		t.Fatal(err)
	}
	c.Note(t, "link-0002", "Links", `<en-note><a href="note://plan-0001">Plan</a></en-note>`, &nb.ID)
	c.Close(t)
	return c, plan
}
