// Package importer loads an export bundle back into the relational store,
// the document-log root and the asset store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/quire/internal/assets"
	"github.com/starford/quire/internal/checksum"
	"github.com/starford/quire/internal/content"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/export"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/storage"
	"github.com/starford/quire/internal/store"
)

// ErrNoManifest is returned when the bundle has no readable manifest.
var ErrNoManifest = errors.New("importer: manifest missing or unreadable")

// Result summarises an import.
type Result struct {
	StacksCreated    int `json:"stacksCreated"`
	NotebooksCreated int `json:"notebooksCreated"`
	TagsCreated      int `json:"tagsCreated"`
	NotesCreated     int `json:"notesCreated"`
	NotesSkipped     int `json:"notesSkipped"`
	Links            int `json:"links"`
	AssetsCopied     int `json:"assetsCopied"`
	AssetsMissing    int `json:"assetsMissing"`
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(im *Importer) {
		im.logger = l
	}
}

// WithManifestName overrides the manifest file name.
func WithManifestName(name string) Option {
	return func(im *Importer) {
		im.manifest = name
	}
}

// WithWorkers bounds asset-copy parallelism.
func WithWorkers(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.workers = n
		}
	}
}

// Importer writes bundles into a store.
type Importer struct {
	db       *store.DB
	docs     *docstore.Writer
	assets   *assets.Store
	logger   *slog.Logger
	manifest string
	workers  int
	newID    func() string
}

// New creates an importer.
func New(db *store.DB, docs *docstore.Writer, assetStore *assets.Store, opts ...Option) *Importer {
	im := &Importer{
		db:       db,
		docs:     docs,
		assets:   assetStore,
		logger:   slog.Default(),
		manifest: "manifest.json",
		workers:  export.DefaultWorkers,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// pending is a note row ready to insert with its storage-form body.
type pending struct {
	rec  *export.NoteRecord
	note models.Note
	body *string
}

// Import reads the bundle at root. Notes whose external id already exists
// are skipped, so importing the same bundle twice is harmless.
func (im *Importer) Import(ctx context.Context, root string) (*Result, error) {
	bundle, err := storage.NewFS(root, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoManifest, err)
	}
	data, err := bundle.Read(im.manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoManifest, err)
	}
	m, err := export.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoManifest, err)
	}

	res := &Result{}
	if err := im.copyAssets(ctx, bundle, m, res); err != nil {
		return nil, err
	}
	notes, err := im.readNotes(bundle, m)
	if err != nil {
		return nil, err
	}

	var created []pending
	err = im.db.InTx(ctx, func(tx *store.Tx) error {
		h, err := newHierarchy(ctx, tx)
		if err != nil {
			return err
		}
		stackIDs := map[int64]int64{}
		for _, s := range m.Stacks {
			nb, made, err := h.notebook(ctx, s.Name, nil, models.NotebookTypeStack)
			if err != nil {
				return err
			}
			stackIDs[s.ID] = nb.ID
			res.StacksCreated += count(made)
		}
		notebookIDs := map[int64]int64{}
		for _, rec := range m.Notebooks {
			var parent *int64
			if rec.StackID != nil {
				if id, ok := stackIDs[*rec.StackID]; ok {
					parent = &id
				}
			}
			nb, made, err := h.notebook(ctx, rec.Name, parent, models.NotebookTypeNotebook)
			if err != nil {
				return err
			}
			notebookIDs[rec.ID] = nb.ID
			res.NotebooksCreated += count(made)
		}
		tagIDs := map[int64]int64{}
		for _, rec := range m.Tags {
			var parent *int64
			if rec.ParentID != nil {
				if id, ok := tagIDs[*rec.ParentID]; ok {
					parent = &id
				}
			}
			tg, made, err := h.tag(ctx, rec.Name, parent)
			if err != nil {
				return err
			}
			tagIDs[rec.ID] = tg.ID
			res.TagsCreated += count(made)
		}

		for _, p := range notes {
			if p.note.ExternalID != "" {
				if _, err := tx.GetNoteByExternalID(ctx, p.note.ExternalID); err == nil {
					res.NotesSkipped++
					continue
				}
			} else {
				p.note.ExternalID = im.newID()
			}
			if p.rec.NotebookID != nil {
				if id, ok := notebookIDs[*p.rec.NotebookID]; ok {
					p.note.NotebookID = &id
				}
			}
			n, err := tx.CreateNote(ctx, p.note)
			if err != nil {
				return err
			}
			p.note = n

			var tags []int64
			for _, old := range p.rec.TagIDs {
				if id, ok := tagIDs[old]; ok {
					tags = append(tags, id)
				}
			}
			if err := tx.SetNoteTags(ctx, n.ID, tags); err != nil {
				return err
			}
			res.Links += len(tags)
			for _, a := range p.rec.Attachments {
				if _, err := tx.AddResource(ctx, models.Resource{
					ParentNoteID: n.ID,
					Hash:         a.Hash,
					Filename:     a.Filename,
					Mime:         a.Mime,
					Size:         a.Size,
				}); err != nil {
					return err
				}
			}
			created = append(created, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}

	for _, p := range created {
		if p.body == nil {
			continue
		}
		title := p.note.Title
		if p.rec.DocumentTitle != nil {
			title = *p.rec.DocumentTitle
		}
		if err := im.docs.Put(p.note.ExternalID, docstore.Document{
			Title: title,
			Body:  *p.body,
			Style: p.rec.StyleMap,
			Meta:  p.rec.MetaMap,
		}); err != nil {
			return nil, fmt.Errorf("importer: document for note %d: %w", p.note.ID, err)
		}
	}
	res.NotesCreated = len(created)
	im.logger.Info("bundle imported",
		slog.String("root", bundle.Root()),
		slog.Int("notes_created", res.NotesCreated),
		slog.Int("notes_skipped", res.NotesSkipped),
		slog.Int("assets_copied", res.AssetsCopied),
		slog.Int("assets_missing", res.AssetsMissing),
	)
	return res, nil
}

// readNotes loads every note body and converts export-form references back
// to durable ones.
func (im *Importer) readNotes(bundle storage.Provider, m *export.Manifest) ([]pending, error) {
	out := make([]pending, 0, len(m.Notes))
	for i := range m.Notes {
		rec := &m.Notes[i]
		p := pending{rec: rec, note: models.Note{
			ExternalID: rec.ExternalID,
			Title:      rec.Title,
			Trashed:    rec.Trashed,
			UpdatedAt:  rec.UpdatedAt,
			Metadata:   rec.Metadata,
		}}
		if rec.ContentPath != "" {
			data, err := bundle.Read(rec.ContentPath)
			if err != nil {
				return nil, fmt.Errorf("importer: note %d: %w", rec.ID, err)
			}
			body := content.FromExportForm(string(data), m.Meta.AssetsBase)
			p.body = &body
			p.note.ContentHash = checksum.Sum([]byte(body))
			p.note.ContentSize = int64(len(body))
		}
		out = append(out, p)
	}
	return out, nil
}

// copyAssets places every exported attachment into the asset store. A file
// missing from the bundle is counted, not fatal.
func (im *Importer) copyAssets(ctx context.Context, bundle storage.Provider, m *export.Manifest, res *Result) error {
	type job struct {
		src      string
		hash     string
		filename string
		mime     string
	}
	seen := map[string]bool{}
	var jobs []job
	for _, n := range m.Notes {
		for _, a := range n.Attachments {
			if a.RelPath == nil || seen[*a.RelPath] {
				continue
			}
			seen[*a.RelPath] = true
			rel := path.Join(m.Meta.AssetsBase, *a.RelPath)
			jobs = append(jobs, job{
				src:      filepath.Join(bundle.Root(), filepath.FromSlash(rel)),
				hash:     strings.ToLower(a.Hash),
				filename: a.Filename,
				mime:     a.Mime,
			})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := im.assets.CopyIn(j.src, j.hash, j.filename, j.mime)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.AssetsMissing++
				im.logger.Warn("asset not imported", slog.String("path", j.src), slog.String("error", err.Error()))
				return nil
			}
			res.AssetsCopied++
			return nil
		})
	}
	return g.Wait()
}

func count(b bool) int {
	if b {
		return 1
	}
	return 0
}
