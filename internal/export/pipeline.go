package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/quire/internal/assets"
	"github.com/starford/quire/internal/content"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/storage"
	"github.com/starford/quire/internal/store"
)

const writeCheck = ".quire-write-check"

// Result is a completed export.
type Result struct {
	ManifestPath string
	Manifest     *Manifest
}

// run carries the state of one export through its phases.
type run struct {
	cfg   Config
	log   *slog.Logger
	phase Phase

	bundle       storage.Provider
	manifestName string
	assetsBase   string

	snap     *store.Snapshot
	docs     []docstore.Result
	links    []AttachmentLink
	missing  []MissingEntry
	refs     map[string]content.AssetRef
	resolved []*string
}

// Run executes one export. Per-item problems are recorded in the manifest;
// only structural failures return an error, and that error is a *FatalError.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	r := &run{cfg: cfg, log: cfg.Logger, phase: PhaseInit}
	res, err := r.exec(ctx)
	if err != nil {
		r.log.Error("export failed", slog.String("phase", string(r.phase)), slog.String("error", err.Error()))
		fe := &FatalError{Phase: r.phase, Err: err}
		r.phase = PhaseFailed
		return nil, fe
	}
	return res, nil
}

func (r *run) enter(p Phase) {
	r.phase = p
	r.log.Debug("export phase", slog.String("phase", string(p)))
}

func (r *run) exec(ctx context.Context) (*Result, error) {
	if err := r.init(); err != nil {
		return nil, err
	}

	r.enter(PhaseLoad)
	if err := r.load(ctx); err != nil {
		return nil, err
	}

	r.enter(PhaseDecode)
	if err := r.decode(ctx); err != nil {
		return nil, err
	}

	r.enter(PhaseResolve)
	if err := r.resolveAssets(ctx); err != nil {
		return nil, err
	}

	r.enter(PhaseRewrite)
	if err := r.rewrite(ctx); err != nil {
		return nil, err
	}

	r.enter(PhaseAssemble)
	m, err := r.assemble()
	if err != nil {
		return nil, err
	}

	r.enter(PhaseWrite)
	if err := r.write(ctx, m); err != nil {
		return nil, err
	}

	r.enter(PhaseDone)
	c := m.Meta.Counts
	r.log.Info("export complete",
		slog.String("manifest", filepath.Join(r.bundle.Root(), r.manifestName)),
		slog.Int("notes", c.Notes),
		slog.Int("documents_missing", c.DocumentsMissing),
		slog.Int("decode_errors", c.DecodeErrors),
		slog.Int("attachments_missing", c.AttachmentsMissing),
		slog.Int("copy_failures", c.CopyFailures),
	)
	return &Result{ManifestPath: filepath.Join(r.bundle.Root(), r.manifestName), Manifest: m}, nil
}

// init validates the run and proves the export root is writable before any
// work is done.
func (r *run) init() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	out, err := filepath.Abs(r.cfg.OutPath)
	if err != nil {
		return fmt.Errorf("resolve --out: %w", err)
	}
	r.manifestName = filepath.Base(out)
	if r.bundle, err = storage.NewFS(filepath.Dir(out), true); err != nil {
		return fmt.Errorf("output path unwritable: %w", err)
	}
	if err := r.bundle.Write(writeCheck, nil); err != nil {
		return fmt.Errorf("output path unwritable: %w", err)
	}
	_ = r.bundle.Delete(writeCheck)

	if r.cfg.CopiesAssets() {
		abs, err := filepath.Abs(r.cfg.AssetsDir)
		if err != nil {
			return fmt.Errorf("resolve --assets: %w", err)
		}
		rel, err := filepath.Rel(r.bundle.Root(), abs)
		if err != nil {
			rel = abs
		}
		r.assetsBase = filepath.ToSlash(rel)
	}
	return nil
}

func (r *run) load(ctx context.Context) error {
	db, err := store.OpenReadOnly(r.cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if r.snap, err = db.Load(ctx, r.cfg.Limit); err != nil {
		return err
	}
	for _, t := range r.snap.Absent {
		r.log.Warn("optional table absent", slog.String("table", t))
	}
	r.log.Info("relational store loaded",
		slog.String("generation", r.snap.Generation.String()),
		slog.Int("notebooks", len(r.snap.Notebooks)),
		slog.Int("notes", len(r.snap.Notes)),
		slog.Int("resources", len(r.snap.Resources)),
	)
	return nil
}

// forEach runs fn for 0..n-1 on the configured number of workers. It stops
// scheduling once ctx is done.
func (r *run) forEach(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := range n {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *run) decode(ctx context.Context) error {
	notes := r.snap.Notes
	r.docs = make([]docstore.Result, len(notes))
	return r.forEach(ctx, len(notes), func(i int) {
		r.docs[i] = docstore.Decode(r.cfg.DocRoot, notes[i].ExternalID)
	})
}

// resolveAssets copies every attachment into the asset store. The hash map
// is built after all copies finish and is read-only from then on. Rows whose
// hash cannot name an asset are marked invalid in either mode.
func (r *run) resolveAssets(ctx context.Context) error {
	res := r.snap.Resources
	r.links = make([]AttachmentLink, len(res))
	problems := make([]*MissingEntry, len(res))
	r.refs = map[string]content.AssetRef{}

	roots := append([]string{r.cfg.Resources}, r.cfg.LegacyResources...)
	resolver := assets.NewResolver(roots...)
	dest := assets.NewStore(r.cfg.AssetsDir)
	err := r.forEach(ctx, len(res), func(i int) {
		rs := res[i]
		link := AttachmentLink{NoteID: rs.ParentNoteID, Hash: rs.Hash, Filename: rs.Filename, Mime: rs.Mime, Size: rs.Size}
		defer func() { r.links[i] = link }()
		if !assets.ValidHash(rs.Hash) {
			link.Status = StatusInvalid
			problems[i] = &MissingEntry{Kind: MissingInvalid, NoteID: rs.ParentNoteID, Hash: rs.Hash, Error: assets.ErrInvalidHash.Error()}
			return
		}
		if !r.cfg.CopiesAssets() {
			link.Status = StatusSkipped
			return
		}
		found := resolver.Resolve(rs.ParentNoteID, rs.Hash)
		if !found.Found {
			link.Status = StatusMissing
			problems[i] = &MissingEntry{Kind: MissingAttachment, NoteID: rs.ParentNoteID, Hash: rs.Hash, Path: found.SourcePath}
			return
		}
		p, err := dest.CopyIn(found.SourcePath, rs.Hash, rs.Filename, rs.Mime)
		if err != nil {
			link.Status = StatusCopyFailed
			problems[i] = &MissingEntry{Kind: MissingCopy, NoteID: rs.ParentNoteID, Hash: rs.Hash, Path: found.SourcePath, Error: err.Error()}
			return
		}
		rel := p.RelativePath
		link.Status, link.RelPath = StatusCopied, &rel
	})
	if err != nil {
		return err
	}

	for i, link := range r.links {
		if problems[i] != nil {
			r.missing = append(r.missing, *problems[i])
			r.log.Warn("attachment not exported",
				slog.Int64("note_id", link.NoteID),
				slog.String("hash", link.Hash),
				slog.String("status", link.Status),
				slog.String("path", problems[i].Path),
			)
		}
		if link.RelPath == nil {
			continue
		}
		if _, seen := r.refs[link.Hash]; !seen {
			r.refs[link.Hash] = content.AssetRef{RelPath: *link.RelPath, Filename: link.Filename, Mime: link.Mime}
		}
	}
	return nil
}

func (r *run) rewrite(ctx context.Context) error {
	r.resolved = make([]*string, len(r.docs))
	if !r.cfg.CopiesAssets() {
		return nil
	}
	return r.forEach(ctx, len(r.docs), func(i int) {
		if r.docs[i].Status != docstore.StatusOK {
			return
		}
		out := content.ToExportForm(r.docs[i].Doc.Body, r.refs, r.assetsBase)
		r.resolved[i] = &out
	})
}

func (r *run) assemble() (*Manifest, error) {
	snap := r.snap
	stacks, notebooks := structure(snap)
	m := &Manifest{
		Version:           ManifestVersion,
		Stacks:            stacks,
		Notebooks:         notebooks,
		Tags:              tagRecords(snap.Tags),
		Notes:             make([]NoteRecord, 0, len(snap.Notes)),
		Attachments:       append([]AttachmentLink{}, r.links...),
		NoteTags:          []NoteTagLink{},
		MissingContentLog: []MissingEntry{},
		DecodeErrors:      []DecodeErrorEntry{},
	}

	notebookIDs := make(map[int64]bool, len(notebooks))
	for _, nb := range notebooks {
		notebookIDs[nb.ID] = true
	}
	tagIDs := make(map[int64]bool, len(m.Tags))
	for _, t := range m.Tags {
		tagIDs[t.ID] = true
	}

	var dangling []MissingEntry
	noteTags := map[int64][]int64{}
	for _, nt := range snap.NoteTags {
		if !tagIDs[nt.TagID] {
			dangling = append(dangling, MissingEntry{Kind: MissingTag, NoteID: nt.NoteID, RefID: nt.TagID})
			continue
		}
		m.NoteTags = append(m.NoteTags, NoteTagLink{NoteID: nt.NoteID, TagID: nt.TagID})
		noteTags[nt.NoteID] = append(noteTags[nt.NoteID], nt.TagID)
	}
	attachments := map[int64][]NoteAttachment{}
	for _, l := range r.links {
		if l.Status == StatusInvalid {
			continue
		}
		attachments[l.NoteID] = append(attachments[l.NoteID], NoteAttachment{
			Hash: l.Hash, Filename: l.Filename, Mime: l.Mime, Size: l.Size, RelPath: l.RelPath,
		})
	}

	c := &m.Meta.Counts
	for i, n := range snap.Notes {
		doc := r.docs[i]
		rec := NoteRecord{
			ID:            n.ID,
			ExternalID:    n.ExternalID,
			Title:         n.Title,
			NotebookID:    n.NotebookID,
			Trashed:       n.Trashed,
			UpdatedAt:     n.UpdatedAt,
			ContentHash:   n.ContentHash,
			ContentSize:   n.ContentSize,
			Metadata:      n.Metadata,
			TagIDs:        append([]int64{}, noteTags[n.ID]...),
			DocumentFound: doc.Found(),
			ENMLResolved:  r.resolved[i],
			MetaPath:      NoteMetaPath(n.ID),
			Attachments:   append([]NoteAttachment{}, attachments[n.ID]...),
		}
		if rec.NotebookID != nil && !notebookIDs[*rec.NotebookID] {
			dangling = append(dangling, MissingEntry{Kind: MissingNotebook, NoteID: n.ID, RefID: *rec.NotebookID})
			rec.NotebookID = nil
		}

		switch doc.Status {
		case docstore.StatusOK:
			c.DocumentsFound++
			title, body := doc.Doc.Title, doc.Doc.Body
			rec.DocumentTitle, rec.ENML = &title, &body
			rec.StyleMap, rec.MetaMap = doc.Doc.Style, doc.Doc.Meta
			rec.ContentPath = NoteContentPath(n.ID)
		case docstore.StatusNotFound:
			c.DocumentsMissing++
			m.MissingContentLog = append(m.MissingContentLog, MissingEntry{
				Kind: MissingDocument, NoteID: n.ID, ExternalID: n.ExternalID, Path: doc.Path,
			})
		case docstore.StatusDecodeError:
			c.DecodeErrors++
			m.DecodeErrors = append(m.DecodeErrors, DecodeErrorEntry{
				NoteID: n.ID, ExternalID: n.ExternalID, Path: doc.Path, Error: doc.Err,
			})
			r.log.Warn("document decode failed",
				slog.Int64("note_id", n.ID),
				slog.String("path", doc.Path),
				slog.String("error", doc.Err),
			)
		}

		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("note %d: %w", n.ID, err)
		}
		if n.Trashed {
			c.Trashed++
		}
		m.Notes = append(m.Notes, rec)
	}

	for _, d := range dangling {
		r.log.Warn("dangling reference", slog.String("kind", d.Kind), slog.Int64("note_id", d.NoteID), slog.Int64("ref_id", d.RefID))
	}
	m.MissingContentLog = append(m.MissingContentLog, r.missing...)
	m.MissingContentLog = append(m.MissingContentLog, dangling...)

	c.Stacks, c.Notebooks, c.Tags, c.Notes = len(m.Stacks), len(m.Notebooks), len(m.Tags), len(m.Notes)
	c.Attachments = len(m.Attachments)
	c.DanglingLinks = len(dangling)
	for _, l := range m.Attachments {
		switch l.Status {
		case StatusCopied:
			c.AttachmentsCopied++
		case StatusMissing:
			c.AttachmentsMissing++
		case StatusCopyFailed:
			c.CopyFailures++
		case StatusInvalid:
			c.AttachmentsInvalid++
		}
	}
	if c.DocumentsMissing > 0 {
		r.log.Warn("notes without a document", slog.Int("count", c.DocumentsMissing))
	}

	m.Meta = Meta{
		GeneratedAt:     r.cfg.Now().UTC().Format(time.RFC3339),
		Generation:      snap.Generation.String(),
		DB:              r.cfg.DBPath,
		RTE:             r.cfg.DocRoot,
		Limit:           r.cfg.Limit,
		Resources:       r.cfg.Resources,
		LegacyResources: r.cfg.LegacyResources,
		Assets:          r.cfg.AssetsDir,
		AssetsBase:      r.assetsBase,
		Workers:         r.cfg.Workers,
		Counts:          *c,
	}
	return m, nil
}

// noteMeta is the per-note sidecar written next to the body.
type noteMeta struct {
	ID            int64                      `json:"id"`
	ExternalID    string                     `json:"externalId"`
	Title         string                     `json:"title"`
	DocumentTitle *string                    `json:"documentTitle"`
	Metadata      map[string]json.RawMessage `json:"metadata"`
	StyleMap      map[string]json.RawMessage `json:"styleMap"`
	MetaMap       map[string]json.RawMessage `json:"metaMap"`
	TagIDs        []int64                    `json:"tagIds"`
}

// write emits the note files and then the manifest. The manifest is written
// exactly once, last, so an interrupted run never leaves one behind.
func (r *run) write(ctx context.Context, m *Manifest) error {
	errs := make([]error, len(m.Notes))
	err := r.forEach(ctx, len(m.Notes), func(i int) {
		errs[i] = r.writeNote(&m.Notes[i])
	})
	if err != nil {
		return err
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return r.bundle.Write(r.manifestName, append(data, '\n'))
}

func (r *run) writeNote(n *NoteRecord) error {
	if n.ContentPath != "" {
		body := n.ENML
		if n.ENMLResolved != nil {
			body = n.ENMLResolved
		}
		if err := r.bundle.Write(n.ContentPath, []byte(*body)); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(noteMeta{
		ID:            n.ID,
		ExternalID:    n.ExternalID,
		Title:         n.Title,
		DocumentTitle: n.DocumentTitle,
		Metadata:      n.Metadata,
		StyleMap:      n.StyleMap,
		MetaMap:       n.MetaMap,
		TagIDs:        n.TagIDs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode note %d: %w", n.ID, err)
	}
	return r.bundle.Write(n.MetaPath, data)
}
