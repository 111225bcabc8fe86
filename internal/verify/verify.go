// Package verify checks the referential integrity of an export bundle
// against its manifest.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/coregx/ahocorasick"

	"github.com/starford/quire/internal/export"
	"github.com/starford/quire/internal/parser"
	"github.com/starford/quire/internal/storage"
)

// ErrManifestMissing is returned when the bundle has no readable manifest.
var ErrManifestMissing = errors.New("verify: manifest missing or unreadable")

// DefaultManifest is the manifest file name looked up under the export root.
const DefaultManifest = "manifest.json"

// Denylist holds the locator schemes that must never survive into a
// finished export. Matching is case-insensitive.
var Denylist = []string{
	"file://",
	"blob:",
	"http://localhost",
	"http://127.0.0.1",
	"<en-media",
}

// Violation kinds.
const (
	KindMissingFile  = "missing_file"
	KindNonPortable  = "non_portable"
	KindDanglingLink = "dangling_link"
	KindDanglingJoin = "dangling_join"
)

// Violation is one integrity problem. Missing files are reported once per
// path with every note that referenced it.
type Violation struct {
	Kind    string  `json:"kind"`
	Path    string  `json:"path,omitempty"`
	NoteIDs []int64 `json:"noteIds,omitempty"`
	Detail  string  `json:"detail"`
}

func (v Violation) String() string {
	var b strings.Builder
	b.WriteString(v.Kind)
	if v.Path != "" {
		b.WriteString(" ")
		b.WriteString(v.Path)
	}
	if v.Detail != "" {
		b.WriteString(": ")
		b.WriteString(v.Detail)
	}
	if len(v.NoteIDs) > 0 {
		fmt.Fprintf(&b, " (notes %s)", joinIDs(v.NoteIDs))
	}
	return b.String()
}

// Report is the outcome of a verification run.
type Report struct {
	Root       string      `json:"root"`
	Notes      int         `json:"notes"`
	References int         `json:"references"`
	Violations []Violation `json:"violations"`
	// Orphans lists note content files no manifest record points at. They
	// are informational and do not fail verification.
	Orphans []string `json:"orphans,omitempty"`
}

// OK reports whether no violation was found.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithManifestName overrides the manifest file name.
func WithManifestName(name string) Option {
	return func(v *Verifier) {
		v.manifest = name
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

// Verifier checks bundles. It is safe for concurrent use.
type Verifier struct {
	manifest string
	logger   *slog.Logger
	deny     *ahocorasick.Automaton
}

// New builds a verifier with the default denylist.
func New(opts ...Option) (*Verifier, error) {
	v := &Verifier{manifest: DefaultManifest, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(Denylist).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, fmt.Errorf("verify: build denylist: %w", err)
	}
	v.deny = ac
	return v, nil
}

// Verify checks the bundle at root. Every violation is collected before
// returning. The error is non-nil only for structural problems, and wraps
// ErrManifestMissing when the manifest cannot be loaded.
func (v *Verifier) Verify(ctx context.Context, root string) (*Report, error) {
	bundle, err := storage.NewFS(root, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestMissing, err)
	}
	data, err := bundle.Read(v.manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestMissing, err)
	}
	m, err := export.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestMissing, err)
	}

	c := &check{
		v:       v,
		bundle:  bundle,
		m:       m,
		report:  &Report{Root: bundle.Root(), Notes: len(m.Notes), Violations: []Violation{}},
		missing: map[string]int{},
	}
	if err := c.run(ctx); err != nil {
		return nil, err
	}
	if err := c.orphans(); err != nil {
		return nil, err
	}
	v.logger.Debug("bundle verified",
		slog.String("root", c.report.Root),
		slog.Int("notes", c.report.Notes),
		slog.Int("violations", len(c.report.Violations)),
	)
	return c.report, nil
}

// Verify checks root with a default verifier.
func Verify(ctx context.Context, root string) (*Report, error) {
	v, err := New()
	if err != nil {
		return nil, err
	}
	return v.Verify(ctx, root)
}

type check struct {
	v      *Verifier
	bundle storage.Provider
	m      *export.Manifest
	report *Report

	// missing maps a bundle-relative path to its violation index.
	missing map[string]int
	exists  map[string]bool
}

func (c *check) run(ctx context.Context) error {
	m := c.m
	c.exists = map[string]bool{}
	stacks := idSet(len(m.Stacks))
	for _, s := range m.Stacks {
		stacks[s.ID] = true
	}
	notebooks := idSet(len(m.Notebooks))
	for _, nb := range m.Notebooks {
		notebooks[nb.ID] = true
		if nb.StackID != nil && !stacks[*nb.StackID] {
			c.add(Violation{Kind: KindDanglingJoin, Detail: fmt.Sprintf("notebook %d references unknown stack %d", nb.ID, *nb.StackID)})
		}
	}
	tags := idSet(len(m.Tags))
	for _, t := range m.Tags {
		tags[t.ID] = true
	}
	for _, t := range m.Tags {
		if t.ParentID != nil && !tags[*t.ParentID] {
			c.add(Violation{Kind: KindDanglingJoin, Detail: fmt.Sprintf("tag %d references unknown parent %d", t.ID, *t.ParentID)})
		}
	}
	notes := idSet(len(m.Notes))
	external := make(map[string]bool, len(m.Notes))
	for _, n := range m.Notes {
		notes[n.ID] = true
		if n.ExternalID != "" {
			external[n.ExternalID] = true
		}
	}

	for i := range m.Notes {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := &m.Notes[i]
		c.checkNote(n, notebooks, tags, external)
	}

	for _, a := range m.Attachments {
		if !notes[a.NoteID] {
			c.add(Violation{Kind: KindDanglingJoin, Detail: fmt.Sprintf("attachment %s references unknown note %d", a.Hash, a.NoteID)})
		}
		if a.RelPath != nil {
			c.requireFile(a.NoteID, path.Join(m.Meta.AssetsBase, *a.RelPath), "attachment "+a.Hash)
		}
	}
	for _, nt := range m.NoteTags {
		if !notes[nt.NoteID] {
			c.add(Violation{Kind: KindDanglingJoin, Detail: fmt.Sprintf("note-tag link references unknown note %d", nt.NoteID)})
		}
		if !tags[nt.TagID] {
			c.add(Violation{Kind: KindDanglingJoin, Detail: fmt.Sprintf("note-tag link references unknown tag %d", nt.TagID)})
		}
	}
	return nil
}

func (c *check) checkNote(n *export.NoteRecord, notebooks, tags map[int64]bool, external map[string]bool) {
	if n.NotebookID != nil && !notebooks[*n.NotebookID] {
		c.add(Violation{Kind: KindDanglingJoin, NoteIDs: []int64{n.ID}, Detail: fmt.Sprintf("unknown notebook %d", *n.NotebookID)})
	}
	for _, id := range n.TagIDs {
		if !tags[id] {
			c.add(Violation{Kind: KindDanglingJoin, NoteIDs: []int64{n.ID}, Detail: fmt.Sprintf("unknown tag %d", id)})
		}
	}
	if n.MetaPath != "" {
		c.requireFile(n.ID, n.MetaPath, "note metadata")
	}
	for _, a := range n.Attachments {
		if a.RelPath != nil {
			c.requireFile(n.ID, path.Join(c.m.Meta.AssetsBase, *a.RelPath), "attachment "+a.Hash)
		}
	}
	if n.ContentPath == "" {
		return
	}
	if !c.requireFile(n.ID, n.ContentPath, "note content") {
		return
	}
	data, err := c.bundle.Read(n.ContentPath)
	if err != nil {
		c.add(Violation{Kind: KindMissingFile, Path: n.ContentPath, NoteIDs: []int64{n.ID}, Detail: err.Error()})
		return
	}
	c.scanDenylist(n.ID, n.ContentPath, data)

	for _, ref := range parser.Refs(string(data)) {
		c.report.References++
		value := ref.Value
		target, isNoteLink := parser.NoteLinkTarget(value)
		switch {
		case isNoteLink:
			if !external[target] {
				c.add(Violation{Kind: KindDanglingLink, NoteIDs: []int64{n.ID}, Detail: "link to unknown note " + target})
			}
		case strings.HasPrefix(value, "/") || filepath.IsAbs(value):
			c.add(Violation{Kind: KindNonPortable, Path: n.ContentPath, NoteIDs: []int64{n.ID}, Detail: "absolute reference " + value})
		case isLocal(value):
			c.requireFile(n.ID, value, ref.Attr+" reference")
		}
	}
}

// scanDenylist reports each denylisted pattern once per content file.
func (c *check) scanDenylist(noteID int64, p string, data []byte) {
	seen := map[int]bool{}
	for _, match := range c.v.deny.FindAllOverlapping(bytes.ToLower(data)) {
		if seen[match.PatternID] {
			continue
		}
		seen[match.PatternID] = true
		c.add(Violation{
			Kind:    KindNonPortable,
			Path:    p,
			NoteIDs: []int64{noteID},
			Detail:  "contains " + Denylist[match.PatternID],
		})
	}
}

// requireFile reports rel (relative to the export root) once if it does not
// exist, merging the referencing note ids.
func (c *check) requireFile(noteID int64, rel, what string) bool {
	rel = path.Clean(rel)
	ok, cached := c.exists[rel]
	if !cached {
		ok = regularFile(filepath.Join(c.bundle.Root(), filepath.FromSlash(rel)))
		c.exists[rel] = ok
	}
	if ok {
		return true
	}
	if idx, dup := c.missing[rel]; dup {
		v := &c.report.Violations[idx]
		if !slices.Contains(v.NoteIDs, noteID) {
			v.NoteIDs = append(v.NoteIDs, noteID)
			slices.Sort(v.NoteIDs)
		}
		return false
	}
	c.missing[rel] = len(c.report.Violations)
	c.add(Violation{Kind: KindMissingFile, Path: rel, NoteIDs: []int64{noteID}, Detail: what + " does not exist"})
	return false
}

// orphans lists content files under notes/ that no record claims.
func (c *check) orphans() error {
	files, err := c.bundle.List("notes", ".enml")
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	claimed := make(map[string]bool, len(c.m.Notes))
	for _, n := range c.m.Notes {
		if n.ContentPath != "" {
			claimed[path.Clean(n.ContentPath)] = true
		}
	}
	for _, f := range files {
		if !claimed[f.Path] {
			c.report.Orphans = append(c.report.Orphans, f.Path)
		}
	}
	return nil
}

func (c *check) add(v Violation) {
	c.report.Violations = append(c.report.Violations, v)
}

// isLocal reports whether a reference is a relative path rather than a URL,
// fragment or scheme reference.
func isLocal(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "//") {
		return false
	}
	if i := strings.IndexAny(ref, ":/?#"); i >= 0 && ref[i] == ':' {
		return false
	}
	return true
}

func regularFile(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func idSet(n int) map[int64]bool {
	return make(map[int64]bool, n)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
