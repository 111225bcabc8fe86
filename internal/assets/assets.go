// Package assets resolves attachment bytes from resource caches and places
// them into the content-addressed asset store.
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/quire/internal/checksum"
	"github.com/starford/quire/internal/storage"
)

// ErrInvalidHash is returned for hashes that are not at least two hex characters.
var ErrInvalidHash = errors.New("assets: invalid hash")

const maxExtLen = 10

var (
	hexRe    = regexp.MustCompile(`^[0-9a-fA-F]{2,}$`)
	extStrip = regexp.MustCompile(`[^A-Za-z0-9.]`)

	mimeToExt = map[string]string{
		"image/png":          "png",
		"image/jpeg":         "jpg",
		"image/jpg":          "jpg",
		"image/gif":          "gif",
		"image/webp":         "webp",
		"image/svg+xml":      "svg",
		"image/bmp":          "bmp",
		"image/tiff":         "tiff",
		"image/heic":         "heic",
		"application/pdf":    "pdf",
		"application/zip":    "zip",
		"application/json":   "json",
		"application/msword": "doc",
		"audio/mpeg":         "mp3",
		"audio/wav":          "wav",
		"audio/x-wav":        "wav",
		"audio/ogg":          "ogg",
		"audio/mp4":          "m4a",
		"video/mp4":          "mp4",
		"video/quicktime":    "mov",
		"text/plain":         "txt",
		"text/html":          "html",
		"text/markdown":      "md",
		"text/csv":           "csv",

		"application/vnd.ms-excel": "xls",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       "xlsx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	}
)

// Resolution is the outcome of looking an attachment up in the candidate roots.
type Resolution struct {
	SourcePath string // first match, or the first candidate when nothing matched
	Found      bool
}

// Placement is where an asset lives inside the asset store.
type Placement struct {
	RelativePath string // always forward-slash separated
	AbsolutePath string
}

// Resolver looks up attachment bytes across resource cache roots. Roots are
// tried in order and the first existing file wins.
type Resolver struct {
	roots []string
}

// NewResolver creates a resolver over the given candidate roots. Empty roots are skipped.
func NewResolver(roots ...string) *Resolver {
	r := &Resolver{}
	for _, root := range roots {
		if root != "" {
			r.roots = append(r.roots, root)
		}
	}
	return r
}

// Roots returns the candidate roots in lookup order.
func (r *Resolver) Roots() []string {
	return append([]string(nil), r.roots...)
}

// Resolve finds root/noteID/hash in the first root that has it. A miss is not
// an error: the first candidate path is reported for diagnostics.
func (r *Resolver) Resolve(noteID int64, hash string) Resolution {
	var first string
	for _, root := range r.roots {
		candidate := filepath.Join(root, strconv.FormatInt(noteID, 10), hash)
		if first == "" {
			first = candidate
		}
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return Resolution{SourcePath: candidate, Found: true}
		}
	}
	return Resolution{SourcePath: first}
}

// SanitizeExt keeps [A-Za-z0-9.], lower-cases, and strips a leading dot.
func SanitizeExt(ext string) string {
	ext = extStrip.ReplaceAllString(ext, "")
	ext = strings.ToLower(ext)
	return strings.TrimPrefix(ext, ".")
}

// ExtensionFor derives the stored extension: from the declared filename when
// it yields a valid one, else from the mime table, else none.
func ExtensionFor(filename, mime string) string {
	if filename != "" {
		if ext := SanitizeExt(filepath.Ext(filename)); validExt(ext) {
			return ext
		}
	}
	mime = strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0]))
	return mimeToExt[mime]
}

func validExt(ext string) bool {
	return ext != "" && len(ext) <= maxExtLen && !strings.Contains(ext, ".")
}

// ValidHash reports whether hash can name an asset.
func ValidHash(hash string) bool { return hexRe.MatchString(hash) }

// RelativePath returns hash[0:2]/hash[.ext].
func RelativePath(hash, ext string) (string, error) {
	if !hexRe.MatchString(hash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	name := hash
	if ext != "" {
		name += "." + ext
	}
	return path.Join(hash[:2], name), nil
}

// Store is the content-addressed asset store rooted at a directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at root. The directory is created lazily.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Place computes where an asset with the given hash and hints lives.
func (s *Store) Place(hash, filename, mime string) (Placement, error) {
	rel, err := RelativePath(hash, ExtensionFor(filename, mime))
	if err != nil {
		return Placement{}, err
	}
	return Placement{
		RelativePath: rel,
		AbsolutePath: filepath.Join(s.root, filepath.FromSlash(rel)),
	}, nil
}

// Abs maps a durable relative path back to a file in the store, rejecting
// anything that is not a sharded hash path.
func (s *Store) Abs(rel string) (string, error) {
	dir, name := path.Split(rel)
	hash := strings.SplitN(name, ".", 2)[0]
	if !hexRe.MatchString(hash) || dir != hash[:2]+"/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

// CopyIn copies src to the placement for hash. An existing destination is
// left alone: content-addressed bytes are immutable.
func (s *Store) CopyIn(src, hash, filename, mime string) (Placement, error) {
	p, err := s.Place(hash, filename, mime)
	if err != nil {
		return Placement{}, err
	}
	if _, err := os.Stat(p.AbsolutePath); err == nil {
		return p, nil
	}
	in, err := os.Open(src)
	if err != nil {
		return p, fmt.Errorf("assets: open source: %w", err)
	}
	defer in.Close()
	if err := storage.WriteFileAtomic(p.AbsolutePath, in); err != nil {
		return p, err
	}
	return p, nil
}

// Import stores raw bytes under their SHA-256 hash.
func (s *Store) Import(data []byte, filename, mime string) (string, Placement, error) {
	hash := checksum.Sum(data)
	p, err := s.Place(hash, filename, mime)
	if err != nil {
		return "", Placement{}, err
	}
	if _, err := os.Stat(p.AbsolutePath); err == nil {
		return hash, p, nil
	}
	if err := storage.WriteFileAtomic(p.AbsolutePath, bytes.NewReader(data)); err != nil {
		return "", p, err
	}
	return hash, p, nil
}
