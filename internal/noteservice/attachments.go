package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/models"
)

var errNoAssetStore = errors.New("noteservice: no asset store configured")

// Upload is the result of storing asset bytes.
type Upload struct {
	Hash     string `json:"hash"`
	Ref      string `json:"ref"`     // durable reference, hh/hash[.ext]
	Locator  string `json:"locator"` // display locator for this process
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
	Size     int64  `json:"size"`
}

// UploadAsset stores data in the content-addressed store. When noteID is
// non-nil the asset is also attached to that note.
func (s *Service) UploadAsset(ctx context.Context, noteID *int64, data []byte, filename, mime string) (*Upload, error) {
	if s.assets == nil {
		return nil, errNoAssetStore
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", apperr.ErrInvalidInput)
	}
	if noteID != nil {
		if _, err := s.db.GetNote(ctx, *noteID); err != nil {
			return nil, err
		}
	}
	hash, placement, err := s.assets.Import(data, filename, mime)
	if err != nil {
		return nil, err
	}
	up := &Upload{
		Hash:     hash,
		Ref:      placement.RelativePath,
		Locator:  s.session.Locator(placement.RelativePath),
		Filename: filename,
		Mime:     mime,
		Size:     int64(len(data)),
	}
	if noteID != nil {
		res, err := s.db.AddResource(ctx, models.Resource{
			ParentNoteID: *noteID,
			Hash:         hash,
			Filename:     filename,
			Mime:         mime,
			Size:         up.Size,
		})
		if err != nil {
			return nil, err
		}
		s.notify("note.resource", res)
	}
	return up, nil
}

// ResolveLocator maps a display-locator token to the asset file on disk.
func (s *Service) ResolveLocator(token string) (string, error) {
	if s.assets == nil {
		return "", errNoAssetStore
	}
	ref, ok := s.session.Resolve(token)
	if !ok {
		return "", fmt.Errorf("noteservice: locator %q: %w", token, apperr.ErrNotFound)
	}
	p, err := s.assets.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("noteservice: asset %s: %w", ref, apperr.ErrNotFound)
	}
	return p, nil
}
