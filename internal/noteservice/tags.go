package noteservice

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/hierarchy"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/store"
)

// TagNode is a tag with its ordered children.
type TagNode struct {
	models.Tag
	Children []TagNode `json:"children,omitempty"`
}

// TagTree returns the tag forest in display order.
func (s *Service) TagTree(ctx context.Context) ([]TagNode, error) {
	tags, err := s.db.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.Tag, len(tags))
	for _, tg := range tags {
		byID[tg.ID] = tg
	}
	tree := hierarchy.New(hierarchy.FromTags(tags))
	seen := make(map[int64]bool, len(tags))
	var build func(parent *int64) []TagNode
	build = func(parent *int64) []TagNode {
		children := tree.OrderedChildren(parent, "")
		out := make([]TagNode, 0, len(children))
		for _, c := range children {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			id := c.ID
			out = append(out, TagNode{Tag: byID[c.ID], Children: build(&id)})
		}
		return out
	}
	return build(nil), nil
}

// FindOrCreateTag returns the sibling under parent whose name matches
// case-insensitively, creating it when absent. created reports which
// happened.
func (s *Service) FindOrCreateTag(ctx context.Context, name string, parent *int64) (tag models.Tag, created bool, err error) {
	name = strings.TrimSpace(name)
	if err := validation.Validate(name, validation.Required, validation.Length(1, 255)); err != nil {
		return models.Tag{}, false, fmt.Errorf("%w: name: %v", apperr.ErrInvalidInput, err)
	}

	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	err = s.db.InTx(ctx, func(tx *store.Tx) error {
		tags, err := tx.ListTags(ctx)
		if err != nil {
			return err
		}
		parentFound := parent == nil
		for _, tg := range tags {
			if parent != nil && tg.ID == *parent {
				parentFound = true
			}
			if sameParent(tg.ParentID, parent) && strings.EqualFold(tg.Name, name) {
				tag = tg
				return nil
			}
		}
		if !parentFound {
			return fmt.Errorf("noteservice: parent tag %d: %w", *parent, apperr.ErrNotFound)
		}
		order, err := tx.NextSortOrder(ctx, "tags", parent)
		if err != nil {
			return err
		}
		tag, err = tx.CreateTag(ctx, models.Tag{Name: name, ParentID: parent, SortOrder: order})
		created = err == nil
		return err
	})
	if err != nil {
		return models.Tag{}, false, err
	}
	if created {
		s.notify("tag.created", tag)
	}
	return tag, created, nil
}

// DeleteTag removes a tag. Child tags move to the root and note links are
// dropped.
func (s *Service) DeleteTag(ctx context.Context, id int64) error {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	if err := s.db.DeleteTag(ctx, id); err != nil {
		return err
	}
	s.notify("tag.deleted", map[string]any{"id": id})
	return nil
}

// MoveTag reparents a tag at index among its new siblings.
func (s *Service) MoveTag(ctx context.Context, id int64, parent *int64, index int) ([]models.Tag, error) {
	return s.moveTag(ctx, func(t *hierarchy.Tree) ([]hierarchy.Node, error) {
		return t.Move(id, parent, index)
	})
}

// MoveTagRelative places a tag before, after or inside target.
func (s *Service) MoveTagRelative(ctx context.Context, id, target int64, pos hierarchy.Position) ([]models.Tag, error) {
	return s.moveTag(ctx, func(t *hierarchy.Tree) ([]hierarchy.Node, error) {
		return t.MoveRelative(id, target, pos)
	})
}

func (s *Service) moveTag(ctx context.Context, apply func(*hierarchy.Tree) ([]hierarchy.Node, error)) ([]models.Tag, error) {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	var changed []models.Tag
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		tags, err := tx.ListTags(ctx)
		if err != nil {
			return err
		}
		nodes, err := apply(hierarchy.New(hierarchy.FromTags(tags)))
		if err != nil {
			return err
		}
		byID := make(map[int64]models.Tag, len(tags))
		for _, tg := range tags {
			byID[tg.ID] = tg
		}
		for _, n := range nodes {
			if err := tx.SetTagPlacement(ctx, n.ID, n.ParentID, n.SortOrder); err != nil {
				return err
			}
			tg := byID[n.ID]
			tg.ParentID, tg.SortOrder = n.ParentID, n.SortOrder
			changed = append(changed, tg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.notify("tag.moved", changed)
	}
	return changed, nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
