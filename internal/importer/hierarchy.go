package importer

import (
	"context"
	"strings"

	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/store"
)

// hierarchy finds or creates notebooks and tags by name within their
// sibling scope, case-insensitively, inside one transaction.
type hierarchy struct {
	tx        *store.Tx
	notebooks []models.Notebook
	tags      []models.Tag
}

func newHierarchy(ctx context.Context, tx *store.Tx) (*hierarchy, error) {
	nbs, err := tx.ListNotebooks(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := tx.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	return &hierarchy{tx: tx, notebooks: nbs, tags: tags}, nil
}

func (h *hierarchy) notebook(ctx context.Context, name string, parent *int64, typ models.NotebookType) (models.Notebook, bool, error) {
	name = strings.TrimSpace(name)
	for _, nb := range h.notebooks {
		if nb.NotebookType == typ && sameParent(nb.ParentID, parent) && strings.EqualFold(nb.Name, name) {
			return nb, false, nil
		}
	}
	order, err := h.tx.NextSortOrder(ctx, "notebooks", parent)
	if err != nil {
		return models.Notebook{}, false, err
	}
	nb, err := h.tx.CreateNotebook(ctx, models.Notebook{Name: name, ParentID: parent, NotebookType: typ, SortOrder: order})
	if err != nil {
		return models.Notebook{}, false, err
	}
	h.notebooks = append(h.notebooks, nb)
	return nb, true, nil
}

func (h *hierarchy) tag(ctx context.Context, name string, parent *int64) (models.Tag, bool, error) {
	name = strings.TrimSpace(name)
	for _, tg := range h.tags {
		if sameParent(tg.ParentID, parent) && strings.EqualFold(tg.Name, name) {
			return tg, false, nil
		}
	}
	order, err := h.tx.NextSortOrder(ctx, "tags", parent)
	if err != nil {
		return models.Tag{}, false, err
	}
	tg, err := h.tx.CreateTag(ctx, models.Tag{Name: name, ParentID: parent, SortOrder: order})
	if err != nil {
		return models.Tag{}, false, err
	}
	h.tags = append(h.tags, tg)
	return tg, true, nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
