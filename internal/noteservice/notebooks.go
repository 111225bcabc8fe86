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

// NotebookNode is a notebook or stack with its ordered children.
type NotebookNode struct {
	models.Notebook
	Children []NotebookNode `json:"children,omitempty"`
}

// NotebookTree returns stacks and unsorted notebooks in display order, each
// stack carrying its notebooks.
func (s *Service) NotebookTree(ctx context.Context) ([]NotebookNode, error) {
	nbs, err := s.db.ListNotebooks(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.Notebook, len(nbs))
	for _, nb := range nbs {
		byID[nb.ID] = nb
	}
	tree := hierarchy.New(hierarchy.FromNotebooks(nbs))
	var build func(parent *int64) []NotebookNode
	build = func(parent *int64) []NotebookNode {
		children := tree.OrderedChildren(parent, "")
		out := make([]NotebookNode, 0, len(children))
		for _, c := range children {
			node := NotebookNode{Notebook: byID[c.ID]}
			if c.Kind == string(models.NotebookTypeStack) {
				id := c.ID
				node.Children = build(&id)
			}
			out = append(out, node)
		}
		return out
	}
	return build(nil), nil
}

// CreateNotebookInput describes a new stack or notebook.
type CreateNotebookInput struct {
	Name     string              `json:"name"`
	ParentID *int64              `json:"parentId"`
	Type     models.NotebookType `json:"notebookType"`
}

// Validate checks the input fields.
func (in CreateNotebookInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.Type, validation.In(models.NotebookTypeStack, models.NotebookTypeNotebook)),
	)
}

// CreateNotebook appends a stack or notebook under its parent.
func (s *Service) CreateNotebook(ctx context.Context, in CreateNotebookInput) (models.Notebook, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Type == "" {
		in.Type = models.NotebookTypeNotebook
	}
	if err := in.Validate(); err != nil {
		return models.Notebook{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}

	s.notebookMu.Lock()
	defer s.notebookMu.Unlock()

	var created models.Notebook
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		node := hierarchy.Node{Kind: string(in.Type), Name: in.Name}
		var parent *hierarchy.Node
		if in.ParentID != nil {
			p, err := tx.GetNotebook(ctx, *in.ParentID)
			if err != nil {
				return err
			}
			parent = &hierarchy.Node{ID: p.ID, Kind: string(p.NotebookType), Name: p.Name}
		}
		if err := hierarchy.NotebookConstraint(node, parent); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
		}
		order, err := tx.NextSortOrder(ctx, "notebooks", in.ParentID)
		if err != nil {
			return err
		}
		created, err = tx.CreateNotebook(ctx, models.Notebook{
			Name:         in.Name,
			ParentID:     in.ParentID,
			NotebookType: in.Type,
			SortOrder:    order,
		})
		return err
	})
	if err != nil {
		return models.Notebook{}, err
	}
	s.notify("notebook.created", created)
	return created, nil
}

// RenameNotebook changes the name of a stack or notebook.
func (s *Service) RenameNotebook(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if err := validation.Validate(name, validation.Required, validation.Length(1, 255)); err != nil {
		return fmt.Errorf("%w: name: %v", apperr.ErrInvalidInput, err)
	}
	if err := s.db.RenameNotebook(ctx, id, name); err != nil {
		return err
	}
	s.notify("notebook.updated", map[string]any{"id": id, "name": name})
	return nil
}

// DeleteNotebook removes a stack or notebook. Notebooks of a deleted stack
// become unsorted and notes of a deleted notebook lose their notebook.
func (s *Service) DeleteNotebook(ctx context.Context, id int64) error {
	s.notebookMu.Lock()
	defer s.notebookMu.Unlock()

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		nb, err := tx.GetNotebook(ctx, id)
		if err != nil {
			return err
		}
		if nb.NotebookType != models.NotebookTypeStack {
			return tx.DeleteNotebook(ctx, id)
		}
		// Re-home the stack's notebooks after the existing unsorted ones.
		nbs, err := tx.ListNotebooks(ctx)
		if err != nil {
			return err
		}
		order, err := tx.NextSortOrder(ctx, "notebooks", nil)
		if err != nil {
			return err
		}
		tree := hierarchy.New(hierarchy.FromNotebooks(nbs))
		for _, child := range tree.OrderedChildren(&id, "") {
			if err := tx.SetNotebookPlacement(ctx, child.ID, nil, order); err != nil {
				return err
			}
			order++
		}
		return tx.DeleteNotebook(ctx, id)
	})
	if err != nil {
		return err
	}
	s.notify("notebook.deleted", map[string]any{"id": id})
	return nil
}

// MoveNotebook reparents a notebook or reorders a stack. parent nil means
// root; index is the position among same-kind siblings.
func (s *Service) MoveNotebook(ctx context.Context, id int64, parent *int64, index int) ([]models.Notebook, error) {
	return s.moveNotebook(ctx, func(t *hierarchy.Tree) ([]hierarchy.Node, error) {
		return t.Move(id, parent, index)
	})
}

// MoveNotebookRelative places a notebook before, after or inside target.
func (s *Service) MoveNotebookRelative(ctx context.Context, id, target int64, pos hierarchy.Position) ([]models.Notebook, error) {
	return s.moveNotebook(ctx, func(t *hierarchy.Tree) ([]hierarchy.Node, error) {
		return t.MoveRelative(id, target, pos)
	})
}

func (s *Service) moveNotebook(ctx context.Context, apply func(*hierarchy.Tree) ([]hierarchy.Node, error)) ([]models.Notebook, error) {
	s.notebookMu.Lock()
	defer s.notebookMu.Unlock()

	var changed []models.Notebook
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		nbs, err := tx.ListNotebooks(ctx)
		if err != nil {
			return err
		}
		tree := hierarchy.New(hierarchy.FromNotebooks(nbs), hierarchy.WithConstraint(hierarchy.NotebookConstraint))
		nodes, err := apply(tree)
		if err != nil {
			return err
		}
		byID := make(map[int64]models.Notebook, len(nbs))
		for _, nb := range nbs {
			byID[nb.ID] = nb
		}
		for _, n := range nodes {
			if err := tx.SetNotebookPlacement(ctx, n.ID, n.ParentID, n.SortOrder); err != nil {
				return err
			}
			nb := byID[n.ID]
			nb.ParentID, nb.SortOrder = n.ParentID, n.SortOrder
			changed = append(changed, nb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.notify("notebook.moved", changed)
	}
	return changed, nil
}
