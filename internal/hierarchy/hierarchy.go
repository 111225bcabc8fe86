// Package hierarchy orders and reparents nodes of a parent-pointer tree.
//
// The same engine serves notebooks (two levels: stacks at the root holding
// notebooks) and tags (arbitrary depth). A Tree is an in-memory snapshot; the
// caller loads it from storage, applies a move and persists the returned
// nodes.
package hierarchy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/models"
)

// Node is one entry of a hierarchy.
type Node struct {
	ID        int64
	ParentID  *int64
	Kind      string
	Name      string
	SortOrder float64
}

// Constraint vetoes placing node under parent (nil means root).
type Constraint func(node Node, parent *Node) error

// Position places a node relative to a target.
type Position string

const (
	Before Position = "before"
	After  Position = "after"
	Inside Position = "inside"
)

// ParsePosition validates a position name.
func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case Before, After, Inside:
		return p, nil
	}
	return "", fmt.Errorf("hierarchy: unknown position %q", s)
}

// Tree is a mutable snapshot of a hierarchy. Its methods are safe for
// concurrent use; Move and MoveRelative are serialized.
type Tree struct {
	mu         sync.RWMutex
	nodes      map[int64]*Node
	constraint Constraint
}

// Option configures a Tree.
type Option func(*Tree)

// WithConstraint installs a placement constraint checked on every move.
func WithConstraint(c Constraint) Option {
	return func(t *Tree) {
		t.constraint = c
	}
}

// New builds a tree from nodes. Later duplicates of an id replace earlier ones.
func New(nodes []Node, opts ...Option) *Tree {
	t := &Tree{nodes: make(map[int64]*Node, len(nodes))}
	for _, n := range nodes {
		n := n
		if n.ParentID != nil {
			p := *n.ParentID
			n.ParentID = &p
		}
		t.nodes[n.ID] = &n
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get returns a copy of the node with id.
func (t *Tree) Get(id int64) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return clone(n), true
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// OrderedChildren returns the children of parent (nil for root) sorted by
// (SortOrder, Name, ID). An empty kind matches every kind.
func (t *Tree) OrderedChildren(parent *int64, kind string) []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.children(parent, kind, 0, false)
}

// Walk returns every node in depth-first display order: each level ordered
// as OrderedChildren, children following their parent. Nodes whose parent is
// missing are treated as roots; nodes caught in a parent cycle come last.
func (t *Tree) Walk() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Node, 0, len(t.nodes))
	seen := make(map[int64]bool, len(t.nodes))
	var visit func(parent *int64)
	visit = func(parent *int64) {
		for _, c := range t.children(parent, "", 0, false) {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
			id := c.ID
			visit(&id)
		}
	}
	visit(nil)
	for _, n := range t.orphans() {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
		id := n.ID
		visit(&id)
	}
	if len(out) < len(t.nodes) {
		var rest []Node
		for _, n := range t.nodes {
			if !seen[n.ID] {
				rest = append(rest, clone(n))
			}
		}
		sortNodes(rest)
		out = append(out, rest...)
	}
	return out
}

// IsDescendant reports whether candidate is node itself or lies below it,
// walking candidate's parent chain upward. A parent cycle encountered on the
// way counts as a descendant so that no move can extend it.
func (t *Tree) IsDescendant(candidate, node int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isDescendant(candidate, node)
}

func (t *Tree) isDescendant(candidate, node int64) bool {
	visited := make(map[int64]bool)
	cur := candidate
	for {
		if cur == node {
			return true
		}
		if visited[cur] {
			return true
		}
		visited[cur] = true
		n, ok := t.nodes[cur]
		if !ok || n.ParentID == nil {
			return false
		}
		cur = *n.ParentID
	}
}

// Move reparents id under parent (nil for root) at index among its new
// same-kind siblings. Siblings are renumbered 0..n-1 in their new order.
// Rejected moves leave the tree untouched and return an *apperr.MoveError.
// The returned nodes are those whose parent or sort order changed.
func (t *Tree) Move(id int64, parent *int64, index int) ([]Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(id, parent, index)
}

func (t *Tree) move(id int64, parent *int64, index int) ([]Node, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("hierarchy: node %d: %w", id, apperr.ErrNotFound)
	}
	if err := t.checkPlacement(node, parent); err != nil {
		return nil, err
	}

	siblings := t.children(parent, node.Kind, id, true)
	index = max(0, min(index, len(siblings)))
	ordered := make([]int64, 0, len(siblings)+1)
	for _, s := range siblings[:index] {
		ordered = append(ordered, s.ID)
	}
	ordered = append(ordered, id)
	for _, s := range siblings[index:] {
		ordered = append(ordered, s.ID)
	}

	var changed []Node
	if !sameParent(node.ParentID, parent) {
		node.ParentID = copyID(parent)
		changed = append(changed, clone(node))
	}
	for i, sid := range ordered {
		n := t.nodes[sid]
		order := float64(i)
		if n.SortOrder == order {
			continue
		}
		n.SortOrder = order
		if sid == id && len(changed) > 0 && changed[0].ID == id {
			changed[0] = clone(n)
			continue
		}
		changed = append(changed, clone(n))
	}
	return changed, nil
}

// MoveRelative places id before or after target among target's siblings, or
// as the last child of target. Inside falls back to After when target cannot
// hold the node.
func (t *Tree) MoveRelative(id, target int64, pos Position) ([]Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("hierarchy: node %d: %w", id, apperr.ErrNotFound)
	}
	tgt, ok := t.nodes[target]
	if !ok {
		return nil, fmt.Errorf("hierarchy: target %d: %w", target, apperr.ErrNotFound)
	}
	if id == target {
		return nil, &apperr.MoveError{NodeID: id, ParentID: copyID(tgt.ParentID), Reason: "node cannot be placed relative to itself"}
	}

	if pos == Inside {
		if t.checkPlacement(node, &tgt.ID) == nil {
			return t.move(id, &tgt.ID, len(t.children(&tgt.ID, node.Kind, id, true)))
		}
		pos = After
	}

	parent := copyID(tgt.ParentID)
	siblings := t.children(parent, node.Kind, id, true)
	index := -1
	for i, s := range siblings {
		if s.ID == target {
			index = i
			break
		}
	}
	switch {
	case index >= 0 && pos == After:
		index++
	case index < 0:
		// target is of another kind; place by sort position.
		index = 0
		for _, s := range siblings {
			if less(s, *tgt) {
				index++
			}
		}
	}
	return t.move(id, parent, index)
}

func (t *Tree) checkPlacement(node *Node, parent *int64) error {
	reject := func(reason string) error {
		return &apperr.MoveError{NodeID: node.ID, ParentID: copyID(parent), Reason: reason}
	}
	var p *Node
	if parent != nil {
		if *parent == node.ID {
			return reject("node cannot be its own parent")
		}
		pn, ok := t.nodes[*parent]
		if !ok {
			return reject("parent does not exist")
		}
		if t.isDescendant(*parent, node.ID) {
			return reject("parent is a descendant of the node")
		}
		cp := clone(pn)
		p = &cp
	}
	if t.constraint != nil {
		if err := t.constraint(clone(node), p); err != nil {
			return reject(err.Error())
		}
	}
	return nil
}

// children must be called with t.mu held.
func (t *Tree) children(parent *int64, kind string, exclude int64, excluding bool) []Node {
	var out []Node
	for _, n := range t.nodes {
		if excluding && n.ID == exclude {
			continue
		}
		if kind != "" && n.Kind != kind {
			continue
		}
		if !sameParent(n.ParentID, parent) {
			continue
		}
		out = append(out, clone(n))
	}
	sortNodes(out)
	return out
}

// orphans are nodes whose parent id does not exist.
func (t *Tree) orphans() []Node {
	var out []Node
	for _, n := range t.nodes {
		if n.ParentID == nil {
			continue
		}
		if _, ok := t.nodes[*n.ParentID]; !ok {
			out = append(out, clone(n))
		}
	}
	sortNodes(out)
	return out
}

func sortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool { return less(nodes[i], nodes[j]) })
}

func less(a, b Node) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func clone(n *Node) Node {
	c := *n
	c.ParentID = copyID(n.ParentID)
	return c
}

var (
	errStackNotRoot   = errors.New("a stack must stay at the root")
	errParentNotStack = errors.New("a notebook can only be placed in a stack")
)

// NotebookConstraint enforces the two-level notebook tree: stacks live at the
// root and notebooks live at the root or inside a stack.
func NotebookConstraint(node Node, parent *Node) error {
	if parent == nil {
		return nil
	}
	if node.Kind == string(models.NotebookTypeStack) {
		return errStackNotRoot
	}
	if parent.Kind != string(models.NotebookTypeStack) {
		return errParentNotStack
	}
	return nil
}

// FromNotebooks converts notebooks to nodes.
func FromNotebooks(nbs []models.Notebook) []Node {
	out := make([]Node, len(nbs))
	for i, nb := range nbs {
		out[i] = Node{ID: nb.ID, ParentID: nb.ParentID, Kind: string(nb.NotebookType), Name: nb.Name, SortOrder: nb.SortOrder}
	}
	return out
}

// FromTags converts tags to nodes.
func FromTags(tags []models.Tag) []Node {
	out := make([]Node, len(tags))
	for i, tg := range tags {
		out[i] = Node{ID: tg.ID, ParentID: tg.ParentID, Kind: "tag", Name: tg.Name, SortOrder: tg.SortOrder}
	}
	return out
}
