package hierarchy

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/quire/internal/apperr"
)

func id(v int64) *int64 { return &v }

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

// notebookTree: stacks Work(1), Home(2); notebooks under Work: A(10), B(11), C(12); unsorted U(20).
func notebookTree() *Tree {
	return New([]Node{
		{ID: 1, Kind: "stack", Name: "Work", SortOrder: 0},
		{ID: 2, Kind: "stack", Name: "Home", SortOrder: 1},
		{ID: 10, ParentID: id(1), Kind: "notebook", Name: "A", SortOrder: 0},
		{ID: 11, ParentID: id(1), Kind: "notebook", Name: "B", SortOrder: 1},
		{ID: 12, ParentID: id(1), Kind: "notebook", Name: "C", SortOrder: 2},
		{ID: 20, Kind: "notebook", Name: "U", SortOrder: 0},
	}, WithConstraint(NotebookConstraint))
}

func TestOrderedChildren_SortOrderThenName(t *testing.T) {
	tr := New([]Node{
		{ID: 1, Kind: "tag", Name: "zeta", SortOrder: 1},
		{ID: 2, Kind: "tag", Name: "beta", SortOrder: 1},
		{ID: 3, Kind: "tag", Name: "alpha", SortOrder: 2},
		{ID: 4, Kind: "tag", Name: "omega", SortOrder: 0},
	})
	assert.Equal(t, []string{"omega", "beta", "zeta", "alpha"}, names(tr.OrderedChildren(nil, "")))
}

func TestOrderedChildren_KindFilter(t *testing.T) {
	tr := notebookTree()
	assert.Equal(t, []string{"Work", "Home"}, names(tr.OrderedChildren(nil, "stack")))
	assert.Equal(t, []string{"U"}, names(tr.OrderedChildren(nil, "notebook")))
	assert.Equal(t, []string{"A", "B", "C"}, names(tr.OrderedChildren(id(1), "notebook")))
}

func TestMove_ReindexesSiblings(t *testing.T) {
	tr := notebookTree()
	changed, err := tr.Move(12, id(1), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, names(tr.OrderedChildren(id(1), "notebook")))
	for i, n := range tr.OrderedChildren(id(1), "notebook") {
		assert.Equal(t, float64(i), n.SortOrder)
	}
	assert.Len(t, changed, 3)
}

func TestMove_ClampsIndexAndReparents(t *testing.T) {
	tr := notebookTree()
	changed, err := tr.Move(20, id(2), 99)
	require.NoError(t, err)
	n, _ := tr.Get(20)
	require.NotNil(t, n.ParentID)
	assert.Equal(t, int64(2), *n.ParentID)
	assert.Equal(t, float64(0), n.SortOrder)
	require.Len(t, changed, 1)
	assert.Equal(t, int64(20), changed[0].ID)
}

func TestMove_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		node   int64
		parent *int64
	}{
		{"own parent", 1, id(1)},
		{"stack under stack", 1, id(2)},
		{"notebook under notebook", 11, id(10)},
		{"missing parent", 10, id(999)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := notebookTree()
			before := tr.Walk()
			changed, err := tr.Move(tt.node, tt.parent, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrInvalidMove))
			var me *apperr.MoveError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.node, me.NodeID)
			assert.Nil(t, changed)
			assert.Equal(t, before, tr.Walk(), "rejected move must not change the tree")
		})
	}
}

func TestMove_UnknownNode(t *testing.T) {
	_, err := notebookTree().Move(404, nil, 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMove_TagCycleRejected(t *testing.T) {
	tr := New([]Node{
		{ID: 1, Kind: "tag", Name: "root"},
		{ID: 2, ParentID: id(1), Kind: "tag", Name: "child"},
		{ID: 3, ParentID: id(2), Kind: "tag", Name: "grandchild"},
	})
	_, err := tr.Move(1, id(3), 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidMove)

	_, err = tr.Move(3, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"grandchild", "root"}, names(tr.OrderedChildren(nil, "")))
}

func TestMoveRelative(t *testing.T) {
	t.Run("before", func(t *testing.T) {
		tr := notebookTree()
		_, err := tr.MoveRelative(12, 11, Before)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "C", "B"}, names(tr.OrderedChildren(id(1), "notebook")))
	})
	t.Run("after", func(t *testing.T) {
		tr := notebookTree()
		_, err := tr.MoveRelative(10, 11, After)
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "A", "C"}, names(tr.OrderedChildren(id(1), "notebook")))
	})
	t.Run("after from another parent", func(t *testing.T) {
		tr := notebookTree()
		_, err := tr.MoveRelative(20, 10, After)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "U", "B", "C"}, names(tr.OrderedChildren(id(1), "notebook")))
	})
	t.Run("inside appends", func(t *testing.T) {
		tr := notebookTree()
		_, err := tr.MoveRelative(20, 1, Inside)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C", "U"}, names(tr.OrderedChildren(id(1), "notebook")))
	})
	t.Run("inside a notebook falls back to after", func(t *testing.T) {
		tr := notebookTree()
		_, err := tr.MoveRelative(20, 10, Inside)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "U", "B", "C"}, names(tr.OrderedChildren(id(1), "notebook")))
	})
	t.Run("self", func(t *testing.T) {
		_, err := notebookTree().MoveRelative(10, 10, Before)
		assert.ErrorIs(t, err, apperr.ErrInvalidMove)
	})
}

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition("inside")
	require.NoError(t, err)
	assert.Equal(t, Inside, p)
	_, err = ParsePosition("below")
	assert.Error(t, err)
}

func TestWalk_DepthFirst(t *testing.T) {
	assert.Equal(t, []string{"U", "Work", "A", "B", "C", "Home"}, names(notebookTree().Walk()))
}

func TestIsDescendant_CycleInData(t *testing.T) {
	tr := New([]Node{
		{ID: 1, ParentID: id(2), Kind: "tag"},
		{ID: 2, ParentID: id(1), Kind: "tag"},
		{ID: 3, Kind: "tag"},
	})
	assert.True(t, tr.IsDescendant(1, 3), "a cycle is treated as unsafe")
	assert.Len(t, tr.Walk(), 3)
}

// randomForest builds an acyclic tag forest where each node's parent has a
// smaller id.
func randomForest(r *rand.Rand, n int) *Tree {
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i] = Node{ID: int64(i + 1), Kind: "tag", Name: string(rune('a' + i%26)), SortOrder: float64(r.IntN(5))}
		if i > 0 && r.IntN(4) != 0 {
			nodes[i].ParentID = id(int64(1 + r.IntN(i)))
		}
	}
	return New(nodes)
}

func TestProperties_Random(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 99))
	for round := 0; round < 100; round++ {
		n := 2 + r.IntN(20)
		tr := randomForest(r, n)

		for x := int64(1); x <= int64(n); x++ {
			assert.True(t, tr.IsDescendant(x, x), "reflexive")
			for y := int64(1); y <= int64(n); y++ {
				if x != y && tr.IsDescendant(x, y) {
					assert.False(t, tr.IsDescendant(y, x), "antisymmetric in a forest")
				}
				for z := int64(1); z <= int64(n); z++ {
					if tr.IsDescendant(x, y) && tr.IsDescendant(y, z) {
						assert.True(t, tr.IsDescendant(x, z), "transitive")
					}
				}
			}
		}

		for i := 0; i < 20; i++ {
			node := int64(1 + r.IntN(n))
			var parent *int64
			if r.IntN(5) != 0 {
				parent = id(int64(1 + r.IntN(n)))
			}
			unsafe := parent != nil && tr.IsDescendant(*parent, node)
			_, err := tr.Move(node, parent, r.IntN(n))
			if unsafe {
				assert.ErrorIs(t, err, apperr.ErrInvalidMove)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, tr.Walk(), n)
			for _, nd := range tr.Walk() {
				if nd.ParentID != nil {
					assert.False(t, tr.IsDescendant(*nd.ParentID, nd.ID), "no cycles after moves")
				}
			}
		}
	}
}
