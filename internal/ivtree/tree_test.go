package ivtree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/genomeidx/internal/genomics"
)

func rng(start, end int32) genomics.Range {
	return genomics.Range{Start: start, End: end}
}

// checkConsistency verifies span nesting, parent links and that the
// subtree sizes of the live roots add up to want.
func checkConsistency[T any](t *testing.T, tree *Tree[T], want int64) {
	t.Helper()
	var total int64
	tree.Walk(func(n *Node[T]) bool {
		for _, c := range n.Children {
			child := tree.Node(c)
			require.NotNil(t, child, "node %d lists missing child %d", n.ID, c)
			assert.Equal(t, n.ID, child.Parent)
			assert.True(t, n.Span.Contains(child.Span), "child %s escapes parent %s", child.Span, n.Span)
		}
		if n.Parent == NoParent {
			total += tree.SubtreeSize(n.ID)
		} else {
			assert.NotNil(t, tree.Node(n.Parent), "node %d orphaned", n.ID)
		}
		return true
	})
	assert.Equal(t, want, total)
}

func TestNew_Validation(t *testing.T) {
	_, err := New[int](rng(10, 5), 1)
	assert.True(t, errors.Is(err, genomics.ErrInvalidRange))

	_, err = New[int](rng(1, 100), 0)
	assert.Error(t, err)
}

func TestInsert_Containment(t *testing.T) {
	tree, err := New[string](rng(1, 1000), 1)
	require.NoError(t, err)

	for _, r := range []genomics.Range{rng(1, 10), rng(5, 15), rng(400, 600), rng(999, 1000), rng(1, 1000)} {
		n, err := tree.Insert(r, r.String())
		require.NoError(t, err)
		assert.True(t, n.Span.Contains(r), "node %s does not contain %s", n.Span, r)
	}
	assert.Equal(t, rng(1, 1000), tree.Root().Span)
	checkConsistency(t, tree, 5)
}

func TestInsert_Rejects(t *testing.T) {
	tree, err := New[int](rng(100, 200), 1)
	require.NoError(t, err)

	_, err = tree.Insert(rng(50, 150), 0)
	assert.True(t, errors.Is(err, ErrOutOfSpan))

	_, err = tree.Insert(rng(150, 140), 0)
	assert.True(t, errors.Is(err, genomics.ErrInvalidRange))

	_, err = tree.Insert(rng(-1, 140), 0)
	assert.True(t, errors.Is(err, genomics.ErrInvalidRange))
	assert.Nil(t, tree.Root(), "rejected inserts create no nodes")
}

func TestInsert_MinWidthStopsSubdivision(t *testing.T) {
	tree, err := New[int](rng(1, 1024), 256)
	require.NoError(t, err)

	n, err := tree.Insert(rng(3, 3), 1)
	require.NoError(t, err)
	assert.Equal(t, rng(1, 256), n.Span)

	// depth of the point interval path: 1024 -> 512 -> 256
	assert.Equal(t, 3, tree.Len())
}

func TestInsert_SharesNodes(t *testing.T) {
	tree, err := New[int](rng(1, 100), 1)
	require.NoError(t, err)

	a, err := tree.Insert(rng(10, 40), 1)
	require.NoError(t, err)
	b, err := tree.Insert(rng(11, 39), 2)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "compatible ranges share a node")
	assert.Equal(t, []int{1, 2}, b.Items, "items keep insertion order")
}

func TestNodeWithSmallestMaxEndpoint(t *testing.T) {
	tree, err := New[int](rng(1, 100), 1)
	require.NoError(t, err)

	_, ok := tree.NodeWithSmallestMaxEndpoint()
	assert.False(t, ok)

	_, err = tree.Insert(rng(60, 70), 0)
	require.NoError(t, err)
	_, err = tree.Insert(rng(1, 100), 0)
	require.NoError(t, err)

	// Walking the minimum off repeatedly yields non-decreasing ends, and
	// children always come before their parents.
	var lastEnd int32
	for tree.Len() > 0 {
		n, ok := tree.NodeWithSmallestMaxEndpoint()
		require.True(t, ok)
		assert.GreaterOrEqual(t, n.Span.End, lastEnd)
		assert.Empty(t, n.Children, "node %s flushed before its children", n.Span)
		lastEnd = n.Span.End
		require.NoError(t, tree.RemoveNode(n.ID))
	}
	assert.Nil(t, tree.Root())
}

func TestNodeWithSmallestMaxEndpoint_TieBreak(t *testing.T) {
	tree, err := New[int](rng(1, 100), 1)
	require.NoError(t, err)

	// [51,100] and its right descendants all end at 100
	_, err = tree.Insert(rng(90, 100), 0)
	require.NoError(t, err)

	n, ok := tree.NodeWithSmallestMaxEndpoint()
	require.True(t, ok)
	assert.Equal(t, int32(100), n.Span.End)
	tree.Walk(func(other *Node[int]) bool {
		if other.Span.End == 100 {
			assert.GreaterOrEqual(t, n.Span.Start, other.Span.Start)
		}
		return true
	})
}

func TestRemoveNode_FoldsSubtreeSize(t *testing.T) {
	tree, err := New[int](rng(1, 100), 1)
	require.NoError(t, err)

	leaf, err := tree.Insert(rng(2, 3), 0)
	require.NoError(t, err)
	_, err = tree.Insert(rng(2, 2), 0)
	require.NoError(t, err)
	_, err = tree.Insert(rng(40, 60), 0)
	require.NoError(t, err)
	root := tree.Root()
	require.Equal(t, int64(3), tree.SubtreeSize(root.ID))

	require.NoError(t, tree.RemoveNode(leaf.ID))
	assert.Nil(t, tree.Node(leaf.ID))
	assert.Equal(t, int64(3), tree.SubtreeSize(root.ID), "removed items still count")

	assert.Error(t, tree.RemoveNode(leaf.ID), "already removed")
	assert.Error(t, tree.RemoveNode(root.ID), "root with live children")
}

func TestRemoveNode_RelinksChildren(t *testing.T) {
	tree, err := New[int](rng(1, 64), 1)
	require.NoError(t, err)

	deep, err := tree.Insert(rng(1, 1), 0)
	require.NoError(t, err)
	mid, err := tree.Insert(rng(1, 16), 0)
	require.NoError(t, err)
	require.NotEqual(t, deep.ID, mid.ID)

	midParent := mid.Parent
	require.NoError(t, tree.RemoveNode(mid.ID))

	// every live descendant of the removed node is still reachable
	checkConsistency(t, tree, 2)
	tree.Walk(func(n *Node[int]) bool {
		if n.Span == rng(1, 8) {
			assert.Equal(t, midParent, n.Parent, "child re-linked to grandparent")
		}
		return true
	})
}

func TestScenario_OverlappingThenDisjoint(t *testing.T) {
	tree, err := New[genomics.Range](rng(1, 25), 1)
	require.NoError(t, err)

	var flushed []genomics.Range
	flushBefore := func(start int32) {
		for {
			n, ok := tree.NodeWithSmallestMaxEndpoint()
			if !ok || n.Span.End >= start {
				return
			}
			flushed = append(flushed, n.Items...)
			require.NoError(t, tree.RemoveNode(n.ID))
		}
	}

	for _, r := range []genomics.Range{rng(1, 10), rng(5, 15), rng(20, 25)} {
		flushBefore(r.Start)
		n, err := tree.Insert(r, r)
		require.NoError(t, err)
		assert.True(t, n.Span.Contains(r))
	}
	// (1,10) can only be flushed once an interval starting after 10 arrives
	assert.Equal(t, []genomics.Range{rng(1, 10)}, flushed)
	checkConsistency(t, tree, 3)
}

func TestRandomInsert_SubtreeSizes(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	tree, err := New[int](rng(1, 1_000_000), 64)
	require.NoError(t, err)

	starts := make([]int, 2000)
	for i := range starts {
		starts[i] = 1 + r.Intn(990_000)
	}
	sort.Ints(starts)
	for i, s := range starts {
		_, err := tree.Insert(rng(int32(s), int32(s+r.Intn(10_000))), i)
		require.NoError(t, err)
	}
	checkConsistency(t, tree, int64(len(starts)))
}
