// Package ivtree implements the in-memory interval search tree used while
// formatting an index.
//
// The tree covers a fixed span [lo, hi]. Each node owns a sub-span; a node's
// two conceptual halves are [lo, mid] and [mid+1, hi]. An interval is stored
// in the deepest node whose span contains it, so spans nest and the depth is
// bounded by log2(span / minimum bin width). Nodes are kept in an arena
// indexed by id; children are id lists.
package ivtree

import (
	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/inodb/genomeidx/internal/genomics"
)

// NoParent is the parent id of a root node.
const NoParent int32 = -1

// ErrOutOfSpan is returned when an interval does not fit in the tree span.
var ErrOutOfSpan = errors.New("interval outside tree span")

// Node is one bucket of the tree.
type Node[T any] struct {
	ID       int32
	Span     genomics.Range
	Parent   int32
	Children []int32
	Items    []T

	// retired is the subtree size of descendants already removed.
	retired int64
}

// Size returns the number of items stored in the node itself.
func (n *Node[T]) Size() int {
	return len(n.Items)
}

// Tree is an interval search tree over items of type T.
type Tree[T any] struct {
	span     genomics.Range
	minWidth int64
	root     int32
	nodes    []*Node[T]
	live     *btree.BTreeG[*Node[T]]
}

// lessByMaxEndpoint orders nodes by span end, then by larger span start, so
// the minimum is the node closest to being finished.
func lessByMaxEndpoint[T any](a, b *Node[T]) bool {
	if a.Span.End != b.Span.End {
		return a.Span.End < b.Span.End
	}
	if a.Span.Start != b.Span.Start {
		return a.Span.Start > b.Span.Start
	}
	return a.ID > b.ID
}

// New returns an empty tree covering span. Nodes narrower than or equal to
// minWidth positions are not subdivided.
func New[T any](span genomics.Range, minWidth int32) (*Tree[T], error) {
	if err := span.Validate(); err != nil {
		return nil, errors.Wrap(err, "tree span")
	}
	if minWidth < 1 {
		return nil, errors.Newf("minimum bin width %d must be positive", minWidth)
	}
	return &Tree[T]{
		span:     span,
		minWidth: int64(minWidth),
		root:     NoParent,
		live:     btree.NewG(16, lessByMaxEndpoint[T]),
	}, nil
}

// Span returns the span covered by the root.
func (t *Tree[T]) Span() genomics.Range {
	return t.span
}

// Len returns the number of live nodes.
func (t *Tree[T]) Len() int {
	return t.live.Len()
}

// Root returns the root node, or nil if the tree has none.
func (t *Tree[T]) Root() *Node[T] {
	return t.Node(t.root)
}

// Node returns the live node with the given id, or nil.
func (t *Tree[T]) Node(id int32) *Node[T] {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

func (t *Tree[T]) newNode(span genomics.Range, parent *Node[T]) *Node[T] {
	n := &Node[T]{ID: int32(len(t.nodes)), Span: span, Parent: NoParent}
	if parent != nil {
		n.Parent = parent.ID
		parent.Children = append(parent.Children, n.ID)
	}
	t.nodes = append(t.nodes, n)
	t.live.ReplaceOrInsert(n)
	return n
}

// Insert stores item under interval r and returns the node that received it.
func (t *Tree[T]) Insert(r genomics.Range, item T) (*Node[T], error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !t.span.Contains(r) {
		return nil, errors.Wrapf(ErrOutOfSpan, "%s not in %s", r, t.span)
	}

	n := t.Root()
	if n == nil {
		n = t.newNode(t.span, nil)
		t.root = n.ID
	}
	for n.Span.Length() > t.minWidth {
		lo, hi := n.Span.Start, n.Span.End
		mid := lo + (hi-lo)/2
		var half genomics.Range
		switch {
		case r.End <= mid:
			half = genomics.Range{Start: lo, End: mid}
		case r.Start > mid:
			half = genomics.Range{Start: mid + 1, End: hi}
		default:
			n.Items = append(n.Items, item)
			return n, nil
		}
		child := t.childWithSpan(n, half)
		if child == nil {
			child = t.newNode(half, n)
		}
		n = child
	}
	n.Items = append(n.Items, item)
	return n, nil
}

func (t *Tree[T]) childWithSpan(n *Node[T], span genomics.Range) *Node[T] {
	for _, id := range n.Children {
		if c := t.nodes[id]; c != nil && c.Span == span {
			return c
		}
	}
	return nil
}

// NodeWithSmallestMaxEndpoint returns the live node whose span ends first;
// among equal ends the one with the larger start wins.
func (t *Tree[T]) NodeWithSmallestMaxEndpoint() (*Node[T], bool) {
	return t.live.Min()
}

// SubtreeSize returns the number of items in the node and all of its
// descendants, including descendants already removed.
func (t *Tree[T]) SubtreeSize(id int32) int64 {
	n := t.Node(id)
	if n == nil {
		return 0
	}
	size := int64(n.Size()) + n.retired
	for _, c := range n.Children {
		size += t.SubtreeSize(c)
	}
	return size
}

// RemoveNode detaches a node from the tree. Its live children, if any, are
// re-linked to its parent and its items are counted in the parent's subtree
// size. A root with live children cannot be removed.
func (t *Tree[T]) RemoveNode(id int32) error {
	n := t.Node(id)
	if n == nil {
		return errors.Newf("node %d is not in the tree", id)
	}
	parent := t.Node(n.Parent)
	if parent == nil {
		if len(n.Children) > 0 {
			return errors.Newf("root node %d still has %d children", id, len(n.Children))
		}
		t.root = NoParent
	} else {
		kept := parent.Children[:0]
		for _, c := range parent.Children {
			if c != id {
				kept = append(kept, c)
			}
		}
		parent.Children = append(kept, n.Children...)
		for _, c := range n.Children {
			t.nodes[c].Parent = parent.ID
		}
		parent.retired += int64(n.Size()) + n.retired
	}
	t.live.Delete(n)
	t.nodes[id] = nil
	return nil
}

// Walk calls fn for every live node in id order until fn returns false.
func (t *Tree[T]) Walk(fn func(*Node[T]) bool) {
	for _, n := range t.nodes {
		if n != nil && !fn(n) {
			return
		}
	}
}
