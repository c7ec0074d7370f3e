/*package octree builds adaptive octrees over particle positions.
*/
package octree

import (
	"fmt"
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/phil-mansfield/dustgrid/geom"
)

// DepthCeiling is the deepest level a node can be refined to, regardless of
// what the refinement criterion asks for. Without it, duplicate particle
// positions would recurse forever.
const DepthCeiling = 32

// RefineFunc decides whether a node containing occupancy particles at the
// given depth should be split into eight children.
type RefineFunc func(occupancy, depth int) bool

// NRef returns the usual particle-count criterion: split any node holding
// more than nRef particles, unless it is already at maxLevel.
func NRef(nRef, maxLevel int) RefineFunc {
	return func(occupancy, depth int) bool {
		return occupancy > nRef && depth < maxLevel
	}
}

// Config controls tree construction.
type Config struct {
	// Workers is the number of goroutines used to build the root's subtrees.
	// Non-positive values use runtime.NumCPU().
	Workers int
	Log     bool
}

// Node is one cubical (or rectangular) region of the tree. A node has either
// zero or eight children.
type Node struct {
	Box   geom.Box
	Depth int

	// Children is indexed by octant code and is nil for leaves.
	Children *[geom.Octants]*Node
	// Particles holds the catalog indices inside a leaf.
	Particles []int
	// Leaf is the index of this leaf in Tree.Leaves, or -1.
	Leaf int
}

// IsLeaf returns true if the node has no children.
func (n *Node) IsLeaf() bool { return n.Children == nil }

// Tree is a built octree. Leaves lists every leaf in depth-first order with
// children visited by increasing octant code.
type Tree struct {
	Root     *Node
	Leaves   []*Node
	Nodes    int
	MaxDepth int

	// Warnings records every node that was forced to be a leaf by
	// DepthCeiling.
	Warnings []MaxDepthExceeded
}

// OutOfBoundsError is returned when a particle lies outside the box an
// octree is being built over.
type OutOfBoundsError struct {
	Index int
	X     r3.Vec
	Box   geom.Box
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf(
		"Particle %d at (%g, %g, %g) is outside the bounding box %v.",
		e.Index, e.X.X, e.X.Y, e.X.Z, e.Box,
	)
}

// MaxDepthExceeded describes a node which the refinement criterion wanted to
// split at DepthCeiling. The node is kept as a leaf.
type MaxDepthExceeded struct {
	Depth, Occupancy int
	Box              geom.Box
}

func (w MaxDepthExceeded) Error() string {
	return fmt.Sprintf(
		"Node %v at depth %d still holds %d particles but cannot be "+
			"refined past depth %d.", w.Box, w.Depth, w.Occupancy, DepthCeiling,
	)
}

type builder struct {
	xs     []r3.Vec
	refine RefineFunc
}

// Build constructs an octree over xs within box. Every point must lie inside
// box.
func Build(
	xs []r3.Vec, box geom.Box, refine RefineFunc, cfg Config,
) (*Tree, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("Cannot build an octree over zero particles.")
	} else if !box.Valid() {
		return nil, fmt.Errorf("Bounding box %v has a non-positive width.", box)
	}

	for i := range xs {
		if !box.Contains(xs[i]) {
			return nil, &OutOfBoundsError{i, xs[i], box}
		}
	}

	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}

	b := &builder{xs, refine}
	root := &Node{Box: box, Leaf: -1}
	tree := &Tree{Root: root}

	parts, ok := b.split(root, idx, &tree.Warnings)
	if ok {
		workers := cfg.Workers
		if workers <= 0 {
			workers = runtime.NumCPU()
		}

		// Each subtree writes only to its own nodes and warning list.
		warns := make([][]MaxDepthExceeded, geom.Octants)
		g := new(errgroup.Group)
		g.SetLimit(workers)
		for code := range parts {
			g.Go(func() error {
				b.build(root.Children[code], parts[code], &warns[code])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for code := range warns {
			tree.Warnings = append(tree.Warnings, warns[code]...)
		}
	}

	tree.index()

	if cfg.Log {
		log.Printf(
			"Built octree: %d nodes, %d leaves, max depth %d.",
			tree.Nodes, len(tree.Leaves), tree.MaxDepth,
		)
		for _, w := range tree.Warnings {
			log.Printf("Warning: %s", w.Error())
		}
	}

	return tree, nil
}

func (b *builder) build(n *Node, idx []int, warns *[]MaxDepthExceeded) {
	parts, ok := b.split(n, idx, warns)
	if !ok {
		return
	}
	for code := range parts {
		b.build(n.Children[code], parts[code], warns)
	}
}

// split either turns n into a leaf holding idx and returns false, or creates
// n's children and returns the particles belonging to each of them.
func (b *builder) split(
	n *Node, idx []int, warns *[]MaxDepthExceeded,
) (parts [geom.Octants][]int, ok bool) {
	if !b.refine(len(idx), n.Depth) {
		n.Particles = idx
		return parts, false
	} else if n.Depth >= DepthCeiling {
		n.Particles = idx
		*warns = append(*warns, MaxDepthExceeded{n.Depth, len(idx), n.Box})
		return parts, false
	}

	counts := [geom.Octants]int{}
	codes := make([]uint8, len(idx))
	for j, i := range idx {
		code := n.Box.OctantOf(b.xs[i])
		codes[j] = uint8(code)
		counts[code]++
	}
	for code := range parts {
		parts[code] = make([]int, 0, counts[code])
	}
	for j, i := range idx {
		parts[codes[j]] = append(parts[codes[j]], i)
	}

	n.Children = &[geom.Octants]*Node{}
	for code := range n.Children {
		n.Children[code] = &Node{
			Box: n.Box.Octant(code), Depth: n.Depth + 1, Leaf: -1,
		}
	}

	return parts, true
}

// index assigns leaf IDs and tallies node counts.
func (t *Tree) index() {
	t.Leaves, t.Nodes, t.MaxDepth = t.Leaves[:0], 0, 0
	t.Walk(func(n *Node) {
		t.Nodes++
		if n.Depth > t.MaxDepth {
			t.MaxDepth = n.Depth
		}
		if n.IsLeaf() {
			n.Leaf = len(t.Leaves)
			t.Leaves = append(t.Leaves, n)
		}
	})
}

// Walk visits every node depth-first, parents before children and children by
// increasing octant code.
func (t *Tree) Walk(visit func(n *Node)) {
	stack := []*Node{t.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(n)
		if n.IsLeaf() {
			continue
		}
		for code := geom.Octants - 1; code >= 0; code-- {
			stack = append(stack, n.Children[code])
		}
	}
}
