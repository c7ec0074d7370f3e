package mesh

import (
	"fmt"

	"github.com/phil-mansfield/dustgrid/geom"
)

// IndexMap describes how to reorder a flattened mesh. Output flag k comes
// from input flag Nodes[k] and output leaf value k comes from input leaf
// value Leaves[k].
type IndexMap struct {
	Nodes, Leaves []int
}

// extents records, for each node, one past the last flag of its subtree and
// the number of leaves in that subtree. Entries are only meaningful at node
// start positions.
type extents struct {
	end, leaves []int
}

// frame is a refined node whose children are still being read.
type frame struct {
	start, leafStart, remaining int
}

// scan walks the flags depth-first without regard to octant codes: a
// subtree's extent doesn't depend on the order its children were written in.
func scan(flags []bool) (*extents, error) {
	n := len(flags)
	if n == 0 {
		return nil, &MalformedTreeError{
			Index: 0, Expected: 1, Actual: 0, Reason: "no root flag",
		}
	}

	ext := &extents{make([]int, n), make([]int, n)}
	stack := []frame{}
	i, leaf := 0, 0

	for {
		if i >= n {
			missing := 0
			for _, f := range stack {
				missing += f.remaining
			}
			return nil, &MalformedTreeError{
				Index: i, Expected: n + missing, Actual: n,
				Reason: "flags end before every refined node has 8 children",
			}
		}

		node := i
		i++
		if flags[node] {
			stack = append(stack, frame{node, leaf, geom.Octants})
			continue
		}

		ext.end[node], ext.leaves[node] = node+1, 1
		leaf++

		// Close every subtree that this leaf completes.
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			top.remaining--
			if top.remaining > 0 {
				break
			}
			ext.end[top.start] = i
			ext.leaves[top.start] = leaf - top.leafStart
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			break
		}
	}

	if i != n {
		return nil, &MalformedTreeError{
			Index: i, Expected: i, Actual: n,
			Reason: "flags continue after the root's subtree is complete",
		}
	}
	return ext, nil
}

// Reindex computes the index map which converts flags written in order from
// into flags written in order to.
func Reindex(flags []bool, from, to Order) (*IndexMap, error) {
	ext, err := scan(flags)
	if err != nil {
		return nil, err
	}

	perm := Permutation(from, to)
	im := &IndexMap{
		Nodes:  make([]int, 0, len(flags)),
		Leaves: make([]int, 0, ext.leaves[0]),
	}

	type pending struct{ node, leaf int }
	stack := []pending{{0, 0}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		im.Nodes = append(im.Nodes, p.node)
		if !flags[p.node] {
			im.Leaves = append(im.Leaves, p.leaf)
			continue
		}

		// Locate the children in the input's visitation order.
		var kids [geom.Octants]pending
		c, l := p.node+1, p.leaf
		for j := range kids {
			kids[j] = pending{c, l}
			c, l = ext.end[c], l+ext.leaves[c]
		}

		for k := geom.Octants - 1; k >= 0; k-- {
			stack = append(stack, kids[perm[k]])
		}
	}

	return im, nil
}

// Apply reorders m's flags and fields. The result is written in order to.
func (im *IndexMap) Apply(m *Mesh, to Order) (*Mesh, error) {
	if len(im.Nodes) != len(m.Refined) {
		return nil, &MalformedTreeError{
			Index: -1, Expected: len(m.Refined), Actual: len(im.Nodes),
			Reason: "index map does not cover every flag",
		}
	}

	out := &Mesh{
		Order:   to,
		Refined: make([]bool, len(m.Refined)),
		Fields:  make(map[string][]float64, len(m.Fields)),
	}
	for k, i := range im.Nodes {
		out.Refined[k] = m.Refined[i]
	}

	for _, name := range m.Names() {
		in := m.Fields[name]
		if len(in) != len(im.Leaves) {
			return nil, &MalformedTreeError{
				Index: -1, Field: name, Expected: len(im.Leaves), Actual: len(in),
				Reason: "field length does not match leaf count",
			}
		}
		vals := make([]float64, len(in))
		for k, l := range im.Leaves {
			vals[k] = in[l]
		}
		out.Fields[name] = vals
	}

	return out, nil
}

// Convert rewrites a mesh flattened in order from into order to. Flags and
// every field are permuted together, so each leaf keeps its values.
func Convert(m *Mesh, from, to Order) (*Mesh, error) {
	if m.Order.Name != "" && m.Order.Codes != from.Codes {
		return nil, fmt.Errorf(
			"Mesh is written in order %s, but conversion from %s was requested.",
			m.Order, from,
		)
	}

	im, err := Reindex(m.Refined, from, to)
	if err != nil {
		return nil, err
	}
	return im.Apply(m, to)
}
