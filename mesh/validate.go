package mesh

import (
	"github.com/phil-mansfield/dustgrid/geom"
)

// Validate checks that m.Refined describes exactly one complete octree no
// deeper than maxDepth and that every field has one entry per leaf. It must
// be run on every reordered mesh before it is written out. A negative
// maxDepth disables the depth check.
func Validate(m *Mesh, maxDepth int) error {
	st, err := walk(m.Refined)
	if err != nil {
		return err
	}

	if maxDepth >= 0 && st.MaxDepth > maxDepth {
		return &MalformedTreeError{
			Index: st.deepest, Expected: maxDepth, Actual: st.MaxDepth,
			Reason: "octree is deeper than the maximum depth",
		}
	}

	for _, name := range m.Names() {
		if n := len(m.Fields[name]); n != st.Leaves {
			return &MalformedTreeError{
				Index: -1, Field: name, Expected: st.Leaves, Actual: n,
				Reason: "field length does not match leaf count",
			}
		}
	}
	return nil
}

// walk tallies the tree implied by flags. Each flag fills one open child
// slot and a refined flag opens eight more; the tree is complete when no
// slots are open.
func walk(flags []bool) (*Stats, error) {
	st := &Stats{}
	// open[d] is the number of unfilled child slots at depth d.
	open := []int{1}
	depth := 0

	for i, r := range flags {
		if depth < 0 {
			return nil, &MalformedTreeError{
				Index: i, Expected: i, Actual: len(flags),
				Reason: "flags continue after the root's subtree is complete",
			}
		}

		open[depth]--
		st.Nodes++
		if depth > st.MaxDepth {
			st.MaxDepth, st.deepest = depth, i
		}

		if r {
			st.Refined++
			depth++
			if depth == len(open) {
				open = append(open, 0)
			}
			open[depth] = geom.Octants
			continue
		}

		st.Leaves++
		for depth >= 0 && open[depth] == 0 {
			depth--
		}
	}

	if depth >= 0 {
		missing := 0
		for d := 0; d <= depth; d++ {
			missing += open[d]
		}
		return nil, &MalformedTreeError{
			Index: len(flags), Expected: len(flags) + missing, Actual: len(flags),
			Reason: "flags end before every refined node has 8 children",
		}
	}

	return st, nil
}
