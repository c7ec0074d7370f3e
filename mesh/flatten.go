package mesh

import (
	"github.com/phil-mansfield/dustgrid/density"
	"github.com/phil-mansfield/dustgrid/octree"
)

// Flatten walks tree depth-first in the given order and returns its flags
// along with each field rearranged into leaf-visitation order. fields must be
// indexed by octree.Node.Leaf.
func Flatten(tree *octree.Tree, order Order, fields density.Fields) (*Mesh, error) {
	names := fields.Names()
	for _, name := range names {
		if len(fields[name]) != len(tree.Leaves) {
			return nil, &MalformedTreeError{
				Index: -1, Field: name,
				Expected: len(tree.Leaves), Actual: len(fields[name]),
				Reason: "deposited field does not match the octree",
			}
		}
	}

	m := &Mesh{
		Order:   order,
		Refined: make([]bool, 0, tree.Nodes),
		Fields:  make(map[string][]float64, len(names)),
	}
	for _, name := range names {
		m.Fields[name] = make([]float64, 0, len(tree.Leaves))
	}

	stack := []*octree.Node{tree.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		m.Refined = append(m.Refined, !n.IsLeaf())
		if n.IsLeaf() {
			for _, name := range names {
				m.Fields[name] = append(m.Fields[name], fields[name][n.Leaf])
			}
			continue
		}

		for k := len(order.Codes) - 1; k >= 0; k-- {
			stack = append(stack, n.Children[order.Codes[k]])
		}
	}

	return m, nil
}
