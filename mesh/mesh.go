/*package mesh contains the flattened octree representation which is handed to
the radiative transfer code, along with the functions that build, reorder, and
check it.

A flattened mesh is a depth-first list of refinement flags together with one
array per field holding a value for every leaf. The root always occupies the
first flag: a tree which is a single leaf is Refined = [false], and a tree
whose root was split once is [true, false x 8]. No implicit leading "true" is
ever added or removed.
*/
package mesh

import (
	"fmt"
	"sort"

	"github.com/phil-mansfield/dustgrid/geom"
)

// Order is a traversal order: the sequence of octant codes in which the
// children of a refined node are visited.
type Order struct {
	Name  string
	Codes [geom.Octants]int
}

var (
	// ZYX visits children with z varying fastest. This is the order trees are
	// natively built in.
	ZYX = Order{"ZYX", [geom.Octants]int{0, 4, 2, 6, 1, 5, 3, 7}}
	// XYZ visits children with x varying fastest. This is the order the
	// radiative transfer code reads.
	XYZ = Order{"XYZ", [geom.Octants]int{0, 1, 2, 3, 4, 5, 6, 7}}

	Native = ZYX
	Target = XYZ
)

// NewOrder creates a custom traversal order. codes must be a permutation of
// the octant codes 0-7.
func NewOrder(name string, codes [geom.Octants]int) (Order, error) {
	seen := [geom.Octants]bool{}
	for _, c := range codes {
		if c < 0 || c >= geom.Octants || seen[c] {
			return Order{}, fmt.Errorf(
				"Order '%s' has codes %v, which is not a permutation of 0-7.",
				name, codes,
			)
		}
		seen[c] = true
	}
	return Order{name, codes}, nil
}

// OrderByName returns one of the built-in orders.
func OrderByName(name string) (Order, bool) {
	switch name {
	case ZYX.Name:
		return ZYX, true
	case XYZ.Name:
		return XYZ, true
	}
	return Order{}, false
}

func (o Order) String() string { return o.Name }

// Permutation returns, for each position k in to's visitation sequence, the
// position in from's visitation sequence of the same child.
func Permutation(from, to Order) [geom.Octants]int {
	pos := [geom.Octants]int{}
	for j, c := range from.Codes {
		pos[c] = j
	}
	perm := [geom.Octants]int{}
	for k, c := range to.Codes {
		perm[k] = pos[c]
	}
	return perm
}

// Mesh is a flattened octree.
type Mesh struct {
	Order   Order
	Refined []bool
	// Fields maps each field name to one value per leaf, in the order that
	// leaves appear in Refined.
	Fields map[string][]float64
}

// Names returns the sorted field names.
func (m *Mesh) Names() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Leaves returns the number of false entries in Refined.
func (m *Mesh) Leaves() int {
	n := 0
	for _, r := range m.Refined {
		if !r {
			n++
		}
	}
	return n
}

// AddField attaches a leaf field to the mesh. It must have one entry per leaf.
func (m *Mesh) AddField(name string, vals []float64) error {
	if _, ok := m.Fields[name]; ok {
		return fmt.Errorf("Mesh already has a field named '%s'.", name)
	} else if leaves := m.Leaves(); len(vals) != leaves {
		return &MalformedTreeError{
			Index: -1, Field: name, Expected: leaves, Actual: len(vals),
			Reason: "field length does not match leaf count",
		}
	}
	if m.Fields == nil {
		m.Fields = map[string][]float64{}
	}
	m.Fields[name] = vals
	return nil
}

// MalformedTreeError reports a flag array which does not describe a complete
// octree, or a field which does not line up with it.
type MalformedTreeError struct {
	// Index is the flag position the problem was found at, or -1.
	Index int
	// Field is set when a field's length is wrong.
	Field            string
	Expected, Actual int
	Reason           string
}

func (e *MalformedTreeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf(
			"Malformed octree: %s: field '%s' has %d entries, expected %d.",
			e.Reason, e.Field, e.Actual, e.Expected,
		)
	}
	return fmt.Sprintf(
		"Malformed octree at flag %d: %s (expected %d, got %d).",
		e.Index, e.Reason, e.Expected, e.Actual,
	)
}
