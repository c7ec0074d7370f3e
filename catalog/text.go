package catalog

import (
	"fmt"
	"sort"

	"github.com/phil-mansfield/table"
	"gonum.org/v1/gonum/spatial/r3"
)

// Columns describes where each quantity lives in a whitespace-separated text
// catalog. Column indices start at 0. A negative Mass column gives every
// particle unit mass.
type Columns struct {
	X, Y, Z, Mass int

	// Scalars maps attribute names to single columns.
	Scalars map[string]int
	// Vectors maps attribute names to an inclusive [first, last] column range.
	Vectors map[string][2]int
}

// DefaultColumns reads x, y, z, and mass from the first four columns.
func DefaultColumns() Columns {
	return Columns{X: 0, Y: 1, Z: 2, Mass: 3}
}

// ReadText reads a text catalog with one particle per row.
func ReadText(fname string, cols Columns) (*Catalog, error) {
	idxs := []int{cols.X, cols.Y, cols.Z}
	if cols.Mass >= 0 {
		idxs = append(idxs, cols.Mass)
	}

	scalarNames := sortedKeys(cols.Scalars)
	for _, name := range scalarNames {
		idxs = append(idxs, cols.Scalars[name])
	}

	vectorNames := make([]string, 0, len(cols.Vectors))
	for name, r := range cols.Vectors {
		if r[1] < r[0] || r[0] < 0 {
			return nil, fmt.Errorf(
				"Column range [%d, %d] of attribute '%s' is empty.",
				r[0], r[1], name,
			)
		}
		vectorNames = append(vectorNames, name)
	}
	sort.Strings(vectorNames)
	for _, name := range vectorNames {
		r := cols.Vectors[name]
		for c := r[0]; c <= r[1]; c++ {
			idxs = append(idxs, c)
		}
	}

	data, err := table.ReadTable(fname, idxs, nil)
	if err != nil {
		return nil, err
	}

	n := len(data[0])
	xs := make([]r3.Vec, n)
	for i := range xs {
		xs[i] = r3.Vec{X: data[0][i], Y: data[1][i], Z: data[2][i]}
	}
	next := 3

	var masses []float64
	if cols.Mass >= 0 {
		masses = data[next]
		next++
	}

	cat, err := New(xs, masses)
	if err != nil {
		return nil, err
	}

	for _, name := range scalarNames {
		if err := cat.Add(name, &Scalar{data[next]}); err != nil {
			return nil, err
		}
		next++
	}

	for _, name := range vectorNames {
		r := cols.Vectors[name]
		width := r[1] - r[0] + 1
		v := &Vector{make([]float64, n*width), width}
		for j := 0; j < width; j++ {
			col := data[next+j]
			for i := 0; i < n; i++ {
				v.Data[i*width+j] = col[i]
			}
		}
		next += width

		if err := cat.Add(name, v); err != nil {
			return nil, err
		}
	}

	return cat, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
