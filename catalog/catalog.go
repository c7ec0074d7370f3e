/*package catalog holds the particle data that a mesh is built from: positions,
masses, and any number of named per-particle attributes.
*/
package catalog

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// MassField is the name under which Catalog.Field exposes particle masses.
const MassField = "mass"

// Catalog is a read-only collection of particles. Xs and Masses have one
// entry per particle and every Field has the same length.
type Catalog struct {
	Xs     []r3.Vec
	Masses []float64
	Fields map[string]Field
}

// Field is a named per-particle attribute.
type Field interface {
	// Len returns the number of particles the field describes.
	Len() int
	// Width returns the number of values stored for each particle.
	Width() int
}

// Type assertions
var (
	_ Field = &Scalar{}
	_ Field = &Vector{}
)

// Scalar is a Field with one value per particle (e.g. metallicity).
type Scalar struct {
	Data []float64
}

func (x *Scalar) Len() int   { return len(x.Data) }
func (x *Scalar) Width() int { return 1 }

// Vector is a Field with a fixed number of values per particle, stored
// row-major (e.g. a grain-size histogram).
type Vector struct {
	Data []float64
	N    int
}

// NewVector creates a Vector field from one row per particle. All rows must
// have the same length.
func NewVector(rows [][]float64) (*Vector, error) {
	if len(rows) == 0 {
		return &Vector{}, nil
	}
	n := len(rows[0])
	data := make([]float64, 0, n*len(rows))
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf(
				"Row %d of vector field has %d values, but row 0 has %d.",
				i, len(row), n,
			)
		}
		data = append(data, row...)
	}
	return &Vector{data, n}, nil
}

func (x *Vector) Len() int {
	if x.N == 0 {
		return 0
	}
	return len(x.Data) / x.N
}

func (x *Vector) Width() int { return x.N }

// Row returns the values associated with particle i. The returned slice
// aliases the field's storage.
func (x *Vector) Row(i int) []float64 { return x.Data[i*x.N : (i+1)*x.N] }

// New creates a catalog from positions and masses. Masses may be nil, in
// which case every particle has unit mass.
func New(xs []r3.Vec, masses []float64) (*Catalog, error) {
	if masses == nil {
		masses = make([]float64, len(xs))
		for i := range masses {
			masses[i] = 1
		}
	}
	if len(masses) != len(xs) {
		return nil, fmt.Errorf(
			"Catalog given %d positions but %d masses.", len(xs), len(masses),
		)
	}
	return &Catalog{xs, masses, map[string]Field{}}, nil
}

// Len returns the number of particles in the catalog.
func (cat *Catalog) Len() int { return len(cat.Xs) }

// Add attaches a named field to the catalog.
func (cat *Catalog) Add(name string, f Field) error {
	if name == MassField {
		return fmt.Errorf("The field name '%s' is reserved.", MassField)
	} else if _, ok := cat.Fields[name]; ok {
		return fmt.Errorf("Catalog already contains a field named '%s'.", name)
	} else if f.Len() != cat.Len() {
		return fmt.Errorf(
			"Field '%s' has %d entries, but the catalog has %d particles.",
			name, f.Len(), cat.Len(),
		)
	}
	cat.Fields[name] = f
	return nil
}

// Check returns an error if the catalog's masses or fields do not have one
// entry per particle. Catalogs built with New and Add always pass.
func (cat *Catalog) Check() error {
	if len(cat.Masses) != len(cat.Xs) {
		return fmt.Errorf(
			"Catalog has %d positions but %d masses.",
			len(cat.Xs), len(cat.Masses),
		)
	}
	for _, name := range cat.Names() {
		switch f := cat.Fields[name].(type) {
		case nil:
			return fmt.Errorf("Field '%s' is nil.", name)
		case *Vector:
			if f.N < 0 || (f.N == 0 && len(f.Data) > 0) ||
				(f.N > 0 && len(f.Data)%f.N != 0) {
				return fmt.Errorf(
					"Vector field '%s' has %d values, which cannot be split "+
						"into rows of %d.", name, len(f.Data), f.N,
				)
			}
		}
		if f := cat.Fields[name]; f.Len() != cat.Len() {
			return fmt.Errorf(
				"Field '%s' has %d entries, but the catalog has %d particles.",
				name, f.Len(), cat.Len(),
			)
		}
	}
	return nil
}

// Field returns the named field. The masses are available as MassField.
func (cat *Catalog) Field(name string) (Field, bool) {
	if name == MassField {
		return &Scalar{cat.Masses}, true
	}
	f, ok := cat.Fields[name]
	return f, ok
}

// Names returns the sorted names of all attached fields.
func (cat *Catalog) Names() []string {
	names := make([]string, 0, len(cat.Fields))
	for name := range cat.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
