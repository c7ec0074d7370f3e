/*package density deposits particle attributes onto the leaves of an octree.
*/
package density

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/phil-mansfield/dustgrid/catalog"
	"github.com/phil-mansfield/dustgrid/geom"
	"github.com/phil-mansfield/dustgrid/octree"
)

// DefaultConstantValue is the dust density used for constant grids.
const DefaultConstantValue = 4e-23

// Kind selects how a field is computed. The FieldSpec members which are used
// depend on the Kind.
type Kind int

const (
	// Mean is the weighted mean of Source, weighted by kernel weight, mass,
	// and (optionally) Weight.
	Mean Kind = iota
	// Density is Scale * sum(mass * Source) / volume. Source is optional.
	Density
	// Histogram deposits the per-particle Vector field Source and normalizes
	// each leaf's bins to fractions. It produces one field per bin.
	Histogram
	// Constant gives every leaf Value.
	Constant
)

func (k Kind) String() string {
	switch k {
	case Mean:
		return "Mean"
	case Density:
		return "Density"
	case Histogram:
		return "Histogram"
	case Constant:
		return "Constant"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fallback is the policy for leaves which no particle contributed to.
type Fallback int

const (
	// Zero leaves empty cells at zero.
	Zero Fallback = iota
	// Median fills empty cells with the median of the field's non-zero leaves.
	// Histogram bins are filled one at a time and each filled leaf is then
	// rescaled so its fractions sum to one.
	Median
)

// FieldSpec describes one requested field.
type FieldSpec struct {
	Name     string
	Kind     Kind
	Fallback Fallback

	Source string  // Mean, Density, Histogram
	Weight string  // Mean
	Scale  float64 // Density; zero is treated as one
	Value  float64 // Constant

	// RequireDeposit makes Deposit fail if no leaf receives any particles.
	RequireDeposit bool
}

// Fields maps field names to one value per leaf, indexed by octree.Node.Leaf.
type Fields map[string][]float64

// Names returns the sorted field names.
func (fs Fields) Names() []string {
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BinName returns the name of bin i of a Histogram field.
func BinName(name string, i int) string {
	return fmt.Sprintf("%s_%02d", name, i)
}

// Kernel weights the contribution of a particle at x to the leaf cell which
// contains it. Kernels must be deterministic.
type Kernel interface {
	Weight(cell geom.Box, x r3.Vec) float64
}

type ngp struct{}

func (ngp) Weight(cell geom.Box, x r3.Vec) float64 { return 1 }

// NearestGridPoint gives every particle full weight in the leaf containing it.
var NearestGridPoint Kernel = ngp{}

// Config controls deposition.
type Config struct {
	// Kernel defaults to NearestGridPoint.
	Kernel Kernel
	// Workers is the number of goroutines leaves are split between.
	// Non-positive values use runtime.NumCPU().
	Workers int
	Log     bool
}

// MissingAttributeError is returned when a field refers to an attribute that
// the catalog doesn't have.
type MissingAttributeError struct {
	Field, Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf(
		"Field '%s' requires the particle attribute '%s', but no particle "+
			"has it.", e.Field, e.Attribute,
	)
}

// ErrNothingDeposited is returned for fields with RequireDeposit set when
// every leaf is empty.
var ErrNothingDeposited = errors.New("no particles were deposited onto the octree")

// field is a FieldSpec which has been checked against a catalog.
type field struct {
	spec   FieldSpec
	src    []float64
	vec    *catalog.Vector
	weight []float64

	names   []string
	outs    [][]float64
	covered []bool
}

// Deposit computes every requested field on the leaves of tree.
func Deposit(
	tree *octree.Tree, cat *catalog.Catalog, specs []FieldSpec, cfg Config,
) (Fields, error) {
	if cfg.Kernel == nil {
		cfg.Kernel = NearestGridPoint
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	n := len(tree.Leaves)
	out := Fields{}
	fs := make([]*field, len(specs))
	for i := range specs {
		f, err := resolve(specs[i], cat, n)
		if err != nil {
			return nil, err
		}
		for j, name := range f.names {
			if _, ok := out[name]; ok {
				return nil, fmt.Errorf("The field name '%s' is used twice.", name)
			}
			out[name] = f.outs[j]
		}
		fs[i] = f
	}

	chunk := (n + workers - 1) / workers
	g := new(errgroup.Group)
	for low := 0; low < n; low += chunk {
		high := low + chunk
		if high > n {
			high = n
		}
		g.Go(func() error {
			var ws []float64
			for l := low; l < high; l++ {
				leaf := tree.Leaves[l]
				ws = weights(ws, leaf, cat, cfg.Kernel)
				for _, f := range fs {
					f.deposit(l, leaf, ws, cat)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, f := range fs {
		populated := 0
		for _, ok := range f.covered {
			if ok {
				populated++
			}
		}
		if populated == 0 && f.spec.RequireDeposit {
			return nil, fmt.Errorf(
				"Field '%s' on %d leaves: %w. Try a larger box or a smaller "+
					"refinement threshold.", f.spec.Name, n, ErrNothingDeposited,
			)
		}
		if cfg.Log {
			log.Printf(
				"Deposited %s field '%s': %d of %d leaves populated.",
				f.spec.Kind, f.spec.Name, populated, n,
			)
		}

		if f.spec.Fallback == Median {
			for _, vals := range f.outs {
				fillMedian(vals, f.covered)
			}
			if f.spec.Kind == Histogram {
				f.renormalize()
			}
		}
	}

	return out, nil
}

func resolve(spec FieldSpec, cat *catalog.Catalog, n int) (*field, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("A %s field was given no name.", spec.Kind)
	} else if spec.Weight != "" && spec.Kind != Mean {
		return nil, fmt.Errorf(
			"Field '%s' sets Weight, but only %s fields are weighted.",
			spec.Name, Mean,
		)
	}
	f := &field{spec: spec, covered: make([]bool, n)}

	switch spec.Kind {
	case Mean, Density:
		if spec.Kind == Mean && spec.Source == "" {
			return nil, fmt.Errorf("Mean field '%s' has no Source.", spec.Name)
		}
		if spec.Source != "" {
			src, err := scalar(cat, spec.Name, spec.Source)
			if err != nil {
				return nil, err
			}
			f.src = src
		}
		if spec.Weight != "" {
			w, err := scalar(cat, spec.Name, spec.Weight)
			if err != nil {
				return nil, err
			}
			f.weight = w
		}
		if f.spec.Scale == 0 {
			f.spec.Scale = 1
		}
		f.names = []string{spec.Name}

	case Histogram:
		raw, ok := cat.Field(spec.Source)
		if !ok {
			return nil, &MissingAttributeError{spec.Name, spec.Source}
		}
		vec, ok := raw.(*catalog.Vector)
		if !ok || vec.Width() == 0 {
			return nil, fmt.Errorf(
				"Histogram field '%s' needs a vector attribute, but '%s' "+
					"has one value per particle.", spec.Name, spec.Source,
			)
		}
		f.vec = vec
		for i := 0; i < vec.Width(); i++ {
			f.names = append(f.names, BinName(spec.Name, i))
		}

	case Constant:
		f.names = []string{spec.Name}

	default:
		return nil, fmt.Errorf(
			"Field '%s' has unrecognized kind %d.", spec.Name, int(spec.Kind),
		)
	}

	f.outs = make([][]float64, len(f.names))
	for i := range f.outs {
		f.outs[i] = make([]float64, n)
	}
	return f, nil
}

func scalar(cat *catalog.Catalog, name, attr string) ([]float64, error) {
	raw, ok := cat.Field(attr)
	if !ok {
		return nil, &MissingAttributeError{name, attr}
	}
	s, ok := raw.(*catalog.Scalar)
	if !ok {
		return nil, fmt.Errorf(
			"Field '%s' needs a scalar attribute, but '%s' has %d values "+
				"per particle.", name, attr, raw.Width(),
		)
	}
	return s.Data, nil
}

// weights returns kernel weight times mass for each particle in leaf,
// reusing buf.
func weights(
	buf []float64, leaf *octree.Node, cat *catalog.Catalog, k Kernel,
) []float64 {
	buf = buf[:0]
	for _, i := range leaf.Particles {
		buf = append(buf, k.Weight(leaf.Box, cat.Xs[i])*cat.Masses[i])
	}
	return buf
}

// deposit writes the value of leaf l. ws[j] is the weight of
// leaf.Particles[j].
func (f *field) deposit(
	l int, leaf *octree.Node, ws []float64, cat *catalog.Catalog,
) {
	switch f.spec.Kind {
	case Mean:
		num, den := 0.0, 0.0
		for j, i := range leaf.Particles {
			w := ws[j]
			if f.weight != nil {
				w *= f.weight[i]
			}
			num += w * f.src[i]
			den += w
		}
		if den > 0 {
			f.outs[0][l] = num / den
			f.covered[l] = true
		}

	case Density:
		sum, wsum := 0.0, 0.0
		for j, i := range leaf.Particles {
			a := 1.0
			if f.src != nil {
				a = f.src[i]
			}
			sum += ws[j] * a
			wsum += ws[j]
		}
		if wsum > 0 {
			f.outs[0][l] = f.spec.Scale * sum / leaf.Box.Volume()
			f.covered[l] = true
		}

	case Histogram:
		total := 0.0
		for b := range f.outs {
			s := 0.0
			for j, i := range leaf.Particles {
				s += ws[j] * f.vec.Row(i)[b]
			}
			f.outs[b][l] = s
			total += s
		}
		if total > 0 {
			for b := range f.outs {
				f.outs[b][l] /= total
			}
			f.covered[l] = true
		} else {
			for b := range f.outs {
				f.outs[b][l] = 0
			}
		}

	case Constant:
		f.outs[0][l] = f.spec.Value
		f.covered[l] = true
	}
}

// renormalize rescales the bins of every uncovered leaf to sum to one.
func (f *field) renormalize() {
	for l, ok := range f.covered {
		if ok {
			continue
		}
		total := 0.0
		for _, vals := range f.outs {
			total += vals[l]
		}
		if total > 0 {
			for _, vals := range f.outs {
				vals[l] /= total
			}
		}
	}
}

// fillMedian sets every uncovered leaf to the median of the non-zero values.
// If there are no non-zero values, uncovered leaves are left at zero.
func fillMedian(vals []float64, covered []bool) {
	nonzero := []float64{}
	for _, v := range vals {
		if v != 0 {
			nonzero = append(nonzero, v)
		}
	}
	if len(nonzero) == 0 {
		return
	}

	sort.Float64s(nonzero)
	med := stat.Quantile(0.5, stat.Empirical, nonzero, nil)
	for l := range vals {
		if !covered[l] {
			vals[l] = med
		}
	}
}
