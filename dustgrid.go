/*package dustgrid turns a particle catalog into a flattened octree mesh which
a radiative transfer code can read.

A Manager runs one snapshot through the full pipeline: the octree is built
over the particle positions, fields are deposited onto its leaves, the tree
is flattened in its native traversal order, converted to the target order,
and checked before it is handed back.
*/
package dustgrid

import (
	"fmt"
	"log"
	"runtime"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/phil-mansfield/dustgrid/catalog"
	"github.com/phil-mansfield/dustgrid/density"
	"github.com/phil-mansfield/dustgrid/geom"
	"github.com/phil-mansfield/dustgrid/mesh"
	"github.com/phil-mansfield/dustgrid/octree"
)

const (
	DefaultNRef     = 32
	DefaultMaxLevel = 20
)

// Split divides an already deposited field between several populations,
// e.g. the PAH size fractions. See density.Split.
type Split struct {
	Field     string
	Fractions map[string]float64
}

// Config holds every parameter of a pipeline run.
type Config struct {
	Box geom.Box

	// Leaves holding more than NRef particles are split until MaxLevel is
	// reached.
	NRef, MaxLevel int
	// MaxDepth is the deepest mesh the validator accepts. Negative values
	// disable the check.
	MaxDepth int

	Specs  []density.FieldSpec
	Splits []Split
	Kernel density.Kernel

	Target mesh.Order

	Workers  int
	Reporter mesh.Reporter
	Log      bool
}

// Bounds returns the box used for a snapshot with the given center and
// limit. The box spans twice the limit in every direction.
func Bounds(center r3.Vec, lim float64) geom.Box {
	return geom.Cube(center, 2*lim)
}

// DefaultConfig returns a Config with everything but the box and the field
// specifications filled in.
func DefaultConfig() Config {
	return Config{
		NRef:     DefaultNRef,
		MaxLevel: DefaultMaxLevel,
		MaxDepth: octree.DepthCeiling,
		Kernel:   density.NearestGridPoint,
		Target:   mesh.Target,
		Workers:  runtime.NumCPU(),
	}
}

// Manager runs catalogs through the pipeline.
type Manager struct {
	cfg Config
}

// NewManager checks cfg and returns a Manager which uses it.
func NewManager(cfg Config) (*Manager, error) {
	if !cfg.Box.Valid() {
		return nil, fmt.Errorf("Bounding box %v has a non-positive width.", cfg.Box)
	} else if cfg.NRef < 0 {
		return nil, fmt.Errorf("NRef must be non-negative, but is %d.", cfg.NRef)
	} else if cfg.MaxLevel < 0 {
		return nil, fmt.Errorf(
			"MaxLevel must be non-negative, but is %d.", cfg.MaxLevel,
		)
	}

	if _, err := mesh.NewOrder(cfg.Target.Name, cfg.Target.Codes); err != nil {
		return nil, err
	} else if cfg.Target.Name == "" {
		return nil, fmt.Errorf("No target traversal order was given.")
	}

	names := map[string]bool{}
	for _, spec := range cfg.Specs {
		if names[spec.Name] {
			return nil, fmt.Errorf("Field '%s' is specified twice.", spec.Name)
		}
		names[spec.Name] = true
	}
	for _, s := range cfg.Splits {
		if !names[s.Field] {
			return nil, fmt.Errorf(
				"Cannot split field '%s', since it isn't deposited.", s.Field,
			)
		}
	}

	if cfg.Kernel == nil {
		cfg.Kernel = density.NearestGridPoint
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	return &Manager{cfg: cfg}, nil
}

// Config returns the checked configuration used by the Manager.
func (man *Manager) Config() Config { return man.cfg }

// Run builds the mesh for cat. The returned mesh is written in the target
// order and has passed validation.
func (man *Manager) Run(cat *catalog.Catalog) (*mesh.Mesh, error) {
	cfg := &man.cfg
	if err := cat.Check(); err != nil {
		return nil, err
	}
	if cfg.Log {
		log.Printf(
			"Gridding %s particles in %v.",
			humanize.Comma(int64(cat.Len())), cfg.Box,
		)
	}

	tree, err := octree.Build(
		cat.Xs, cfg.Box, octree.NRef(cfg.NRef, cfg.MaxLevel),
		octree.Config{Workers: cfg.Workers, Log: cfg.Log},
	)
	if err != nil {
		return nil, fmt.Errorf("Could not build octree: %w", err)
	}

	fields, err := density.Deposit(
		tree, cat, cfg.Specs,
		density.Config{Kernel: cfg.Kernel, Workers: cfg.Workers, Log: cfg.Log},
	)
	if err != nil {
		return nil, fmt.Errorf("Could not deposit fields: %w", err)
	}

	for _, s := range cfg.Splits {
		split, err := density.Split(s.Field, fields[s.Field], s.Fractions)
		if err != nil {
			return nil, err
		}
		for name, vals := range split {
			if _, ok := fields[name]; ok {
				return nil, fmt.Errorf(
					"Splitting '%s' would overwrite field '%s'.", s.Field, name,
				)
			}
			fields[name] = vals
		}
	}

	native, err := mesh.Flatten(tree, mesh.Native, fields)
	if err != nil {
		return nil, fmt.Errorf("Could not flatten octree: %w", err)
	}
	out, err := mesh.Convert(native, mesh.Native, cfg.Target)
	if err != nil {
		return nil, fmt.Errorf(
			"Could not convert mesh from %s to %s: %w", mesh.Native, cfg.Target, err,
		)
	}
	if err := mesh.Validate(out, cfg.MaxDepth); err != nil {
		return nil, fmt.Errorf("Converted mesh failed validation: %w", err)
	}

	if cfg.Reporter != nil {
		st, err := mesh.ComputeStats(out)
		if err != nil {
			return nil, err
		}
		cfg.Reporter.Report(cfg.Target.Name, st)
	}

	if cfg.Log {
		ms := runtime.MemStats{}
		runtime.ReadMemStats(&ms)
		log.Printf(
			"Alloc: %s, Sys: %s",
			humanize.Bytes(ms.Alloc), humanize.Bytes(ms.Sys),
		)
	}

	return out, nil
}
