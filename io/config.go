package io

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/gcfg.v1"

	"github.com/phil-mansfield/dustgrid"
	"github.com/phil-mansfield/dustgrid/catalog"
	"github.com/phil-mansfield/dustgrid/density"
	"github.com/phil-mansfield/dustgrid/mesh"
	"github.com/phil-mansfield/dustgrid/octree"
)

const (
	// Names of the fields written by a Grid run.
	DensityField = "density"
	DustField    = "dust"
	GrainField   = "grains"

	ExampleGridFile = `[Grid]

#######################
# Required Parameters #
#######################

# Text catalog with one particle per row.
Input = path/to/particles.txt
# Mesh file which will be written.
Output = path/to/mesh.grid

# Half-width of the region of interest. The gridded box extends twice this far
# from the center in every direction.
BoxLimit = 100

#######################
# Optional Parameters #
#######################

# Center of the box. Default is the origin.
# CenterX = 0
# CenterY = 0
# CenterZ = 0

# Columns of the catalog holding positions and masses. Default is 0, 1, 2, 3.
# A negative MassColumn gives every particle unit mass.
# XColumn = 0
# YColumn = 1
# ZColumn = 2
# MassColumn = 3

# Additional per-particle attributes, given as name:column. May be repeated.
# Attribute = metallicity:4

# Per-particle histograms, given as name:first:last with an inclusive column
# range. May be repeated.
# Histogram = sizes:5:14

# Cells holding more than NRef particles are refined until MaxLevel is
# reached. MaxDepth is the deepest mesh that will be written. Defaults are
# 32, 20, and 32.
# NRef = 32
# MaxLevel = 20
# MaxDepth = 32

# The dust field is DustToMetals times the metal density computed from the
# Metallicity attribute. If ConstantDust is set, every cell instead gets
# ConstantValue.
# Metallicity = metallicity
# DustToMetals = 0.4
# ConstantDust = false
# ConstantValue = 4e-23

# Splits the dust field into populations, given as name:fraction. Fractions
# are normalized to sum to one. May be repeated.
# PAHFraction = neutral:0.5
# PAHFraction = ionized:0.5

# Histogram attribute deposited as per-cell grain size fractions, and the way
# cells without particles are filled in. Fallback must be one of
# [ Zero | Median ].
# GrainSize = sizes
# Fallback = Zero

# Traversal order of the output mesh. Must be one of [ XYZ | ZYX ].
# Order = XYZ

# Number of worker goroutines. Default is the number of CPUs.
# Workers = 0

# Compresses the body of the mesh file with zstd.
# Compress = false

# Writes progress information to LogFile, rotating it once it is LogMaxSize
# megabytes and removing rotated files older than LogMaxAge days. If LogFile
# isn't set and Log is true, output goes to stderr.
# Log = false
# LogFile = log.out
# LogMaxSize = 100
# LogMaxAge = 28`
)

type GridConfig struct {
	// Required
	Input, Output string
	BoxLimit      float64

	// Optional
	CenterX, CenterY, CenterZ              float64
	XColumn, YColumn, ZColumn, MassColumn int
	Attribute, Histogram                  []string

	NRef, MaxLevel, MaxDepth int

	Metallicity   string
	DustToMetals  float64
	ConstantDust  bool
	ConstantValue float64
	PAHFraction   []string

	GrainSize, Fallback string
	Order               string

	Workers  int
	Compress bool

	Log                   bool
	LogFile               string
	LogMaxSize, LogMaxAge int
}

type GridWrapper struct {
	Grid GridConfig
}

func DefaultGridWrapper() *GridWrapper {
	con := GridConfig{}
	con.XColumn, con.YColumn, con.ZColumn, con.MassColumn = 0, 1, 2, 3
	con.NRef = dustgrid.DefaultNRef
	con.MaxLevel = dustgrid.DefaultMaxLevel
	con.MaxDepth = octree.DepthCeiling
	con.DustToMetals = 0.4
	con.ConstantValue = density.DefaultConstantValue
	con.Fallback = "Zero"
	con.Order = mesh.Target.Name
	con.LogMaxSize = 100
	con.LogMaxAge = 28
	return &GridWrapper{con}
}

// ReadGridConfig reads and checks the [Grid] section of fname.
func ReadGridConfig(fname string) (*GridConfig, error) {
	wrap := DefaultGridWrapper()
	if err := gcfg.ReadFileInto(wrap, fname); err != nil {
		return nil, err
	}
	con := &wrap.Grid
	if err := con.Check(); err != nil {
		return nil, err
	}
	return con, nil
}

func (con *GridConfig) ValidInput() bool {
	return con.Input != ""
}
func (con *GridConfig) ValidOutput() bool {
	return con.Output != ""
}
func (con *GridConfig) ValidBoxLimit() bool {
	return con.BoxLimit > 0
}
func (con *GridConfig) ValidColumns() bool {
	return con.XColumn >= 0 && con.YColumn >= 0 && con.ZColumn >= 0
}
func (con *GridConfig) ValidNRef() bool {
	return con.NRef >= 0
}
func (con *GridConfig) ValidMaxLevel() bool {
	return con.MaxLevel >= 0 && con.MaxLevel <= octree.DepthCeiling
}
func (con *GridConfig) ValidDustToMetals() bool {
	return con.DustToMetals > 0
}
func (con *GridConfig) ValidFallback() bool {
	_, ok := parseFallback(con.Fallback)
	return ok
}
func (con *GridConfig) ValidOrder() bool {
	_, ok := mesh.OrderByName(strings.ToUpper(con.Order))
	return ok
}
func (con *GridConfig) ValidWorkers() bool {
	return con.Workers >= 0
}
func (con *GridConfig) ValidLogFile() bool {
	return con.LogFile != ""
}

// Check returns an error describing the first invalid parameter.
func (con *GridConfig) Check() error {
	switch {
	case !con.ValidInput():
		return fmt.Errorf("Invalid/non-existent 'Input' value.")
	case !con.ValidOutput():
		return fmt.Errorf("Invalid/non-existent 'Output' value.")
	case !con.ValidBoxLimit():
		return fmt.Errorf("Invalid/non-existent 'BoxLimit' value.")
	case !con.ValidColumns():
		return fmt.Errorf("Position columns must be non-negative.")
	case !con.ValidNRef():
		return fmt.Errorf("Invalid 'NRef' value, %d.", con.NRef)
	case !con.ValidMaxLevel():
		return fmt.Errorf(
			"'MaxLevel' must be in the range [0, %d], but is %d.",
			octree.DepthCeiling, con.MaxLevel,
		)
	case !con.ConstantDust && con.Metallicity != "" && !con.ValidDustToMetals():
		return fmt.Errorf("Invalid 'DustToMetals' value, %g.", con.DustToMetals)
	case !con.ValidFallback():
		return fmt.Errorf(
			"'Fallback' must be one of [ Zero | Median ], but is '%s'.",
			con.Fallback,
		)
	case !con.ValidOrder():
		return fmt.Errorf(
			"'Order' must be one of [ XYZ | ZYX ], but is '%s'.", con.Order,
		)
	case !con.ValidWorkers():
		return fmt.Errorf("Invalid 'Workers' value, %d.", con.Workers)
	case len(con.PAHFraction) > 0 && !con.ConstantDust && con.Metallicity == "":
		return fmt.Errorf("'PAHFraction' was set, but no dust field is computed.")
	}
	return nil
}

// Columns returns the catalog layout described by the config.
func (con *GridConfig) Columns() (catalog.Columns, error) {
	cols := catalog.Columns{
		X: con.XColumn, Y: con.YColumn, Z: con.ZColumn, Mass: con.MassColumn,
		Scalars: map[string]int{}, Vectors: map[string][2]int{},
	}

	for _, s := range con.Attribute {
		tok := strings.Split(s, ":")
		if len(tok) != 2 {
			return cols, fmt.Errorf(
				"Attribute '%s' must have the form name:column.", s,
			)
		}
		c, err := strconv.Atoi(strings.TrimSpace(tok[1]))
		if err != nil || c < 0 {
			return cols, fmt.Errorf("Attribute '%s' has an invalid column.", s)
		}
		cols.Scalars[strings.TrimSpace(tok[0])] = c
	}

	for _, s := range con.Histogram {
		tok := strings.Split(s, ":")
		if len(tok) != 3 {
			return cols, fmt.Errorf(
				"Histogram '%s' must have the form name:first:last.", s,
			)
		}
		first, err1 := strconv.Atoi(strings.TrimSpace(tok[1]))
		last, err2 := strconv.Atoi(strings.TrimSpace(tok[2]))
		if err1 != nil || err2 != nil || first < 0 || last < first {
			return cols, fmt.Errorf(
				"Histogram '%s' has an invalid column range.", s,
			)
		}
		name := strings.TrimSpace(tok[0])
		if _, ok := cols.Scalars[name]; ok {
			return cols, fmt.Errorf("Attribute '%s' is given twice.", name)
		}
		cols.Vectors[name] = [2]int{first, last}
	}

	return cols, nil
}

// ManagerConfig translates the config into the parameters of a pipeline run.
func (con *GridConfig) ManagerConfig() (dustgrid.Config, error) {
	cfg := dustgrid.DefaultConfig()
	if err := con.Check(); err != nil {
		return cfg, err
	}

	cfg.Box = dustgrid.Bounds(
		r3.Vec{X: con.CenterX, Y: con.CenterY, Z: con.CenterZ}, con.BoxLimit,
	)
	cfg.NRef, cfg.MaxLevel, cfg.MaxDepth = con.NRef, con.MaxLevel, con.MaxDepth
	cfg.Target, _ = mesh.OrderByName(strings.ToUpper(con.Order))
	if con.Workers > 0 {
		cfg.Workers = con.Workers
	}
	cfg.Log = con.Log

	cfg.Specs = []density.FieldSpec{{Name: DensityField, Kind: density.Density}}
	switch {
	case con.ConstantDust:
		cfg.Specs = append(cfg.Specs, density.FieldSpec{
			Name: DustField, Kind: density.Constant, Value: con.ConstantValue,
		})
	case con.Metallicity != "":
		cfg.Specs = append(cfg.Specs, density.FieldSpec{
			Name: DustField, Kind: density.Density,
			Source: con.Metallicity, Scale: con.DustToMetals,
		})
	}

	if con.GrainSize != "" {
		fallback, _ := parseFallback(con.Fallback)
		cfg.Specs = append(cfg.Specs, density.FieldSpec{
			Name: GrainField, Kind: density.Histogram,
			Source: con.GrainSize, Fallback: fallback,
		})
	}

	if len(con.PAHFraction) > 0 {
		fracs := map[string]float64{}
		for _, s := range con.PAHFraction {
			tok := strings.Split(s, ":")
			if len(tok) != 2 {
				return cfg, fmt.Errorf(
					"PAHFraction '%s' must have the form name:fraction.", s,
				)
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(tok[1]), 64)
			if err != nil {
				return cfg, fmt.Errorf(
					"PAHFraction '%s' has an invalid fraction.", s,
				)
			}
			fracs[strings.TrimSpace(tok[0])] = f
		}
		cfg.Splits = []dustgrid.Split{{Field: DustField, Fractions: fracs}}
	}

	return cfg, nil
}

func parseFallback(s string) (density.Fallback, bool) {
	switch strings.ToLower(s) {
	case "zero":
		return density.Zero, true
	case "median":
		return density.Median, true
	}
	return density.Zero, false
}
