package dustgrid

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/phil-mansfield/dustgrid/catalog"
	"github.com/phil-mansfield/dustgrid/density"
	"github.com/phil-mansfield/dustgrid/geom"
	"github.com/phil-mansfield/dustgrid/mesh"
	"github.com/phil-mansfield/dustgrid/octree"
)

type recorder struct {
	names []string
	stats []mesh.Stats
}

func (r *recorder) Report(name string, st mesh.Stats) {
	r.names = append(r.names, name)
	r.stats = append(r.stats, st)
}

// singleSplit returns a config which splits the [-1, 1]^3 cube exactly once.
func singleSplit() Config {
	cfg := DefaultConfig()
	cfg.Box = Bounds(r3.Vec{}, 0.5)
	cfg.NRef, cfg.MaxLevel = 0, 1
	cfg.Specs = []density.FieldSpec{
		{Name: "rho", Kind: density.Density},
	}
	return cfg
}

func TestBounds(t *testing.T) {
	box := Bounds(r3.Vec{X: 1, Y: 2, Z: 3}, 0.5)
	assert.Equal(t, r3.Vec{X: 0, Y: 1, Z: 2}, box.Min())
	assert.Equal(t, r3.Vec{X: 2, Y: 3, Z: 4}, box.Max())
}

func TestRunSingleParticle(t *testing.T) {
	table := []struct {
		x      r3.Vec
		target int
	}{
		{r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, 7},
		{r3.Vec{X: 0.5, Y: -0.5, Z: -0.5}, 1},
		{r3.Vec{X: -0.5, Y: 0.5, Z: 0.5}, 6},
	}

	for i, test := range table {
		cat, err := catalog.New([]r3.Vec{test.x}, []float64{2})
		require.NoError(t, err)

		rec := &recorder{}
		cfg := singleSplit()
		cfg.Reporter = rec
		man, err := NewManager(cfg)
		require.NoError(t, err)

		m, err := man.Run(cat)
		require.NoError(t, err, "%d", i)

		assert.Equal(t, mesh.XYZ, m.Order, "%d", i)
		require.Len(t, m.Refined, 9, "%d", i)
		assert.True(t, m.Refined[0], "%d", i)

		rho := m.Fields["rho"]
		require.Len(t, rho, 8, "%d", i)
		for l := range rho {
			if l == test.target {
				assert.Equal(t, 2.0, rho[l], "%d) leaf %d", i, l)
			} else {
				assert.Zero(t, rho[l], "%d) leaf %d", i, l)
			}
		}

		require.Len(t, rec.stats, 1, "%d", i)
		assert.Equal(t, "XYZ", rec.names[0], "%d", i)
		assert.Equal(t, mesh.Stats{Nodes: 9, Refined: 1, Leaves: 8, MaxDepth: 1},
			clearDeepest(rec.stats[0]), "%d", i)
	}
}

// clearDeepest drops unexported bookkeeping so Stats can be compared.
func clearDeepest(st mesh.Stats) mesh.Stats {
	return mesh.Stats{
		Nodes: st.Nodes, Refined: st.Refined, Leaves: st.Leaves,
		MaxDepth: st.MaxDepth,
	}
}

func TestRunMatchesConversion(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	xs := make([]r3.Vec, 500)
	for i := range xs {
		xs[i] = r3.Vec{
			X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: rng.Float64()*2 - 1,
		}
	}
	cat, err := catalog.New(xs, nil)
	require.NoError(t, err)

	cfg := singleSplit()
	cfg.NRef, cfg.MaxLevel = 8, 6
	cfg.Workers = 4
	man, err := NewManager(cfg)
	require.NoError(t, err)

	m, err := man.Run(cat)
	require.NoError(t, err)
	require.NoError(t, mesh.Validate(m, cfg.MaxDepth))

	// Converting back to the native order must give the directly flattened
	// tree.
	tree, err := octree.Build(
		xs, cfg.Box, octree.NRef(cfg.NRef, cfg.MaxLevel), octree.Config{},
	)
	require.NoError(t, err)
	fs, err := density.Deposit(tree, cat, cfg.Specs, density.Config{})
	require.NoError(t, err)
	native, err := mesh.Flatten(tree, mesh.Native, fs)
	require.NoError(t, err)

	back, err := mesh.Convert(m, mesh.Target, mesh.Native)
	require.NoError(t, err)
	if diff := cmp.Diff(native, back); diff != "" {
		t.Errorf("Round trip through the pipeline changed the mesh (-want +got):\n%s", diff)
	}

	total := 0.0
	for _, r := range m.Fields["rho"] {
		total += r
	}
	assert.Greater(t, total, 0.0)
}

func TestRunSplit(t *testing.T) {
	cat, err := catalog.New([]r3.Vec{{X: 0.5, Y: 0.5, Z: 0.5}}, []float64{4})
	require.NoError(t, err)

	cfg := singleSplit()
	cfg.Splits = []Split{{"rho", map[string]float64{"small": 1, "large": 3}}}
	man, err := NewManager(cfg)
	require.NoError(t, err)

	m, err := man.Run(cat)
	require.NoError(t, err)

	assert.Equal(t, []string{"rho", "rho_large", "rho_small"}, m.Names())
	assert.InDelta(t, 1.0, m.Fields["rho_small"][7], 1e-12)
	assert.InDelta(t, 3.0, m.Fields["rho_large"][7], 1e-12)
	assert.Zero(t, m.Fields["rho_small"][0])
}

func TestRunErrors(t *testing.T) {
	cat, err := catalog.New([]r3.Vec{{X: 3}}, nil)
	require.NoError(t, err)
	man, err := NewManager(singleSplit())
	require.NoError(t, err)

	_, err = man.Run(cat)
	oob := &octree.OutOfBoundsError{}
	require.True(t, errors.As(err, &oob))
	assert.Equal(t, 0, oob.Index)

	cat, err = catalog.New([]r3.Vec{{}}, nil)
	require.NoError(t, err)
	cfg := singleSplit()
	cfg.Specs = append(cfg.Specs, density.FieldSpec{
		Name: "dust", Kind: density.Density, Source: "metallicity",
	})
	man, err = NewManager(cfg)
	require.NoError(t, err)

	_, err = man.Run(cat)
	missing := &density.MissingAttributeError{}
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "metallicity", missing.Attribute)
}

func TestRunMismatchedCatalog(t *testing.T) {
	man, err := NewManager(singleSplit())
	require.NoError(t, err)

	xs := []r3.Vec{{}, {X: 0.5}}
	table := []*catalog.Catalog{
		{Xs: xs, Masses: []float64{1}},
		{Xs: xs, Masses: []float64{1, 1}, Fields: map[string]catalog.Field{
			"z": &catalog.Scalar{Data: []float64{1}},
		}},
	}

	for i, cat := range table {
		assert.NotPanics(t, func() {
			_, err := man.Run(cat)
			assert.Error(t, err, "%d", i)
		}, "%d", i)
	}
}

func TestNewManagerErrors(t *testing.T) {
	table := []struct {
		edit func(cfg *Config)
	}{
		{func(cfg *Config) { cfg.Box = geom.Box{} }},
		{func(cfg *Config) { cfg.NRef = -1 }},
		{func(cfg *Config) { cfg.MaxLevel = -1 }},
		{func(cfg *Config) { cfg.Target = mesh.Order{} }},
		{func(cfg *Config) { cfg.Target.Codes = [geom.Octants]int{} }},
		{func(cfg *Config) { cfg.Specs = append(cfg.Specs, cfg.Specs[0]) }},
		{func(cfg *Config) { cfg.Splits = []Split{{"dust", nil}} }},
	}

	for i, test := range table {
		cfg := singleSplit()
		test.edit(&cfg)
		_, err := NewManager(cfg)
		assert.Error(t, err, "%d", i)
	}
}

func TestNewManagerDefaults(t *testing.T) {
	cfg := singleSplit()
	cfg.Kernel, cfg.Workers = nil, 0
	man, err := NewManager(cfg)
	require.NoError(t, err)
	assert.NotNil(t, man.Config().Kernel)
	assert.Greater(t, man.Config().Workers, 0)
}
