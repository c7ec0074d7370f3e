package mesh

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
	"github.com/phil-mansfield/dustgrid/octree"
)

// handTree returns a tree whose root is split once and whose child with
// octant code rc is split again. Leaf values encode their position: 100+c
// for a child c of the root and 200+10*rc+g for a grandchild g.
func handTree(rc int) (*octree.Tree, density.Fields) {
	box := geom.Cube(r3.Vec{}, 1)
	root := &octree.Node{Box: box, Leaf: -1, Children: &[8]*octree.Node{}}
	tree := &octree.Tree{Root: root, Nodes: 17, MaxDepth: 2}
	vals := []float64{}

	addLeaf := func(n *octree.Node, v float64) {
		n.Leaf = len(tree.Leaves)
		tree.Leaves = append(tree.Leaves, n)
		vals = append(vals, v)
	}

	for c := 0; c < 8; c++ {
		child := &octree.Node{Box: box.Octant(c), Depth: 1, Leaf: -1}
		root.Children[c] = child
		if c != rc {
			addLeaf(child, float64(100+c))
			continue
		}
		child.Children = &[8]*octree.Node{}
		for g := 0; g < 8; g++ {
			gc := &octree.Node{Box: child.Box.Octant(g), Depth: 2}
			child.Children[g] = gc
			addLeaf(gc, float64(200+10*rc+g))
		}
	}

	return tree, density.Fields{"label": vals}
}

func flags(s string) []bool {
	out := make([]bool, len(s))
	for i := range s {
		out[i] = s[i] == 'T'
	}
	return out
}

func TestPermutation(t *testing.T) {
	assert.Equal(t, [8]int{0, 4, 2, 6, 1, 5, 3, 7}, Permutation(ZYX, XYZ))
	assert.Equal(t, [8]int{0, 4, 2, 6, 1, 5, 3, 7}, Permutation(XYZ, ZYX))
	assert.Equal(t, [8]int{0, 1, 2, 3, 4, 5, 6, 7}, Permutation(ZYX, ZYX))

	rev, err := NewOrder("reversed", [8]int{7, 6, 5, 4, 3, 2, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, [8]int{7, 6, 5, 4, 3, 2, 1, 0}, Permutation(XYZ, rev))

	_, err = NewOrder("bad", [8]int{0, 1, 2, 3, 4, 5, 6, 6})
	assert.Error(t, err)
	_, err = NewOrder("bad", [8]int{0, 1, 2, 3, 4, 5, 6, 8})
	assert.Error(t, err)

	o, ok := OrderByName("XYZ")
	assert.True(t, ok)
	assert.Equal(t, XYZ, o)
	_, ok = OrderByName("YXZ")
	assert.False(t, ok)
}

func TestScenarioSingleParticle(t *testing.T) {
	table := []struct {
		x           r3.Vec
		native, out int // leaf position holding the particle
	}{
		{r3.Vec{}, 7, 7},                         // octant 7
		{r3.Vec{X: 0.5, Y: -0.5, Z: -0.5}, 4, 1}, // octant 1
		{r3.Vec{X: -0.5, Y: 0.5, Z: 0.5}, 3, 6},  // octant 6
	}

	for i, test := range table {
		cat, err := catalog.New([]r3.Vec{test.x}, nil)
		require.NoError(t, err)
		require.NoError(t, cat.Add("v", &catalog.Scalar{Data: []float64{5}}))

		tree, err := octree.Build(
			cat.Xs, geom.Cube(r3.Vec{}, 1), octree.NRef(0, 1), octree.Config{},
		)
		require.NoError(t, err)

		fs, err := density.Deposit(tree, cat, []density.FieldSpec{
			{Name: "v", Kind: density.Mean, Source: "v"},
		}, density.Config{})
		require.NoError(t, err)

		m, err := Flatten(tree, Native, fs)
		require.NoError(t, err)
		assert.Equal(t, flags("TFFFFFFFF"), m.Refined, "%d", i)
		want := make([]float64, 8)
		want[test.native] = 5
		assert.Equal(t, want, m.Fields["v"], "%d) native", i)

		out, err := Convert(m, Native, Target)
		require.NoError(t, err)
		require.NoError(t, Validate(out, 1))
		assert.Equal(t, m.Refined, out.Refined, "%d", i)
		want = make([]float64, 8)
		want[test.out] = 5
		assert.Equal(t, want, out.Fields["v"], "%d) target", i)
	}
}

func TestConvertHandTraced(t *testing.T) {
	tree, fs := handTree(1)

	m, err := Flatten(tree, ZYX, fs)
	require.NoError(t, err)

	// Children of the root in ZYX order are 0, 4, 2, 6, 1, 5, 3, 7.
	assert.Equal(t, flags("TFFFFTFFFFFFFFFFF"), m.Refined)
	wantZYX := []float64{
		100, 104, 102, 106,
		210, 214, 212, 216, 211, 215, 213, 217,
		105, 103, 107,
	}
	if diff := cmp.Diff(wantZYX, m.Fields["label"]); diff != "" {
		t.Errorf("ZYX labels differ (-want +got):\n%s", diff)
	}

	out, err := Convert(m, ZYX, XYZ)
	require.NoError(t, err)

	assert.Equal(t, XYZ, out.Order)
	assert.Equal(t, flags("TFTFFFFFFFFFFFFFF"), out.Refined)
	wantXYZ := []float64{
		100,
		210, 211, 212, 213, 214, 215, 216, 217,
		102, 103, 104, 105, 106, 107,
	}
	if diff := cmp.Diff(wantXYZ, out.Fields["label"]); diff != "" {
		t.Errorf("XYZ labels differ (-want +got):\n%s", diff)
	}

	st, err := ComputeStats(out)
	require.NoError(t, err)
	assert.Equal(t, 17, st.Nodes)
	assert.Equal(t, 2, st.Refined)
	assert.Equal(t, 15, st.Leaves)
	assert.Equal(t, 2, st.MaxDepth)
}

func TestConvertMatchesFlatten(t *testing.T) {
	for rc := 0; rc < 8; rc++ {
		tree, fs := handTree(rc)
		native, err := Flatten(tree, ZYX, fs)
		require.NoError(t, err)
		direct, err := Flatten(tree, XYZ, fs)
		require.NoError(t, err)

		converted, err := Convert(native, ZYX, XYZ)
		require.NoError(t, err)
		assert.Equal(t, direct, converted, "refined child %d", rc)
	}
}

func randomMesh(t *testing.T, seed int64, n int) (*octree.Tree, density.Fields) {
	gen := rand.New(rand.NewSource(seed))
	xs := make([]r3.Vec, n)
	zs := make([]float64, n)
	for i := range xs {
		// Clustered towards the center so the tree has uneven depth.
		r := gen.Float64() * gen.Float64()
		xs[i] = r3.Vec{
			X: r * (2*gen.Float64() - 1),
			Y: r * (2*gen.Float64() - 1),
			Z: r * (2*gen.Float64() - 1),
		}
		zs[i] = gen.Float64()
	}
	cat, err := catalog.New(xs, nil)
	require.NoError(t, err)
	require.NoError(t, cat.Add("z", &catalog.Scalar{Data: zs}))

	tree, err := octree.Build(
		xs, geom.Cube(r3.Vec{}, 1), octree.NRef(4, 12), octree.Config{},
	)
	require.NoError(t, err)

	fs, err := density.Deposit(tree, cat, []density.FieldSpec{
		{Name: "z", Kind: density.Mean, Source: "z", Fallback: density.Median},
		{Name: "rho", Kind: density.Density},
	}, density.Config{})
	require.NoError(t, err)
	return tree, fs
}

func TestConvertRoundTrip(t *testing.T) {
	yxz, err := NewOrder("YXZ", [8]int{0, 2, 1, 3, 4, 6, 5, 7})
	require.NoError(t, err)

	table := []struct{ a, b Order }{{ZYX, XYZ}, {XYZ, ZYX}, {ZYX, yxz}}

	for i, test := range table {
		tree, fs := randomMesh(t, int64(i+1), 1500)

		m, err := Flatten(tree, test.a, fs)
		require.NoError(t, err)
		require.NoError(t, Validate(m, octree.DepthCeiling))
		for _, name := range m.Names() {
			assert.Equal(t, m.Leaves(), len(m.Fields[name]))
		}

		there, err := Convert(m, test.a, test.b)
		require.NoError(t, err)
		require.NoError(t, Validate(there, octree.DepthCeiling))

		direct, err := Flatten(tree, test.b, fs)
		require.NoError(t, err)
		assert.Equal(t, direct, there, "%d) %s -> %s", i, test.a, test.b)

		back, err := Convert(there, test.b, test.a)
		require.NoError(t, err)
		assert.Equal(t, m.Refined, back.Refined, "%d) flags", i)
		assert.Equal(t, m.Fields, back.Fields, "%d) fields", i)
	}
}

func TestConvertLeafRoot(t *testing.T) {
	m := &Mesh{Order: ZYX, Refined: []bool{false}, Fields: map[string][]float64{
		"rho": {3},
	}}
	out, err := Convert(m, ZYX, XYZ)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, out.Refined)
	assert.Equal(t, []float64{3}, out.Fields["rho"])
}

func TestConvertMalformed(t *testing.T) {
	table := []string{"", "TF", "FF", "TFFFFFFFFF", "TTFFFFFFFFFFFFFF"}

	for i, test := range table {
		m := &Mesh{Order: ZYX, Refined: flags(test)}
		_, err := Convert(m, ZYX, XYZ)
		var mal *MalformedTreeError
		assert.True(t, errors.As(err, &mal), "%d) %q: %v", i, test, err)
	}

	m := &Mesh{Order: ZYX, Refined: flags("TFFFFFFFF"), Fields: map[string][]float64{
		"rho": {1, 2, 3},
	}}
	_, err := Convert(m, ZYX, XYZ)
	var mal *MalformedTreeError
	require.True(t, errors.As(err, &mal))
	assert.Equal(t, "rho", mal.Field)

	_, err = Convert(&Mesh{Order: XYZ, Refined: []bool{false}}, ZYX, XYZ)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	table := []struct {
		flags    string
		leaves   int
		maxDepth int
		ok       bool
	}{
		{"F", 1, 0, true},
		{"TFFFFFFFF", 8, 1, true},
		{"TFFFFFFFF", 8, 0, false},
		{"TFFFFFFFF", 7, 1, false},
		{"TF", 1, 5, false},
		{"", 0, 5, false},
		{"FF", 2, 5, false},
		{"TFFFFFFFFF", 9, 5, false},
		{"TFTFFFFFFFFFFFFFF", 15, 2, true},
		{"TFTFFFFFFFFFFFFFF", 15, -1, true},
		{"TFTFFFFFFFFFFFFFFF", 16, 2, false},
	}

	for i, test := range table {
		m := &Mesh{Refined: flags(test.flags), Fields: map[string][]float64{
			"rho": make([]float64, test.leaves),
		}}
		err := Validate(m, test.maxDepth)
		if test.ok {
			assert.NoError(t, err, "%d) %s", i, test.flags)
			continue
		}
		var mal *MalformedTreeError
		assert.True(t, errors.As(err, &mal), "%d) %s: %v", i, test.flags, err)
	}
}

func TestValidateMissingChildren(t *testing.T) {
	err := Validate(&Mesh{Refined: []bool{true, false}}, 10)

	var mal *MalformedTreeError
	require.True(t, errors.As(err, &mal))
	assert.Equal(t, 2, mal.Actual)
	assert.Equal(t, 9, mal.Expected)
}

func TestAddField(t *testing.T) {
	m := &Mesh{Refined: flags("TFFFFFFFF")}
	assert.NoError(t, m.AddField("rho", make([]float64, 8)))
	assert.Error(t, m.AddField("rho", make([]float64, 8)))
	assert.Error(t, m.AddField("dust", make([]float64, 9)))
	assert.Equal(t, []string{"rho"}, m.Names())
}

func TestFlattenFieldMismatch(t *testing.T) {
	tree, _ := handTree(0)
	_, err := Flatten(tree, ZYX, density.Fields{"rho": {1}})
	var mal *MalformedTreeError
	assert.True(t, errors.As(err, &mal))
}

type recorder struct {
	names []string
	stats []Stats
}

func (r *recorder) Report(name string, st Stats) {
	r.names = append(r.names, name)
	r.stats = append(r.stats, st)
}

func TestReporter(t *testing.T) {
	tree, fs := handTree(3)
	m, err := Flatten(tree, XYZ, fs)
	require.NoError(t, err)
	st, err := ComputeStats(m)
	require.NoError(t, err)

	var reps []Reporter = []Reporter{&recorder{}, LogReporter{}}
	for _, rep := range reps {
		rep.Report("hand", st)
	}
	r := reps[0].(*recorder)
	assert.Equal(t, []string{"hand"}, r.names)
	assert.Equal(t, tree.Nodes, r.stats[0].Nodes)

	_, err = ComputeStats(&Mesh{Refined: flags("TF")})
	assert.Error(t, err)
}
