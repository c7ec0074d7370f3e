package mesh

import (
	"log"

	"github.com/dustin/go-humanize"
)

// Stats summarizes the shape of a flattened octree.
type Stats struct {
	Nodes, Refined, Leaves int
	MaxDepth               int

	deepest int
}

// ComputeStats returns the Stats of a mesh, or an error if its flags are
// malformed.
func ComputeStats(m *Mesh) (Stats, error) {
	st, err := walk(m.Refined)
	if err != nil {
		return Stats{}, err
	}
	return *st, nil
}

// Reporter receives summary statistics for a finished mesh.
type Reporter interface {
	Report(name string, st Stats)
}

// LogReporter writes Stats to the standard logger.
type LogReporter struct{}

func (LogReporter) Report(name string, st Stats) {
	log.Printf(
		"Octree '%s': %s nodes (%s refined, %s leaves), max depth %d.",
		name, humanize.Comma(int64(st.Nodes)), humanize.Comma(int64(st.Refined)),
		humanize.Comma(int64(st.Leaves)), st.MaxDepth,
	)
}
