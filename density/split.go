package density

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Split divides one leaf field between several grain populations. fracs is
// normalized to sum to one, so only the relative sizes matter. The returned
// fields are named prefix_population.
func Split(prefix string, vals []float64, fracs map[string]float64) (Fields, error) {
	if len(fracs) == 0 {
		return nil, fmt.Errorf("No populations given to split '%s' between.", prefix)
	}

	names := make([]string, 0, len(fracs))
	for name := range fracs {
		names = append(names, name)
	}
	sort.Strings(names)

	fs := make([]float64, len(names))
	for i, name := range names {
		if fracs[name] < 0 {
			return nil, fmt.Errorf(
				"Population '%s' of '%s' has negative fraction %g.",
				name, prefix, fracs[name],
			)
		}
		fs[i] = fracs[name]
	}

	total := floats.Sum(fs)
	if total <= 0 {
		return nil, fmt.Errorf("Fractions for '%s' sum to zero.", prefix)
	}
	floats.Scale(1/total, fs)

	out := Fields{}
	for i, name := range names {
		split := make([]float64, len(vals))
		floats.ScaleTo(split, fs[i], vals)
		out[prefix+"_"+name] = split
	}
	return out, nil
}
