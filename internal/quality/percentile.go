package quality

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile of values using linear
// interpolation between closest ranks. NaN values are ignored. It returns
// NaN when no values remain.
func Percentile(values []float64, p float64) float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	p = math.Max(0, math.Min(100, p))
	pos := p / 100 * float64(len(clean)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return clean[lo] + (clean[hi]-clean[lo])*(pos-float64(lo))
}
