package heightmap

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Normalize returns g rescaled to [0, 1] using the minimum and maximum finite
// samples of g. If all finite samples are equal, or there are none, every
// sample of the result is zero. Non-finite samples map to zero.
func Normalize(g *ElevationGrid) *NormalizedGrid {
	lo, hi, ok := finiteRange(g.Samples)
	rows, cols := g.Dims()
	out := mat.NewDense(rows, cols, nil)
	if !ok || !(hi > lo) {
		return &NormalizedGrid{Samples: out}
	}
	scale := hi - lo
	out.Apply(func(_, _ int, v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return min(max((v-lo)/scale, 0), 1)
	}, g.Samples)
	return &NormalizedGrid{Samples: out}
}

// finiteRange returns the minimum and maximum finite values of m. ok is false
// if m has no finite values.
func finiteRange(m *mat.Dense) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	rows, _ := m.Dims()
	for i := range rows {
		for _, v := range m.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = min(lo, v)
			hi = max(hi, v)
			ok = true
		}
	}
	return lo, hi, ok
}
