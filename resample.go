package heightmap

import (
	"gonum.org/v1/gonum/mat"
)

// Resample returns g resized to size×size samples by bilinear interpolation.
// Output sample (i, j) is taken from source coordinate (i·H/size, j·W/size)
// where H×W are the dimensions of g. Coordinates past the last row or column
// clamp to it. Resampling to the same size returns an identical grid.
func Resample(g *NormalizedGrid, size int) *NormalizedGrid {
	rows, cols := g.Dims()
	ys := sourceCoords(rows, size)
	xs := sourceCoords(cols, size)
	out := mat.NewDense(size, size, nil)
	for i, y := range ys {
		row0 := g.Samples.RawRowView(y.c0)
		row1 := g.Samples.RawRowView(y.c1)
		dst := out.RawRowView(i)
		for j, x := range xs {
			value := 0 +
				row0[x.c0]*(1-x.d)*(1-y.d) +
				row0[x.c1]*x.d*(1-y.d) +
				row1[x.c0]*(1-x.d)*y.d +
				row1[x.c1]*x.d*y.d
			dst[j] = min(max(value, 0), 1)
		}
	}
	return &NormalizedGrid{Samples: out}
}

// A sourceCoord is a fractional source index split into the two neighboring
// indexes and the weight of the second.
type sourceCoord struct {
	c0, c1 int
	d      float64
}

func sourceCoords(n, size int) []sourceCoord {
	coords := make([]sourceCoord, size)
	for i := range coords {
		c := float64(i) * float64(n) / float64(size)
		c = min(max(c, 0), float64(n-1))
		c0 := int(c)
		coords[i] = sourceCoord{
			c0: c0,
			c1: min(c0+1, n-1),
			d:  c - float64(c0),
		}
	}
	return coords
}
