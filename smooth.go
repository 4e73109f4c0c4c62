package heightmap

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Smooth returns g blurred with a Gaussian kernel of standard deviation sigma,
// truncated at four standard deviations. Edges are reflected. If sigma is not
// positive then g is returned unchanged.
func Smooth(g *NormalizedGrid, sigma float64) *NormalizedGrid {
	if !(sigma > 0) {
		return g
	}

	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2
	rows, cols := g.Dims()

	horizontal := mat.NewDense(rows, cols, nil)
	for i := range rows {
		src := g.Samples.RawRowView(i)
		dst := horizontal.RawRowView(i)
		for j := range cols {
			var sum float64
			for k, w := range kernel {
				sum += w * src[reflect(j+k-radius, cols)]
			}
			dst[j] = sum
		}
	}

	out := mat.NewDense(rows, cols, nil)
	for i := range rows {
		dst := out.RawRowView(i)
		for j := range cols {
			var sum float64
			for k, w := range kernel {
				sum += w * horizontal.At(reflect(i+k-radius, rows), j)
			}
			dst[j] = min(max(sum, 0), 1)
		}
	}
	return &NormalizedGrid{Samples: out}
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// reflect maps i into [0, n) by reflecting about the edges, so that index -1
// maps to 0 and index n maps to n-1.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
