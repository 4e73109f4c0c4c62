package heightmap

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"gonum.org/v1/gonum/floats"
)

func TestSmooth(t *testing.T) {
	g := normalizedGrid(3, 3, []float64{0, 0, 0, 0, 1, 0, 0, 0, 0})

	t.Run("disabled", func(t *testing.T) {
		assert.Equal(t, g, Smooth(g, 0))
		assert.Equal(t, g, Smooth(g, -1))
	})

	t.Run("blurs", func(t *testing.T) {
		actual := rowMajor(Smooth(g, 1).Samples)
		assert.True(t, actual[4] < 1)
		assert.True(t, actual[0] > 0)
		assert.True(t, actual[4] > actual[1])
		assert.True(t, actual[1] > actual[0])
		for _, v := range actual {
			assert.True(t, v >= 0 && v <= 1)
		}
	})

	t.Run("flat_is_unchanged", func(t *testing.T) {
		flat := normalizedGrid(4, 5, []float64{
			0.5, 0.5, 0.5, 0.5, 0.5,
			0.5, 0.5, 0.5, 0.5, 0.5,
			0.5, 0.5, 0.5, 0.5, 0.5,
			0.5, 0.5, 0.5, 0.5, 0.5,
		})
		for _, v := range rowMajor(Smooth(flat, 2).Samples) {
			assert.True(t, math.Abs(v-0.5) < 1e-12)
		}
	})
}

func TestGaussianKernel(t *testing.T) {
	for _, tc := range []struct {
		sigma          float64
		expectedLen    int
		expectedCenter float64
		expectedEdge   float64
	}{
		{sigma: 0.5, expectedLen: 5, expectedCenter: 0.7865707258873422, expectedEdge: 0.00026386508273735414},
		{sigma: 1, expectedLen: 9, expectedCenter: 0.39894346935609776, expectedEdge: 0.00013383062461474175},
		{sigma: 2, expectedLen: 17, expectedCenter: 0.199474647864745, expectedEdge: 6.691628957263553e-05},
	} {
		kernel := gaussianKernel(tc.sigma)
		assert.Equal(t, tc.expectedLen, len(kernel))
		assert.True(t, math.Abs(floats.Sum(kernel)-1) < 1e-12)
		assert.Equal(t, kernel[0], kernel[len(kernel)-1])
		assert.Equal(t, len(kernel)/2, floats.MaxIdx(kernel))
		assert.True(t, math.Abs(kernel[len(kernel)/2]-tc.expectedCenter) < 1e-12)
		assert.True(t, math.Abs(kernel[0]-tc.expectedEdge) < 1e-15)
	}
}

func TestReflect(t *testing.T) {
	for _, tc := range []struct {
		i, n, expected int
	}{
		{i: -1, n: 4, expected: 0},
		{i: -2, n: 4, expected: 1},
		{i: 0, n: 4, expected: 0},
		{i: 3, n: 4, expected: 3},
		{i: 4, n: 4, expected: 3},
		{i: 5, n: 4, expected: 2},
		{i: 7, n: 1, expected: 0},
	} {
		assert.Equal(t, tc.expected, reflect(tc.i, tc.n))
	}
}
