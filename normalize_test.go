package heightmap

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestNormalize(t *testing.T) {
	for _, tc := range []struct {
		name     string
		samples  []float64
		expected []float64
	}{
		{
			name:     "ramp",
			samples:  []float64{100, 150, 200, 300},
			expected: []float64{0, 0.25, 0.5, 1},
		},
		{
			name:     "flat",
			samples:  []float64{42, 42, 42, 42},
			expected: []float64{0, 0, 0, 0},
		},
		{
			name:     "non_finite",
			samples:  []float64{math.NaN(), 10, math.Inf(1), 20},
			expected: []float64{0, 0, 0, 1},
		},
		{
			name:     "all_non_finite",
			samples:  []float64{math.NaN(), math.Inf(-1), math.NaN(), math.Inf(1)},
			expected: []float64{0, 0, 0, 0},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual := Normalize(NewElevationGrid(2, 2, tc.samples, nil))
			assert.Equal(t, tc.expected, rowMajor(actual.Samples))
		})
	}
}

func TestNormalizeBounds(t *testing.T) {
	samples := make([]float64, 64)
	for i := range samples {
		samples[i] = math.Sin(float64(i)) * 1234.5
	}
	actual := rowMajor(Normalize(NewElevationGrid(8, 8, samples, nil)).Samples)
	var sawZero, sawOne bool
	for _, v := range actual {
		assert.True(t, v >= 0 && v <= 1)
		sawZero = sawZero || v == 0
		sawOne = sawOne || v == 1
	}
	assert.True(t, sawZero)
	assert.True(t, sawOne)
}
