package heightmap

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func ptr[T any](v T) *T {
	return &v
}

func assertSamplesNear(t *testing.T, expected, actual []float64) {
	t.Helper()
	assert.Equal(t, len(expected), len(actual))
	for i := range expected {
		if math.Abs(expected[i]-actual[i]) > 1e-9 {
			t.Fatalf("sample %d: expected %v, got %v", i, expected[i], actual[i])
		}
	}
}

func TestGapFill(t *testing.T) {
	const n = -9999
	for _, tc := range []struct {
		name     string
		rows     int
		cols     int
		samples  []float64
		noData   *float64
		expected []float64
	}{
		{
			name:     "no_sentinel",
			rows:     1,
			cols:     3,
			samples:  []float64{1, n, 3},
			expected: []float64{1, n, 3},
		},
		{
			name:     "nothing_missing",
			rows:     1,
			cols:     3,
			samples:  []float64{1, 2, 3},
			noData:   ptr(-9999.0),
			expected: []float64{1, 2, 3},
		},
		{
			name: "interior_linear",
			rows: 3,
			cols: 3,
			samples: []float64{
				0, 1, 2,
				1, n, 3,
				2, 3, 4,
			},
			noData: ptr(-9999.0),
			expected: []float64{
				0, 1, 2,
				1, 2, 3,
				2, 3, 4,
			},
		},
		{
			name: "nan_is_missing",
			rows: 3,
			cols: 3,
			samples: []float64{
				0, 1, 2,
				1, math.NaN(), 3,
				2, 3, 4,
			},
			noData: ptr(-9999.0),
			expected: []float64{
				0, 1, 2,
				1, 2, 3,
				2, 3, 4,
			},
		},
		{
			name: "outside_hull_takes_mean",
			rows: 3,
			cols: 3,
			samples: []float64{
				0, 0, n,
				0, 0, n,
				3, 3, n,
			},
			noData: ptr(-9999.0),
			expected: []float64{
				0, 0, 1,
				0, 0, 1,
				3, 3, 1,
			},
		},
		{
			name:     "too_few_points_take_mean",
			rows:     1,
			cols:     4,
			samples:  []float64{2, n, n, 4},
			noData:   ptr(-9999.0),
			expected: []float64{2, 3, 3, 4},
		},
		{
			name:     "all_missing",
			rows:     2,
			cols:     2,
			samples:  []float64{n, n, n, n},
			noData:   ptr(-9999.0),
			expected: []float64{0, 0, 0, 0},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := NewElevationGrid(tc.rows, tc.cols, tc.samples, tc.noData)
			actual := GapFill(g)
			assertSamplesNear(t, tc.expected, rowMajor(actual.Samples))
			if tc.noData == nil {
				assert.Equal(t, g, actual)
			} else {
				assert.Zero(t, actual.NoData)
			}
		})
	}
}

func TestGapFillCompleteness(t *testing.T) {
	const rows, cols = 16, 12
	noData := -32768.0
	samples := make([]float64, rows*cols)
	for i := range samples {
		switch {
		case i%7 == 0, i%11 == 3:
			samples[i] = noData
		default:
			samples[i] = float64(i % 50)
		}
	}
	input := append([]float64(nil), samples...)

	g := NewElevationGrid(rows, cols, samples, &noData)
	filled := GapFill(g)
	for _, v := range rowMajor(filled.Samples) {
		assert.NotEqual(t, noData, v)
		assert.False(t, math.IsNaN(v))
		assert.True(t, v >= 0 && v <= 49)
	}
	assert.Equal(t, input, rowMajor(g.Samples))
}
