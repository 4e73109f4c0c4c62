package heightmap_test

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"

	"github.com/twpayne/go-heightmap"
)

func TestTransformBound(t *testing.T) {
	for _, tc := range []struct {
		name     string
		crs      string
		bound    orb.Bound
		expected orb.Bound
	}{
		{
			name:     "wgs84",
			crs:      "EPSG:4326",
			bound:    orb.Bound{Min: orb.Point{6, 45}, Max: orb.Point{7, 46}},
			expected: orb.Bound{Min: orb.Point{6, 45}, Max: orb.Point{7, 46}},
		},
		{
			name:     "web_mercator",
			crs:      "EPSG:3857",
			bound:    orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{111319.49079327357, 111325.1428663851}},
			expected: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := heightmap.TransformBound(tc.crs, tc.bound)
			assert.NoError(t, err)
			for i := range 2 {
				assert.True(t, math.Abs(tc.expected.Min[i]-actual.Min[i]) < 1e-6)
				assert.True(t, math.Abs(tc.expected.Max[i]-actual.Max[i]) < 1e-6)
			}
		})
	}
}
