package heightmap

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v10"
)

// CRSWGS84 is the CRS of longitude and latitude in degrees.
const CRSWGS84 = "EPSG:4326"

// TransformBound returns the bound of the corners of bound transformed from
// crs to WGS84 longitude and latitude.
func TransformBound(crs string, bound orb.Bound) (orb.Bound, error) {
	if strings.EqualFold(crs, CRSWGS84) {
		return bound, nil
	}

	pj, err := proj.NewCRSToCRS(crs, CRSWGS84, nil)
	if err != nil {
		return orb.Bound{}, err
	}
	pj, err = pj.NormalizeForVisualization()
	if err != nil {
		return orb.Bound{}, err
	}

	coords := [][]float64{
		{bound.Min[0], bound.Min[1]},
		{bound.Max[0], bound.Min[1]},
		{bound.Max[0], bound.Max[1]},
		{bound.Min[0], bound.Max[1]},
	}
	if err := pj.ForwardFloat64Slices(coords); err != nil {
		return orb.Bound{}, err
	}

	result := orb.Point{coords[0][0], coords[0][1]}.Bound()
	for _, coord := range coords[1:] {
		result = result.Extend(orb.Point{coord[0], coord[1]})
	}
	return result, nil
}
