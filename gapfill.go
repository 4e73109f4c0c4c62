package heightmap

import (
	"math"

	"github.com/fogleman/delaunay"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// barycentricTolerance admits cells that lie on a triangle edge despite
// rounding.
const barycentricTolerance = 1e-9

// GapFill returns a grid with every missing sample in g replaced. Missing
// samples inside the convex hull of the known samples are linearly
// interpolated over a Delaunay triangulation of all known samples. Missing
// samples outside the hull take the mean of the known samples. If there are no
// known samples then every sample is zero. If g has no no-data value then g is
// returned unchanged.
func GapFill(g *ElevationGrid) *ElevationGrid {
	if g.NoData == nil {
		return g
	}

	rows, cols := g.Dims()
	data := rowMajor(g.Samples)
	missing := make([]bool, len(data))
	var missingCount int
	points := make([]delaunay.Point, 0, len(data))
	values := make([]float64, 0, len(data))
	for index, value := range data {
		if g.missing(value) {
			missing[index] = true
			missingCount++
			continue
		}
		points = append(points, delaunay.Point{
			X: float64(index % cols),
			Y: float64(index / cols),
		})
		values = append(values, value)
	}

	switch {
	case missingCount == 0:
	case len(values) == 0:
		clear(data)
		gapFillCells.WithLabelValues("zero").Add(float64(missingCount))
	default:
		filled := make([]bool, len(data))
		var interpolated int
		if triangulation, err := delaunay.Triangulate(points); err == nil {
			triangles := triangulation.Triangles
			for t := 0; t+2 < len(triangles); t += 3 {
				interpolated += fillTriangle(data, cols, missing, filled,
					points[triangles[t]], values[triangles[t]],
					points[triangles[t+1]], values[triangles[t+1]],
					points[triangles[t+2]], values[triangles[t+2]],
				)
			}
		}
		mean := stat.Mean(values, nil)
		for index := range data {
			if missing[index] && !filled[index] {
				data[index] = mean
			}
		}
		gapFillCells.WithLabelValues("linear").Add(float64(interpolated))
		gapFillCells.WithLabelValues("mean").Add(float64(missingCount - interpolated))
	}

	return &ElevationGrid{
		Samples: mat.NewDense(rows, cols, data),
	}
}

// fillTriangle linearly interpolates the missing, unfilled cells of data that
// lie inside the triangle abc and returns the number of cells filled.
func fillTriangle(data []float64, cols int, missing, filled []bool, a delaunay.Point, va float64, b delaunay.Point, vb float64, c delaunay.Point, vc float64) int {
	det := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if math.Abs(det) < barycentricTolerance {
		return 0
	}

	// Vertices are at integer cell coordinates, so so is the bounding box.
	minX, maxX := int(min(a.X, b.X, c.X)), int(max(a.X, b.X, c.X))
	minY, maxY := int(min(a.Y, b.Y, c.Y)), int(max(a.Y, b.Y, c.Y))

	n := 0
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			index := y*cols + x
			if !missing[index] || filled[index] {
				continue
			}
			px, py := float64(x), float64(y)
			la := ((b.Y-c.Y)*(px-c.X) + (c.X-b.X)*(py-c.Y)) / det
			lb := ((c.Y-a.Y)*(px-c.X) + (a.X-c.X)*(py-c.Y)) / det
			lc := 1 - la - lb
			if la < -barycentricTolerance || lb < -barycentricTolerance || lc < -barycentricTolerance {
				continue
			}
			data[index] = la*va + lb*vb + lc*vc
			filled[index] = true
			n++
		}
	}
	return n
}
