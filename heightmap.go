// Package heightmap converts digital elevation models into normalized grayscale
// heightmaps for terrain renderers.
package heightmap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// SupportedResolutions are the heightmap sizes accepted by Convert. Each is
// 2^n+1.
var SupportedResolutions = []int{129, 257, 513, 1025, 2049, 4097}

// DefaultResolution is the resolution used when none is given.
const DefaultResolution = 513

var (
	ErrUnsupportedResolution = errors.New("unsupported resolution")
	ErrUnsupportedBitDepth   = errors.New("unsupported bit depth")
	ErrEmptyRaster           = errors.New("empty raster")
)

// A BitDepth is the number of bits per heightmap sample.
type BitDepth int

const (
	BitDepth8  BitDepth = 8
	BitDepth16 BitDepth = 16
)

// Max returns the largest sample value representable at d.
func (d BitDepth) Max() int {
	return 1<<int(d) - 1
}

// ValidateResolution returns an error if resolution is not one of
// SupportedResolutions.
func ValidateResolution(resolution int) error {
	if !slices.Contains(SupportedResolutions, resolution) {
		return fmt.Errorf("%w: %d", ErrUnsupportedResolution, resolution)
	}
	return nil
}

// ValidateBitDepth returns an error if d is not 8 or 16.
func ValidateBitDepth(d BitDepth) error {
	switch d {
	case BitDepth8, BitDepth16:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, d)
	}
}

// An ElevationGrid is a grid of elevation samples in the row order of the
// source raster. If NoData is non-nil, samples equal to *NoData are missing.
type ElevationGrid struct {
	Samples *mat.Dense
	NoData  *float64
}

// NewElevationGrid returns a new ElevationGrid with the given row-major
// samples. samples is used directly and must have length rows*cols.
func NewElevationGrid(rows, cols int, samples []float64, noData *float64) *ElevationGrid {
	return &ElevationGrid{
		Samples: mat.NewDense(rows, cols, samples),
		NoData:  noData,
	}
}

// Dims returns the number of rows and columns in g.
func (g *ElevationGrid) Dims() (int, int) {
	return g.Samples.Dims()
}

// missing returns whether v is a missing sample.
func (g *ElevationGrid) missing(v float64) bool {
	if g.NoData == nil {
		return false
	}
	return v == *g.NoData || math.IsNaN(v)
}

// A NormalizedGrid is a grid of samples in the range [0, 1].
type NormalizedGrid struct {
	Samples *mat.Dense
}

// Dims returns the number of rows and columns in g.
func (g *NormalizedGrid) Dims() (int, int) {
	return g.Samples.Dims()
}

// A Heightmap is a grid of quantized samples, row-major with the origin at the
// top left.
type Heightmap struct {
	Width    int
	Height   int
	BitDepth BitDepth
	Pix      []uint16
}

// At returns the sample at row i and column j.
func (h *Heightmap) At(i, j int) uint16 {
	return h.Pix[i*h.Width+j]
}

// A Raster is a decoded single-band raster.
type Raster struct {
	Grid         *ElevationGrid
	Bands        int
	Bounds       orb.Bound
	CRS          string
	GeoTransform [6]float64
}

// A RasterSource decodes rasters.
type RasterSource interface {
	ReadRaster(ctx context.Context, name string) (*Raster, error)
}

// rowMajor returns a copy of the samples in m in row-major order.
func rowMajor(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for i := range rows {
		data = append(data, m.RawRowView(i)...)
	}
	return data
}
