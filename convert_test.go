package heightmap

import (
	"context"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

// A testRasterSource returns a fixed raster and counts calls.
type testRasterSource struct {
	raster *Raster
	calls  atomic.Int32
}

func (s *testRasterSource) ReadRaster(ctx context.Context, name string) (*Raster, error) {
	s.calls.Add(1)
	return s.raster, nil
}

func endToEndSamples() []float64 {
	samples := make([]float64, 0, 16)
	for range 4 {
		samples = append(samples, 100, 150, 200, 250)
	}
	samples[5] = -9999
	return samples
}

func TestPipelineEndToEnd(t *testing.T) {
	grid := NewElevationGrid(4, 4, endToEndSamples(), ptr(-9999.0))

	filled := GapFill(grid)
	filledValue := filled.Samples.At(1, 1)
	assert.True(t, filledValue > 100 && filledValue < 250)

	normalized := Normalize(filled)
	assert.Equal(t, 0.0, normalized.Samples.At(0, 0))
	assert.Equal(t, 1.0, normalized.Samples.At(0, 3))

	resampled := Resample(normalized, 8)
	for i := range 8 {
		row := resampled.Samples.RawRowView(i)
		for j := 1; j < len(row); j++ {
			assert.True(t, row[j] >= row[j-1])
		}
		assert.True(t, row[len(row)-1] > row[0])
	}

	heightmap, err := Quantize(resampled, BitDepth16)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0), heightmap.At(0, 0))
	assert.Equal(t, uint16(65535), heightmap.At(0, 7))
}

func TestConvert(t *testing.T) {
	fixture := &geoTIFFFixture{
		width:   4,
		height:  4,
		samples: endToEndSamples(),
		noData:  "-9999",
	}
	src := fixture.write(t)
	dst := filepath.Join(t.TempDir(), "out", "heightmap.png")

	converter := NewConverter(WithLogger(zaptest.NewLogger(t)))
	actual, err := converter.Convert(t.Context(), src, dst, 129, BitDepth16)
	assert.NoError(t, err)
	assert.Equal(t, dst, actual)

	f, err := os.Open(dst)
	assert.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	assert.NoError(t, err)
	gray16, ok := img.(*image.Gray16)
	assert.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 129, 129), gray16.Bounds())
	assert.Equal(t, uint16(0), gray16.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(65535), gray16.Gray16At(128, 0).Y)
}

func TestConvertSmoothing(t *testing.T) {
	fixture := &geoTIFFFixture{
		width:   4,
		height:  4,
		samples: endToEndSamples(),
		noData:  "-9999",
	}
	dst := filepath.Join(t.TempDir(), "heightmap.png")
	_, err := NewConverter(WithSmoothing(1)).Convert(t.Context(), fixture.write(t), dst, 129, BitDepth8)
	assert.NoError(t, err)
	_, err = os.Stat(dst)
	assert.NoError(t, err)
}

func TestConvertSharedRaster(t *testing.T) {
	grid := NewElevationGrid(4, 4, endToEndSamples(), ptr(-9999.0))
	source := &testRasterSource{
		raster: &Raster{
			Grid:  grid,
			Bands: 1,
		},
	}
	converter := NewConverter(WithRasterSource(source))
	dir := t.TempDir()

	var g errgroup.Group
	for i := range 4 {
		g.Go(func() error {
			dst := filepath.Join(dir, "heightmap"+strconv.Itoa(i)+".png")
			_, err := converter.Convert(t.Context(), "dem.tif", dst, 129, BitDepth16)
			return err
		})
	}
	assert.NoError(t, g.Wait())

	assert.Equal(t, int32(4), source.calls.Load())
	assert.True(t, source.raster.Grid == grid)
	assert.Equal(t, ptr(-9999.0), source.raster.Grid.NoData)
	assert.Equal(t, -9999.0, source.raster.Grid.Samples.At(1, 1))

	expected, err := os.ReadFile(filepath.Join(dir, "heightmap0.png"))
	assert.NoError(t, err)
	for i := 1; i < 4; i++ {
		actual, err := os.ReadFile(filepath.Join(dir, "heightmap"+strconv.Itoa(i)+".png"))
		assert.NoError(t, err)
		assert.Equal(t, expected, actual)
	}
}

func TestConvertValidatesBeforeIO(t *testing.T) {
	source := &testRasterSource{}
	dir := t.TempDir()
	dst := filepath.Join(dir, "out", "heightmap.png")
	converter := NewConverter(WithRasterSource(source))

	_, err := converter.Convert(t.Context(), filepath.Join(dir, "missing.tif"), dst, 500, BitDepth16)
	assert.IsError(t, err, ErrUnsupportedResolution)
	assert.Equal(t, KindInput, KindOf(err))

	_, err = converter.Convert(t.Context(), filepath.Join(dir, "missing.tif"), dst, 513, 24)
	assert.IsError(t, err, ErrUnsupportedBitDepth)
	assert.Equal(t, KindInput, KindOf(err))

	assert.Equal(t, int32(0), source.calls.Load())
	_, err = os.Stat(filepath.Join(dir, "out"))
	assert.IsError(t, err, fs.ErrNotExist)
}

func TestConvertMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := Convert(t.Context(), filepath.Join(dir, "missing.tif"), filepath.Join(dir, "heightmap.png"), 513, BitDepth16)
	assert.Equal(t, KindInput, KindOf(err))
	assert.IsError(t, err, fs.ErrNotExist)
}

func TestConvertCanceled(t *testing.T) {
	source := &testRasterSource{
		raster: &Raster{
			Grid:  NewElevationGrid(2, 2, []float64{1, 2, 3, 4}, nil),
			Bands: 1,
		},
	}
	dst := filepath.Join(t.TempDir(), "heightmap.png")
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NewConverter(WithRasterSource(source)).Convert(ctx, "dem.tif", dst, 129, BitDepth8)
	assert.IsError(t, err, context.Canceled)
	_, err = os.Stat(dst)
	assert.IsError(t, err, fs.ErrNotExist)
}

func TestReadInfo(t *testing.T) {
	fixture := &geoTIFFFixture{
		width:      4,
		height:     4,
		samples:    endToEndSamples(),
		noData:     "-9999",
		pixelScale: []float64{0.25, 0.25, 0},
		tiepoint:   []float64{0, 0, 0, 6, 46, 0},
		geoKeys: []uint16{
			1, 1, 0, 1,
			2048, 0, 1, 4326,
		},
	}

	info, err := ReadInfo(t.Context(), fixture.write(t))
	assert.NoError(t, err)
	bounds := orb.Bound{Min: orb.Point{6, 45}, Max: orb.Point{7, 46}}
	assert.Equal(t, &RasterInfo{
		Width:        4,
		Height:       4,
		Bands:        1,
		MinElevation: 100,
		MaxElevation: 250,
		NoData:       ptr(-9999.0),
		Bounds:       bounds,
		BoundsWGS84:  &bounds,
		CRS:          "EPSG:4326",
		GeoTransform: [6]float64{6, 0.25, 0, 46, 0, -0.25},
	}, info)
}

func TestReadInfoAllMissing(t *testing.T) {
	source := &testRasterSource{
		raster: &Raster{
			Grid:  NewElevationGrid(1, 2, []float64{-1, -1}, ptr(-1.0)),
			Bands: 1,
		},
	}
	_, err := NewConverter(WithRasterSource(source)).ReadInfo(t.Context(), "dem.tif")
	assert.IsError(t, err, ErrEmptyRaster)
	assert.Equal(t, KindProcessing, KindOf(err))
}
