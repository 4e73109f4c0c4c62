package heightmap

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// A Converter converts rasters into heightmaps.
type Converter struct {
	source      RasterSource
	logger      *zap.Logger
	smoothSigma float64
}

// A ConverterOption sets an option on a Converter.
type ConverterOption func(*Converter)

// NewConverter returns a new Converter. By default it reads GeoTIFFs with
// os.Open, does not log, and does not smooth.
func NewConverter(options ...ConverterOption) *Converter {
	c := &Converter{
		source: NewGeoTIFFSource(),
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithRasterSource sets the source of rasters.
func WithRasterSource(source RasterSource) ConverterOption {
	return func(c *Converter) {
		c.source = source
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ConverterOption {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithSmoothing sets the standard deviation, in source samples, of a Gaussian
// blur applied after normalization. Zero disables smoothing.
func WithSmoothing(sigma float64) ConverterOption {
	return func(c *Converter) {
		c.smoothSigma = sigma
	}
}

// Convert converts the raster src into a resolution×resolution PNG heightmap
// at dst and returns dst. resolution and depth are validated before src is
// opened. dst is only created if the conversion succeeds.
func (c *Converter) Convert(ctx context.Context, src, dst string, resolution int, depth BitDepth) (_ string, err error) {
	const op = "convert"

	if err := ValidateResolution(resolution); err != nil {
		return "", NewError(KindInput, op, err.Error(), err)
	}
	if err := ValidateBitDepth(depth); err != nil {
		return "", NewError(KindInput, op, err.Error(), err)
	}

	start := time.Now()
	defer func() {
		if err != nil {
			conversions.WithLabelValues("error").Inc()
			c.logger.Warn("conversion failed",
				zap.String("src", src),
				zap.Error(err),
			)
			return
		}
		conversions.WithLabelValues("ok").Inc()
		c.logger.Info("converted",
			zap.String("src", src),
			zap.String("dst", dst),
			zap.Int("resolution", resolution),
			zap.Int("bitDepth", int(depth)),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	stageStart := time.Now()
	raster, err := c.source.ReadRaster(ctx, src)
	if err != nil {
		return "", err
	}
	observeStage("read", stageStart)

	grid := raster.Grid
	var normalized *NormalizedGrid
	for _, stage := range []struct {
		name string
		f    func()
	}{
		{"gap_fill", func() { grid = GapFill(grid) }},
		{"normalize", func() { normalized = Normalize(grid) }},
		{"smooth", func() { normalized = Smooth(normalized, c.smoothSigma) }},
		{"resample", func() { normalized = Resample(normalized, resolution) }},
	} {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		stageStart := time.Now()
		stage.f()
		observeStage(stage.name, stageStart)
	}

	stageStart = time.Now()
	heightmap, err := Quantize(normalized, depth)
	if err != nil {
		return "", NewError(KindProcessing, op, "cannot quantize heightmap", err)
	}
	observeStage("quantize", stageStart)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	stageStart = time.Now()
	if err := heightmap.WritePNG(dst); err != nil {
		return "", NewError(KindProcessing, op, "cannot write heightmap", err)
	}
	observeStage("encode", stageStart)

	return dst, nil
}

// Convert converts the GeoTIFF src into a PNG heightmap at dst with a default
// Converter.
func Convert(ctx context.Context, src, dst string, resolution int, depth BitDepth) (string, error) {
	return NewConverter().Convert(ctx, src, dst, resolution, depth)
}
