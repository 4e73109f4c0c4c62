package heightmap

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// RasterInfo describes a raster.
type RasterInfo struct {
	Width        int
	Height       int
	Bands        int
	MinElevation float64
	MaxElevation float64
	NoData       *float64
	Bounds       orb.Bound
	BoundsWGS84  *orb.Bound // Nil if the CRS is unknown or cannot be transformed.
	CRS          string
	GeoTransform [6]float64
}

// ReadInfo returns information about the raster name. The minimum and maximum
// elevations ignore missing samples.
func (c *Converter) ReadInfo(ctx context.Context, name string) (*RasterInfo, error) {
	const op = "read info"

	raster, err := c.source.ReadRaster(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, cols := raster.Grid.Dims()
	info := &RasterInfo{
		Width:        cols,
		Height:       rows,
		Bands:        raster.Bands,
		NoData:       raster.Grid.NoData,
		Bounds:       raster.Bounds,
		CRS:          raster.CRS,
		GeoTransform: raster.GeoTransform,
	}

	var known bool
	for i := range rows {
		for _, v := range raster.Grid.Samples.RawRowView(i) {
			switch {
			case raster.Grid.missing(v), math.IsNaN(v):
			case !known:
				info.MinElevation, info.MaxElevation = v, v
				known = true
			default:
				info.MinElevation = min(info.MinElevation, v)
				info.MaxElevation = max(info.MaxElevation, v)
			}
		}
	}
	if !known {
		return nil, NewError(KindProcessing, op, "raster has no valid samples", ErrEmptyRaster)
	}

	if info.CRS != "" {
		switch bound, err := TransformBound(info.CRS, info.Bounds); {
		case err != nil:
			c.logger.Warn("cannot transform bounds",
				zap.String("crs", info.CRS),
				zap.Error(err),
			)
		default:
			info.BoundsWGS84 = &bound
		}
	}

	return info, nil
}

// ReadInfo returns information about the GeoTIFF name with a default Converter.
func ReadInfo(ctx context.Context, name string) (*RasterInfo, error) {
	return NewConverter().ReadInfo(ctx, name)
}
