package heightmap

import (
	"errors"
	"fmt"
)

var errParse = errors.New("geokey parse error")

// A GeoKey is a key in a GeoTIFF GeoKeyDirectoryTag.
type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS         GeoKey = 2048
	GeoKeyGeogCitation        GeoKey = 2049
	GeoKeyGeodeticDatum       GeoKey = 2050
	GeoKeyPrimeMeridian       GeoKey = 2051
	GeoKeyAngularUnits        GeoKey = 2054
	GeoKeyGeogAngularUnitSize GeoKey = 2055
	GeoKeyEllipsoid           GeoKey = 2056

	GeoKeyProjectedCRS GeoKey = 3072
	GeoKeyPCSCitation  GeoKey = 3073
	GeoKeyProjection   GeoKey = 3074
	GeoKeyProjMethod   GeoKey = 3075
	GeoKeyLinearUnits  GeoKey = 3076

	GeoKeyVertical GeoKey = 4096
)

const (
	geoDoubleParamsTag = 34736
	geoASCIIParamsTag  = 34737

	// userDefinedCode marks a CRS that is described by other keys rather
	// than an EPSG code.
	userDefinedCode = 32767

	// RasterPixelIsArea and RasterPixelIsPoint are the values of
	// GeoKeyGTRasterType.
	RasterPixelIsArea  = 1
	RasterPixelIsPoint = 2
)

// ParsedGeoKeys are the keys of a GeoTIFF GeoKeyDirectoryTag, split by the
// location of their values.
type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and its parameter tags.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		switch tiffTagLocation {
		case 0:
			if numberOfValues != 1 {
				return nil, errParse
			}
			parsedGeoKeys.Params[key] = int(keyValues[3])
		case geoDoubleParamsTag:
			index := int(keyValues[3])
			if numberOfValues != 1 {
				return nil, errors.ErrUnsupported
			}
			if index >= len(doubleParams) {
				return nil, fmt.Errorf("%w: key %d: double param %d out of range", errParse, key, index)
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[index]
		case geoASCIIParamsTag:
			index := int(keyValues[3])
			if index+numberOfValues > len(asciiParams) {
				return nil, fmt.Errorf("%w: key %d: ascii param %d out of range", errParse, key, index)
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[index : index+numberOfValues])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// EPSG returns the EPSG code of the projected CRS, or of the geodetic CRS if
// there is no projected CRS. ok is false if neither is an EPSG code.
func (k *ParsedGeoKeys) EPSG() (code int, ok bool) {
	for _, key := range []GeoKey{GeoKeyProjectedCRS, GeoKeyGeodeticCRS} {
		if code, ok := k.Params[key]; ok && code != 0 && code != userDefinedCode {
			return code, true
		}
	}
	return 0, false
}

// RasterType returns the value of GeoKeyGTRasterType, defaulting to
// RasterPixelIsArea.
func (k *ParsedGeoKeys) RasterType() int {
	if rasterType, ok := k.Params[GeoKeyGTRasterType]; ok {
		return rasterType
	}
	return RasterPixelIsArea
}
