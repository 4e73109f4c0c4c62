package heightmap

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/klauspost/compress/zlib"
	"github.com/paulmach/orb"
	"golang.org/x/image/tiff/lzw"
)

// DefaultMaxSamples is the default limit on the number of samples in a raster.
const DefaultMaxSamples = 1 << 26

// TIFF compression schemes.
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatFloat      = 3
)

var errShortRead = errors.New("short read")

// A GeoTIFFSource is a RasterSource that reads single-band GeoTIFF and BigTIFF
// files. Strips and tiles are supported, uncompressed or compressed with LZW or
// Deflate, with or without a predictor.
type GeoTIFFSource struct {
	fsys       fs.FS
	maxSamples int
}

// A GeoTIFFSourceOption sets an option on a GeoTIFFSource.
type GeoTIFFSourceOption func(*GeoTIFFSource)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag    []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// A chunkLayout describes how a raster is split into strips or tiles.
type chunkLayout struct {
	width, height int // Chunk dimensions in samples. Strips are the full image width.
	across        int // Chunks per row of chunks.
	offsets       []uint64
	byteCounts    []uint64
}

// A sampleDecoder decodes one sample from b.
type sampleDecoder func(b []byte, order binary.ByteOrder) float64

type geoTIFFFile interface {
	io.ReadSeeker
	io.ReaderAt
	io.Closer
	Stat() (fs.FileInfo, error)
}

// NewGeoTIFFSource returns a new GeoTIFFSource.
func NewGeoTIFFSource(options ...GeoTIFFSourceOption) *GeoTIFFSource {
	s := &GeoTIFFSource{
		maxSamples: DefaultMaxSamples,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// WithFS sets the filesystem that names are opened in. By default names are
// opened with os.Open.
func WithFS(fsys fs.FS) GeoTIFFSourceOption {
	return func(s *GeoTIFFSource) {
		s.fsys = fsys
	}
}

// WithMaxSamples sets the largest raster, in samples, that will be decoded.
func WithMaxSamples(maxSamples int) GeoTIFFSourceOption {
	return func(s *GeoTIFFSource) {
		s.maxSamples = maxSamples
	}
}

// ReadRaster implements RasterSource.ReadRaster.
func (s *GeoTIFFSource) ReadRaster(ctx context.Context, name string) (*Raster, error) {
	const op = "read raster"

	file, err := s.open(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, NewError(KindInput, op, "raster not found", err)
	case err != nil:
		return nil, NewError(KindProcessing, op, "cannot open raster", err)
	}
	defer file.Close()

	order, err := readByteOrder(file)
	if err != nil {
		return nil, NewError(KindProcessing, op, "invalid raster", err)
	}

	tiffTIFF, err := tiff.Parse(file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, NewError(KindProcessing, op, "invalid raster", err)
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, NewError(KindProcessing, op, "invalid raster", errors.New("no IFDs"))
	}

	// Further IFDs are overviews or masks.
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, NewError(KindProcessing, op, "invalid raster", err)
	}

	width, height := int(ifd.ImageWidth), int(ifd.ImageLength)
	switch {
	case width == 0 || height == 0:
		return nil, NewError(KindProcessing, op, "empty raster", ErrEmptyRaster)
	case width > s.maxSamples/height:
		return nil, NewError(KindProcessing, op, "raster too large", fmt.Errorf("%dx%d samples", width, height))
	}

	decode, bytesPerSample, err := ifd.sampleDecoder()
	if err != nil {
		return nil, NewError(KindProcessing, op, "unsupported raster", err)
	}
	layout, err := ifd.chunkLayout()
	if err != nil {
		return nil, NewError(KindProcessing, op, "unsupported raster", err)
	}
	if layout.width > s.maxSamples/layout.height {
		return nil, NewError(KindProcessing, op, "raster too large", fmt.Errorf("%dx%d sample chunks", layout.width, layout.height))
	}

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, NewError(KindProcessing, op, "cannot open raster", err)
	}
	fileSize := uint64(max(fileInfo.Size(), 0))

	samples := make([]float64, width*height)
	chunkRowBytes := layout.width * bytesPerSample
	for index := range layout.offsets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Strips may be short at the bottom of the image; tiles are always
		// padded to full size.
		chunkX := (index % layout.across) * layout.width
		chunkY := (index / layout.across) * layout.height
		chunkHeight := layout.height
		if ifd.TileWidth == 0 {
			chunkHeight = min(layout.height, height-chunkY)
		}
		if chunkY >= height || chunkHeight <= 0 {
			continue
		}

		offset, byteCount := layout.offsets[index], layout.byteCounts[index]
		if offset > fileSize || byteCount > fileSize-offset {
			return nil, NewError(KindProcessing, op, "corrupt raster", fmt.Errorf("chunk %d: %d bytes at offset %d: %w", index, byteCount, offset, errShortRead))
		}
		data, err := ifd.readChunk(file, offset, byteCount, chunkRowBytes*chunkHeight)
		if err != nil {
			return nil, NewError(KindProcessing, op, "corrupt raster", fmt.Errorf("chunk %d: %w", index, err))
		}
		sampleOrder := ifd.unpredict(data, chunkRowBytes, bytesPerSample, order)

		for y := range min(chunkHeight, height-chunkY) {
			row := data[y*chunkRowBytes : (y+1)*chunkRowBytes]
			dst := samples[(chunkY+y)*width:]
			for x := range min(layout.width, width-chunkX) {
				dst[chunkX+x] = decode(row[x*bytesPerSample:(x+1)*bytesPerSample], sampleOrder)
			}
		}
	}

	noData, err := ifd.noData()
	if err != nil {
		return nil, NewError(KindProcessing, op, "invalid no-data value", err)
	}

	raster := &Raster{
		Grid:  NewElevationGrid(height, width, samples, noData),
		Bands: int(max(ifd.SamplesPerPixel, 1)),
	}
	if err := ifd.georeference(raster, width, height); err != nil {
		return nil, NewError(KindProcessing, op, "invalid georeferencing", err)
	}
	return raster, nil
}

func (s *GeoTIFFSource) open(name string) (geoTIFFFile, error) {
	if s.fsys == nil {
		return os.Open(name)
	}
	file, err := s.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	f, ok := file.(geoTIFFFile)
	if !ok {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	return f, nil
}

// readByteOrder reads the byte order mark at the start of r.
func readByteOrder(r io.ReaderAt) (binary.ByteOrder, error) {
	var mark [2]byte
	if _, err := r.ReadAt(mark[:], 0); err != nil {
		return nil, err
	}
	switch string(mark[:]) {
	case "II":
		return binary.LittleEndian, nil
	case "MM":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("%q: invalid byte order", mark[:])
	}
}

func (ifd *geoTIFFIFD) sampleDecoder() (sampleDecoder, int, error) {
	if ifd.SamplesPerPixel > 1 {
		return nil, 0, fmt.Errorf("%d samples per pixel: %w", ifd.SamplesPerPixel, errors.ErrUnsupported)
	}
	sampleFormat := ifd.SampleFormat
	if sampleFormat == 0 {
		sampleFormat = sampleFormatUint
	}
	bitsPerSample := ifd.BitsPerSample
	if bitsPerSample == 0 {
		bitsPerSample = 1
	}
	switch key := [2]uint16{sampleFormat, bitsPerSample}; key {
	case [2]uint16{sampleFormatUint, 8}:
		return func(b []byte, _ binary.ByteOrder) float64 { return float64(b[0]) }, 1, nil
	case [2]uint16{sampleFormatInt, 8}:
		return func(b []byte, _ binary.ByteOrder) float64 { return float64(int8(b[0])) }, 1, nil
	case [2]uint16{sampleFormatUint, 16}:
		return func(b []byte, o binary.ByteOrder) float64 { return float64(o.Uint16(b)) }, 2, nil
	case [2]uint16{sampleFormatInt, 16}:
		return func(b []byte, o binary.ByteOrder) float64 { return float64(int16(o.Uint16(b))) }, 2, nil
	case [2]uint16{sampleFormatUint, 32}:
		return func(b []byte, o binary.ByteOrder) float64 { return float64(o.Uint32(b)) }, 4, nil
	case [2]uint16{sampleFormatInt, 32}:
		return func(b []byte, o binary.ByteOrder) float64 { return float64(int32(o.Uint32(b))) }, 4, nil
	case [2]uint16{sampleFormatFloat, 32}:
		return func(b []byte, o binary.ByteOrder) float64 { return float64(math.Float32frombits(o.Uint32(b))) }, 4, nil
	case [2]uint16{sampleFormatUint, 64}:
		return func(b []byte, o binary.ByteOrder) float64 { return float64(o.Uint64(b)) }, 8, nil
	case [2]uint16{sampleFormatInt, 64}:
		return func(b []byte, o binary.ByteOrder) float64 { return float64(int64(o.Uint64(b))) }, 8, nil
	case [2]uint16{sampleFormatFloat, 64}:
		return func(b []byte, o binary.ByteOrder) float64 { return math.Float64frombits(o.Uint64(b)) }, 8, nil
	default:
		return nil, 0, fmt.Errorf("sample format %d with %d bits: %w", key[0], key[1], errors.ErrUnsupported)
	}
}

func (ifd *geoTIFFIFD) chunkLayout() (*chunkLayout, error) {
	width, height := int(ifd.ImageWidth), int(ifd.ImageLength)
	var layout chunkLayout
	if ifd.TileWidth != 0 {
		if ifd.TileLength == 0 {
			return nil, errors.New("tile length missing")
		}
		layout = chunkLayout{
			width:      int(ifd.TileWidth),
			height:     int(ifd.TileLength),
			across:     (width + int(ifd.TileWidth) - 1) / int(ifd.TileWidth),
			offsets:    ifd.TileOffsets,
			byteCounts: ifd.TileByteCounts,
		}
	} else {
		rowsPerStrip := int(ifd.RowsPerStrip)
		if rowsPerStrip == 0 || rowsPerStrip > height {
			rowsPerStrip = height
		}
		layout = chunkLayout{
			width:      width,
			height:     rowsPerStrip,
			across:     1,
			offsets:    ifd.StripOffsets,
			byteCounts: ifd.StripByteCounts,
		}
	}
	down := (height + layout.height - 1) / layout.height
	if len(layout.offsets) < layout.across*down || len(layout.byteCounts) != len(layout.offsets) {
		return nil, errors.New("incorrect number of chunk byte counts or offsets")
	}
	switch ifd.Compression {
	case 0, compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("compression %d: %w", ifd.Compression, errors.ErrUnsupported)
	}
	switch ifd.Predictor {
	case 0, predictorNone, predictorHorizontal:
	case predictorFloatingPoint:
		if ifd.SampleFormat != sampleFormatFloat {
			return nil, errors.New("floating point predictor on integer samples")
		}
	default:
		return nil, fmt.Errorf("predictor %d: %w", ifd.Predictor, errors.ErrUnsupported)
	}
	return &layout, nil
}

// readChunk reads and decompresses the chunk at offset. The result has length
// size.
func (ifd *geoTIFFIFD) readChunk(r io.ReaderAt, offset, byteCount uint64, size int) ([]byte, error) {
	compressedData := make([]byte, byteCount)
	switch n, err := r.ReadAt(compressedData, int64(offset)); {
	case n == len(compressedData):
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}

	var dr io.Reader
	switch ifd.Compression {
	case 0, compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		dr = lzwReader
	default:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		dr = zlibReader
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(dr, data); err != nil {
		return nil, err
	}
	return data, nil
}

// unpredict reverses the predictor applied to data in place and returns the
// byte order of the resulting samples.
func (ifd *geoTIFFIFD) unpredict(data []byte, rowBytes, bytesPerSample int, order binary.ByteOrder) binary.ByteOrder {
	switch ifd.Predictor {
	case predictorHorizontal:
		for start := 0; start+rowBytes <= len(data); start += rowBytes {
			undoHorizontalDifferencing(data[start:start+rowBytes], bytesPerSample, order)
		}
		return order
	case predictorFloatingPoint:
		tmp := make([]byte, rowBytes)
		for start := 0; start+rowBytes <= len(data); start += rowBytes {
			undoFloatingPointDifferencing(data[start:start+rowBytes], tmp, bytesPerSample)
		}
		return binary.BigEndian
	default:
		return order
	}
}

// undoHorizontalDifferencing reverses TIFF predictor 2 on one row. Sums wrap
// at the sample width.
func undoHorizontalDifferencing(row []byte, bytesPerSample int, order binary.ByteOrder) {
	n := len(row) / bytesPerSample
	switch bytesPerSample {
	case 1:
		for i := 1; i < n; i++ {
			row[i] += row[i-1]
		}
	case 2:
		for i := 1; i < n; i++ {
			order.PutUint16(row[2*i:], order.Uint16(row[2*i:])+order.Uint16(row[2*(i-1):]))
		}
	case 4:
		for i := 1; i < n; i++ {
			order.PutUint32(row[4*i:], order.Uint32(row[4*i:])+order.Uint32(row[4*(i-1):]))
		}
	case 8:
		for i := 1; i < n; i++ {
			order.PutUint64(row[8*i:], order.Uint64(row[8*i:])+order.Uint64(row[8*(i-1):]))
		}
	}
}

// undoFloatingPointDifferencing reverses TIFF predictor 3 on one row. The row
// is stored as byte planes, most significant first, and byte-wise
// differenced. On return each sample is big-endian.
func undoFloatingPointDifferencing(row, tmp []byte, bytesPerSample int) {
	for i := 1; i < len(row); i++ {
		row[i] += row[i-1]
	}
	copy(tmp, row)
	n := len(row) / bytesPerSample
	for i := range n {
		for b := range bytesPerSample {
			row[i*bytesPerSample+b] = tmp[b*n+i]
		}
	}
}

// noData returns the GDAL no-data value, rounded to the sample type.
func (ifd *geoTIFFIFD) noData() (*float64, error) {
	s := strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00"))
	if s == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if ifd.SampleFormat == sampleFormatFloat && ifd.BitsPerSample == 32 {
		value = float64(float32(value))
	}
	return &value, nil
}

// georeference sets the geotransform, bounds and CRS of raster.
func (ifd *geoTIFFIFD) georeference(raster *Raster, width, height int) error {
	var geoKeys *ParsedGeoKeys
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		var err error
		geoKeys, err = ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return err
		}
		if code, ok := geoKeys.EPSG(); ok {
			raster.CRS = "EPSG:" + strconv.Itoa(code)
		}
	}

	switch m, scale, tiepoint := ifd.ModelTransformationTag, ifd.ModelPixelScaleTag, ifd.ModelTiepointTag; {
	case len(m) == 16:
		raster.GeoTransform = [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}
	case len(scale) >= 2 && len(tiepoint) >= 6:
		originX := tiepoint[3] - tiepoint[0]*scale[0]
		originY := tiepoint[4] + tiepoint[1]*scale[1]
		if geoKeys != nil && geoKeys.RasterType() == RasterPixelIsPoint {
			originX -= scale[0] / 2
			originY += scale[1] / 2
		}
		raster.GeoTransform = [6]float64{originX, scale[0], 0, originY, 0, -scale[1]}
	default:
		raster.GeoTransform = [6]float64{0, 1, 0, 0, 0, 1}
	}

	raster.Bounds = geoTransformBound(raster.GeoTransform, width, height)
	return nil
}

// geoTransformBound returns the bound of the corners of a width×height raster
// with geotransform gt.
func geoTransformBound(gt [6]float64, width, height int) orb.Bound {
	corner := func(col, row float64) orb.Point {
		return orb.Point{
			gt[0] + col*gt[1] + row*gt[2],
			gt[3] + col*gt[4] + row*gt[5],
		}
	}
	w, h := float64(width), float64(height)
	bound := corner(0, 0).Bound()
	for _, p := range []orb.Point{corner(w, 0), corner(0, h), corner(w, h)} {
		bound = bound.Extend(p)
	}
	return bound
}
