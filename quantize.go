package heightmap

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Quantize returns g quantized to depth bits per sample. Each sample v becomes
// round(v·max), clamped to [0, max], where max is the largest value
// representable at depth. Non-finite samples become zero.
func Quantize(g *NormalizedGrid, depth BitDepth) (*Heightmap, error) {
	if err := ValidateBitDepth(depth); err != nil {
		return nil, err
	}
	rows, cols := g.Dims()
	maxValue := float64(depth.Max())
	pix := make([]uint16, 0, rows*cols)
	for i := range rows {
		for _, v := range g.Samples.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				pix = append(pix, 0)
				continue
			}
			pix = append(pix, uint16(min(max(math.Round(v*maxValue), 0), maxValue)))
		}
	}
	return &Heightmap{
		Width:    cols,
		Height:   rows,
		BitDepth: depth,
		Pix:      pix,
	}, nil
}

// Image returns h as an *image.Gray or *image.Gray16.
func (h *Heightmap) Image() image.Image {
	rect := image.Rect(0, 0, h.Width, h.Height)
	switch h.BitDepth {
	case BitDepth8:
		img := image.NewGray(rect)
		for i, v := range h.Pix {
			img.Pix[i] = uint8(v)
		}
		return img
	default:
		img := image.NewGray16(rect)
		for i, v := range h.Pix {
			img.Pix[2*i] = uint8(v >> 8)
			img.Pix[2*i+1] = uint8(v)
		}
		return img
	}
}

// Encode writes h to w as a single-channel grayscale PNG.
func (h *Heightmap) Encode(w io.Writer) error {
	return png.Encode(w, h.Image())
}

// WritePNG writes h to the PNG file name, creating its directory if needed.
// The file is written to a temporary file in the same directory and renamed
// into place, so name either holds the complete image or is untouched.
func (h *Heightmap) WritePNG(name string) (err error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err := h.Encode(f); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}
	ok = true
	return nil
}
