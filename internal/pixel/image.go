// Package pixel is the pixel & codec toolbox (spec.md §4.1): image buffer
// allocation, solid fill, region copy/embed, raw/JPEG encode-decode, Y'CbCr
// conversion, and file-signature detection.
package pixel

import (
	"fmt"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// Format is a supported pixel format (spec.md §3: 8-bit grayscale, 24-bit RGB).
type Format int

const (
	FormatGray8 Format = iota
	FormatRGB24
)

// BytesPerPixel returns the number of bytes one pixel occupies in this format.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatGray8:
		return 1
	case FormatRGB24:
		return 3
	default:
		return 0
	}
}

func (f Format) String() string {
	switch f {
	case FormatGray8:
		return "Gray8"
	case FormatRGB24:
		return "RGB24"
	default:
		return "Unknown"
	}
}

// Photometric is the DICOM-style photometric interpretation carried
// alongside a pixel format (spec.md §3).
type Photometric int

const (
	PhotometricRGB Photometric = iota
	PhotometricMonochrome2
	PhotometricYBRFull422
	PhotometricYBRICT
)

func (p Photometric) String() string {
	switch p {
	case PhotometricRGB:
		return "RGB"
	case PhotometricMonochrome2:
		return "MONOCHROME2"
	case PhotometricYBRFull422:
		return "YBR_FULL_422"
	case PhotometricYBRICT:
		return "YBR_ICT"
	default:
		return "UNKNOWN"
	}
}

// Image is an owned, decoded pixel buffer: row-major, no padding beyond
// Pitch, planar layout for RGB24 is interleaved (R,G,B per pixel).
type Image struct {
	Format Format
	Width  int
	Height int
	Pitch  int
	Pix    []byte
}

// Allocate returns a new owned image buffer of the given format and
// dimensions. Pitch equals Width*BytesPerPixel (spec.md §4.1: "unspecified
// but positive pitch" — dicomizer always uses the tight packing).
func Allocate(format Format, w, h int) (*Image, error) {
	if w <= 0 || h <= 0 {
		return nil, dzerr.New(dzerr.KindParameterOutOfRange, "pixel", "invalid dimensions %dx%d", w, h)
	}
	bpp := format.BytesPerPixel()
	pitch := w * bpp
	return &Image{
		Format: format,
		Width:  w,
		Height: h,
		Pitch:  pitch,
		Pix:    make([]byte, pitch*h),
	}, nil
}

// Set fills img with a solid RGB color. For 8-bit grayscale it uses the
// luminance formula 0.2126*R + 0.7152*G + 0.0722*B (spec.md §4.1).
func Set(img *Image, r, g, b uint8) {
	switch img.Format {
	case FormatGray8:
		y := uint8(0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b))
		for row := 0; row < img.Height; row++ {
			line := img.Pix[row*img.Pitch : row*img.Pitch+img.Width]
			for i := range line {
				line[i] = y
			}
		}
	case FormatRGB24:
		for row := 0; row < img.Height; row++ {
			off := row * img.Pitch
			for x := 0; x < img.Width; x++ {
				idx := off + x*3
				img.Pix[idx] = r
				img.Pix[idx+1] = g
				img.Pix[idx+2] = b
			}
		}
	}
}

// Embed copies source into target at (x, y), clipping at the right and
// bottom edges. No-op if (x, y) is outside target (spec.md §4.1).
func Embed(target, source *Image, x, y int) {
	if x >= target.Width || y >= target.Height || x+source.Width <= 0 || y+source.Height <= 0 {
		return
	}
	if target.Format != source.Format {
		return
	}
	bpp := target.Format.BytesPerPixel()

	srcStartX, dstStartX := 0, x
	if dstStartX < 0 {
		srcStartX = -dstStartX
		dstStartX = 0
	}
	srcStartY, dstStartY := 0, y
	if dstStartY < 0 {
		srcStartY = -dstStartY
		dstStartY = 0
	}

	copyWidth := source.Width - srcStartX
	if dstStartX+copyWidth > target.Width {
		copyWidth = target.Width - dstStartX
	}
	copyHeight := source.Height - srcStartY
	if dstStartY+copyHeight > target.Height {
		copyHeight = target.Height - dstStartY
	}
	if copyWidth <= 0 || copyHeight <= 0 {
		return
	}

	rowBytes := copyWidth * bpp
	for row := 0; row < copyHeight; row++ {
		srcOff := (srcStartY+row)*source.Pitch + srcStartX*bpp
		dstOff := (dstStartY+row)*target.Pitch + dstStartX*bpp
		copy(target.Pix[dstOff:dstOff+rowBytes], source.Pix[srcOff:srcOff+rowBytes])
	}
}

// Crop returns a new owned Image containing the rectangle [x,y,x+w,y+h) of
// src, clamped to src's bounds.
func Crop(src *Image, x, y, w, h int) (*Image, error) {
	out, err := Allocate(src.Format, w, h)
	if err != nil {
		return nil, err
	}
	bpp := src.Format.BytesPerPixel()
	copyW := w
	if x+copyW > src.Width {
		copyW = src.Width - x
	}
	copyH := h
	if y+copyH > src.Height {
		copyH = src.Height - y
	}
	if copyW <= 0 || copyH <= 0 {
		return out, nil
	}
	rowBytes := copyW * bpp
	for row := 0; row < copyH; row++ {
		srcOff := (y+row)*src.Pitch + x*bpp
		dstOff := row * out.Pitch
		copy(out.Pix[dstOff:dstOff+rowBytes], src.Pix[srcOff:srcOff+rowBytes])
	}
	return out, nil
}

// Equal reports pixel-exact equality, used by codec round-trip tests
// (spec.md §8).
func Equal(a, b *Image) bool {
	if a.Format != b.Format || a.Width != b.Width || a.Height != b.Height {
		return false
	}
	bpp := a.Format.BytesPerPixel()
	rowBytes := a.Width * bpp
	for row := 0; row < a.Height; row++ {
		ao := row * a.Pitch
		bo := row * b.Pitch
		if string(a.Pix[ao:ao+rowBytes]) != string(b.Pix[bo:bo+rowBytes]) {
			return false
		}
	}
	return true
}

func (img *Image) String() string {
	return fmt.Sprintf("Image{%s %dx%d pitch=%d}", img.Format, img.Width, img.Height, img.Pitch)
}
