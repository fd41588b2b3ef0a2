package pyramid

import (
	"github.com/pspoerri/dicomizer/internal/pixel"
)

// PlainImageSource exposes a single fully-decoded image (from a plain TIFF,
// PNG, or JPEG file) as a one-level pyramid, tiled on demand by a
// configurable tile size and optionally padded to an alignment for IIIF
// deep-zoom compatibility (spec.md §4.2 "Plain TIFF, plain PNG, plain
// JPEG"). The whole-file decode itself (stdlib image/jpeg, image/png, or
// internal/tiffio for a single untiled directory) is the caller's job —
// this type only provides the tiled view over the result.
type PlainImageSource struct {
	img         *pixel.Image
	photometric pixel.Photometric
	tileWidth   int
	tileHeight  int
	paddedWidth  int
	paddedHeight int
	background  [3]uint8
}

// OpenPlainImageSource wraps a decoded whole image as a single-level
// pyramid. targetTileWidth/Height size the virtual tile grid (spec.md §4.2:
// "tiled by a configurable target tile size"). padding rounds the exposed
// level dimensions up to a multiple of padding (1 = no padding); padded
// regions decode as background-filled tiles.
func OpenPlainImageSource(img *pixel.Image, photometric pixel.Photometric, targetTileWidth, targetTileHeight, padding int, background [3]uint8) *PlainImageSource {
	if padding < 1 {
		padding = 1
	}
	return &PlainImageSource{
		img:          img,
		photometric:  photometric,
		tileWidth:    targetTileWidth,
		tileHeight:   targetTileHeight,
		paddedWidth:  roundUp(img.Width, padding),
		paddedHeight: roundUp(img.Height, padding),
		background:   background,
	}
}

func roundUp(v, multiple int) int {
	if multiple <= 1 {
		return v
	}
	return ((v + multiple - 1) / multiple) * multiple
}

func (s *PlainImageSource) LevelCount() int { return 1 }
func (s *PlainImageSource) LevelWidth(int) int  { return s.paddedWidth }
func (s *PlainImageSource) LevelHeight(int) int { return s.paddedHeight }
func (s *PlainImageSource) TileWidth(int) int   { return s.tileWidth }
func (s *PlainImageSource) TileHeight(int) int  { return s.tileHeight }
func (s *PlainImageSource) PixelFormat() pixel.Format { return s.img.Format }
func (s *PlainImageSource) PhotometricInterpretation() pixel.Photometric { return s.photometric }

// ReadRawTile always returns ok=false: a plain image source has no raw
// per-tile storage, only the one decoded whole image (spec.md §4.2).
func (s *PlainImageSource) ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error) {
	return nil, 0, false, nil
}

func (s *PlainImageSource) DecodeTile(level, x, y int) (*pixel.Image, bool, error) {
	x0 := x * s.tileWidth
	y0 := y * s.tileHeight

	out, err := pixel.Allocate(s.img.Format, s.tileWidth, s.tileHeight)
	if err != nil {
		return nil, false, err
	}
	pixel.Set(out, s.background[0], s.background[1], s.background[2])

	if x0 >= s.img.Width || y0 >= s.img.Height {
		return out, true, nil
	}

	crop, err := pixel.Crop(s.img, x0, y0, s.tileWidth, s.tileHeight)
	if err != nil {
		return nil, false, err
	}
	pixel.Embed(out, crop, 0, 0)
	return out, false, nil
}

func (s *PlainImageSource) Close() error { return nil }
