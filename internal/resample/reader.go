// Package resample implements the resampling reader (spec.md §4.3): the
// cache-and-repaint layer between a source pyramid level and a target tile
// grid of a possibly different size.
package resample

import (
	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/pyramid"
)

// Settings configures a Reader (spec.md §4.3 parameters).
type Settings struct {
	ForceReencode    bool
	RepaintBoundary  bool
	BackgroundColor  [3]uint8
	SafetyCheck      bool
}

// sourceEntry caches one source tile's raw bytes and/or decoded image so a
// quad-tree walk that revisits a source tile (up to four times for one
// reconstruction command) does not re-decode it.
type sourceEntry struct {
	raw         []byte
	compression pixel.Compression
	hasRaw      bool
	decoded     *pixel.Image
	isEmpty     bool
}

// Reader serves target tiles of a fixed target tile size out of one source
// pyramid level. It is not thread-safe and is scoped to the lifetime of one
// reconstruction/transcode task (spec.md §4.3, §5).
type Reader struct {
	source Source
	level  int

	targetTileWidth, targetTileHeight int
	sourceTileWidth, sourceTileHeight int
	levelWidth, levelHeight           int

	settings Settings

	cache      map[[2]int]*sourceEntry
	background *pixel.Image
}

// Source is the subset of pyramid.Source the resampling reader consumes.
type Source interface {
	LevelWidth(level int) int
	LevelHeight(level int) int
	TileWidth(level int) int
	TileHeight(level int) int
	PixelFormat() pixel.Format
	PhotometricInterpretation() pixel.Photometric
	ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error)
	DecodeTile(level, x, y int) (*pixel.Image, bool, error)
}

var _ Source = pyramid.Source(nil)

// NewReader opens a resampling reader over source at level, serving tiles of
// (targetTileWidth, targetTileHeight). The source tile size must be an
// integer multiple of the target tile size (spec.md §4.3); otherwise
// SizeMismatch is returned.
func NewReader(source Source, level, targetTileWidth, targetTileHeight int, settings Settings) (*Reader, error) {
	sourceTileWidth := source.TileWidth(level)
	sourceTileHeight := source.TileHeight(level)
	if sourceTileWidth%targetTileWidth != 0 || sourceTileHeight%targetTileHeight != 0 {
		return nil, dzerr.New(dzerr.KindSizeMismatch, "resample",
			"source tile %dx%d does not divide evenly into target tile %dx%d",
			sourceTileWidth, sourceTileHeight, targetTileWidth, targetTileHeight)
	}
	background, err := pixel.Allocate(source.PixelFormat(), targetTileWidth, targetTileHeight)
	if err != nil {
		return nil, err
	}
	pixel.Set(background, settings.BackgroundColor[0], settings.BackgroundColor[1], settings.BackgroundColor[2])

	return &Reader{
		source:           source,
		level:            level,
		targetTileWidth:  targetTileWidth,
		targetTileHeight: targetTileHeight,
		sourceTileWidth:  sourceTileWidth,
		sourceTileHeight: sourceTileHeight,
		levelWidth:       source.LevelWidth(level),
		levelHeight:      source.LevelHeight(level),
		settings:         settings,
		cache:            make(map[[2]int]*sourceEntry),
		background:       background,
	}, nil
}

// TileWidth and TileHeight report the target tile size this reader serves.
func (r *Reader) TileWidth() int  { return r.targetTileWidth }
func (r *Reader) TileHeight() int { return r.targetTileHeight }

// BackgroundColor reports the background fill color tiles outside the
// source's coverage are painted with.
func (r *Reader) BackgroundColor() [3]uint8 { return r.settings.BackgroundColor }

// LevelWidth and LevelHeight report the source level's pixel dimensions this
// reader was opened against.
func (r *Reader) LevelWidth() int  { return r.levelWidth }
func (r *Reader) LevelHeight() int { return r.levelHeight }

// PixelFormat and Photometric report the source's pixel format and
// photometric interpretation, passed through for callers (e.g.
// internal/commands) that allocate buffers shaped like this reader's tiles.
func (r *Reader) PixelFormat() pixel.Format      { return r.source.PixelFormat() }
func (r *Reader) Photometric() pixel.Photometric { return r.source.PhotometricInterpretation() }

// sourceCoords maps a target tile coordinate to its backing source tile
// coordinate (spec.md §4.3 mapping).
func (r *Reader) sourceCoords(tileX, tileY int) (int, int) {
	sx := (tileX * r.targetTileWidth) / r.sourceTileWidth
	sy := (tileY * r.targetTileHeight) / r.sourceTileHeight
	return sx, sy
}

// isBoundary reports whether the source tile at (sx, sy) straddles the
// level's right or bottom edge (spec.md §4.3 repaint policy).
func (r *Reader) isBoundary(sx, sy int) bool {
	return (sx+1)*r.sourceTileWidth > r.levelWidth || (sy+1)*r.sourceTileHeight > r.levelHeight
}

func (r *Reader) entry(sx, sy int) (*sourceEntry, error) {
	key := [2]int{sx, sy}
	if e, ok := r.cache[key]; ok {
		return e, nil
	}
	e := &sourceEntry{}
	if data, compression, ok, err := r.source.ReadRawTile(r.level, sx, sy); err != nil {
		return nil, err
	} else if ok {
		e.raw = data
		e.compression = compression
		e.hasRaw = true
	}
	r.cache[key] = e
	return e, nil
}

func (r *Reader) decoded(e *sourceEntry, sx, sy int) (*pixel.Image, error) {
	if e.decoded != nil {
		return e.decoded, nil
	}
	if e.hasRaw {
		img, err := pixel.DecodeTile(e.raw, e.compression, r.source.PixelFormat(), r.sourceTileWidth, r.sourceTileHeight, r.source.PhotometricInterpretation())
		if err != nil {
			return nil, err
		}
		e.decoded = img
		return img, nil
	}
	img, isEmpty, err := r.source.DecodeTile(r.level, sx, sy)
	if err != nil {
		return nil, err
	}
	e.decoded = img
	e.isEmpty = isEmpty
	return img, nil
}

// Out-of-image tiles are out of the declared level bounds entirely.
func (r *Reader) outOfImage(tileX, tileY int) bool {
	return tileX*r.targetTileWidth >= r.levelWidth || tileY*r.targetTileHeight >= r.levelHeight
}

// Tile returns the target tile at (tileX, tileY), either as a raw passthrough
// (data non-nil) or a decoded image (img non-nil), per spec.md §4.3.
func (r *Reader) Tile(tileX, tileY int) (data []byte, compression pixel.Compression, img *pixel.Image, isEmpty bool, err error) {
	if r.outOfImage(tileX, tileY) {
		return nil, 0, r.background, true, nil
	}

	sx, sy := r.sourceCoords(tileX, tileY)
	e, err := r.entry(sx, sy)
	if err != nil {
		return nil, 0, nil, false, err
	}

	identity := r.sourceTileWidth == r.targetTileWidth && r.sourceTileHeight == r.targetTileHeight
	boundary := r.isBoundary(sx, sy)
	needsDecode := !identity || r.settings.ForceReencode || (boundary && r.settings.RepaintBoundary) || r.settings.SafetyCheck

	if identity && e.hasRaw && !needsDecode {
		return e.raw, e.compression, nil, false, nil
	}

	decodedImg, err := r.decoded(e, sx, sy)
	if err != nil {
		return nil, 0, nil, false, err
	}
	if r.settings.SafetyCheck && identity {
		if decodedImg.Width != r.sourceTileWidth || decodedImg.Height != r.sourceTileHeight {
			return nil, 0, nil, false, dzerr.New(dzerr.KindSizeMismatch, "resample",
				"decoded tile %dx%d does not match declared tile size %dx%d",
				decodedImg.Width, decodedImg.Height, r.sourceTileWidth, r.sourceTileHeight)
		}
	}

	if identity {
		result := decodedImg
		if boundary && r.settings.RepaintBoundary {
			result = r.repaintSource(decodedImg, sx, sy)
		}
		if e.hasRaw && !boundary && !r.settings.ForceReencode {
			return e.raw, e.compression, nil, e.isEmpty, nil
		}
		return nil, 0, result, e.isEmpty, nil
	}

	// Re-tiled: crop the requested target-sized rectangle out of the source
	// tile's decoded image, repainting overflow if this is a boundary tile.
	offsetX := tileX*r.targetTileWidth - sx*r.sourceTileWidth
	offsetY := tileY*r.targetTileHeight - sy*r.sourceTileHeight
	source := decodedImg
	if boundary && r.settings.RepaintBoundary {
		source = r.repaintSource(decodedImg, sx, sy)
	}
	cropped, cerr := pixel.Crop(source, offsetX, offsetY, r.targetTileWidth, r.targetTileHeight)
	if cerr != nil {
		return nil, 0, nil, false, cerr
	}
	return nil, 0, cropped, e.isEmpty, nil
}

// DecodedTile returns the target tile always fully decoded, decoding a raw
// passthrough itself if Tile would otherwise hand back compressed bytes.
// The reconstruction command needs this: mosaics are built from pixel data
// regardless of whether the source can supply raw bytes at a given level.
func (r *Reader) DecodedTile(tileX, tileY int) (*pixel.Image, bool, error) {
	data, compression, img, isEmpty, err := r.Tile(tileX, tileY)
	if err != nil {
		return nil, false, err
	}
	if img != nil {
		return img, isEmpty, nil
	}
	decoded, err := pixel.DecodeTile(data, compression, r.source.PixelFormat(), r.targetTileWidth, r.targetTileHeight, r.source.PhotometricInterpretation())
	if err != nil {
		return nil, false, err
	}
	return decoded, isEmpty, nil
}

// repaintSource fills the overflow rectangles of a source tile that extends
// past the declared level bounds with the background color, returning a new
// image (the cache keeps the unpainted decode).
func (r *Reader) repaintSource(decoded *pixel.Image, sx, sy int) *pixel.Image {
	out, err := pixel.Allocate(decoded.Format, decoded.Width, decoded.Height)
	if err != nil {
		return decoded
	}
	copy(out.Pix, decoded.Pix)
	pixel.Set(out, r.settings.BackgroundColor[0], r.settings.BackgroundColor[1], r.settings.BackgroundColor[2])
	pixel.Embed(out, decoded, 0, 0)

	validWidth := r.levelWidth - sx*r.sourceTileWidth
	if validWidth < decoded.Width {
		blankRight(out, validWidth, r.settings.BackgroundColor)
	}
	validHeight := r.levelHeight - sy*r.sourceTileHeight
	if validHeight < decoded.Height {
		blankBottom(out, validHeight, r.settings.BackgroundColor)
	}
	return out
}

func blankRight(img *pixel.Image, fromX int, color [3]uint8) {
	if fromX < 0 {
		fromX = 0
	}
	bpp := img.Format.BytesPerPixel()
	for row := 0; row < img.Height; row++ {
		off := row*img.Pitch + fromX*bpp
		for x := fromX; x < img.Width; x++ {
			setPixel(img, off, color)
			off += bpp
		}
	}
}

func blankBottom(img *pixel.Image, fromY int, color [3]uint8) {
	if fromY < 0 {
		fromY = 0
	}
	bpp := img.Format.BytesPerPixel()
	for row := fromY; row < img.Height; row++ {
		off := row * img.Pitch
		for x := 0; x < img.Width; x++ {
			setPixel(img, off, color)
			off += bpp
		}
	}
}

func setPixel(img *pixel.Image, off int, color [3]uint8) {
	switch img.Format {
	case pixel.FormatGray8:
		img.Pix[off] = uint8(0.2126*float64(color[0]) + 0.7152*float64(color[1]) + 0.0722*float64(color[2]))
	case pixel.FormatRGB24:
		img.Pix[off] = color[0]
		img.Pix[off+1] = color[1]
		img.Pix[off+2] = color[2]
	}
}
