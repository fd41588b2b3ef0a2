package pyramid

import (
	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
)

// ExternalSlideLibrary is the external collaborator interface a generic
// slide file library (e.g. OpenSlide) must satisfy for SlideSource to
// adapt it to Source (spec.md §1, §4.2: "a generic slide file accessed
// through an external slide library"). dicomizer specifies only the shape
// it consumes; linking a real implementation is the caller's job.
type ExternalSlideLibrary interface {
	LevelCount() int
	LevelDimensions(level int) (width, height int)
	// Downsample returns the library-reported downsample factor of level
	// relative to level 0 (e.g. 1.0, 4.0, 16.0).
	Downsample(level int) float64
	// ReadRegion decodes the width x height region of level 0 pixel space
	// at (x, y), already resampled to level's resolution, as RGB24.
	ReadRegion(level, x, y, width, height int) (*pixel.Image, error)
	Close() error
}

// SlideSource adapts an ExternalSlideLibrary to Source. It exposes a
// decoded-only, multi-level pyramid: readRawTile always reports ok=false
// (spec.md §4.2: "implementations that have no raw-tile access").
type SlideSource struct {
	lib             ExternalSlideLibrary
	levelWidths     []int
	levelHeights    []int
	tileWidth       int
	tileHeight      int
}

// OpenSlideSource validates lib's levels strictly decrease in both
// dimensions (spec.md §4.2) and wraps it as a Source tiled by
// (tileWidth, tileHeight).
func OpenSlideSource(lib ExternalSlideLibrary, tileWidth, tileHeight int) (*SlideSource, error) {
	n := lib.LevelCount()
	widths := make([]int, n)
	heights := make([]int, n)
	for l := 0; l < n; l++ {
		w, h := lib.LevelDimensions(l)
		widths[l], heights[l] = w, h
		if l > 0 && (w >= widths[l-1] || h >= heights[l-1]) {
			return nil, dzerr.New(dzerr.KindBadFileFormat, "pyramid",
				"external slide library levels must strictly decrease: level %d is %dx%d, level %d was %dx%d",
				l, w, h, l-1, widths[l-1], heights[l-1])
		}
	}
	return &SlideSource{lib: lib, levelWidths: widths, levelHeights: heights, tileWidth: tileWidth, tileHeight: tileHeight}, nil
}

func (s *SlideSource) LevelCount() int          { return len(s.levelWidths) }
func (s *SlideSource) LevelWidth(level int) int  { return s.levelWidths[level] }
func (s *SlideSource) LevelHeight(level int) int { return s.levelHeights[level] }
func (s *SlideSource) TileWidth(int) int         { return s.tileWidth }
func (s *SlideSource) TileHeight(int) int        { return s.tileHeight }
func (s *SlideSource) PixelFormat() pixel.Format { return pixel.FormatRGB24 }
func (s *SlideSource) PhotometricInterpretation() pixel.Photometric { return pixel.PhotometricRGB }

func (s *SlideSource) ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error) {
	return nil, 0, false, nil
}

// DecodeTile maps tile coordinates to a pixel offset through the library's
// reported downsample factor (spec.md §4.2: "Regions are fetched at the
// requested level by mapping tile coordinates to pixel offsets through the
// library's reported downsample factor").
func (s *SlideSource) DecodeTile(level, x, y int) (*pixel.Image, bool, error) {
	if level < 0 || level >= len(s.levelWidths) {
		return nil, false, dzerr.New(dzerr.KindParameterOutOfRange, "pyramid", "level %d out of range", level)
	}
	px := x * s.tileWidth
	py := y * s.tileHeight
	if px >= s.levelWidths[level] || py >= s.levelHeights[level] {
		img, err := pixel.Allocate(pixel.FormatRGB24, s.tileWidth, s.tileHeight)
		return img, true, err
	}
	downsample := s.lib.Downsample(level)
	img, err := s.lib.ReadRegion(level, int(float64(px)*downsample), int(float64(py)*downsample), s.tileWidth, s.tileHeight)
	if err != nil {
		return nil, false, dzerr.Wrap(dzerr.KindCorruptedFile, "pyramid", err, "reading region at level %d (%d,%d)", level, x, y)
	}
	return img, false, nil
}

func (s *SlideSource) Close() error { return s.lib.Close() }
