// Package writer implements the Writer capability set (spec.md §4.4): the
// multiframe DICOM writer, the hierarchical TIFF writer, the truncated-
// pyramid wrapper, and the in-memory tiled image these commands target.
package writer

import (
	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
)

// Writer is the capability set every reconstruction/transcode target
// implements (spec.md §4.4).
type Writer interface {
	LevelCount() int
	TileWidth() int
	TileHeight() int
	CountTilesX(level int) int
	CountTilesY(level int) int
	PixelFormat() pixel.Format

	// AddLevel registers the next level, finest-to-coarsest. Must be called
	// before the first tile write; calling after is a protocol violation.
	AddLevel(width, height int) error

	// WriteRawTile writes already-compressed bytes. If compression doesn't
	// match the writer's target, the bytes are transcoded through
	// decode+encode first.
	WriteRawTile(data []byte, compression pixel.Compression, level, x, y int) error

	// EncodeTile compresses a decoded image and writes it.
	EncodeTile(img *pixel.Image, level, x, y int) error

	Flush() error
}

// levelGeometry tracks the per-level width/height/tile-grid bookkeeping
// shared by every Writer implementation in this package.
type levelGeometry struct {
	width, height int
	tilesAcross   int
	tilesDown     int
}

func newLevelGeometry(width, height, tileWidth, tileHeight int) levelGeometry {
	return levelGeometry{
		width:       width,
		height:      height,
		tilesAcross: (width + tileWidth - 1) / tileWidth,
		tilesDown:   (height + tileHeight - 1) / tileHeight,
	}
}

func checkLevelOrder(levels []levelGeometry, width, height int) error {
	if len(levels) == 0 {
		return nil
	}
	prev := levels[len(levels)-1]
	if !(width < prev.width && height < prev.height) {
		return dzerr.New(dzerr.KindBadSequenceOfCalls, "writer", "level dimensions must strictly decrease: got %dx%d after %dx%d", width, height, prev.width, prev.height)
	}
	return nil
}

func checkPixelFormat(writerFormat, sourceFormat pixel.Format) error {
	if writerFormat != sourceFormat {
		return dzerr.New(dzerr.KindIncompatibleImageFormat, "writer", "writer pixel format %s does not match source format %s", writerFormat, sourceFormat)
	}
	return nil
}
