// Package pyramid is the tiled-source interface (spec.md §4.2) and its
// concrete backends: hierarchical TIFF, DICOM multiframe series, plain
// single-level images, external slide libraries, and remote tile servers.
package pyramid

import (
	"github.com/pspoerri/dicomizer/internal/pixel"
)

// Source is a read-only tiled pyramid: a set of levels, each a grid of
// tiles, from finest (level 0) to coarsest.
type Source interface {
	LevelCount() int
	LevelWidth(level int) int
	LevelHeight(level int) int
	TileWidth(level int) int
	TileHeight(level int) int
	PixelFormat() pixel.Format
	PhotometricInterpretation() pixel.Photometric

	// ReadRawTile returns the tile's compressed bytes and compression
	// without decoding, or ok=false if this source cannot serve raw bytes
	// for this tile (spec.md §4.2).
	ReadRawTile(level, x, y int) (data []byte, compression pixel.Compression, ok bool, err error)

	// DecodeTile returns the tile fully decoded. isEmpty marks tiles the
	// source has no real content for (e.g. padding beyond the original
	// image bounds).
	DecodeTile(level, x, y int) (img *pixel.Image, isEmpty bool, err error)

	Close() error
}

// TilesAcross returns the number of tile columns at level.
func TilesAcross(s Source, level int) int {
	tw := s.TileWidth(level)
	return (s.LevelWidth(level) + tw - 1) / tw
}

// TilesDown returns the number of tile rows at level.
func TilesDown(s Source, level int) int {
	th := s.TileHeight(level)
	return (s.LevelHeight(level) + th - 1) / th
}
