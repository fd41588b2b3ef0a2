package writer

import (
	"sync"

	"github.com/pspoerri/dicomizer/internal/pixel"
)

// MemoryTiledImage is a concurrent-safe, tile-keyed store of decoded tiles
// sized like one pyramid level, used as the redirect target of the
// truncated-pyramid wrapper (spec.md §4.4.3) — adapted from the teacher's
// TileImageStore, with a uniform-color fast path for tiles the reconstruction
// pass never actually touches (sparse regions left at background color).
type MemoryTiledImage struct {
	mu         sync.RWMutex
	tiles      map[[2]int]*pixel.Image
	tileWidth  int
	tileHeight int
	tilesX     int
	tilesY     int
	format     pixel.Format
	background *pixel.Image
}

// NewMemoryTiledImage creates a store sized for a tilesX x tilesY grid of
// tileWidth x tileHeight tiles in format, with background filling any tile
// slot never explicitly written.
func NewMemoryTiledImage(tilesX, tilesY, tileWidth, tileHeight int, format pixel.Format, background *pixel.Image) *MemoryTiledImage {
	return &MemoryTiledImage{
		tiles:      make(map[[2]int]*pixel.Image, tilesX*tilesY),
		tileWidth:  tileWidth,
		tileHeight: tileHeight,
		tilesX:     tilesX,
		tilesY:     tilesY,
		format:     format,
		background: background,
	}
}

// Put stores a decoded tile at (x, y).
func (s *MemoryTiledImage) Put(x, y int, img *pixel.Image) {
	s.mu.Lock()
	s.tiles[[2]int{x, y}] = img
	s.mu.Unlock()
}

// Get retrieves the tile at (x, y), falling back to the background tile
// (with an empty flag) if the slot was never written.
func (s *MemoryTiledImage) Get(x, y int) (img *pixel.Image, empty bool) {
	s.mu.RLock()
	t, ok := s.tiles[[2]int{x, y}]
	s.mu.RUnlock()
	if ok {
		return t, false
	}
	return s.background, true
}

func (s *MemoryTiledImage) TileWidth() int  { return s.tileWidth }
func (s *MemoryTiledImage) TileHeight() int { return s.tileHeight }
func (s *MemoryTiledImage) TilesX() int     { return s.tilesX }
func (s *MemoryTiledImage) TilesY() int     { return s.tilesY }
func (s *MemoryTiledImage) Format() pixel.Format { return s.format }
