package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/dicomizer/internal/pixel"
)

// fakeSource is a minimal in-memory Source for reader tests: a single level
// of uniformly-colored raw (uncompressed) tiles, with one sparse slot.
type fakeSource struct {
	levelWidth, levelHeight int
	tileWidth, tileHeight   int
	sparse                  map[[2]int]bool
}

func (s *fakeSource) LevelWidth(int) int  { return s.levelWidth }
func (s *fakeSource) LevelHeight(int) int { return s.levelHeight }
func (s *fakeSource) TileWidth(int) int   { return s.tileWidth }
func (s *fakeSource) TileHeight(int) int  { return s.tileHeight }
func (s *fakeSource) PixelFormat() pixel.Format { return pixel.FormatRGB24 }
func (s *fakeSource) PhotometricInterpretation() pixel.Photometric { return pixel.PhotometricRGB }

func (s *fakeSource) ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error) {
	if s.sparse[[2]int{x, y}] {
		return nil, 0, false, nil
	}
	img, _ := pixel.Allocate(pixel.FormatRGB24, s.tileWidth, s.tileHeight)
	pixel.Set(img, uint8(x*10), uint8(y*10), 0)
	return img.Pix, pixel.CompressionNone, true, nil
}

func (s *fakeSource) DecodeTile(level, x, y int) (*pixel.Image, bool, error) {
	if s.sparse[[2]int{x, y}] {
		img, _ := pixel.Allocate(pixel.FormatRGB24, s.tileWidth, s.tileHeight)
		return img, true, nil
	}
	data, _, _, _ := s.ReadRawTile(level, x, y)
	img, err := pixel.DecodeRawTile(data, pixel.FormatRGB24, s.tileWidth, s.tileHeight)
	return img, false, err
}

func TestReaderRejectsUnevenTileSizes(t *testing.T) {
	src := &fakeSource{levelWidth: 100, levelHeight: 100, tileWidth: 10, tileHeight: 10}
	_, err := NewReader(src, 0, 3, 3, Settings{})
	assert.Error(t, err)
}

func TestReaderIdentityPassthrough(t *testing.T) {
	src := &fakeSource{levelWidth: 20, levelHeight: 20, tileWidth: 10, tileHeight: 10}
	r, err := NewReader(src, 0, 10, 10, Settings{})
	require.NoError(t, err)

	data, compression, img, empty, err := r.Tile(0, 0)
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Nil(t, img)
	assert.Equal(t, pixel.CompressionNone, compression)
	assert.False(t, empty)
}

func TestReaderRetilingDecodesAndCrops(t *testing.T) {
	src := &fakeSource{levelWidth: 20, levelHeight: 20, tileWidth: 10, tileHeight: 10}
	r, err := NewReader(src, 0, 5, 5, Settings{})
	require.NoError(t, err)

	data, _, img, _, err := r.Tile(1, 0)
	require.NoError(t, err)
	assert.Nil(t, data)
	require.NotNil(t, img)
	assert.Equal(t, 5, img.Width)
	assert.Equal(t, 5, img.Height)
}

func TestReaderOutOfImageTileIsEmptyBackground(t *testing.T) {
	src := &fakeSource{levelWidth: 15, levelHeight: 15, tileWidth: 10, tileHeight: 10}
	r, err := NewReader(src, 0, 10, 10, Settings{BackgroundColor: [3]uint8{255, 255, 255}})
	require.NoError(t, err)

	_, _, img, empty, err := r.Tile(2, 0)
	require.NoError(t, err)
	assert.True(t, empty)
	require.NotNil(t, img)
	assert.Equal(t, uint8(255), img.Pix[0])
}

func TestReaderRepaintsBoundaryTile(t *testing.T) {
	src := &fakeSource{levelWidth: 15, levelHeight: 10, tileWidth: 10, tileHeight: 10}
	r, err := NewReader(src, 0, 10, 10, Settings{RepaintBoundary: true, BackgroundColor: [3]uint8{255, 255, 255}})
	require.NoError(t, err)

	data, _, img, _, err := r.Tile(1, 0)
	require.NoError(t, err)
	assert.Nil(t, data)
	require.NotNil(t, img)
	// Columns 5..9 of this tile fall outside the 15px-wide level and must be
	// repainted white.
	bpp := 3
	off := 0*img.Pitch + 9*bpp
	assert.Equal(t, uint8(255), img.Pix[off])
}

func TestReaderSparseTileDecodesEmpty(t *testing.T) {
	src := &fakeSource{
		levelWidth: 20, levelHeight: 10, tileWidth: 10, tileHeight: 10,
		sparse: map[[2]int]bool{{1, 0}: true},
	}
	r, err := NewReader(src, 0, 10, 10, Settings{})
	require.NoError(t, err)

	data, _, img, empty, err := r.Tile(1, 0)
	require.NoError(t, err)
	assert.Nil(t, data)
	require.NotNil(t, img)
	assert.True(t, empty)
}

func TestReaderSafetyCheckStillPassesThroughRaw(t *testing.T) {
	src := &fakeSource{levelWidth: 20, levelHeight: 20, tileWidth: 10, tileHeight: 10}
	r, err := NewReader(src, 0, 10, 10, Settings{SafetyCheck: true})
	require.NoError(t, err)

	data, _, img, _, err := r.Tile(0, 0)
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Nil(t, img)
}

func TestReaderCachesSourceTileAcrossRevisits(t *testing.T) {
	src := &fakeSource{levelWidth: 20, levelHeight: 20, tileWidth: 10, tileHeight: 10}
	r, err := NewReader(src, 0, 5, 5, Settings{})
	require.NoError(t, err)

	for _, coord := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		_, _, _, _, err := r.Tile(coord[0], coord[1])
		require.NoError(t, err)
	}
	assert.Len(t, r.cache, 1)
}
