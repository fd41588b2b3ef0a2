package tiffio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPyramid(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tiff")
	w := NewWriter(path, dir)

	require.NoError(t, w.AddLevel(LevelSpec{
		Width: 4, Height: 4, TileWidth: 2, TileHeight: 2,
		Photometric: PhotometricRGB, SamplesPerPixel: 3,
		BitsPerSample: []uint16{8, 8, 8},
	}))
	require.NoError(t, w.AddLevel(LevelSpec{
		Width: 2, Height: 2, TileWidth: 2, TileHeight: 2,
		Photometric: PhotometricRGB, SamplesPerPixel: 3,
		BitsPerSample: []uint16{8, 8, 8},
	}))

	// Level 0 has a 2x2 tile grid; write out of raster order to exercise
	// the spill/replay path.
	require.NoError(t, w.WriteTile(0, 1, 0, []byte("tile-1-0")))
	require.NoError(t, w.WriteTile(0, 0, 0, []byte("tile-0-0")))
	require.NoError(t, w.WriteTile(0, 1, 1, []byte("tile-1-1")))
	require.NoError(t, w.WriteTile(0, 0, 1, []byte("tile-0-1")))

	require.NoError(t, w.WriteTile(1, 0, 0, []byte("tile-lvl1")))

	require.NoError(t, w.Flush())
	return path
}

func TestWriterRoundTripsThroughReader(t *testing.T) {
	path := writeTestPyramid(t)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 2, r.LevelCount())
	require.NoError(t, r.Validate())

	ifd0, err := r.IFD(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), ifd0.Width)
	assert.Equal(t, uint32(4), ifd0.Height)
	assert.Equal(t, uint16(PhotometricRGB), ifd0.Photometric)

	tile, err := r.ReadTile(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "tile-0-0", string(tile))

	tile, err = r.ReadTile(0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "tile-1-1", string(tile))

	ifd1, err := r.IFD(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ifd1.Width)

	tile, err = r.ReadTile(1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "tile-lvl1", string(tile))
}

func TestWriterRejectsIncreasingLevelSize(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "out.tiff"), dir)
	require.NoError(t, w.AddLevel(LevelSpec{Width: 2, Height: 2, TileWidth: 2, TileHeight: 2, SamplesPerPixel: 1, BitsPerSample: []uint16{8}}))
	err := w.AddLevel(LevelSpec{Width: 4, Height: 4, TileWidth: 2, TileHeight: 2, SamplesPerPixel: 1, BitsPerSample: []uint16{8}})
	assert.Error(t, err)
}

func TestWriterRejectsAddLevelAfterTileWrite(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "out.tiff"), dir)
	require.NoError(t, w.AddLevel(LevelSpec{Width: 2, Height: 2, TileWidth: 2, TileHeight: 2, SamplesPerPixel: 1, BitsPerSample: []uint16{8}}))
	require.NoError(t, w.WriteTile(0, 0, 0, []byte("x")))
	err := w.AddLevel(LevelSpec{Width: 1, Height: 1, TileWidth: 1, TileHeight: 1, SamplesPerPixel: 1, BitsPerSample: []uint16{8}})
	assert.Error(t, err)
}

func TestFlushRejectsMissingTiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "out.tiff"), dir)
	require.NoError(t, w.AddLevel(LevelSpec{Width: 4, Height: 4, TileWidth: 2, TileHeight: 2, SamplesPerPixel: 1, BitsPerSample: []uint16{8}}))
	require.NoError(t, w.WriteTile(0, 0, 0, []byte("a")))
	err := w.Flush()
	assert.Error(t, err)
}

func TestWriterRoundTripsYCbCrPhotometric(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tiff")
	w := NewWriter(path, dir)
	require.NoError(t, w.AddLevel(LevelSpec{
		Width: 2, Height: 2, TileWidth: 2, TileHeight: 2,
		Photometric: PhotometricYCbCr, SamplesPerPixel: 3,
		BitsPerSample: []uint16{8, 8, 8},
	}))
	require.NoError(t, w.WriteTile(0, 0, 0, []byte("yuv-tile")))
	require.NoError(t, w.Flush())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	ifd, err := r.IFD(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(PhotometricYCbCr), ifd.Photometric)
}
