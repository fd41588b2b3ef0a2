package writer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/dicomizer/internal/pixel"
)

func TestTIFFWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tiff")
	w := NewTIFFWriter(path, dir, 2, 2, pixel.FormatRGB24, pixel.PhotometricRGB, 90)

	require.NoError(t, w.AddLevel(4, 4))
	require.NoError(t, w.AddLevel(2, 2))

	assert.Equal(t, 2, w.CountTilesX(0))
	assert.Equal(t, 2, w.CountTilesY(0))
	assert.Equal(t, 1, w.CountTilesX(1))

	img, err := pixel.Allocate(pixel.FormatRGB24, 2, 2)
	require.NoError(t, err)
	pixel.Set(img, 200, 50, 50)

	require.NoError(t, w.EncodeTile(img, 0, 0, 0))
	require.NoError(t, w.EncodeTile(img, 0, 1, 0))
	require.NoError(t, w.EncodeTile(img, 0, 0, 1))
	require.NoError(t, w.EncodeTile(img, 0, 1, 1))
	require.NoError(t, w.EncodeTile(img, 1, 0, 0))

	require.NoError(t, w.Flush())
}

func TestTIFFWriterRejectsPixelFormatMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tiff")
	w := NewTIFFWriter(path, dir, 2, 2, pixel.FormatGray8, pixel.PhotometricMonochrome2, 90)
	require.NoError(t, w.AddLevel(2, 2))

	img, err := pixel.Allocate(pixel.FormatRGB24, 2, 2)
	require.NoError(t, err)
	err = w.EncodeTile(img, 0, 0, 0)
	assert.Error(t, err)
}
