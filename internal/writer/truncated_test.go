package writer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/dicomizer/internal/pixel"
)

func TestTruncatedWriterRedirectsSplitLevel(t *testing.T) {
	dir := t.TempDir()
	inner := NewTIFFWriter(filepath.Join(dir, "out.tiff"), dir, 2, 2, pixel.FormatRGB24, pixel.PhotometricRGB, 90)
	require.NoError(t, inner.AddLevel(4, 4))

	background, err := pixel.Allocate(pixel.FormatRGB24, 2, 2)
	require.NoError(t, err)
	mem := NewMemoryTiledImage(1, 1, 2, 2, pixel.FormatRGB24, background)

	w := NewTruncatedWriter(inner, 1, mem)

	img, err := pixel.Allocate(pixel.FormatRGB24, 2, 2)
	require.NoError(t, err)
	pixel.Set(img, 10, 20, 30)

	require.NoError(t, w.EncodeTile(img, 0, 0, 0))
	require.NoError(t, w.EncodeTile(img, 0, 1, 0))
	require.NoError(t, w.EncodeTile(img, 0, 0, 1))
	require.NoError(t, w.EncodeTile(img, 0, 1, 1))

	require.NoError(t, w.EncodeTile(img, 1, 0, 0))
	got, empty := mem.Get(0, 0)
	assert.False(t, empty)
	assert.True(t, pixel.Equal(img, got))

	err = w.EncodeTile(img, 2, 0, 0)
	assert.Error(t, err)
}
