package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/dicomizer/internal/pixel"
)

func TestMemoryTiledImageFallsBackToBackground(t *testing.T) {
	background, err := pixel.Allocate(pixel.FormatRGB24, 2, 2)
	require.NoError(t, err)
	pixel.Set(background, 0, 0, 0)

	mem := NewMemoryTiledImage(2, 2, 2, 2, pixel.FormatRGB24, background)

	got, empty := mem.Get(0, 0)
	assert.True(t, empty)
	assert.Same(t, background, got)

	tile, err := pixel.Allocate(pixel.FormatRGB24, 2, 2)
	require.NoError(t, err)
	pixel.Set(tile, 255, 255, 255)
	mem.Put(0, 0, tile)

	got, empty = mem.Get(0, 0)
	assert.False(t, empty)
	assert.Same(t, tile, got)
}
