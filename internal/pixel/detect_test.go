package pixel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormatFromMemoryJPEG(t *testing.T) {
	got, err := DetectFormatFromMemory([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, CompressionJPEG, got)
}

func TestDetectFormatFromMemoryPNG(t *testing.T) {
	data := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, 0, 0, 0, 0)
	got, err := DetectFormatFromMemory(data)
	require.NoError(t, err)
	assert.Equal(t, CompressionPNG, got)
}

func TestDetectFormatFromMemoryTIFF(t *testing.T) {
	got, err := DetectFormatFromMemory([]byte{0x49, 0x49, 0x2A, 0x00, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, CompressionTIFF, got)
}

func TestDetectFormatFromMemoryUnknown(t *testing.T) {
	_, err := DetectFormatFromMemory([]byte{1, 2, 3, 4})
	assert.Error(t, err)
}
