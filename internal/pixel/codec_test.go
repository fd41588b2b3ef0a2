package pixel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRawTileSizeMismatch(t *testing.T) {
	_, err := DecodeRawTile(make([]byte, 10), FormatRGB24, 4, 4)
	require.Error(t, err)
}

func TestRawRoundTrip(t *testing.T) {
	img, _ := Allocate(FormatRGB24, 8, 8)
	Set(img, 10, 20, 30)

	encoded, err := EncodeTile(img, CompressionNone, 0)
	require.NoError(t, err)

	decoded, err := DecodeTile(encoded, CompressionNone, FormatRGB24, 8, 8, PhotometricRGB)
	require.NoError(t, err)
	assert.True(t, Equal(img, decoded))
}

func TestJPEGRoundTripApproximate(t *testing.T) {
	img, _ := Allocate(FormatRGB24, 16, 16)
	Set(img, 128, 64, 200)

	encoded, err := EncodeTile(img, CompressionJPEG, 90)
	require.NoError(t, err)

	decoded, err := DecodeTile(encoded, CompressionJPEG, FormatRGB24, 16, 16, PhotometricRGB)
	require.NoError(t, err)
	assert.Equal(t, img.Width, decoded.Width)
	assert.Equal(t, img.Height, decoded.Height)
	// JPEG is lossy: compare within a generous tolerance rather than exact bytes.
	assert.InDelta(t, int(img.Pix[0]), int(decoded.Pix[0]), 10)
}

func TestPNGRoundTripExact(t *testing.T) {
	img, _ := Allocate(FormatRGB24, 6, 6)
	Set(img, 7, 88, 250)

	encoded, err := EncodeTile(img, CompressionPNG, 0)
	require.NoError(t, err)

	decoded, err := DecodeTile(encoded, CompressionPNG, FormatRGB24, 6, 6, PhotometricRGB)
	require.NoError(t, err)
	assert.True(t, Equal(img, decoded))
}

func TestJPEGQualityOutOfRange(t *testing.T) {
	img, _ := Allocate(FormatRGB24, 4, 4)
	_, err := EncodeTile(img, CompressionJPEG, 0)
	assert.Error(t, err)
	_, err = EncodeTile(img, CompressionJPEG, 101)
	assert.Error(t, err)
}

func TestUnsupportedCodecNotImplemented(t *testing.T) {
	_, err := DecodeTile(nil, CompressionJPEG2000, FormatRGB24, 4, 4, PhotometricRGB)
	require.Error(t, err)
}

func TestConvertJpegYCbCrToRgbKnownGray(t *testing.T) {
	img, _ := Allocate(FormatRGB24, 1, 1)
	// Y=128, Cb=128, Cr=128 (neutral chroma) should map to gray.
	img.Pix[0], img.Pix[1], img.Pix[2] = 128, 128, 128
	out := ConvertJpegYCbCrToRgb(img, false)
	assert.Equal(t, uint8(128), out.Pix[0])
	assert.Equal(t, uint8(128), out.Pix[1])
	assert.Equal(t, uint8(128), out.Pix[2])
}

func TestChangeTileCompressionSameCodecShortCircuits(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	out, err := ChangeTileCompression(data, CompressionJPEG, CompressionJPEG, FormatRGB24, 1, 1, PhotometricRGB, 80)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
