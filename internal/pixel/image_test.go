package pixel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	img, err := Allocate(FormatRGB24, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, img.Pitch)
	assert.Equal(t, 36, len(img.Pix))

	_, err = Allocate(FormatGray8, 0, 5)
	assert.Error(t, err)
}

func TestSetGray8Luminance(t *testing.T) {
	img, err := Allocate(FormatGray8, 2, 2)
	require.NoError(t, err)
	Set(img, 255, 0, 0)
	for _, v := range img.Pix {
		assert.InDelta(t, 54, int(v), 1)
	}
}

func TestEmbedClips(t *testing.T) {
	target, _ := Allocate(FormatRGB24, 4, 4)
	Set(target, 0, 0, 0)
	source, _ := Allocate(FormatRGB24, 3, 3)
	Set(source, 255, 255, 255)

	Embed(target, source, 2, 2)

	assert.Equal(t, uint8(255), target.Pix[(2*4+2)*3])
	assert.Equal(t, uint8(0), target.Pix[0])
}

func TestEmbedOutsideIsNoop(t *testing.T) {
	target, _ := Allocate(FormatRGB24, 4, 4)
	Set(target, 10, 20, 30)
	source, _ := Allocate(FormatRGB24, 2, 2)
	Set(source, 255, 255, 255)

	Embed(target, source, 10, 10)

	assert.Equal(t, uint8(10), target.Pix[0])
}

func TestCropClampsToBounds(t *testing.T) {
	src, _ := Allocate(FormatGray8, 4, 4)
	for i := range src.Pix {
		src.Pix[i] = uint8(i)
	}

	out, err := Crop(src, 2, 2, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 4, out.Height)
	// Only the top-left 2x2 of the crop window overlaps src.
	assert.Equal(t, src.Pix[2*4+2], out.Pix[0])
}

func TestEqualDetectsDifference(t *testing.T) {
	a, _ := Allocate(FormatGray8, 2, 2)
	b, _ := Allocate(FormatGray8, 2, 2)
	assert.True(t, Equal(a, b))
	b.Pix[0] = 1
	assert.False(t, Equal(a, b))
}
