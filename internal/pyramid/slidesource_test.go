package pyramid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/dicomizer/internal/pixel"
)

// fakeSlideLibrary is a minimal ExternalSlideLibrary stub for testing
// SlideSource in isolation, mirroring the fakeSource pattern in
// internal/resample's tests.
type fakeSlideLibrary struct {
	widths, heights []int
	downsamples     []float64
	closed          bool
	regions         []region
}

type region struct {
	level, x, y, w, h int
}

func (f *fakeSlideLibrary) LevelCount() int { return len(f.widths) }

func (f *fakeSlideLibrary) LevelDimensions(level int) (int, int) {
	return f.widths[level], f.heights[level]
}

func (f *fakeSlideLibrary) Downsample(level int) float64 { return f.downsamples[level] }

func (f *fakeSlideLibrary) ReadRegion(level, x, y, w, h int) (*pixel.Image, error) {
	f.regions = append(f.regions, region{level, x, y, w, h})
	img, err := pixel.Allocate(pixel.FormatRGB24, w, h)
	if err != nil {
		return nil, err
	}
	pixel.Set(img, uint8(level*10+1), 0, 0)
	return img, nil
}

func (f *fakeSlideLibrary) Close() error {
	f.closed = true
	return nil
}

func TestOpenSlideSourceRejectsNonDecreasingLevels(t *testing.T) {
	lib := &fakeSlideLibrary{
		widths:      []int{100, 100},
		heights:     []int{100, 50},
		downsamples: []float64{1, 2},
	}
	_, err := OpenSlideSource(lib, 16, 16)
	require.Error(t, err)
}

func TestOpenSlideSourceWrapsMultipleLevels(t *testing.T) {
	lib := &fakeSlideLibrary{
		widths:      []int{100, 50, 25},
		heights:     []int{80, 40, 20},
		downsamples: []float64{1, 2, 4},
	}
	src, err := OpenSlideSource(lib, 16, 16)
	require.NoError(t, err)

	assert.Equal(t, 3, src.LevelCount())
	assert.Equal(t, 100, src.LevelWidth(0))
	assert.Equal(t, 50, src.LevelWidth(1))
	assert.Equal(t, 25, src.LevelWidth(2))
	assert.Equal(t, 16, src.TileWidth(0))
	assert.Equal(t, pixel.FormatRGB24, src.PixelFormat())
	assert.Equal(t, pixel.PhotometricRGB, src.PhotometricInterpretation())

	data, compression, ok, err := src.ReadRawTile(0, 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
	assert.Equal(t, pixel.Compression(0), compression)
}

func TestSlideSourceDecodeTileMapsPixelOffsets(t *testing.T) {
	lib := &fakeSlideLibrary{
		widths:      []int{100, 50},
		heights:     []int{80, 40},
		downsamples: []float64{1, 2},
	}
	src, err := OpenSlideSource(lib, 16, 16)
	require.NoError(t, err)

	img, empty, err := src.DecodeTile(1, 2, 1)
	require.NoError(t, err)
	assert.False(t, empty)
	require.Len(t, lib.regions, 1)
	assert.Equal(t, region{level: 1, x: 64, y: 32, w: 16, h: 16}, lib.regions[0])
	assert.Equal(t, uint8(11), img.Pix[0])
}

func TestSlideSourceDecodeTileOutOfBoundsReturnsEmpty(t *testing.T) {
	lib := &fakeSlideLibrary{
		widths:      []int{32},
		heights:     []int{32},
		downsamples: []float64{1},
	}
	src, err := OpenSlideSource(lib, 16, 16)
	require.NoError(t, err)

	img, empty, err := src.DecodeTile(0, 5, 5)
	require.NoError(t, err)
	assert.True(t, empty)
	require.NotNil(t, img)
	assert.Empty(t, lib.regions)
}

func TestSlideSourceDecodeTileRejectsBadLevel(t *testing.T) {
	lib := &fakeSlideLibrary{widths: []int{32}, heights: []int{32}, downsamples: []float64{1}}
	src, err := OpenSlideSource(lib, 16, 16)
	require.NoError(t, err)

	_, _, err = src.DecodeTile(5, 0, 0)
	require.Error(t, err)
}

func TestSlideSourceCloseDelegates(t *testing.T) {
	lib := &fakeSlideLibrary{widths: []int{32}, heights: []int{32}, downsamples: []float64{1}}
	src, err := OpenSlideSource(lib, 16, 16)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	assert.True(t, lib.closed)
}
