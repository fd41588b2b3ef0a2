package httpapi

import (
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/pyramid"
)

func buildTestSource(t *testing.T, w, h int) *pyramid.PlainImageSource {
	t.Helper()
	img, err := pixel.Allocate(pixel.FormatRGB24, w, h)
	require.NoError(t, err)
	pixel.Set(img, 10, 20, 30)
	return pyramid.OpenPlainImageSource(img, pixel.PhotometricRGB, 32, 32, 1, [3]uint8{0, 0, 0})
}

func testRegistry(t *testing.T, seriesID string, w, h int) *MemoryRegistry {
	reg := NewMemoryRegistry()
	reg.Put(seriesID, buildTestSource(t, w, h))
	return reg
}

func TestPyramidHandlerReturnsMetadata(t *testing.T) {
	reg := testRegistry(t, "s1", 100, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/pyramids/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var meta pyramidMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.Equal(t, "s1", meta.SeriesID)
	require.Len(t, meta.Levels, 1)
	assert.Equal(t, 100, meta.Levels[0].Width)
	assert.Equal(t, 64, meta.Levels[0].Height)
}

func TestPyramidHandlerUnknownSeriesIs404(t *testing.T) {
	reg := NewMemoryRegistry()
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/pyramids/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestTileHandlerNegotiatesJPEG(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/tiles/s1/0/0/0", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "image/jpeg")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestTileHandlerRejectsUnacceptableMediaType(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/tiles/s1/0/0/0", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/pdf")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 406, resp.StatusCode)
}

func TestTileHandlerRejectsOutOfRangeLevel(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/tiles/s1/5/0/0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}

func TestIIIFInfoReportsPowerOfTwoScaleFactors(t *testing.T) {
	reg := testRegistry(t, "s1", 128, 128)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/iiif/tiles/s1/info.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var info iiifInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Len(t, info.Tiles, 1)
	assert.Equal(t, []int{1}, info.Tiles[0].ScaleFactors)
}

func TestIIIFTileHandlerCropsFullRegionToRequestedSize(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/iiif/tiles/s1/0,0,64,64/32,/0/default.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestIIIFTileHandlerRejectsUnsupportedRotation(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/iiif/tiles/s1/full/max/90/default.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}

func TestIIIFFrameInfoReportsLevel0TileSize(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/iiif/frames/s1/0/info.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var info iiifInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "level0", info.Profile)
	assert.Equal(t, 32, info.Width)
	assert.Equal(t, 32, info.Height)
}

func TestIIIFFrameImageReturnsJPEGTile(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/iiif/frames/s1/0/full/max/0/default.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestIIIFFrameInfoRejectsOutOfRangeFrame(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/iiif/frames/s1/99/info.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}

func TestFramePyramidHandlerReturnsSingleLevelMetadata(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/frames/s1/0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var meta pyramidMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	require.Len(t, meta.Levels, 1)
	assert.Equal(t, 32, meta.Levels[0].Width)
	assert.Equal(t, 32, meta.Levels[0].Height)
}

func TestFrameTileHandlerReturnsJPEGTile(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/frames/s1/0/0/0/0", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "image/jpeg")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestFrameTileHandlerRejectsNonZeroLevel(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/frames/s1/0/1/0/0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}

func TestIIIFManifestReferencesCanvas(t *testing.T) {
	reg := testRegistry(t, "s1", 64, 64)
	mux := NewMux(reg, "http://example.test", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/iiif/series/s1/manifest.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var manifest iiifManifest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&manifest))
	require.Len(t, manifest.Items, 1)
	assert.Equal(t, 64, manifest.Items[0].Width)
}
