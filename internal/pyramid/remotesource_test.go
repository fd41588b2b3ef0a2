package pyramid

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationHeaderMatchesReferenceHMAC(t *testing.T) {
	key := "GET\n\napplication/json\nWed, 01 Jan 2020 00:00:00 GMT\n/api/imageinstance/42"
	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte(key))
	want := "HMAC-SHA1 pub:" + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	got := AuthorizationHeader("pub", "secret", "application/json", "Wed, 01 Jan 2020 00:00:00 GMT", "api/imageinstance/42")
	assert.Equal(t, want, got)
}

func fakeJPEG(t *testing.T, w, h int, gray uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = gray
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestRemoteSourceFetchesMetadataAndTiles(t *testing.T) {
	tileBytes := fakeJPEG(t, 16, 16, 128)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/imageinstance/slide1", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "HMAC-SHA1 pub:"))
		fmt.Fprint(w, `{"width":20,"height":18,"tileWidth":16,"tileHeight":16}`)
	})
	mux.HandleFunc("/api/imageinstance/slide1/window-0-0-16-16.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(tileBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := OpenRemoteSource(RemoteSourceConfig{
		BaseURL:   srv.URL,
		ImageID:   "slide1",
		PublicKey: "pub",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, src.LevelCount())
	assert.Equal(t, 20, src.LevelWidth(0))
	assert.Equal(t, 18, src.LevelHeight(0))

	img, empty, err := src.DecodeTile(0, 0, 0)
	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t, 16, img.Width)
	assert.Equal(t, 16, img.Height)
}

func TestRemoteSourceDecodeTileOutOfBoundsReturnsEmptyWithoutFetch(t *testing.T) {
	fetched := false
	mux := http.NewServeMux()
	mux.HandleFunc("/api/imageinstance/slide1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"width":16,"height":16,"tileWidth":16,"tileHeight":16}`)
	})
	mux.HandleFunc("/api/imageinstance/slide1/", func(w http.ResponseWriter, r *http.Request) {
		fetched = true
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := OpenRemoteSource(RemoteSourceConfig{
		BaseURL:   srv.URL,
		ImageID:   "slide1",
		PublicKey: "pub",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	img, empty, err := src.DecodeTile(0, 5, 5)
	require.NoError(t, err)
	assert.True(t, empty)
	require.NotNil(t, img)
	assert.False(t, fetched)
}

func TestRemoteSourceMetadataHTTPErrorFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/imageinstance/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := OpenRemoteSource(RemoteSourceConfig{
		BaseURL:   srv.URL,
		ImageID:   "missing",
		PublicKey: "pub",
		SecretKey: "secret",
	})
	require.Error(t, err)
}
