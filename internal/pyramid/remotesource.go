package pyramid

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
)

// RemoteSourceConfig configures a RemoteSource (spec.md §6 "Remote tile
// source").
type RemoteSourceConfig struct {
	BaseURL   string
	ImageID   string
	PublicKey string
	SecretKey string
	Client    *http.Client
}

// RemoteSource opens a single-level virtual pyramid backed by an HTTP tile
// server, authenticating requests with the SHA-1 HMAC scheme spec.md §6
// specifies.
type RemoteSource struct {
	cfg    RemoteSourceConfig
	client *http.Client

	width, height         int
	tileWidth, tileHeight int
}

type metadataResponse struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	TileWidth  int `json:"tileWidth"`
	TileHeight int `json:"tileHeight"`
}

// OpenRemoteSource discovers the image's dimensions via an HTTP metadata
// call (spec.md §4.2: "dimensions are discovered by an HTTP metadata
// call").
func OpenRemoteSource(cfg RemoteSourceConfig) (*RemoteSource, error) {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	s := &RemoteSource{cfg: cfg, client: client}

	uri := fmt.Sprintf("api/imageinstance/%s", cfg.ImageID)
	body, err := s.get(uri, "application/json")
	if err != nil {
		return nil, err
	}
	var meta metadataResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, dzerr.Wrap(dzerr.KindNetworkProtocol, "pyramid", err, "parsing metadata response")
	}
	s.width, s.height = meta.Width, meta.Height
	s.tileWidth, s.tileHeight = meta.TileWidth, meta.TileHeight
	if s.tileWidth == 0 || s.tileHeight == 0 {
		return nil, dzerr.New(dzerr.KindNetworkProtocol, "pyramid", "metadata response did not declare a tile size")
	}
	return s, nil
}

func (s *RemoteSource) LevelCount() int                              { return 1 }
func (s *RemoteSource) LevelWidth(int) int                            { return s.width }
func (s *RemoteSource) LevelHeight(int) int                           { return s.height }
func (s *RemoteSource) TileWidth(int) int                             { return s.tileWidth }
func (s *RemoteSource) TileHeight(int) int                            { return s.tileHeight }
func (s *RemoteSource) PixelFormat() pixel.Format                     { return pixel.FormatRGB24 }
func (s *RemoteSource) PhotometricInterpretation() pixel.Photometric { return pixel.PhotometricRGB }

// ReadRawTile always returns ok=false: the remote tile server is decoded
// client-side only (spec.md §4.2).
func (s *RemoteSource) ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error) {
	return nil, 0, false, nil
}

// DecodeTile fetches the tile over HTTP and decodes it as PNG or JPEG
// client-side (spec.md §4.2).
func (s *RemoteSource) DecodeTile(level, x, y int) (*pixel.Image, bool, error) {
	px := x * s.tileWidth
	py := y * s.tileHeight
	if px >= s.width || py >= s.height {
		img, err := pixel.Allocate(pixel.FormatRGB24, s.tileWidth, s.tileHeight)
		return img, true, err
	}
	w, h := s.tileWidth, s.tileHeight
	if px+w > s.width {
		w = s.width - px
	}
	if py+h > s.height {
		h = s.height - py
	}

	uri := fmt.Sprintf("api/imageinstance/%s/window-%d-%d-%d-%d.jpg", s.cfg.ImageID, px, py, w, h)
	body, err := s.get(uri, "image/jpeg")
	if err != nil {
		return nil, false, err
	}
	compression, derr := pixel.DetectFormatFromMemory(body)
	if derr != nil {
		compression = pixel.CompressionJPEG
	}
	img, err := pixel.DecodeTile(body, compression, pixel.FormatRGB24, w, h, pixel.PhotometricRGB)
	if err != nil {
		return nil, false, err
	}
	if w == s.tileWidth && h == s.tileHeight {
		return img, false, nil
	}
	out, err := pixel.Allocate(pixel.FormatRGB24, s.tileWidth, s.tileHeight)
	if err != nil {
		return nil, false, err
	}
	pixel.Embed(out, img, 0, 0)
	return out, false, nil
}

func (s *RemoteSource) Close() error { return nil }

// get issues an authenticated GET against uri (relative to cfg.BaseURL),
// per spec.md §6's HMAC scheme.
func (s *RemoteSource) get(uri, mimeType string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, s.cfg.BaseURL+"/"+uri, nil)
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindInternal, "pyramid", err, "building request")
	}
	date := time.Now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	req.Header.Set("Accept", mimeType)
	req.Header.Set("Authorization", AuthorizationHeader(s.cfg.PublicKey, s.cfg.SecretKey, mimeType, date, uri))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindNetworkProtocol, "pyramid", err, "GET %s", uri)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindNetworkProtocol, "pyramid", err, "reading response body")
	}
	if resp.StatusCode >= 400 {
		return nil, dzerr.New(dzerr.KindNetworkProtocol, "pyramid", "GET %s: HTTP %d", uri, resp.StatusCode)
	}
	return body, nil
}

// AuthorizationHeader builds the "<scheme> <public-key>:<signature>" header
// value from spec.md §6's SHA-1 HMAC auth scheme: request key is
// "GET\n\n<MIME>\n<RFC-1123 date>\n/<uri>"; signature is
// base64(HMAC-SHA1(privateKey, key)).
func AuthorizationHeader(publicKey, privateKey, mimeType, date, uri string) string {
	key := fmt.Sprintf("GET\n\n%s\n%s\n/%s", mimeType, date, uri)
	mac := hmac.New(sha1.New, []byte(privateKey))
	mac.Write([]byte(key))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("HMAC-SHA1 %s:%s", publicKey, signature)
}
