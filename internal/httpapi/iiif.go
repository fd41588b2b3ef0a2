package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/pyramid"
)

// iiifInfo is the IIIF Image API 3.0 descriptor body.
type iiifInfo struct {
	Context  string     `json:"@context"`
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Protocol string     `json:"protocol"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	MaxArea  int        `json:"maxArea,omitempty"`
	Tiles    []iiifTile `json:"tiles"`
	Profile  string     `json:"profile"`
}

type iiifTile struct {
	Width        int   `json:"width"`
	Height       int   `json:"height"`
	ScaleFactors []int `json:"scaleFactors"`
}

// IIIFInfoHandler serves GET /iiif/tiles/{seriesId}/info.json.
func IIIFInfoHandler(reg Registry, baseURL string, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seriesID := r.PathValue("seriesId")
		src, ok := reg.Lookup(seriesID)
		if !ok {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindUnknownResource, "httpapi", "unknown series %q", seriesID))
			return
		}

		scaleFactors, powerOfTwo := levelScaleFactors(src)
		if !powerOfTwo && log != nil {
			log.Warn("pyramid levels are not pure powers of two; IIIF scaleFactors truncated", "seriesId", seriesID)
		}

		info := iiifInfo{
			Context:  "http://iiif.io/api/image/3/context.json",
			ID:       fmt.Sprintf("%s/iiif/tiles/%s", strings.TrimSuffix(baseURL, "/"), seriesID),
			Type:     "ImageService3",
			Protocol: "http://iiif.io/api/image",
			Width:    src.LevelWidth(0),
			Height:   src.LevelHeight(0),
			Profile:  "level2",
			Tiles: []iiifTile{{
				Width:        src.TileWidth(0),
				Height:       src.TileHeight(0),
				ScaleFactors: scaleFactors,
			}},
		}
		w.Header().Set("Content-Type", "application/ld+json")
		_ = json.NewEncoder(w).Encode(info)
	})
}

// levelScaleFactors derives the IIIF scaleFactors array from consecutive
// levels' downsample ratios, stopping (and reporting powerOfTwo=false) at
// the first level whose ratio relative to level 0 isn't a power of two
// (spec.md §6 IIIF power-of-two compatibility note).
func levelScaleFactors(src pyramid.Source) (factors []int, powerOfTwo bool) {
	baseWidth := src.LevelWidth(0)
	powerOfTwo = true
	for level := 0; level < src.LevelCount(); level++ {
		w := src.LevelWidth(level)
		if w <= 0 {
			break
		}
		ratio := baseWidth / w
		if baseWidth%w != 0 || ratio&(ratio-1) != 0 {
			powerOfTwo = false
			break
		}
		factors = append(factors, ratio)
	}
	if len(factors) == 0 {
		factors = []int{1}
	}
	return factors, powerOfTwo
}

// IIIFTileHandler serves GET
// /iiif/tiles/{seriesId}/{region}/{size}/{rotation}/{quality}.{format}.
// Only rotation=0, quality=default, format=jpg are supported (spec.md §6).
func IIIFTileHandler(reg Registry, log *slog.Logger) http.Handler {
	sem := newTranscodeSemaphore(0)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seriesID := r.PathValue("seriesId")
		src, ok := reg.Lookup(seriesID)
		if !ok {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindUnknownResource, "httpapi", "unknown series %q", seriesID))
			return
		}

		rotation := r.PathValue("rotation")
		quality, format, ok := strings.Cut(r.PathValue("qualityFormat"), ".")
		if !ok || rotation != "0" || quality != "default" || format != "jpg" {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindParameterOutOfRange, "httpapi",
				"unsupported rotation/quality/format %q/%q/%q", rotation, quality, format))
			return
		}

		region, err := parseIIIFRegion(r.PathValue("region"), src)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		targetW, targetH, err := parseIIIFSize(r.PathValue("size"), region)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}

		sem.acquire()
		defer sem.release()

		img, err := cropRegion(src, region)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		if targetW != region.w || targetH != region.h {
			img, err = pixel.Crop(img, 0, 0, targetW, targetH)
			if err != nil {
				writeError(w, log, "httpapi", err)
				return
			}
		}
		data, err := pixel.EncodeTile(img, pixel.CompressionJPEG, defaultJPEGQuality)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(data)
	})
}

type iiifRegion struct {
	x, y, w, h int
}

func parseIIIFRegion(raw string, src pyramid.Source) (iiifRegion, error) {
	if raw == "full" {
		return iiifRegion{0, 0, src.LevelWidth(0), src.LevelHeight(0)}, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return iiifRegion{}, dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed region %q", raw)
	}
	values := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return iiifRegion{}, dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed region %q", raw)
		}
		values[i] = v
	}
	return iiifRegion{values[0], values[1], values[2], values[3]}, nil
}

// parseIIIFSize supports "w,h", "w,", ",h", and "full"/"max" (unchanged).
func parseIIIFSize(raw string, region iiifRegion) (w, h int, err error) {
	if raw == "full" || raw == "max" {
		return region.w, region.h, nil
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return 0, 0, dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed size %q", raw)
	}
	if parts[0] == "" && parts[1] == "" {
		return 0, 0, dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed size %q", raw)
	}
	if parts[0] != "" {
		w, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed size width %q", raw)
		}
	}
	if parts[1] != "" {
		h, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed size height %q", raw)
		}
	}
	if w == 0 {
		w = region.w * h / region.h
	}
	if h == 0 {
		h = region.h * w / region.w
	}
	return w, h, nil
}

// cropRegion materializes an arbitrary pixel rectangle out of level 0 by
// decoding and stitching the tiles it overlaps.
func cropRegion(src pyramid.Source, region iiifRegion) (*pixel.Image, error) {
	tw := src.TileWidth(0)
	th := src.TileHeight(0)
	out, err := pixel.Allocate(src.PixelFormat(), region.w, region.h)
	if err != nil {
		return nil, err
	}

	firstTileX := region.x / tw
	firstTileY := region.y / th
	lastTileX := (region.x + region.w - 1) / tw
	lastTileY := (region.y + region.h - 1) / th

	for ty := firstTileY; ty <= lastTileY; ty++ {
		for tx := firstTileX; tx <= lastTileX; tx++ {
			tile, isEmpty, err := src.DecodeTile(0, tx, ty)
			if err != nil {
				return nil, err
			}
			if isEmpty {
				continue
			}
			pixel.Embed(out, tile, tx*tw-region.x, ty*th-region.y)
		}
	}
	return out, nil
}

// IIIFFrameInfoHandler serves GET /iiif/frames/{seriesId}/{frame}/info.json:
// a level0-profile IIIF descriptor for one raw, untransformed tile, grounded
// on the original's per-instance ServeIIIFFrameInfo (ViewerPlugin/IIIF.cpp).
// The original addresses a frame by its own Orthanc SOP instance ID; this
// registry indexes whole assembled pyramids rather than individual DICOM
// files, so a "frame" here is a linear, raster-order index into the
// registered series' level-0 tile grid instead.
func IIIFFrameInfoHandler(reg Registry, baseURL string, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seriesID := r.PathValue("seriesId")
		src, ok := reg.Lookup(seriesID)
		if !ok {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindUnknownResource, "httpapi", "unknown series %q", seriesID))
			return
		}
		frame, err := strconv.Atoi(r.PathValue("frame"))
		if err != nil || frame < 0 {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed frame %q", r.PathValue("frame")))
			return
		}
		x, y, err := frameTileCoordinates(src, frame)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		width, height := tileDimensions(src, 0, x, y)

		base := strings.TrimSuffix(baseURL, "/")
		info := iiifInfo{
			Context:  "http://iiif.io/api/image/3/context.json",
			ID:       fmt.Sprintf("%s/iiif/frames/%s/%d", base, seriesID, frame),
			Type:     "ImageService3",
			Protocol: "http://iiif.io/api/image",
			Width:    width,
			Height:   height,
			Profile:  "level0",
			Tiles:    []iiifTile{{Width: width, Height: height, ScaleFactors: []int{1}}},
		}
		w.Header().Set("Content-Type", "application/ld+json")
		_ = json.NewEncoder(w).Encode(info)
	})
}

// IIIFFrameImageHandler serves GET
// /iiif/frames/{seriesId}/{frame}/full/max/0/default.jpg: the raw tile
// itself, re-encoded as JPEG with no region/size transform (the original's
// ServeIIIFFrameImage fetches Orthanc's own frame preview unmodified).
func IIIFFrameImageHandler(reg Registry, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seriesID := r.PathValue("seriesId")
		src, ok := reg.Lookup(seriesID)
		if !ok {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindUnknownResource, "httpapi", "unknown series %q", seriesID))
			return
		}
		frame, err := strconv.Atoi(r.PathValue("frame"))
		if err != nil || frame < 0 {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed frame %q", r.PathValue("frame")))
			return
		}
		x, y, err := frameTileCoordinates(src, frame)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		img, isEmpty, err := src.DecodeTile(0, x, y)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		if isEmpty {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindUnknownResource, "httpapi", "frame %d is empty", frame))
			return
		}
		data, err := pixel.EncodeTile(img, pixel.CompressionJPEG, defaultJPEGQuality)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(data)
	})
}

// frameTileCoordinates maps a linear, raster-order frame index to its
// level-0 tile column/row.
func frameTileCoordinates(src pyramid.Source, frame int) (x, y int, err error) {
	tilesX := pyramid.TilesAcross(src, 0)
	if tilesX <= 0 {
		return 0, 0, dzerr.New(dzerr.KindBadFileFormat, "httpapi", "source has no tile columns at level 0")
	}
	tilesY := pyramid.TilesDown(src, 0)
	y, x = frame/tilesX, frame%tilesX
	if y >= tilesY {
		return 0, 0, dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "frame %d out of range (%d tiles)", frame, tilesX*tilesY)
	}
	return x, y, nil
}

// tileDimensions returns a tile's actual pixel size, accounting for the
// partial tile at the right/bottom edge of a level.
func tileDimensions(src pyramid.Source, level, x, y int) (w, h int) {
	tw, th := src.TileWidth(level), src.TileHeight(level)
	lw, lh := src.LevelWidth(level), src.LevelHeight(level)
	w = tw
	if (x+1)*tw > lw {
		w = lw - x*tw
	}
	h = th
	if (y+1)*th > lh {
		h = lh - y*th
	}
	return w, h
}

// iiifManifest is a minimal IIIF Presentation API 3.0 manifest.
type iiifManifest struct {
	Context string              `json:"@context"`
	ID      string              `json:"id"`
	Type    string              `json:"type"`
	Label   map[string][]string `json:"label"`
	Items   []iiifCanvas        `json:"items"`
}

type iiifCanvas struct {
	ID     string               `json:"id"`
	Type   string               `json:"type"`
	Width  int                  `json:"width"`
	Height int                  `json:"height"`
	Items  []iiifAnnotationPage `json:"items"`
}

type iiifAnnotationPage struct {
	ID    string           `json:"id"`
	Type  string           `json:"type"`
	Items []iiifAnnotation `json:"items"`
}

type iiifAnnotation struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Motivation string        `json:"motivation"`
	Body       iiifImageBody `json:"body"`
	Target     string        `json:"target"`
}

type iiifImageBody struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Format  string           `json:"format"`
	Width   int              `json:"width"`
	Height  int              `json:"height"`
	Service []iiifServiceRef `json:"service"`
}

type iiifServiceRef struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Profile string `json:"profile"`
}

// IIIFManifestHandler serves GET /iiif/series/{seriesId}/manifest.json.
func IIIFManifestHandler(reg Registry, baseURL string, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seriesID := r.PathValue("seriesId")
		src, ok := reg.Lookup(seriesID)
		if !ok {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindUnknownResource, "httpapi", "unknown series %q", seriesID))
			return
		}
		base := strings.TrimSuffix(baseURL, "/")
		canvasID := fmt.Sprintf("%s/iiif/series/%s/canvas/1", base, seriesID)
		imageID := fmt.Sprintf("%s/iiif/tiles/%s", base, seriesID)

		manifest := iiifManifest{
			Context: "http://iiif.io/api/presentation/3/context.json",
			ID:      fmt.Sprintf("%s/iiif/series/%s/manifest.json", base, seriesID),
			Type:    "Manifest",
			Label:   map[string][]string{"none": {seriesID}},
			Items: []iiifCanvas{{
				ID:     canvasID,
				Type:   "Canvas",
				Width:  src.LevelWidth(0),
				Height: src.LevelHeight(0),
				Items: []iiifAnnotationPage{{
					ID:   canvasID + "/page",
					Type: "AnnotationPage",
					Items: []iiifAnnotation{{
						ID:         canvasID + "/annotation",
						Type:       "Annotation",
						Motivation: "painting",
						Target:     canvasID,
						Body: iiifImageBody{
							ID:     imageID + "/full/max/0/default.jpg",
							Type:   "Image",
							Format: "image/jpeg",
							Width:  src.LevelWidth(0),
							Height: src.LevelHeight(0),
							Service: []iiifServiceRef{{
								ID:      imageID,
								Type:    "ImageService3",
								Profile: "level2",
							}},
						},
					}},
				}},
			}},
		}
		w.Header().Set("Content-Type", "application/ld+json")
		_ = json.NewEncoder(w).Encode(manifest)
	})
}
