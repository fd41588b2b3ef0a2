package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// FramePyramidHandler serves GET /frames/{seriesId}/{frame}, the native
// (non-IIIF) counterpart to Plugin.cpp's ServeFramePyramid: pyramid
// metadata for a single raw tile addressed by its linear frame index rather
// than by (level, x, y). As with the IIIF frame pair, "frame" here indexes
// the registered series' own level-0 tile grid rather than a separate
// per-instance Orthanc resource, so the reported pyramid always has exactly
// one level and one tile.
func FramePyramidHandler(reg Registry, log *slog.Logger) http.Handler {
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

		meta := pyramidMetadata{
			SeriesID:    seriesID,
			PixelFormat: src.PixelFormat().String(),
			Photometric: src.PhotometricInterpretation().String(),
			Levels: []levelMetadata{{
				Level: 0, Width: width, Height: height,
				TileWidth: width, TileHeight: height,
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meta)
	})
}

// FrameTileHandler serves GET /frames/{seriesId}/{frame}/{level}/{x}/{y},
// the native counterpart to Plugin.cpp's ServeFrameTile. Since a frame's own
// pyramid always has exactly one level and one tile, only level=x=y=0 is
// valid; it returns the same content-negotiated bytes TileHandler would for
// that level-0 tile.
func FrameTileHandler(reg Registry, log *slog.Logger) http.Handler {
	sem := newTranscodeSemaphore(0)
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
		level, x, y, err := parseTileCoords(r)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		if level != 0 || x != 0 || y != 0 {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "a frame's own pyramid has only level 0, tile (0,0)"))
			return
		}
		tx, ty, err := frameTileCoordinates(src, frame)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}

		mediaType, compression, ok := negotiate(r.Header.Get("Accept"))
		if !ok {
			notAcceptable(w, log, r.Header.Get("Accept"))
			return
		}
		data, err := tileBytes(src, 0, tx, ty, compression, sem)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		w.Header().Set("Content-Type", mediaType)
		_, _ = w.Write(data)
	})
}
