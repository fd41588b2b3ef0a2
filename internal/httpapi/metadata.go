package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pyramid"
)

// levelMetadata describes one pyramid level in the /pyramids/<id> response.
type levelMetadata struct {
	Level      int `json:"level"`
	Width      int `json:"width"`
	Height     int `json:"height"`
	TileWidth  int `json:"tileWidth"`
	TileHeight int `json:"tileHeight"`
}

// pyramidMetadata is the GET /pyramids/<seriesId> response body.
type pyramidMetadata struct {
	SeriesID    string          `json:"seriesId"`
	Levels      []levelMetadata `json:"levels"`
	PixelFormat string          `json:"pixelFormat"`
	Photometric string          `json:"photometricInterpretation"`
}

func describeSource(seriesID string, src pyramid.Source) pyramidMetadata {
	meta := pyramidMetadata{
		SeriesID:    seriesID,
		PixelFormat: src.PixelFormat().String(),
		Photometric: src.PhotometricInterpretation().String(),
	}
	for level := 0; level < src.LevelCount(); level++ {
		meta.Levels = append(meta.Levels, levelMetadata{
			Level:      level,
			Width:      src.LevelWidth(level),
			Height:     src.LevelHeight(level),
			TileWidth:  src.TileWidth(level),
			TileHeight: src.TileHeight(level),
		})
	}
	return meta
}

// PyramidHandler serves GET /pyramids/{seriesId}.
func PyramidHandler(reg Registry, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seriesID := r.PathValue("seriesId")
		src, ok := reg.Lookup(seriesID)
		if !ok {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindUnknownResource, "httpapi", "unknown series %q", seriesID))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(describeSource(seriesID, src))
	})
}
