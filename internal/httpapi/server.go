package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux assembles the full tile/IIIF/metrics surface onto one
// *http.ServeMux, grounded on brawer/wikidata-qrank's qrank-webserver
// wiring its handlers and promhttp.Handler() onto a single mux.
func NewMux(reg Registry, baseURL string, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /pyramids/{seriesId}", PyramidHandler(reg, log))
	mux.Handle("GET /tiles/{seriesId}/{level}/{x}/{y}", TileHandler(reg, log))
	mux.Handle("GET /iiif/tiles/{seriesId}/info.json", IIIFInfoHandler(reg, baseURL, log))
	mux.Handle("GET /iiif/tiles/{seriesId}/{region}/{size}/{rotation}/{qualityFormat}", IIIFTileHandler(reg, log))
	mux.Handle("GET /iiif/series/{seriesId}/manifest.json", IIIFManifestHandler(reg, baseURL, log))
	mux.Handle("GET /iiif/frames/{seriesId}/{frame}/info.json", IIIFFrameInfoHandler(reg, baseURL, log))
	mux.Handle("GET /iiif/frames/{seriesId}/{frame}/full/max/0/default.jpg", IIIFFrameImageHandler(reg, log))
	mux.Handle("GET /frames/{seriesId}/{frame}", FramePyramidHandler(reg, log))
	mux.Handle("GET /frames/{seriesId}/{frame}/{level}/{x}/{y}", FrameTileHandler(reg, log))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
