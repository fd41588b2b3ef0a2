package httpapi

import (
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/pyramid"
)

// negotiable lists the media types this server can produce for a tile, in
// the order they're offered when the client sends "Accept: */*" (spec.md §6:
// "content-negotiating between PNG, JPEG, JPEG-2000 via the Accept header").
var negotiable = []struct {
	mediaType   string
	compression pixel.Compression
}{
	{"image/png", pixel.CompressionPNG},
	{"image/jpeg", pixel.CompressionJPEG},
	{"image/jp2", pixel.CompressionJPEG2000},
}

const defaultJPEGQuality = 85

// negotiate walks the Accept header's clauses in order and returns the first
// negotiable type a clause names, either exactly or through a "type/*"
// wildcard; "*/*" (or an empty header) selects negotiable[0]. Quality
// parameters are ignored: clause order alone decides.
func negotiate(accept string) (string, pixel.Compression, bool) {
	if accept == "" {
		accept = "*/*"
	}
	clauses := strings.Split(accept, ",")
	for _, clause := range clauses {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(clause))
		if err != nil {
			continue
		}
		if mt == "*/*" {
			return negotiable[0].mediaType, negotiable[0].compression, true
		}
		for _, n := range negotiable {
			if mt == n.mediaType || mt == strings.SplitN(n.mediaType, "/", 2)[0]+"/*" {
				return n.mediaType, n.compression, true
			}
		}
	}
	return "", 0, false
}

// TileHandler serves GET /tiles/{seriesId}/{level}/{x}/{y}.
func TileHandler(reg Registry, log *slog.Logger) http.Handler {
	sem := newTranscodeSemaphore(0)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seriesID := r.PathValue("seriesId")
		src, ok := reg.Lookup(seriesID)
		if !ok {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindUnknownResource, "httpapi", "unknown series %q", seriesID))
			return
		}

		level, x, y, err := parseTileCoords(r)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		if level < 0 || level >= src.LevelCount() {
			writeError(w, log, "httpapi", dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "level %d out of range", level))
			return
		}

		mediaType, compression, ok := negotiate(r.Header.Get("Accept"))
		if !ok {
			notAcceptable(w, log, r.Header.Get("Accept"))
			return
		}

		data, err := tileBytes(src, level, x, y, compression, sem)
		if err != nil {
			writeError(w, log, "httpapi", err)
			return
		}
		w.Header().Set("Content-Type", mediaType)
		_, _ = w.Write(data)
	})
}

func parseTileCoords(r *http.Request) (level, x, y int, err error) {
	level, err1 := strconv.Atoi(r.PathValue("level"))
	x, err2 := strconv.Atoi(r.PathValue("x"))
	y, err3 := strconv.Atoi(r.PathValue("y"))
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, dzerr.New(dzerr.KindParameterOutOfRange, "httpapi", "malformed tile coordinates")
	}
	return level, x, y, nil
}

// tileBytes fetches the requested tile and re-encodes it to compression,
// passing raw bytes through untouched when the source already stores them
// in that compression (no semaphore needed — no transcode happens).
func tileBytes(src pyramid.Source, level, x, y int, compression pixel.Compression, sem transcodeSemaphore) ([]byte, error) {
	if raw, rawCompression, ok, err := src.ReadRawTile(level, x, y); err != nil {
		return nil, err
	} else if ok && rawCompression == compression {
		return raw, nil
	}

	sem.acquire()
	defer sem.release()

	img, _, err := src.DecodeTile(level, x, y)
	if err != nil {
		return nil, err
	}
	return pixel.EncodeTile(img, compression, defaultJPEGQuality)
}
