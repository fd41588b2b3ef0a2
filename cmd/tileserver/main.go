// Command tileserver serves a directory of whole-slide-image pyramids over
// the tile, IIIF, and metadata HTTP surface (internal/httpapi).
package main

import (
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pspoerri/dicomizer/internal/httpapi"
	"github.com/pspoerri/dicomizer/internal/pyramid"
)

func main() {
	var (
		portFlag int
		dataDir  string
		baseURL  string
	)
	flag.IntVar(&portFlag, "port", 0, "port for serving HTTP requests")
	flag.StringVar(&dataDir, "data", "./series", "directory of series, one subdirectory per series ID")
	flag.StringVar(&baseURL, "base-url", "", "externally visible base URL, used in IIIF descriptors")
	flag.Parse()

	port := portFlag
	if port == 0 {
		port, _ = strconv.Atoi(os.Getenv("PORT"))
	}
	if port == 0 {
		port = 8080
	}

	log_ := slog.New(slog.NewTextHandler(os.Stderr, nil))

	reg := httpapi.NewMemoryRegistry()
	if err := loadSeries(reg, dataDir, log_); err != nil {
		log.Fatal(err)
	}

	mux := httpapi.NewMux(reg, baseURL, log_)
	addr := ":" + strconv.Itoa(port)
	log_.Info("tileserver listening", "addr", addr, "data", dataDir)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// loadSeries opens one pyramid.Source per entry of root: a subdirectory as a
// DICOM series built from the .dcm files directly inside it, a .tif/.tiff
// file as a TIFF pyramid. Other entries are skipped. Each source is
// registered under its entry name, minus any extension, as the series ID.
func loadSeries(reg *httpapi.MemoryRegistry, root string, log *slog.Logger) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		path := filepath.Join(root, e.Name())
		seriesID := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		var source pyramid.Source
		switch {
		case e.IsDir():
			source, err = pyramid.OpenDICOMSourceFromFiles(dcmFilesIn(path), nil, log)
		case strings.HasSuffix(strings.ToLower(e.Name()), ".tif"), strings.HasSuffix(strings.ToLower(e.Name()), ".tiff"):
			source, err = pyramid.OpenTIFFSource(path)
		default:
			continue
		}
		if err != nil {
			log.Warn("skipping series", "series", seriesID, "error", err)
			continue
		}
		reg.Put(seriesID, source)
		log.Info("registered series", "series", seriesID, "path", path)
	}
	return nil
}

func dcmFilesIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".dcm") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files
}
