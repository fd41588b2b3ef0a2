// Command dicomizer converts a whole-slide-image pyramid source (TIFF,
// DICOM, a flat image, or a remote tile server) into a multiframe VL Whole
// Slide Microscopy Image DICOM series or a hierarchical tiled TIFF.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pipeline"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/pyramid"
	"github.com/pspoerri/dicomizer/internal/sink"
	"github.com/pspoerri/dicomizer/internal/writer"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		outFormat    string
		threads      int
		reencode     bool
		repaint      bool
		color        string
		padding      int
		pyramidFlag  bool
		smooth       bool
		levels       int
		lowerLevels  int
		tileWidth    int
		tileHeight   int
		compression  string
		jpegQuality  int
		maxSize      int64
		opticalPath  string
		iccProfile   string
		template     string
		folder       string
		folderPat    string
		orthanc      string
		username     string
		password     string
		proxy        string
		timeout      time.Duration
		verifyPeers  bool
		caCerts      string
		remoteURL    string
		remoteImage  string
		remotePub    string
		remoteSecret string
		dryRun       bool
		verbose      bool
		showVersion  bool
		cpuProfile   string
		memProfile   string
		logFile      string
	)

	flag.StringVar(&outFormat, "output-format", "dicom", "Output format: dicom or tiff")
	flag.IntVar(&threads, "threads", 0, "Worker count (0 = round up half the hardware threads)")
	flag.BoolVar(&reencode, "reencode", false, "Force decode+encode even if codecs match")
	flag.BoolVar(&repaint, "repaint", false, "Enable background repaint for boundary tiles")
	flag.StringVar(&color, "color", "255,255,255", "Background color R,G,B (0..255 each)")
	flag.IntVar(&padding, "padding", 1, "Alignment for plain image sources; 1 means none")
	flag.BoolVar(&pyramidFlag, "pyramid", false, "Reconstruct missing upper levels")
	flag.BoolVar(&smooth, "smooth", false, "Apply 5x5 Gaussian before halving during reconstruction")
	flag.IntVar(&levels, "levels", 0, "Target level count (0 = auto)")
	flag.IntVar(&lowerLevels, "lower-levels", 0, "Split level for two-pass reconstruction (0 = auto)")
	flag.IntVar(&tileWidth, "tile-width", 0, "Target tile width (0 = inherit from source)")
	flag.IntVar(&tileHeight, "tile-height", 0, "Target tile height (0 = inherit from source)")
	flag.StringVar(&compression, "compression", "jpeg", "Tile compression: none, jpeg, jpeg2000, jpeg-ls")
	flag.IntVar(&jpegQuality, "jpeg-quality", 85, "JPEG quality 1-100")
	flag.Int64Var(&maxSize, "max-size", 0, "DICOM per-instance soft cap in bytes; 0 = no cap")
	flag.StringVar(&opticalPath, "optical-path", "brightfield", "Optical path: none or brightfield")
	flag.StringVar(&iccProfile, "icc-profile", "", "Path to an ICC profile; empty = embedded sRGB default")
	flag.StringVar(&template, "dataset-template", "", "Path to a JSON dataset template (patient/study overrides)")
	flag.StringVar(&folder, "folder", "", "Output sink: write instances to this directory")
	flag.StringVar(&folderPat, "folder-pattern", "", "Output filename pattern (printf-style numeric slot)")
	flag.StringVar(&orthanc, "orthanc", "", "Output sink: base URL of an Orthanc-compatible DICOM REST server")
	flag.StringVar(&username, "username", "", "Orthanc basic auth username")
	flag.StringVar(&password, "password", "", "Orthanc basic auth password")
	flag.StringVar(&proxy, "proxy", "", "HTTP proxy URL for the Orthanc sink")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "HTTP timeout for the Orthanc sink")
	flag.BoolVar(&verifyPeers, "verify-peers", true, "Verify TLS peer certificates for the Orthanc sink")
	flag.StringVar(&caCerts, "ca-certificates", "", "Path to a CA bundle for the Orthanc sink")
	flag.StringVar(&remoteURL, "remote-url", "", "Remote tile source: base URL of the tile server")
	flag.StringVar(&remoteImage, "remote-image-id", "", "Remote tile source: image instance ID")
	flag.StringVar(&remotePub, "remote-public-key", "", "Remote tile source: HMAC public key")
	flag.StringVar(&remoteSecret, "remote-secret-key", "", "Remote tile source: HMAC secret key")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate configuration and print the settings summary without converting")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&memProfile, "memprofile", "", "Write memory profile to file")
	flag.StringVar(&logFile, "log-file", "", "Write JSON logs to this file (rotated) instead of stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dicomizer [flags] <input...> <output>\n\n")
		fmt.Fprintf(os.Stderr, "Convert a whole-slide-image pyramid to a multiframe DICOM series or a\nhierarchical tiled TIFF.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("dicomizer %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			fatalf("creating CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fatalf("starting CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}
	if memProfile != "" {
		defer func() {
			f, err := os.Create(memProfile)
			if err != nil {
				fatalf("creating memory profile: %v", err)
			}
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fatalf("writing memory profile: %v", err)
			}
		}()
	}

	log := newLogger(logFile, verbose)

	args := flag.Args()
	if len(args) < 2 && remoteImage == "" {
		flag.Usage()
		os.Exit(1)
	}

	var inputPaths, outputArgs []string
	if remoteImage != "" {
		outputArgs = args
	} else {
		inputPaths = args[:len(args)-1]
		outputArgs = args[len(args)-1:]
	}
	outputPath := outputArgs[0]

	bg, err := parseColor(color)
	if err != nil {
		fatalf("color: %v", err)
	}

	comp, err := parseCompression(compression)
	if err != nil {
		fatalf("compression: %v", err)
	}

	inputPaths, err = expandPaths(inputPaths)
	if err != nil {
		fatalf("resolving inputs: %v", err)
	}

	source, err := openSource(inputPaths, remoteURL, remoteImage, remotePub, remoteSecret, bg, padding, log)
	if err != nil {
		fatalf("opening source: %v", err)
	}
	defer source.Close()

	tmpl, err := pipeline.LoadDatasetTemplate(template)
	if err != nil {
		fatalf("dataset template: %v", err)
	}
	if tmpl.OpticalPath == "" {
		tmpl.OpticalPath = opticalPath
	}
	if tmpl.ICCProfilePath == "" {
		tmpl.ICCProfilePath = iccProfile
	}

	cfg := pipeline.Config{
		Source:      source,
		Threads:     threads,
		Reencode:    reencode,
		Repaint:     repaint,
		Background:  bg,
		Padding:     padding,
		Pyramid:     pyramidFlag,
		Smooth:      smooth,
		Levels:      levels,
		LowerLevels: lowerLevels,
		TileWidth:   tileWidth,
		TileHeight:  tileHeight,
		Compression: comp,
		JPEGQuality: jpegQuality,
		Log:         log,
	}

	printSettings(outFormat, source, cfg, outputPath)

	if dryRun {
		fmt.Println("Dry run: configuration is valid, no output written")
		return
	}

	start := time.Now()
	switch strings.ToLower(outFormat) {
	case "tiff":
		err = pipeline.ConvertToTIFF(pipeline.TIFFConfig{
			Config: cfg,
			Path:   outputPath,
			TmpDir: filepath.Dir(outputPath),
		})
	case "dicom":
		var out writer.Sink
		out, err = openSink(folder, folderPat, orthanc, username, password, proxy, timeout, verifyPeers, caCerts, log)
		if err != nil {
			fatalf("opening sink: %v", err)
		}
		err = pipeline.ConvertToDICOM(pipeline.DICOMConfig{
			Config:               cfg,
			ConcatenationEnabled: maxSize > 0,
			MaxDICOMFileSize:     maxSize,
			Template:             tmpl,
			Sink:                 out,
		})
	default:
		fatalf("unknown output format %q (want dicom or tiff)", outFormat)
	}
	if err != nil {
		fatalf("conversion: %v", err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fi, _ := os.Stat(outputPath)
	if fi != nil {
		fmt.Printf("Done: %s, %v -> %s\n", humanSize(fi.Size()), elapsed, outputPath)
	} else {
		fmt.Printf("Done: %v\n", elapsed)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "dicomizer: "+format+"\n", args...)
	os.Exit(1)
}

func newLogger(logFile string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if logFile == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
	}
	return slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level}))
}

// openSource resolves the input paths (or a remote image ID) to a
// pyramid.Source, dispatching on file extension for local inputs.
func openSource(paths []string, remoteURL, remoteImage, remotePub, remoteSecret string, bg [3]uint8, padding int, log *slog.Logger) (pyramid.Source, error) {
	if remoteImage != "" {
		return pyramid.OpenRemoteSource(pyramid.RemoteSourceConfig{
			BaseURL:   remoteURL,
			ImageID:   remoteImage,
			PublicKey: remotePub,
			SecretKey: remoteSecret,
			Client:    &http.Client{Timeout: 30 * time.Second},
		})
	}
	if len(paths) == 0 {
		return nil, dzerr.New(dzerr.KindUnknownResource, "dicomizer", "no input files given")
	}
	if allDICOM(paths) {
		return pyramid.OpenDICOMSourceFromFiles(paths, nil, log)
	}
	if len(paths) == 1 && isTIFF(paths[0]) {
		return pyramid.OpenTIFFSource(paths[0])
	}
	if len(paths) == 1 {
		img, err := loadPlainImage(paths[0])
		if err != nil {
			return nil, err
		}
		return pyramid.OpenPlainImageSource(img, pixel.PhotometricRGB, 256, 256, padding, bg), nil
	}
	return nil, dzerr.New(dzerr.KindIncompatibleImageFormat, "dicomizer", "cannot determine source type for %d input(s)", len(paths))
}

// expandPaths resolves any directory argument to its (non-recursive)
// directory entries, so a directory of DICOM instances can be passed
// directly as input.
func expandPaths(paths []string) ([]string, error) {
	var result []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindUnknownResource, "dicomizer", err, "stat %s", p)
		}
		if !info.IsDir() {
			result = append(result, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindUnknownResource, "dicomizer", err, "readdir %s", p)
		}
		for _, e := range entries {
			if !e.IsDir() {
				result = append(result, filepath.Join(p, e.Name()))
			}
		}
	}
	return result, nil
}

func allDICOM(paths []string) bool {
	for _, p := range paths {
		if !strings.EqualFold(filepath.Ext(p), ".dcm") {
			return false
		}
	}
	return true
}

func isTIFF(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}

func loadPlainImage(path string) (*pixel.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindUnknownResource, "dicomizer", err, "reading %s", path)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindBadFileFormat, "dicomizer", err, "decoding %s", path)
	}
	var compression pixel.Compression
	switch format {
	case "jpeg":
		compression = pixel.CompressionJPEG
	case "png":
		compression = pixel.CompressionPNG
	default:
		return nil, dzerr.New(dzerr.KindIncompatibleImageFormat, "dicomizer", "unsupported image format %q", format)
	}
	return pixel.DecodeTile(data, compression, pixel.FormatRGB24, cfg.Width, cfg.Height, pixel.PhotometricRGB)
}

func openSink(folder, folderPat, orthanc, username, password, proxy string, timeout time.Duration, verifyPeers bool, caCerts string, log *slog.Logger) (writer.Sink, error) {
	if orthanc != "" {
		return sink.NewRESTSink(sink.RESTSinkConfig{
			BaseURL:        orthanc,
			Username:       username,
			Password:       password,
			Proxy:          proxy,
			Timeout:        timeout,
			VerifyPeers:    verifyPeers,
			CACertificates: caCerts,
			Log:            log,
		})
	}
	if folder == "" {
		return nil, dzerr.New(dzerr.KindUnknownResource, "dicomizer", "no output sink given (use -folder or -orthanc)")
	}
	return sink.NewDiskSink(folder, folderPat), nil
}

func parseColor(s string) ([3]uint8, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]uint8{}, fmt.Errorf("expected R,G,B format, got %q", s)
	}
	var out [3]uint8
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return [3]uint8{}, fmt.Errorf("invalid color component %q (must be 0-255)", p)
		}
		out[i] = uint8(v)
	}
	return out, nil
}

func parseCompression(s string) (pixel.Compression, error) {
	switch strings.ToLower(s) {
	case "none":
		return pixel.CompressionNone, nil
	case "jpeg":
		return pixel.CompressionJPEG, nil
	case "jpeg2000":
		return pixel.CompressionJPEG2000, nil
	case "jpeg-ls":
		return pixel.CompressionJPEGLS, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, jpeg, jpeg2000, jpeg-ls)", s)
	}
}

func printSettings(outFormat string, source pyramid.Source, cfg pipeline.Config, outputPath string) {
	fmt.Printf("dicomizer %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Printf("  %-14s %s\n", "Output format:", outFormat)
	fmt.Printf("  %-14s %dx%d, %d level(s)\n", "Source:", source.LevelWidth(0), source.LevelHeight(0), source.LevelCount())
	fmt.Printf("  %-14s %s (quality %d)\n", "Compression:", cfg.Compression, cfg.JPEGQuality)
	fmt.Printf("  %-14s %d\n", "Threads:", cfg.ResolvedThreads())
	if cfg.Pyramid {
		fmt.Printf("  %-14s yes (target %d levels)\n", "Reconstruct:", cfg.ResolvedLevelCount())
	}
	fmt.Printf("  %-14s %s\n", "Output:", outputPath)
}

func humanSize(n int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1f GB", float64(n)/float64(GB))
	case n >= MB:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(MB))
	case n >= KB:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(KB))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
