package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/pyramid"
)

// levelInfo is one pyramid level's shape, the unit reported by "info".
type levelInfo struct {
	Level      int `json:"level"`
	Width      int `json:"width"`
	Height     int `json:"height"`
	TileWidth  int `json:"tileWidth"`
	TileHeight int `json:"tileHeight"`
	TilesX     int `json:"tilesX"`
	TilesY     int `json:"tilesY"`
}

type pyramidInfo struct {
	Path        string      `json:"path"`
	PixelFormat string      `json:"pixelFormat"`
	Photometric string      `json:"photometric"`
	Levels      []levelInfo `json:"levels"`
}

// NewInfoCmd creates the info subcommand, which opens a pyramid source
// read-only and reports its level shapes (mirrors spec.md's dry-run settings
// summary, but against an already-existing file rather than a conversion
// plan).
func NewInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <path>...",
		Short: "print the pyramid shape of a DICOM series, TIFF, or image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			source, err := openSource(paths, slog.Default())
			if err != nil {
				return err
			}
			defer source.Close()

			info := describe(strings.Join(args, ","), source)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			printInfo(info)
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.Bool("json", false, "print as JSON instead of a text table")
	return cmd
}

func describe(path string, source pyramid.Source) pyramidInfo {
	info := pyramidInfo{
		Path:        path,
		PixelFormat: source.PixelFormat().String(),
		Photometric: source.PhotometricInterpretation().String(),
	}
	for lvl := 0; lvl < source.LevelCount(); lvl++ {
		tw, th := source.TileWidth(lvl), source.TileHeight(lvl)
		info.Levels = append(info.Levels, levelInfo{
			Level:      lvl,
			Width:      source.LevelWidth(lvl),
			Height:     source.LevelHeight(lvl),
			TileWidth:  tw,
			TileHeight: th,
			TilesX:     pyramid.TilesAcross(source, lvl),
			TilesY:     pyramid.TilesDown(source, lvl),
		})
	}
	return info
}

func printInfo(info pyramidInfo) {
	fmt.Printf("%s\n", info.Path)
	fmt.Printf("  pixel format:  %s\n", info.PixelFormat)
	fmt.Printf("  photometric:   %s\n", info.Photometric)
	fmt.Printf("  levels:        %d\n", len(info.Levels))
	for _, lvl := range info.Levels {
		fmt.Printf("    level %-2d  %6dx%-6d  tile %dx%d  grid %dx%d\n",
			lvl.Level, lvl.Width, lvl.Height, lvl.TileWidth, lvl.TileHeight, lvl.TilesX, lvl.TilesY)
	}
}

// expandPaths resolves a directory argument to its (non-recursive) entries,
// so a directory of DICOM instances can be passed as a single argument.
func expandPaths(paths []string) ([]string, error) {
	var result []string
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindUnknownResource, "dicomctl", err, "stat %s", p)
		}
		if !st.IsDir() {
			result = append(result, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindUnknownResource, "dicomctl", err, "readdir %s", p)
		}
		for _, e := range entries {
			if !e.IsDir() {
				result = append(result, filepath.Join(p, e.Name()))
			}
		}
	}
	return result, nil
}

// openSource dispatches on file extension: an all-.dcm path list opens as a
// DICOM series, a single .tif/.tiff opens as a hierarchical TIFF, and any
// other single decodable image opens as a one-level plain image source.
func openSource(paths []string, log *slog.Logger) (pyramid.Source, error) {
	if len(paths) == 0 {
		return nil, dzerr.New(dzerr.KindUnknownResource, "dicomctl", "no input files given")
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
		return pyramid.OpenPlainImageSource(img, pixel.PhotometricRGB, 256, 256, 0, [3]uint8{255, 255, 255}), nil
	}
	return nil, dzerr.New(dzerr.KindIncompatibleImageFormat, "dicomctl", "cannot determine source type for %d input(s)", len(paths))
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
		return nil, dzerr.Wrap(dzerr.KindUnknownResource, "dicomctl", err, "reading %s", path)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindBadFileFormat, "dicomctl", err, "decoding %s", path)
	}
	var compression pixel.Compression
	switch format {
	case "jpeg":
		compression = pixel.CompressionJPEG
	case "png":
		compression = pixel.CompressionPNG
	default:
		return nil, dzerr.New(dzerr.KindIncompatibleImageFormat, "dicomctl", "unsupported image format %q", format)
	}
	return pixel.DecodeTile(data, compression, pixel.FormatRGB24, cfg.Width, cfg.Height, pixel.PhotometricRGB)
}
