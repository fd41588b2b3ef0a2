package pipeline

import (
	"github.com/pspoerri/dicomizer/internal/resample"
	"github.com/pspoerri/dicomizer/internal/task"
	"github.com/pspoerri/dicomizer/internal/writer"
)

// TIFFConfig configures ConvertToTIFF.
type TIFFConfig struct {
	Config

	Path   string
	TmpDir string
}

// ConvertToTIFF drives the Convert-to-TIFF pipeline (spec.md §4.9): it
// transcodes the source levels into a hierarchical, JPEG-only classic
// (non-BigTIFF) TIFF and, when more levels are requested than the source
// has, rebuilds the source's coarsest level and the extra levels by
// reconstruction. Missing tiles
// are left to the underlying TIFFWriter, which synthesizes a precomputed
// empty tile for any slot never written.
func ConvertToTIFF(cfg TIFFConfig) error {
	source := cfg.Source
	tileW, tileH := cfg.tileSize()

	tw := writer.NewTIFFWriter(cfg.Path, cfg.TmpDir, tileW, tileH, source.PixelFormat(), source.PhotometricInterpretation(), cfg.JPEGQuality)

	sourceLevels := source.LevelCount()
	totalLevels := cfg.targetLevelCount()
	numExtra := totalLevels - sourceLevels
	if numExtra < 0 {
		numExtra = 0
		totalLevels = sourceLevels
	}
	directLevels := sourceLevels
	if numExtra > 0 {
		directLevels = sourceLevels - 1
	}

	widths := make([]int, totalLevels)
	heights := make([]int, totalLevels)
	for lvl := 0; lvl < totalLevels; lvl++ {
		if lvl < sourceLevels {
			widths[lvl] = source.LevelWidth(lvl)
			heights[lvl] = source.LevelHeight(lvl)
		} else {
			widths[lvl] = ceilDiv(widths[lvl-1], 2)
			heights[lvl] = ceilDiv(heights[lvl-1], 2)
		}
		if err := tw.AddLevel(widths[lvl], heights[lvl]); err != nil {
			return err
		}
	}

	settings := cfg.resampleSettings()
	for lvl := 0; lvl < directLevels; lvl++ {
		reader, err := resample.NewReader(source, lvl, tileW, tileH, settings)
		if err != nil {
			return err
		}
		bag := task.NewBag()
		if err := runBag(cfg.Config, "transcode", bag, prepareSourceLevelTasks(reader, tw, lvl)); err != nil {
			return err
		}
	}

	if numExtra > 0 {
		if err := reconstructLevels(cfg.Config, tw, sourceLevels-1, numExtra, tileW, tileH, settings); err != nil {
			return err
		}
	}

	return tw.Flush()
}
