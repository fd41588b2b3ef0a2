package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/pspoerri/dicomizer/internal/commands"
	"github.com/pspoerri/dicomizer/internal/dicomds"
	"github.com/pspoerri/dicomizer/internal/dicomtag"
	"github.com/pspoerri/dicomizer/internal/dicomvr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/resample"
	"github.com/pspoerri/dicomizer/internal/task"
	"github.com/pspoerri/dicomizer/internal/writer"
)

// defaultMicronsPerPixel is the assumed scan resolution used to default a
// source's imaged-volume physical dimensions when neither the source nor
// the caller supplies one (spec.md §4.9: "read (or default) imaged-volume
// width/height").
const defaultMicronsPerPixel = 0.25

// DICOMConfig configures ConvertToDICOM.
type DICOMConfig struct {
	Config

	ConcatenationEnabled bool
	MaxDICOMFileSize     int64

	StudyInstanceUID    string
	SeriesInstanceUID   string
	FrameOfReferenceUID string

	// ImagedVolumeWidthMM/HeightMM are the physical dimensions of the
	// pixel-space level 0 image; 0 defaults to defaultMicronsPerPixel times
	// the level 0 pixel dimensions.
	ImagedVolumeWidthMM  float64
	ImagedVolumeHeightMM float64

	Template DatasetTemplate

	Sink             writer.Sink
	JPEGLSTranscoder writer.JPEGLSTranscoder
}

// ConvertToDICOM drives the Convert-to-DICOM pipeline (spec.md §4.9):
// transcodes every source level directly into a multiframe DICOM writer,
// optionally reconstructing additional coarser levels beyond the source's
// own, splitting the reconstruction into two passes through the
// truncated-pyramid wrapper when more than two levels would be
// reconstructed in one pass.
func ConvertToDICOM(cfg DICOMConfig) error {
	if cfg.StudyInstanceUID == "" {
		cfg.StudyInstanceUID = uuid.NewString()
	}
	if cfg.SeriesInstanceUID == "" {
		cfg.SeriesInstanceUID = uuid.NewString()
	}
	if cfg.FrameOfReferenceUID == "" {
		cfg.FrameOfReferenceUID = uuid.NewString()
	}

	source := cfg.Source
	sourceLevels := source.LevelCount()
	level0Width, level0Height := source.LevelWidth(0), source.LevelHeight(0)

	widthMM := cfg.ImagedVolumeWidthMM
	if widthMM == 0 {
		widthMM = float64(level0Width) * defaultMicronsPerPixel / 1000
	}
	heightMM := cfg.ImagedVolumeHeightMM
	if heightMM == 0 {
		heightMM = float64(level0Height) * defaultMicronsPerPixel / 1000
	}

	tileW, tileH := cfg.tileSize()

	enrichOpts, err := buildEnrichmentOptions(cfg.Template, cfg.Background, time.Now())
	if err != nil {
		return err
	}
	enrichOpts = append(enrichOpts,
		dicomds.WithElement(dicomtag.ImagedVolumeWidth, dicomvr.FD, widthMM),
		dicomds.WithElement(dicomtag.ImagedVolumeHeight, dicomvr.FD, heightMM),
	)

	opticalPathID := "1"
	if cfg.Template.OpticalPath == "none" {
		opticalPathID = ""
	}

	dw := writer.NewDICOMWriter(writer.DICOMWriterConfig{
		TileWidth:             tileW,
		TileHeight:            tileH,
		PixelFormat:           source.PixelFormat(),
		Photometric:           source.PhotometricInterpretation(),
		Compression:           cfg.Compression,
		JPEGQuality:           cfg.JPEGQuality,
		MaxDICOMFileSize:      cfg.MaxDICOMFileSize,
		ConcatenationEnabled:  cfg.ConcatenationEnabled,
		StudyInstanceUID:      cfg.StudyInstanceUID,
		SeriesInstanceUID:     cfg.SeriesInstanceUID,
		FrameOfReferenceUID:   cfg.FrameOfReferenceUID,
		OpticalPathIdentifier: opticalPathID,
		ImagedVolumeWidthMM:   widthMM,
		ImagedVolumeHeightMM:  heightMM,
		ExtraDatasetOptions:   enrichOpts,
		JPEGLSTranscoder:      cfg.JPEGLSTranscoder,
		Sink:                  cfg.Sink,
	})

	totalLevels := cfg.targetLevelCount()
	numExtra := totalLevels - sourceLevels
	if numExtra < 0 {
		numExtra = 0
		totalLevels = sourceLevels
	}

	// Direct levels are transcoded straight from the source. When
	// reconstructing extra levels, the last source level becomes the base
	// of the reconstruction pass instead of being transcoded separately, so
	// it is written exactly once.
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
		if err := dw.AddLevel(widths[lvl], heights[lvl]); err != nil {
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
		if err := runBag(cfg.Config, "transcode", bag, prepareSourceLevelTasks(reader, dw, lvl)); err != nil {
			return err
		}
	}

	if numExtra > 0 {
		if err := reconstructLevels(cfg.Config, dw, sourceLevels-1, numExtra, tileW, tileH, settings); err != nil {
			return err
		}
	}

	return dw.Flush()
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// reconstructLevels builds numExtra coarser levels above baseLevel (a
// source level already present in w, which is not re-transcoded — the
// reconstruction pass supplies it via the Reader's own level 0). When more
// than two levels would be reconstructed in one pass, the work is split
// into two passes through the truncated-pyramid wrapper (spec.md §4.9,
// §4.4.3), with the split level chosen by ChooseLowerLevelCount.
func reconstructLevels(cfg Config, w writer.Writer, baseLevel, numExtra, tileW, tileH int, settings resample.Settings) error {
	reader, err := resample.NewReader(cfg.Source, baseLevel, tileW, tileH, settings)
	if err != nil {
		return err
	}

	if numExtra <= 2 {
		bag := task.NewBag()
		cmds := commands.PrepareReconstructTasks(reader, w, numExtra, baseLevel, cfg.Smooth)
		return runBag(cfg, "reconstruct", bag, cmds)
	}

	firstPassUpTo := cfg.LowerLevels
	if firstPassUpTo <= 0 || firstPassUpTo > numExtra {
		firstPassUpTo = commands.ChooseLowerLevelCount(cfg.threads(), numExtra+1, tileW, tileH)
	}
	if firstPassUpTo < 1 {
		firstPassUpTo = 1
	}
	if firstPassUpTo >= numExtra {
		firstPassUpTo = numExtra - 1
	}

	splitLevel := baseLevel + firstPassUpTo
	splitTilesX := w.CountTilesX(splitLevel)
	splitTilesY := w.CountTilesY(splitLevel)
	background, err := pixel.Allocate(reader.PixelFormat(), tileW, tileH)
	if err != nil {
		return err
	}
	pixel.Set(background, settings.BackgroundColor[0], settings.BackgroundColor[1], settings.BackgroundColor[2])
	memImage := writer.NewMemoryTiledImage(splitTilesX, splitTilesY, tileW, tileH, reader.PixelFormat(), background)

	truncated := writer.NewTruncatedWriter(w, splitLevel, memImage)
	firstPassCmds := commands.PrepareReconstructTasks(reader, truncated, firstPassUpTo, baseLevel, cfg.Smooth)
	firstBag := task.NewBag()
	if err := runBag(cfg, "reconstruct-lower", firstBag, firstPassCmds); err != nil {
		return err
	}

	memSource := &memorySource{
		image:       memImage,
		photometric: reader.Photometric(),
	}
	secondReader, err := resample.NewReader(memSource, 0, tileW, tileH, settings)
	if err != nil {
		return err
	}
	secondPassUpTo := numExtra - firstPassUpTo
	secondPassCmds := commands.PrepareReconstructTasks(secondReader, w, secondPassUpTo, splitLevel, cfg.Smooth)
	secondBag := task.NewBag()
	return runBag(cfg, "reconstruct-upper", secondBag, secondPassCmds)
}

// memorySource adapts a writer.MemoryTiledImage — the truncated-pyramid
// wrapper's split-level redirect target — back into a one-level
// resample.Source for the second reconstruction pass (spec.md §4.4.3).
type memorySource struct {
	image       *writer.MemoryTiledImage
	photometric pixel.Photometric
}

func (s *memorySource) LevelWidth(int) int                           { return s.image.TilesX() * s.image.TileWidth() }
func (s *memorySource) LevelHeight(int) int                          { return s.image.TilesY() * s.image.TileHeight() }
func (s *memorySource) TileWidth(int) int                            { return s.image.TileWidth() }
func (s *memorySource) TileHeight(int) int                           { return s.image.TileHeight() }
func (s *memorySource) PixelFormat() pixel.Format                    { return s.image.Format() }
func (s *memorySource) PhotometricInterpretation() pixel.Photometric { return s.photometric }

func (s *memorySource) ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error) {
	return nil, 0, false, nil
}

func (s *memorySource) DecodeTile(level, x, y int) (*pixel.Image, bool, error) {
	img, empty := s.image.Get(x, y)
	return img, empty, nil
}

var _ resample.Source = (*memorySource)(nil)
