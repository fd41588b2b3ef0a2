// Package pipeline implements the top-level conversion drivers (spec.md
// §4.9): Convert-to-DICOM and Convert-to-TIFF. Each wires a pyramid.Source,
// a resample.Reader, a writer.Writer, and a task.Pool together, and for the
// DICOM path fills the dataset enrichment tags the writer itself has no
// opinion on (imaged volume, dimension organization, optical path, ICC
// profile, total pixel matrix origin), grounded on the teacher's
// cmd/geotiff2pmtiles/main.go driver shape and jpfielding/dicos.go's
// pkg/dicos/module tag-filling helpers.
package pipeline

import (
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/pspoerri/dicomizer/internal/color"
	"github.com/pspoerri/dicomizer/internal/commands"
	"github.com/pspoerri/dicomizer/internal/dicomds"
	"github.com/pspoerri/dicomizer/internal/dicomtag"
	"github.com/pspoerri/dicomizer/internal/dicomvr"
	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/pyramid"
	"github.com/pspoerri/dicomizer/internal/resample"
	"github.com/pspoerri/dicomizer/internal/task"
	"github.com/pspoerri/dicomizer/internal/writer"
)

// Config is the configuration surface for conversion (spec.md §6 table),
// shared by Convert-to-DICOM and Convert-to-TIFF.
type Config struct {
	Source pyramid.Source

	Threads    int // 0 = round up half the hardware threads
	Reencode   bool
	Repaint    bool
	Background [3]uint8
	Padding    int

	Pyramid     bool // reconstruct missing upper levels
	Smooth      bool
	Levels      int // target level count, 0 = auto (see targetLevelCount)
	LowerLevels int // split level for two-pass reconstruction, 0 = auto

	TileWidth, TileHeight int // 0 = inherit from source

	Compression pixel.Compression
	JPEGQuality int

	Log *slog.Logger
}

func (c Config) threads() int {
	if c.Threads > 0 {
		return c.Threads
	}
	n := (runtime.NumCPU() + 1) / 2
	if n < 1 {
		n = 1
	}
	return n
}

func (c Config) tileSize() (width, height int) {
	width, height = c.TileWidth, c.TileHeight
	if width == 0 {
		width = c.Source.TileWidth(0)
	}
	if height == 0 {
		height = c.Source.TileHeight(0)
	}
	return
}

func (c Config) resampleSettings() resample.Settings {
	return resample.Settings{
		ForceReencode:   c.Reencode,
		RepaintBoundary: c.Repaint,
		BackgroundColor: c.Background,
		SafetyCheck:     true,
	}
}

// targetLevelCount reports how many levels the output writer will carry:
// the requested level count if set; otherwise, with pyramid reconstruction
// requested, the source's levels plus as many halvings of its coarsest level
// as it takes to fit in a single tile; otherwise the source's own level
// count.
func (c Config) targetLevelCount() int {
	if c.Levels > 0 {
		return c.Levels
	}
	levels := c.Source.LevelCount()
	if c.Pyramid && levels > 0 {
		tw, th := c.tileSize()
		w, h := c.Source.LevelWidth(levels-1), c.Source.LevelHeight(levels-1)
		for tw > 0 && th > 0 && (w > tw || h > th) {
			w, h = ceilDiv(w, 2), ceilDiv(h, 2)
			levels++
		}
	}
	return levels
}

// ResolvedThreads reports the worker count a conversion will actually use,
// for callers (e.g. a CLI settings summary) that want to display the
// resolved value of the Threads field.
func (c Config) ResolvedThreads() int { return c.threads() }

// ResolvedLevelCount reports the writer level count a conversion will
// actually target, for callers that want to display the resolved value of
// the Levels/Pyramid fields.
func (c Config) ResolvedLevelCount() int { return c.targetLevelCount() }

// reportProgress starts the spec.md §5 10 Hz progress-reporting thread:
// it polls handle until Wait unblocks, logging whenever the rounded
// percentage changes.
func reportProgress(log *slog.Logger, label string, h *task.Handle) {
	if log == nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := -1
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pct := int(h.Progress() * 100)
				if pct != last {
					log.Info("conversion progress", "stage", label, "percent", pct)
					last = pct
				}
			case <-stop:
				return
			}
		}
	}()
	h.Wait()
	close(stop)
	<-done
}

// runBag runs bag on a task.Pool sized per cfg.threads and reports progress
// under label, returning the first command error if the handle failed.
func runBag(cfg Config, label string, bag *task.Bag, cmds []task.Command) error {
	for _, c := range cmds {
		bag.Push(c)
	}
	pool := task.NewPool(cfg.threads())
	handle := pool.Run(bag)
	reportProgress(cfg.Log, label, handle)
	if !handle.Success() {
		return dzerr.New(dzerr.KindInternal, "pipeline", "%s: a worker command failed", label)
	}
	return nil
}

// DatasetTemplate carries the patient/study-level string overrides spec.md
// §4.9's "parse a JSON dataset template" step applies on top of the
// mandatory VL-WSI tags. Fields left empty are not written.
type DatasetTemplate struct {
	PatientName          string `json:"patientName"`
	PatientID            string `json:"patientId"`
	PatientBirthDate     string `json:"patientBirthDate"`
	PatientSex           string `json:"patientSex"`
	Manufacturer         string `json:"manufacturer"`
	SpecificCharacterSet string `json:"specificCharacterSet"`
	OpticalPath          string `json:"opticalPath"` // "none" or "brightfield"
	ICCProfilePath       string `json:"iccProfilePath"`

	// Physical specimen geometry (original_source/Framework/ImagedVolumeParameters.cpp),
	// all in millimeters. Zero means "not set": buildEnrichmentOptions then
	// falls back to the original's typical-specimen defaults (depth 1mm,
	// slide offset 20mm/40mm) rather than writing an untrue zero.
	ImagedVolumeDepthMM float64 `json:"imagedVolumeDepthMm"`
	SlideOffsetXMM      float64 `json:"slideOffsetXMm"`
	SlideOffsetYMM      float64 `json:"slideOffsetYMm"`
}

// Typical specimen geometry (original_source/Framework/ImagedVolumeParameters.cpp),
// used whenever a DatasetTemplate leaves the corresponding field at zero.
const (
	defaultImagedVolumeDepthMM = 1
	defaultSlideOffsetXMM      = 20
	defaultSlideOffsetYMM      = 40
)

// LoadDatasetTemplate reads and parses a JSON dataset template file. An
// empty path returns the zero-value template (no overrides).
func LoadDatasetTemplate(path string) (DatasetTemplate, error) {
	if path == "" {
		return DatasetTemplate{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DatasetTemplate{}, dzerr.Wrap(dzerr.KindBadFileFormat, "pipeline", err, "reading dataset template %s", path)
	}
	var tmpl DatasetTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return DatasetTemplate{}, dzerr.Wrap(dzerr.KindBadFileFormat, "pipeline", err, "parsing dataset template %s", path)
	}
	return tmpl, nil
}

func (t DatasetTemplate) options() []dicomds.Option {
	var opts []dicomds.Option
	add := func(tag dicomtag.Tag, vr dicomvr.VR, value string) {
		if value != "" {
			opts = append(opts, dicomds.WithElement(tag, vr, value))
		}
	}
	add(dicomtag.PatientName, dicomvr.PN, t.PatientName)
	add(dicomtag.PatientID, dicomvr.LO, t.PatientID)
	add(dicomtag.PatientBirthDate, dicomvr.DA, t.PatientBirthDate)
	add(dicomtag.PatientSex, dicomvr.CS, t.PatientSex)
	add(dicomtag.Manufacturer, dicomvr.LO, t.Manufacturer)
	add(dicomtag.SpecificCharacterSet, dicomvr.CS, t.SpecificCharacterSet)
	return opts
}

// iccProfileBytes returns the ICC profile bytes to embed: the file at
// tmpl.ICCProfilePath if set, otherwise a minimal default sRGB monitor
// profile header (spec.md §4.9 "embedding ... an sRGB ICC profile if
// absent"), in the 128-byte header layout codeninja55-go-radx's
// dicom/pixel/icc.go parses (profile size, "mntr" class, "RGB "/"XYZ "
// color spaces, "acsp" signature).
func iccProfileBytes(tmpl DatasetTemplate) ([]byte, error) {
	if tmpl.ICCProfilePath != "" {
		data, err := os.ReadFile(tmpl.ICCProfilePath)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindBadFileFormat, "pipeline", err, "reading ICC profile %s", tmpl.ICCProfilePath)
		}
		return data, nil
	}
	return defaultSRGBICCProfile(), nil
}

func defaultSRGBICCProfile() []byte {
	buf := make([]byte, 128)
	putU32 := func(off int, v uint32) {
		buf[off] = byte(v >> 24)
		buf[off+1] = byte(v >> 16)
		buf[off+2] = byte(v >> 8)
		buf[off+3] = byte(v)
	}
	putU32(0, 128)
	copy(buf[12:16], "mntr")
	copy(buf[16:20], "RGB ")
	copy(buf[20:24], "XYZ ")
	copy(buf[36:40], "acsp")
	copy(buf[40:44], "dcmz")
	putU32(64, 0) // perceptual rendering intent
	return buf
}

// buildEnrichmentOptions fills the VL-WSI dataset-level elements spec.md
// §4.9 names that DICOMWriter itself does not build per instance: clearing
// patient orientation, volumetric properties, image orientation (slide),
// study/series/content date and time, dimension organization and dimension
// index sequences, total pixel matrix origin, optical path sequence
// defaults, the recommended absent pixel CIE L*a*b* tag, and any dataset
// template overrides.
func buildEnrichmentOptions(tmpl DatasetTemplate, background [3]uint8, now time.Time) ([]dicomds.Option, error) {
	date := now.Format("20060102")
	clock := now.Format("150405")

	opts := []dicomds.Option{
		dicomds.WithElement(dicomtag.PatientOrientation, dicomvr.CS, ""),
		dicomds.WithElement(dicomtag.VolumetricProperties, dicomvr.CS, "VOLUME"),
		dicomds.WithElement(dicomtag.ImageOrientationSlide, dicomvr.DS, "0\\-1\\0\\-1\\0\\0"),
		dicomds.WithElement(dicomtag.StudyDate, dicomvr.DA, date),
		dicomds.WithElement(dicomtag.SeriesDate, dicomvr.DA, date),
		dicomds.WithElement(dicomtag.ContentDate, dicomvr.DA, date),
		dicomds.WithElement(dicomtag.StudyTime, dicomvr.TM, clock),
		dicomds.WithElement(dicomtag.SeriesTime, dicomvr.TM, clock),
		dicomds.WithElement(dicomtag.ContentTime, dicomvr.TM, clock),
	}

	dimOrgUID := uuid.NewString()
	dimOrg, err := dicomds.New(
		dicomds.WithElement(dicomtag.DimensionOrganizationUID, dicomvr.UI, dimOrgUID),
	)
	if err != nil {
		return nil, err
	}
	colPointer, err := dicomds.New(
		dicomds.WithElement(dicomtag.DimensionOrganizationUID, dicomvr.UI, dimOrgUID),
	)
	if err != nil {
		return nil, err
	}
	rowPointer, err := dicomds.New(
		dicomds.WithElement(dicomtag.DimensionOrganizationUID, dicomvr.UI, dimOrgUID),
	)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		dicomds.WithSequence(dicomtag.DimensionOrganizationSequence, dimOrg),
		dicomds.WithSequence(dicomtag.DimensionIndexSequence, colPointer, rowPointer),
	)

	offsetX := tmpl.SlideOffsetXMM
	if offsetX == 0 {
		offsetX = defaultSlideOffsetXMM
	}
	offsetY := tmpl.SlideOffsetYMM
	if offsetY == 0 {
		offsetY = defaultSlideOffsetYMM
	}
	origin, err := dicomds.New(
		dicomds.WithElement(dicomtag.XOffsetInSlideCoordSystem, dicomvr.FD, offsetX),
		dicomds.WithElement(dicomtag.YOffsetInSlideCoordSystem, dicomvr.FD, offsetY),
	)
	if err != nil {
		return nil, err
	}
	opts = append(opts, dicomds.WithSequence(dicomtag.TotalPixelMatrixOriginSequence, origin))

	depth := tmpl.ImagedVolumeDepthMM
	if depth == 0 {
		depth = defaultImagedVolumeDepthMM
	}
	opts = append(opts, dicomds.WithElement(dicomtag.ImagedVolumeDepth, dicomvr.FD, depth))

	if tmpl.OpticalPath != "none" {
		icc, err := iccProfileBytes(tmpl)
		if err != nil {
			return nil, err
		}
		opticalPath, err := dicomds.New(
			dicomds.WithElement(dicomtag.OpticalPathIdentifier, dicomvr.SH, "1"),
			dicomds.WithElement(dicomtag.OpticalPathDescription, dicomvr.LO, "Brightfield"),
			dicomds.WithElement(dicomtag.ICCProfile, dicomvr.UN, icc),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dicomds.WithSequence(dicomtag.OpticalPathSequence, opticalPath))
	}

	// RecommendedAbsentPixelCIELabVal is written as the backslash-separated
	// decimal string spec.md §4.8 says the decode function parses, not raw
	// binary US values.
	lab := color.RGB{R: background[0], G: background[1], B: background[2]}.ToLab()
	l, a, b := color.EncodeDICOMLab(lab)
	opts = append(opts, dicomds.WithElement(dicomtag.RecommendedAbsentPixelCIELabVal, dicomvr.US, color.FormatDICOMLabString(l, a, b)))

	opts = append(opts, tmpl.options()...)
	return opts, nil
}

// prepareSourceLevelTasks builds the transcode task.Commands that copy one
// source level, read through reader, into w at level, in blocks of 4x4
// target tiles; reconstruction passes are prepared by reconstructLevels.
func prepareSourceLevelTasks(reader *resample.Reader, w writer.Writer, level int) []task.Command {
	return commands.PrepareTranscodeTasks(reader, w, level, 4, 4)
}
