package writer

import (
	"bytes"

	"github.com/google/uuid"

	"github.com/pspoerri/dicomizer/internal/dicomds"
	"github.com/pspoerri/dicomizer/internal/dicomtag"
	"github.com/pspoerri/dicomizer/internal/dicomvr"
	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/transfer"
)

// maxSafetyBytes is the 1 GiB hard clamp on a single emitted instance's
// uncompressed pixel payload (spec.md §4.4.1).
const maxSafetyBytes = 1 << 30

// vlWholeSlideMicroscopyImageStorage is the SOP Class UID this writer emits
// instances under, unless overridden.
const vlWholeSlideMicroscopyImageStorage = "1.2.840.10008.5.1.4.1.1.77.1.6"

// Sink is the output collaborator the DICOM writer hands serialized
// instances to (spec.md §4.4.1): the writer never owns files.
type Sink interface {
	WriteInstance(data []byte) error
}

// JPEGLSTranscoder re-encodes one frame of uncompressed pixel data into
// JPEG-LS Lossless bytes. Registered by the caller when an external JPEG-LS
// encoder is linked in at build time (spec.md §4.4.1).
type JPEGLSTranscoder func(raw []byte, width, height int, format pixel.Format) ([]byte, error)

// DICOMWriterConfig configures a new DICOMWriter.
type DICOMWriterConfig struct {
	TileWidth, TileHeight int
	PixelFormat           pixel.Format
	Photometric           pixel.Photometric
	Compression           pixel.Compression
	JPEGQuality           int
	MaxDICOMFileSize      int64 // 0 = unlimited
	ConcatenationEnabled  bool

	SOPClassUID           string // default: VL Whole Slide Microscopy Image Storage
	StudyInstanceUID      string
	SeriesInstanceUID     string
	FrameOfReferenceUID   string
	OpticalPathIdentifier string

	ImagedVolumeWidthMM  float64
	ImagedVolumeHeightMM float64

	// ExtraDatasetOptions are appended to every instance's dataset after the
	// mandatory VL-WSI elements are built, letting a caller fill in
	// enrichment tags this writer has no opinion on — dimension organization
	// and dimension index sequences, total pixel matrix origin, optical path
	// sequence defaults and ICC profile, patient orientation, volumetric
	// properties, image orientation (slide), study/series/content date and
	// time, and the recommended absent pixel CIE L*a*b* value.
	ExtraDatasetOptions []dicomds.Option

	JPEGLSTranscoder JPEGLSTranscoder
	Sink             Sink
}

type dicomLevelState struct {
	geom levelGeometry

	frames           [][]byte
	functionalGroups []*dicomds.Dataset
	payloadBytes     int

	globalFrameCount      int
	firstFrameInInstance  int
	instanceIndex         int // k, 1-based
	concatSourceUID       string
	concatUID             string
}

// DICOMWriter emits VL Whole Slide Microscopy Image instances, one per
// pyramid level unless a level's instance would exceed MaxDICOMFileSize, in
// which case the level is split into a concatenation of sibling instances
// (spec.md §4.4.1).
type DICOMWriter struct {
	cfg    DICOMWriterConfig
	levels []*dicomLevelState
	started bool
}

// NewDICOMWriter creates a multiframe DICOM writer per cfg.
func NewDICOMWriter(cfg DICOMWriterConfig) *DICOMWriter {
	if cfg.SOPClassUID == "" {
		cfg.SOPClassUID = vlWholeSlideMicroscopyImageStorage
	}
	return &DICOMWriter{cfg: cfg}
}

func (w *DICOMWriter) LevelCount() int           { return len(w.levels) }
func (w *DICOMWriter) TileWidth() int            { return w.cfg.TileWidth }
func (w *DICOMWriter) TileHeight() int           { return w.cfg.TileHeight }
func (w *DICOMWriter) PixelFormat() pixel.Format { return w.cfg.PixelFormat }

func (w *DICOMWriter) CountTilesX(level int) int {
	if level < 0 || level >= len(w.levels) {
		return 0
	}
	return w.levels[level].geom.tilesAcross
}

func (w *DICOMWriter) CountTilesY(level int) int {
	if level < 0 || level >= len(w.levels) {
		return 0
	}
	return w.levels[level].geom.tilesDown
}

// AddLevel registers the next level.
func (w *DICOMWriter) AddLevel(width, height int) error {
	if w.started {
		return dzerr.New(dzerr.KindBadSequenceOfCalls, "writer", "AddLevel called after the first tile write")
	}
	geoms := make([]levelGeometry, len(w.levels))
	for i, lvl := range w.levels {
		geoms[i] = lvl.geom
	}
	if err := checkLevelOrder(geoms, width, height); err != nil {
		return err
	}
	w.levels = append(w.levels, &dicomLevelState{
		geom: newLevelGeometry(width, height, w.cfg.TileWidth, w.cfg.TileHeight),
	})
	return nil
}

// WriteRawTile stores bytes, converting between the source's compression and
// this writer's storage representation as needed.
func (w *DICOMWriter) WriteRawTile(data []byte, compression pixel.Compression, level, x, y int) error {
	w.started = true
	var tileBytes []byte
	switch w.cfg.Compression {
	case pixel.CompressionNone, pixel.CompressionJPEGLS:
		if compression == pixel.CompressionNone {
			tileBytes = data
		} else {
			img, err := pixel.DecodeTile(data, compression, w.cfg.PixelFormat, w.cfg.TileWidth, w.cfg.TileHeight, w.cfg.Photometric)
			if err != nil {
				return err
			}
			tileBytes = img.Pix
		}
	default:
		if compression == w.cfg.Compression {
			tileBytes = data
		} else {
			var err error
			tileBytes, err = pixel.ChangeTileCompression(data, compression, w.cfg.Compression, w.cfg.PixelFormat, w.cfg.TileWidth, w.cfg.TileHeight, w.cfg.Photometric, w.cfg.JPEGQuality)
			if err != nil {
				return err
			}
		}
	}
	return w.addFrame(level, x, y, tileBytes)
}

// EncodeTile compresses img per this writer's target compression (or stores
// it raw, for none/JPEG-LS) and appends it as a frame.
func (w *DICOMWriter) EncodeTile(img *pixel.Image, level, x, y int) error {
	w.started = true
	if err := checkPixelFormat(w.cfg.PixelFormat, img.Format); err != nil {
		return err
	}
	var tileBytes []byte
	switch w.cfg.Compression {
	case pixel.CompressionNone, pixel.CompressionJPEGLS:
		tileBytes = img.Pix
	default:
		var err error
		tileBytes, err = pixel.EncodeTile(img, w.cfg.Compression, w.cfg.JPEGQuality)
		if err != nil {
			return err
		}
	}
	return w.addFrame(level, x, y, tileBytes)
}

func (w *DICOMWriter) addFrame(level, x, y int, tileBytes []byte) error {
	if level < 0 || level >= len(w.levels) {
		return dzerr.New(dzerr.KindParameterOutOfRange, "writer", "level %d out of range", level)
	}
	ls := w.levels[level]

	if ls.globalFrameCount == 0 {
		ls.firstFrameInInstance = 0
		if w.cfg.ConcatenationEnabled {
			ls.concatSourceUID = uuid.NewString()
			ls.concatUID = uuid.NewString()
		}
	}

	ls.frames = append(ls.frames, tileBytes)
	ls.functionalGroups = append(ls.functionalGroups, w.buildFunctionalGroup(level, x, y))
	ls.payloadBytes += len(tileBytes)
	ls.globalFrameCount++

	if ls.payloadBytes > maxSafetyBytes {
		return dzerr.New(dzerr.KindNotEnoughMemory, "writer", "level %d instance payload exceeds %d bytes", level, maxSafetyBytes)
	}
	if w.cfg.MaxDICOMFileSize > 0 && int64(ls.payloadBytes) > w.cfg.MaxDICOMFileSize {
		return w.flushLevelInstance(level)
	}
	return nil
}

func (w *DICOMWriter) buildFunctionalGroup(level, x, y int) *dicomds.Dataset {
	ls := w.levels[level]
	col := x*w.cfg.TileWidth + 1
	row := y*w.cfg.TileHeight + 1

	// Slide-coordinate X corresponds to pixel row, Y to pixel column — the
	// axis swap between pixel and physical space (spec.md §4.4.1).
	xOffsetMM := float64(row-1) / float64(ls.geom.height) * w.cfg.ImagedVolumeHeightMM
	yOffsetMM := float64(col-1) / float64(ls.geom.width) * w.cfg.ImagedVolumeWidthMM

	planePos, _ := dicomds.New(
		dicomds.WithElement(dicomtag.ColumnPositionInTotalImgMatrix, dicomvr.SL, col),
		dicomds.WithElement(dicomtag.RowPositionInTotalImgMatrix, dicomvr.SL, row),
		dicomds.WithElement(dicomtag.XOffsetInSlideCoordSystem, dicomvr.FD, xOffsetMM),
		dicomds.WithElement(dicomtag.YOffsetInSlideCoordSystem, dicomvr.FD, yOffsetMM),
		dicomds.WithElement(dicomtag.ZOffsetInSlideCoordSystem, dicomvr.FD, 0.0),
	)
	frameContent, _ := dicomds.New(
		dicomds.WithElement(dicomtag.DimensionIndexValues, dicomvr.UL, []uint32{uint32(col), uint32(row)}),
	)
	opticalPath, _ := dicomds.New(
		dicomds.WithElement(dicomtag.OpticalPathIdentifier, dicomvr.SH, w.cfg.OpticalPathIdentifier),
	)
	fg, _ := dicomds.New(
		dicomds.WithSequence(dicomtag.PlanePositionSlideSequence, planePos),
		dicomds.WithSequence(dicomtag.FrameContentSequence, frameContent),
		dicomds.WithSequence(dicomtag.OpticalPathIdentificationSeq, opticalPath),
	)
	return fg
}

// flushLevelInstance serializes the frames accumulated so far for level and
// hands the bytes to the sink, then resets the level's in-flight instance.
func (w *DICOMWriter) flushLevelInstance(level int) error {
	ls := w.levels[level]
	if len(ls.frames) == 0 {
		return nil
	}
	ls.instanceIndex++

	pixelFrames, encapsulated, err := w.storageFrames(ls.frames)
	if err != nil {
		return err
	}

	sopInstanceUID := uuid.NewString()
	ts := transferSyntaxFor(w.cfg.Compression)
	opts := []dicomds.Option{
		dicomds.WithFileMeta(w.cfg.SOPClassUID, sopInstanceUID, string(ts)),
		dicomds.WithElement(dicomtag.SOPClassUID, dicomvr.UI, w.cfg.SOPClassUID),
		dicomds.WithElement(dicomtag.SOPInstanceUID, dicomvr.UI, sopInstanceUID),
		dicomds.WithElement(dicomtag.StudyInstanceUID, dicomvr.UI, w.cfg.StudyInstanceUID),
		dicomds.WithElement(dicomtag.SeriesInstanceUID, dicomvr.UI, w.cfg.SeriesInstanceUID),
		dicomds.WithElement(dicomtag.FrameOfReferenceUID, dicomvr.UI, w.cfg.FrameOfReferenceUID),
		dicomds.WithElement(dicomtag.Modality, dicomvr.CS, "SM"),
		dicomds.WithElement(dicomtag.Rows, dicomvr.US, w.cfg.TileHeight),
		dicomds.WithElement(dicomtag.Columns, dicomvr.US, w.cfg.TileWidth),
		dicomds.WithElement(dicomtag.SamplesPerPixel, dicomvr.US, w.cfg.PixelFormat.BytesPerPixel()),
		dicomds.WithElement(dicomtag.PhotometricInterpretation, dicomvr.CS, photometricString(w.cfg.Photometric)),
		dicomds.WithElement(dicomtag.BitsAllocated, dicomvr.US, 8),
		dicomds.WithElement(dicomtag.BitsStored, dicomvr.US, 8),
		dicomds.WithElement(dicomtag.HighBit, dicomvr.US, 7),
		dicomds.WithElement(dicomtag.PixelRepresentation, dicomvr.US, 0),
		dicomds.WithElement(dicomtag.NumberOfFrames, dicomvr.IS, len(ls.frames)),
		dicomds.WithElement(dicomtag.TotalPixelMatrixColumns, dicomvr.UL, uint32(ls.geom.width)),
		dicomds.WithElement(dicomtag.TotalPixelMatrixRows, dicomvr.UL, uint32(ls.geom.height)),
		dicomds.WithSequence(dicomtag.PerFrameFunctionalGroupsSeq, ls.functionalGroups...),
	}
	if encapsulated {
		opts = append(opts, dicomds.WithEncapsulatedPixelData(pixelFrames))
	} else {
		opts = append(opts, dicomds.WithNativePixelData(pixelFrames))
	}
	if w.cfg.ConcatenationEnabled {
		opts = append(opts,
			dicomds.WithElement(dicomtag.SOPInstanceUIDOfConcatenationSrc, dicomvr.UI, ls.concatSourceUID),
			dicomds.WithElement(dicomtag.ConcatenationUID, dicomvr.UI, ls.concatUID),
			dicomds.WithElement(dicomtag.InConcatenationNumber, dicomvr.US, ls.instanceIndex),
			dicomds.WithElement(dicomtag.ConcatenationFrameOffsetNumber, dicomvr.UL, uint32(ls.firstFrameInInstance)),
		)
	}
	opts = append(opts, w.cfg.ExtraDatasetOptions...)

	ds, err := dicomds.New(opts...)
	if err != nil {
		return dzerr.Wrap(dzerr.KindInternal, "writer", err, "building dataset for level %d instance %d", level, ls.instanceIndex)
	}

	var buf bytes.Buffer
	if _, err := dicomds.Write(&buf, ds); err != nil {
		return dzerr.Wrap(dzerr.KindInternal, "writer", err, "serializing level %d instance %d", level, ls.instanceIndex)
	}
	if err := w.cfg.Sink.WriteInstance(buf.Bytes()); err != nil {
		return dzerr.Wrap(dzerr.KindUnknownResource, "writer", err, "writing instance to sink")
	}

	ls.firstFrameInInstance = ls.globalFrameCount
	ls.frames = nil
	ls.functionalGroups = nil
	ls.payloadBytes = 0
	return nil
}

// storageFrames converts the level's accumulated frames (stored raw for
// none/JPEG-LS, already compressed for JPEG/JPEG-2000) into the bytes
// actually written to the instance.
func (w *DICOMWriter) storageFrames(frames [][]byte) (out [][]byte, encapsulated bool, err error) {
	switch w.cfg.Compression {
	case pixel.CompressionNone:
		return frames, false, nil
	case pixel.CompressionJPEGLS:
		if w.cfg.JPEGLSTranscoder == nil {
			return nil, false, dzerr.New(dzerr.KindNotImplemented, "writer", "no JPEG-LS transcoder registered at build time")
		}
		out = make([][]byte, len(frames))
		for i, raw := range frames {
			enc, terr := w.cfg.JPEGLSTranscoder(raw, w.cfg.TileWidth, w.cfg.TileHeight, w.cfg.PixelFormat)
			if terr != nil {
				return nil, false, dzerr.Wrap(dzerr.KindInternal, "writer", terr, "JPEG-LS transcoding frame %d", i)
			}
			out[i] = enc
		}
		return out, true, nil
	default:
		return frames, true, nil
	}
}

// Flush serializes every level's final in-flight instance.
func (w *DICOMWriter) Flush() error {
	for level := range w.levels {
		if err := w.flushLevelInstance(level); err != nil {
			return err
		}
	}
	return nil
}

func transferSyntaxFor(c pixel.Compression) transfer.Syntax {
	switch c {
	case pixel.CompressionJPEG:
		return transfer.JPEGBaseline
	case pixel.CompressionJPEG2000:
		return transfer.JPEG2000Lossless
	case pixel.CompressionJPEGLS:
		return transfer.JPEGLSLossless
	default:
		return transfer.ExplicitVRLittleEndian
	}
}

func photometricString(p pixel.Photometric) string {
	switch p {
	case pixel.PhotometricMonochrome2:
		return "MONOCHROME2"
	case pixel.PhotometricYBRFull422:
		return "YBR_FULL_422"
	case pixel.PhotometricYBRICT:
		return "YBR_ICT"
	default:
		return "RGB"
	}
}
