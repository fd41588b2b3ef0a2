package pyramid

import (
	"log/slog"
	"os"
	"sort"

	"github.com/pspoerri/dicomizer/internal/dicomds"
	"github.com/pspoerri/dicomizer/internal/dicomtag"
	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/transfer"
)

// PreviewFetcher is the external collaborator a DICOMSource calls when an
// instance's transfer syntax cannot be decoded directly (spec.md §4.2: "a
// preview endpoint is called and the returned blob is reclassified as PNG
// or JPEG by signature").
type PreviewFetcher interface {
	FetchPreview(sopInstanceUID string, frameNumber int) ([]byte, error)
}

// dicomInstance is one parsed DICOM instance contributing frames to a level.
type dicomInstance struct {
	ds              *dicomds.Dataset
	sopInstanceUID  string
	totalWidth      int
	totalHeight     int
	tileWidth       int
	tileHeight      int
	transferSyntax  transfer.Syntax
	format          pixel.Format
	photometric     pixel.Photometric
	frames          [][]byte
	isEncapsulated  bool
	// frameTile[frameIndex] = (tileX, tileY)
	frameTile [][2]int
}

// DICOMSource adapts a set of DICOM instances composing one series into a
// Source (spec.md §4.2: "DICOM pyramid source"). Instances are grouped into
// levels by equal total width; within a level, tile locations must be
// unique and land on the tile grid.
type DICOMSource struct {
	levels  []*dicomLevel
	format  pixel.Format
	preview PreviewFetcher
	log     *slog.Logger
}

type dicomLevel struct {
	width, height       int
	tileWidth, tileHeight int
	tiles               map[[2]int]tileLocation
}

type tileLocation struct {
	instance *dicomInstance
	frame    int
}

// OpenDICOMSourceFromFiles reads each DICOM Part-10 file in paths and
// assembles them into a pyramid. preview may be nil if no instance requires
// a preview fallback.
func OpenDICOMSourceFromFiles(paths []string, preview PreviewFetcher, log *slog.Logger) (*DICOMSource, error) {
	datasets := make([]*dicomds.Dataset, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindUnknownResource, "pyramid", err, "opening %s", p)
		}
		ds, err := dicomds.Read(f)
		f.Close()
		if err != nil {
			if log != nil {
				log.Warn("skipping instance that failed to parse", "path", p, "error", err)
			}
			continue
		}
		datasets = append(datasets, ds)
	}
	return NewDICOMSource(datasets, preview, log)
}

// NewDICOMSource assembles an already-parsed set of instance datasets into a
// pyramid (spec.md §4.2, §3 "Source DICOM pyramid").
func NewDICOMSource(datasets []*dicomds.Dataset, preview PreviewFetcher, log *slog.Logger) (*DICOMSource, error) {
	var instances []*dicomInstance
	var format pixel.Format
	formatSet := false

	for _, ds := range datasets {
		if isExcludedImageType(ds) {
			continue
		}
		inst, err := parseInstance(ds)
		if err != nil {
			if log != nil {
				log.Warn("skipping instance that failed to parse as WSI", "error", err)
			}
			continue
		}
		if !formatSet {
			format = inst.format
			formatSet = true
		} else if inst.format != format {
			return nil, dzerr.New(dzerr.KindIncompatibleImageFormat, "pyramid", "instance pixel formats disagree across series")
		}
		instances = append(instances, inst)
	}
	if len(instances) == 0 {
		return nil, dzerr.New(dzerr.KindUnknownResource, "pyramid", "no usable VL-WSI instances found")
	}

	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].totalWidth > instances[j].totalWidth
	})

	var levels []*dicomLevel
	i := 0
	for i < len(instances) {
		j := i
		width, height := instances[i].totalWidth, instances[i].totalHeight
		lvl := &dicomLevel{
			width: width, height: height,
			tileWidth: instances[i].tileWidth, tileHeight: instances[i].tileHeight,
			tiles: make(map[[2]int]tileLocation),
		}
		for j < len(instances) && instances[j].totalWidth == width {
			inst := instances[j]
			for frame, tile := range inst.frameTile {
				if _, exists := lvl.tiles[tile]; exists {
					return nil, dzerr.New(dzerr.KindCorruptedFile, "pyramid", "duplicate tile location %v within one level", tile)
				}
				lvl.tiles[tile] = tileLocation{instance: inst, frame: frame}
			}
			j++
		}
		levels = append(levels, lvl)
		i = j
	}

	return &DICOMSource{levels: levels, format: format, preview: preview, log: log}, nil
}

func isExcludedImageType(ds *dicomds.Dataset) bool {
	elem, ok := ds.FindElement(dicomtag.ImageType)
	if !ok {
		return false
	}
	s, _ := elem.GetString()
	// ImageType is a multi-valued CS stored backslash-joined by the reader's
	// string decode path; the third value is what spec.md §3 checks.
	parts := splitBackslash(s)
	if len(parts) < 3 {
		return false
	}
	switch parts[2] {
	case "LABEL", "OVERVIEW":
		return true
	default:
		return false
	}
}

func splitBackslash(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func parseInstance(ds *dicomds.Dataset) (*dicomInstance, error) {
	sopInstanceUID, _ := getString(ds, dicomtag.SOPInstanceUID)
	tsElem, ok := ds.FindElement(dicomtag.TransferSyntaxUID)
	ts := transfer.ImplicitVRLittleEndian
	if ok {
		if s, ok := tsElem.GetString(); ok {
			ts = transfer.Syntax(s)
		}
	}

	rows, _ := getInt(ds, dicomtag.Rows)
	cols, _ := getInt(ds, dicomtag.Columns)
	totalWidth, okW := getUintAsInt(ds, dicomtag.TotalPixelMatrixColumns)
	totalHeight, okH := getUintAsInt(ds, dicomtag.TotalPixelMatrixRows)
	if !okW || !okH {
		totalWidth, totalHeight = cols, rows
	}
	numFrames, _ := getInt(ds, dicomtag.NumberOfFrames)
	if numFrames == 0 {
		numFrames = 1
	}

	samplesPerPixel, _ := getInt(ds, dicomtag.SamplesPerPixel)
	format := pixel.FormatGray8
	if samplesPerPixel == 3 {
		format = pixel.FormatRGB24
	}
	photometric := photometricFromString(getStringOr(ds, dicomtag.PhotometricInterpretation, "RGB"))

	frameTile, err := resolveFrameTiles(ds, numFrames, cols, rows, totalWidth, totalHeight)
	if err != nil {
		return nil, err
	}

	pdElem, ok := ds.FindElement(dicomtag.PixelData)
	var frames [][]byte
	encapsulated := ts.IsEncapsulated()
	if ok {
		switch v := pdElem.Value.(type) {
		case *dicomds.PixelData:
			frames = v.Frames
			encapsulated = v.IsEncapsulated
		case []byte:
			// Native (uncompressed) pixel data arrives as one concatenated
			// buffer; split it into per-frame slices.
			frameBytes := cols * rows * format.BytesPerPixel()
			encapsulated = false
			if frameBytes > 0 {
				for off := 0; off+frameBytes <= len(v); off += frameBytes {
					frames = append(frames, v[off:off+frameBytes])
				}
			}
		}
	}

	return &dicomInstance{
		ds:             ds,
		sopInstanceUID: sopInstanceUID,
		totalWidth:     totalWidth,
		totalHeight:    totalHeight,
		tileWidth:      cols,
		tileHeight:     rows,
		transferSyntax: ts,
		format:         format,
		photometric:    photometric,
		frames:         frames,
		isEncapsulated: encapsulated,
		frameTile:      frameTile,
	}, nil
}

// resolveFrameTiles reads PerFrameFunctionalGroupsSequence's plane positions
// if present; otherwise assumes a regular left-to-right, top-to-bottom
// raster whose frame count must equal the tile-grid size (spec.md §4.2).
func resolveFrameTiles(ds *dicomds.Dataset, numFrames, tileWidth, tileHeight, totalWidth, totalHeight int) ([][2]int, error) {
	if elem, ok := ds.FindElement(dicomtag.PerFrameFunctionalGroupsSeq); ok {
		if items, ok := elem.GetSequence(); ok && len(items) > 0 {
			out := make([][2]int, len(items))
			for i, item := range items {
				col, row, ok := planePosition(item)
				if !ok {
					return nil, dzerr.New(dzerr.KindCorruptedFile, "pyramid", "frame %d missing plane position", i)
				}
				out[i] = [2]int{(col - 1) / tileWidth, (row - 1) / tileHeight}
			}
			return out, nil
		}
	}

	tilesAcross := ceilDiv(totalWidth, tileWidth)
	tilesDown := ceilDiv(totalHeight, tileHeight)
	if numFrames != tilesAcross*tilesDown {
		return nil, dzerr.New(dzerr.KindSizeMismatch, "pyramid",
			"instance has no per-frame positions and frame count %d != tile grid %dx%d", numFrames, tilesAcross, tilesDown)
	}
	out := make([][2]int, numFrames)
	for f := 0; f < numFrames; f++ {
		out[f] = [2]int{f % tilesAcross, f / tilesAcross}
	}
	return out, nil
}

func planePosition(item *dicomds.Dataset) (col, row int, ok bool) {
	seq, ok := item.FindElement(dicomtag.PlanePositionSlideSequence)
	if !ok {
		return 0, 0, false
	}
	nested, ok := seq.GetSequence()
	if !ok || len(nested) == 0 {
		return 0, 0, false
	}
	pos := nested[0]
	colElem, ok1 := pos.FindElement(dicomtag.ColumnPositionInTotalImgMatrix)
	rowElem, ok2 := pos.FindElement(dicomtag.RowPositionInTotalImgMatrix)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	c, _ := colElem.GetInt()
	r, _ := rowElem.GetInt()
	return c, r, true
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func getString(ds *dicomds.Dataset, t dicomtag.Tag) (string, bool) {
	e, ok := ds.FindElement(t)
	if !ok {
		return "", false
	}
	return e.GetString()
}

func getStringOr(ds *dicomds.Dataset, t dicomtag.Tag, def string) string {
	s, ok := getString(ds, t)
	if !ok {
		return def
	}
	return s
}

func getInt(ds *dicomds.Dataset, t dicomtag.Tag) (int, bool) {
	e, ok := ds.FindElement(t)
	if !ok {
		return 0, false
	}
	return e.GetInt()
}

func getUintAsInt(ds *dicomds.Dataset, t dicomtag.Tag) (int, bool) {
	e, ok := ds.FindElement(t)
	if !ok {
		return 0, false
	}
	vals, ok := e.GetUint32Slice()
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return int(vals[0]), true
}

func photometricFromString(s string) pixel.Photometric {
	switch s {
	case "MONOCHROME2":
		return pixel.PhotometricMonochrome2
	case "YBR_FULL_422":
		return pixel.PhotometricYBRFull422
	case "YBR_ICT":
		return pixel.PhotometricYBRICT
	default:
		return pixel.PhotometricRGB
	}
}

func compressionForSyntax(ts transfer.Syntax) (pixel.Compression, bool) {
	switch ts {
	case transfer.ImplicitVRLittleEndian, transfer.ExplicitVRLittleEndian:
		return pixel.CompressionNone, true
	case transfer.JPEGBaseline:
		return pixel.CompressionJPEG, true
	case transfer.JPEG2000Lossless:
		return pixel.CompressionJPEG2000, true
	case transfer.JPEGLSLossless:
		return pixel.CompressionJPEGLS, true
	default:
		return pixel.CompressionExternalPreview, false
	}
}

func (s *DICOMSource) LevelCount() int { return len(s.levels) }

func (s *DICOMSource) level(l int) *dicomLevel {
	if l < 0 || l >= len(s.levels) {
		return &dicomLevel{tileWidth: 1, tileHeight: 1}
	}
	return s.levels[l]
}

func (s *DICOMSource) LevelWidth(level int) int   { return s.level(level).width }
func (s *DICOMSource) LevelHeight(level int) int  { return s.level(level).height }
func (s *DICOMSource) TileWidth(level int) int    { return s.level(level).tileWidth }
func (s *DICOMSource) TileHeight(level int) int   { return s.level(level).tileHeight }
func (s *DICOMSource) PixelFormat() pixel.Format  { return s.format }

func (s *DICOMSource) PhotometricInterpretation() pixel.Photometric {
	if len(s.levels) == 0 {
		return pixel.PhotometricRGB
	}
	for _, loc := range s.levels[0].tiles {
		return loc.instance.photometric
	}
	return pixel.PhotometricRGB
}

// ReadRawTile returns raw compressed bytes and the derived compression, or
// ok=false for sparse tile positions. For a transfer syntax that cannot be
// decoded directly it fetches a preview and returns that blob with ok=true,
// classified as PNG by signature and as JPEG otherwise (spec.md §4.2).
func (s *DICOMSource) ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error) {
	loc, ok := s.level(level).tiles[[2]int{x, y}]
	if !ok {
		return nil, 0, false, nil
	}
	inst := loc.instance
	if loc.frame >= len(inst.frames) {
		return nil, 0, false, nil
	}
	data := inst.frames[loc.frame]

	compression, supported := compressionForSyntax(inst.transferSyntax)
	if supported {
		return data, compression, true, nil
	}

	if s.preview == nil {
		return nil, 0, false, dzerr.New(dzerr.KindNotImplemented, "pyramid",
			"transfer syntax %s unsupported and no preview fetcher configured", inst.transferSyntax)
	}
	blob, err := s.preview.FetchPreview(inst.sopInstanceUID, loc.frame)
	if err != nil {
		return nil, 0, false, dzerr.Wrap(dzerr.KindNetworkProtocol, "pyramid", err, "fetching preview")
	}
	reclassified, derr := pixel.DetectFormatFromMemory(blob)
	if derr != nil || reclassified != pixel.CompressionPNG {
		return blob, pixel.CompressionJPEG, true, nil
	}
	return blob, pixel.CompressionPNG, true, nil
}

// DecodeTile returns the tile fully decoded, falling back to the sparse
// background-marked empty tile when no frame occupies this grid position.
func (s *DICOMSource) DecodeTile(level, x, y int) (*pixel.Image, bool, error) {
	lvl := s.level(level)
	loc, ok := lvl.tiles[[2]int{x, y}]
	if !ok {
		img, err := pixel.Allocate(s.format, lvl.tileWidth, lvl.tileHeight)
		if err != nil {
			return nil, true, err
		}
		return img, true, nil
	}
	data, compression, ok, err := s.ReadRawTile(level, x, y)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		img, aerr := pixel.Allocate(s.format, lvl.tileWidth, lvl.tileHeight)
		return img, true, aerr
	}
	img, err := pixel.DecodeTile(data, compression, s.format, lvl.tileWidth, lvl.tileHeight, loc.instance.photometric)
	if err != nil {
		return nil, false, err
	}
	return img, false, nil
}

func (s *DICOMSource) Close() error { return nil }
