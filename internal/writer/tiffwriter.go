package writer

import (
	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/tiffio"
)

// TIFFWriter adapts internal/tiffio.Writer to the Writer interface (spec.md
// §4.4.2): one directory per level, JPEG-only compression, RGB/YBR_FULL_422
// for color and Monochrome2 for grayscale.
type TIFFWriter struct {
	inner       *tiffio.Writer
	tileWidth   int
	tileHeight  int
	format      pixel.Format
	photometric pixel.Photometric
	jpegQuality int
	levels      []levelGeometry
	started     bool
}

// NewTIFFWriter creates a hierarchical TIFF writer targeting path.
func NewTIFFWriter(path, tmpDir string, tileWidth, tileHeight int, format pixel.Format, photometric pixel.Photometric, jpegQuality int) *TIFFWriter {
	return &TIFFWriter{
		inner:       tiffio.NewWriter(path, tmpDir),
		tileWidth:   tileWidth,
		tileHeight:  tileHeight,
		format:      format,
		photometric: photometric,
		jpegQuality: jpegQuality,
	}
}

func (w *TIFFWriter) LevelCount() int      { return len(w.levels) }
func (w *TIFFWriter) TileWidth() int       { return w.tileWidth }
func (w *TIFFWriter) TileHeight() int      { return w.tileHeight }
func (w *TIFFWriter) PixelFormat() pixel.Format { return w.format }

func (w *TIFFWriter) CountTilesX(level int) int {
	if level < 0 || level >= len(w.levels) {
		return 0
	}
	return w.levels[level].tilesAcross
}

func (w *TIFFWriter) CountTilesY(level int) int {
	if level < 0 || level >= len(w.levels) {
		return 0
	}
	return w.levels[level].tilesDown
}

func (w *TIFFWriter) tiffPhotometric() uint16 {
	switch w.photometric {
	case pixel.PhotometricMonochrome2:
		return tiffio.PhotometricBlackIsZero
	case pixel.PhotometricYBRFull422:
		return tiffio.PhotometricYCbCr
	default:
		return tiffio.PhotometricRGB
	}
}

func (w *TIFFWriter) bitsPerSample() []uint16 {
	if w.format == pixel.FormatGray8 {
		return []uint16{8}
	}
	return []uint16{8, 8, 8}
}

// AddLevel registers the next level's geometry (spec.md §4.4 invariant).
func (w *TIFFWriter) AddLevel(width, height int) error {
	if w.started {
		return dzerr.New(dzerr.KindBadSequenceOfCalls, "writer", "AddLevel called after the first tile write")
	}
	if err := checkLevelOrder(w.levels, width, height); err != nil {
		return err
	}
	if err := w.inner.AddLevel(tiffio.LevelSpec{
		Width:           uint32(width),
		Height:          uint32(height),
		TileWidth:       uint32(w.tileWidth),
		TileHeight:      uint32(w.tileHeight),
		Photometric:     w.tiffPhotometric(),
		SamplesPerPixel: uint16(w.format.BytesPerPixel()),
		BitsPerSample:   w.bitsPerSample(),
	}); err != nil {
		return err
	}
	w.levels = append(w.levels, newLevelGeometry(width, height, w.tileWidth, w.tileHeight))
	return nil
}

// WriteRawTile writes a JPEG tile verbatim, transcoding first if the source
// compression isn't JPEG (this writer only supports JPEG).
func (w *TIFFWriter) WriteRawTile(data []byte, compression pixel.Compression, level, x, y int) error {
	w.started = true
	tileBytes := data
	if compression != pixel.CompressionJPEG {
		var err error
		tileBytes, err = pixel.ChangeTileCompression(data, compression, pixel.CompressionJPEG, w.format, w.tileWidth, w.tileHeight, w.photometric, w.jpegQuality)
		if err != nil {
			return err
		}
	}
	return w.inner.WriteTile(level, x, y, tileBytes)
}

// EncodeTile JPEG-encodes img and writes it at (level, x, y).
func (w *TIFFWriter) EncodeTile(img *pixel.Image, level, x, y int) error {
	w.started = true
	if err := checkPixelFormat(w.format, img.Format); err != nil {
		return err
	}
	data, err := pixel.EncodeTile(img, pixel.CompressionJPEG, w.jpegQuality)
	if err != nil {
		return err
	}
	return w.inner.WriteTile(level, x, y, data)
}

// Flush assembles the final TIFF file.
func (w *TIFFWriter) Flush() error {
	return w.inner.Flush()
}
