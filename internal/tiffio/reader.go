package tiffio

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// Reader provides tile-level access to a hierarchical tiled TIFF file.
type Reader struct {
	f    *os.File
	ifds []IFD
}

// Open opens a tiled TIFF file and parses every directory.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindUnknownResource, "tiffio", err, "opening %s", path)
	}
	ifds, err := ParseAll(f)
	if err != nil {
		f.Close()
		return nil, dzerr.Wrap(dzerr.KindBadFileFormat, "tiffio", err, "parsing %s", path)
	}
	if len(ifds) == 0 {
		f.Close()
		return nil, dzerr.New(dzerr.KindBadFileFormat, "tiffio", "%s: no directories found", path)
	}
	first := &ifds[0]
	for i := range ifds {
		if ifds[i].TileWidth != first.TileWidth || ifds[i].TileHeight != first.TileHeight {
			f.Close()
			return nil, dzerr.New(dzerr.KindBadFileFormat, "tiffio", "tile dimensions differ across directories: %dx%d vs %dx%d", ifds[i].TileWidth, ifds[i].TileHeight, first.TileWidth, first.TileHeight)
		}
	}
	return &Reader{f: f, ifds: ifds}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// LevelCount returns the number of directories (pyramid levels).
func (r *Reader) LevelCount() int { return len(r.ifds) }

// IFD returns the parsed directory for a level.
func (r *Reader) IFD(level int) (*IFD, error) {
	if level < 0 || level >= len(r.ifds) {
		return nil, dzerr.New(dzerr.KindParameterOutOfRange, "tiffio", "level %d out of range [0,%d)", level, len(r.ifds))
	}
	return &r.ifds[level], nil
}

// ReadTile returns the raw (still-compressed) bytes of tile (x,y) at level,
// with the JPEG-tables preamble stitched in for JPEG-compressed directories
// (spec.md §4.2: hierarchical TIFF source).
func (r *Reader) ReadTile(level, x, y int) ([]byte, error) {
	ifd, err := r.IFD(level)
	if err != nil {
		return nil, err
	}
	across := ifd.TilesAcross()
	down := ifd.TilesDown()
	if x < 0 || x >= across || y < 0 || y >= down {
		return nil, dzerr.New(dzerr.KindParameterOutOfRange, "tiffio", "tile (%d,%d) out of range at level %d", x, y, level)
	}
	idx := y*across + x
	if idx >= len(ifd.TileOffsets) {
		return nil, dzerr.New(dzerr.KindCorruptedFile, "tiffio", "tile index %d out of range for level %d", idx, level)
	}
	offset := ifd.TileOffsets[idx]
	length := ifd.TileByteCounts[idx]
	raw := make([]byte, length)
	if _, err := r.f.ReadAt(raw, int64(offset)); err != nil {
		return nil, dzerr.Wrap(dzerr.KindCorruptedFile, "tiffio", err, "reading tile (%d,%d) at level %d", x, y, level)
	}

	if ifd.Compression == CompressionJPEG && len(ifd.JPEGTables) > 2 {
		stitched := make([]byte, 0, len(ifd.JPEGTables)+len(raw))
		stitched = append(stitched, StripJPEGTablesEOI(ifd.JPEGTables)...)
		stitched = append(stitched, raw...)
		raw = stitched
	}
	if ifd.Compression == CompressionJPEG && ifd.Photometric == PhotometricRGB && !hasAPP14(raw) {
		raw = rewriteJPEGAsRGB(raw)
	}
	return raw, nil
}

// rewriteJPEGAsRGB inserts an Adobe APP14 marker (transform byte 0) right
// after the SOI so downstream decoders treat the scan as RGB rather than
// Y'CbCr, per spec.md §4.2's hierarchical TIFF source note.
func rewriteJPEGAsRGB(jpegData []byte) []byte {
	if len(jpegData) < 2 || jpegData[0] != 0xFF || jpegData[1] != 0xD8 {
		return jpegData
	}
	app14 := []byte{
		0xFF, 0xEE, 0x00, 0x0E,
		'A', 'd', 'o', 'b', 'e',
		0x00, 0x64, 0x00, 0x00, 0x00, 0x00,
		0x00, // transform = 0 (no conversion, treat as RGB)
	}
	out := make([]byte, 0, len(jpegData)+len(app14))
	out = append(out, jpegData[:2]...)
	out = append(out, app14...)
	out = append(out, jpegData[2:]...)
	return out
}

// hasAPP14 reports whether jpegData already carries an Adobe APP14 marker.
func hasAPP14(jpegData []byte) bool {
	return bytes.Contains(jpegData[:min(len(jpegData), 64)], []byte("Adobe"))
}

// Validate checks the strictly-decreasing-dimensions invariant across
// directories (spec.md §3: pyramid level invariant).
func (r *Reader) Validate() error {
	for i := 0; i < len(r.ifds)-1; i++ {
		if !(r.ifds[i].Width > r.ifds[i+1].Width && r.ifds[i].Height > r.ifds[i+1].Height) {
			return dzerr.New(dzerr.KindBadFileFormat, "tiffio", "directory %d is not strictly smaller than directory %d", i+1, i)
		}
	}
	return nil
}

func (r *Reader) String() string {
	return fmt.Sprintf("tiffio.Reader{levels=%d}", len(r.ifds))
}
