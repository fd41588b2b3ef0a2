// Package tiffio is the hierarchical tiled-TIFF reader and writer dicomizer
// uses for the TIFF pyramid source and the TIFF output format, adapted from
// the pack's COG/GeoTIFF IFD parser trimmed to the tags a WSI pyramid
// actually carries (no GeoTIFF tags).
package tiffio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// TIFF tag IDs relevant to a tiled WSI pyramid.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagSamplesPerPixel = 277
	tagPlanarConfig    = 284
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagYCbCrSubSamp    = 530
	tagJPEGTables      = 347
)

// TIFF data types.
const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
	dtSByte    = 6
	dtUndef    = 7
	dtSShort   = 8
	dtSLong    = 9
	dtSRational = 10
	dtFloat    = 11
	dtDouble   = 12
	dtLong8    = 16
)

// Compression values this package reads and writes.
const (
	CompressionNone = 1
	CompressionJPEG = 7
)

// Photometric interpretation values.
const (
	PhotometricRGB         = 2
	PhotometricYCbCr       = 6
	PhotometricBlackIsZero = 1
)

// IFD is a parsed TIFF Image File Directory, one per pyramid level.
type IFD struct {
	Width           uint32
	Height          uint32
	TileWidth       uint32
	TileHeight      uint32
	BitsPerSample   []uint16
	SamplesPerPixel uint16
	Compression     uint16
	Photometric     uint16
	PlanarConfig    uint16
	TileOffsets     []uint64
	TileByteCounts  []uint64
	JPEGTables      []byte
}

// TilesAcross returns the number of tile columns.
func (ifd *IFD) TilesAcross() int {
	return int((ifd.Width + ifd.TileWidth - 1) / ifd.TileWidth)
}

// TilesDown returns the number of tile rows.
func (ifd *IFD) TilesDown() int {
	return int((ifd.Height + ifd.TileHeight - 1) / ifd.TileHeight)
}

type tiffEntry struct {
	Tag      uint16
	DataType uint16
	Count    uint64
	Value    []byte
}

// ParseAll reads every IFD in a TIFF stream, finest level first (the layout
// dicomizer expects a hierarchical WSI TIFF to use).
func ParseAll(r io.ReadSeeker) ([]IFD, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading TIFF header: %w", err)
	}

	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF byte order marker %x", header[0:2])
	}

	magic := bo.Uint16(header[2:4])
	if magic != 42 {
		return nil, fmt.Errorf("invalid TIFF magic %d", magic)
	}
	offset := uint64(bo.Uint32(header[4:8]))

	var ifds []IFD
	for offset != 0 {
		ifd, next, err := parseOneIFD(r, bo, offset)
		if err != nil {
			return nil, fmt.Errorf("parsing IFD at offset %d: %w", offset, err)
		}
		ifds = append(ifds, ifd)
		offset = next
	}
	return ifds, nil
}

func parseOneIFD(r io.ReadSeeker, bo binary.ByteOrder, offset uint64) (IFD, uint64, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return IFD{}, 0, err
	}

	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return IFD{}, 0, err
	}
	numEntries := bo.Uint16(countBuf[:])

	entries := make([]tiffEntry, numEntries)
	for i := range entries {
		var buf [12]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return IFD{}, 0, err
		}
		entries[i] = parseEntry(buf, bo)
	}

	var nextBuf [4]byte
	if _, err := io.ReadFull(r, nextBuf[:]); err != nil {
		return IFD{}, 0, err
	}
	next := uint64(bo.Uint32(nextBuf[:]))

	for i := range entries {
		if err := resolveEntry(r, bo, &entries[i]); err != nil {
			return IFD{}, 0, fmt.Errorf("resolving tag %d: %w", entries[i].Tag, err)
		}
	}

	return buildIFD(entries, bo), next, nil
}

func parseEntry(buf [12]byte, bo binary.ByteOrder) tiffEntry {
	tag := bo.Uint16(buf[0:2])
	dt := bo.Uint16(buf[2:4])
	count := uint64(bo.Uint32(buf[4:8]))
	value := make([]byte, 4)
	copy(value, buf[8:12])
	return tiffEntry{Tag: tag, DataType: dt, Count: count, Value: value}
}

func dataTypeSize(dt uint16) int {
	switch dt {
	case dtByte, dtASCII, dtSByte, dtUndef:
		return 1
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRational, dtSRational, dtDouble, dtLong8:
		return 8
	default:
		return 1
	}
}

func resolveEntry(r io.ReadSeeker, bo binary.ByteOrder, e *tiffEntry) error {
	totalSize := int(e.Count) * dataTypeSize(e.DataType)
	if totalSize <= 4 {
		return nil
	}
	offset := uint64(bo.Uint32(e.Value))
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}
	data := make([]byte, totalSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	e.Value = data
	return nil
}

func buildIFD(entries []tiffEntry, bo binary.ByteOrder) IFD {
	ifd := IFD{SamplesPerPixel: 1, PlanarConfig: 1}
	for _, e := range entries {
		switch e.Tag {
		case tagImageWidth:
			ifd.Width = getUint32(e, bo)
		case tagImageLength:
			ifd.Height = getUint32(e, bo)
		case tagTileWidth:
			ifd.TileWidth = getUint32(e, bo)
		case tagTileLength:
			ifd.TileHeight = getUint32(e, bo)
		case tagBitsPerSample:
			ifd.BitsPerSample = getUint16Slice(e, bo)
		case tagSamplesPerPixel:
			ifd.SamplesPerPixel = getUint16Val(e, bo)
		case tagCompression:
			ifd.Compression = getUint16Val(e, bo)
		case tagPhotometric:
			ifd.Photometric = getUint16Val(e, bo)
		case tagPlanarConfig:
			ifd.PlanarConfig = getUint16Val(e, bo)
		case tagTileOffsets:
			ifd.TileOffsets = getUint64Slice(e, bo)
		case tagTileByteCounts:
			ifd.TileByteCounts = getUint64Slice(e, bo)
		case tagJPEGTables:
			ifd.JPEGTables = append([]byte(nil), e.Value...)
		}
	}
	return ifd
}

func getUint16Val(e tiffEntry, bo binary.ByteOrder) uint16 {
	switch e.DataType {
	case dtShort:
		return bo.Uint16(e.Value)
	case dtLong:
		return uint16(bo.Uint32(e.Value))
	default:
		return uint16(e.Value[0])
	}
}

func getUint32(e tiffEntry, bo binary.ByteOrder) uint32 {
	switch e.DataType {
	case dtShort:
		return uint32(bo.Uint16(e.Value))
	case dtLong:
		return bo.Uint32(e.Value)
	default:
		return uint32(e.Value[0])
	}
}

func getUint16Slice(e tiffEntry, bo binary.ByteOrder) []uint16 {
	n := int(e.Count)
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = bo.Uint16(e.Value[i*2 : i*2+2])
	}
	return out
}

func getUint64Slice(e tiffEntry, bo binary.ByteOrder) []uint64 {
	n := int(e.Count)
	out := make([]uint64, n)
	switch e.DataType {
	case dtLong:
		for i := 0; i < n; i++ {
			out[i] = uint64(bo.Uint32(e.Value[i*4 : i*4+4]))
		}
	case dtShort:
		for i := 0; i < n; i++ {
			out[i] = uint64(bo.Uint16(e.Value[i*2 : i*2+2]))
		}
	}
	return out
}

// StripJPEGTablesEOI returns tables with its trailing End-Of-Image marker
// (0xFFD9) removed, so it can prefix a raw JPEG tile's scan data (spec.md
// §4.2: hierarchical TIFF source).
func StripJPEGTablesEOI(tables []byte) []byte {
	if len(tables) >= 2 && tables[len(tables)-2] == 0xFF && tables[len(tables)-1] == 0xD9 {
		return tables[:len(tables)-2]
	}
	return tables
}
