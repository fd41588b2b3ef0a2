package tiffio

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// LevelSpec describes one pyramid level's geometry and encoding before any
// tile is written.
type LevelSpec struct {
	Width, Height     uint32
	TileWidth         uint32
	TileHeight        uint32
	Photometric       uint16
	SamplesPerPixel   uint16
	BitsPerSample     []uint16
	JPEGTables        []byte
}

type pendingTile struct {
	path string
	size int64
}

type levelState struct {
	spec           LevelSpec
	tilesAcross    int
	tilesDown      int
	tmp            *os.File
	tileOffsets    []uint64 // filled in at Flush, relative-to-data-start placeholder during accumulation
	tileByteCounts []uint64
	cursor         int
	pending        map[int]pendingTile
}

// Writer builds a hierarchical tiled TIFF, one directory per level, finest
// level first. Tiles must ultimately arrive in raster order within a level;
// out-of-order tiles are buffered to small temp files and spliced back in
// when their slot becomes current (spec.md §4.4.2).
type Writer struct {
	path       string
	tmpDir     string
	levels     []*levelState
	tileStarted bool
}

// NewWriter creates a tiled TIFF writer that will write its final file to
// path. tmpDir controls where out-of-order tile spill files and the
// per-level data staging files are created; empty means the current working
// directory.
func NewWriter(path, tmpDir string) *Writer {
	if tmpDir == "" {
		tmpDir = "."
	}
	return &Writer{path: path, tmpDir: tmpDir}
}

// AddLevel registers a new pyramid level. Levels must be added in order of
// decreasing (w,h), before any tile is written (spec.md §4.4 invariant).
func (w *Writer) AddLevel(spec LevelSpec) error {
	if w.tileStarted {
		return dzerr.New(dzerr.KindBadSequenceOfCalls, "tiffio", "AddLevel called after the first tile write")
	}
	if len(w.levels) > 0 {
		prev := w.levels[len(w.levels)-1].spec
		if !(spec.Width < prev.Width && spec.Height < prev.Height) {
			return dzerr.New(dzerr.KindBadSequenceOfCalls, "tiffio", "level dimensions must strictly decrease")
		}
	}
	tmp, err := os.CreateTemp(w.tmpDir, "dicomizer-tiff-level-*.tmp")
	if err != nil {
		return dzerr.Wrap(dzerr.KindUnknownResource, "tiffio", err, "creating level staging file")
	}
	across := int((spec.Width + spec.TileWidth - 1) / spec.TileWidth)
	down := int((spec.Height + spec.TileHeight - 1) / spec.TileHeight)
	w.levels = append(w.levels, &levelState{
		spec:           spec,
		tilesAcross:    across,
		tilesDown:      down,
		tmp:            tmp,
		tileOffsets:    make([]uint64, across*down),
		tileByteCounts: make([]uint64, across*down),
		pending:        make(map[int]pendingTile),
	})
	return nil
}

// WriteTile appends JPEG-compressed tile bytes at (x,y) of level. Tiles
// arriving out of raster order are spilled to a temp file and replayed once
// their slot becomes current.
func (w *Writer) WriteTile(level, x, y int, data []byte) error {
	w.tileStarted = true
	if level < 0 || level >= len(w.levels) {
		return dzerr.New(dzerr.KindParameterOutOfRange, "tiffio", "level %d out of range", level)
	}
	lb := w.levels[level]
	if x < 0 || x >= lb.tilesAcross || y < 0 || y >= lb.tilesDown {
		return dzerr.New(dzerr.KindParameterOutOfRange, "tiffio", "tile (%d,%d) out of range at level %d", x, y, level)
	}
	idx := y*lb.tilesAcross + x

	if idx != lb.cursor {
		spill, err := os.CreateTemp(w.tmpDir, "dicomizer-tiff-tile-*.tmp")
		if err != nil {
			return dzerr.Wrap(dzerr.KindUnknownResource, "tiffio", err, "spilling out-of-order tile")
		}
		if _, err := spill.Write(data); err != nil {
			spill.Close()
			return dzerr.Wrap(dzerr.KindInternal, "tiffio", err, "writing spill tile")
		}
		name := spill.Name()
		spill.Close()
		lb.pending[idx] = pendingTile{path: name, size: int64(len(data))}
		return nil
	}

	if err := lb.appendTile(idx, data); err != nil {
		return err
	}
	lb.cursor++

	for {
		pt, ok := lb.pending[lb.cursor]
		if !ok {
			break
		}
		buf, err := os.ReadFile(pt.path)
		if err != nil {
			return dzerr.Wrap(dzerr.KindInternal, "tiffio", err, "replaying spilled tile")
		}
		os.Remove(pt.path)
		delete(lb.pending, lb.cursor)
		if err := lb.appendTile(lb.cursor, buf); err != nil {
			return err
		}
		lb.cursor++
	}
	return nil
}

func (lb *levelState) appendTile(idx int, data []byte) error {
	offset, err := lb.tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return dzerr.Wrap(dzerr.KindInternal, "tiffio", err, "seeking level staging file")
	}
	if _, err := lb.tmp.Write(data); err != nil {
		return dzerr.Wrap(dzerr.KindInternal, "tiffio", err, "appending tile data")
	}
	lb.tileOffsets[idx] = uint64(offset) // relative to this level's data block; rebased in Flush
	lb.tileByteCounts[idx] = uint64(len(data))
	return nil
}

// Flush assembles the final TIFF file from the staged per-level data and
// closes all temp files. Levels with unfilled tile slots are rejected — the
// caller (the Transcode/Reconstruct commands) is responsible for writing a
// tile to every slot, synthesizing empty tiles as needed.
func (w *Writer) Flush() error {
	for li, lb := range w.levels {
		if lb.cursor != len(lb.tileOffsets) {
			return dzerr.New(dzerr.KindBadSequenceOfCalls, "tiffio", "level %d is missing tiles (%d/%d written)", li, lb.cursor, len(lb.tileOffsets))
		}
	}

	out, err := os.Create(w.path)
	if err != nil {
		return dzerr.Wrap(dzerr.KindUnknownResource, "tiffio", err, "creating %s", w.path)
	}
	defer out.Close()

	bo := binary.LittleEndian
	header := []byte{'I', 'I', 42, 0, 8, 0, 0, 0}
	if _, err := out.Write(header); err != nil {
		return err
	}

	pos := int64(8)
	for li, lb := range w.levels {
		ifdPos := pos
		entries := buildEntries(lb)
		ifdHeaderSize := int64(2 + len(entries)*12 + 4)
		extraStart := ifdPos + ifdHeaderSize

		var extra []byte
		finalEntries := make([]tiffWriteEntry, len(entries))
		copy(finalEntries, entries)
		tileOffsetsPos := -1
		for i := range finalEntries {
			e := &finalEntries[i]
			if e.inlineValue == nil {
				e.offset = uint64(extraStart) + uint64(len(extra))
				if e.tag == tagTileOffsets {
					tileOffsetsPos = len(extra)
				}
				extra = append(extra, e.externalBytes...)
				for len(extra)%2 != 0 {
					extra = append(extra, 0)
				}
			}
		}

		dataStart := extraStart + int64(len(extra))
		if tileOffsetsPos >= 0 {
			for i, relOff := range lb.tileOffsets {
				bo.PutUint32(extra[tileOffsetsPos+i*4:], uint32(uint64(dataStart)+relOff))
			}
		}

		nextIFDOffset := uint64(0)
		if li < len(w.levels)-1 {
			levelDataSize, err := fileSize(lb.tmp)
			if err != nil {
				return err
			}
			nextIFDOffset = uint64(dataStart) + uint64(levelDataSize)
		}

		if err := writeIFD(out, bo, finalEntries, nextIFDOffset); err != nil {
			return err
		}
		if _, err := out.Write(extra); err != nil {
			return err
		}
		if _, err := lb.tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.Copy(out, lb.tmp); err != nil {
			return err
		}

		levelDataSize, err := fileSize(lb.tmp)
		if err != nil {
			return err
		}
		pos = dataStart + levelDataSize
	}

	for _, lb := range w.levels {
		lb.tmp.Close()
		os.Remove(lb.tmp.Name())
	}
	return nil
}

func fileSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

type tiffWriteEntry struct {
	tag           uint16
	dataType      uint16
	count         uint32
	inlineValue   []byte // non-nil when the value fits in 4 bytes
	externalBytes []byte
	offset        uint64
}

func buildEntries(lb *levelState) []tiffWriteEntry {
	var entries []tiffWriteEntry

	u32 := func(tag uint16, v uint32) tiffWriteEntry {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return tiffWriteEntry{tag: tag, dataType: dtLong, count: 1, inlineValue: b}
	}
	u16 := func(tag uint16, v uint16) tiffWriteEntry {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint16(b, v)
		return tiffWriteEntry{tag: tag, dataType: dtShort, count: 1, inlineValue: b}
	}

	entries = append(entries, u32(tagImageWidth, lb.spec.Width))
	entries = append(entries, u32(tagImageLength, lb.spec.Height))

	if len(lb.spec.BitsPerSample) <= 2 {
		b := make([]byte, 4)
		for i, v := range lb.spec.BitsPerSample {
			binary.LittleEndian.PutUint16(b[i*2:], v)
		}
		entries = append(entries, tiffWriteEntry{tag: tagBitsPerSample, dataType: dtShort, count: uint32(len(lb.spec.BitsPerSample)), inlineValue: b})
	} else {
		ext := make([]byte, len(lb.spec.BitsPerSample)*2)
		for i, v := range lb.spec.BitsPerSample {
			binary.LittleEndian.PutUint16(ext[i*2:], v)
		}
		entries = append(entries, tiffWriteEntry{tag: tagBitsPerSample, dataType: dtShort, count: uint32(len(lb.spec.BitsPerSample)), externalBytes: ext})
	}

	entries = append(entries, u16(tagCompression, CompressionJPEG))
	entries = append(entries, u16(tagPhotometric, lb.spec.Photometric))
	entries = append(entries, u16(tagSamplesPerPixel, lb.spec.SamplesPerPixel))
	entries = append(entries, u16(tagPlanarConfig, 1))
	entries = append(entries, u32(tagTileWidth, lb.spec.TileWidth))
	entries = append(entries, u32(tagTileLength, lb.spec.TileHeight))

	if lb.spec.Photometric == PhotometricYCbCr {
		subsamp := make([]byte, 4)
		binary.LittleEndian.PutUint16(subsamp[0:2], 2)
		binary.LittleEndian.PutUint16(subsamp[2:4], 2)
		entries = append(entries, tiffWriteEntry{tag: tagYCbCrSubSamp, dataType: dtShort, count: 2, inlineValue: subsamp})
	}

	tileOffExt := make([]byte, len(lb.tileOffsets)*4) // placeholder, filled/rebuilt during Flush
	entries = append(entries, tiffWriteEntry{tag: tagTileOffsets, dataType: dtLong, count: uint32(len(lb.tileOffsets)), externalBytes: tileOffExt})

	byteCountExt := make([]byte, len(lb.tileByteCounts)*4)
	for i, v := range lb.tileByteCounts {
		binary.LittleEndian.PutUint32(byteCountExt[i*4:], uint32(v))
	}
	entries = append(entries, tiffWriteEntry{tag: tagTileByteCounts, dataType: dtLong, count: uint32(len(lb.tileByteCounts)), externalBytes: byteCountExt})

	if len(lb.spec.JPEGTables) > 0 {
		entries = append(entries, tiffWriteEntry{tag: tagJPEGTables, dataType: dtUndef, count: uint32(len(lb.spec.JPEGTables)), externalBytes: lb.spec.JPEGTables})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
	return entries
}

func writeIFD(out io.Writer, bo binary.ByteOrder, entries []tiffWriteEntry, next uint64) error {
	var countBuf [2]byte
	bo.PutUint16(countBuf[:], uint16(len(entries)))
	if _, err := out.Write(countBuf[:]); err != nil {
		return err
	}
	for _, e := range entries {
		var buf [12]byte
		bo.PutUint16(buf[0:2], e.tag)
		bo.PutUint16(buf[2:4], e.dataType)
		bo.PutUint32(buf[4:8], e.count)
		if e.inlineValue != nil {
			copy(buf[8:12], e.inlineValue)
		} else {
			bo.PutUint32(buf[8:12], uint32(e.offset))
		}
		if _, err := out.Write(buf[:]); err != nil {
			return err
		}
	}
	var nextBuf [4]byte
	bo.PutUint32(nextBuf[:], uint32(next))
	_, err := out.Write(nextBuf[:])
	return err
}
