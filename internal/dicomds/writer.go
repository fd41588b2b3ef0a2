package dicomds

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync/atomic"

	"github.com/pspoerri/dicomizer/internal/dicomvr"
	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// CountingWriter wraps an io.Writer and tracks total bytes written, used to
// compute element and sequence lengths during serialization.
type CountingWriter struct {
	Count  atomic.Int64
	Writer io.Writer
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.Writer.Write(p)
	if err == nil {
		c.Count.Add(int64(n))
	}
	return n, err
}

// WriteFile serializes ds to path as a Part 10 file: 128-byte preamble,
// "DICM" magic, then the data set in Explicit VR Little Endian.
func WriteFile(path string, ds *Dataset) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, dzerr.Wrap(dzerr.KindUnknownResource, "dicomds", err, "creating %s", path)
	}
	defer f.Close()
	return Write(f, ds)
}

// Write serializes ds to w as a Part 10 file.
func Write(w io.Writer, ds *Dataset) (int64, error) {
	cw := &CountingWriter{Writer: w}

	preamble := make([]byte, 128)
	if _, err := cw.Write(preamble); err != nil {
		return cw.Count.Load(), dzerr.Wrap(dzerr.KindInternal, "dicomds", err, "writing preamble")
	}
	if _, err := cw.Write([]byte("DICM")); err != nil {
		return cw.Count.Load(), dzerr.Wrap(dzerr.KindInternal, "dicomds", err, "writing DICM magic")
	}
	if _, err := writeDataSetBody(cw, ds); err != nil {
		return cw.Count.Load(), err
	}
	return cw.Count.Load(), nil
}

func writeDataSetBody(w io.Writer, ds *Dataset) (int64, error) {
	elements := make([]*Element, 0, len(ds.Elements))
	for _, elem := range ds.Elements {
		elements = append(elements, elem)
	}
	sort.Slice(elements, func(i, j int) bool {
		if elements[i].Tag.Group != elements[j].Tag.Group {
			return elements[i].Tag.Group < elements[j].Tag.Group
		}
		return elements[i].Tag.Element < elements[j].Tag.Element
	})

	cw := &CountingWriter{Writer: w}
	for _, elem := range elements {
		if _, err := writeElement(cw, elem); err != nil {
			return cw.Count.Load(), dzerr.Wrap(dzerr.KindInternal, "dicomds", err, "writing element %04x,%04x", elem.Tag.Group, elem.Tag.Element)
		}
	}
	return cw.Count.Load(), nil
}

func writeElement(w io.Writer, elem *Element) (int64, error) {
	cw := &CountingWriter{Writer: w}

	if err := binary.Write(cw, binary.LittleEndian, elem.Tag.Group); err != nil {
		return cw.Count.Load(), err
	}
	if err := binary.Write(cw, binary.LittleEndian, elem.Tag.Element); err != nil {
		return cw.Count.Load(), err
	}

	vr := elem.VR
	if len(vr) != 2 {
		vr = dicomvr.UN
	}
	if _, err := cw.Write([]byte(vr)); err != nil {
		return cw.Count.Load(), err
	}

	valBytes, undefinedLength, err := encodeValue(elem.Value, vr)
	if err != nil {
		return cw.Count.Load(), err
	}

	if !vr.IsExplicitLength() {
		if _, err := cw.Write([]byte{0, 0}); err != nil {
			return cw.Count.Load(), err
		}
		length := uint32(len(valBytes))
		if undefinedLength {
			length = 0xFFFFFFFF
		}
		if err := binary.Write(cw, binary.LittleEndian, length); err != nil {
			return cw.Count.Load(), err
		}
	} else {
		if undefinedLength {
			return cw.Count.Load(), fmt.Errorf("undefined length not supported for short VR %s", vr)
		}
		length := uint16(len(valBytes))
		if err := binary.Write(cw, binary.LittleEndian, length); err != nil {
			return cw.Count.Load(), err
		}
	}

	if _, err := cw.Write(valBytes); err != nil {
		return cw.Count.Load(), err
	}
	return cw.Count.Load(), nil
}

func encodeValue(v interface{}, vr dicomvr.VR) ([]byte, bool, error) {
	if v == nil {
		return nil, false, nil
	}

	if pd, ok := v.(*PixelData); ok {
		if pd.IsEncapsulated {
			b, err := encodeEncapsulatedPixelData(pd)
			return b, true, err
		}
		return encodeNativePixelData(pd), false, nil
	}

	switch val := v.(type) {
	case []*Dataset:
		b, err := encodeSequence(val)
		return b, true, err
	case string:
		return padString(val), false, nil
	case []string:
		joined := ""
		for i, s := range val {
			if i > 0 {
				joined += "\\"
			}
			joined += s
		}
		return padString(joined), false, nil
	case uint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, val)
		return b, false, nil
	case []uint16:
		b := make([]byte, len(val)*2)
		for i, u := range val {
			binary.LittleEndian.PutUint16(b[i*2:], u)
		}
		return b, false, nil
	case uint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, val)
		return b, false, nil
	case []uint32:
		b := make([]byte, len(val)*4)
		for i, u := range val {
			binary.LittleEndian.PutUint32(b[i*4:], u)
		}
		return b, false, nil
	case int:
		switch vr {
		case dicomvr.US:
			b := make([]byte, 2)
			binary.LittleEndian.PutUint16(b, uint16(val))
			return b, false, nil
		case dicomvr.UL, dicomvr.SL:
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, uint32(val))
			return b, false, nil
		case dicomvr.IS, dicomvr.DS:
			return padString(fmt.Sprintf("%d", val)), false, nil
		default:
			b := make([]byte, 2)
			binary.LittleEndian.PutUint16(b, uint16(val))
			return b, false, nil
		}
	case float64:
		switch vr {
		case dicomvr.DS:
			return padString(fmt.Sprintf("%v", val)), false, nil
		case dicomvr.FD:
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, math.Float64bits(val))
			return b, false, nil
		case dicomvr.FL:
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(val)))
			return b, false, nil
		default:
			return nil, false, fmt.Errorf("float64 for VR %s not supported", vr)
		}
	case []float64:
		b := make([]byte, 0, len(val)*8)
		for _, f := range val {
			word := make([]byte, 8)
			binary.LittleEndian.PutUint64(word, math.Float64bits(f))
			b = append(b, word...)
		}
		return b, false, nil
	case []byte:
		return val, false, nil
	default:
		return nil, false, fmt.Errorf("unsupported value type %T for VR %s", v, vr)
	}
}

func padString(s string) []byte {
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, ' ')
	}
	return b
}

func encodeSequence(items []*Dataset) ([]byte, error) {
	var buf bytes.Buffer
	for _, ds := range items {
		buf.Write([]byte{0xFE, 0xFF, 0x00, 0xE0}) // Item tag (FFFE,E000)

		var itemBuf bytes.Buffer
		if _, err := writeDataSetBody(&itemBuf, ds); err != nil {
			return nil, err
		}
		itemBytes := itemBuf.Bytes()
		binary.Write(&buf, binary.LittleEndian, uint32(len(itemBytes)))
		buf.Write(itemBytes)
	}
	buf.Write([]byte{0xFE, 0xFF, 0xDD, 0xE0}) // Sequence delimitation item
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00})
	return buf.Bytes(), nil
}

func encodeNativePixelData(pd *PixelData) []byte {
	var buf bytes.Buffer
	for _, frame := range pd.Frames {
		buf.Write(frame)
	}
	out := buf.Bytes()
	if len(out)%2 != 0 {
		out = append(out, 0)
	}
	return out
}

func encodeEncapsulatedPixelData(pd *PixelData) ([]byte, error) {
	var buf bytes.Buffer

	buf.Write([]byte{0xFE, 0xFF, 0x00, 0xE0}) // Basic Offset Table item
	botLen := uint32(len(pd.Frames) * 4)
	binary.Write(&buf, binary.LittleEndian, botLen)
	offset := uint32(0)
	for _, frame := range pd.Frames {
		binary.Write(&buf, binary.LittleEndian, offset)
		frameLen := uint32(len(frame))
		if frameLen%2 != 0 {
			frameLen++
		}
		offset += 8 + frameLen
	}

	for _, frame := range pd.Frames {
		buf.Write([]byte{0xFE, 0xFF, 0x00, 0xE0})
		data := frame
		if len(data)%2 != 0 {
			data = append(append([]byte{}, data...), 0)
		}
		binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
		buf.Write(data)
	}

	buf.Write([]byte{0xFE, 0xFF, 0xDD, 0xE0})
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00})
	return buf.Bytes(), nil
}
