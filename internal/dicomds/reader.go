package dicomds

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/pspoerri/dicomizer/internal/dicomtag"
	"github.com/pspoerri/dicomizer/internal/dicomvr"
)

// itemTag and delimiter tags from the FFFE group used by encapsulated pixel
// data and undefined-length sequences.
var (
	itemTag             = dicomtag.Tag{Group: 0xFFFE, Element: 0xE000}
	itemDelimitationTag = dicomtag.Tag{Group: 0xFFFE, Element: 0xE00D}
	seqDelimitationTag  = dicomtag.Tag{Group: 0xFFFE, Element: 0xE0DD}
)

const undefinedLength = 0xFFFFFFFF

// Read parses a Part-10 DICOM stream (128-byte preamble, "DICM" magic,
// Explicit VR Little Endian File Meta group, then the dataset under the
// transfer syntax the File Meta group names) into a Dataset.
//
// Only Explicit VR Little Endian and Implicit VR Little Endian datasets are
// understood; compressed transfer syntaxes are supported for pixel data
// only insofar as their frames arrive already encapsulated — this module
// never needs to decode pixel bytes through this reader, only the
// geometry elements around them (spec.md §4.2's DICOM pyramid source).
func Read(r io.Reader) (*Dataset, error) {
	br := bufio.NewReader(r)

	preamble := make([]byte, 128)
	if _, err := io.ReadFull(br, preamble); err != nil {
		return nil, fmt.Errorf("reading preamble: %w", err)
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("reading DICM magic: %w", err)
	}
	if string(magic) != "DICM" {
		return nil, fmt.Errorf("not a DICOM stream: missing DICM magic")
	}

	dr := &datasetReader{r: br, explicitVR: true}
	ds := &Dataset{Elements: make(map[Tag]*Element)}

	for {
		tag, err := dr.readTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tag: %w", err)
		}

		if tag.Group != 0x0002 && !dr.sawTransferSyntax {
			dr.explicitVR = true
			dr.sawTransferSyntax = true
		}

		elem, err := dr.readElement(tag)
		if err != nil {
			return nil, fmt.Errorf("reading element %04x,%04x: %w", tag.Group, tag.Element, err)
		}
		if elem == nil {
			continue
		}
		ds.Elements[elem.Tag] = elem

		if tag == dicomtag.TransferSyntaxUID {
			if ts, ok := elem.Value.(string); ok {
				dr.explicitVR = ts != string(implicitVRLittleEndian)
				dr.sawTransferSyntax = true
			}
		}
	}

	return ds, nil
}

const implicitVRLittleEndian = "1.2.840.10008.1.2"

type datasetReader struct {
	r                 io.Reader
	explicitVR        bool
	sawTransferSyntax bool
}

func (dr *datasetReader) readTag() (Tag, error) {
	var raw [4]byte
	if _, err := io.ReadFull(dr.r, raw[:]); err != nil {
		return Tag{}, err
	}
	return Tag{
		Group:   binary.LittleEndian.Uint16(raw[0:2]),
		Element: binary.LittleEndian.Uint16(raw[2:4]),
	}, nil
}

func (dr *datasetReader) readElement(tag Tag) (*Element, error) {
	var vr dicomvr.VR
	var length uint32

	if dr.explicitVR {
		var vrBytes [2]byte
		if _, err := io.ReadFull(dr.r, vrBytes[:]); err != nil {
			return nil, err
		}
		vr = dicomvr.VR(vrBytes[:])
		if vr.IsExplicitLength() {
			var length16 uint16
			if err := binary.Read(dr.r, binary.LittleEndian, &length16); err != nil {
				return nil, err
			}
			length = uint32(length16)
		} else {
			var reserved [2]byte
			if _, err := io.ReadFull(dr.r, reserved[:]); err != nil {
				return nil, err
			}
			if err := binary.Read(dr.r, binary.LittleEndian, &length); err != nil {
				return nil, err
			}
		}
	} else {
		if err := binary.Read(dr.r, binary.LittleEndian, &length); err != nil {
			return nil, err
		}
		vr = implicitVR(tag)
	}

	if tag == itemDelimitationTag || tag == seqDelimitationTag {
		return nil, nil
	}

	if vr == dicomvr.SQ || (length == undefinedLength && vr != dicomvr.OB && vr != dicomvr.OW) {
		items, err := dr.readSequence(length)
		if err != nil {
			return nil, err
		}
		return &Element{Tag: tag, VR: dicomvr.SQ, Value: items}, nil
	}

	if tag == dicomtag.PixelData && length == undefinedLength {
		pd, err := dr.readEncapsulatedPixelData()
		if err != nil {
			return nil, err
		}
		return &Element{Tag: tag, VR: vr, Value: pd}, nil
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(dr.r, data); err != nil {
		return nil, err
	}
	return &Element{Tag: tag, VR: vr, Value: decodeValue(vr, data)}, nil
}

// readSequence reads a sequence's items, each a nested dataset, until its
// declared length is consumed or (for undefined length) a sequence
// delimitation item arrives.
func (dr *datasetReader) readSequence(length uint32) ([]*Dataset, error) {
	var items []*Dataset
	var consumed uint32

	for length == undefinedLength || consumed < length {
		tag, err := dr.readTag()
		if err != nil {
			return nil, err
		}
		consumed += 4

		if tag == seqDelimitationTag {
			var discard uint32
			binary.Read(dr.r, binary.LittleEndian, &discard)
			consumed += 4
			break
		}
		if tag != itemTag {
			return nil, fmt.Errorf("expected sequence item tag, got %04x,%04x", tag.Group, tag.Element)
		}

		var itemLength uint32
		if err := binary.Read(dr.r, binary.LittleEndian, &itemLength); err != nil {
			return nil, err
		}
		consumed += 4

		item, itemConsumed, err := dr.readItemDataset(itemLength)
		if err != nil {
			return nil, err
		}
		consumed += itemConsumed
		items = append(items, item)
	}

	return items, nil
}

func (dr *datasetReader) readItemDataset(itemLength uint32) (*Dataset, uint32, error) {
	ds := &Dataset{Elements: make(map[Tag]*Element)}
	var consumed uint32

	for itemLength == undefinedLength || consumed < itemLength {
		tag, err := dr.readTag()
		if err != nil {
			return nil, 0, err
		}
		consumed += 4
		if tag == itemDelimitationTag {
			var discard uint32
			binary.Read(dr.r, binary.LittleEndian, &discard)
			consumed += 4
			break
		}

		elem, err := dr.readElementCounting(tag, &consumed)
		if err != nil {
			return nil, 0, err
		}
		if elem != nil {
			ds.Elements[elem.Tag] = elem
		}
	}

	return ds, consumed, nil
}

// readElementCounting wraps readElement but tracks bytes consumed, needed
// because nested items carry an explicit byte length rather than a count of
// elements.
func (dr *datasetReader) readElementCounting(tag Tag, consumed *uint32) (*Element, error) {
	counter := &countingReader{r: dr.r}
	saved := dr.r
	dr.r = counter
	elem, err := dr.readElement(tag)
	dr.r = saved
	*consumed += uint32(counter.n)
	return elem, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (dr *datasetReader) readEncapsulatedPixelData() (*PixelData, error) {
	pd := &PixelData{IsEncapsulated: true}

	tag, err := dr.readTag()
	if err != nil {
		return nil, err
	}
	if tag != itemTag {
		return nil, fmt.Errorf("expected basic offset table item, got %04x,%04x", tag.Group, tag.Element)
	}
	var botLength uint32
	if err := binary.Read(dr.r, binary.LittleEndian, &botLength); err != nil {
		return nil, err
	}
	if botLength > 0 {
		if _, err := io.CopyN(io.Discard, dr.r, int64(botLength)); err != nil {
			return nil, err
		}
	}

	for {
		tag, err := dr.readTag()
		if err != nil {
			return nil, err
		}
		if tag == seqDelimitationTag {
			var discard uint32
			binary.Read(dr.r, binary.LittleEndian, &discard)
			break
		}
		if tag != itemTag {
			return nil, fmt.Errorf("expected pixel data item, got %04x,%04x", tag.Group, tag.Element)
		}
		var frameLength uint32
		if err := binary.Read(dr.r, binary.LittleEndian, &frameLength); err != nil {
			return nil, err
		}
		frame := make([]byte, frameLength)
		if _, err := io.ReadFull(dr.r, frame); err != nil {
			return nil, err
		}
		pd.Frames = append(pd.Frames, frame)
	}

	return pd, nil
}

// implicitVR guesses a VR for Implicit VR Little Endian datasets from the
// tag alone, covering the tags this module's pyramid source actually reads.
func implicitVR(tag Tag) dicomvr.VR {
	switch tag {
	case dicomtag.PixelData:
		return dicomvr.OW
	case dicomtag.NumberOfFrames, dicomtag.Rows, dicomtag.Columns, dicomtag.SamplesPerPixel,
		dicomtag.BitsAllocated, dicomtag.BitsStored, dicomtag.HighBit, dicomtag.PixelRepresentation,
		dicomtag.PlanarConfiguration:
		return dicomvr.US
	case dicomtag.TotalPixelMatrixColumns, dicomtag.TotalPixelMatrixRows,
		dicomtag.ColumnPositionInTotalImgMatrix, dicomtag.RowPositionInTotalImgMatrix,
		dicomtag.DimensionIndexValues:
		return dicomvr.UL
	case dicomtag.XOffsetInSlideCoordSystem, dicomtag.YOffsetInSlideCoordSystem, dicomtag.ZOffsetInSlideCoordSystem,
		dicomtag.ImagedVolumeWidth, dicomtag.ImagedVolumeHeight, dicomtag.ImagedVolumeDepth:
		return dicomvr.FD
	case dicomtag.PhotometricInterpretation, dicomtag.Modality:
		return dicomvr.CS
	case dicomtag.SOPClassUID, dicomtag.SOPInstanceUID, dicomtag.StudyInstanceUID, dicomtag.SeriesInstanceUID,
		dicomtag.FrameOfReferenceUID:
		return dicomvr.UI
	case dicomtag.PerFrameFunctionalGroupsSeq, dicomtag.SharedFunctionalGroupsSequence,
		dicomtag.PlanePositionSlideSequence, dicomtag.FrameContentSequence, dicomtag.OpticalPathIdentificationSeq:
		return dicomvr.SQ
	default:
		return dicomvr.UN
	}
}

func decodeValue(vr dicomvr.VR, data []byte) interface{} {
	if vr.IsString() {
		return strings.TrimRight(string(data), " \x00")
	}
	switch vr {
	case dicomvr.US:
		values := make([]uint16, len(data)/2)
		for i := range values {
			values[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
		if len(values) == 1 {
			return values[0]
		}
		return values
	case dicomvr.UL:
		values := make([]uint32, len(data)/4)
		for i := range values {
			values[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
		if len(values) == 1 {
			return values[0]
		}
		return values
	case dicomvr.FD:
		values := make([]float64, len(data)/8)
		for i := range values {
			bits := binary.LittleEndian.Uint64(data[i*8:])
			values[i] = math.Float64frombits(bits)
		}
		if len(values) == 1 {
			return values[0]
		}
		return values
	default:
		return data
	}
}
