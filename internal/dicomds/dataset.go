// Package dicomds is the in-memory DICOM dataset model and Explicit VR
// Little Endian serializer dicomizer's writer builds multiframe instances
// on top of (spec.md §4.4.1).
package dicomds

import (
	"strconv"
	"strings"

	"github.com/pspoerri/dicomizer/internal/dicomtag"
	"github.com/pspoerri/dicomizer/internal/dicomvr"
)

// Tag re-exports dicomtag.Tag so callers only need one import when
// constructing datasets.
type Tag = dicomtag.Tag

// Dataset is a DICOM data set keyed by tag.
type Dataset struct {
	Elements map[Tag]*Element
}

// Element is a single DICOM data element.
type Element struct {
	Tag   Tag
	VR    dicomvr.VR
	Value interface{}
}

// PixelData carries either native (uncompressed) frames or encapsulated
// (compressed) frames, mirroring the shape the VL-WSI writer needs: one
// frame per tile, in either case (spec.md §4.4.1).
type PixelData struct {
	IsEncapsulated bool
	Frames         [][]byte
}

// Option configures a Dataset during construction, following the pack's
// options-pattern dataset builder.
type Option func(*Dataset) error

// New creates a Dataset from a sequence of Options.
func New(opts ...Option) (*Dataset, error) {
	ds := &Dataset{Elements: make(map[Tag]*Element)}
	for _, opt := range opts {
		if err := opt(ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// WithElement adds a single element with an explicit VR.
func WithElement(t Tag, vr dicomvr.VR, value interface{}) Option {
	return func(ds *Dataset) error {
		ds.Elements[t] = &Element{Tag: t, VR: vr, Value: value}
		return nil
	}
}

// WithSequence adds a sequence (SQ) element containing nested datasets.
func WithSequence(t Tag, items ...*Dataset) Option {
	return func(ds *Dataset) error {
		ds.Elements[t] = &Element{Tag: t, VR: dicomvr.SQ, Value: items}
		return nil
	}
}

// WithFileMeta adds the group-0002 File Meta Information elements every
// written instance carries.
func WithFileMeta(sopClassUID, sopInstanceUID, transferSyntaxUID string) Option {
	return func(ds *Dataset) error {
		opts := []Option{
			WithElement(dicomtag.MediaStorageSOPClassUID, dicomvr.UI, sopClassUID),
			WithElement(dicomtag.MediaStorageSOPInstanceUID, dicomvr.UI, sopInstanceUID),
			WithElement(dicomtag.TransferSyntaxUID, dicomvr.UI, transferSyntaxUID),
			WithElement(dicomtag.ImplementationClassUID, dicomvr.UI, "1.2.826.0.1.3680043.dicomizer.1"),
			WithElement(dicomtag.ImplementationVersionName, dicomvr.SH, "DICOMIZER_1"),
		}
		for _, opt := range opts {
			if err := opt(ds); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithNativePixelData adds uncompressed, per-frame pixel data (spec.md
// §4.4.1: implicit/explicit VR LE transfer syntax).
func WithNativePixelData(frames [][]byte) Option {
	return func(ds *Dataset) error {
		ds.Elements[dicomtag.PixelData] = &Element{
			Tag: dicomtag.PixelData,
			VR:  dicomvr.OW,
			Value: &PixelData{
				IsEncapsulated: false,
				Frames:         frames,
			},
		}
		return nil
	}
}

// WithEncapsulatedPixelData adds per-frame compressed pixel data as an
// encapsulated sequence of items (spec.md §4.4.1: JPEG/JPEG-2000 transfer
// syntaxes).
func WithEncapsulatedPixelData(frames [][]byte) Option {
	return func(ds *Dataset) error {
		ds.Elements[dicomtag.PixelData] = &Element{
			Tag: dicomtag.PixelData,
			VR:  dicomvr.OB,
			Value: &PixelData{
				IsEncapsulated: true,
				Frames:         frames,
			},
		}
		return nil
	}
}

// FindElement looks up an element by tag.
func (ds *Dataset) FindElement(t Tag) (*Element, bool) {
	e, ok := ds.Elements[t]
	return e, ok
}

// GetString returns the element's value as a string, if it is one.
func (e *Element) GetString() (string, bool) {
	s, ok := e.Value.(string)
	return s, ok
}

// GetInt returns the element's value as an int, accepting the numeric kinds
// the builder produces as well as the decimal-string form IS/DS-VR elements
// round-trip through (e.g. NumberOfFrames after a Read()).
func (e *Element) GetInt() (int, bool) {
	switch v := e.Value.(type) {
	case int:
		return v, true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// GetFloat64 returns the element's value as a float64, accepting the single
// FD value shape the reader produces.
func (e *Element) GetFloat64() (float64, bool) {
	switch v := e.Value.(type) {
	case float64:
		return v, true
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	}
	return 0, false
}

// GetUint32Slice returns the element's value as a []uint32, normalizing the
// single-value case the reader collapses scalars into.
func (e *Element) GetUint32Slice() ([]uint32, bool) {
	switch v := e.Value.(type) {
	case uint32:
		return []uint32{v}, true
	case []uint32:
		return v, true
	default:
		return nil, false
	}
}

// GetSequence returns the element's value as nested Datasets, if it is a
// sequence (SQ) element.
func (e *Element) GetSequence() ([]*Dataset, bool) {
	items, ok := e.Value.([]*Dataset)
	return items, ok
}
