// Package transfer defines the DICOM transfer syntaxes dicomizer maps
// compression tags to/from (spec.md §3, §4.4.1).
package transfer

// Syntax is a DICOM Transfer Syntax UID.
type Syntax string

// Transfer syntaxes used by the VL-WSI writer (spec.md §4.4.1).
const (
	ImplicitVRLittleEndian Syntax = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian Syntax = "1.2.840.10008.1.2.1"
	JPEGBaseline           Syntax = "1.2.840.10008.1.2.4.50"
	JPEG2000Lossless       Syntax = "1.2.840.10008.1.2.4.90"
	JPEGLSLossless         Syntax = "1.2.840.10008.1.2.4.80"
)

// IsEncapsulated reports whether pixel data under this syntax is carried as
// an encapsulated (compressed item) sequence rather than a contiguous
// uncompressed buffer.
func (s Syntax) IsEncapsulated() bool {
	switch s {
	case ImplicitVRLittleEndian, ExplicitVRLittleEndian:
		return false
	default:
		return true
	}
}

// Name returns a human-readable label, used in log messages.
func (s Syntax) Name() string {
	switch s {
	case ImplicitVRLittleEndian:
		return "Implicit VR Little Endian"
	case ExplicitVRLittleEndian:
		return "Explicit VR Little Endian"
	case JPEGBaseline:
		return "JPEG Baseline"
	case JPEG2000Lossless:
		return "JPEG 2000 Lossless Only"
	case JPEGLSLossless:
		return "JPEG-LS Lossless"
	default:
		return "Unknown"
	}
}
