package pixel

import (
	"bytes"
	"os"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	tiffLE    = []byte{0x49, 0x49, 0x2A, 0x00}
	tiffBE    = []byte{0x4D, 0x4D, 0x00, 0x2A}
	jp2Magic  = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20}
	j2kMagic  = []byte{0xFF, 0x4F, 0xFF, 0x51}
	dicomMagic = []byte{'D', 'I', 'C', 'M'}
)

// DetectFormatFromMemory inspects the leading bytes of data and returns the
// compression tag that matches the file's magic number (spec.md §4.1). DICOM
// detection checks for the "DICM" marker at offset 128, per Part 10.
func DetectFormatFromMemory(data []byte) (Compression, error) {
	if len(data) >= 132 && bytes.Equal(data[128:132], dicomMagic) {
		return CompressionDICOM, nil
	}
	if bytes.HasPrefix(data, jpegMagic) {
		return CompressionJPEG, nil
	}
	if bytes.HasPrefix(data, pngMagic) {
		return CompressionPNG, nil
	}
	if bytes.HasPrefix(data, tiffLE) || bytes.HasPrefix(data, tiffBE) {
		return CompressionTIFF, nil
	}
	if bytes.HasPrefix(data, jp2Magic) || bytes.HasPrefix(data, j2kMagic) {
		return CompressionJPEG2000, nil
	}
	return CompressionNone, dzerr.New(dzerr.KindBadFileFormat, "pixel", "unrecognized file signature")
}

// DetectFormatFromFile reads enough of path's header to classify its format,
// following the pack's cog.OpenAll pre-validation pattern of checking before
// committing to a full decode.
func DetectFormatFromFile(path string) (Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return CompressionNone, dzerr.Wrap(dzerr.KindUnknownResource, "pixel", err, "opening %s", path)
	}
	defer f.Close()

	header := make([]byte, 132)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return CompressionNone, dzerr.Wrap(dzerr.KindCorruptedFile, "pixel", err, "reading header of %s", path)
	}
	return DetectFormatFromMemory(header[:n])
}
