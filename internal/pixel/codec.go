package pixel

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// Compression is the tile compression tag (spec.md §3).
type Compression int

const (
	CompressionNone Compression = iota
	CompressionJPEG
	CompressionJPEG2000
	CompressionJPEGLS
	CompressionPNG
	CompressionTIFF
	CompressionDICOM
	// CompressionExternalPreview is the sentinel meaning the source's native
	// codec is unsupported and decoding must go through an external preview
	// fallback (spec.md §3, §4.2).
	CompressionExternalPreview
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionJPEG:
		return "jpeg"
	case CompressionJPEG2000:
		return "jpeg2000"
	case CompressionJPEGLS:
		return "jpeg-ls"
	case CompressionPNG:
		return "png"
	case CompressionTIFF:
		return "tiff"
	case CompressionDICOM:
		return "dicom"
	case CompressionExternalPreview:
		return "external-preview"
	default:
		return "unknown"
	}
}

// ExternalCodec is the external collaborator interface for codecs outside
// this module's scope (JPEG-2000, JPEG-LS) — spec.md §1 lists these as
// external collaborators; dicomizer only specifies the interface it consumes
// from them, following jpfielding/dicos.go's pkg/dicos/codec.go Codec shape.
type ExternalCodec interface {
	Decode(data []byte, width, height int, format Format) (*Image, error)
	Encode(img *Image, quality int) ([]byte, error)
	Name() string
}

// externalCodecs is populated by callers (e.g. cmd/dicomizer's wiring code)
// with the JPEG-2000/JPEG-LS implementations available at build time.
var externalCodecs = map[Compression]ExternalCodec{}

// RegisterExternalCodec wires an external codec implementation for the
// given compression. Call once at process start.
func RegisterExternalCodec(c Compression, codec ExternalCodec) {
	externalCodecs[c] = codec
}

// DecodeRawTile treats bytes as row-major uncompressed pixels (spec.md
// §4.1). Fails with SizeMismatch if the byte count doesn't match.
func DecodeRawTile(data []byte, format Format, w, h int) (*Image, error) {
	bpp := format.BytesPerPixel()
	want := bpp * w * h
	if len(data) != want {
		return nil, dzerr.New(dzerr.KindSizeMismatch, "pixel",
			"raw tile: got %d bytes, want %d (%dx%d %s)", len(data), want, w, h, format)
	}
	img := &Image{Format: format, Width: w, Height: h, Pitch: w * bpp, Pix: make([]byte, len(data))}
	copy(img.Pix, data)
	return img, nil
}

// DecodeTile decodes compressed tile bytes into an Image. Fails with
// NotImplemented for unsupported codecs. For JPEG-2000 tiles whose carrier
// declares YBR_ICT, applies Y'CbCr→RGB in place (spec.md §4.1).
func DecodeTile(data []byte, compression Compression, format Format, w, h int, photometric Photometric) (*Image, error) {
	switch compression {
	case CompressionNone:
		return DecodeRawTile(data, format, w, h)
	case CompressionJPEG:
		return decodeJPEG(data, format)
	case CompressionPNG:
		return decodePNG(data, format)
	case CompressionJPEG2000, CompressionJPEGLS:
		codec, ok := externalCodecs[compression]
		if !ok {
			return nil, dzerr.New(dzerr.KindNotImplemented, "pixel", "no external codec registered for %s", compression)
		}
		img, err := codec.Decode(data, w, h, format)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindCorruptedFile, "pixel", err, "decoding %s tile", compression)
		}
		if compression == CompressionJPEG2000 && photometric == PhotometricYBRICT {
			ConvertJpegYCbCrToRgb(img, true)
		}
		return img, nil
	default:
		return nil, dzerr.New(dzerr.KindNotImplemented, "pixel", "unsupported compression %s", compression)
	}
}

// EncodeTile encodes an Image into compressed tile bytes. For
// compression=none, raw row-major bytes are written. jpegQuality must be in
// [1,100] for JPEG. JPEG-LS callers must emit uncompressed bytes and
// transcode at writer level (spec.md §4.1).
func EncodeTile(img *Image, compression Compression, jpegQuality int) ([]byte, error) {
	switch compression {
	case CompressionNone, CompressionJPEGLS:
		out := make([]byte, len(img.Pix))
		copy(out, img.Pix)
		return out, nil
	case CompressionJPEG:
		if jpegQuality < 1 || jpegQuality > 100 {
			return nil, dzerr.New(dzerr.KindParameterOutOfRange, "pixel", "jpeg quality %d out of [1,100]", jpegQuality)
		}
		return encodeJPEG(img, jpegQuality)
	case CompressionPNG:
		return encodePNG(img)
	case CompressionJPEG2000:
		codec, ok := externalCodecs[compression]
		if !ok {
			return nil, dzerr.New(dzerr.KindNotImplemented, "pixel", "no external codec registered for %s", compression)
		}
		return codec.Encode(img, jpegQuality)
	default:
		return nil, dzerr.New(dzerr.KindNotImplemented, "pixel", "unsupported compression %s", compression)
	}
}

// ChangeTileCompression transcodes bytes from one compression to another.
// Equal-codec paths short-circuit; otherwise it decodes then encodes
// (spec.md §4.1).
func ChangeTileCompression(data []byte, from, to Compression, format Format, w, h int, photometric Photometric, jpegQuality int) ([]byte, error) {
	if from == to {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	img, err := DecodeTile(data, from, format, w, h, photometric)
	if err != nil {
		return nil, err
	}
	return EncodeTile(img, to, jpegQuality)
}

func decodeJPEG(data []byte, format Format) (*Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindCorruptedFile, "pixel", err, "decoding jpeg tile")
	}
	return fromGoImage(img, format)
}

func encodeJPEG(img *Image, quality int) ([]byte, error) {
	goImg := toGoImage(img)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, goImg, &jpeg.Options{Quality: quality}); err != nil {
		return nil, dzerr.Wrap(dzerr.KindInternal, "pixel", err, "encoding jpeg tile")
	}
	return buf.Bytes(), nil
}

func decodePNG(data []byte, format Format) (*Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, dzerr.Wrap(dzerr.KindCorruptedFile, "pixel", err, "decoding png tile")
	}
	return fromGoImage(img, format)
}

func encodePNG(img *Image) ([]byte, error) {
	return encodePNGFast(img)
}

// toGoImage converts our Image into a stdlib image.Image for use with the
// standard codecs.
func toGoImage(img *Image) image.Image {
	switch img.Format {
	case FormatGray8:
		g := &image.Gray{Pix: img.Pix, Stride: img.Pitch, Rect: image.Rect(0, 0, img.Width, img.Height)}
		return g
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
		for y := 0; y < img.Height; y++ {
			srcOff := y * img.Pitch
			dstOff := y * rgba.Stride
			for x := 0; x < img.Width; x++ {
				si := srcOff + x*3
				di := dstOff + x*4
				rgba.Pix[di] = img.Pix[si]
				rgba.Pix[di+1] = img.Pix[si+1]
				rgba.Pix[di+2] = img.Pix[si+2]
				rgba.Pix[di+3] = 255
			}
		}
		return rgba
	}
}

// fromGoImage converts a decoded stdlib image.Image back into our Image,
// matching the requested target format.
func fromGoImage(src image.Image, format Format) (*Image, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out, err := Allocate(format, w, h)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatGray8:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.GrayModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
				out.Pix[y*out.Pitch+x] = c.Y
			}
		}
	case FormatRGB24:
		for y := 0; y < h; y++ {
			off := y * out.Pitch
			for x := 0; x < w; x++ {
				r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				idx := off + x*3
				out.Pix[idx] = uint8(r >> 8)
				out.Pix[idx+1] = uint8(g >> 8)
				out.Pix[idx+2] = uint8(b >> 8)
			}
		}
	}
	return out, nil
}

// ConvertJpegYCbCrToRgb applies the standard JPEG Y'CbCr→RGB matrix,
// computed in floating point and rounded, to an RGB24 image whose channels
// actually carry Y/Cb/Cr, clamping to [0,255] (spec.md §4.1). If inplace is false, a new Image is returned.
func ConvertJpegYCbCrToRgb(img *Image, inplace bool) *Image {
	dst := img
	if !inplace {
		dst = &Image{Format: img.Format, Width: img.Width, Height: img.Height, Pitch: img.Pitch, Pix: make([]byte, len(img.Pix))}
		copy(dst.Pix, img.Pix)
	}
	for row := 0; row < img.Height; row++ {
		off := row * img.Pitch
		for x := 0; x < img.Width; x++ {
			idx := off + x*3
			yy := float64(img.Pix[idx])
			cb := float64(img.Pix[idx+1]) - 128
			cr := float64(img.Pix[idx+2]) - 128
			r := yy + 1.402*cr
			g := yy - 0.344136*cb - 0.714136*cr
			b := yy + 1.772*cb
			dst.Pix[idx] = clamp8(r)
			dst.Pix[idx+1] = clamp8(g)
			dst.Pix[idx+2] = clamp8(b)
		}
	}
	return dst
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
