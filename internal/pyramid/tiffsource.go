package pyramid

import (
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/tiffio"
)

// TIFFSource adapts a hierarchical tiled TIFF file to Source (spec.md §4.2:
// "each TIFF directory becomes a pyramid level; tile grids must match
// across levels"). tiffio.Reader already enforces matching tile dimensions
// and strictly-decreasing directory sizes on Open/Validate.
type TIFFSource struct {
	r      *tiffio.Reader
	format pixel.Format
}

// OpenTIFFSource opens path as a hierarchical tiled TIFF pyramid.
func OpenTIFFSource(path string) (*TIFFSource, error) {
	r, err := tiffio.Open(path)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		r.Close()
		return nil, err
	}
	ifd, err := r.IFD(0)
	if err != nil {
		r.Close()
		return nil, err
	}
	format := pixel.FormatRGB24
	if ifd.SamplesPerPixel == 1 {
		format = pixel.FormatGray8
	}
	return &TIFFSource{r: r, format: format}, nil
}

func (s *TIFFSource) LevelCount() int { return s.r.LevelCount() }

func (s *TIFFSource) ifd(level int) *tiffio.IFD {
	ifd, err := s.r.IFD(level)
	if err != nil {
		return &tiffio.IFD{}
	}
	return ifd
}

func (s *TIFFSource) LevelWidth(level int) int  { return int(s.ifd(level).Width) }
func (s *TIFFSource) LevelHeight(level int) int { return int(s.ifd(level).Height) }
func (s *TIFFSource) TileWidth(level int) int   { return int(s.ifd(level).TileWidth) }
func (s *TIFFSource) TileHeight(level int) int  { return int(s.ifd(level).TileHeight) }
func (s *TIFFSource) PixelFormat() pixel.Format { return s.format }

func (s *TIFFSource) PhotometricInterpretation() pixel.Photometric {
	switch s.ifd(0).Photometric {
	case tiffio.PhotometricYCbCr:
		return pixel.PhotometricYBRFull422
	case tiffio.PhotometricBlackIsZero:
		return pixel.PhotometricMonochrome2
	default:
		return pixel.PhotometricRGB
	}
}

func (s *TIFFSource) ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error) {
	data, err := s.r.ReadTile(level, x, y)
	if err != nil {
		return nil, 0, false, err
	}
	ifd := s.ifd(level)
	compression := pixel.CompressionJPEG
	if ifd.Compression != tiffio.CompressionJPEG {
		compression = pixel.CompressionNone
	}
	return data, compression, true, nil
}

func (s *TIFFSource) DecodeTile(level, x, y int) (*pixel.Image, bool, error) {
	data, compression, _, err := s.ReadRawTile(level, x, y)
	if err != nil {
		return nil, false, err
	}
	img, err := pixel.DecodeTile(data, compression, s.format, s.TileWidth(level), s.TileHeight(level), s.PhotometricInterpretation())
	if err != nil {
		return nil, false, err
	}
	return img, false, nil
}

func (s *TIFFSource) Close() error { return s.r.Close() }
