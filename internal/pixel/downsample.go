package pixel

// gaussian5 is the separable 5x5 Gaussian kernel used before 2x downsampling
// when a source's pyramid has to be smoothed before decimation (spec.md
// §4.6: mosaic reconstruction with optional smoothing). Weights are the
// classic binomial approximation sigma≈1, normalized to sum 256.
var gaussian5 = [5]int{1, 4, 6, 4, 1}

// Smooth5x5 returns a new Image blurred with the separable 5x5 Gaussian
// kernel, replicating edge pixels at the border (spec.md §4.6).
func Smooth5x5(src *Image) *Image {
	bpp := src.Format.BytesPerPixel()
	tmp, _ := Allocate(src.Format, src.Width, src.Height)
	out, _ := Allocate(src.Format, src.Width, src.Height)

	// Horizontal pass.
	for y := 0; y < src.Height; y++ {
		srcOff := y * src.Pitch
		dstOff := y * tmp.Pitch
		for x := 0; x < src.Width; x++ {
			for c := 0; c < bpp; c++ {
				sum := 0
				for k := -2; k <= 2; k++ {
					sx := clampCoord(x+k, src.Width)
					sum += gaussian5[k+2] * int(src.Pix[srcOff+sx*bpp+c])
				}
				tmp.Pix[dstOff+x*bpp+c] = uint8(sum / 16)
			}
		}
	}

	// Vertical pass.
	for y := 0; y < src.Height; y++ {
		dstOff := y * out.Pitch
		for x := 0; x < src.Width; x++ {
			for c := 0; c < bpp; c++ {
				sum := 0
				for k := -2; k <= 2; k++ {
					sy := clampCoord(y+k, src.Height)
					sum += gaussian5[k+2] * int(tmp.Pix[sy*tmp.Pitch+x*bpp+c])
				}
				out.Pix[dstOff+x*bpp+c] = uint8(sum / 16)
			}
		}
	}
	return out
}

func clampCoord(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v >= limit {
		return limit - 1
	}
	return v
}

// Downsample2x box-filters src by averaging each 2x2 pixel block into one
// output pixel, following the pack's box-filter downsampling approach
// (internal/tile/downsample.go in the teacher repo). The output is
// ceil(w/2) x ceil(h/2); a source with odd dimensions replicates its last
// row/column into the averaging window.
func Downsample2x(src *Image) *Image {
	outW := (src.Width + 1) / 2
	outH := (src.Height + 1) / 2
	out, _ := Allocate(src.Format, outW, outH)
	bpp := src.Format.BytesPerPixel()

	for oy := 0; oy < outH; oy++ {
		y0 := oy * 2
		y1 := y0 + 1
		if y1 >= src.Height {
			y1 = y0
		}
		dstOff := oy * out.Pitch
		row0 := y0 * src.Pitch
		row1 := y1 * src.Pitch
		for ox := 0; ox < outW; ox++ {
			x0 := ox * 2
			x1 := x0 + 1
			if x1 >= src.Width {
				x1 = x0
			}
			for c := 0; c < bpp; c++ {
				sum := int(src.Pix[row0+x0*bpp+c]) + int(src.Pix[row0+x1*bpp+c]) +
					int(src.Pix[row1+x0*bpp+c]) + int(src.Pix[row1+x1*bpp+c])
				out.Pix[dstOff+ox*bpp+c] = uint8(sum / 4)
			}
		}
	}
	return out
}

// Mosaic2x2 assembles a single image one pyramid-level-smaller than its
// four quadrant sources by placing them at (0,0), (w,0), (0,h), (w,h) and
// box-filter downsampling the result by 2x, with optional pre-smoothing
// (spec.md §4.6: pyramid reconstruction). Any of the four quadrants may be
// nil, in which case it is left unset (zero-valued) in the mosaic.
func Mosaic2x2(topLeft, topRight, bottomLeft, bottomRight *Image, tileW, tileH int, format Format, smooth bool) (*Image, error) {
	mosaic, err := Allocate(format, tileW*2, tileH*2)
	if err != nil {
		return nil, err
	}
	if topLeft != nil {
		Embed(mosaic, topLeft, 0, 0)
	}
	if topRight != nil {
		Embed(mosaic, topRight, tileW, 0)
	}
	if bottomLeft != nil {
		Embed(mosaic, bottomLeft, 0, tileH)
	}
	if bottomRight != nil {
		Embed(mosaic, bottomRight, tileW, tileH)
	}
	if smooth {
		mosaic = Smooth5x5(mosaic)
	}
	return Downsample2x(mosaic), nil
}
