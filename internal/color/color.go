// Package color implements the RGB/sRGB/XYZ/CIE-L*a*b* conversions and the
// DICOM "recommended absent pixel CIE L*a*b*" 16-bit encoding dicomizer uses
// for the background-color tag (spec.md §4.8). No pack repo implements
// colorimetry; this is built directly from the spec's formulas.
package color

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// D65 reference white, CIE 1931 2-degree observer (spec.md §4.8).
const (
	whiteX = 95.0489
	whiteY = 100.0
	whiteZ = 108.8840
)

const delta = 6.0 / 29.0

// RGB is an 8-bit sRGB-encoded color triple.
type RGB struct{ R, G, B uint8 }

// XYZ is a CIE 1931 XYZ tristimulus triple, Y normalized to 100.
type XYZ struct{ X, Y, Z float64 }

// Lab is a CIE L*a*b* triple: L in [0,100], a/b roughly in [-128,127].
type Lab struct{ L, A, B float64 }

// toLinear un-gammas one sRGB channel (already divided to [0,1]) to linear
// light.
func toLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

func toGamma(c float64) float64 {
	if c <= 0.0031308 {
		return c * 12.92
	}
	return 1.055*math.Pow(c, 1/2.4) - 0.055
}

// ToXYZ converts an 8-bit sRGB triple to CIE XYZ (spec.md §4.8: linearize,
// 3x3 matrix).
func (c RGB) ToXYZ() XYZ {
	r := toLinear(float64(c.R) / 255)
	g := toLinear(float64(c.G) / 255)
	b := toLinear(float64(c.B) / 255)

	return XYZ{
		X: (0.4124564*r + 0.3575761*g + 0.1804375*b) * 100,
		Y: (0.2126729*r + 0.7151522*g + 0.0721750*b) * 100,
		Z: (0.0193339*r + 0.1191920*g + 0.9503041*b) * 100,
	}
}

// ToRGB converts CIE XYZ back to 8-bit sRGB (inverse matrix, gamma),
// clamping to [0,255].
func (xyz XYZ) ToRGB() RGB {
	x, y, z := xyz.X/100, xyz.Y/100, xyz.Z/100

	r := 3.2404542*x - 1.5371385*y - 0.4985314*z
	g := -0.9692660*x + 1.8760108*y + 0.0415560*z
	b := 0.0556434*x - 0.2040259*y + 1.0572252*z

	return RGB{R: clamp8(toGamma(r) * 255), G: clamp8(toGamma(g) * 255), B: clamp8(toGamma(b) * 255)}
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

func labF(t float64) float64 {
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

func labFInv(t float64) float64 {
	if t > delta {
		return t * t * t
	}
	return 3 * delta * delta * (t - 4.0/29.0)
}

// ToLab converts CIE XYZ to CIE L*a*b* under the D65 reference white
// (spec.md §4.8).
func (xyz XYZ) ToLab() Lab {
	fx := labF(xyz.X / whiteX)
	fy := labF(xyz.Y / whiteY)
	fz := labF(xyz.Z / whiteZ)
	return Lab{
		L: 116*fy - 16,
		A: 500 * (fx - fy),
		B: 200 * (fy - fz),
	}
}

// ToXYZ converts CIE L*a*b* back to CIE XYZ under the D65 reference white.
func (lab Lab) ToXYZ() XYZ {
	fy := (lab.L + 16) / 116
	fx := fy + lab.A/500
	fz := fy - lab.B/200
	return XYZ{
		X: labFInv(fx) * whiteX,
		Y: labFInv(fy) * whiteY,
		Z: labFInv(fz) * whiteZ,
	}
}

// ToLab is a convenience conversion: RGB -> XYZ -> Lab.
func (c RGB) ToLab() Lab { return c.ToXYZ().ToLab() }

// ToRGB is a convenience conversion: Lab -> XYZ -> RGB.
func (lab Lab) ToRGB() RGB { return lab.ToXYZ().ToRGB() }

// EncodeDICOMLab encodes a Lab triple into the three 16-bit values DICOM's
// "recommended absent pixel CIE L*a*b*" tag carries (spec.md §4.8):
// L in [0,100] maps linearly onto [0, 0xFFFF]; a, b in [-128,127] map
// linearly onto [0, 0xFFFF] so that 0 <-> -128, 0x8080 <-> 0, 0xFFFF <-> 127.
func EncodeDICOMLab(lab Lab) (l, a, b uint16) {
	l = uint16(clampF(lab.L/100*0xFFFF, 0, 0xFFFF) + 0.5)
	a = uint16(clampF((lab.A+128)/255*0xFFFF, 0, 0xFFFF) + 0.5)
	b = uint16(clampF((lab.B+128)/255*0xFFFF, 0, 0xFFFF) + 0.5)
	return
}

// DecodeDICOMLab is the inverse of EncodeDICOMLab.
func DecodeDICOMLab(l, a, b uint16) Lab {
	return Lab{
		L: float64(l) / 0xFFFF * 100,
		A: float64(a)/0xFFFF*255 - 128,
		B: float64(b)/0xFFFF*255 - 128,
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FormatDICOMLabString renders the three DICOM-encoded 16-bit Lab values as
// the backslash-separated decimal string the tag's DS/US-like representation
// uses.
func FormatDICOMLabString(l, a, b uint16) string {
	return fmt.Sprintf("%d\\%d\\%d", l, a, b)
}

// ParseDICOMLabString parses a "L\a\b" backslash-separated three-value
// string (spec.md §4.8: "the decode function parses a `\`-separated
// three-value string") into raw 16-bit DICOM-encoded Lab values.
func ParseDICOMLabString(s string) (l, a, b uint16, err error) {
	parts := strings.Split(s, `\`)
	if len(parts) != 3 {
		return 0, 0, 0, dzerr.New(dzerr.KindBadFileFormat, "color", "expected 3 backslash-separated values, got %d", len(parts))
	}
	vals := make([]uint16, 3)
	for i, p := range parts {
		n, perr := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if perr != nil {
			return 0, 0, 0, dzerr.Wrap(dzerr.KindBadFileFormat, "color", perr, "parsing Lab component %q", p)
		}
		vals[i] = uint16(n)
	}
	return vals[0], vals[1], vals[2], nil
}
