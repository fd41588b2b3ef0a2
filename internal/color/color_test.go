package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRGBLabRoundTrip(t *testing.T) {
	cases := []RGB{
		{0, 0, 0}, {255, 255, 255}, {128, 64, 200}, {10, 200, 30}, {255, 0, 0},
	}
	for _, in := range cases {
		lab := in.ToLab()
		out := lab.ToRGB()
		assert.InDelta(t, int(in.R), int(out.R), 1)
		assert.InDelta(t, int(in.G), int(out.G), 1)
		assert.InDelta(t, int(in.B), int(out.B), 1)
	}
}

func TestEncodeDICOMLabSpecExamples(t *testing.T) {
	l, a, b := EncodeDICOMLab(Lab{L: 100, A: -128, B: -128})
	assert.Equal(t, uint16(0xFFFF), l)
	assert.Equal(t, uint16(0), a)
	assert.Equal(t, uint16(0), b)

	l, a, b = EncodeDICOMLab(Lab{L: 0, A: 0, B: 127})
	assert.Equal(t, uint16(0), l)
	assert.Equal(t, uint16(0x8080), a)
	assert.Equal(t, uint16(0xFFFF), b)
}

func TestParseDICOMLabString(t *testing.T) {
	l, a, b, err := ParseDICOMLabString(`65535\0\0`)
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), l)
	assert.Equal(t, uint16(0), a)
	assert.Equal(t, uint16(0), b)

	_, _, _, err = ParseDICOMLabString(`1\2`)
	assert.Error(t, err)
}

func TestFormatDICOMLabStringRoundTrip(t *testing.T) {
	s := FormatDICOMLabString(100, 200, 300)
	l, a, b, err := ParseDICOMLabString(s)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), l)
	assert.Equal(t, uint16(200), a)
	assert.Equal(t, uint16(300), b)
}
