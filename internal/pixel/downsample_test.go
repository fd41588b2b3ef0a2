package pixel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownsample2xAveragesUniformBlock(t *testing.T) {
	src, _ := Allocate(FormatGray8, 4, 4)
	Set(src, 100, 100, 100)

	out := Downsample2x(src)
	assert.Equal(t, 2, out.Width)
	assert.Equal(t, 2, out.Height)
	for _, v := range out.Pix {
		assert.Equal(t, uint8(100), v)
	}
}

func TestDownsample2xOddDimensionsReplicateEdge(t *testing.T) {
	src, _ := Allocate(FormatGray8, 3, 3)
	Set(src, 50, 50, 50)

	out := Downsample2x(src)
	assert.Equal(t, 2, out.Width)
	assert.Equal(t, 2, out.Height)
}

func TestSmooth5x5PreservesUniformImage(t *testing.T) {
	src, _ := Allocate(FormatGray8, 10, 10)
	Set(src, 77, 77, 77)

	out := Smooth5x5(src)
	for _, v := range out.Pix {
		assert.Equal(t, uint8(77), v)
	}
}

func TestMosaic2x2AssemblesQuadrants(t *testing.T) {
	tl, _ := Allocate(FormatGray8, 4, 4)
	Set(tl, 0, 0, 0)
	tr, _ := Allocate(FormatGray8, 4, 4)
	Set(tr, 255, 255, 255)
	bl, _ := Allocate(FormatGray8, 4, 4)
	Set(bl, 255, 255, 255)
	br, _ := Allocate(FormatGray8, 4, 4)
	Set(br, 0, 0, 0)

	out, err := Mosaic2x2(tl, tr, bl, br, 4, 4, FormatGray8, false)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 4, out.Height)
}

func TestMosaic2x2HandlesMissingQuadrant(t *testing.T) {
	tl, _ := Allocate(FormatGray8, 2, 2)
	Set(tl, 200, 200, 200)

	out, err := Mosaic2x2(tl, nil, nil, nil, 2, 2, FormatGray8, true)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, out.Width)
	assert.Equal(t, 2, out.Height)
}
