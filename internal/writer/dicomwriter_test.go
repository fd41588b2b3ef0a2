package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/dicomizer/internal/pixel"
)

type fakeSink struct {
	instances [][]byte
}

func (s *fakeSink) WriteInstance(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.instances = append(s.instances, cp)
	return nil
}

func newTestDICOMWriter(sink Sink, maxSize int64) *DICOMWriter {
	return NewDICOMWriter(DICOMWriterConfig{
		TileWidth: 2, TileHeight: 2,
		PixelFormat: pixel.FormatRGB24,
		Photometric: pixel.PhotometricRGB,
		Compression: pixel.CompressionNone,
		JPEGQuality: 90,
		MaxDICOMFileSize: maxSize,
		StudyInstanceUID:  "1.2.3",
		SeriesInstanceUID: "1.2.4",
		FrameOfReferenceUID: "1.2.5",
		OpticalPathIdentifier: "1",
		ImagedVolumeWidthMM:  10,
		ImagedVolumeHeightMM: 10,
		Sink: sink,
	})
}

func TestDICOMWriterSingleInstancePerLevel(t *testing.T) {
	sink := &fakeSink{}
	w := newTestDICOMWriter(sink, 0)

	require.NoError(t, w.AddLevel(4, 4))
	require.NoError(t, w.WriteRawTile(make([]byte, 2*2*3), pixel.CompressionNone, 0, 0, 0))
	require.NoError(t, w.WriteRawTile(make([]byte, 2*2*3), pixel.CompressionNone, 0, 1, 0))
	require.NoError(t, w.WriteRawTile(make([]byte, 2*2*3), pixel.CompressionNone, 0, 0, 1))
	require.NoError(t, w.WriteRawTile(make([]byte, 2*2*3), pixel.CompressionNone, 0, 1, 1))
	require.NoError(t, w.Flush())

	assert.Len(t, sink.instances, 1)
}

func TestDICOMWriterSplitsOnMaxFileSize(t *testing.T) {
	sink := &fakeSink{}
	tileBytes := 2 * 2 * 3
	w := newTestDICOMWriter(sink, int64(tileBytes-1)) // forces a flush after every frame

	require.NoError(t, w.AddLevel(4, 4))
	require.NoError(t, w.WriteRawTile(make([]byte, tileBytes), pixel.CompressionNone, 0, 0, 0))
	require.NoError(t, w.WriteRawTile(make([]byte, tileBytes), pixel.CompressionNone, 0, 1, 0))
	require.NoError(t, w.Flush())

	assert.GreaterOrEqual(t, len(sink.instances), 2)
}

func TestDICOMWriterRejectsLevelAfterStart(t *testing.T) {
	sink := &fakeSink{}
	w := newTestDICOMWriter(sink, 0)
	require.NoError(t, w.AddLevel(4, 4))
	require.NoError(t, w.WriteRawTile(make([]byte, 2*2*3), pixel.CompressionNone, 0, 0, 0))
	err := w.AddLevel(2, 2)
	assert.Error(t, err)
}

func TestDICOMWriterJPEGLSFallsBackToNotImplemented(t *testing.T) {
	sink := &fakeSink{}
	w := NewDICOMWriter(DICOMWriterConfig{
		TileWidth: 2, TileHeight: 2,
		PixelFormat: pixel.FormatRGB24,
		Compression: pixel.CompressionJPEGLS,
		Sink:        sink,
	})
	require.NoError(t, w.AddLevel(4, 4))
	require.NoError(t, w.WriteRawTile(make([]byte, 2*2*3), pixel.CompressionNone, 0, 0, 0))
	err := w.Flush()
	assert.Error(t, err)
}

func TestDICOMWriterConcatenationSetsIdentifiers(t *testing.T) {
	sink := &fakeSink{}
	w := newTestDICOMWriter(sink, int64(2*2*3-1)) // force a split after each frame
	w.cfg.ConcatenationEnabled = true

	require.NoError(t, w.AddLevel(4, 4))
	require.NoError(t, w.WriteRawTile(make([]byte, 2*2*3), pixel.CompressionNone, 0, 0, 0))
	require.NoError(t, w.WriteRawTile(make([]byte, 2*2*3), pixel.CompressionNone, 0, 1, 0))
	require.NoError(t, w.Flush())

	require.GreaterOrEqual(t, len(sink.instances), 2)
}
