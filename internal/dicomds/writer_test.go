package dicomds

import (
	"bytes"
	"testing"

	"github.com/pspoerri/dicomizer/internal/dicomtag"
	"github.com/pspoerri/dicomizer/internal/dicomvr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteIncludesPreambleAndMagic(t *testing.T) {
	ds, err := New(WithFileMeta("1.2.840.10008.5.1.4.1.1.77.1.6", "1.2.3.4", "1.2.840.10008.1.2.1"))
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := Write(&buf, ds)
	require.NoError(t, err)
	assert.Greater(t, n, int64(132))

	data := buf.Bytes()
	assert.Equal(t, 128, len(data[:128]))
	assert.Equal(t, "DICM", string(data[128:132]))
}

func TestWriteElementsSortedByTag(t *testing.T) {
	ds, err := New(
		WithElement(dicomtag.Rows, dicomvr.US, 256),
		WithElement(dicomtag.PatientName, dicomvr.PN, "Doe^Jane"),
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = Write(&buf, ds)
	require.NoError(t, err)

	data := buf.Bytes()[132:]
	// PatientName (0010,0010) sorts before Rows (0028,0010).
	firstGroup := uint16(data[1])<<8 | uint16(data[0])
	assert.Equal(t, uint16(0x0010), firstGroup)
}

func TestWriteNativePixelData(t *testing.T) {
	frames := [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}
	ds, err := New(WithNativePixelData(frames))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = Write(&buf, ds)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), string([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
}

func TestWriteSequence(t *testing.T) {
	item, err := New(WithElement(dicomtag.InstanceNumber, dicomvr.IS, 1))
	require.NoError(t, err)
	ds, err := New(WithSequence(dicomtag.SharedFunctionalGroupsSequence, item))
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := Write(&buf, ds)
	require.NoError(t, err)
	assert.Greater(t, n, int64(132))
}
