package dicomds

import (
	"bytes"
	"testing"

	"github.com/pspoerri/dicomizer/internal/dicomtag"
	"github.com/pspoerri/dicomizer/internal/dicomvr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRoundTripsSimpleElements(t *testing.T) {
	ds, err := New(
		WithFileMeta("1.2.840.10008.5.1.4.1.1.77.1.6", "1.2.3.4", "1.2.840.10008.1.2.1"),
		WithElement(dicomtag.Rows, dicomvr.US, uint16(256)),
		WithElement(dicomtag.PatientName, dicomvr.PN, "Doe^Jane"),
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = Write(&buf, ds)
	require.NoError(t, err)

	got, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	elem, ok := got.FindElement(dicomtag.Rows)
	require.True(t, ok)
	rows, ok := elem.GetInt()
	require.True(t, ok)
	assert.Equal(t, 256, rows)

	elem, ok = got.FindElement(dicomtag.PatientName)
	require.True(t, ok)
	name, ok := elem.GetString()
	require.True(t, ok)
	assert.Equal(t, "Doe^Jane", name)

	elem, ok = got.FindElement(dicomtag.TransferSyntaxUID)
	require.True(t, ok)
	ts, _ := elem.GetString()
	assert.Equal(t, "1.2.840.10008.1.2.1", ts)
}

func TestReadRoundTripsSequence(t *testing.T) {
	item1, err := New(WithElement(dicomtag.ColumnPositionInTotalImgMatrix, dicomvr.SL, 1))
	require.NoError(t, err)
	item2, err := New(WithElement(dicomtag.ColumnPositionInTotalImgMatrix, dicomvr.SL, 2))
	require.NoError(t, err)
	ds, err := New(
		WithFileMeta("1.2.840.10008.5.1.4.1.1.77.1.6", "1.2.3.4", "1.2.840.10008.1.2.1"),
		WithSequence(dicomtag.PerFrameFunctionalGroupsSeq, item1, item2),
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = Write(&buf, ds)
	require.NoError(t, err)

	got, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	elem, ok := got.FindElement(dicomtag.PerFrameFunctionalGroupsSeq)
	require.True(t, ok)
	items, ok := elem.GetSequence()
	require.True(t, ok)
	require.Len(t, items, 2)
}

func TestReadRoundTripsNativePixelData(t *testing.T) {
	frames := [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}
	ds, err := New(
		WithFileMeta("1.2.840.10008.5.1.4.1.1.77.1.6", "1.2.3.4", "1.2.840.10008.1.2.1"),
		WithNativePixelData(frames),
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = Write(&buf, ds)
	require.NoError(t, err)

	got, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	elem, ok := got.FindElement(dicomtag.PixelData)
	require.True(t, ok)
	data, ok := elem.Value.([]byte)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, data)
}
