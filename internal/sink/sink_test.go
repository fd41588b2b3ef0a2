package sink

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskSinkWritesNumberedFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskSink(dir, "slide-%03d.dcm")

	require.NoError(t, s.WriteInstance([]byte("first")))
	require.NoError(t, s.WriteInstance([]byte("second")))

	first, err := os.ReadFile(filepath.Join(dir, "slide-000.dcm"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(first))

	second, err := os.ReadFile(filepath.Join(dir, "slide-001.dcm"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(second))
}

func TestDiskSinkDefaultPattern(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskSink(dir, "")
	require.NoError(t, s.WriteInstance([]byte("data")))
	_, err := os.ReadFile(filepath.Join(dir, "instance-000000.dcm"))
	require.NoError(t, err)
}

func TestRESTSinkUploadsAndLogsParentSeriesOnFirstInstance(t *testing.T) {
	var uploadCount int
	var fetchedInstanceIDs []string

	mux := http.NewServeMux()
	mux.HandleFunc("/instances", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotEmpty(t, body)
		uploadCount++
		fmt.Fprintf(w, `{"ID":"instance-%d","ParentSeries":"series-1"}`, uploadCount)
	})
	mux.HandleFunc("/instances/instance-1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		fetchedInstanceIDs = append(fetchedInstanceIDs, "instance-1")
		fmt.Fprint(w, `{"ID":"instance-1","ParentSeries":"series-1"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := NewRESTSink(RESTSinkConfig{
		BaseURL: srv.URL,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	require.NoError(t, s.WriteInstance([]byte("dicom-bytes-1")))
	require.NoError(t, s.WriteInstance([]byte("dicom-bytes-2")))

	assert.Equal(t, 2, uploadCount)
	// Only the first upload should trigger the parent-series lookup.
	assert.Equal(t, []string{"instance-1"}, fetchedInstanceIDs)
}

func TestRESTSinkUsesBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool

	mux := http.NewServeMux()
	mux.HandleFunc("/instances", func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		fmt.Fprint(w, `{"ID":"i1","ParentSeries":"s1"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := NewRESTSink(RESTSinkConfig{BaseURL: srv.URL, Username: "alice", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, s.WriteInstance([]byte("x")))

	assert.True(t, gotOK)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "secret", gotPass)
}

func TestRESTSinkFailsOnServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/instances", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := NewRESTSink(RESTSinkConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	err = s.WriteInstance([]byte("x"))
	assert.Error(t, err)
}

func TestRESTSinkRejectsUnreadableCACertificates(t *testing.T) {
	_, err := NewRESTSink(RESTSinkConfig{BaseURL: "https://example.invalid", CACertificates: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}
