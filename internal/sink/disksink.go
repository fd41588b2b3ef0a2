// Package sink implements the output collaborators a Writer hands
// serialized instance bytes to (spec.md §6): a numbered-file disk sink and
// an Orthanc-style DICOM REST sink.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// DiskSink writes each instance to its own file under a directory, numbered
// by a printf-style pattern (spec.md §6 "folder + folder-pattern").
type DiskSink struct {
	folder  string
	pattern string

	mu    sync.Mutex
	count int
}

// NewDiskSink creates a disk sink rooted at folder. pattern is a
// printf-style numeric slot, e.g. "instance-%04d.dcm", applied to the
// zero-based instance count on every WriteInstance call.
func NewDiskSink(folder, pattern string) *DiskSink {
	if pattern == "" {
		pattern = "instance-%06d.dcm"
	}
	return &DiskSink{folder: folder, pattern: pattern}
}

// WriteInstance implements writer.Sink.
func (s *DiskSink) WriteInstance(data []byte) error {
	s.mu.Lock()
	n := s.count
	s.count++
	s.mu.Unlock()

	name := fmt.Sprintf(s.pattern, n)
	path := filepath.Join(s.folder, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return dzerr.Wrap(dzerr.KindUnknownResource, "sink", err, "writing %s", path)
	}
	return nil
}
