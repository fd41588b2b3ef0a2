// Package httpapi is the HTTP tile & IIIF surface (spec.md §6): pyramid
// metadata, content-negotiated tile serving, IIIF Image API 3.0 and
// Presentation API 3.0 JSON, plus a Prometheus /metrics endpoint. This is
// the "secondary pathway" described in spec.md §2 — serving tiles out of
// existing pyramids rather than converting them.
package httpapi

import (
	"sync"

	"github.com/pspoerri/dicomizer/internal/pyramid"
)

// Registry maps a series identifier to an already-open pyramid source. The
// conversion pipelines never use this; it exists for the tile-serving path.
type Registry interface {
	Lookup(seriesID string) (pyramid.Source, bool)
}

// MemoryRegistry is a simple in-memory Registry, suitable for a tileserver
// process that opens a fixed set of series at startup.
type MemoryRegistry struct {
	mu      sync.RWMutex
	sources map[string]pyramid.Source
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sources: make(map[string]pyramid.Source)}
}

// Put registers source under seriesID, replacing any previous entry.
func (r *MemoryRegistry) Put(seriesID string, source pyramid.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[seriesID] = source
}

// Lookup implements Registry.
func (r *MemoryRegistry) Lookup(seriesID string) (pyramid.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[seriesID]
	return s, ok
}

// Remove drops seriesID from the registry without closing its source; the
// caller owns the source's lifecycle.
func (r *MemoryRegistry) Remove(seriesID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, seriesID)
}
