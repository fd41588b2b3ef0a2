package cache

import (
	"strconv"
	"sync"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// The two process-wide caches (spec.md §4.7, §9 "Global mutable state").
// Each is initialized once by the top-level pipeline/HTTP server at start
// and torn down at end; access before Init or after Finalize fails rather
// than silently creating a fresh (and therefore useless) cache.
var (
	globalMu        sync.Mutex
	pyramidCache    *LRU
	decodedTileCache *LRU
)

// InitPyramidCache initializes the process-wide DICOM pyramid cache, keyed
// by series identifier, bounded by maxEntries.
func InitPyramidCache(maxEntries int) {
	globalMu.Lock()
	defer globalMu.Unlock()
	pyramidCache = New(maxEntries, 0)
}

// FinalizePyramidCache tears down the process-wide pyramid cache.
func FinalizePyramidCache() {
	globalMu.Lock()
	defer globalMu.Unlock()
	pyramidCache = nil
}

// PyramidCache returns the process-wide pyramid cache, or an error if it was
// never initialized.
func PyramidCache() (*LRU, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if pyramidCache == nil {
		return nil, dzerr.New(dzerr.KindInternal, "cache", "pyramid cache not initialized")
	}
	return pyramidCache, nil
}

// InitDecodedTileCache initializes the process-wide decoded-tile cache,
// keyed by (instance-id, frame-number), bounded by both maxEntries and
// maxCostBytes (0 = unbounded for either).
func InitDecodedTileCache(maxEntries, maxCostBytes int) {
	globalMu.Lock()
	defer globalMu.Unlock()
	decodedTileCache = New(maxEntries, maxCostBytes)
}

// FinalizeDecodedTileCache tears down the process-wide decoded-tile cache.
func FinalizeDecodedTileCache() {
	globalMu.Lock()
	defer globalMu.Unlock()
	decodedTileCache = nil
}

// DecodedTileCache returns the process-wide decoded-tile cache, or an error
// if it was never initialized.
func DecodedTileCache() (*LRU, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if decodedTileCache == nil {
		return nil, dzerr.New(dzerr.KindInternal, "cache", "decoded-tile cache not initialized")
	}
	return decodedTileCache, nil
}

// TileKey formats the (instance-id, frame-number) composite key the
// decoded-tile cache uses.
func TileKey(instanceID string, frameNumber int) string {
	return instanceID + "#" + strconv.Itoa(frameNumber)
}
