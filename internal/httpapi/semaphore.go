package httpapi

import "runtime"

// transcodeSemaphore is a process-wide counting semaphore limiting
// concurrent decode+encode operations to the number of hardware threads,
// shared by tile transcoding and IIIF cropping (spec.md §5). Requests above
// the limit block until a slot frees up.
type transcodeSemaphore chan struct{}

// processTranscodeSemaphore is the process-wide instance, sized to
// runtime.NumCPU(), that every handler asking for the default shares.
var processTranscodeSemaphore = make(transcodeSemaphore, max(runtime.NumCPU(), 1))

// newTranscodeSemaphore returns the process-wide semaphore when capacity <= 0,
// or a separate semaphore of the given capacity otherwise.
func newTranscodeSemaphore(capacity int) transcodeSemaphore {
	if capacity <= 0 {
		return processTranscodeSemaphore
	}
	return make(transcodeSemaphore, capacity)
}

func (s transcodeSemaphore) acquire() { s <- struct{}{} }
func (s transcodeSemaphore) release() { <-s }
