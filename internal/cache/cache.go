// Package cache implements the two process-wide LRU caches spec.md §4.7
// describes: the DICOM pyramid cache (keyed by series identifier) and the
// decoded-tile cache (keyed by instance-id/frame-number), both safe under
// concurrent access and sharing the same release-mutex-across-miss-fill
// protocol. Grounded on the teacher's internal/cog/tilecache.go (mutex +
// map + eviction order), generalized here to true LRU (move-to-front on
// hit) and to concurrent-miss deduplication, which the teacher's caches
// never need (its jobs are disjoint by construction).
package cache

import (
	"container/list"
	"sync"
)

// cacheVersion is the cache entry version reported by Version. Entries held
// in an LRU carry no version, and nothing in this package compares versions
// or rebuilds an entry on a mismatch.
const cacheVersion = 2

// Version reports the current cache entry version.
func Version() int { return cacheVersion }

type entry struct {
	key      string
	value    interface{}
	cost     int
	elem     *list.Element
	building chan struct{} // closed once a concurrent fill completes
}

// LRU is a thread-safe least-recently-used cache bounded by entry count
// and, optionally, total memory cost. Misses release the lock while the
// caller materializes the value; if a second caller raced to fill the same
// key, the loser's result is discarded and the winner's entry is returned
// (spec.md §4.7).
type LRU struct {
	mu         sync.Mutex
	order      *list.List // front = most recently used
	entries    map[string]*entry
	maxEntries int
	maxCost    int
	totalCost  int
}

// New creates an LRU bounded by maxEntries (0 = unbounded count) and
// maxCost (0 = unbounded memory).
func New(maxEntries, maxCost int) *LRU {
	return &LRU{
		order:      list.New(),
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		maxCost:    maxCost,
	}
}

// Get returns the cached value for key if present, moving it to the front.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// GetOrLoad returns the cached value for key, calling load to materialize it
// on a miss. The lock is released across load so concurrent misses on
// different keys don't serialize on I/O; if a concurrent caller is already
// loading the same key, this call waits for it and reuses its result
// instead of loading twice (spec.md §4.7).
func (c *LRU) GetOrLoad(key string, cost func(interface{}) int, load func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.building != nil {
			building := e.building
			c.mu.Unlock()
			<-building
			if v, ok := c.Get(key); ok {
				return v, nil
			}
			return c.GetOrLoad(key, cost, load)
		}
		c.order.MoveToFront(e.elem)
		c.mu.Unlock()
		return e.value, nil
	}

	placeholder := &entry{key: key, building: make(chan struct{})}
	c.entries[key] = placeholder
	c.mu.Unlock()

	value, err := load()

	c.mu.Lock()
	defer c.mu.Unlock()
	close(placeholder.building)
	if err != nil {
		delete(c.entries, key)
		return nil, err
	}

	// A concurrent GetOrLoad for this key may have already installed a real
	// entry while we were loading (e.g. via a direct Put); keep the
	// existing one rather than duplicate it.
	if existing, ok := c.entries[key]; ok && existing.elem != nil {
		return existing.value, nil
	}

	placeholder.value = value
	if cost != nil {
		placeholder.cost = cost(value)
	}
	placeholder.elem = c.order.PushFront(placeholder)
	c.totalCost += placeholder.cost
	c.evictLocked()
	return value, nil
}

// Put installs key/value directly, evicting as needed.
func (c *LRU) Put(key string, value interface{}, cost int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok && existing.elem != nil {
		c.order.Remove(existing.elem)
		c.totalCost -= existing.cost
	}
	e := &entry{key: key, value: value, cost: cost}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e
	c.totalCost += cost
	c.evictLocked()
}

// Invalidate drops key if present.
func (c *LRU) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.elem != nil {
		c.order.Remove(e.elem)
		c.totalCost -= e.cost
	}
	delete(c.entries, key)
}

// Len reports the number of entries currently cached.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRU) evictLocked() {
	for {
		overCount := c.maxEntries > 0 && len(c.entries) > c.maxEntries
		overCost := c.maxCost > 0 && c.totalCost > c.maxCost
		if !overCount && !overCost {
			return
		}
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		c.order.Remove(back)
		delete(c.entries, e.key)
		c.totalCost -= e.cost
	}
}
