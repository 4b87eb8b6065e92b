// Package cache implements the server core's two-tier cache: FileCache
// (path -> bytes) and ResponseCache (URI -> CachedResponse), plus
// CompressedResponse's lazy br/gzip negotiation. The bounded-map/LRU
// eviction shape is grounded on
// internal/infrastructure/cache/local_cache.go's intrusive doubly-linked
// list; TTL expiry is dropped (entries have no time-based expiry here) and
// a per-value size ceiling plus a golang.org/x/sync/singleflight cold-read
// guard are added.
package cache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// FileEntry is an immutable byte buffer shared by reference across
// concurrent readers. It must never be mutated after construction.
type FileEntry struct {
	Bytes []byte
}

type fileCacheItem struct {
	entry *FileEntry
	node  *lruNode[string]
}

// FileCache is a bounded map from filesystem path to an immutable
// FileEntry: a count ceiling, a per-value size ceiling, and LRU eviction
// (strengthening the original's arbitrary-entry eviction).
type FileCache struct {
	mu        sync.RWMutex
	items     map[string]*fileCacheItem
	lru       *lruList[string]
	maxItems  int
	maxSize   int64
	curSize   int64
	sf        singleflight.Group
	evictions func()
}

// NewFileCache constructs a FileCache with the given count and per-value
// size ceilings. A non-positive maxItems defaults to 1024; a non-positive
// maxSize defaults to 4MiB, matching the original's Cache::new() defaults.
func NewFileCache(maxItems int, maxSize int64) *FileCache {
	if maxItems <= 0 {
		maxItems = 1024
	}
	if maxSize <= 0 {
		maxSize = 4 << 20
	}
	return &FileCache{
		items:    make(map[string]*fileCacheItem),
		lru:      newLRUList[string](),
		maxItems: maxItems,
		maxSize:  maxSize,
	}
}

// OnEviction registers a callback invoked each time an entry is evicted,
// so callers can wire pkg/metrics without this package importing it. The
// callback runs while the cache's lock is held, so it must not call back
// into the cache.
func (c *FileCache) OnEviction(fn func()) { c.evictions = fn }

// Get returns the cached entry for path, if present.
func (c *FileCache) Get(path string) (*FileEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[path]
	if !ok {
		return nil, false
	}
	c.lru.moveToFront(item.node)
	return item.entry, true
}

// Insert stores bytes under path. If len(bytes) exceeds the per-value size
// ceiling, the bytes are returned unchanged and the cache is left
// untouched, ported from original_source's Cache::cache, which rejects by
// returning the value to the caller rather than silently dropping it.
func (c *FileCache) Insert(path string, bytes []byte) ([]byte, bool) {
	size := int64(len(bytes))
	if size > c.maxSize {
		return bytes, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[path]; ok {
		c.curSize -= int64(len(existing.entry.Bytes))
		existing.entry = &FileEntry{Bytes: bytes}
		c.curSize += size
		c.lru.moveToFront(existing.node)
		return nil, true
	}

	node := &lruNode[string]{key: path}
	c.items[path] = &fileCacheItem{entry: &FileEntry{Bytes: bytes}, node: node}
	c.lru.addToFront(node)
	c.curSize += size

	c.evictLocked()
	return nil, true
}

// Remove deletes path from the cache, if present.
func (c *FileCache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(path)
}

// Clear empties the cache.
func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*fileCacheItem)
	c.lru = newLRUList[string]()
	c.curSize = 0
}

// Len reports the current entry count.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *FileCache) removeLocked(path string) {
	item, ok := c.items[path]
	if !ok {
		return
	}
	delete(c.items, path)
	c.lru.remove(item.node)
	c.curSize -= int64(len(item.entry.Bytes))
}

func (c *FileCache) evictLocked() {
	for len(c.items) > c.maxItems {
		victim := c.lru.lru()
		if victim == nil {
			return
		}
		c.removeLocked(victim.key)
		if c.evictions != nil {
			c.evictions()
		}
	}
}

// GetOrRead returns the cached entry for path, or — on a miss — invokes
// read exactly once across all concurrent callers for the same path
// (golang.org/x/sync/singleflight), caches the result via Insert, and
// returns it: two concurrent cold reads of the same path cause exactly one
// filesystem read.
func (c *FileCache) GetOrRead(path string, read func() ([]byte, error)) (*FileEntry, error) {
	if entry, ok := c.Get(path); ok {
		return entry, nil
	}
	v, err, _ := c.sf.Do(path, func() (interface{}, error) {
		if entry, ok := c.Get(path); ok {
			return entry, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		if _, cached := c.Insert(path, b); !cached {
			return &FileEntry{Bytes: b}, nil
		}
		entry, _ := c.Get(path)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FileEntry), nil
}
