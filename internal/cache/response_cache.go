package cache

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Iselk/kvarn/pkg/kerr"
)

// UriKey is either a Path key (response cacheable across query strings) or
// a PathQuery key (response varies by query string).
type UriKey struct {
	Path     string
	Query    string
	HasQuery bool
}

// PathKey builds a UriKey that ignores the query string.
func PathKey(path string) UriKey { return UriKey{Path: path} }

// PathQueryKey builds a UriKey that includes the query string.
func PathQueryKey(path, query string) UriKey {
	return UriKey{Path: path, Query: query, HasQuery: true}
}

// varyVariant is one representation within a Vary-partitioned
// CachedResponse: the request header values it was generated for, in the
// same order as the owning entry's VaryHeaders.
type varyVariant struct {
	values []string
	resp   *CompressedResponse
}

// CachedResponse is either a Single compressed artifact or a
// Vary-partitioned set of artifacts distinguished by a fixed ordered list
// of request header axes.
type CachedResponse struct {
	single      *CompressedResponse
	varyHeaders []string
	variants    []varyVariant
}

// NewSingleCachedResponse wraps a single representation with no Vary
// partitioning.
func NewSingleCachedResponse(cr *CompressedResponse) *CachedResponse {
	return &CachedResponse{single: cr}
}

// IsSingle reports whether this entry holds one unconditional
// representation.
func (c *CachedResponse) IsSingle() bool { return c.single != nil }

// size is an approximation of the entry's footprint used only for the
// cache's size ceiling bookkeeping: the sum of every contained identity
// body's length.
func (c *CachedResponse) size() int64 {
	if c.single != nil {
		return int64(len(c.single.Identity))
	}
	var total int64
	for _, v := range c.variants {
		total += int64(len(v.resp.Identity))
	}
	return total
}

// insertVariant implements the Vary-partitioned insert operation:
//   - unmapped key: returns a fresh entry carrying varyHeaders and one variant.
//   - existing Vary entry whose varyHeaders match: appends the variant.
//   - otherwise (Single entry, or mismatched varyHeaders): rejected.
func (existing *CachedResponse) insertVariant(varyHeaders []string, matched []string, resp *CompressedResponse) (*CachedResponse, bool) {
	if len(matched) != len(varyHeaders) {
		return existing, false
	}
	if existing == nil {
		return &CachedResponse{
			varyHeaders: append([]string(nil), varyHeaders...),
			variants:    []varyVariant{{values: append([]string(nil), matched...), resp: resp}},
		}, true
	}
	if existing.single != nil {
		return existing, false
	}
	if !sameAxes(existing.varyHeaders, varyHeaders) {
		return existing, false
	}
	existing.variants = append(existing.variants, varyVariant{values: append([]string(nil), matched...), resp: resp})
	return existing, true
}

func sameAxes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Resolve walks the Vary axes in order, narrowing the surviving variant
// set by each axis's
// quality-weighted request header, and return the first survivor. A
// Single entry always resolves to itself.
func (c *CachedResponse) Resolve(headerFor func(axis string) string) *CompressedResponse {
	if c.single != nil {
		return c.single
	}
	survivors := make([]int, len(c.variants))
	for i := range survivors {
		survivors[i] = i
	}
	for axisIdx, axis := range c.varyHeaders {
		raw := headerFor(axis)
		if axis == "accept-encoding" && !hasToken(raw, "identity") {
			if raw == "" {
				raw = "identity;q=0.5"
			} else {
				raw = raw + ", identity;q=0.5"
			}
		}
		requested := parseQList(raw)
		var kept []int
		for _, idx := range survivors {
			val := c.variants[idx].values[axisIdx]
			if raw == "" || requested.allows(val) {
				kept = append(kept, idx)
			}
		}
		survivors = kept
		if len(survivors) == 0 {
			return nil
		}
	}
	if len(survivors) == 0 {
		return nil
	}
	return c.variants[survivors[0]].resp
}

func hasToken(header, token string) bool {
	for _, t := range parseQList(header) {
		if t.name == token {
			return true
		}
	}
	return false
}

type responseCacheItem struct {
	value *CachedResponse
	node  *lruNode[UriKey]
}

// ResponseCache is the bounded URI -> CachedResponse map, built on the
// same LRU/size-ceiling/single-flight shape as FileCache.
type ResponseCache struct {
	mu        sync.Mutex
	items     map[UriKey]*responseCacheItem
	lru       *lruList[UriKey]
	maxItems  int
	maxSize   int64
	curSize   int64
	sf        singleflight.Group
	evictions func()
}

// NewResponseCache constructs a ResponseCache with the given ceilings.
func NewResponseCache(maxItems int, maxSize int64) *ResponseCache {
	if maxItems <= 0 {
		maxItems = 1024
	}
	if maxSize <= 0 {
		maxSize = 4 << 20
	}
	return &ResponseCache{
		items:    make(map[UriKey]*responseCacheItem),
		lru:      newLRUList[UriKey](),
		maxItems: maxItems,
		maxSize:  maxSize,
	}
}

// OnEviction registers a callback fired each time an entry is evicted.
func (c *ResponseCache) OnEviction(fn func()) { c.evictions = fn }

// Get returns the CachedResponse stored for key, if any.
func (c *ResponseCache) Get(key UriKey) (*CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.lru.moveToFront(item.node)
	return item.value, true
}

// InsertSingle stores an unconditional representation under key. It
// returns false, leaving the cache untouched, if cr's identity body
// exceeds the cache's per-entry size ceiling — the same reject-unchanged
// behavior FileCache.Insert applies.
func (c *ResponseCache) InsertSingle(key UriKey, cr *CompressedResponse) bool {
	if int64(len(cr.Identity)) > c.maxSize {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, NewSingleCachedResponse(cr))
	return true
}

// InsertVariant stores a Vary-partitioned representation under key. It
// returns kerr.BadRequest if the key is mapped to an incompatible entry (a
// Single entry, or a Vary entry with different axes), and
// kerr.PayloadTooLarge, leaving the cache untouched, if resp's identity
// body exceeds the cache's per-entry size ceiling.
func (c *ResponseCache) InsertVariant(key UriKey, varyHeaders []string, matched []string, resp *CompressedResponse) error {
	if int64(len(resp.Identity)) > c.maxSize {
		return kerr.New(kerr.PayloadTooLarge, "response exceeds response cache's per-entry size ceiling")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var existing *CachedResponse
	if item, ok := c.items[key]; ok {
		existing = item.value
	}
	updated, ok := existing.insertVariant(varyHeaders, matched, resp)
	if !ok {
		return kerr.BadRequestf("incompatible vary entry for key %+v", key)
	}
	c.setLocked(key, updated)
	return nil
}

func (c *ResponseCache) setLocked(key UriKey, value *CachedResponse) {
	if item, ok := c.items[key]; ok {
		c.curSize -= item.value.size()
		item.value = value
		c.curSize += value.size()
		c.lru.moveToFront(item.node)
		return
	}
	node := &lruNode[UriKey]{key: key}
	c.items[key] = &responseCacheItem{value: value, node: node}
	c.lru.addToFront(node)
	c.curSize += value.size()
	c.evictLocked()
}

// Remove deletes key from the cache.
func (c *ResponseCache) Remove(key UriKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *ResponseCache) removeLocked(key UriKey) {
	item, ok := c.items[key]
	if !ok {
		return
	}
	delete(c.items, key)
	c.lru.remove(item.node)
	c.curSize -= item.value.size()
}

// RemoveByPath removes every entry (Path or PathQuery variant) whose path
// matches — used by HostCollection's admin clear_page operation.
func (c *ResponseCache) RemoveByPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if key.Path == path {
			c.removeLocked(key)
		}
	}
}

// Clear empties the cache.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[UriKey]*responseCacheItem)
	c.lru = newLRUList[UriKey]()
	c.curSize = 0
}

// Len reports the current entry count.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *ResponseCache) evictLocked() {
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

// GenerateSingleFlight collapses concurrent misses for the same key into a
// single generate() call, so a cold response-cache read never runs the
// expensive generation path more than once per key.
func (c *ResponseCache) GenerateSingleFlight(key UriKey, generate func() (*CompressedResponse, error)) (*CompressedResponse, error) {
	v, err, _ := c.sf.Do(key.Path+"\x00"+key.Query, func() (interface{}, error) {
		if cached, ok := c.Get(key); ok {
			if cr := cached.Resolve(func(string) string { return "" }); cr != nil {
				return cr, nil
			}
		}
		return generate()
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompressedResponse), nil
}
