// Package s3cache implements the TTL+LRU cache of S3 API call results used
// by the S3 backend. Grounded on the container/list+map LRU
// shape demonstrated in objectfs's internal/cache/lru.go, generalized with
// a per-entry TTL and S3-specific key-structured invalidation.
package s3cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Operation names used as cache-key components. Listing/head operations
// are distinguished because write invalidation treats them specially
//.
const (
	OpListObjects = "list_objects_v2"
	OpHeadObject  = "head_object"
	OpGetObject   = "get_object"
)

// DefaultTTL and DefaultMaxEntries are the cache's default bounds.
const (
	DefaultTTL        = 60 * time.Second
	DefaultMaxEntries = 1000
)

type entry struct {
	operation  string
	bucket     string
	key        string
	extraHash  string
	value      any
	expiresAt  time.Time
	lastAccess time.Time
	elem       *list.Element
}

func cacheKey(operation, bucket, key, extraHash string) string {
	return operation + "\x00" + bucket + "\x00" + key + "\x00" + extraHash
}

// Cache is the process-wide S3 API-call cache. Safe for concurrent
// use.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	defaultTTL time.Duration

	index map[string]*entry
	lru   *list.List // front = most recently used

	hits, misses, evictions int64
}

// New builds an S3Cache with the given defaults; zero values fall back to
// DefaultMaxEntries/DefaultTTL.
func New(maxEntries int, defaultTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		index:      make(map[string]*entry),
		lru:        list.New(),
	}
}

// Get returns the cached value for (operation, bucket, key, extraHash) if
// present and unexpired, touching its LRU recency on a hit.
func (c *Cache) Get(operation, bucket, key, extraHash string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(operation, bucket, key, extraHash)
	e, ok := c.index[k]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	e.lastAccess = time.Now()
	c.hits++
	return e.value, true
}

// Put inserts/overwrites the cached value, evicting the LRU entry if at
// capacity. ttl of zero uses the cache's default TTL.
func (c *Cache) Put(operation, bucket, key, extraHash string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(operation, bucket, key, extraHash)
	now := time.Now()
	if e, ok := c.index[k]; ok {
		e.value = value
		e.expiresAt = now.Add(ttl)
		e.lastAccess = now
		c.lru.MoveToFront(e.elem)
		return
	}
	if len(c.index) >= c.maxEntries {
		c.evictLRULocked()
	}
	e := &entry{operation: operation, bucket: bucket, key: key, extraHash: extraHash, value: value, expiresAt: now.Add(ttl), lastAccess: now}
	e.elem = c.lru.PushFront(k)
	c.index[k] = e
}

func (c *Cache) evictLRULocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	k := back.Value.(string)
	if e, ok := c.index[k]; ok {
		c.lru.Remove(e.elem)
		delete(c.index, k)
		c.evictions++
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.index, cacheKey(e.operation, e.bucket, e.key, e.extraHash))
}

func isListingOrHeadOp(op string) bool {
	return op == OpListObjects || op == OpHeadObject
}

// isAncestorListingKey reports whether entryKey is a directory ancestor of
// key (entryKey == "" is the bucket root).
func isAncestorListingKey(entryKey, key string) bool {
	if entryKey == "" {
		return true
	}
	prefix := strings.TrimSuffix(entryKey, "/") + "/"
	return strings.HasPrefix(key, prefix)
}

func isDescendantKey(entryKey, key string) bool {
	return strings.HasPrefix(entryKey, key+"/")
}

// InvalidateKey drops: the exact key (any operation), listing/head entries
// for any ancestor directory of key, and any entry whose key is a
// descendant of key.
func (c *Cache) InvalidateKey(bucket, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.index {
		if e.bucket != bucket {
			continue
		}
		if e.key == key || isDescendantKey(e.key, key) || (isListingOrHeadOp(e.operation) && isAncestorListingKey(e.key, key)) {
			c.lru.Remove(e.elem)
			delete(c.index, k)
		}
	}
}

// InvalidatePrefix drops every cached entry for bucket whose key starts
// with prefix, plus listing/head entries for ancestors of prefix.
func (c *Cache) InvalidatePrefix(bucket, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.index {
		if e.bucket != bucket {
			continue
		}
		if strings.HasPrefix(e.key, prefix) || (isListingOrHeadOp(e.operation) && isAncestorListingKey(e.key, prefix)) {
			c.lru.Remove(e.elem)
			delete(c.index, k)
		}
	}
}

// InvalidateBucket drops every cached entry for bucket.
func (c *Cache) InvalidateBucket(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.index {
		if e.bucket == bucket {
			c.lru.Remove(e.elem)
			delete(c.index, k)
		}
	}
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*entry)
	c.lru = list.New()
}

// Stats is the cache's snapshot of hit/miss/eviction
// counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: len(c.index)}
}
