package archivefs

import (
	"container/list"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shimomut/tfm/internal/vpath"
)

// Downloader fetches a possibly-remote archive file to a local temp path.
// Local archives implement this as a no-op returning the same path; remote
// backends (SSH, S3) implement it by streaming the archive to os.CreateTemp.
type Downloader interface {
	// Download returns the local path to read the archive from, and
	// whether that path is a temp file that should be removed on close.
	Download(archivePath string) (localPath string, isTemp bool, err error)
}

// LocalDownloader is the identity Downloader for archives that are already
// local files.
type LocalDownloader struct{}

func (LocalDownloader) Download(archivePath string) (string, bool, error) {
	if _, err := os.Stat(archivePath); err != nil {
		return "", false, vpath.NewErrorf(vpath.KindNotFound, err, "archive %s not found", archivePath)
	}
	return archivePath, false, nil
}

// ReaderDownloader stages an archive available only as an io.Reader (e.g.
// fetched over SSH/S3) into a temp file.
type ReaderDownloader struct {
	Open func(archivePath string) (io.ReadCloser, error)
}

func (d ReaderDownloader) Download(archivePath string) (string, bool, error) {
	src, err := d.Open(archivePath)
	if err != nil {
		return "", false, vpath.NewErrorf(vpath.KindIoError, err, "opening remote archive %s", archivePath)
	}
	defer src.Close()
	tmp, err := os.CreateTemp("", "tfm-archive-*")
	if err != nil {
		return "", false, vpath.NewErrorf(vpath.KindIoError, err, "staging archive %s", archivePath)
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, src); err != nil {
		os.Remove(tmp.Name())
		return "", false, vpath.NewErrorf(vpath.KindIoError, err, "staging archive %s", archivePath)
	}
	return tmp.Name(), true, nil
}

// Stats reports ArchiveCache operational counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	OpenCount   int
	AvgOpenTime time.Duration
}

type cacheEntry struct {
	key       string
	handler   *Handler
	expiresAt time.Time
	elem      *list.Element
}

// Cache is the process-wide LRU+TTL cache of opened archive Handlers,
// keyed by absolute archive path. It is safe for concurrent use; a
// single mutex guards the index while per-handler reads are additionally
// serialized by the Handler's own mutex.
type Cache struct {
	mu         sync.Mutex
	maxOpen    int
	ttl        time.Duration
	downloader Downloader

	index     map[string]*cacheEntry
	lru       *list.List // front = most recently used

	hits, misses, evictions int64
	totalOpenTime           time.Duration
	openCount               int
}

// NewCache builds an ArchiveCache. downloader may be nil, in which case
// archives are assumed to already be local files.
func NewCache(maxOpen int, ttl time.Duration, downloader Downloader) *Cache {
	if maxOpen <= 0 {
		maxOpen = 16
	}
	if downloader == nil {
		downloader = LocalDownloader{}
	}
	return &Cache{
		maxOpen:    maxOpen,
		ttl:        ttl,
		downloader: downloader,
		index:      make(map[string]*cacheEntry),
		lru:        list.New(),
	}
}

// GetHandler returns the open Handler for archivePath, opening (and, if at
// capacity, evicting the LRU entry) on a miss or expiry.
func (c *Cache) GetHandler(archivePath string) (*Handler, error) {
	c.mu.Lock()
	if entry, ok := c.index[archivePath]; ok {
		if time.Now().Before(entry.expiresAt) || c.ttl <= 0 {
			c.lru.MoveToFront(entry.elem)
			c.hits++
			c.mu.Unlock()
			return entry.handler, nil
		}
		// Expired: drop and fall through to reopen.
		c.removeLocked(entry)
	}
	c.misses++
	c.mu.Unlock()

	archiveType, err := DetectFormat(archivePath)
	if err != nil {
		return nil, err
	}
	localPath, isTemp, err := c.downloader.Download(archivePath)
	if err != nil {
		return nil, err
	}
	tempFile := ""
	if isTemp {
		tempFile = localPath
	}

	start := time.Now()
	handler, err := Open(archivePath, localPath, archiveType, tempFile)
	openDuration := time.Since(start)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have raced us to populate this key; prefer the
	// existing entry and close the one we just opened to avoid leaking an
	// open handle.
	if entry, ok := c.index[archivePath]; ok {
		c.lru.MoveToFront(entry.elem)
		handler.Close()
		return entry.handler, nil
	}

	if len(c.index) >= c.maxOpen {
		c.evictLRULocked()
	}

	elem := c.lru.PushFront(archivePath)
	entry := &cacheEntry{key: archivePath, handler: handler, elem: elem}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	} else {
		entry.expiresAt = time.Now().Add(100 * 365 * 24 * time.Hour)
	}
	c.index[archivePath] = entry
	c.totalOpenTime += openDuration
	c.openCount++
	return handler, nil
}

// evictLRULocked closes and removes the least-recently-used entry. Caller
// holds c.mu.
func (c *Cache) evictLRULocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	entry := c.index[key]
	if entry == nil {
		c.lru.Remove(back)
		return
	}
	entry.handler.Close()
	c.lru.Remove(back)
	delete(c.index, key)
	c.evictions++
}

// removeLocked drops entry from the index and LRU list and closes its
// handler, without counting it as an eviction (used for TTL expiry).
func (c *Cache) removeLocked(entry *cacheEntry) {
	entry.handler.Close()
	c.lru.Remove(entry.elem)
	delete(c.index, entry.key)
}

// Invalidate closes and drops the handler for archivePath, if open.
func (c *Cache) Invalidate(archivePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.index[archivePath]; ok {
		c.removeLocked(entry)
	}
}

// Clear closes and drops every open handler.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.index {
		entry.handler.Close()
	}
	c.index = make(map[string]*cacheEntry)
	c.lru = list.New()
}

// Shutdown is an alias for Clear, provided for symmetry with the explicit
// constructor so callers can wire lifecycle management without caring
// which name is idiomatic at the call site.
func (c *Cache) Shutdown() { c.Clear() }

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var avg time.Duration
	if c.openCount > 0 {
		avg = c.totalOpenTime / time.Duration(c.openCount)
	}
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		OpenCount:   len(c.index),
		AvgOpenTime: avg,
	}
}
