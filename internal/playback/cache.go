package playback

import (
	"errors"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// tempPrefix names partial downloads inside the cache directory.
const tempPrefix = ".download-"

// CacheEntry is a downloaded content item on local disk.
type CacheEntry struct {
	ID          uint64
	Key         string // file name inside the cache directory
	Path        string
	Size        int64
	ContentType string
	CachedAt    time.Time
}

// ContentCache is an LRU over cached files bounded by a byte budget and an
// entry count. Evicted entries have their files removed.
type ContentCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[uint64, CacheEntry]
	bytes    int64
	maxBytes int64
	logger   *zap.Logger
	evicted  func(id uint64)
}

// NewContentCache returns a cache holding at most maxItems entries and
// maxBytes bytes. A non-positive maxBytes disables the byte budget.
func NewContentCache(maxItems int, maxBytes int64, logger *zap.Logger) (*ContentCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ContentCache{maxBytes: maxBytes, logger: logger}
	lru, err := simplelru.NewLRU[uint64, CacheEntry](maxItems, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// onEvict runs with mu held.
func (c *ContentCache) onEvict(id uint64, e CacheEntry) {
	c.bytes -= e.Size
	if c.evicted != nil {
		c.evicted(id)
	}
	if err := os.Remove(e.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove evicted content", zap.Uint64("content_id", id), zap.String("path", e.Path), zap.Error(err))
		return
	}
	c.logger.Debug("evicted content", zap.Uint64("content_id", id), zap.Int64("size", e.Size))
}

// OnEvict registers fn to run whenever an entry leaves the cache, whether by
// budget, replacement or a vanished file. fn runs with the cache locked and
// must not call back into it.
func (c *ContentCache) OnEvict(fn func(id uint64)) {
	c.mu.Lock()
	c.evicted = fn
	c.mu.Unlock()
}

// Restore indexes the files a previous run left in dir so they count
// against the budgets again. Partial downloads are removed, and so are
// older copies when one item has several files. Files are added oldest
// first, which evicts the least recent ones if the budgets have shrunk.
// Files not named like cache entries are left alone. A missing dir is not
// an error.
func (c *ContentCache) Restore(dir string) (int, error) {
	des, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	latest := make(map[uint64]CacheEntry)
	for _, de := range des {
		name := de.Name()
		p := filepath.Join(dir, name)
		if strings.HasPrefix(name, tempPrefix) {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				c.logger.Warn("remove partial download", zap.String("path", p), zap.Error(err))
			}
			continue
		}
		if !de.Type().IsRegular() {
			continue
		}
		id, ok := parseEntryKey(name)
		if !ok {
			c.logger.Warn("unrecognized file in content cache", zap.String("path", p))
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		e := CacheEntry{
			ID:          id,
			Key:         name,
			Path:        p,
			Size:        fi.Size(),
			ContentType: mime.TypeByExtension(filepath.Ext(name)),
			CachedAt:    fi.ModTime(),
		}
		if prev, ok := latest[id]; ok {
			stale := prev
			if e.CachedAt.Before(prev.CachedAt) {
				stale, e = e, prev
			}
			_ = os.Remove(stale.Path)
		}
		latest[id] = e
	}

	entries := make([]CacheEntry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CachedAt.Before(entries[j].CachedAt) })
	for _, e := range entries {
		c.Add(e)
	}
	return c.Len(), nil
}

// parseEntryKey reads the content id out of a "{id}-{uuid}{ext}" file name.
func parseEntryKey(name string) (uint64, bool) {
	idPart, rest, ok := strings.Cut(name, "-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, false
	}
	if _, err := uuid.Parse(strings.TrimSuffix(rest, filepath.Ext(rest))); err != nil {
		return 0, false
	}
	return id, true
}

// Get returns the entry for id and marks it recently used. An entry whose
// file has vanished is dropped and reported as a miss.
func (c *ContentCache) Get(id uint64) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(id)
	if !ok {
		return CacheEntry{}, false
	}
	if _, err := os.Stat(e.Path); err != nil {
		c.lru.Remove(id)
		return CacheEntry{}, false
	}
	return e, true
}

// Add stores e, replacing any previous entry for the same id, then evicts
// least recently used entries until the byte budget holds. The newest entry
// is never evicted by its own insertion.
func (c *ContentCache) Add(e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(e.ID); ok {
		if old.Path == e.Path {
			c.bytes -= old.Size
		} else {
			c.lru.Remove(e.ID)
		}
	}
	c.lru.Add(e.ID, e)
	c.bytes += e.Size
	for c.maxBytes > 0 && c.bytes > c.maxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
}

// Len returns the number of cached entries.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the total size of cached entries.
func (c *ContentCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}
