package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func writeEntry(t *testing.T, dir string, id uint64, size int) CacheEntry {
	t.Helper()
	p := filepath.Join(dir, filepath.Base(t.Name())+"-"+string(rune('a'+id)))
	if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return CacheEntry{ID: id, Key: filepath.Base(p), Path: p, Size: int64(size)}
}

func TestContentCache_EvictsLeastRecentlyUsedOverBudget(t *testing.T) {
	dir := t.TempDir()
	c, err := NewContentCache(10, 10, nil)
	if err != nil {
		t.Fatalf("NewContentCache: %v", err)
	}
	a := writeEntry(t, dir, 1, 4)
	b := writeEntry(t, dir, 2, 4)
	cc := writeEntry(t, dir, 3, 4)

	c.Add(a)
	c.Add(b)
	if _, ok := c.Get(1); !ok {
		t.Fatalf("expected a cached")
	}
	c.Add(cc)

	if _, ok := c.Get(2); ok {
		t.Fatalf("expected b to be evicted as least recently used")
	}
	if _, err := os.Stat(b.Path); !os.IsNotExist(err) {
		t.Fatalf("expected evicted file to be removed, stat err=%v", err)
	}
	if _, ok := c.Get(1); !ok {
		t.Fatalf("expected a to survive")
	}
	if _, ok := c.Get(3); !ok {
		t.Fatalf("expected c to survive")
	}
	if c.Bytes() != 8 || c.Len() != 2 {
		t.Fatalf("expected 2 entries and 8 bytes, got %d and %d", c.Len(), c.Bytes())
	}
}

func TestContentCache_EntryCountLimit(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewContentCache(2, 0, nil)
	first := writeEntry(t, dir, 1, 1)
	c.Add(first)
	c.Add(writeEntry(t, dir, 2, 1))
	c.Add(writeEntry(t, dir, 3, 1))

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, err := os.Stat(first.Path); !os.IsNotExist(err) {
		t.Fatalf("expected oldest file removed")
	}
}

func TestContentCache_MissingFileIsAMiss(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewContentCache(4, 0, nil)
	e := writeEntry(t, dir, 1, 3)
	c.Add(e)
	_ = os.Remove(e.Path)

	if _, ok := c.Get(1); ok {
		t.Fatalf("expected a miss once the file is gone")
	}
	if c.Bytes() != 0 {
		t.Fatalf("expected byte count to drop, got %d", c.Bytes())
	}
}

func TestContentCache_OnEvictReportsIDs(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewContentCache(4, 5, nil)
	var evicted []uint64
	c.OnEvict(func(id uint64) { evicted = append(evicted, id) })

	c.Add(writeEntry(t, dir, 1, 3))
	c.Add(writeEntry(t, dir, 2, 3))
	if !reflect.DeepEqual(evicted, []uint64{1}) {
		t.Fatalf("expected 1 evicted by budget, got %v", evicted)
	}
}

// cacheFile writes a file named like a cache entry with the given mtime.
func cacheFile(t *testing.T, dir string, id uint64, ext string, size int, mod time.Time) string {
	t.Helper()
	p := filepath.Join(dir, fmt.Sprintf("%d-%s%s", id, uuid.NewString(), ext))
	if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(p, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return p
}

func TestContentCache_Restore(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	oldCopy := cacheFile(t, dir, 1, ".png", 4, t0)
	second := cacheFile(t, dir, 2, ".mp4", 4, t0.Add(time.Minute))
	newCopy := cacheFile(t, dir, 1, ".png", 4, t0.Add(2*time.Minute))
	partial := filepath.Join(dir, tempPrefix+"123456")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{partial, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c, _ := NewContentCache(8, 6, nil)
	n, err := c.Restore(dir)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 1 || c.Bytes() != 4 {
		t.Fatalf("expected one 4 byte entry within the budget, got %d entries and %d bytes", n, c.Bytes())
	}
	e, ok := c.Get(1)
	if !ok || e.Path != newCopy || e.ContentType != "image/png" || !e.CachedAt.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("expected the newest copy of 1, got %+v ok=%v", e, ok)
	}
	for _, p := range []string{oldCopy, second, partial} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err=%v", filepath.Base(p), err)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("expected unrelated file kept: %v", err)
	}
}

func TestContentCache_RestoreMissingDir(t *testing.T) {
	c, _ := NewContentCache(2, 0, nil)
	n, err := c.Restore(filepath.Join(t.TempDir(), "absent"))
	if err != nil || n != 0 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
}
