package cache

import (
	"testing"
	"time"
)

func openTestCache(t *testing.T, now time.Time) *FileCache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	c.now = func() time.Time { return now }
	return c
}

func TestCacheHitAndMiss(t *testing.T) {
	now := time.Now()
	c := openTestCache(t, now)
	mtime := now.Add(-time.Hour).UnixNano()

	if _, ok, err := c.Lookup("a.txt", 5, mtime); err != nil || ok {
		t.Fatalf("expected miss on empty cache, ok=%v err=%v", ok, err)
	}

	if err := c.Store("a.txt", 5, mtime, Entry{Digest: "abc", Conflict: true}); err != nil {
		t.Fatal(err)
	}
	e, ok, err := c.Lookup("a.txt", 5, mtime)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if e.Digest != "abc" || !e.Conflict {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestCacheInvalidation(t *testing.T) {
	now := time.Now()
	c := openTestCache(t, now)
	mtime := now.Add(-time.Hour).UnixNano()

	if err := c.Store("a.txt", 5, mtime, Entry{Digest: "abc"}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Lookup("a.txt", 6, mtime); ok {
		t.Error("expected miss after size change")
	}
	if _, ok, _ := c.Lookup("a.txt", 5, mtime+1); ok {
		t.Error("expected miss after mtime change")
	}
}

func TestCacheRacyEntry(t *testing.T) {
	now := time.Now()
	c := openTestCache(t, now)

	// written in the same second the file was modified
	mtime := now.Add(-100 * time.Millisecond).UnixNano()
	if err := c.Store("a.txt", 5, mtime, Entry{Digest: "abc"}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Lookup("a.txt", 5, mtime); ok {
		t.Error("racy entry must not be trusted")
	}

	// a later write of the same stat data clears the doubt
	c.now = func() time.Time { return now.Add(2 * time.Second) }
	if err := c.Store("a.txt", 5, mtime, Entry{Digest: "abc"}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Lookup("a.txt", 5, mtime); !ok {
		t.Error("expected hit once the entry is older than the racy window")
	}
}

func TestCacheRetainAndClear(t *testing.T) {
	now := time.Now()
	c := openTestCache(t, now)
	mtime := now.Add(-time.Hour).UnixNano()

	for _, p := range []string{"a", "b", "c"} {
		if err := c.Store(p, 1, mtime, Entry{Digest: p}); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Retain(map[string]bool{"a": true, "c": true}); err != nil {
		t.Fatal(err)
	}
	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 2 {
		t.Errorf("expected 2 entries, got %d", stats.TotalEntries)
	}
	if _, ok, _ := c.Lookup("b", 1, mtime); ok {
		t.Error("b should have been dropped")
	}

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	stats, _ = c.Stats()
	if stats.TotalEntries != 0 {
		t.Errorf("expected empty cache, got %d", stats.TotalEntries)
	}
}
