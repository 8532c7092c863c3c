// Package cache provides file digest caching to speed up working-copy snapshots.
package cache

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// RacyWindow is how long after a file's mtime a cached digest stays
// untrusted. A file rewritten within the same timestamp granularity as the
// cache write could otherwise keep a stale digest.
const RacyWindow = time.Second

// FileCache caches file digests keyed by (path, size, mtime).
// This avoids rehashing unchanged files on every reconcile.
type FileCache struct {
	db  *sql.DB
	now func() time.Time
}

// Entry is a cached digest for one path.
type Entry struct {
	Digest   string
	Conflict bool
}

const schema = `
CREATE TABLE IF NOT EXISTS file_cache (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	digest TEXT NOT NULL,
	conflict INTEGER NOT NULL DEFAULT 0,
	cached_at INTEGER NOT NULL
);
`

// Open opens or creates the cache database in dir ({dir}/cache.db).
func Open(dir string) (*FileCache, error) {
	db, err := sql.Open("sqlite", filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying cache schema: %w", err)
	}
	return &FileCache{db: db, now: time.Now}, nil
}

// Close closes the cache database.
func (c *FileCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Lookup returns the cached entry for path if its size and mtime still
// match and the mtime is old enough to be trusted.
func (c *FileCache) Lookup(path string, size, mtime int64) (Entry, bool, error) {
	var cachedSize, cachedMtime, cachedAt int64
	var e Entry
	err := c.db.QueryRow(
		"SELECT size, mtime, digest, conflict, cached_at FROM file_cache WHERE path = ?",
		path,
	).Scan(&cachedSize, &cachedMtime, &e.Digest, &e.Conflict, &cachedAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache: %w", err)
	}

	if cachedSize != size || cachedMtime != mtime {
		return Entry{}, false, nil
	}
	if mtime >= cachedAt-int64(RacyWindow) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Store records the digest of path at the given stat data.
func (c *FileCache) Store(path string, size, mtime int64, e Entry) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO file_cache (path, size, mtime, digest, conflict, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		path, size, mtime, e.Digest, e.Conflict, c.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Retain drops every entry whose path is not in keep.
func (c *FileCache) Retain(keep map[string]bool) error {
	rows, err := c.db.Query("SELECT path FROM file_cache")
	if err != nil {
		return fmt.Errorf("listing cache: %w", err)
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return err
		}
		if !keep[path] {
			stale = append(stale, path)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, path := range stale {
		if err := c.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes all entries from the cache.
func (c *FileCache) Clear() error {
	_, err := c.db.Exec("DELETE FROM file_cache")
	return err
}

// Remove removes a single entry from the cache.
func (c *FileCache) Remove(path string) error {
	_, err := c.db.Exec("DELETE FROM file_cache WHERE path = ?", path)
	return err
}

// Stats returns cache statistics.
type Stats struct {
	TotalEntries int64
}

func (c *FileCache) Stats() (*Stats, error) {
	var count int64
	err := c.db.QueryRow("SELECT COUNT(*) FROM file_cache").Scan(&count)
	if err != nil {
		return nil, err
	}
	return &Stats{TotalEntries: count}, nil
}
