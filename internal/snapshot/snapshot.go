// Package snapshot records file sources as trees and writes trees back to a
// working directory.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gg/internal/cache"
	"gg/internal/filesource"
	"gg/internal/repo"
)

// Creator turns file sources into trees.
type Creator struct {
	cache *cache.FileCache
}

// NewCreator creates a snapshot creator. The cache may be nil.
func NewCreator(c *cache.FileCache) *Creator {
	return &Creator{cache: c}
}

// CreateTree stores every file of source and returns the id of the tree
// holding them. Files whose stat data matches a trusted cache entry are not
// read.
func (c *Creator) CreateTree(tx *repo.Tx, source filesource.FileSource) (string, error) {
	files, err := source.GetFiles()
	if err != nil {
		return "", fmt.Errorf("getting files: %w", err)
	}

	entries := make([]repo.TreeEntry, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		e, err := c.entry(tx, f)
		if err != nil {
			return "", err
		}
		entries = append(entries, e)
		seen[f.Path] = true
	}

	treeID, err := tx.WriteTree(entries)
	if err != nil {
		return "", fmt.Errorf("writing tree: %w", err)
	}
	if c.cache != nil && source.SourceType() == "directory" {
		if err := c.cache.Retain(seen); err != nil {
			return "", err
		}
	}
	return treeID, nil
}

func (c *Creator) entry(tx *repo.Tx, f *filesource.FileInfo) (repo.TreeEntry, error) {
	if c.cache != nil && f.ModTime != 0 {
		cached, ok, err := c.cache.Lookup(f.Path, f.Size, f.ModTime)
		if err != nil {
			return repo.TreeEntry{}, err
		}
		if ok && tx.Repo().HasFile(cached.Digest) {
			return repo.TreeEntry{Path: f.Path, Digest: cached.Digest, Size: f.Size, Conflict: cached.Conflict}, nil
		}
	}

	content, err := f.Content()
	if err != nil {
		return repo.TreeEntry{}, err
	}
	e, err := tx.WriteFile(f.Path, content)
	if err != nil {
		return repo.TreeEntry{}, fmt.Errorf("writing object for %s: %w", f.Path, err)
	}
	if c.cache != nil && f.ModTime != 0 {
		if err := c.cache.Store(f.Path, f.Size, f.ModTime, cache.Entry{Digest: e.Digest, Conflict: e.Conflict}); err != nil {
			return repo.TreeEntry{}, err
		}
	}
	return e, nil
}

// Checkout rewrites the files under root that differ between the trees
// fromTree and toTree. Files outside that difference are left alone.
func (c *Creator) Checkout(tx *repo.Tx, root, fromTree, toTree string) (int, error) {
	changes, err := tx.Diff(fromTree, toTree)
	if err != nil {
		return 0, err
	}

	for _, ch := range changes {
		target, err := safeJoin(root, ch.Path)
		if err != nil {
			return 0, err
		}

		if ch.Kind == repo.ChangeDeleted {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return 0, fmt.Errorf("removing %s: %w", ch.Path, err)
			}
			removeEmptyParents(root, filepath.Dir(target))
			if c.cache != nil {
				if err := c.cache.Remove(ch.Path); err != nil {
					return 0, err
				}
			}
			continue
		}

		content, err := tx.ReadFile(ch.After)
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", ch.Path, err)
		}
		if err := writeFileAtomic(target, content); err != nil {
			return 0, fmt.Errorf("writing %s: %w", ch.Path, err)
		}
		if c.cache != nil {
			info, err := os.Stat(target)
			if err != nil {
				return 0, err
			}
			e := cache.Entry{Digest: ch.After.Digest, Conflict: ch.After.Conflict}
			if err := c.cache.Store(ch.Path, info.Size(), info.ModTime().UnixNano(), e); err != nil {
				return 0, err
			}
		}
	}
	return len(changes), nil
}

// safeJoin resolves a tree path under root, rejecting paths that escape it.
func safeJoin(root, path string) (string, error) {
	if path == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("invalid tree path %q", path)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("tree path %q escapes the working directory", path)
	}
	return filepath.Join(root, clean), nil
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partial file.
func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gg-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func removeEmptyParents(root, dir string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
