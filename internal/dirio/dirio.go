// Package dirio provides directory-based file source operations.
package dirio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gg/internal/cas"
	"gg/internal/filesource"
	"gg/internal/ignore"
)

// DirectorySource reads the tracked files of a working directory.
// Contents are read lazily; the listing only stats.
type DirectorySource struct {
	rootPath   string
	files      []*filesource.FileInfo
	byPath     map[string]*filesource.FileInfo
	identifier string
	ignore     *ignore.Matcher
	extra      []string
}

// Option configures a DirectorySource.
type Option func(*DirectorySource)

// WithIgnore sets a custom ignore matcher.
func WithIgnore(m *ignore.Matcher) Option {
	return func(ds *DirectorySource) {
		ds.ignore = m
	}
}

// WithExtraIgnores adds patterns on top of the directory's ignore files.
func WithExtraIgnores(patterns []string) Option {
	return func(ds *DirectorySource) {
		ds.extra = patterns
	}
}

// OpenDirectory opens a directory as a file source.
func OpenDirectory(dirPath string, opts ...Option) (*DirectorySource, error) {
	absPath, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absPath)
	}

	ds := &DirectorySource{rootPath: absPath}
	for _, opt := range opts {
		opt(ds)
	}

	if ds.ignore == nil {
		ds.ignore, err = ignore.LoadFromDir(absPath, ds.extra)
		if err != nil {
			return nil, fmt.Errorf("loading ignore patterns: %w", err)
		}
	}

	if err := ds.collectFiles(); err != nil {
		return nil, err
	}
	ds.computeIdentifier()
	return ds, nil
}

// Root returns the absolute directory path.
func (ds *DirectorySource) Root() string {
	return ds.rootPath
}

// GetFiles returns all tracked files sorted by path.
func (ds *DirectorySource) GetFiles() ([]*filesource.FileInfo, error) {
	return ds.files, nil
}

// GetFile returns a specific file by path.
func (ds *DirectorySource) GetFile(path string) (*filesource.FileInfo, error) {
	if f, ok := ds.byPath[path]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("file not found: %s", path)
}

// Identifier returns a hash over every tracked path and its stat data.
func (ds *DirectorySource) Identifier() string {
	return ds.identifier
}

// SourceType returns "directory".
func (ds *DirectorySource) SourceType() string {
	return "directory"
}

func (ds *DirectorySource) collectFiles() error {
	var files []*filesource.FileInfo

	err := filepath.Walk(ds.rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == ds.rootPath {
			return nil
		}

		relPath, err := filepath.Rel(ds.rootPath, path)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		if ds.ignore != nil && ds.ignore.Match(relPath, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		// symlinks, sockets and devices are not tracked
		if !info.Mode().IsRegular() {
			return nil
		}

		abs := path
		files = append(files, filesource.New(relPath, info.Size(), info.ModTime().UnixNano(), func() ([]byte, error) {
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("reading file %s: %w", relPath, err)
			}
			return content, nil
		}))
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	ds.files = files
	ds.byPath = make(map[string]*filesource.FileInfo, len(files))
	for _, f := range files {
		ds.byPath[f.Path] = f
	}
	return nil
}

// computeIdentifier hashes path, size and mtime of every file. Two listings
// with the same identifier have the same stat data, not necessarily the same content.
func (ds *DirectorySource) computeIdentifier() {
	hasher := cas.NewHasher()
	for _, f := range ds.files {
		hasher.Write([]byte(f.Path))
		hasher.Write([]byte("\n"))
		hasher.Write([]byte(strconv.FormatInt(f.Size, 10)))
		hasher.Write([]byte(" "))
		hasher.Write([]byte(strconv.FormatInt(f.ModTime, 10)))
		hasher.Write([]byte("\n"))
	}
	ds.identifier = fmt.Sprintf("%x", hasher.Sum(nil))
}
