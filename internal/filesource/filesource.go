// Package filesource provides abstractions for reading tracked files from different sources.
package filesource

import "sync"

// FileInfo describes a tracked file. Content is loaded on first use.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime int64 // unix nanoseconds; zero when the source has no stat data

	once    sync.Once
	load    func() ([]byte, error)
	content []byte
	err     error
}

// New returns a FileInfo whose content is produced by load.
func New(path string, size, modTime int64, load func() ([]byte, error)) *FileInfo {
	return &FileInfo{Path: path, Size: size, ModTime: modTime, load: load}
}

// FromBytes returns a FileInfo with content already in memory.
func FromBytes(path string, content []byte) *FileInfo {
	return &FileInfo{Path: path, Size: int64(len(content)), load: func() ([]byte, error) { return content, nil }}
}

// Content returns the file content, reading it on the first call.
func (f *FileInfo) Content() ([]byte, error) {
	f.once.Do(func() {
		f.content, f.err = f.load()
		if f.err == nil && f.content == nil {
			f.content = []byte{}
		}
	})
	return f.content, f.err
}

// FileSource abstracts the source of files (Git, filesystem, etc.).
type FileSource interface {
	// GetFiles returns all tracked files sorted by path.
	GetFiles() ([]*FileInfo, error)

	// GetFile returns a specific file by path.
	GetFile(path string) (*FileInfo, error)

	// Identifier returns a unique identifier for this source state.
	// For Git: commit hash. For directories: a hash of paths and stat data.
	Identifier() string

	// SourceType returns the type of source ("git" or "directory").
	SourceType() string
}
