// Package gitio provides Git repository I/O operations using go-git.
package gitio

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"gg/internal/filesource"
)

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
	path string
}

// Open opens an existing Git repository.
func Open(repoPath string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repository{repo: repo, path: repoPath}, nil
}

// ResolveRef resolves HEAD, a branch name, tag, or commit hash to a commit.
func (r *Repository) ResolveRef(refName string) (*object.Commit, error) {
	if refName == "" || refName == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("resolving HEAD: %w", err)
		}
		return r.commit(ref.Hash())
	}

	if ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(refName), true); err == nil {
		return r.commit(ref.Hash())
	}
	if ref, err := r.repo.Reference(plumbing.NewTagReferenceName(refName), true); err == nil {
		if tag, err := r.repo.TagObject(ref.Hash()); err == nil {
			return tag.Commit()
		}
		return r.commit(ref.Hash())
	}

	if !plumbing.IsHash(refName) {
		return nil, fmt.Errorf("resolving ref %q: not a branch, tag, or commit hash", refName)
	}
	commit, err := r.repo.CommitObject(plumbing.NewHash(refName))
	if err != nil {
		return nil, fmt.Errorf("resolving ref %q: not a branch, tag, or commit hash", refName)
	}
	return commit, nil
}

func (r *Repository) commit(h plumbing.Hash) (*object.Commit, error) {
	commit, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("getting commit: %w", err)
	}
	return commit, nil
}

// FirstParentHistory returns the first-parent chain ending at head, oldest
// first. A positive limit keeps only the newest limit commits.
func (r *Repository) FirstParentHistory(head *object.Commit, limit int) ([]*object.Commit, error) {
	var chain []*object.Commit
	c := head
	for c != nil {
		chain = append(chain, c)
		if limit > 0 && len(chain) == limit {
			break
		}
		if c.NumParents() == 0 {
			break
		}
		p, err := c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("walking history of %s: %w", c.Hash, err)
		}
		c = p
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// CommitSource exposes the regular files of a commit's tree as a file source.
// Content is read from the object store on demand.
type CommitSource struct {
	commit *object.Commit
	files  []*filesource.FileInfo
	byPath map[string]*filesource.FileInfo
}

// Source returns the file source of commit.
func (r *Repository) Source(commit *object.Commit) (*CommitSource, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("getting tree: %w", err)
	}

	src := &CommitSource{commit: commit, byPath: make(map[string]*filesource.FileInfo)}
	err = tree.Files().ForEach(func(f *object.File) error {
		// submodules and symlinks are not tracked
		if f.Mode != filemode.Regular && f.Mode != filemode.Executable && f.Mode != filemode.Deprecated {
			return nil
		}
		file := f
		info := filesource.New(file.Name, file.Size, 0, func() ([]byte, error) {
			reader, err := file.Reader()
			if err != nil {
				return nil, fmt.Errorf("opening file %s: %w", file.Name, err)
			}
			defer reader.Close()
			content, err := io.ReadAll(reader)
			if err != nil {
				return nil, fmt.Errorf("reading file %s: %w", file.Name, err)
			}
			return content, nil
		})
		src.files = append(src.files, info)
		src.byPath[file.Name] = info
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(src.files, func(i, j int) bool { return src.files[i].Path < src.files[j].Path })
	return src, nil
}

// GetFiles returns all tracked files sorted by path.
func (s *CommitSource) GetFiles() ([]*filesource.FileInfo, error) {
	return s.files, nil
}

// GetFile returns a specific file by path.
func (s *CommitSource) GetFile(path string) (*filesource.FileInfo, error) {
	if f, ok := s.byPath[path]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("file not found: %s", path)
}

// Identifier returns the commit hash.
func (s *CommitSource) Identifier() string {
	return s.commit.Hash.String()
}

// SourceType returns "git".
func (s *CommitSource) SourceType() string {
	return "git"
}

// GetCommitHash returns the hash of a commit as a string.
func GetCommitHash(commit *object.Commit) string {
	return commit.Hash.String()
}
