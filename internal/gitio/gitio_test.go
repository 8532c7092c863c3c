package gitio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// setupGitRepo creates a repository with three linear commits.
func setupGitRepo(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	var hashes []string
	steps := []struct {
		path, content, msg string
	}{
		{"a.txt", "one\n", "first"},
		{"dir/b.txt", "two\n", "second"},
		{"a.txt", "one changed\n", "third"},
	}
	for i, s := range steps {
		full := filepath.Join(dir, filepath.FromSlash(s.path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(s.content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(s.path); err != nil {
			t.Fatal(err)
		}
		h, err := wt.Commit(s.msg, &git.CommitOptions{Author: &object.Signature{
			Name:  "Git Author",
			Email: "git@example.com",
			When:  time.Unix(1700000000+int64(i), 0),
		}})
		if err != nil {
			t.Fatal(err)
		}
		hashes = append(hashes, h.String())
	}
	return dir, hashes
}

func TestFirstParentHistory(t *testing.T) {
	dir, hashes := setupGitRepo(t)
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	head, err := r.ResolveRef("HEAD")
	if err != nil {
		t.Fatal(err)
	}
	chain, err := r.FirstParentHistory(head, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(chain))
	}
	for i, c := range chain {
		if GetCommitHash(c) != hashes[i] {
			t.Errorf("chain[%d] = %s, want %s", i, c.Hash, hashes[i])
		}
	}

	limited, err := r.FirstParentHistory(head, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || GetCommitHash(limited[1]) != hashes[2] {
		t.Errorf("limit should keep the newest commits")
	}
}

func TestResolveRef(t *testing.T) {
	dir, hashes := setupGitRepo(t)
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	c, err := r.ResolveRef(hashes[0])
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(c.Message) != "first" {
		t.Errorf("message = %q", c.Message)
	}

	branch, err := r.ResolveRef("master")
	if err != nil {
		t.Fatal(err)
	}
	if branch.Hash.String() != hashes[2] {
		t.Errorf("master = %s", branch.Hash)
	}

	if _, err := r.ResolveRef("no-such-branch"); err == nil {
		t.Error("expected error for unknown ref")
	}
}

func TestSource(t *testing.T) {
	dir, hashes := setupGitRepo(t)
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	c, err := r.ResolveRef(hashes[2])
	if err != nil {
		t.Fatal(err)
	}
	src, err := r.Source(c)
	if err != nil {
		t.Fatal(err)
	}

	files, _ := src.GetFiles()
	if len(files) != 2 || files[0].Path != "a.txt" || files[1].Path != "dir/b.txt" {
		t.Fatalf("unexpected files %+v", files)
	}
	f, err := src.GetFile("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	content, err := f.Content()
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "one changed\n" {
		t.Errorf("content = %q", content)
	}
	if src.Identifier() != hashes[2] || src.SourceType() != "git" {
		t.Errorf("identifier=%s type=%s", src.Identifier(), src.SourceType())
	}
}
