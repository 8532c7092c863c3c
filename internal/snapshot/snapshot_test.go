package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gg/internal/cache"
	"gg/internal/dirio"
	"gg/internal/filesource"
	"gg/internal/repo"
)

type memSource []*filesource.FileInfo

func (m memSource) GetFiles() ([]*filesource.FileInfo, error) { return m, nil }
func (m memSource) GetFile(path string) (*filesource.FileInfo, error) {
	for _, f := range m {
		if f.Path == path {
			return f, nil
		}
	}
	return nil, os.ErrNotExist
}
func (m memSource) Identifier() string { return "mem" }
func (m memSource) SourceType() string { return "memory" }

func setupTx(t *testing.T) *repo.Tx {
	t.Helper()
	r, err := repo.Init(filepath.Join(t.TempDir(), ".gg"), repo.Signature{Name: "T", Email: "t@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	tx, err := r.Begin()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateTree_FromMemory(t *testing.T) {
	tx := setupTx(t)
	c := NewCreator(nil)

	src := memSource{
		filesource.FromBytes("a.txt", []byte("alpha\n")),
		filesource.FromBytes("dir/b.txt", []byte("<<<<<<< Conflict 1 of 1\n>>>>>>> Conflict 1 of 1 ends\n")),
	}
	treeID, err := c.CreateTree(tx, src)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	tree, err := tx.Tree(treeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tree.Entries))
	}
	if tree.Entries[0].Conflict || !tree.Entries[1].Conflict {
		t.Errorf("conflict flags wrong: %+v", tree.Entries)
	}

	again, err := c.CreateTree(tx, src)
	if err != nil {
		t.Fatal(err)
	}
	if again != treeID {
		t.Error("snapshotting the same content should give the same tree")
	}
}

func TestCreateTree_UsesCache(t *testing.T) {
	tx := setupTx(t)
	root := t.TempDir()
	write(t, root, "a.txt", "alpha\n")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(root, "a.txt"), old, old); err != nil {
		t.Fatal(err)
	}

	fc, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()
	c := NewCreator(fc)

	src, err := dirio.OpenDirectory(root)
	if err != nil {
		t.Fatal(err)
	}
	first, err := c.CreateTree(tx, src)
	if err != nil {
		t.Fatal(err)
	}

	f, _ := src.GetFile("a.txt")
	if _, ok, _ := fc.Lookup("a.txt", f.Size, f.ModTime); !ok {
		t.Fatal("expected snapshot to populate the cache")
	}

	src2, err := dirio.OpenDirectory(root)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.CreateTree(tx, src2)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("cached snapshot should produce the same tree")
	}
}

func TestCheckout_WritesAndRemoves(t *testing.T) {
	tx := setupTx(t)
	root := t.TempDir()
	c := NewCreator(nil)

	from, err := c.CreateTree(tx, memSource{
		filesource.FromBytes("keep.txt", []byte("same\n")),
		filesource.FromBytes("gone/old.txt", []byte("old\n")),
		filesource.FromBytes("edit.txt", []byte("v1\n")),
	})
	if err != nil {
		t.Fatal(err)
	}
	to, err := c.CreateTree(tx, memSource{
		filesource.FromBytes("keep.txt", []byte("same\n")),
		filesource.FromBytes("edit.txt", []byte("v2\n")),
		filesource.FromBytes("new/file.txt", []byte("new\n")),
	})
	if err != nil {
		t.Fatal(err)
	}

	write(t, root, "keep.txt", "same\n")
	write(t, root, "gone/old.txt", "old\n")
	write(t, root, "edit.txt", "v1\n")
	write(t, root, "untracked.txt", "mine\n")

	n, err := c.Checkout(tx, root, from, to)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 changed paths, got %d", n)
	}

	read := func(rel string) string {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			t.Fatalf("reading %s: %v", rel, err)
		}
		return string(data)
	}
	if got := read("edit.txt"); got != "v2\n" {
		t.Errorf("edit.txt = %q", got)
	}
	if got := read("new/file.txt"); got != "new\n" {
		t.Errorf("new/file.txt = %q", got)
	}
	if got := read("untracked.txt"); got != "mine\n" {
		t.Errorf("untracked file touched: %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "gone")); !os.IsNotExist(err) {
		t.Error("expected emptied directory to be removed")
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	for _, bad := range []string{"", "../x", "/etc/passwd", "a/../../x"} {
		if _, err := safeJoin(root, bad); err == nil {
			t.Errorf("safeJoin(%q) should fail", bad)
		}
	}
	got, err := safeJoin(root, "a/b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, "a", "b.txt") {
		t.Errorf("safeJoin = %q", got)
	}
}
