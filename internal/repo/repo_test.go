package repo

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

var testUser = Signature{Name: "Test User", Email: "test.user@example.com"}

func setupTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Init(filepath.Join(t.TempDir(), ".gg"), testUser)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func begin(t *testing.T, r *Repo) *Tx {
	t.Helper()
	tx, err := r.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

// commitFiles creates a child of parents that writes the given files.
func commitFiles(t *testing.T, tx *Tx, parents []string, files map[string]string, desc string) *Commit {
	t.Helper()
	base, err := tx.MergedTree(parents)
	if err != nil {
		t.Fatal(err)
	}
	edits := make(map[string]*TreeEntry)
	for path, content := range files {
		e, err := tx.WriteFile(path, []byte(content))
		if err != nil {
			t.Fatal(err)
		}
		edits[path] = &e
	}
	tree, err := tx.EditTree(base, edits)
	if err != nil {
		t.Fatal(err)
	}
	c, err := tx.NewCommit(parents, tree, desc)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func readPath(t *testing.T, tx *Tx, c *Commit, path string) (string, bool) {
	t.Helper()
	tree, err := tx.Tree(c.Tree)
	if err != nil {
		t.Fatal(err)
	}
	e := tree.Entry(path)
	if e == nil {
		return "", false
	}
	data, err := tx.ReadFile(e)
	if err != nil {
		t.Fatal(err)
	}
	return string(data), true
}

func TestInit(t *testing.T) {
	r := setupTestRepo(t)
	tx := begin(t, r)

	commits := tx.Commits()
	if len(commits) != 2 {
		t.Fatalf("expected root and working copy, got %d commits", len(commits))
	}
	wc := tx.WorkingCopy()
	if wc == nil {
		t.Fatal("no working copy")
	}
	if commits[0].ID != wc.ID || commits[1].ID != r.RootID() {
		t.Errorf("unexpected log order: %s, %s", commits[0].ID, commits[1].ID)
	}
	if len(wc.Parents) != 1 || wc.Parents[0] != r.RootID() {
		t.Errorf("working copy parents = %v", wc.Parents)
	}
	if len(wc.ChangeID) != 32 {
		t.Errorf("change id %q should be 32 hex chars", wc.ChangeID)
	}
	empty, err := tx.IsEmpty(wc)
	if err != nil || !empty {
		t.Errorf("new working copy should be empty (err=%v)", err)
	}

	op, err := tx.LastOperation()
	if err != nil {
		t.Fatal(err)
	}
	if op.Description != "initialize repository" {
		t.Errorf("operation = %q", op.Description)
	}
}

func TestInit_Twice(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".gg")
	r, err := Init(dir, testUser)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	if _, err := Init(dir, testUser); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestOpen_NotInitialized(t *testing.T) {
	_, err := Open(t.TempDir(), testUser)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestFinish_PersistsView(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".gg")
	r, err := Init(dir, testUser)
	if err != nil {
		t.Fatal(err)
	}

	tx, err := r.Begin()
	if err != nil {
		t.Fatal(err)
	}
	a := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"a.txt": "a\n"}, "add a")
	tx.SetBookmark("main", a)
	if err := tx.Finish("create a"); err != nil {
		t.Fatal(err)
	}
	r.Close()

	r, err = Open(dir, testUser)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	tx2 := begin(t, r)

	got, ok := tx2.Head(a.ChangeID)
	if !ok || got.ID != a.ID {
		t.Fatalf("change %s not visible after reopen", a.ChangeID)
	}
	if names := tx2.BookmarksOf(a.ChangeID); len(names) != 1 || names[0] != "main" {
		t.Errorf("bookmarks = %v", names)
	}
	if content, _ := readPath(t, tx2, got, "a.txt"); content != "a\n" {
		t.Errorf("a.txt = %q", content)
	}
}

func TestRewrite_RebasesDescendants(t *testing.T) {
	r := setupTestRepo(t)
	tx := begin(t, r)

	a := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"a.txt": "1\n"}, "a")
	b := commitFiles(t, tx, []string{a.ID}, map[string]string{"b.txt": "b\n"}, "b")

	edited := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"a.txt": "2\n"}, "scratch")
	a2, err := tx.Rewrite(a, func(c *Commit) { c.Tree = edited.Tree })
	if err != nil {
		t.Fatal(err)
	}
	if a2.ChangeID != a.ChangeID || a2.ID == a.ID {
		t.Fatalf("rewrite should keep change id and produce a new commit")
	}

	n, err := tx.RebaseDescendants()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 rebased commit, got %d", n)
	}

	b2, ok := tx.Head(b.ChangeID)
	if !ok {
		t.Fatal("b disappeared")
	}
	if b2.Parents[0] != a2.ID {
		t.Errorf("b should be on rewritten a")
	}
	if content, _ := readPath(t, tx, b2, "a.txt"); content != "2\n" {
		t.Errorf("b's a.txt = %q", content)
	}
	if content, _ := readPath(t, tx, b2, "b.txt"); content != "b\n" {
		t.Errorf("b's b.txt = %q", content)
	}

	preds, err := tx.Predecessors(a2)
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 1 || preds[0].ID != a.ID {
		t.Errorf("predecessors = %v", preds)
	}
}

func TestAbandon_MovesChildrenAndDropsChanges(t *testing.T) {
	r := setupTestRepo(t)
	tx := begin(t, r)

	a := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"a.txt": "a\n"}, "a")
	b := commitFiles(t, tx, []string{a.ID}, map[string]string{"b.txt": "b\n"}, "b")
	c := commitFiles(t, tx, []string{b.ID}, map[string]string{"c.txt": "c\n"}, "c")
	tx.SetBookmark("feature", b)

	if err := tx.Abandon(b); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.RebaseDescendants(); err != nil {
		t.Fatal(err)
	}

	c2, ok := tx.Head(c.ChangeID)
	if !ok {
		t.Fatal("c disappeared")
	}
	if len(c2.Parents) != 1 || c2.Parents[0] != a.ID {
		t.Errorf("c should be on a, got %v", c2.Parents)
	}
	if _, ok := readPath(t, tx, c2, "b.txt"); ok {
		t.Error("b.txt should be gone with b")
	}
	if _, ok := readPath(t, tx, c2, "c.txt"); !ok {
		t.Error("c.txt should be kept")
	}

	if err := tx.Finish("abandon b"); err != nil {
		t.Fatal(err)
	}
	tx2 := begin(t, r)
	if _, ok := tx2.Bookmarks()["feature"]; ok {
		t.Error("bookmark on abandoned change should be deleted")
	}
}

func TestAbandon_Root(t *testing.T) {
	r := setupTestRepo(t)
	tx := begin(t, r)

	if err := tx.Abandon(tx.Root()); !errors.Is(err, ErrImmutable) {
		t.Errorf("expected ErrImmutable, got %v", err)
	}
}

func TestAbandon_WorkingCopyIsReplaced(t *testing.T) {
	r := setupTestRepo(t)
	tx := begin(t, r)

	a := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"a.txt": "a\n"}, "a")
	wc := commitFiles(t, tx, []string{a.ID}, map[string]string{"w.txt": "w\n"}, "")
	tx.SetWorkingCopy(wc)

	if err := tx.Abandon(wc); err != nil {
		t.Fatal(err)
	}
	if err := tx.Finish("abandon wc"); err != nil {
		t.Fatal(err)
	}

	tx2 := begin(t, r)
	nwc := tx2.WorkingCopy()
	if nwc == nil {
		t.Fatal("expected a new working copy")
	}
	if nwc.ChangeID == wc.ChangeID {
		t.Error("working copy should be a new change")
	}
	if len(nwc.Parents) != 1 || nwc.Parents[0] != a.ID {
		t.Errorf("new working copy parents = %v", nwc.Parents)
	}
}

func TestRebase_ConflictIsRecorded(t *testing.T) {
	r := setupTestRepo(t)
	tx := begin(t, r)

	base := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"f.txt": "1\n"}, "base")
	left := commitFiles(t, tx, []string{base.ID}, map[string]string{"f.txt": "11\n"}, "left")
	right := commitFiles(t, tx, []string{base.ID}, map[string]string{"f.txt": "2\n"}, "right")

	moved, err := tx.Rebase(right, []string{left.ID})
	if err != nil {
		t.Fatal(err)
	}
	conflicted, err := tx.HasConflict(moved)
	if err != nil {
		t.Fatal(err)
	}
	if !conflicted {
		t.Fatal("expected conflict")
	}
	content, _ := readPath(t, tx, moved, "f.txt")
	if !strings.Contains(content, "<<<<<<< Conflict 1 of 1") {
		t.Errorf("missing markers in %q", content)
	}
}

func TestMergedTree_TwoParents(t *testing.T) {
	r := setupTestRepo(t)
	tx := begin(t, r)

	base := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"f.txt": "a\nb\nc\n"}, "base")
	left := commitFiles(t, tx, []string{base.ID}, map[string]string{"f.txt": "A\nb\nc\n"}, "left")
	right := commitFiles(t, tx, []string{base.ID}, map[string]string{"f.txt": "a\nb\nC\n", "r.txt": "r\n"}, "right")

	mb, err := tx.MergeBase(left.ID, right.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mb != base.ID {
		t.Errorf("merge base = %s, want %s", mb, base.ID)
	}

	merge := commitFiles(t, tx, []string{left.ID, right.ID}, nil, "merge")
	if content, _ := readPath(t, tx, merge, "f.txt"); content != "A\nb\nC\n" {
		t.Errorf("merged f.txt = %q", content)
	}
	if _, ok := readPath(t, tx, merge, "r.txt"); !ok {
		t.Error("r.txt missing from merge")
	}
	empty, err := tx.IsEmpty(merge)
	if err != nil || !empty {
		t.Errorf("clean merge should be empty (err=%v)", err)
	}
}

func TestCommits_LogOrder(t *testing.T) {
	r := setupTestRepo(t)
	tx := begin(t, r)

	a := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"a.txt": "a\n"}, "a")
	b := commitFiles(t, tx, []string{a.ID}, map[string]string{"b.txt": "b\n"}, "b")
	c := commitFiles(t, tx, []string{a.ID}, map[string]string{"c.txt": "c\n"}, "c")

	order := tx.Commits()
	pos := make(map[string]int)
	for i, cm := range order {
		pos[cm.ID] = i
	}
	if pos[c.ID] > pos[b.ID] {
		t.Error("newer sibling should come first")
	}
	if pos[b.ID] > pos[a.ID] || pos[c.ID] > pos[a.ID] {
		t.Error("children should come before parents")
	}
	if order[len(order)-1].ID != r.RootID() {
		t.Error("root should be last")
	}

	children, err := tx.Children(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Errorf("expected 2 children, got %d", len(children))
	}

	ok, err := tx.IsAncestor(r.RootID(), c.ID)
	if err != nil || !ok {
		t.Errorf("root should be an ancestor of c (err=%v)", err)
	}
	ok, err = tx.IsAncestor(b.ID, c.ID)
	if err != nil || ok {
		t.Errorf("b should not be an ancestor of c (err=%v)", err)
	}
}

func TestPreviousView_Undo(t *testing.T) {
	r := setupTestRepo(t)

	tx := begin(t, r)
	if _, _, err := tx.PreviousView(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
	a := commitFiles(t, tx, []string{r.RootID()}, map[string]string{"a.txt": "a\n"}, "a")
	if err := tx.Finish("create a"); err != nil {
		t.Fatal(err)
	}

	tx2 := begin(t, r)
	prev, op, err := tx2.PreviousView()
	if err != nil {
		t.Fatal(err)
	}
	if op.Description != "create a" {
		t.Errorf("undone op = %q", op.Description)
	}
	if err := tx2.RestoreView(prev); err != nil {
		t.Fatal(err)
	}
	if _, ok := tx2.Head(a.ChangeID); ok {
		t.Error("a should be gone after restoring the previous view")
	}
	if err := tx2.Finish("undo operation"); err != nil {
		t.Fatal(err)
	}

	ops, err := r.Operations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 || ops[0].Description != "undo operation" {
		t.Errorf("unexpected operations: %+v", ops)
	}
}
