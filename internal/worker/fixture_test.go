package worker

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gg/internal/messages"
	"gg/internal/repo"
)

// deleted as a file's content makes fixture.commit remove the path.
const deleted = "\x00deleted"

type fixture struct {
	t  *testing.T
	ws *Workspace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("GG_AUTHOR_NAME", "Test User")
	t.Setenv("GG_AUTHOR_EMAIL", "test.user@example.com")

	s := &WorkerSession{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ws, err := s.InitDirectory(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &fixture{t: t, ws: ws}
}

func (f *fixture) root() messages.RevId {
	return messages.NewRevId(repo.RootChangeID, f.ws.repo.RootID())
}

// commit records a revision on parents (the root if none) that writes files.
// A content of deleted removes the path.
// It bypasses the mutation layer and leaves the working copy alone.
func (f *fixture) commit(desc string, parents []messages.RevId, files map[string]string) messages.RevId {
	f.t.Helper()
	f.ws.mu.Lock()
	defer f.ws.mu.Unlock()

	tx, err := f.ws.repo.Begin()
	require.NoError(f.t, err)
	defer tx.Rollback()

	var parentIDs []string
	for _, p := range parents {
		c, ok := tx.Head(p.Change.Hex)
		require.True(f.t, ok, "parent %s not visible", p.Change.Prefix)
		parentIDs = append(parentIDs, c.ID)
	}
	if len(parentIDs) == 0 {
		parentIDs = []string{tx.Root().ID}
	}

	base, err := tx.MergedTree(parentIDs)
	require.NoError(f.t, err)
	edits := make(map[string]*repo.TreeEntry)
	for path, content := range files {
		if content == deleted {
			edits[path] = nil
			continue
		}
		e, err := tx.WriteFile(path, []byte(content))
		require.NoError(f.t, err)
		edits[path] = &e
	}
	tree, err := tx.EditTree(base, edits)
	require.NoError(f.t, err)

	c, err := tx.NewCommit(parentIDs, tree, desc)
	require.NoError(f.t, err)
	require.NoError(f.t, tx.Finish("test commit "+desc))
	return messages.NewRevId(c.ChangeID, c.ID)
}

// execute runs m and fails the test if it did not apply.
func (f *fixture) execute(m Mutation) messages.MutationResult {
	f.t.Helper()
	res := Execute(f.ws, m)
	require.False(f.t, res.Failed(), "%s: %s", res.Type, res.Message)
	return res
}

// detail queries the current revision of id's change.
func (f *fixture) detail(id messages.RevId) messages.RevResult {
	f.t.Helper()
	res, err := QueryRevision(f.ws, messages.RevId{Change: id.Change})
	require.NoError(f.t, err)
	require.Equal(f.t, messages.RevResultDetail, res.Type, "revision %s", id.Change.Prefix)
	return res
}

func (f *fixture) header(id messages.RevId) messages.RevHeader {
	f.t.Helper()
	return *f.detail(id).Header
}

// current returns the up-to-date id of id's change.
func (f *fixture) current(id messages.RevId) messages.RevId {
	f.t.Helper()
	return f.header(id).ID
}

// exists queries id as the caller holds it, change and commit together.
func (f *fixture) exists(id messages.RevId) bool {
	f.t.Helper()
	res, err := QueryRevision(f.ws, id)
	require.NoError(f.t, err)
	return res.Type == messages.RevResultDetail
}

func (f *fixture) workingCopy() messages.RevHeader {
	f.t.Helper()
	page, err := QueryLog(f.ws, "@", 1)
	require.NoError(f.t, err)
	require.Len(f.t, page.Rows, 1)
	return page.Rows[0].Revision
}

func (f *fixture) logCount(expr string) int {
	f.t.Helper()
	page, err := QueryLog(f.ws, expr, 10000)
	require.NoError(f.t, err)
	return len(page.Rows)
}

// file reads path from the current revision of id's change.
func (f *fixture) file(id messages.RevId, path string) (string, bool) {
	f.t.Helper()
	f.ws.mu.Lock()
	defer f.ws.mu.Unlock()

	tx, err := f.ws.repo.Begin()
	require.NoError(f.t, err)
	defer tx.Rollback()

	c := lookupRev(tx, messages.RevId{Change: id.Change})
	require.NotNil(f.t, c)
	mt := &mutationTx{ws: f.ws, tx: tx}
	text, ok, err := mt.fileText(c, path)
	require.NoError(f.t, err)
	return text, ok
}

func (f *fixture) changedPaths(id messages.RevId) []string {
	f.t.Helper()
	var paths []string
	for _, ch := range f.detail(id).Changes {
		paths = append(paths, ch.Path.RepoPath)
	}
	return paths
}

func (f *fixture) writeDisk(path, content string) {
	f.t.Helper()
	full := filepath.Join(f.ws.Root(), filepath.FromSlash(path))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(f.t, os.WriteFile(full, []byte(content), 0644))
}

func (f *fixture) readDisk(path string) (string, bool) {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.ws.Root(), filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return "", false
	}
	require.NoError(f.t, err)
	return string(data), true
}

func commitIDs(ids ...messages.RevId) []messages.CommitId {
	out := make([]messages.CommitId, len(ids))
	for i, id := range ids {
		out[i] = id.Commit
	}
	return out
}
