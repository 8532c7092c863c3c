package worker

import (
	"bytes"
	"fmt"
	"strings"

	"gg/internal/diff"
	"gg/internal/messages"
	"gg/internal/repo"
	"gg/internal/revset"
)

// HunkContext is the number of unchanged lines around each reported hunk.
const HunkContext = 3

// QueryRevision describes the revision id names. A revision that does not
// exist is reported as NotFound, not as an error.
func QueryRevision(ws *Workspace, id messages.RevId) (messages.RevResult, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := ws.reconcile(); err != nil {
		return messages.RevResult{}, err
	}

	tx, err := ws.repo.Begin()
	if err != nil {
		return messages.RevResult{}, err
	}
	defer tx.Rollback()

	c := lookupRev(tx, id)
	if c == nil {
		return messages.NewRevNotFound(id), nil
	}

	immutable, err := ws.immutableSet(tx)
	if err != nil {
		return messages.RevResult{}, err
	}
	header, err := buildHeader(tx, immutable, c)
	if err != nil {
		return messages.RevResult{}, err
	}

	parents, err := tx.Parents(c)
	if err != nil {
		return messages.RevResult{}, err
	}
	parentHeaders := make([]messages.RevHeader, 0, len(parents))
	for _, p := range parents {
		ph, err := buildHeader(tx, immutable, p)
		if err != nil {
			return messages.RevResult{}, err
		}
		parentHeaders = append(parentHeaders, ph)
	}

	changes, err := revChanges(tx, c)
	if err != nil {
		return messages.RevResult{}, err
	}
	return messages.NewRevDetail(header, parentHeaders, changes), nil
}

// lookupRev resolves id without failing: change id first, then commit id.
// A change with no visible head is gone. A superseded commit id resolves to
// its change's current commit.
func lookupRev(tx *repo.Tx, id messages.RevId) *repo.Commit {
	if id.Change.Hex != "" {
		if c, ok := tx.Head(id.Change.Hex); ok {
			return c
		}
		return nil
	}
	if id.Commit.Hex == "" {
		return nil
	}
	if c, ok := tx.Visible(id.Commit.Hex); ok {
		return c
	}
	c, err := tx.Commit(id.Commit.Hex)
	if err != nil {
		return nil
	}
	if head, ok := tx.Head(c.ChangeID); ok {
		return head
	}
	return nil
}

// QueryLog evaluates expr and returns up to limit revisions in log order.
// A non-positive limit uses the configured default.
func QueryLog(ws *Workspace, expr string, limit int) (messages.LogPage, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if strings.TrimSpace(expr) == "" {
		expr = ws.cfg.Log.DefaultQuery
	}
	if limit <= 0 {
		limit = ws.cfg.Log.Limit
	}

	if err := ws.reconcile(); err != nil {
		return messages.LogPage{}, err
	}

	tx, err := ws.repo.Begin()
	if err != nil {
		return messages.LogPage{}, err
	}
	defer tx.Rollback()

	commits, err := revset.NewEvaluator(tx, ws.cfg.User.Email).Evaluate(expr)
	if err != nil {
		return messages.LogPage{}, err
	}
	ws.latestQuery = expr

	immutable, err := ws.immutableSet(tx)
	if err != nil {
		return messages.LogPage{}, err
	}

	page := messages.LogPage{Rows: []messages.LogRow{}}
	if len(commits) > limit {
		commits = commits[:limit]
		page.HasMore = true
	}
	for _, c := range commits {
		h, err := buildHeader(tx, immutable, c)
		if err != nil {
			return messages.LogPage{}, err
		}
		page.Rows = append(page.Rows, messages.LogRow{Revision: h})
	}
	return page, nil
}

// ResolveRevision evaluates expr and requires it to select exactly one
// revision. It leaves the latest log query alone.
func ResolveRevision(ws *Workspace, expr string) (messages.RevHeader, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := ws.reconcile(); err != nil {
		return messages.RevHeader{}, err
	}

	tx, err := ws.repo.Begin()
	if err != nil {
		return messages.RevHeader{}, err
	}
	defer tx.Rollback()

	c, err := revset.NewEvaluator(tx, ws.cfg.User.Email).Resolve(expr)
	if err != nil {
		return messages.RevHeader{}, err
	}
	immutable, err := ws.immutableSet(tx)
	if err != nil {
		return messages.RevHeader{}, err
	}
	return buildHeader(tx, immutable, c)
}

// QueryStatus reports the latest operation and the working-copy revision.
func QueryStatus(ws *Workspace) (messages.RepoStatus, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := ws.reconcile(); err != nil {
		return messages.RepoStatus{}, err
	}
	return ws.queryStatus()
}

// QueryOperations returns up to limit operation log entries, newest first.
func QueryOperations(ws *Workspace, limit int) ([]messages.OperationEntry, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := ws.reconcile(); err != nil {
		return nil, err
	}

	ops, err := ws.repo.Operations(limit)
	if err != nil {
		return nil, err
	}
	entries := make([]messages.OperationEntry, 0, len(ops))
	for _, op := range ops {
		entries = append(entries, messages.OperationEntry{Seq: op.Seq, Description: op.Description, Timestamp: op.CreatedAt})
	}
	return entries, nil
}

func (ws *Workspace) queryStatus() (messages.RepoStatus, error) {
	tx, err := ws.repo.Begin()
	if err != nil {
		return messages.RepoStatus{}, err
	}
	defer tx.Rollback()

	op, err := tx.LastOperation()
	if err != nil {
		return messages.RepoStatus{}, err
	}
	return ws.status(tx, op.Description), nil
}

func buildHeader(tx *repo.Tx, immutable revset.Set, c *repo.Commit) (messages.RevHeader, error) {
	conflict, err := tx.HasConflict(c)
	if err != nil {
		return messages.RevHeader{}, err
	}

	parentIDs := make([]messages.CommitId, 0, len(c.Parents))
	for _, p := range c.Parents {
		parentIDs = append(parentIDs, messages.NewCommitId(p))
	}
	bookmarks := tx.BookmarksOf(c.ChangeID)
	if bookmarks == nil {
		bookmarks = []string{}
	}

	wc := tx.WorkingCopy()
	return messages.RevHeader{
		ID:          messages.NewRevId(c.ChangeID, c.ID),
		Description: messages.NewMultilineString(c.Description),
		Author: messages.RevAuthor{
			Email:     c.Author.Email,
			Name:      c.Author.Name,
			Timestamp: c.Author.Timestamp,
		},
		HasConflict:   conflict,
		IsWorkingCopy: wc != nil && wc.ID == c.ID,
		IsImmutable:   immutable[c.ID],
		Bookmarks:     bookmarks,
		ParentIDs:     parentIDs,
	}, nil
}

// revChanges lists what c changes relative to its parents, with hunks.
func revChanges(tx *repo.Tx, c *repo.Commit) ([]messages.RevChange, error) {
	changes, err := tx.Changes(c)
	if err != nil {
		return nil, err
	}

	out := make([]messages.RevChange, 0, len(changes))
	for _, ch := range changes {
		before, err := entryText(tx, ch.Before)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ch.Path, err)
		}
		after, err := entryText(tx, ch.After)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ch.Path, err)
		}

		rc := messages.RevChange{
			Kind:        changeKind(ch.Kind),
			Path:        messages.NewTreePath(ch.Path),
			HasConflict: ch.After != nil && ch.After.Conflict,
			Hunks:       []messages.ChangeHunk{},
		}
		if !isBinary(before) && !isBinary(after) {
			rc.Hunks = changeHunks(string(before), string(after))
		}
		out = append(out, rc)
	}
	return out, nil
}

func entryText(tx *repo.Tx, e *repo.TreeEntry) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	return tx.ReadFile(e)
}

func isBinary(content []byte) bool {
	return bytes.IndexByte(content, 0) >= 0
}

func changeKind(k repo.ChangeKind) messages.ChangeKind {
	switch k {
	case repo.ChangeAdded:
		return messages.ChangeKindAdded
	case repo.ChangeDeleted:
		return messages.ChangeKindDeleted
	default:
		return messages.ChangeKindModified
	}
}

func changeHunks(before, after string) []messages.ChangeHunk {
	hunks := diff.Hunks(before, after, HunkContext)
	out := make([]messages.ChangeHunk, 0, len(hunks))
	for _, h := range hunks {
		out = append(out, messages.ChangeHunk{
			Location: messages.HunkLocation{
				FromFile: messages.FileRange{Start: h.OldStart, Len: h.OldLines},
				ToFile:   messages.FileRange{Start: h.NewStart, Len: h.NewLines},
			},
			Lines: messages.MultilineString{Lines: h.Lines},
		})
	}
	return out
}
