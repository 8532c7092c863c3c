package repo

import (
	"container/heap"
	"database/sql"
	"fmt"
	"sort"

	"gg/internal/cas"
	"gg/internal/graph"
)

// Tx is a unit of work against the store. Reads see the transaction's own
// writes. Nothing is persisted until Finish.
type Tx struct {
	repo  *Repo
	q     graph.Querier
	sqlTx *sql.Tx

	view    *View
	visible map[string]*Commit // commit id -> visible commit
	commits map[string]*Commit // every commit loaded so far
	trees   map[string]*Tree
	root    *Commit
	nextSeq int64

	// mapping records what each rewritten, abandoned or detached commit is
	// replaced by, for rebasing its descendants.
	mapping map[string][]string
	// orphanedWC is the working-copy commit if it was abandoned.
	orphanedWC *Commit

	done bool
}

// Rollback discards the transaction. It is safe to call after Finish.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.sqlTx.Rollback()
}

// Repo returns the store the transaction belongs to.
func (tx *Tx) Repo() *Repo {
	return tx.repo
}

// Root returns the root commit.
func (tx *Tx) Root() *Commit {
	return tx.root
}

// Commit loads any commit, visible or not.
func (tx *Tx) Commit(id string) (*Commit, error) {
	if c, ok := tx.commits[id]; ok {
		return c, nil
	}
	node, err := tx.repo.db.GetNode(tx.q, id)
	if err != nil {
		return nil, err
	}
	if node == nil || node.Kind != graph.KindCommit {
		return nil, fmt.Errorf("%w: commit %s", ErrNotFound, cas.Short(id, 12))
	}
	c := &Commit{}
	if err := node.Decode(c); err != nil {
		return nil, fmt.Errorf("decoding commit: %w", err)
	}
	c.ID = id
	tx.commits[id] = c
	return c, nil
}

// Tree loads a tree by id.
func (tx *Tx) Tree(id string) (*Tree, error) {
	if t, ok := tx.trees[id]; ok {
		return t, nil
	}
	node, err := tx.repo.db.GetNode(tx.q, id)
	if err != nil {
		return nil, err
	}
	if node == nil || node.Kind != graph.KindTree {
		return nil, fmt.Errorf("%w: tree %s", ErrNotFound, cas.Short(id, 12))
	}
	t := &Tree{}
	if err := node.Decode(t); err != nil {
		return nil, fmt.Errorf("decoding tree: %w", err)
	}
	t.ID = id
	tx.trees[id] = t
	return t, nil
}

// ReadFile returns the content of a tree entry.
func (tx *Tx) ReadFile(e *TreeEntry) ([]byte, error) {
	return tx.repo.db.ReadObject(e.Digest)
}

// Head returns the visible commit of a change.
func (tx *Tx) Head(changeID string) (*Commit, bool) {
	h, ok := tx.view.Heads[changeID]
	if !ok {
		return nil, false
	}
	c, ok := tx.visible[h.Commit]
	return c, ok
}

// Visible returns the commit if it is visible.
func (tx *Tx) Visible(commitID string) (*Commit, bool) {
	c, ok := tx.visible[commitID]
	return c, ok
}

// WorkingCopy returns the working-copy commit, or nil if it was abandoned
// in this transaction.
func (tx *Tx) WorkingCopy() *Commit {
	c, _ := tx.Head(tx.view.WorkingCopy)
	return c
}

// SetWorkingCopy moves the working-copy pointer to c's change.
func (tx *Tx) SetWorkingCopy(c *Commit) {
	tx.view.WorkingCopy = c.ChangeID
	tx.orphanedWC = nil
}

// Bookmarks returns bookmark name to change id.
func (tx *Tx) Bookmarks() map[string]string {
	return tx.view.Bookmarks
}

// BookmarksOf returns the sorted bookmark names pointing at a change.
func (tx *Tx) BookmarksOf(changeID string) []string {
	var names []string
	for name, ch := range tx.view.Bookmarks {
		if ch == changeID {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SetBookmark points name at a change, creating it if needed.
func (tx *Tx) SetBookmark(name string, c *Commit) {
	tx.view.Bookmarks[name] = c.ChangeID
}

// DeleteBookmark removes a bookmark. It reports whether it existed.
func (tx *Tx) DeleteBookmark(name string) bool {
	_, ok := tx.view.Bookmarks[name]
	delete(tx.view.Bookmarks, name)
	return ok
}

// Seq returns the write sequence number of a change; higher is newer.
func (tx *Tx) Seq(changeID string) int64 {
	return tx.view.Heads[changeID].Seq
}

// Parents loads the parent commits of c.
func (tx *Tx) Parents(c *Commit) ([]*Commit, error) {
	parents := make([]*Commit, 0, len(c.Parents))
	for _, id := range c.Parents {
		p, err := tx.Commit(id)
		if err != nil {
			return nil, err
		}
		parents = append(parents, p)
	}
	return parents, nil
}

// Children returns the visible commits that have c as a parent.
func (tx *Tx) Children(commitID string) ([]*Commit, error) {
	edges, err := tx.repo.db.GetEdgesTo(tx.q, commitID, graph.EdgeParent)
	if err != nil {
		return nil, err
	}
	var children []*Commit
	seen := make(map[string]bool)
	for _, e := range edges {
		if c, ok := tx.visible[e.Src]; ok && !seen[c.ID] {
			seen[c.ID] = true
			children = append(children, c)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return tx.Seq(children[i].ChangeID) > tx.Seq(children[j].ChangeID)
	})
	return children, nil
}

// Predecessors returns the commits c was rewritten from.
func (tx *Tx) Predecessors(c *Commit) ([]*Commit, error) {
	edges, err := tx.repo.db.GetEdges(tx.q, c.ID, graph.EdgeSupersedes)
	if err != nil {
		return nil, err
	}
	preds := make([]*Commit, 0, len(edges))
	for _, e := range edges {
		p, err := tx.Commit(e.Dst)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// IsAncestor reports whether a is an ancestor of b or equal to it.
func (tx *Tx) IsAncestor(a, b string) (bool, error) {
	if a == b {
		return true, nil
	}
	seen := map[string]bool{b: true}
	queue := []string{b}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		c, err := tx.Commit(id)
		if err != nil {
			return false, err
		}
		for _, p := range c.Parents {
			if p == a {
				return true, nil
			}
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// Commits returns all visible commits in log order: every commit before its
// parents, ties broken by most recently written first.
func (tx *Tx) Commits() []*Commit {
	pending := make(map[string]int, len(tx.visible))
	for _, c := range tx.visible {
		for _, p := range uniq(c.Parents) {
			if _, ok := tx.visible[p]; ok {
				pending[p]++
			}
		}
	}

	h := &seqHeap{tx: tx}
	for id, c := range tx.visible {
		if pending[id] == 0 {
			heap.Push(h, c)
		}
	}

	out := make([]*Commit, 0, len(tx.visible))
	for h.Len() > 0 {
		c := heap.Pop(h).(*Commit)
		out = append(out, c)
		for _, p := range uniq(c.Parents) {
			pc, ok := tx.visible[p]
			if !ok {
				continue
			}
			pending[p]--
			if pending[p] == 0 {
				heap.Push(h, pc)
			}
		}
	}
	return out
}

type seqHeap struct {
	tx    *Tx
	items []*Commit
}

func (h *seqHeap) Len() int { return len(h.items) }
func (h *seqHeap) Less(i, j int) bool {
	si, sj := h.tx.Seq(h.items[i].ChangeID), h.tx.Seq(h.items[j].ChangeID)
	if si != sj {
		return si > sj
	}
	return h.items[i].ID < h.items[j].ID
}
func (h *seqHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *seqHeap) Push(x interface{}) { h.items = append(h.items, x.(*Commit)) }
func (h *seqHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// LastOperation returns the newest operation visible to this transaction.
func (tx *Tx) LastOperation() (*Operation, error) {
	ops, err := operations(tx.q, 1)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, ErrNotInitialized
	}
	return &ops[0], nil
}

// Finish persists the view, appends an operation with the given
// description and commits.
func (tx *Tx) Finish(description string) error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	if err := tx.ensureWorkingCopy(); err != nil {
		return err
	}
	for name, change := range tx.view.Bookmarks {
		if _, ok := tx.view.Heads[change]; !ok {
			delete(tx.view.Bookmarks, name)
		}
	}

	now := cas.NowMs()
	if _, err := tx.q.Exec(`DELETE FROM changes`); err != nil {
		return fmt.Errorf("clearing changes: %w", err)
	}
	for change, h := range tx.view.Heads {
		if _, err := tx.q.Exec(`INSERT INTO changes (change_id, commit_id, seq) VALUES (?, ?, ?)`,
			change, h.Commit, h.Seq); err != nil {
			return fmt.Errorf("inserting change: %w", err)
		}
	}

	if err := tx.saveRefs(now); err != nil {
		return err
	}

	if _, err := tx.q.Exec(`
		INSERT INTO working_copies (name, change_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET change_id = excluded.change_id, updated_at = excluded.updated_at
	`, DefaultWorkspace, tx.view.WorkingCopy, now); err != nil {
		return fmt.Errorf("updating working copy: %w", err)
	}

	viewJSON, err := encodeView(tx.view)
	if err != nil {
		return err
	}
	if _, err := tx.q.Exec(`INSERT INTO operations (description, view, created_at) VALUES (?, ?, ?)`,
		description, viewJSON, now); err != nil {
		return fmt.Errorf("recording operation: %w", err)
	}

	if err := tx.sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	tx.done = true
	return nil
}

func (tx *Tx) saveRefs(now int64) error {
	rows, err := tx.q.Query(`SELECT name FROM refs`)
	if err != nil {
		return fmt.Errorf("querying refs: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		if _, ok := tx.view.Bookmarks[name]; !ok {
			stale = append(stale, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range stale {
		if _, err := tx.q.Exec(`DELETE FROM refs WHERE name = ?`, name); err != nil {
			return fmt.Errorf("deleting ref: %w", err)
		}
	}
	for name, change := range tx.view.Bookmarks {
		_, err := tx.q.Exec(`
			INSERT INTO refs (name, change_id, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET change_id = excluded.change_id, updated_at = excluded.updated_at
			WHERE refs.change_id != excluded.change_id
		`, name, change, now, now)
		if err != nil {
			return fmt.Errorf("updating ref %s: %w", name, err)
		}
	}
	return nil
}

// PreviousView returns the view recorded by the operation before the latest one.
func (tx *Tx) PreviousView() (*View, *Operation, error) {
	ops, err := operations(tx.q, 2)
	if err != nil {
		return nil, nil, err
	}
	if len(ops) < 2 {
		return nil, nil, ErrNothingToUndo
	}

	var viewJSON string
	if err := tx.q.QueryRow(`SELECT view FROM operations WHERE seq = ?`, ops[1].Seq).Scan(&viewJSON); err != nil {
		return nil, nil, fmt.Errorf("loading operation view: %w", err)
	}
	v := newView()
	if err := decodeView(viewJSON, v); err != nil {
		return nil, nil, err
	}
	return v, &ops[0], nil
}

// RestoreView replaces the transaction's view wholesale.
func (tx *Tx) RestoreView(v *View) error {
	tx.view = v.clone()
	tx.orphanedWC = nil
	for _, h := range tx.view.Heads {
		if h.Seq >= tx.nextSeq {
			tx.nextSeq = h.Seq + 1
		}
	}
	return tx.reindex()
}
