package repo

import (
	"fmt"

	"gg/internal/cas"
	"gg/internal/graph"
)

// writeCommit stores c and makes it the visible commit of its change.
func (tx *Tx) writeCommit(c *Commit) (*Commit, error) {
	if c.Parents == nil {
		c.Parents = []string{}
	}
	id, err := tx.repo.db.InsertNode(tx.q, graph.KindCommit, c)
	if err != nil {
		return nil, fmt.Errorf("inserting commit: %w", err)
	}
	c.ID = id
	tx.commits[id] = c

	for i, p := range c.Parents {
		if err := tx.repo.db.InsertEdge(tx.q, id, graph.EdgeParent, p, fmt.Sprintf("%03d", i)); err != nil {
			return nil, err
		}
	}
	if err := tx.repo.db.InsertEdge(tx.q, id, graph.EdgeHasTree, c.Tree, ""); err != nil {
		return nil, err
	}

	if old, ok := tx.view.Heads[c.ChangeID]; ok {
		delete(tx.visible, old.Commit)
	}
	tx.view.Heads[c.ChangeID] = Head{Commit: id, Seq: tx.nextSeq}
	tx.nextSeq++
	tx.visible[id] = c
	return c, nil
}

func (tx *Tx) signature() Signature {
	sig := tx.repo.user
	sig.Timestamp = cas.NowMs()
	return sig
}

func (tx *Tx) checkMutable(c *Commit) error {
	if c.ID == tx.root.ID {
		return fmt.Errorf("%w: root commit", ErrImmutable)
	}
	return nil
}

// NewCommit creates a revision with a fresh change id.
func (tx *Tx) NewCommit(parents []string, tree string, description string) (*Commit, error) {
	return tx.NewCommitBy(parents, tree, description, tx.signature())
}

// NewCommitBy is NewCommit with an explicit author, as for imported history.
func (tx *Tx) NewCommitBy(parents []string, tree string, description string, author Signature) (*Commit, error) {
	if len(parents) == 0 {
		parents = []string{tx.root.ID}
	}
	return tx.writeCommit(&Commit{
		ChangeID:    newChangeID(),
		Parents:     append([]string{}, parents...),
		Tree:        tree,
		Description: description,
		Author:      author,
		Committer:   tx.signature(),
	})
}

// ResetAuthor returns the configured user with a fresh timestamp.
func (tx *Tx) ResetAuthor() Signature {
	return tx.signature()
}

// Duplicate copies c under a new change id, keeping its parents, tree,
// description and author identity. Both timestamps are fresh.
func (tx *Tx) Duplicate(c *Commit) (*Commit, error) {
	if err := tx.checkMutable(c); err != nil {
		return nil, err
	}
	dup := c.clone()
	dup.ChangeID = newChangeID()
	dup.Committer = tx.signature()
	dup.Author.Timestamp = dup.Committer.Timestamp
	return tx.writeCommit(dup)
}

// Rewrite creates a successor of c with edit applied. Descendants are not
// touched until RebaseDescendants.
func (tx *Tx) Rewrite(c *Commit, edit func(*Commit)) (*Commit, error) {
	if err := tx.checkMutable(c); err != nil {
		return nil, err
	}
	next := c.clone()
	edit(next)
	next.Committer = tx.signature()

	nc, err := tx.writeCommit(next)
	if err != nil {
		return nil, err
	}
	if nc.ID != c.ID {
		tx.mapping[c.ID] = []string{nc.ID}
		if err := tx.repo.db.InsertEdge(tx.q, nc.ID, graph.EdgeSupersedes, c.ID, ""); err != nil {
			return nil, err
		}
	}
	return nc, nil
}

// Rebase moves c onto parents, carrying its own diff along by merging it
// onto the new parents' tree.
func (tx *Tx) Rebase(c *Commit, parents []string) (*Commit, error) {
	oldBase, err := tx.MergedTree(c.Parents)
	if err != nil {
		return nil, err
	}
	newBase, err := tx.MergedTree(parents)
	if err != nil {
		return nil, err
	}
	tree, err := tx.MergeTrees(oldBase, newBase, c.Tree)
	if err != nil {
		return nil, fmt.Errorf("rebasing %s: %w", cas.Short(c.ChangeID, 8), err)
	}
	return tx.Rewrite(c, func(nc *Commit) {
		nc.Parents = append([]string{}, parents...)
		nc.Tree = tree
	})
}

// Abandon hides c. Its children are moved onto its parents by RebaseDescendants.
func (tx *Tx) Abandon(c *Commit) error {
	if err := tx.checkMutable(c); err != nil {
		return err
	}
	if h, ok := tx.view.Heads[c.ChangeID]; !ok || h.Commit != c.ID {
		return fmt.Errorf("%w: %s is not visible", ErrNotFound, cas.Short(c.ID, 12))
	}
	delete(tx.view.Heads, c.ChangeID)
	delete(tx.visible, c.ID)
	tx.mapping[c.ID] = append([]string{}, c.Parents...)
	if c.ChangeID == tx.view.WorkingCopy {
		tx.orphanedWC = c
	}
	return nil
}

// Detach makes c's children move onto c's parents at the next
// RebaseDescendants while leaving c itself in place.
func (tx *Tx) Detach(c *Commit) error {
	if err := tx.checkMutable(c); err != nil {
		return err
	}
	tx.mapping[c.ID] = append([]string{}, c.Parents...)
	return nil
}

// MapParents replaces rewritten and abandoned commits in parents by their
// replacements, recursively, dropping duplicates.
func (tx *Tx) MapParents(parents []string) []string {
	var out []string
	seen := make(map[string]bool)
	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if repl, ok := tx.mapping[id]; ok && depth < 1000 {
			for _, r := range repl {
				visit(r, depth+1)
			}
			return
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, p := range parents {
		visit(p, 0)
	}
	if len(out) == 0 {
		out = []string{tx.root.ID}
	}
	return out
}

func (tx *Tx) needsRebase(c *Commit) bool {
	for _, p := range c.Parents {
		if _, ok := tx.mapping[p]; ok {
			return true
		}
	}
	return false
}

// RebaseDescendants rebases every visible commit whose parents were rewritten,
// abandoned or detached. It returns the number of commits rebased.
func (tx *Tx) RebaseDescendants() (int, error) {
	count := 0
	for pass := 0; ; pass++ {
		if pass > len(tx.visible)+1 {
			return count, fmt.Errorf("rebasing descendants did not converge")
		}
		order := tx.Commits()
		progressed := false
		for i := len(order) - 1; i >= 0; i-- {
			c := order[i]
			if _, ok := tx.visible[c.ID]; !ok || !tx.needsRebase(c) {
				continue
			}
			if _, err := tx.Rebase(c, tx.MapParents(c.Parents)); err != nil {
				return count, err
			}
			count++
			progressed = true
		}
		if !progressed {
			return count, nil
		}
	}
}

// ensureWorkingCopy replaces an abandoned working copy with a new empty
// commit on the abandoned commit's (rewritten) parents.
func (tx *Tx) ensureWorkingCopy() error {
	if tx.WorkingCopy() != nil {
		return nil
	}
	parents := []string{tx.root.ID}
	if tx.orphanedWC != nil {
		parents = tx.MapParents(tx.orphanedWC.Parents)
	}
	tree, err := tx.MergedTree(parents)
	if err != nil {
		return err
	}
	wc, err := tx.NewCommit(parents, tree, "")
	if err != nil {
		return err
	}
	tx.SetWorkingCopy(wc)
	return nil
}
