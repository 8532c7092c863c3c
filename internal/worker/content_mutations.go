package worker

import (
	"sort"
	"strings"

	"gg/internal/cas"
	"gg/internal/messages"
	"gg/internal/repo"
)

// DescribeRevision sets a revision's description, optionally resetting its
// author to the configured user.
type DescribeRevision struct {
	ID             messages.RevId `json:"id"`
	NewDescription string         `json:"new_description"`
	ResetAuthor    bool           `json:"reset_author"`
}

func (m *DescribeRevision) Execute(ws *Workspace) (messages.MutationResult, error) {
	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	c, err := mt.resolveRev(m.ID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.checkMutable(c); err != nil {
		return messages.MutationResult{}, err
	}
	if c.Description == m.NewDescription && !m.ResetAuthor {
		return messages.Unchanged(), nil
	}

	if _, err := mt.tx.Rewrite(c, func(nc *repo.Commit) {
		nc.Description = m.NewDescription
		if m.ResetAuthor {
			nc.Author = mt.tx.ResetAuthor()
		}
	}); err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.rebaseDescendants(); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("describe revision "+cas.Short(c.ChangeID, messages.PrefixLen), "")
}

// CopyChanges sets paths in ToID to their content in FromID. With no paths
// every path FromID changes is copied. FromID is not modified.
type CopyChanges struct {
	FromID messages.CommitId  `json:"from_id"`
	ToID   messages.RevId     `json:"to_id"`
	Paths  []messages.TreePath `json:"paths"`
}

func (m *CopyChanges) Execute(ws *Workspace) (messages.MutationResult, error) {
	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	from, err := mt.resolveCommit(m.FromID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	to, err := mt.resolveRev(m.ToID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.checkMutable(to); err != nil {
		return messages.MutationResult{}, err
	}

	edits, err := mt.pathEdits(from, m.Paths)
	if err != nil {
		return messages.MutationResult{}, err
	}
	tree, err := mt.tx.EditTree(to.Tree, edits)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if tree == to.Tree {
		return messages.Unchanged(), nil
	}

	if _, err := mt.tx.Rewrite(to, func(nc *repo.Commit) { nc.Tree = tree }); err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.rebaseDescendants(); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("restore into revision "+cas.Short(to.ChangeID, messages.PrefixLen), "")
}

// MoveChanges moves what FromID does to paths into ToID, leaving those paths
// in FromID as its parents have them. FromID is abandoned if that leaves it
// empty and undescribed.
type MoveChanges struct {
	FromID messages.RevId      `json:"from_id"`
	ToID   messages.CommitId   `json:"to_id"`
	Paths  []messages.TreePath `json:"paths"`
}

func (m *MoveChanges) Execute(ws *Workspace) (messages.MutationResult, error) {
	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	from, err := mt.resolveRev(m.FromID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	to, err := mt.resolveCommit(m.ToID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if from.ID == to.ID {
		return messages.Unchanged(), nil
	}
	if err := mt.checkMutable(from); err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.checkMutable(to); err != nil {
		return messages.MutationResult{}, err
	}

	edits, err := mt.pathEdits(from, m.Paths)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if len(edits) == 0 {
		return messages.Unchanged(), nil
	}
	paths := make([]string, 0, len(edits))
	for p := range edits {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	toFirst, err := mt.tx.IsAncestor(to.ID, from.ID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if toFirst {
		if err := mt.applyEdits(to.ChangeID, edits); err != nil {
			return messages.MutationResult{}, err
		}
		if err := mt.restoreFromParents(from.ChangeID, paths); err != nil {
			return messages.MutationResult{}, err
		}
	} else {
		if err := mt.restoreFromParents(from.ChangeID, paths); err != nil {
			return messages.MutationResult{}, err
		}
		if err := mt.applyEdits(to.ChangeID, edits); err != nil {
			return messages.MutationResult{}, err
		}
	}

	if err := mt.abandonIfHollow(from.ChangeID); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("squash "+plural(len(paths), "path", "paths")+" into revision "+
		cas.Short(to.ChangeID, messages.PrefixLen), "")
}

// pathEdits returns, for each path, the entry c has for it: nil where c
// deleted the path. No paths means every path c changes.
func (mt *mutationTx) pathEdits(c *repo.Commit, paths []messages.TreePath) (map[string]*repo.TreeEntry, error) {
	changes, err := mt.tx.Changes(c)
	if err != nil {
		return nil, err
	}
	changed := make(map[string]bool, len(changes))
	for _, ch := range changes {
		changed[ch.Path] = true
	}

	want := make([]string, 0, len(paths))
	if len(paths) == 0 {
		for _, ch := range changes {
			want = append(want, ch.Path)
		}
	}
	for _, p := range paths {
		want = append(want, p.RepoPath)
	}

	tree, err := mt.tx.Tree(c.Tree)
	if err != nil {
		return nil, err
	}
	edits := make(map[string]*repo.TreeEntry, len(want))
	for _, p := range want {
		e := tree.Entry(p)
		switch {
		case e != nil:
			cp := *e
			edits[p] = &cp
		case changed[p]:
			edits[p] = nil
		default:
			return nil, preconditionf("%w: path %s in revision %s", repo.ErrNotFound, p,
				cas.Short(c.ChangeID, messages.PrefixLen))
		}
	}
	return edits, nil
}

// applyEdits rewrites the current commit of change with edits applied to its
// tree, then rebases descendants.
func (mt *mutationTx) applyEdits(change string, edits map[string]*repo.TreeEntry) error {
	c, ok := mt.tx.Head(change)
	if !ok {
		return preconditionf("revision not found: %s", cas.Short(change, messages.PrefixLen))
	}
	tree, err := mt.tx.EditTree(c.Tree, edits)
	if err != nil {
		return err
	}
	if tree == c.Tree {
		return nil
	}
	if _, err := mt.tx.Rewrite(c, func(nc *repo.Commit) { nc.Tree = tree }); err != nil {
		return err
	}
	return mt.rebaseDescendants()
}

// restoreFromParents sets paths in the current commit of change back to
// their content in its parents.
func (mt *mutationTx) restoreFromParents(change string, paths []string) error {
	c, ok := mt.tx.Head(change)
	if !ok {
		return preconditionf("revision not found: %s", cas.Short(change, messages.PrefixLen))
	}
	baseID, err := mt.tx.MergedTree(c.Parents)
	if err != nil {
		return err
	}
	base, err := mt.tx.Tree(baseID)
	if err != nil {
		return err
	}
	edits := make(map[string]*repo.TreeEntry, len(paths))
	for _, p := range paths {
		if e := base.Entry(p); e != nil {
			cp := *e
			edits[p] = &cp
		} else {
			edits[p] = nil
		}
	}
	return mt.applyEdits(change, edits)
}

// abandonIfHollow abandons change if it no longer changes anything and
// carries no description or bookmark.
func (mt *mutationTx) abandonIfHollow(change string) error {
	c, ok := mt.tx.Head(change)
	if !ok || strings.TrimSpace(c.Description) != "" || len(mt.tx.BookmarksOf(change)) > 0 {
		return nil
	}
	empty, err := mt.tx.IsEmpty(c)
	if err != nil || !empty {
		return err
	}
	if err := mt.tx.Abandon(c); err != nil {
		return err
	}
	return mt.rebaseDescendants()
}
