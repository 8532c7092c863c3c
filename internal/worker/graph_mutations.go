package worker

import (
	"gg/internal/cas"
	"gg/internal/messages"
	"gg/internal/repo"
)

// AbandonRevisions hides revisions, moving their children onto their parents.
type AbandonRevisions struct {
	IDs []messages.CommitId `json:"ids"`
}

func (m *AbandonRevisions) Execute(ws *Workspace) (messages.MutationResult, error) {
	if len(m.IDs) == 0 {
		return messages.Unchanged(), nil
	}

	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	var targets []*repo.Commit
	seen := make(map[string]bool)
	for _, id := range m.IDs {
		c, err := mt.resolveCommit(id)
		if err != nil {
			return messages.MutationResult{}, err
		}
		if err := mt.checkMutable(c); err != nil {
			return messages.MutationResult{}, err
		}
		if !seen[c.ID] {
			seen[c.ID] = true
			targets = append(targets, c)
		}
	}

	for _, c := range targets {
		if err := mt.tx.Abandon(c); err != nil {
			return messages.MutationResult{}, err
		}
	}
	if err := mt.rebaseDescendants(); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("abandon "+plural(len(targets), "revision", "revisions"), "")
}

// CheckoutRevision makes a revision the working copy. An immutable revision
// gets a new empty working-copy child instead.
type CheckoutRevision struct {
	ID messages.RevId `json:"id"`
}

func (m *CheckoutRevision) Execute(ws *Workspace) (messages.MutationResult, error) {
	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	target, err := mt.resolveRev(m.ID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	old := mt.tx.WorkingCopy()
	if old != nil && old.ID == target.ID {
		return messages.Unchanged(), nil
	}

	next := target
	if mt.immutable[target.ID] {
		next, err = mt.tx.NewCommit([]string{target.ID}, target.Tree, "")
		if err != nil {
			return messages.MutationResult{}, err
		}
	}
	mt.tx.SetWorkingCopy(next)
	if err := mt.leaveWorkingCopy(old); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("check out revision "+cas.Short(target.ChangeID, messages.PrefixLen), next.ChangeID)
}

// CreateRevision creates an empty revision on the given parents and checks
// it out.
type CreateRevision struct {
	ParentIDs []messages.RevId `json:"parent_ids"`
}

func (m *CreateRevision) Execute(ws *Workspace) (messages.MutationResult, error) {
	if len(m.ParentIDs) == 0 {
		return messages.MutationResult{}, preconditionf("a new revision needs at least one parent")
	}

	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	parents, err := mt.resolveRevs(m.ParentIDs)
	if err != nil {
		return messages.MutationResult{}, err
	}
	tree, err := mt.tx.MergedTree(parents)
	if err != nil {
		return messages.MutationResult{}, err
	}

	old := mt.tx.WorkingCopy()
	c, err := mt.tx.NewCommit(parents, tree, "")
	if err != nil {
		return messages.MutationResult{}, err
	}
	mt.tx.SetWorkingCopy(c)
	if err := mt.leaveWorkingCopy(old); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("new empty revision", c.ChangeID)
}

// DuplicateRevisions copies revisions under new change ids, on the same
// parents.
type DuplicateRevisions struct {
	IDs []messages.CommitId `json:"ids"`
}

func (m *DuplicateRevisions) Execute(ws *Workspace) (messages.MutationResult, error) {
	if len(m.IDs) == 0 {
		return messages.Unchanged(), nil
	}

	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	var sources []*repo.Commit
	seen := make(map[string]bool)
	for _, id := range m.IDs {
		c, err := mt.resolveCommit(id)
		if err != nil {
			return messages.MutationResult{}, err
		}
		if c.ID == mt.tx.Root().ID {
			return messages.MutationResult{}, preconditionf("%w: the root revision cannot be duplicated", repo.ErrImmutable)
		}
		if !seen[c.ID] {
			seen[c.ID] = true
			sources = append(sources, c)
		}
	}

	var first string
	for _, c := range sources {
		dup, err := mt.tx.Duplicate(c)
		if err != nil {
			return messages.MutationResult{}, err
		}
		if first == "" {
			first = dup.ChangeID
		}
	}
	return mt.finish("duplicate "+plural(len(sources), "revision", "revisions"), first)
}

// InsertRevision moves a revision between AfterID and BeforeID, which must
// be an ancestor of BeforeID. The revision's old children move onto its old
// parents.
type InsertRevision struct {
	AfterID  messages.RevId `json:"after_id"`
	BeforeID messages.RevId `json:"before_id"`
	ID       messages.RevId `json:"id"`
}

func (m *InsertRevision) Execute(ws *Workspace) (messages.MutationResult, error) {
	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	target, err := mt.resolveRev(m.ID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	after, err := mt.resolveRev(m.AfterID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	before, err := mt.resolveRev(m.BeforeID)
	if err != nil {
		return messages.MutationResult{}, err
	}

	if target.ID == after.ID || target.ID == before.ID {
		return messages.MutationResult{}, preconditionf("%w: cannot insert a revision next to itself", ErrConflictingOperation)
	}
	ok, err := mt.tx.IsAncestor(after.ID, before.ID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if !ok || after.ID == before.ID {
		return messages.MutationResult{}, preconditionf("%w: %s is not an ancestor of %s", ErrConflictingOperation,
			cas.Short(after.ChangeID, messages.PrefixLen), cas.Short(before.ChangeID, messages.PrefixLen))
	}
	if err := mt.checkMutable(target); err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.checkMutable(before); err != nil {
		return messages.MutationResult{}, err
	}

	// Take the revision out of its current place first so that neither
	// endpoint still descends from it.
	if err := mt.tx.Detach(target); err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.rebaseDescendants(); err != nil {
		return messages.MutationResult{}, err
	}

	after, _ = mt.tx.Head(after.ChangeID)
	target, _ = mt.tx.Head(target.ChangeID)
	moved, err := mt.tx.Rebase(target, []string{after.ID})
	if err != nil {
		return messages.MutationResult{}, err
	}

	// Parents reached through after are replaced by the inserted revision;
	// the rest of a merge stays.
	before, _ = mt.tx.Head(before.ChangeID)
	var parents []string
	replaced := false
	for _, p := range before.Parents {
		through, err := mt.tx.IsAncestor(after.ID, p)
		if err != nil {
			return messages.MutationResult{}, err
		}
		if !through {
			parents = append(parents, p)
			continue
		}
		if !replaced {
			parents = append(parents, moved.ID)
			replaced = true
		}
	}
	if !replaced {
		parents = append(parents, moved.ID)
	}
	if _, err := mt.tx.Rebase(before, parents); err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.rebaseDescendants(); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("insert revision "+cas.Short(target.ChangeID, messages.PrefixLen), "")
}

// MoveSource rebases a revision and its descendants onto new parents.
type MoveSource struct {
	ID        messages.RevId      `json:"id"`
	ParentIDs []messages.CommitId `json:"parent_ids"`
}

func (m *MoveSource) Execute(ws *Workspace) (messages.MutationResult, error) {
	if len(m.ParentIDs) == 0 {
		return messages.MutationResult{}, preconditionf("a revision needs at least one parent")
	}

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

	var parents []string
	seen := make(map[string]bool)
	for _, id := range m.ParentIDs {
		p, err := mt.resolveCommit(id)
		if err != nil {
			return messages.MutationResult{}, err
		}
		descends, err := mt.tx.IsAncestor(c.ID, p.ID)
		if err != nil {
			return messages.MutationResult{}, err
		}
		if descends {
			return messages.MutationResult{}, preconditionf("%w: %s cannot become a parent of its own ancestor",
				ErrConflictingOperation, cas.Short(p.ChangeID, messages.PrefixLen))
		}
		if !seen[p.ID] {
			seen[p.ID] = true
			parents = append(parents, p.ID)
		}
	}
	if sameParents(c.Parents, parents) {
		return messages.Unchanged(), nil
	}

	if _, err := mt.tx.Rebase(c, parents); err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.rebaseDescendants(); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("rebase revision "+cas.Short(c.ChangeID, messages.PrefixLen), "")
}

// resolveRevs resolves each id to a distinct visible commit id.
func (mt *mutationTx) resolveRevs(ids []messages.RevId) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		c, err := mt.resolveRev(id)
		if err != nil {
			return nil, err
		}
		if !seen[c.ID] {
			seen[c.ID] = true
			out = append(out, c.ID)
		}
	}
	return out, nil
}

func sameParents(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
