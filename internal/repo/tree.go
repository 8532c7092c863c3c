package repo

import (
	"fmt"
	"sort"

	"gg/internal/graph"
	"gg/internal/merge"
)

// WriteTree stores a tree built from entries and returns its id.
func (tx *Tx) WriteTree(entries []TreeEntry) (string, error) {
	sorted := make([]TreeEntry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Path] {
			return "", fmt.Errorf("duplicate tree entry %q", e.Path)
		}
		seen[e.Path] = true
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	t := &Tree{Entries: sorted}
	id, err := tx.repo.db.InsertNode(tx.q, graph.KindTree, t)
	if err != nil {
		return "", fmt.Errorf("inserting tree: %w", err)
	}
	t.ID = id
	tx.trees[id] = t
	return id, nil
}

// WriteFile stores content and returns an entry for it at path. The entry is
// flagged as conflicted when the content holds conflict markers.
func (tx *Tx) WriteFile(path string, content []byte) (TreeEntry, error) {
	digest, err := tx.repo.db.WriteObject(content)
	if err != nil {
		return TreeEntry{}, err
	}
	return TreeEntry{
		Path:     path,
		Digest:   digest,
		Size:     int64(len(content)),
		Conflict: merge.HasConflict(content),
	}, nil
}

// EditTree returns the id of tree with the given entries replaced. A nil
// value removes the path.
func (tx *Tx) EditTree(treeID string, edits map[string]*TreeEntry) (string, error) {
	t, err := tx.Tree(treeID)
	if err != nil {
		return "", err
	}
	entries := make([]TreeEntry, 0, len(t.Entries)+len(edits))
	for _, e := range t.Entries {
		if _, ok := edits[e.Path]; !ok {
			entries = append(entries, e)
		}
	}
	for path, e := range edits {
		if e == nil {
			continue
		}
		ne := *e
		ne.Path = path
		entries = append(entries, ne)
	}
	return tx.WriteTree(entries)
}

// MergedTree returns the tree a child of parents starts from: the empty tree
// for no parents, the parent's tree for one, and the merge of all parent
// trees otherwise.
func (tx *Tx) MergedTree(parents []string) (string, error) {
	if len(parents) == 0 {
		return tx.repo.emptyTree, nil
	}
	first, err := tx.Commit(parents[0])
	if err != nil {
		return "", err
	}
	acc := first.Tree
	for _, p := range parents[1:] {
		pc, err := tx.Commit(p)
		if err != nil {
			return "", err
		}
		baseID, err := tx.MergeBase(parents[0], p)
		if err != nil {
			return "", err
		}
		base, err := tx.Commit(baseID)
		if err != nil {
			return "", err
		}
		acc, err = tx.MergeTrees(base.Tree, acc, pc.Tree)
		if err != nil {
			return "", err
		}
	}
	return acc, nil
}

// MergeBase returns the deepest common ancestor of a and b.
func (tx *Tx) MergeBase(a, b string) (string, error) {
	ancA, err := tx.ancestorSet(a)
	if err != nil {
		return "", err
	}
	ancB, err := tx.ancestorSet(b)
	if err != nil {
		return "", err
	}

	depth := make(map[string]int)
	best, bestDepth := tx.root.ID, -1
	for id := range ancA {
		if !ancB[id] {
			continue
		}
		d, err := tx.generation(id, depth)
		if err != nil {
			return "", err
		}
		if d > bestDepth || (d == bestDepth && id < best) {
			best, bestDepth = id, d
		}
	}
	return best, nil
}

func (tx *Tx) ancestorSet(id string) (map[string]bool, error) {
	set := map[string]bool{id: true}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c, err := tx.Commit(cur)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			if !set[p] {
				set[p] = true
				stack = append(stack, p)
			}
		}
	}
	return set, nil
}

// generation is the length of the longest parent chain down to the root.
func (tx *Tx) generation(id string, memo map[string]int) (int, error) {
	if d, ok := memo[id]; ok {
		return d, nil
	}
	c, err := tx.Commit(id)
	if err != nil {
		return 0, err
	}
	d := 0
	for _, p := range c.Parents {
		pd, err := tx.generation(p, memo)
		if err != nil {
			return 0, err
		}
		if pd+1 > d {
			d = pd + 1
		}
	}
	memo[id] = d
	return d, nil
}

// MergeTrees applies the changes from base to right onto left. Paths changed
// on both sides get a line-level merge; overlapping edits are left as
// conflict markers and the entry is flagged.
func (tx *Tx) MergeTrees(base, left, right string) (string, error) {
	switch {
	case left == right:
		return left, nil
	case base == left:
		return right, nil
	case base == right:
		return left, nil
	}

	bt, err := tx.Tree(base)
	if err != nil {
		return "", err
	}
	lt, err := tx.Tree(left)
	if err != nil {
		return "", err
	}
	rt, err := tx.Tree(right)
	if err != nil {
		return "", err
	}

	paths := make(map[string]bool)
	for _, t := range []*Tree{bt, lt, rt} {
		for _, e := range t.Entries {
			paths[e.Path] = true
		}
	}

	var entries []TreeEntry
	for path := range paths {
		b, l, r := bt.Entry(path), lt.Entry(path), rt.Entry(path)
		switch {
		case sameEntry(l, r):
			entries = appendEntry(entries, l)
		case sameEntry(b, l):
			entries = appendEntry(entries, r)
		case sameEntry(b, r):
			entries = appendEntry(entries, l)
		default:
			e, err := tx.mergeEntry(path, b, l, r)
			if err != nil {
				return "", fmt.Errorf("merging %s: %w", path, err)
			}
			entries = appendEntry(entries, e)
		}
	}
	return tx.WriteTree(entries)
}

func (tx *Tx) mergeEntry(path string, b, l, r *TreeEntry) (*TreeEntry, error) {
	var contents [3][]byte
	for i, e := range []*TreeEntry{b, l, r} {
		if e == nil {
			continue
		}
		data, err := tx.ReadFile(e)
		if err != nil {
			return nil, err
		}
		if data == nil {
			data = []byte{}
		}
		contents[i] = data
	}

	res := merge.File(contents[0], contents[1], contents[2])
	if res.Deleted {
		return nil, nil
	}
	e, err := tx.WriteFile(path, res.Content)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func sameEntry(a, b *TreeEntry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Digest == b.Digest
}

func appendEntry(entries []TreeEntry, e *TreeEntry) []TreeEntry {
	if e == nil {
		return entries
	}
	return append(entries, *e)
}

// Diff lists the paths that differ between two trees, sorted by path.
func (tx *Tx) Diff(from, to string) ([]FileChange, error) {
	if from == to {
		return nil, nil
	}
	ft, err := tx.Tree(from)
	if err != nil {
		return nil, err
	}
	tt, err := tx.Tree(to)
	if err != nil {
		return nil, err
	}

	var changes []FileChange
	for i := range tt.Entries {
		after := &tt.Entries[i]
		before := ft.Entry(after.Path)
		switch {
		case before == nil:
			changes = append(changes, FileChange{Path: after.Path, Kind: ChangeAdded, After: after})
		case before.Digest != after.Digest || before.Conflict != after.Conflict:
			changes = append(changes, FileChange{Path: after.Path, Kind: ChangeModified, Before: before, After: after})
		}
	}
	for i := range ft.Entries {
		before := &ft.Entries[i]
		if tt.Entry(before.Path) == nil {
			changes = append(changes, FileChange{Path: before.Path, Kind: ChangeDeleted, Before: before})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// Changes lists the paths c changes relative to its parents.
func (tx *Tx) Changes(c *Commit) ([]FileChange, error) {
	base, err := tx.MergedTree(c.Parents)
	if err != nil {
		return nil, err
	}
	return tx.Diff(base, c.Tree)
}

// IsEmpty reports whether c changes nothing relative to its parents.
func (tx *Tx) IsEmpty(c *Commit) (bool, error) {
	base, err := tx.MergedTree(c.Parents)
	if err != nil {
		return false, err
	}
	return base == c.Tree, nil
}

// HasConflict reports whether c's tree holds conflicted files.
func (tx *Tx) HasConflict(c *Commit) (bool, error) {
	t, err := tx.Tree(c.Tree)
	if err != nil {
		return false, err
	}
	return t.HasConflict(), nil
}
