package repo

// Signature identifies who made a commit and when (milliseconds since epoch).
type Signature struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
}

// Commit is an immutable revision record. Rewriting a revision produces a new
// Commit with the same ChangeID.
type Commit struct {
	ID          string    `json:"-"`
	ChangeID    string    `json:"changeId"`
	Parents     []string  `json:"parents"`
	Tree        string    `json:"tree"`
	Description string    `json:"description"`
	Author      Signature `json:"author"`
	Committer   Signature `json:"committer"`
}

func (c *Commit) clone() *Commit {
	cp := *c
	cp.ID = ""
	cp.Parents = append([]string{}, c.Parents...)
	return &cp
}

// TreeEntry is one tracked file in a tree.
type TreeEntry struct {
	Path     string `json:"path"`
	Digest   string `json:"digest"`
	Size     int64  `json:"size"`
	Conflict bool   `json:"conflict,omitempty"`
}

// Tree is the full set of tracked files of a revision, sorted by path.
type Tree struct {
	ID      string      `json:"-"`
	Entries []TreeEntry `json:"entries"`
}

// Entry returns the entry for path, or nil.
func (t *Tree) Entry(path string) *TreeEntry {
	for i := range t.Entries {
		if t.Entries[i].Path == path {
			return &t.Entries[i]
		}
	}
	return nil
}

// HasConflict reports whether any entry holds conflict markers.
func (t *Tree) HasConflict() bool {
	for _, e := range t.Entries {
		if e.Conflict {
			return true
		}
	}
	return false
}

// ChangeKind classifies a file difference between two trees.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "Added"
	ChangeDeleted  ChangeKind = "Deleted"
	ChangeModified ChangeKind = "Modified"
)

// FileChange is a path that differs between two trees.
type FileChange struct {
	Path   string
	Kind   ChangeKind
	Before *TreeEntry // nil when added
	After  *TreeEntry // nil when deleted
}

// Operation is one entry of the operation log.
type Operation struct {
	Seq         int64
	Description string
	CreatedAt   int64
}

// View is the mutable state of the repository: which commit each visible
// change currently points at, bookmarks and the working-copy change.
type View struct {
	Heads       map[string]Head   `json:"heads"`
	Bookmarks   map[string]string `json:"bookmarks"`
	WorkingCopy string            `json:"workingCopy"`
}

// Head is the current commit of a change. Seq orders changes by last write.
type Head struct {
	Commit string `json:"commit"`
	Seq    int64  `json:"seq"`
}

func newView() *View {
	return &View{Heads: make(map[string]Head), Bookmarks: make(map[string]string)}
}

func (v *View) clone() *View {
	cp := newView()
	for k, h := range v.Heads {
		cp.Heads[k] = h
	}
	for k, c := range v.Bookmarks {
		cp.Bookmarks[k] = c
	}
	cp.WorkingCopy = v.WorkingCopy
	return cp
}
