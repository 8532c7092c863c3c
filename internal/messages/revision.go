package messages

// PrefixLen is the length of the short form of change and commit ids.
const PrefixLen = 8

// ChangeId identifies a change across rewrites.
type ChangeId struct {
	Hex    string `json:"hex"`
	Prefix string `json:"prefix"`
	Rest   string `json:"rest"`
}

// CommitId identifies one immutable commit.
type CommitId struct {
	Hex    string `json:"hex"`
	Prefix string `json:"prefix"`
	Rest   string `json:"rest"`
}

func split(hex string) (string, string) {
	if len(hex) <= PrefixLen {
		return hex, ""
	}
	return hex[:PrefixLen], hex[PrefixLen:]
}

func NewChangeId(hex string) ChangeId {
	p, r := split(hex)
	return ChangeId{Hex: hex, Prefix: p, Rest: r}
}

func NewCommitId(hex string) CommitId {
	p, r := split(hex)
	return CommitId{Hex: hex, Prefix: p, Rest: r}
}

// RevId names a revision by both of its ids. It resolves by change id first,
// so a RevId taken before a rewrite still finds the rewritten revision.
type RevId struct {
	Change ChangeId `json:"change"`
	Commit CommitId `json:"commit"`
}

func NewRevId(changeHex, commitHex string) RevId {
	return RevId{Change: NewChangeId(changeHex), Commit: NewCommitId(commitHex)}
}

type RevAuthor struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch
}

// RevHeader is the summary of a revision shown in the log.
type RevHeader struct {
	ID            RevId           `json:"id"`
	Description   MultilineString `json:"description"`
	Author        RevAuthor       `json:"author"`
	HasConflict   bool            `json:"has_conflict"`
	IsWorkingCopy bool            `json:"is_working_copy"`
	IsImmutable   bool            `json:"is_immutable"`
	Bookmarks     []string        `json:"bookmarks"`
	ParentIDs     []CommitId      `json:"parent_ids"`
}

// ChangeKind classifies a changed path.
type ChangeKind string

const (
	ChangeKindAdded    ChangeKind = "Added"
	ChangeKindDeleted  ChangeKind = "Deleted"
	ChangeKindModified ChangeKind = "Modified"
)

// RevChange is one path a revision changes relative to its parents.
type RevChange struct {
	Kind        ChangeKind   `json:"kind"`
	Path        TreePath     `json:"path"`
	HasConflict bool         `json:"has_conflict"`
	Hunks       []ChangeHunk `json:"hunks"`
}

// LogRow is one revision of a log page.
type LogRow struct {
	Revision RevHeader `json:"revision"`
}

// LogPage is a window of log rows. HasMore reports that the query matched
// more rows than were returned.
type LogPage struct {
	Rows    []LogRow `json:"rows"`
	HasMore bool     `json:"has_more"`
}
