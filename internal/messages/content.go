// Package messages defines the values exchanged between the worker and its
// callers: revision identities, headers, file hunks and result envelopes.
package messages

import (
	"fmt"
	"strings"
)

// TreePath is a path in a revision's tree. RepoPath uses forward slashes and
// is relative to the repository root; RelativePath is a display form.
type TreePath struct {
	RepoPath     string `json:"repo_path"`
	RelativePath string `json:"relative_path"`
}

// NewTreePath returns a TreePath whose display form is the repo path.
func NewTreePath(repoPath string) TreePath {
	return TreePath{RepoPath: repoPath, RelativePath: repoPath}
}

// FileRange is a 1-based line range. A zero Len at Start=N addresses the gap
// after line N; N=0 is the top of the file.
type FileRange struct {
	Start int `json:"start"`
	Len   int `json:"len"`
}

func (r FileRange) String() string {
	return fmt.Sprintf("%d,%d", r.Start, r.Len)
}

// HunkLocation places a hunk in the old (FromFile) and new (ToFile) versions
// of a file.
type HunkLocation struct {
	FromFile FileRange `json:"from_file"`
	ToFile   FileRange `json:"to_file"`
}

// MultilineString is text stored as lines without terminators.
type MultilineString struct {
	Lines []string `json:"lines"`
}

// NewMultilineString splits s on newlines. A single trailing newline does not
// produce an extra empty line; the empty string is one empty line.
func NewMultilineString(s string) MultilineString {
	s = strings.TrimSuffix(s, "\n")
	return MultilineString{Lines: strings.Split(s, "\n")}
}

func (m MultilineString) String() string {
	return strings.Join(m.Lines, "\n")
}

// Summary returns the first line.
func (m MultilineString) Summary() string {
	if len(m.Lines) == 0 {
		return ""
	}
	return m.Lines[0]
}

// ChangeHunk is one contiguous edit. Lines starting with '-' exist only in
// the old version, lines starting with '+' only in the new one, and any other
// line is context.
type ChangeHunk struct {
	Location HunkLocation    `json:"location"`
	Lines    MultilineString `json:"lines"`
}

// LineCounts returns how many body lines belong to the old and to the new
// version of the file.
func (h ChangeHunk) LineCounts() (before, after int) {
	for _, line := range h.Lines.Lines {
		switch {
		case strings.HasPrefix(line, "-"):
			before++
		case strings.HasPrefix(line, "+"):
			after++
		default:
			before++
			after++
		}
	}
	return before, after
}

// Consistent reports whether the body line counts match the location lengths.
func (h ChangeHunk) Consistent() bool {
	before, after := h.LineCounts()
	return before == h.Location.FromFile.Len && after == h.Location.ToFile.Len
}
