package worker

import (
	"fmt"
	"strings"

	"gg/internal/cas"
	"gg/internal/messages"
	"gg/internal/repo"
)

// MoveHunk transplants one hunk of FromID's diff into ToID. ToFile.Start
// locates the hunk in ToID's copy of Path; FromFile only locates the lines to
// take back out of FromID.
type MoveHunk struct {
	FromID messages.RevId      `json:"from_id"`
	ToID   messages.CommitId   `json:"to_id"`
	Path   messages.TreePath   `json:"path"`
	Hunk   messages.ChangeHunk `json:"hunk"`
}

func (m *MoveHunk) Execute(ws *Workspace) (messages.MutationResult, error) {
	path := m.Path.RepoPath
	if path == "" {
		return messages.MutationResult{}, preconditionf("no path given")
	}

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
	if err := mt.checkMutable(to); err != nil {
		return messages.MutationResult{}, err
	}

	toText, _, err := mt.fileText(to, path)
	if err != nil {
		return messages.MutationResult{}, err
	}
	newToText, err := spliceHunk(toText, m.Hunk)
	if err != nil {
		return messages.MutationResult{}, err
	}

	subtract := from.ChangeID != to.ChangeID
	if subtract {
		toFirst, err := mt.tx.IsAncestor(to.ID, from.ID)
		if err != nil {
			return messages.MutationResult{}, err
		}
		// Rebasing FromID onto the updated ToID already drops the hunk from
		// its diff.
		subtract = !toFirst
	}
	if subtract {
		if err := mt.checkMutable(from); err != nil {
			return messages.MutationResult{}, err
		}
		fromText, _, err := mt.fileText(from, path)
		if err != nil {
			return messages.MutationResult{}, err
		}
		reverted, found := revertHunk(fromText, m.Hunk)
		if !found {
			return messages.MutationResult{}, preconditionf("%w: hunk at line %d not found in %s of %s", ErrInvalidRange,
				m.Hunk.Location.FromFile.Start, path, cas.Short(from.ChangeID, messages.PrefixLen))
		}
		if reverted != fromText {
			if err := mt.writeText(from.ChangeID, path, reverted); err != nil {
				return messages.MutationResult{}, err
			}
		}
	}

	if err := mt.writeText(to.ChangeID, path, newToText); err != nil {
		return messages.MutationResult{}, err
	}

	if cur, ok := mt.tx.Head(to.ChangeID); ok && cur.ID == to.ID {
		if f, ok := mt.tx.Head(from.ChangeID); ok && f.ID == from.ID {
			return messages.Unchanged(), nil
		}
	}
	return mt.finish(fmt.Sprintf("move hunk in %s from %s to %s", path,
		cas.Short(from.ChangeID, messages.PrefixLen), cas.Short(to.ChangeID, messages.PrefixLen)), "")
}

// fileText reads path from c's tree. ok is false when the path is absent.
func (mt *mutationTx) fileText(c *repo.Commit, path string) (text string, ok bool, err error) {
	tree, err := mt.tx.Tree(c.Tree)
	if err != nil {
		return "", false, err
	}
	e := tree.Entry(path)
	if e == nil {
		return "", false, nil
	}
	data, err := mt.tx.ReadFile(e)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), true, nil
}

// writeText stores text at path in the current commit of change and rebases
// descendants.
func (mt *mutationTx) writeText(change, path, text string) error {
	c, ok := mt.tx.Head(change)
	if !ok {
		return preconditionf("revision not found: %s", cas.Short(change, messages.PrefixLen))
	}
	cur, exists, err := mt.fileText(c, path)
	if err != nil {
		return err
	}
	if cur == text && (exists || text == "") {
		return nil
	}
	e, err := mt.tx.WriteFile(path, []byte(text))
	if err != nil {
		return err
	}
	return mt.applyEdits(change, map[string]*repo.TreeEntry{path: &e})
}

// textLines splits text into lines without terminators and reports whether
// the last line was terminated.
func textLines(text string) ([]string, bool) {
	if text == "" {
		return nil, true
	}
	terminated := strings.HasSuffix(text, "\n")
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n"), terminated
}

func joinLines(lines []string, terminated bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if terminated {
		s += "\n"
	}
	return s
}

// hunkImages returns the lines a hunk expects before and leaves after it.
// noNewline reports a "\ No newline at end of file" marker after the last
// after-image line.
func hunkImages(h messages.ChangeHunk) (before, after []string, noNewline bool) {
	lastAfter := false
	for _, line := range h.Lines.Lines {
		switch {
		case strings.HasPrefix(line, `\`):
			if lastAfter {
				noNewline = true
			}
			continue
		case strings.HasPrefix(line, "-"):
			before = append(before, line[1:])
			lastAfter = false
		case strings.HasPrefix(line, "+"):
			after = append(after, line[1:])
			lastAfter = true
		default:
			ctx := strings.TrimPrefix(line, " ")
			before = append(before, ctx)
			after = append(after, ctx)
			lastAfter = true
		}
	}
	return before, after, noNewline
}

// spliceHunk writes the hunk's after-image into text so that it starts at
// line ToFile.Start, replacing as many lines as the before-image holds. A
// zero-length ToFile follows the unified convention: Start names the line
// the hunk follows. The replaced lines must lie within text.
func spliceHunk(text string, h messages.ChangeHunk) (string, error) {
	lines, terminated := textLines(text)
	n := len(lines)
	r := h.Location.ToFile
	before, replacement, noNewline := hunkImages(h)
	k := len(before)

	cut := r.Start
	if r.Len > 0 {
		cut = r.Start - 1
	}
	if r.Len < 0 || r.Start < 0 || r.Start > n || cut < 0 || cut+k > n {
		return "", preconditionf("%w: hunk at line %d spans %d line(s) of a %d-line file", ErrInvalidRange,
			r.Start, k, n)
	}

	out := make([]string, 0, n-k+len(replacement))
	out = append(out, lines[:cut]...)
	out = append(out, replacement...)
	out = append(out, lines[cut+k:]...)

	if cut+k == n && noNewline {
		terminated = false
	}
	return joinLines(out, terminated), nil
}

// revertHunk replaces the hunk's after-image in text with its before-image.
// The after-image is looked for at FromFile.Start first, then anywhere in
// text if it occurs exactly once. found is false if it cannot be located.
func revertHunk(text string, h messages.ChangeHunk) (string, bool) {
	lines, terminated := textLines(text)
	before, after, _ := hunkImages(h)

	at := h.Location.FromFile.Start - 1
	if at < 0 {
		at = 0
	}
	if h.Location.FromFile.Len == 0 {
		at = h.Location.FromFile.Start
	}
	if !linesAt(lines, after, at) {
		if len(after) == 0 {
			return text, false
		}
		at = -1
		for i := 0; i+len(after) <= len(lines); i++ {
			if linesAt(lines, after, i) {
				if at >= 0 {
					return text, false
				}
				at = i
			}
		}
		if at < 0 {
			return text, false
		}
	}

	out := make([]string, 0, len(lines)-len(after)+len(before))
	out = append(out, lines[:at]...)
	out = append(out, before...)
	out = append(out, lines[at+len(after):]...)
	return joinLines(out, terminated), true
}

func linesAt(lines, want []string, at int) bool {
	if at < 0 || at+len(want) > len(lines) {
		return false
	}
	for i, w := range want {
		if lines[at+i] != w {
			return false
		}
	}
	return true
}
