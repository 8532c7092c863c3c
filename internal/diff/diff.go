// Package diff computes line-level differences between file versions and
// renders them as hunks.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Kind classifies a run of lines in a line diff.
type Kind int

const (
	Equal Kind = iota
	Insert
	Delete
)

// Op is a run of lines sharing one Kind. Lines keep their "\n" terminators.
type Op struct {
	Kind  Kind
	Lines []string
}

// SplitLines splits s into lines, keeping each line's "\n". The final line
// has no terminator if s does not end with a newline.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// JoinLines is the inverse of SplitLines.
func JoinLines(lines []string) string {
	return strings.Join(lines, "")
}

// Lines returns the line diff turning a into b.
func Lines(a, b string) []Op {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	chars1, chars2, lineArray := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	ops := make([]Op, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		var kind Kind
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			kind = Insert
		case diffmatchpatch.DiffDelete:
			kind = Delete
		default:
			kind = Equal
		}
		lines := SplitLines(d.Text)
		if n := len(ops); n > 0 && ops[n-1].Kind == kind {
			ops[n-1].Lines = append(ops[n-1].Lines, lines...)
			continue
		}
		ops = append(ops, Op{Kind: kind, Lines: lines})
	}
	return ops
}

// Hunk is one contiguous edit with its surrounding context.
//
// Starts are 1-based. A zero-length side uses the unified convention: Start
// names the line after which the (empty) range sits, 0 being the top of file.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	// Lines are prefixed with ' ', '-' or '+' and carry no terminator.
	Lines []string
}

type entry struct {
	kind Kind
	text string
}

// Hunks returns the hunks turning before into after, each padded with up to
// context unchanged lines on either side. Changes separated by at most
// 2*context unchanged lines share a hunk.
func Hunks(before, after string, context int) []Hunk {
	if context < 0 {
		context = 0
	}

	var entries []entry
	for _, op := range Lines(before, after) {
		for _, l := range op.Lines {
			entries = append(entries, entry{kind: op.Kind, text: strings.TrimSuffix(l, "\n")})
		}
	}

	// prefix counts of old/new lines consumed before each entry
	oldPos := make([]int, len(entries)+1)
	newPos := make([]int, len(entries)+1)
	var changes []int
	for i, e := range entries {
		oldPos[i+1] = oldPos[i]
		newPos[i+1] = newPos[i]
		if e.kind != Insert {
			oldPos[i+1]++
		}
		if e.kind != Delete {
			newPos[i+1]++
		}
		if e.kind != Equal {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []Hunk
	groupStart := changes[0]
	groupEnd := changes[0]
	flush := func() {
		s := groupStart - context
		if s < 0 {
			s = 0
		}
		e := groupEnd + 1 + context
		if e > len(entries) {
			e = len(entries)
		}
		h := Hunk{
			OldLines: oldPos[e] - oldPos[s],
			NewLines: newPos[e] - newPos[s],
		}
		h.OldStart = oldPos[s]
		if h.OldLines > 0 {
			h.OldStart++
		}
		h.NewStart = newPos[s]
		if h.NewLines > 0 {
			h.NewStart++
		}
		for _, en := range entries[s:e] {
			h.Lines = append(h.Lines, prefix(en.kind)+en.text)
		}
		hunks = append(hunks, h)
	}

	for _, c := range changes[1:] {
		if c-groupEnd-1 > 2*context {
			flush()
			groupStart = c
		}
		groupEnd = c
	}
	flush()
	return hunks
}

func prefix(k Kind) string {
	switch k {
	case Insert:
		return "+"
	case Delete:
		return "-"
	default:
		return " "
	}
}
