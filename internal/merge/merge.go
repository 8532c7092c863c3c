// Package merge provides the line-level 3-way merge used when revisions are
// rebased, and the conflict markers it leaves behind.
package merge

import (
	"fmt"
	"strings"

	"gg/internal/diff"
)

// Conflict marker prefixes. Every marker line is followed by a space and a label.
const (
	MarkerStart = "<<<<<<<"
	MarkerSide  = "+++++++"
	MarkerBase  = "-------"
	MarkerEnd   = ">>>>>>>"
)

// Result is the outcome of merging one file.
type Result struct {
	Content   []byte
	Conflicts int  // number of conflicted regions rendered as markers
	Deleted   bool // both sides agree the file is gone
}

// File merges one file given its base, left and right contents. A nil side
// means the file is absent on that side.
func File(base, left, right []byte) Result {
	switch {
	case left == nil && right == nil:
		return Result{Deleted: true}
	case equal(left, right):
		return Result{Content: left}
	case equal(base, left):
		return sideResult(right)
	case equal(base, right):
		return sideResult(left)
	}

	merged, n := Lines(string(base), string(left), string(right))
	return Result{Content: []byte(merged), Conflicts: n}
}

func sideResult(content []byte) Result {
	if content == nil {
		return Result{Deleted: true}
	}
	return Result{Content: content}
}

// equal treats nil (absent) and empty (present, zero bytes) as different.
func equal(a, b []byte) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return string(a) == string(b)
}

// region is a stretch of the merge output: either resolved lines or a conflict.
type region struct {
	resolved          []string
	base, left, right []string
	conflict          bool
}

// Lines performs a diff3-style merge of three texts and returns the merged
// text together with the number of conflicted regions.
func Lines(base, left, right string) (string, int) {
	b := diff.SplitLines(base)
	l := diff.SplitLines(left)
	r := diff.SplitLines(right)

	lm := matches(base, left, len(b))
	rm := matches(base, right, len(b))

	var regions []region
	emit := func(bs, ls, rs []string) {
		switch {
		case sameLines(ls, rs):
			regions = append(regions, region{resolved: ls})
		case sameLines(bs, ls):
			regions = append(regions, region{resolved: rs})
		case sameLines(bs, rs):
			regions = append(regions, region{resolved: ls})
		default:
			regions = append(regions, region{base: bs, left: ls, right: rs, conflict: true})
		}
	}

	ib, il, ir := 0, 0, 0
	for {
		// stable: the next base line is kept at the current position on both sides
		if ib < len(b) && lm[ib] == il && rm[ib] == ir {
			regions = append(regions, region{resolved: b[ib : ib+1]})
			ib++
			il++
			ir++
			continue
		}

		k := ib
		for k < len(b) && (lm[k] < 0 || rm[k] < 0) {
			k++
		}
		if k == len(b) {
			if ib < len(b) || il < len(l) || ir < len(r) {
				emit(b[ib:], l[il:], r[ir:])
			}
			break
		}
		emit(b[ib:k], l[il:lm[k]], r[ir:rm[k]])
		ib, il, ir = k, lm[k], rm[k]
	}

	return render(regions)
}

// matches maps each base line index to the index of the same line in other,
// or -1 when the line was removed.
func matches(base, other string, n int) []int {
	m := make([]int, n)
	for i := range m {
		m[i] = -1
	}
	ib, io := 0, 0
	for _, op := range diff.Lines(base, other) {
		switch op.Kind {
		case diff.Equal:
			for range op.Lines {
				m[ib] = io
				ib++
				io++
			}
		case diff.Delete:
			ib += len(op.Lines)
		case diff.Insert:
			io += len(op.Lines)
		}
	}
	return m
}

func sameLines(a, b []string) bool {
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

func render(regions []region) (string, int) {
	total := 0
	for _, rg := range regions {
		if rg.conflict {
			total++
		}
	}

	var sb strings.Builder
	n := 0
	for _, rg := range regions {
		if !rg.conflict {
			for _, line := range rg.resolved {
				sb.WriteString(line)
			}
			continue
		}
		n++
		fmt.Fprintf(&sb, "%s Conflict %d of %d\n", MarkerStart, n, total)
		fmt.Fprintf(&sb, "%s Contents of side #1\n", MarkerSide)
		writeTerminated(&sb, rg.left)
		fmt.Fprintf(&sb, "%s Contents of base\n", MarkerBase)
		writeTerminated(&sb, rg.base)
		fmt.Fprintf(&sb, "%s Contents of side #2\n", MarkerSide)
		writeTerminated(&sb, rg.right)
		fmt.Fprintf(&sb, "%s Conflict %d of %d ends\n", MarkerEnd, n, total)
	}
	return sb.String(), total
}

func writeTerminated(sb *strings.Builder, lines []string) {
	for _, line := range lines {
		sb.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			sb.WriteByte('\n')
		}
	}
}

// HasConflict reports whether content contains a complete conflict region
// as written by Lines.
func HasConflict(content []byte) bool {
	open := false
	for _, line := range strings.Split(string(content), "\n") {
		switch {
		case strings.HasPrefix(line, MarkerStart+" Conflict "):
			open = true
		case open && strings.HasPrefix(line, MarkerEnd+" Conflict "):
			return true
		}
	}
	return false
}
