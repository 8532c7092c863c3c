package diff

import (
	"fmt"
	"strings"

	sgdiff "github.com/sourcegraph/go-diff/diff"
)

// DevNull is the name used for the missing side of an added or deleted file.
const DevNull = "/dev/null"

// FilePatch is the parsed form of one file's section of a unified diff.
type FilePatch struct {
	OldPath string // empty when the file is added
	NewPath string // empty when the file is deleted
	Hunks   []Hunk
}

// Unified renders hunks for one file as unified diff text. Empty paths stand
// for a missing side.
func Unified(oldPath, newPath string, hunks []Hunk) (string, error) {
	fd := &sgdiff.FileDiff{
		OrigName: sideName("a/", oldPath),
		NewName:  sideName("b/", newPath),
	}
	for _, h := range hunks {
		fd.Hunks = append(fd.Hunks, toSourcegraph(h))
	}

	out, err := sgdiff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("printing diff: %w", err)
	}
	return string(out), nil
}

// ParsePatch parses unified diff text covering one or more files.
func ParsePatch(patch []byte) ([]FilePatch, error) {
	fds, err := sgdiff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}

	patches := make([]FilePatch, 0, len(fds))
	for _, fd := range fds {
		fp := FilePatch{
			OldPath: stripSide(fd.OrigName, "a/"),
			NewPath: stripSide(fd.NewName, "b/"),
		}
		for _, h := range fd.Hunks {
			fp.Hunks = append(fp.Hunks, fromSourcegraph(h))
		}
		patches = append(patches, fp)
	}
	return patches, nil
}

func sideName(prefix, path string) string {
	if path == "" {
		return DevNull
	}
	return prefix + path
}

func stripSide(name, prefix string) string {
	if name == DevNull {
		return ""
	}
	return strings.TrimPrefix(name, prefix)
}

func toSourcegraph(h Hunk) *sgdiff.Hunk {
	var body strings.Builder
	for _, l := range h.Lines {
		body.WriteString(l)
		body.WriteByte('\n')
	}
	return &sgdiff.Hunk{
		OrigStartLine: int32(h.OldStart),
		OrigLines:     int32(h.OldLines),
		NewStartLine:  int32(h.NewStart),
		NewLines:      int32(h.NewLines),
		Body:          []byte(body.String()),
	}
}

func fromSourcegraph(h *sgdiff.Hunk) Hunk {
	out := Hunk{
		OldStart: int(h.OrigStartLine),
		OldLines: int(h.OrigLines),
		NewStart: int(h.NewStartLine),
		NewLines: int(h.NewLines),
	}
	for _, l := range strings.Split(string(h.Body), "\n") {
		// "\ No newline at end of file" markers carry no line content
		if l == "" || strings.HasPrefix(l, `\`) {
			continue
		}
		out.Lines = append(out.Lines, l)
	}
	return out
}
