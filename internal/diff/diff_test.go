package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\n", []string{"a\n"}},
		{"a\nb", []string{"a\n", "b"}},
		{"a\n\nb\n", []string{"a\n", "\n", "b\n"}},
	}
	for _, tt := range tests {
		got := SplitLines(tt.in)
		assert.Equal(t, tt.want, got, "SplitLines(%q)", tt.in)
		assert.Equal(t, tt.in, JoinLines(got))
	}
}

func TestLines_Replace(t *testing.T) {
	ops := Lines("first\nold line\nthird\n", "first\nnew line\nthird\n")

	var kinds []Kind
	for _, op := range ops {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []Kind{Equal, Delete, Insert, Equal}, kinds)
	assert.Equal(t, []string{"old line\n"}, ops[1].Lines)
	assert.Equal(t, []string{"new line\n"}, ops[2].Lines)
}

func TestHunks_SingleReplacement(t *testing.T) {
	hunks := Hunks("first\nold line\nthird\n", "first\nnew line\nthird\n", 3)
	require.Len(t, hunks, 1)

	h := hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 3, h.OldLines)
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, 3, h.NewLines)
	assert.Equal(t, []string{" first", "-old line", "+new line", " third"}, h.Lines)
}

func TestHunks_NoContext(t *testing.T) {
	hunks := Hunks("first\nold line\nthird\n", "first\nnew line\nthird\n", 0)
	require.Len(t, hunks, 1)
	assert.Equal(t, Hunk{OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1,
		Lines: []string{"-old line", "+new line"}}, hunks[0])
}

func TestHunks_InsertionAtTop(t *testing.T) {
	hunks := Hunks("b\n", "a\nb\n", 0)
	require.Len(t, hunks, 1)
	assert.Equal(t, 0, hunks[0].OldStart)
	assert.Equal(t, 0, hunks[0].OldLines)
	assert.Equal(t, 1, hunks[0].NewStart)
	assert.Equal(t, 1, hunks[0].NewLines)
}

func TestHunks_Deletion(t *testing.T) {
	hunks := Hunks("a\nb\nc\n", "a\nc\n", 0)
	require.Len(t, hunks, 1)
	assert.Equal(t, Hunk{OldStart: 2, OldLines: 1, NewStart: 1, NewLines: 0,
		Lines: []string{"-b"}}, hunks[0])
}

func TestHunks_DistantChangesSplit(t *testing.T) {
	var before, after []string
	for i := 0; i < 10; i++ {
		line := string(rune('a'+i)) + "\n"
		before = append(before, line)
		after = append(after, line)
	}
	after[0] = "A\n"
	after[9] = "J\n"

	hunks := Hunks(JoinLines(before), JoinLines(after), 1)
	require.Len(t, hunks, 2)
	assert.Equal(t, 1, hunks[0].OldStart)
	assert.Equal(t, 9, hunks[1].OldStart)

	merged := Hunks(JoinLines(before), JoinLines(after), 4)
	assert.Len(t, merged, 1)
}

func TestHunks_Identical(t *testing.T) {
	assert.Empty(t, Hunks("same\n", "same\n", 3))
}

func TestUnified_RoundTrip(t *testing.T) {
	hunks := Hunks("first\nold line\nthird\n", "first\nnew line\nthird\n", 3)

	text, err := Unified("a.txt", "a.txt", hunks)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "--- a/a.txt\n+++ b/a.txt\n"), text)
	assert.Contains(t, text, "@@ -1,3 +1,3 @@")
	assert.Contains(t, text, "\n-old line\n+new line\n")

	patches, err := ParsePatch([]byte(text))
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, "a.txt", patches[0].OldPath)
	assert.Equal(t, "a.txt", patches[0].NewPath)
	assert.Equal(t, hunks, patches[0].Hunks)
}

func TestUnified_AddedFile(t *testing.T) {
	hunks := Hunks("", "new\n", 3)

	text, err := Unified("", "c.txt", hunks)
	require.NoError(t, err)
	assert.Contains(t, text, "--- /dev/null")

	patches, err := ParsePatch([]byte(text))
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Empty(t, patches[0].OldPath)
	assert.Equal(t, "c.txt", patches[0].NewPath)
}
