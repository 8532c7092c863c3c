package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLines_NonOverlappingEdits(t *testing.T) {
	merged, conflicts := Lines("a\nb\nc\n", "A\nb\nc\n", "a\nb\nC\n")
	assert.Equal(t, "A\nb\nC\n", merged)
	assert.Zero(t, conflicts)
}

func TestLines_SameEditBothSides(t *testing.T) {
	merged, conflicts := Lines("a\nb\n", "a\nB\n", "a\nB\n")
	assert.Equal(t, "a\nB\n", merged)
	assert.Zero(t, conflicts)
}

func TestLines_InsertionsAtDifferentPlaces(t *testing.T) {
	merged, conflicts := Lines("a\nb\nc\n", "top\na\nb\nc\n", "a\nb\nc\nbottom\n")
	assert.Equal(t, "top\na\nb\nc\nbottom\n", merged)
	assert.Zero(t, conflicts)
}

func TestLines_Conflict(t *testing.T) {
	merged, conflicts := Lines("1\n", "11\n", "2\n")
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, "<<<<<<< Conflict 1 of 1\n"+
		"+++++++ Contents of side #1\n"+
		"11\n"+
		"------- Contents of base\n"+
		"1\n"+
		"+++++++ Contents of side #2\n"+
		"2\n"+
		">>>>>>> Conflict 1 of 1 ends\n", merged)
	assert.True(t, HasConflict([]byte(merged)))
}

func TestLines_ConflictKeepsSurroundingLines(t *testing.T) {
	merged, conflicts := Lines("x\n1\ny\n", "x\nL\ny\n", "x\nR\ny\n")
	assert.Equal(t, 1, conflicts)
	assert.Contains(t, merged, "x\n<<<<<<< Conflict 1 of 1\n")
	assert.Contains(t, merged, ">>>>>>> Conflict 1 of 1 ends\ny\n")
}

func TestLines_MissingTrailingNewline(t *testing.T) {
	merged, conflicts := Lines("1", "L", "R")
	assert.Equal(t, 1, conflicts)
	assert.Contains(t, merged, "L\n------- Contents of base\n1\n")
}

func TestFile(t *testing.T) {
	base := []byte("base\n")
	left := []byte("left\n")
	right := []byte("right\n")

	tests := []struct {
		name        string
		base, l, r  []byte
		wantContent string
		wantDeleted bool
		wantConflic bool
	}{
		{"both deleted", base, nil, nil, "", true, false},
		{"left deleted, right untouched", base, nil, base, "", true, false},
		{"right deleted, left untouched", base, base, nil, "", true, false},
		{"only left changed", base, left, base, "left\n", false, false},
		{"only right changed", base, base, right, "right\n", false, false},
		{"added on one side", nil, left, nil, "left\n", false, false},
		{"same content both sides", base, left, left, "left\n", false, false},
		{"diverged", base, left, right, "", false, true},
		{"delete vs modify", base, nil, right, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := File(tt.base, tt.l, tt.r)
			assert.Equal(t, tt.wantDeleted, res.Deleted)
			assert.Equal(t, tt.wantConflic, res.Conflicts > 0)
			if tt.wantContent != "" {
				assert.Equal(t, tt.wantContent, string(res.Content))
			}
			if tt.wantConflic {
				assert.True(t, HasConflict(res.Content))
			}
		})
	}
}

func TestHasConflict(t *testing.T) {
	assert.False(t, HasConflict([]byte("plain\ntext\n")))
	assert.False(t, HasConflict([]byte("<<<<<<< Conflict 1 of 1\nno end\n")))
	assert.False(t, HasConflict([]byte(">>>>>>> Conflict 1 of 1 ends\n<<<<<<< Conflict 1 of 1\n")))
	assert.True(t, HasConflict([]byte("<<<<<<< Conflict 1 of 1\n>>>>>>> Conflict 1 of 1 ends\n")))
}
