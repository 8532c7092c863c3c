package worker

import (
	"errors"
	"strings"
	"unicode"

	"gg/internal/cas"
	"gg/internal/messages"
	"gg/internal/repo"
)

// CreateBookmark points a new bookmark at a revision.
type CreateBookmark struct {
	ID   messages.RevId `json:"id"`
	Name string         `json:"name"`
}

func (m *CreateBookmark) Execute(ws *Workspace) (messages.MutationResult, error) {
	if err := validateBookmarkName(m.Name); err != nil {
		return messages.MutationResult{}, err
	}

	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	if _, ok := mt.tx.Bookmarks()[m.Name]; ok {
		return messages.MutationResult{}, preconditionf("%w: bookmark %s", repo.ErrExists, m.Name)
	}
	c, err := mt.resolveRev(m.ID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if c.ID == mt.tx.Root().ID {
		return messages.MutationResult{}, preconditionf("%w: bookmarks cannot point at the root revision", repo.ErrImmutable)
	}
	mt.tx.SetBookmark(m.Name, c)
	return mt.finish("create bookmark "+m.Name, "")
}

// DeleteBookmark removes a bookmark. The revision it pointed at is kept.
type DeleteBookmark struct {
	Name string `json:"name"`
}

func (m *DeleteBookmark) Execute(ws *Workspace) (messages.MutationResult, error) {
	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	if !mt.tx.DeleteBookmark(m.Name) {
		return messages.MutationResult{}, preconditionf("%w: bookmark %s", repo.ErrNotFound, m.Name)
	}
	return mt.finish("delete bookmark "+m.Name, "")
}

// MoveBookmark points an existing bookmark at another revision.
type MoveBookmark struct {
	Name string         `json:"name"`
	ID   messages.RevId `json:"id"`
}

func (m *MoveBookmark) Execute(ws *Workspace) (messages.MutationResult, error) {
	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	current, ok := mt.tx.Bookmarks()[m.Name]
	if !ok {
		return messages.MutationResult{}, preconditionf("%w: bookmark %s", repo.ErrNotFound, m.Name)
	}
	c, err := mt.resolveRev(m.ID)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if c.ChangeID == current {
		return messages.Unchanged(), nil
	}
	if c.ID == mt.tx.Root().ID {
		return messages.MutationResult{}, preconditionf("%w: bookmarks cannot point at the root revision", repo.ErrImmutable)
	}
	mt.tx.SetBookmark(m.Name, c)
	return mt.finish("point bookmark "+m.Name+" to "+cas.Short(c.ChangeID, messages.PrefixLen), "")
}

// UndoOperation restores the repository view recorded before the latest
// operation and checks out the restored working copy.
type UndoOperation struct{}

func (m *UndoOperation) Execute(ws *Workspace) (messages.MutationResult, error) {
	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	view, op, err := mt.tx.PreviousView()
	if errors.Is(err, repo.ErrNothingToUndo) {
		return messages.MutationResult{}, &PreconditionError{Err: err}
	}
	if err != nil {
		return messages.MutationResult{}, err
	}
	if err := mt.tx.RestoreView(view); err != nil {
		return messages.MutationResult{}, err
	}
	return mt.finish("undo operation: "+op.Description, "")
}

func validateBookmarkName(name string) error {
	if name == "" {
		return preconditionf("bookmark name is empty")
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return preconditionf("bookmark name %q contains whitespace", name)
	}
	return nil
}
