package worker

import (
	"fmt"
	"log/slog"
	"strings"

	"gg/internal/cas"
	"gg/internal/gitio"
	"gg/internal/messages"
	"gg/internal/repo"
)

// ImportGit records the first-parent history of a git ref as a chain of
// revisions on the root. Limit bounds how many commits are imported, newest
// first; zero imports everything.
type ImportGit struct {
	Path              string `json:"path"`
	Ref               string `json:"ref"`
	Limit             int    `json:"limit"`
	Bookmark          string `json:"bookmark"`
	RebaseWorkingCopy bool   `json:"rebase_working_copy"`
}

func (m *ImportGit) Execute(ws *Workspace) (messages.MutationResult, error) {
	if m.Bookmark != "" {
		if err := validateBookmarkName(m.Bookmark); err != nil {
			return messages.MutationResult{}, err
		}
	}
	path := m.Path
	if path == "" {
		path = ws.root
	}

	gitRepo, err := gitio.Open(path)
	if err != nil {
		return messages.MutationResult{}, &PreconditionError{Err: err}
	}
	head, err := gitRepo.ResolveRef(m.Ref)
	if err != nil {
		return messages.MutationResult{}, &PreconditionError{Err: err}
	}
	history, err := gitRepo.FirstParentHistory(head, m.Limit)
	if err != nil {
		return messages.MutationResult{}, err
	}
	if len(history) == 0 {
		return messages.Unchanged(), nil
	}

	mt, err := ws.begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer mt.rollback()

	parent := mt.tx.Root().ID
	var tip *repo.Commit
	for _, gc := range history {
		src, err := gitRepo.Source(gc)
		if err != nil {
			return messages.MutationResult{}, err
		}
		tree, err := ws.creator.CreateTree(mt.tx, src)
		if err != nil {
			return messages.MutationResult{}, fmt.Errorf("importing %s: %w", cas.Short(gitio.GetCommitHash(gc), 12), err)
		}
		author := repo.Signature{
			Name:      gc.Author.Name,
			Email:     gc.Author.Email,
			Timestamp: gc.Author.When.UnixMilli(),
		}
		tip, err = mt.tx.NewCommitBy([]string{parent}, tree, strings.TrimSpace(gc.Message), author)
		if err != nil {
			return messages.MutationResult{}, err
		}
		parent = tip.ID
	}
	ws.logger.Debug("imported git history",
		slog.String("ref", m.Ref),
		slog.Int("commits", len(history)),
		slog.String("head", gitio.GetCommitHash(head)))

	if m.Bookmark != "" {
		mt.tx.SetBookmark(m.Bookmark, tip)
	}
	if m.RebaseWorkingCopy {
		if wc := mt.tx.WorkingCopy(); wc != nil {
			if _, err := mt.tx.Rebase(wc, []string{tip.ID}); err != nil {
				return messages.MutationResult{}, err
			}
			if err := mt.rebaseDescendants(); err != nil {
				return messages.MutationResult{}, err
			}
		}
	}
	return mt.finish(fmt.Sprintf("import %s from git",
		plural(len(history), "commit", "commits")), tip.ChangeID)
}
