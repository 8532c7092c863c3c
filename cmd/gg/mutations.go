package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gg/internal/diff"
	"gg/internal/messages"
	"gg/internal/worker"
)

var newCmd = &cobra.Command{
	Use:     "new [parents...]",
	Short:   "Create an empty revision and check it out",
	GroupID: groupGraph,
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		if len(args) == 0 {
			args = []string{"@"}
		}
		parents, err := resolveAll(ws, args)
		if err != nil {
			return nil, err
		}
		return &worker.CreateRevision{ParentIDs: parents}, nil
	}),
}

var editCmd = &cobra.Command{
	Use:     "edit <revision>",
	Short:   "Make a revision the working copy",
	GroupID: groupGraph,
	Args:    cobra.ExactArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		id, err := resolve(ws, args[0])
		if err != nil {
			return nil, err
		}
		return &worker.CheckoutRevision{ID: id}, nil
	}),
}

var abandonCmd = &cobra.Command{
	Use:     "abandon <revisions...>",
	Short:   "Remove revisions, moving their children onto their parents",
	GroupID: groupGraph,
	Args:    cobra.MinimumNArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		ids, err := resolveCommits(ws, args)
		if err != nil {
			return nil, err
		}
		return &worker.AbandonRevisions{IDs: ids}, nil
	}),
}

var duplicateCmd = &cobra.Command{
	Use:     "duplicate <revisions...>",
	Short:   "Copy revisions onto the same parents under new change ids",
	GroupID: groupGraph,
	Args:    cobra.MinimumNArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		ids, err := resolveCommits(ws, args)
		if err != nil {
			return nil, err
		}
		return &worker.DuplicateRevisions{IDs: ids}, nil
	}),
}

var insertCmd = &cobra.Command{
	Use:     "insert <revision> --after <revision> --before <revision>",
	Short:   "Move a revision between two others",
	GroupID: groupGraph,
	Args:    cobra.ExactArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		ids, err := resolveAll(ws, []string{args[0], insertAfter, insertBefore})
		if err != nil {
			return nil, err
		}
		return &worker.InsertRevision{ID: ids[0], AfterID: ids[1], BeforeID: ids[2]}, nil
	}),
}

var rebaseCmd = &cobra.Command{
	Use:     "rebase <revision> <destinations...>",
	Short:   "Move a revision and its descendants onto new parents",
	GroupID: groupGraph,
	Args:    cobra.MinimumNArgs(2),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		id, err := resolve(ws, args[0])
		if err != nil {
			return nil, err
		}
		parents, err := resolveCommits(ws, args[1:])
		if err != nil {
			return nil, err
		}
		return &worker.MoveSource{ID: id, ParentIDs: parents}, nil
	}),
}

var describeCmd = &cobra.Command{
	Use:     "describe [revision] -m <message>",
	Short:   "Set a revision's description",
	GroupID: groupChange,
	Args:    cobra.MaximumNArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		id, err := resolve(ws, argOr(args, "@"))
		if err != nil {
			return nil, err
		}
		return &worker.DescribeRevision{ID: id, NewDescription: describeMessage, ResetAuthor: describeResetAuthor}, nil
	}),
}

var restoreCmd = &cobra.Command{
	Use:     "restore [paths...]",
	Short:   "Copy file contents from one revision into another",
	GroupID: groupChange,
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		ids, err := resolveAll(ws, []string{restoreFrom, restoreInto})
		if err != nil {
			return nil, err
		}
		return &worker.CopyChanges{FromID: ids[0].Commit, ToID: ids[1], Paths: treePaths(args)}, nil
	}),
}

var squashCmd = &cobra.Command{
	Use:     "squash [paths...]",
	Short:   "Move changes from one revision into another",
	GroupID: groupChange,
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		ids, err := resolveAll(ws, []string{squashFrom, squashInto})
		if err != nil {
			return nil, err
		}
		return &worker.MoveChanges{FromID: ids[0], ToID: ids[1].Commit, Paths: treePaths(args)}, nil
	}),
}

var moveHunkCmd = &cobra.Command{
	Use:   "move-hunk --from <revision> --into <revision> (--path <path> | --patch <file>)",
	Short: "Move one hunk of a change into another revision",
	Long: `Moves a single hunk. With --path the hunk is the --hunk'th hunk of that path
in the source revision, numbered from 0 as "gg diff" prints them. With --patch
the hunk is read from unified diff text ("-" for stdin).`,
	GroupID: groupChange,
	Args:    cobra.NoArgs,
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		ids, err := resolveAll(ws, []string{moveHunkFrom, moveHunkInto})
		if err != nil {
			return nil, err
		}
		path, h, err := selectHunk(ws, ids[0])
		if err != nil {
			return nil, err
		}
		return &worker.MoveHunk{FromID: ids[0], ToID: ids[1].Commit, Path: messages.NewTreePath(path), Hunk: h}, nil
	}),
}

var bookmarkCmd = &cobra.Command{
	Use:     "bookmark",
	Short:   "Manage bookmarks",
	GroupID: groupRefs,
}

var bookmarkCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Point a new bookmark at a revision",
	Args:  cobra.ExactArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		id, err := resolve(ws, bookmarkRev)
		if err != nil {
			return nil, err
		}
		return &worker.CreateBookmark{Name: args[0], ID: id}, nil
	}),
}

var bookmarkMoveCmd = &cobra.Command{
	Use:   "move <name>",
	Short: "Point an existing bookmark at another revision",
	Args:  cobra.ExactArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		id, err := resolve(ws, bookmarkRev)
		if err != nil {
			return nil, err
		}
		return &worker.MoveBookmark{Name: args[0], ID: id}, nil
	}),
}

var bookmarkDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		return &worker.DeleteBookmark{Name: args[0]}, nil
	}),
}

var undoCmd = &cobra.Command{
	Use:     "undo",
	Short:   "Undo the last operation",
	GroupID: groupRefs,
	Args:    cobra.NoArgs,
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		return &worker.UndoOperation{}, nil
	}),
}

var importGitCmd = &cobra.Command{
	Use:     "import-git [ref]",
	Short:   "Import the first-parent history of a git branch",
	GroupID: groupRefs,
	Args:    cobra.MaximumNArgs(1),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		return &worker.ImportGit{
			Path:              importGitPath,
			Ref:               argOr(args, "HEAD"),
			Limit:             importGitLimit,
			Bookmark:          importGitBookmark,
			RebaseWorkingCopy: importGitRebase,
		}, nil
	}),
}

var mutateCmd = &cobra.Command{
	Use:   "mutate <kind> [json]",
	Short: "Apply a mutation given as JSON",
	Long: `Decodes a mutation from its JSON form and applies it. The payload is read
from stdin when it is "-". Kinds: ` + strings.Join(worker.MutationKinds(), ", ") + ".",
	GroupID: groupRefs,
	Args:    cobra.RangeArgs(1, 2),
	RunE: withWorkspace(func(ws *worker.Workspace, args []string) (worker.Mutation, error) {
		var raw []byte
		if len(args) == 2 {
			raw = []byte(args[1])
			if args[1] == "-" {
				var err error
				if raw, err = io.ReadAll(os.Stdin); err != nil {
					return nil, fmt.Errorf("reading stdin: %w", err)
				}
			}
		}
		return worker.DecodeMutation(args[0], raw)
	}),
}

var (
	insertAfter         string
	insertBefore        string
	describeMessage     string
	describeResetAuthor bool
	restoreFrom         string
	restoreInto         string
	squashFrom          string
	squashInto          string
	moveHunkFrom        string
	moveHunkInto        string
	moveHunkPath        string
	moveHunkPatch       string
	moveHunkIndex       int
	bookmarkRev         string
	importGitPath       string
	importGitLimit      int
	importGitBookmark   string
	importGitRebase     bool
)

func init() {
	insertCmd.Flags().StringVar(&insertAfter, "after", "", "Revision to insert after (required)")
	insertCmd.Flags().StringVar(&insertBefore, "before", "", "Revision to insert before (required)")
	insertCmd.MarkFlagRequired("after")
	insertCmd.MarkFlagRequired("before")

	describeCmd.Flags().StringVarP(&describeMessage, "message", "m", "", "The new description")
	describeCmd.Flags().BoolVar(&describeResetAuthor, "reset-author", false, "Make the configured user the author")

	restoreCmd.Flags().StringVar(&restoreFrom, "from", "@-", "Revision to copy contents from")
	restoreCmd.Flags().StringVar(&restoreInto, "into", "@", "Revision to copy contents into")

	squashCmd.Flags().StringVar(&squashFrom, "from", "@", "Revision to take changes from")
	squashCmd.Flags().StringVar(&squashInto, "into", "@-", "Revision to move changes into")

	moveHunkCmd.Flags().StringVar(&moveHunkFrom, "from", "@", "Revision holding the hunk")
	moveHunkCmd.Flags().StringVar(&moveHunkInto, "into", "@-", "Revision to move the hunk into")
	moveHunkCmd.Flags().StringVar(&moveHunkPath, "path", "", "File whose hunk to move")
	moveHunkCmd.Flags().StringVar(&moveHunkPatch, "patch", "", "Unified diff holding the hunk")
	moveHunkCmd.Flags().IntVar(&moveHunkIndex, "hunk", 0, "Index of the hunk to move")

	for _, c := range []*cobra.Command{bookmarkCreateCmd, bookmarkMoveCmd} {
		c.Flags().StringVarP(&bookmarkRev, "revision", "r", "@", "Revision the bookmark points at")
	}
	bookmarkCmd.AddCommand(bookmarkCreateCmd, bookmarkMoveCmd, bookmarkDeleteCmd)

	importGitCmd.Flags().StringVar(&importGitPath, "path", "", "Git repository (default: the workspace)")
	importGitCmd.Flags().IntVar(&importGitLimit, "limit", 0, "Import at most this many commits (0 for all)")
	importGitCmd.Flags().StringVar(&importGitBookmark, "bookmark", "", "Bookmark to point at the imported tip")
	importGitCmd.Flags().BoolVar(&importGitRebase, "rebase", false, "Rebase the working copy onto the imported tip")

	rootCmd.AddCommand(newCmd, editCmd, abandonCmd, duplicateCmd, insertCmd, rebaseCmd,
		describeCmd, restoreCmd, squashCmd, moveHunkCmd,
		bookmarkCmd, undoCmd, importGitCmd, mutateCmd)
}

// withWorkspace adapts a mutation builder to a cobra RunE: it opens the
// workspace, builds the mutation, executes it and prints the result.
func withWorkspace(build func(ws *worker.Workspace, args []string) (worker.Mutation, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace()
		if err != nil {
			return err
		}
		defer ws.Close()

		m, err := build(ws, args)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), worker.Execute(ws, m))
	}
}

// printResult reports res and turns failures into command errors.
func printResult(w io.Writer, res messages.MutationResult) error {
	if jsonOutput {
		if err := writeJSON(w, res); err != nil {
			return err
		}
	} else {
		switch res.Type {
		case messages.MutationUnchanged:
			fmt.Fprintln(w, "Nothing changed.")
		case messages.MutationUpdated, messages.MutationUpdatedSelection:
			fmt.Fprintln(w, res.NewStatus.OperationDescription)
			fmt.Fprintf(w, "Working copy now at: %s\n", res.NewStatus.WorkingCopy.Prefix)
			if res.NewSelection != nil {
				fmt.Fprintf(w, "Selected: %s %s\n", res.NewSelection.ID.Change.Prefix, summary(*res.NewSelection))
			}
		}
	}

	switch res.Type {
	case messages.MutationPreconditionError:
		return fmt.Errorf("%s", res.Message)
	case messages.MutationInternalError:
		return fmt.Errorf("internal error: %s", res.Message)
	}
	return nil
}

func resolveAll(ws *worker.Workspace, exprs []string) ([]messages.RevId, error) {
	ids := make([]messages.RevId, 0, len(exprs))
	for _, expr := range exprs {
		id, err := resolve(ws, expr)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func resolveCommits(ws *worker.Workspace, exprs []string) ([]messages.CommitId, error) {
	ids, err := resolveAll(ws, exprs)
	if err != nil {
		return nil, err
	}
	commits := make([]messages.CommitId, len(ids))
	for i, id := range ids {
		commits[i] = id.Commit
	}
	return commits, nil
}

func treePaths(args []string) []messages.TreePath {
	paths := make([]messages.TreePath, 0, len(args))
	for _, a := range args {
		paths = append(paths, messages.NewTreePath(a))
	}
	return paths
}

// selectHunk picks the hunk named by the move-hunk flags.
func selectHunk(ws *worker.Workspace, from messages.RevId) (string, messages.ChangeHunk, error) {
	if moveHunkPatch != "" {
		return hunkFromPatch(moveHunkPatch, moveHunkPath, moveHunkIndex)
	}
	if moveHunkPath == "" {
		return "", messages.ChangeHunk{}, fmt.Errorf("one of --path or --patch is required")
	}

	res, err := worker.QueryRevision(ws, from)
	if err != nil {
		return "", messages.ChangeHunk{}, err
	}
	for _, ch := range res.Changes {
		if ch.Path.RepoPath != moveHunkPath {
			continue
		}
		if moveHunkIndex < 0 || moveHunkIndex >= len(ch.Hunks) {
			return "", messages.ChangeHunk{}, fmt.Errorf("%s has %d hunk(s), no hunk %d", moveHunkPath, len(ch.Hunks), moveHunkIndex)
		}
		return moveHunkPath, ch.Hunks[moveHunkIndex], nil
	}
	return "", messages.ChangeHunk{}, fmt.Errorf("revision does not change %s", moveHunkPath)
}

// hunkFromPatch reads the index'th hunk of path from a unified diff. An
// empty path selects the patch's only file.
func hunkFromPatch(file, path string, index int) (string, messages.ChangeHunk, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", messages.ChangeHunk{}, fmt.Errorf("reading patch: %w", err)
	}

	patches, err := diff.ParsePatch(data)
	if err != nil {
		return "", messages.ChangeHunk{}, err
	}
	for _, fp := range patches {
		name := fp.NewPath
		if name == "" {
			name = fp.OldPath
		}
		if path != "" && name != path {
			continue
		}
		if path == "" && len(patches) > 1 {
			return "", messages.ChangeHunk{}, fmt.Errorf("patch touches %d files; pick one with --path", len(patches))
		}
		if index < 0 || index >= len(fp.Hunks) {
			return "", messages.ChangeHunk{}, fmt.Errorf("%s has %d hunk(s) in the patch, no hunk %d", name, len(fp.Hunks), index)
		}
		return name, fromDiffHunk(fp.Hunks[index]), nil
	}
	return "", messages.ChangeHunk{}, fmt.Errorf("patch does not touch %s", path)
}
