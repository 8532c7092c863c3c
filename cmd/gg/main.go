// Package main provides the gg CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gg/internal/diff"
	"gg/internal/ignore"
	"gg/internal/messages"
	"gg/internal/watch"
	"gg/internal/worker"
)

// Version is the current gg CLI version
var Version = "0.3.0"

var (
	repoDir    string
	verbose    bool
	jsonOutput bool

	logger  *slog.Logger
	session *worker.WorkerSession
)

var rootCmd = &cobra.Command{
	Use:           "gg",
	Short:         "gg - edit a revision graph",
	Long:          `gg keeps a working directory in step with a graph of revisions and rewrites that graph: abandon, rebase, squash, split hunks between revisions, and undo.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		session = &worker.WorkerSession{Logger: logger}
	},
}

// Command groups for organized help output
const (
	groupQuery  = "query"
	groupGraph  = "graph"
	groupChange = "content"
	groupRefs   = "refs"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a repository in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

var logCmd = &cobra.Command{
	Use:     "log [revset]",
	Short:   "List revisions selected by a revset",
	GroupID: groupQuery,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runLog,
}

var showCmd = &cobra.Command{
	Use:     "show [revision]",
	Short:   "Show a revision and the paths it changes",
	GroupID: groupQuery,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runShow,
}

var diffCmd = &cobra.Command{
	Use:     "diff [revision]",
	Short:   "Print a revision's changes as a unified diff",
	GroupID: groupQuery,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runDiff,
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the working copy and the last operation",
	GroupID: groupQuery,
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Snapshot the working directory whenever it changes",
	GroupID: groupQuery,
	Args:    cobra.NoArgs,
	RunE:    runWatch,
}

var opCmd = &cobra.Command{
	Use:     "op",
	Short:   "Inspect the operation log",
	GroupID: groupRefs,
}

var opLogCmd = &cobra.Command{
	Use:   "log",
	Short: "List recent operations, newest first",
	Args:  cobra.NoArgs,
	RunE:  runOpLog,
}

var (
	initGitRef   string
	initGitLimit int
	logLimit     int
	opLogLimit   int
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupQuery, Title: "Inspecting:"},
		&cobra.Group{ID: groupGraph, Title: "Reshaping the graph:"},
		&cobra.Group{ID: groupChange, Title: "Moving changes:"},
		&cobra.Group{ID: groupRefs, Title: "Bookmarks and operations:"},
	)

	rootCmd.PersistentFlags().StringVarP(&repoDir, "repository", "R", ".", "Path inside the workspace to operate on")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	initCmd.Flags().StringVar(&initGitRef, "git", "", "Import the first-parent history of this git ref")
	initCmd.Flags().IntVar(&initGitLimit, "git-limit", 0, "Import at most this many git commits (0 for all)")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "Number of revisions to show (default from config)")
	opLogCmd.Flags().IntVarP(&opLogLimit, "limit", "n", 20, "Number of operations to show")
	opCmd.AddCommand(opLogCmd)

	rootCmd.AddCommand(initCmd, logCmd, showCmd, diffCmd, statusCmd, watchCmd, opCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openWorkspace() (*worker.Workspace, error) {
	return session.LoadDirectory(repoDir)
}

// resolve turns a revset naming exactly one revision into its ids.
func resolve(ws *worker.Workspace, expr string) (messages.RevId, error) {
	h, err := worker.ResolveRevision(ws, expr)
	if err != nil {
		return messages.RevId{}, err
	}
	return h.ID, nil
}

func argOr(args []string, def string) string {
	if len(args) > 0 {
		return args[0]
	}
	return def
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := argOr(args, repoDir)
	ws, err := session.InitDirectory(dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.Reconcile(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized repository in %s\n", ws.Root())

	if initGitRef == "" {
		return nil
	}
	res := worker.Execute(ws, &worker.ImportGit{
		Path:              ws.Root(),
		Ref:               initGitRef,
		Limit:             initGitLimit,
		RebaseWorkingCopy: true,
	})
	return printResult(out, res)
}

func runLog(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	page, err := worker.QueryLog(ws, argOr(args, ""), logLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, page)
	}
	for _, row := range page.Rows {
		printHeader(out, row.Revision)
	}
	if page.HasMore {
		fmt.Fprintln(out, "~ (more revisions; raise --limit)")
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	res, err := queryDetail(ws, argOr(args, "@"))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, res)
	}

	printHeader(out, *res.Header)
	if lines := res.Header.Description.Lines; len(lines) > 1 {
		for _, l := range lines[1:] {
			fmt.Fprintf(out, "    %s\n", l)
		}
	}
	for _, p := range res.Parents {
		fmt.Fprintf(out, "Parent: %s %s\n", p.ID.Change.Prefix, summary(p))
	}
	for _, ch := range res.Changes {
		marker := map[messages.ChangeKind]string{
			messages.ChangeKindAdded:    "A",
			messages.ChangeKindDeleted:  "D",
			messages.ChangeKindModified: "M",
		}[ch.Kind]
		conflict := ""
		if ch.HasConflict {
			conflict = " (conflict)"
		}
		fmt.Fprintf(out, "%s %s%s\n", marker, ch.Path.RepoPath, conflict)
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	res, err := queryDetail(ws, argOr(args, "@"))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, ch := range res.Changes {
		oldPath, newPath := ch.Path.RepoPath, ch.Path.RepoPath
		switch ch.Kind {
		case messages.ChangeKindAdded:
			oldPath = ""
		case messages.ChangeKindDeleted:
			newPath = ""
		}
		hunks := make([]diff.Hunk, 0, len(ch.Hunks))
		for _, h := range ch.Hunks {
			hunks = append(hunks, toDiffHunk(h))
		}
		text, err := diff.Unified(oldPath, newPath, hunks)
		if err != nil {
			return err
		}
		fmt.Fprint(out, text)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	cfg, err := ws.RepoConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, cfg)
	}
	res, err := queryDetail(ws, "@")
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Workspace: %s\n", cfg.AbsolutePath)
	fmt.Fprintf(out, "Last operation: %s\n", cfg.Status.OperationDescription)
	fmt.Fprintf(out, "Working copy: %s %s\n", res.Header.ID.Change.Prefix, summary(*res.Header))
	if len(res.Changes) == 0 {
		fmt.Fprintln(out, "The working copy has no changes.")
	}
	for _, ch := range res.Changes {
		fmt.Fprintf(out, "  %-8s %s\n", strings.ToLower(string(ch.Kind)), ch.Path.RepoPath)
	}
	return nil
}

func runOpLog(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	ops, err := worker.QueryOperations(ws, opLogLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, ops)
	}
	for _, op := range ops {
		when := time.UnixMilli(op.Timestamp).Format("2006-01-02 15:04:05")
		fmt.Fprintf(out, "%4d %s %s\n", op.Seq, when, op.Description)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.Reconcile(); err != nil {
		return err
	}
	m, err := ignore.LoadFromDir(ws.Root(), ws.Config().Snapshot.Ignore)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w, err := watch.New(ws.Root(), ws.Config().Watch.Debounce, m, func(paths []string) {
		ws.MarkDirty()
		if err := ws.Reconcile(); err != nil {
			logger.Warn("snapshot failed", slog.String("err", err.Error()))
			return
		}
		fmt.Fprintf(out, "%s snapshot after changes to %d path(s)\n", time.Now().Format("15:04:05"), len(paths))
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", ws.Root())
	return w.Run(ctx)
}

// queryDetail resolves expr and loads the full revision.
func queryDetail(ws *worker.Workspace, expr string) (messages.RevResult, error) {
	id, err := resolve(ws, expr)
	if err != nil {
		return messages.RevResult{}, err
	}
	res, err := worker.QueryRevision(ws, id)
	if err != nil {
		return messages.RevResult{}, err
	}
	if res.Type != messages.RevResultDetail {
		return messages.RevResult{}, fmt.Errorf("revision %s not found", expr)
	}
	return res, nil
}

func printHeader(w io.Writer, h messages.RevHeader) {
	marker := "○"
	switch {
	case h.IsWorkingCopy:
		marker = "@"
	case h.IsImmutable:
		marker = "◆"
	}

	var extra []string
	extra = append(extra, h.Bookmarks...)
	if h.HasConflict {
		extra = append(extra, "conflict")
	}
	tags := ""
	if len(extra) > 0 {
		tags = " (" + strings.Join(extra, ", ") + ")"
	}

	when := time.UnixMilli(h.Author.Timestamp).Format("2006-01-02 15:04:05")
	fmt.Fprintf(w, "%s %s %s %s %s%s\n", marker, h.ID.Change.Prefix, h.ID.Commit.Prefix, h.Author.Email, when, tags)
	fmt.Fprintf(w, "  %s\n", summary(h))
}

func summary(h messages.RevHeader) string {
	if s := h.Description.Summary(); s != "" {
		return s
	}
	return "(no description set)"
}

func toDiffHunk(h messages.ChangeHunk) diff.Hunk {
	return diff.Hunk{
		OldStart: h.Location.FromFile.Start,
		OldLines: h.Location.FromFile.Len,
		NewStart: h.Location.ToFile.Start,
		NewLines: h.Location.ToFile.Len,
		Lines:    h.Lines.Lines,
	}
}

func fromDiffHunk(h diff.Hunk) messages.ChangeHunk {
	return messages.ChangeHunk{
		Location: messages.HunkLocation{
			FromFile: messages.FileRange{Start: h.OldStart, Len: h.OldLines},
			ToFile:   messages.FileRange{Start: h.NewStart, Len: h.NewLines},
		},
		Lines: messages.MultilineString{Lines: h.Lines},
	}
}
