// Package worker applies queries and mutations to a loaded workspace: a
// working directory, the revision store under its .gg directory, and the
// working-copy revision kept in step with the files on disk.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gg/internal/cache"
	"gg/internal/config"
	"gg/internal/dirio"
	"gg/internal/messages"
	"gg/internal/repo"
	"gg/internal/snapshot"
)

// StoreDir is the name of the repository directory inside a workspace.
const StoreDir = ".gg"

// WorkerSession opens workspaces. Logger receives engine logs; nil means
// slog.Default().
type WorkerSession struct {
	Logger *slog.Logger
}

func (s *WorkerSession) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// wcState tracks the working copy relative to the last snapshot.
type wcState int

const (
	// wcUnknown: disk has not been compared with the working-copy revision.
	wcUnknown wcState = iota
	// wcClean: the last reconcile found disk equal to the working-copy tree.
	wcClean
	// wcDirty: a change was reported since the last reconcile.
	wcDirty
)

func (s wcState) String() string {
	switch s {
	case wcClean:
		return "clean"
	case wcDirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// Workspace is a loaded working directory. All access goes through its
// mutex: Execute, the query functions and Reconcile take it.
type Workspace struct {
	mu sync.Mutex

	root    string
	repo    *repo.Repo
	cfg     *config.Config
	cache   *cache.FileCache
	creator *snapshot.Creator
	logger  *slog.Logger

	state       wcState
	lastListing string // stat identifier of the last snapshotted listing
	racy        bool   // the last listing had files too fresh to trust by stat
	latestQuery string
}

// FindRoot returns the nearest directory at or above dir holding a .gg directory.
func FindRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	for cur := abs; ; cur = filepath.Dir(cur) {
		if info, err := os.Stat(filepath.Join(cur, StoreDir)); err == nil && info.IsDir() {
			return cur, nil
		}
		if filepath.Dir(cur) == cur {
			return "", fmt.Errorf("%w: %s", repo.ErrNotInitialized, abs)
		}
	}
}

// LoadDirectory opens the workspace containing dir.
func (s *WorkerSession) LoadDirectory(dir string) (*Workspace, error) {
	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}
	storeDir := filepath.Join(root, StoreDir)

	cfg, err := config.Load(storeDir)
	if err != nil {
		return nil, err
	}
	r, err := repo.Open(storeDir, signature(cfg))
	if err != nil {
		return nil, err
	}
	return s.newWorkspace(root, r, cfg)
}

// InitDirectory creates a repository in dir and opens it. The files already
// in dir are recorded in the working copy by the first reconcile.
func (s *WorkerSession) InitDirectory(dir string) (*Workspace, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	storeDir := filepath.Join(root, StoreDir)
	if _, err := os.Stat(storeDir); err == nil {
		return nil, fmt.Errorf("%w: %s", repo.ErrExists, root)
	}
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", StoreDir, err)
	}

	cfg, err := config.Load(storeDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Save(storeDir); err != nil {
		return nil, err
	}
	r, err := repo.Init(storeDir, signature(cfg))
	if err != nil {
		return nil, err
	}
	s.logger().Info("initialized repository", slog.String("root", root))
	return s.newWorkspace(root, r, cfg)
}

func (s *WorkerSession) newWorkspace(root string, r *repo.Repo, cfg *config.Config) (*Workspace, error) {
	fc, err := cache.Open(r.Dir())
	if err != nil {
		r.Close()
		return nil, err
	}
	return &Workspace{
		root:        root,
		repo:        r,
		cfg:         cfg,
		cache:       fc,
		creator:     snapshot.NewCreator(fc),
		logger:      s.logger().With(slog.String("workspace", root)),
		latestQuery: cfg.Log.DefaultQuery,
	}, nil
}

func signature(cfg *config.Config) repo.Signature {
	return repo.Signature{Name: cfg.User.Name, Email: cfg.User.Email}
}

// Close releases the store and the stat cache.
func (ws *Workspace) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return errors.Join(ws.cache.Close(), ws.repo.Close())
}

// Root returns the absolute working directory.
func (ws *Workspace) Root() string { return ws.root }

// Config returns the loaded configuration.
func (ws *Workspace) Config() *config.Config { return ws.cfg }

// MarkDirty records that files changed on disk, forcing the next reconcile
// to snapshot even if the directory listing looks unchanged.
func (ws *Workspace) MarkDirty() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.state = wcDirty
}

// Reconcile snapshots the working directory into the working-copy revision
// if it changed.
func (ws *Workspace) Reconcile() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.reconcile()
}

// reconcile compares disk with the working-copy revision and records a new
// snapshot when they differ. Callers hold ws.mu.
func (ws *Workspace) reconcile() error {
	src, err := dirio.OpenDirectory(ws.root, dirio.WithExtraIgnores(ws.cfg.Snapshot.Ignore))
	if err != nil {
		return fmt.Errorf("listing working directory: %w", err)
	}
	if ws.state == wcClean && !ws.racy && src.Identifier() == ws.lastListing {
		return nil
	}

	tx, err := ws.repo.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tree, err := ws.creator.CreateTree(tx, src)
	if err != nil {
		return fmt.Errorf("snapshotting working copy: %w", err)
	}
	wc := tx.WorkingCopy()
	if wc == nil {
		return fmt.Errorf("%w: working copy", repo.ErrNotFound)
	}
	if tree == wc.Tree {
		ws.markClean(src)
		return nil
	}

	prev := ws.state
	if _, err := tx.Rewrite(wc, func(c *repo.Commit) { c.Tree = tree }); err != nil {
		return err
	}
	n, err := tx.RebaseDescendants()
	if err != nil {
		return err
	}
	if err := tx.Finish("snapshot working copy"); err != nil {
		return err
	}
	ws.logger.Debug("snapshotted working copy",
		slog.String("previous_state", prev.String()),
		slog.Int("rebased", n))
	ws.markClean(src)
	return nil
}

func (ws *Workspace) markClean(src *dirio.DirectorySource) {
	ws.state = wcClean
	ws.lastListing = src.Identifier()
	ws.racy = false

	files, _ := src.GetFiles()
	horizon := time.Now().Add(-cache.RacyWindow).UnixNano()
	for _, f := range files {
		if f.ModTime >= horizon {
			ws.racy = true
			return
		}
	}
}

// status describes the repository after the latest operation.
func (ws *Workspace) status(tx *repo.Tx, description string) messages.RepoStatus {
	st := messages.RepoStatus{OperationDescription: description}
	if wc := tx.WorkingCopy(); wc != nil {
		st.WorkingCopy = messages.NewCommitId(wc.ID)
	}
	return st
}

// RepoConfig describes the loaded workspace.
func (ws *Workspace) RepoConfig() (messages.RepoConfig, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	st, err := ws.queryStatus()
	if err != nil {
		return messages.RepoConfig{}, err
	}
	return messages.RepoConfig{
		Type:         messages.RepoConfigWorkspace,
		AbsolutePath: ws.root,
		DefaultQuery: ws.cfg.Log.DefaultQuery,
		LatestQuery:  ws.latestQuery,
		Status:       &st,
	}, nil
}
