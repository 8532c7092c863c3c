// Package repo implements the revision store: immutable commits and trees in
// the graph database, plus a mutable view naming the visible revisions, the
// bookmarks and the working copy. All writes go through a Tx.
package repo

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"gg/internal/cas"
	"gg/internal/graph"
)

// RootChangeID is the change id of the root commit every history descends from.
const RootChangeID = "00000000000000000000000000000000"

// DefaultWorkspace names the only working copy a repository has.
const DefaultWorkspace = "default"

var (
	ErrNotFound       = errors.New("revision not found")
	ErrImmutable      = errors.New("revision is immutable")
	ErrNotInitialized = errors.New("not a gg repository")
	ErrExists         = errors.New("repository already initialized")
	ErrNothingToUndo  = errors.New("nothing to undo")
)

const (
	dbFile     = "store.db"
	objectsDir = "objects"
)

// Repo is an opened revision store.
type Repo struct {
	db        *graph.DB
	dir       string
	user      Signature
	rootID    string
	emptyTree string
}

// Init creates a new store in dir: the root commit, an empty working-copy
// commit on top of it, and the initial operation.
func Init(dir string, user Signature) (*Repo, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	r, err := open(dir, user)
	if err != nil {
		return nil, err
	}

	if err := r.writeRoot(); err != nil {
		r.Close()
		return nil, err
	}

	rtx, err := r.Begin()
	if err != nil {
		r.Close()
		return nil, err
	}
	rtx.view.Heads[RootChangeID] = Head{Commit: r.rootID, Seq: 0}
	rtx.visible[r.rootID] = rtx.root
	rtx.nextSeq = 1
	wc, err := rtx.NewCommit([]string{r.rootID}, r.emptyTree, "")
	if err == nil {
		rtx.SetWorkingCopy(wc)
		err = rtx.Finish("initialize repository")
	}
	if err != nil {
		rtx.Rollback()
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) writeRoot() error {
	tx, err := r.db.BeginTx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var ops int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM operations`).Scan(&ops); err != nil {
		return fmt.Errorf("counting operations: %w", err)
	}
	if ops > 0 {
		return ErrExists
	}

	emptyTree, err := r.db.InsertNode(tx, graph.KindTree, &Tree{Entries: []TreeEntry{}})
	if err != nil {
		return fmt.Errorf("inserting empty tree: %w", err)
	}
	rootID, err := r.db.InsertNode(tx, graph.KindCommit, rootCommit(emptyTree))
	if err != nil {
		return fmt.Errorf("inserting root commit: %w", err)
	}
	if err := r.db.InsertEdge(tx, rootID, graph.EdgeHasTree, emptyTree, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// Open opens an existing store in dir.
func Open(dir string, user Signature) (*Repo, error) {
	if _, err := os.Stat(filepath.Join(dir, dbFile)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotInitialized, dir)
		}
		return nil, err
	}
	return open(dir, user)
}

func open(dir string, user Signature) (*Repo, error) {
	db, err := graph.Open(filepath.Join(dir, dbFile), filepath.Join(dir, objectsDir))
	if err != nil {
		return nil, fmt.Errorf("opening graph db: %w", err)
	}

	emptyTree, err := cas.NodeID(string(graph.KindTree), &Tree{Entries: []TreeEntry{}})
	if err != nil {
		db.Close()
		return nil, err
	}
	rootID, err := cas.NodeID(string(graph.KindCommit), rootCommit(emptyTree))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Repo{db: db, dir: dir, user: user, rootID: rootID, emptyTree: emptyTree}, nil
}

func rootCommit(emptyTree string) *Commit {
	return &Commit{
		ChangeID: RootChangeID,
		Parents:  []string{},
		Tree:     emptyTree,
	}
}

// Close releases the database.
func (r *Repo) Close() error {
	return r.db.Close()
}

// Dir returns the store directory.
func (r *Repo) Dir() string {
	return r.dir
}

// RootID returns the commit id of the root commit.
func (r *Repo) RootID() string {
	return r.rootID
}

// HasFile reports whether content with the given digest is stored.
func (r *Repo) HasFile(digest string) bool {
	return r.db.HasObject(digest)
}

// Operations returns up to limit operations, newest first.
func (r *Repo) Operations(limit int) ([]Operation, error) {
	tx, err := r.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()
	return operations(tx, limit)
}

func operations(q graph.Querier, limit int) ([]Operation, error) {
	rows, err := q.Query(`
		SELECT seq, description, created_at FROM operations ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.Seq, &op.Description, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Begin starts a transaction and loads the current view.
func (r *Repo) Begin() (*Tx, error) {
	sqlTx, err := r.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	tx := &Tx{
		repo:    r,
		q:       sqlTx,
		sqlTx:   sqlTx,
		view:    newView(),
		visible: make(map[string]*Commit),
		commits: make(map[string]*Commit),
		trees:   make(map[string]*Tree),
		mapping: make(map[string][]string),
	}
	tx.root = rootCommit(r.emptyTree)
	tx.root.ID = r.rootID
	tx.commits[r.rootID] = tx.root

	if err := tx.loadView(); err != nil {
		sqlTx.Rollback()
		return nil, err
	}
	return tx, nil
}

func (tx *Tx) loadView() error {
	rows, err := tx.q.Query(`SELECT change_id, commit_id, seq FROM changes`)
	if err != nil {
		return fmt.Errorf("querying changes: %w", err)
	}
	for rows.Next() {
		var change string
		var h Head
		if err := rows.Scan(&change, &h.Commit, &h.Seq); err != nil {
			rows.Close()
			return fmt.Errorf("scanning change: %w", err)
		}
		tx.view.Heads[change] = h
		if h.Seq >= tx.nextSeq {
			tx.nextSeq = h.Seq + 1
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = tx.q.Query(`SELECT name, change_id FROM refs`)
	if err != nil {
		return fmt.Errorf("querying refs: %w", err)
	}
	for rows.Next() {
		var name, change string
		if err := rows.Scan(&name, &change); err != nil {
			rows.Close()
			return fmt.Errorf("scanning ref: %w", err)
		}
		tx.view.Bookmarks[name] = change
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	err = tx.q.QueryRow(`SELECT change_id FROM working_copies WHERE name = ?`, DefaultWorkspace).
		Scan(&tx.view.WorkingCopy)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("querying working copy: %w", err)
	}

	return tx.reindex()
}

// reindex rebuilds the visible commit index from the view.
func (tx *Tx) reindex() error {
	tx.visible = make(map[string]*Commit, len(tx.view.Heads))
	for _, h := range tx.view.Heads {
		c, err := tx.Commit(h.Commit)
		if err != nil {
			return fmt.Errorf("loading head %s: %w", cas.Short(h.Commit, 12), err)
		}
		tx.visible[c.ID] = c
	}
	return nil
}

func newChangeID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func encodeView(v *View) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding view: %w", err)
	}
	return string(data), nil
}

func decodeView(data string, v *View) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decoding view: %w", err)
	}
	if v.Heads == nil {
		v.Heads = make(map[string]Head)
	}
	if v.Bookmarks == nil {
		v.Bookmarks = make(map[string]string)
	}
	return nil
}
