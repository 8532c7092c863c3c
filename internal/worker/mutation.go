package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"gg/internal/cas"
	"gg/internal/messages"
	"gg/internal/repo"
	"gg/internal/revset"
)

// Mutation is a single change to the repository. Implementations run with
// the workspace lock held and must go through Execute rather than be called
// directly.
type Mutation interface {
	Execute(ws *Workspace) (messages.MutationResult, error)
}

var (
	// ErrInvalidRange is returned when a hunk's destination range does not
	// fit the destination file.
	ErrInvalidRange = errors.New("invalid range")
	// ErrConflictingOperation is returned when the requested graph edit
	// contradicts the shape of the graph, such as making a revision its own
	// ancestor.
	ErrConflictingOperation = errors.New("conflicting operation")
)

// PreconditionError reports a mutation the current state does not permit.
// It is surfaced to the caller as a PreconditionError result.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string {
	return e.Err.Error()
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func preconditionf(format string, args ...interface{}) error {
	return &PreconditionError{Err: fmt.Errorf(format, args...)}
}

// Execute runs m against ws under the workspace lock. The working directory
// is snapshotted first. Errors and panics become failure results; nothing is
// recorded for a failed mutation.
func Execute(ws *Workspace, m Mutation) (result messages.MutationResult) {
	op := mutationName(m)

	ws.mu.Lock()
	defer ws.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			ws.logger.Error("mutation panicked", slog.String("op", op), slog.Any("panic", r))
			result = messages.InternalError(fmt.Sprintf("%s: %v", op, r))
		}
	}()

	start := time.Now()
	ws.logger.Debug("executing mutation", slog.String("op", op))

	if err := ws.reconcile(); err != nil {
		return ws.failure(op, fmt.Errorf("snapshotting working copy: %w", err))
	}

	res, err := m.Execute(ws)
	if err != nil {
		return ws.failure(op, err)
	}
	if res.Type != messages.MutationUnchanged {
		attrs := []any{
			slog.String("op", op),
			slog.String("result", string(res.Type)),
			slog.Duration("elapsed", time.Since(start)),
		}
		if res.NewStatus != nil {
			attrs = append(attrs, slog.String("working_copy", res.NewStatus.WorkingCopy.Prefix))
		}
		ws.logger.Info("mutation applied", attrs...)
	}
	return res
}

func (ws *Workspace) failure(op string, err error) messages.MutationResult {
	if isPrecondition(err) {
		ws.logger.Debug("mutation rejected", slog.String("op", op), slog.String("error", err.Error()))
		return messages.PreconditionError(err.Error())
	}
	ws.logger.Error("mutation failed", slog.String("op", op), slog.String("error", err.Error()))
	return messages.InternalError(err.Error())
}

func isPrecondition(err error) bool {
	var pe *PreconditionError
	var parseErr *revset.ParseError
	var ambErr *revset.AmbiguityError
	var nfErr *revset.NotFoundError
	switch {
	case errors.As(err, &pe), errors.As(err, &parseErr), errors.As(err, &ambErr), errors.As(err, &nfErr):
		return true
	case errors.Is(err, repo.ErrImmutable), errors.Is(err, repo.ErrNothingToUndo):
		return true
	}
	return false
}

func mutationName(m Mutation) string {
	if m == nil {
		return "<nil>"
	}
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// mutationTx is the transaction a mutation stages its graph writes in.
type mutationTx struct {
	ws        *Workspace
	tx        *repo.Tx
	wcTree    string
	immutable revset.Set
}

func (ws *Workspace) begin() (*mutationTx, error) {
	tx, err := ws.repo.Begin()
	if err != nil {
		return nil, err
	}
	mt := &mutationTx{ws: ws, tx: tx}
	if wc := tx.WorkingCopy(); wc != nil {
		mt.wcTree = wc.Tree
	}
	mt.immutable, err = ws.immutableSet(tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return mt, nil
}

// immutableSet evaluates the configured immutable heads together with
// their ancestors.
func (ws *Workspace) immutableSet(tx *repo.Tx) (revset.Set, error) {
	expr, err := revset.Parse("::(" + ws.cfg.Revsets.Immutable + ")")
	if err != nil {
		return nil, fmt.Errorf("revsets.immutable: %w", err)
	}
	set, err := revset.NewEvaluator(tx, ws.cfg.User.Email).Eval(expr)
	if err != nil {
		return nil, fmt.Errorf("revsets.immutable: %w", err)
	}
	set[tx.Root().ID] = true
	return set, nil
}

func (mt *mutationTx) rollback() {
	mt.tx.Rollback()
}

// resolveRev finds the visible revision for id, by change id first.
func (mt *mutationTx) resolveRev(id messages.RevId) (*repo.Commit, error) {
	if id.Change.Hex != "" {
		if c, ok := mt.tx.Head(id.Change.Hex); ok {
			return c, nil
		}
	}
	if id.Commit.Hex == "" {
		return nil, preconditionf("revision not found: %s", id.Change.Prefix)
	}
	return mt.resolveCommit(id.Commit)
}

// resolveCommit finds the visible revision for a commit id. A commit that was
// rewritten since the caller saw it resolves to its change's current commit.
func (mt *mutationTx) resolveCommit(id messages.CommitId) (*repo.Commit, error) {
	if c, ok := mt.tx.Visible(id.Hex); ok {
		return c, nil
	}
	if cas.IsHex(id.Hex) && id.Hex != "" {
		if c, err := mt.tx.Commit(id.Hex); err == nil {
			if head, ok := mt.tx.Head(c.ChangeID); ok {
				return head, nil
			}
		}
	}
	return nil, preconditionf("revision not found: %s", displayID(id.Hex))
}

func (mt *mutationTx) checkMutable(c *repo.Commit) error {
	if mt.immutable[c.ID] {
		return preconditionf("%w: revision %s", repo.ErrImmutable, cas.Short(c.ChangeID, messages.PrefixLen))
	}
	return nil
}

// rebaseDescendants is RebaseDescendants with the count logged.
func (mt *mutationTx) rebaseDescendants() error {
	n, err := mt.tx.RebaseDescendants()
	if err != nil {
		return err
	}
	if n > 0 {
		mt.ws.logger.Debug("rebased descendants", slog.Int("count", n))
	}
	return nil
}

// discardable reports whether c may be dropped when the working copy moves
// away from it: it records nothing and nothing refers to it.
func (mt *mutationTx) discardable(c *repo.Commit) (bool, error) {
	if !mt.ws.cfg.Checkout.AbandonEmpty || mt.immutable[c.ID] {
		return false, nil
	}
	if strings.TrimSpace(c.Description) != "" || len(mt.tx.BookmarksOf(c.ChangeID)) > 0 {
		return false, nil
	}
	empty, err := mt.tx.IsEmpty(c)
	if err != nil || !empty {
		return false, err
	}
	children, err := mt.tx.Children(c.ID)
	if err != nil {
		return false, err
	}
	return len(children) == 0, nil
}

// leaveWorkingCopy abandons the previous working copy if it is discardable.
func (mt *mutationTx) leaveWorkingCopy(old *repo.Commit) error {
	if old == nil {
		return nil
	}
	if c, ok := mt.tx.Visible(old.ID); !ok || c.ChangeID == mt.tx.WorkingCopy().ChangeID {
		return nil
	}
	ok, err := mt.discardable(old)
	if err != nil || !ok {
		return err
	}
	mt.ws.logger.Debug("abandoning empty working copy", slog.String("change", cas.Short(old.ChangeID, messages.PrefixLen)))
	return mt.tx.Abandon(old)
}

// finish commits the transaction, brings the working directory in line with
// the new working-copy tree, and reports the result. A non-empty selectChange
// makes the result carry that revision's header.
func (mt *mutationTx) finish(description, selectChange string) (messages.MutationResult, error) {
	if err := mt.tx.Finish(description); err != nil {
		return messages.MutationResult{}, err
	}

	tx, err := mt.ws.repo.Begin()
	if err != nil {
		return messages.MutationResult{}, err
	}
	defer tx.Rollback()

	if err := mt.ws.checkout(tx, mt.wcTree); err != nil {
		return messages.MutationResult{}, err
	}
	status := mt.ws.status(tx, description)
	if selectChange == "" {
		return messages.Updated(status), nil
	}
	c, ok := tx.Head(selectChange)
	if !ok {
		return messages.Updated(status), nil
	}
	immutable, err := mt.ws.immutableSet(tx)
	if err != nil {
		return messages.MutationResult{}, err
	}
	header, err := buildHeader(tx, immutable, c)
	if err != nil {
		return messages.MutationResult{}, err
	}
	return messages.UpdatedSelection(status, header), nil
}

// checkout rewrites the working directory from fromTree to the current
// working-copy tree.
func (ws *Workspace) checkout(tx *repo.Tx, fromTree string) error {
	wc := tx.WorkingCopy()
	if wc == nil || fromTree == "" || wc.Tree == fromTree {
		return nil
	}
	n, err := ws.creator.Checkout(tx, ws.root, fromTree, wc.Tree)
	if err != nil {
		ws.state = wcUnknown
		return fmt.Errorf("updating working directory: %w", err)
	}
	ws.state = wcUnknown
	ws.logger.Debug("updated working directory", slog.Int("files", n))
	return nil
}

func displayID(hex string) string {
	if hex == "" {
		return "(empty id)"
	}
	return cas.Short(hex, messages.PrefixLen)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return fmt.Sprintf("%d %s", n, many)
}
