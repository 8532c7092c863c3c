package revset

import (
	"fmt"
	"sort"
	"strings"

	"gg/internal/cas"
	"gg/internal/repo"
)

// MinPrefixLen is the shortest hex prefix accepted as a revision symbol.
const MinPrefixLen = 4

// AmbiguityError indicates a symbol prefix matches several revisions.
type AmbiguityError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguityError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = cas.Short(c, 12)
	}
	return fmt.Sprintf("ambiguous prefix '%s' matches:\n  %s\nprovide more characters or use a bookmark",
		e.Prefix, strings.Join(parts, "\n  "))
}

// NotFoundError indicates a symbol names no visible revision.
type NotFoundError struct {
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("revision not found: %s", e.Input)
}

// Graph is the read access evaluation needs. *repo.Tx implements it.
type Graph interface {
	Commits() []*repo.Commit
	Root() *repo.Commit
	WorkingCopy() *repo.Commit
	Visible(commitID string) (*repo.Commit, bool)
	Head(changeID string) (*repo.Commit, bool)
	Bookmarks() map[string]string
	IsEmpty(c *repo.Commit) (bool, error)
	HasConflict(c *repo.Commit) (bool, error)
}

// Set is a set of visible commit ids.
type Set map[string]bool

// Evaluator evaluates expressions against one snapshot of the graph.
type Evaluator struct {
	g         Graph
	userEmail string

	all      []*repo.Commit
	children map[string][]string
}

// NewEvaluator creates an evaluator. userEmail backs mine().
func NewEvaluator(g Graph, userEmail string) *Evaluator {
	ev := &Evaluator{g: g, userEmail: userEmail, all: g.Commits(), children: make(map[string][]string)}
	for _, c := range ev.all {
		for _, p := range c.Parents {
			ev.children[p] = append(ev.children[p], c.ID)
		}
	}
	return ev
}

// Evaluate parses and evaluates expr, returning the matching commits in log order.
func (ev *Evaluator) Evaluate(expr string) ([]*repo.Commit, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	set, err := ev.Eval(e)
	if err != nil {
		return nil, err
	}
	return ev.Ordered(set), nil
}

// Ordered returns the members of set in log order.
func (ev *Evaluator) Ordered(set Set) []*repo.Commit {
	out := make([]*repo.Commit, 0, len(set))
	for _, c := range ev.all {
		if set[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// Contains reports whether commitID is selected by expr.
func (ev *Evaluator) Contains(expr *Expr, commitID string) (bool, error) {
	set, err := ev.Eval(expr)
	if err != nil {
		return false, err
	}
	return set[commitID], nil
}

// Eval evaluates a parsed expression.
func (ev *Evaluator) Eval(e *Expr) (Set, error) {
	switch e.Op {
	case "union", "intersect", "difference":
		left, err := ev.Eval(e.Args[0])
		if err != nil {
			return nil, err
		}
		right, err := ev.Eval(e.Args[1])
		if err != nil {
			return nil, err
		}
		out := make(Set)
		switch e.Op {
		case "union":
			for id := range left {
				out[id] = true
			}
			for id := range right {
				out[id] = true
			}
		case "intersect":
			for id := range left {
				if right[id] {
					out[id] = true
				}
			}
		default:
			for id := range left {
				if !right[id] {
					out[id] = true
				}
			}
		}
		return out, nil

	case "not":
		inner, err := ev.Eval(e.Args[0])
		if err != nil {
			return nil, err
		}
		out := make(Set)
		for _, c := range ev.all {
			if !inner[c.ID] {
				out[c.ID] = true
			}
		}
		return out, nil

	case "range":
		from, err := ev.Eval(e.Args[0])
		if err != nil {
			return nil, err
		}
		to, err := ev.Eval(e.Args[1])
		if err != nil {
			return nil, err
		}
		desc := ev.descendants(from)
		anc := ev.ancestors(to)
		out := make(Set)
		for id := range desc {
			if anc[id] {
				out[id] = true
			}
		}
		return out, nil

	case "ancestors", "descendants", "parents", "children":
		inner, err := ev.Eval(e.Args[0])
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "ancestors":
			return ev.ancestors(inner), nil
		case "descendants":
			return ev.descendants(inner), nil
		case "parents":
			return ev.parents(inner), nil
		default:
			return ev.childrenOf(inner), nil
		}

	case "at":
		wc := ev.g.WorkingCopy()
		if wc == nil {
			return Set{}, nil
		}
		return Set{wc.ID: true}, nil

	case "symbol", "string":
		c, err := ev.resolveSymbol(e.Name)
		if err != nil {
			return nil, err
		}
		return Set{c.ID: true}, nil

	case "func":
		return ev.evalFunc(e)
	}
	return nil, fmt.Errorf("unknown revset node %q", e.Op)
}

func (ev *Evaluator) evalFunc(e *Expr) (Set, error) {
	argc := func(min, max int) error {
		if len(e.Args) < min || len(e.Args) > max {
			return &ParseError{Expr: e.String(), Msg: fmt.Sprintf("function %s() takes %d to %d arguments", e.Name, min, max)}
		}
		return nil
	}
	pattern := func() (string, error) {
		a := e.Args[0]
		if a.Op != "string" && a.Op != "symbol" {
			return "", &ParseError{Expr: e.String(), Msg: fmt.Sprintf("%s() expects a string pattern", e.Name)}
		}
		return a.Name, nil
	}

	switch e.Name {
	case "all":
		if err := argc(0, 0); err != nil {
			return nil, err
		}
		return ev.filter(func(*repo.Commit) (bool, error) { return true, nil })

	case "none":
		if err := argc(0, 0); err != nil {
			return nil, err
		}
		return Set{}, nil

	case "root":
		if err := argc(0, 0); err != nil {
			return nil, err
		}
		return Set{ev.g.Root().ID: true}, nil

	case "working_copy":
		if err := argc(0, 0); err != nil {
			return nil, err
		}
		return ev.Eval(&Expr{Op: "at"})

	case "ancestors", "descendants", "parents", "children":
		if err := argc(1, 1); err != nil {
			return nil, err
		}
		return ev.Eval(&Expr{Op: e.Name, Args: e.Args})

	case "heads", "roots":
		if err := argc(0, 1); err != nil {
			return nil, err
		}
		inner := Set{}
		if len(e.Args) == 0 {
			for _, c := range ev.all {
				inner[c.ID] = true
			}
		} else {
			var err error
			if inner, err = ev.Eval(e.Args[0]); err != nil {
				return nil, err
			}
		}
		if e.Name == "heads" {
			return ev.heads(inner), nil
		}
		return ev.roots(inner), nil

	case "bookmarks":
		if err := argc(0, 1); err != nil {
			return nil, err
		}
		needle := ""
		if len(e.Args) == 1 {
			p, err := pattern()
			if err != nil {
				return nil, err
			}
			needle = p
		}
		out := make(Set)
		for name, change := range ev.g.Bookmarks() {
			if !strings.Contains(name, needle) {
				continue
			}
			if c, ok := ev.g.Head(change); ok {
				out[c.ID] = true
			}
		}
		return out, nil

	case "description", "author":
		if err := argc(1, 1); err != nil {
			return nil, err
		}
		needle, err := pattern()
		if err != nil {
			return nil, err
		}
		return ev.filter(func(c *repo.Commit) (bool, error) {
			if e.Name == "description" {
				return strings.Contains(c.Description, needle), nil
			}
			return strings.Contains(c.Author.Name, needle) || strings.Contains(c.Author.Email, needle), nil
		})

	case "mine":
		if err := argc(0, 0); err != nil {
			return nil, err
		}
		return ev.filter(func(c *repo.Commit) (bool, error) {
			return ev.userEmail != "" && strings.EqualFold(c.Author.Email, ev.userEmail), nil
		})

	case "empty":
		if err := argc(0, 0); err != nil {
			return nil, err
		}
		return ev.filter(ev.g.IsEmpty)

	case "conflicts":
		if err := argc(0, 0); err != nil {
			return nil, err
		}
		return ev.filter(ev.g.HasConflict)
	}
	return nil, &ParseError{Expr: e.String(), Msg: fmt.Sprintf("unknown function %s()", e.Name)}
}

func (ev *Evaluator) filter(pred func(*repo.Commit) (bool, error)) (Set, error) {
	out := make(Set)
	for _, c := range ev.all {
		ok, err := pred(c)
		if err != nil {
			return nil, err
		}
		if ok {
			out[c.ID] = true
		}
	}
	return out, nil
}

func (ev *Evaluator) ancestors(s Set) Set {
	out := make(Set)
	var stack []string
	for id := range s {
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c, ok := ev.g.Visible(id)
		if !ok || out[id] {
			continue
		}
		out[id] = true
		stack = append(stack, c.Parents...)
	}
	return out
}

func (ev *Evaluator) descendants(s Set) Set {
	out := make(Set)
	var stack []string
	for id := range s {
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[id] {
			continue
		}
		if _, ok := ev.g.Visible(id); !ok {
			continue
		}
		out[id] = true
		stack = append(stack, ev.children[id]...)
	}
	return out
}

func (ev *Evaluator) parents(s Set) Set {
	out := make(Set)
	for id := range s {
		c, ok := ev.g.Visible(id)
		if !ok {
			continue
		}
		for _, p := range c.Parents {
			if _, ok := ev.g.Visible(p); ok {
				out[p] = true
			}
		}
	}
	return out
}

func (ev *Evaluator) childrenOf(s Set) Set {
	out := make(Set)
	for id := range s {
		for _, ch := range ev.children[id] {
			out[ch] = true
		}
	}
	return out
}

// heads keeps the members of s that have no descendants in s.
func (ev *Evaluator) heads(s Set) Set {
	covered := make(Set)
	for id := range s {
		for p := range ev.ancestors(ev.parents(Set{id: true})) {
			covered[p] = true
		}
	}
	out := make(Set)
	for id := range s {
		if !covered[id] {
			out[id] = true
		}
	}
	return out
}

// roots keeps the members of s that have no ancestors in s.
func (ev *Evaluator) roots(s Set) Set {
	out := make(Set)
	for id := range s {
		isRoot := true
		for a := range ev.ancestors(ev.parents(Set{id: true})) {
			if s[a] {
				isRoot = false
				break
			}
		}
		if isRoot {
			out[id] = true
		}
	}
	return out
}

// resolveSymbol resolves a bookmark name, or a change or commit id prefix.
func (ev *Evaluator) resolveSymbol(sym string) (*repo.Commit, error) {
	if change, ok := ev.g.Bookmarks()[sym]; ok {
		if c, ok := ev.g.Head(change); ok {
			return c, nil
		}
	}

	prefix := strings.ToLower(sym)
	if len(prefix) < MinPrefixLen || !cas.IsHex(prefix) {
		return nil, &NotFoundError{Input: sym}
	}

	matches := make(map[string]*repo.Commit)
	for _, c := range ev.all {
		if strings.HasPrefix(c.ChangeID, prefix) || strings.HasPrefix(c.ID, prefix) {
			matches[c.ID] = c
		}
	}
	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Input: sym}
	case 1:
		for _, c := range matches {
			return c, nil
		}
	}

	candidates := make([]string, 0, len(matches))
	for id := range matches {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)
	if len(candidates) > 10 {
		candidates = candidates[:10]
	}
	return nil, &AmbiguityError{Prefix: sym, Candidates: candidates}
}

// Resolve evaluates expr and requires it to select exactly one revision.
func (ev *Evaluator) Resolve(expr string) (*repo.Commit, error) {
	commits, err := ev.Evaluate(expr)
	if err != nil {
		return nil, err
	}
	switch len(commits) {
	case 0:
		return nil, &NotFoundError{Input: expr}
	case 1:
		return commits[0], nil
	}
	ids := make([]string, len(commits))
	for i, c := range commits {
		ids[i] = c.ID
	}
	return nil, &AmbiguityError{Prefix: expr, Candidates: ids}
}
