// Package revset parses and evaluates revision set expressions such as
// "all()", "@-", "main::" or "description(fix) & mine()".
package revset

import (
	"fmt"
	"strings"
)

// ParseError reports malformed expression syntax.
type ParseError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid revset %q at position %d: %s", e.Expr, e.Pos, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokLParen
	tokRParen
	tokComma
	tokPipe
	tokAmp
	tokTilde
	tokDColon
	tokMinus
	tokPlus
	tokAt
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '/'
}

func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '|':
			toks = append(toks, token{tokPipe, "|", i})
			i++
		case c == '&':
			toks = append(toks, token{tokAmp, "&", i})
			i++
		case c == '~':
			toks = append(toks, token{tokTilde, "~", i})
			i++
		case c == '-':
			toks = append(toks, token{tokMinus, "-", i})
			i++
		case c == '+':
			toks = append(toks, token{tokPlus, "+", i})
			i++
		case c == '@':
			toks = append(toks, token{tokAt, "@", i})
			i++
		case c == ':':
			if i+1 < len(expr) && expr[i+1] == ':' {
				toks = append(toks, token{tokDColon, "::", i})
				i += 2
				continue
			}
			return nil, &ParseError{Expr: expr, Pos: i, Msg: "expected '::'"}
		case c == '"':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(expr) {
				if expr[i] == '\\' && i+1 < len(expr) {
					sb.WriteByte(expr[i+1])
					i += 2
					continue
				}
				if expr[i] == '"' {
					closed = true
					i++
					break
				}
				sb.WriteByte(expr[i])
				i++
			}
			if !closed {
				return nil, &ParseError{Expr: expr, Pos: start, Msg: "unterminated string"}
			}
			toks = append(toks, token{tokString, sb.String(), start})
		case isIdentChar(c):
			start := i
			for i < len(expr) {
				if isIdentChar(expr[i]) {
					i++
					continue
				}
				// "-" and "." join identifier parts, as in "my-feature" or "v1.2"
				if (expr[i] == '-' || expr[i] == '.') && i+1 < len(expr) && isIdentChar(expr[i+1]) {
					i++
					continue
				}
				break
			}
			toks = append(toks, token{tokIdent, expr[start:i], start})
		default:
			return nil, &ParseError{Expr: expr, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{tokEOF, "", len(expr)})
	return toks, nil
}

// Expr is a parsed revset expression.
type Expr struct {
	Op   string // "union", "intersect", "difference", "not", "range", "ancestors", "descendants", "parents", "children", "func", "symbol", "string", "at"
	Name string // function name or symbol text
	Args []*Expr
}

func (e *Expr) String() string {
	switch e.Op {
	case "symbol", "string":
		return e.Name
	case "at":
		return "@"
	case "func":
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = a.String()
		}
		return e.Name + "(" + strings.Join(args, ", ") + ")"
	default:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = a.String()
		}
		return e.Op + "(" + strings.Join(args, ", ") + ")"
	}
}

type parser struct {
	expr string
	toks []token
	pos  int
}

// Parse parses a revset expression.
func Parse(expr string) (*Expr, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &ParseError{Expr: expr, Msg: "empty expression"}
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, toks: toks}
	e, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return e, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...interface{}) error {
	return &ParseError{Expr: p.expr, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseUnion() (*Expr, error) {
	left, err := p.parseIntersect()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPipe {
		p.next()
		right, err := p.parseIntersect()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: "union", Args: []*Expr{left, right}}
	}
	return left, nil
}

func (p *parser) parseIntersect() (*Expr, error) {
	left, err := p.parseDifference()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAmp {
		p.next()
		right, err := p.parseDifference()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: "intersect", Args: []*Expr{left, right}}
	}
	return left, nil
}

func (p *parser) parseDifference() (*Expr, error) {
	left, err := p.parseNegate()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokTilde {
		p.next()
		right, err := p.parseNegate()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: "difference", Args: []*Expr{left, right}}
	}
	return left, nil
}

func (p *parser) parseNegate() (*Expr, error) {
	if p.peek().kind == tokTilde {
		p.next()
		inner, err := p.parseNegate()
		if err != nil {
			return nil, err
		}
		return &Expr{Op: "not", Args: []*Expr{inner}}, nil
	}
	return p.parseRange()
}

// startsOperand reports whether t can begin a postfix expression.
func startsOperand(t token) bool {
	switch t.kind {
	case tokIdent, tokString, tokLParen, tokAt:
		return true
	}
	return false
}

func (p *parser) parseRange() (*Expr, error) {
	if p.peek().kind == tokDColon {
		p.next()
		if !startsOperand(p.peek()) {
			return &Expr{Op: "func", Name: "all"}, nil
		}
		inner, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return &Expr{Op: "ancestors", Args: []*Expr{inner}}, nil
	}

	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokDColon {
		return left, nil
	}
	p.next()
	if !startsOperand(p.peek()) {
		return &Expr{Op: "descendants", Args: []*Expr{left}}, nil
	}
	right, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	return &Expr{Op: "range", Args: []*Expr{left, right}}, nil
}

func (p *parser) parsePostfix() (*Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokMinus:
			p.next()
			e = &Expr{Op: "parents", Args: []*Expr{e}}
		case tokPlus:
			p.next()
			e = &Expr{Op: "children", Args: []*Expr{e}}
		default:
			return e, nil
		}
	}
}

func (p *parser) parsePrimary() (*Expr, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		e, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, p.errorf(c, "expected ')'")
		}
		return e, nil
	case tokAt:
		return &Expr{Op: "at"}, nil
	case tokString:
		return &Expr{Op: "string", Name: t.text}, nil
	case tokIdent:
		if p.peek().kind != tokLParen {
			return &Expr{Op: "symbol", Name: t.text}, nil
		}
		p.next()
		fn := &Expr{Op: "func", Name: t.text}
		if p.peek().kind == tokRParen {
			p.next()
			return fn, nil
		}
		for {
			arg, err := p.parseUnion()
			if err != nil {
				return nil, err
			}
			fn.Args = append(fn.Args, arg)
			c := p.next()
			if c.kind == tokRParen {
				return fn, nil
			}
			if c.kind != tokComma {
				return nil, p.errorf(c, "expected ',' or ')'")
			}
		}
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	default:
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
}
