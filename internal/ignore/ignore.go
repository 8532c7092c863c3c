// Package ignore decides which working-copy paths are left out of snapshots,
// using gitignore-style patterns.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is a single compiled ignore rule.
type Pattern struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool // leading "/" in the source line
}

// Matcher holds ignore rules in load order; later rules win.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher creates an empty Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// AddPattern compiles one gitignore line. Blank lines and comments are skipped.
func (m *Matcher) AddPattern(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var p Pattern
	if strings.HasPrefix(line, "!") {
		p.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = line[1:]
	}

	// Unanchored patterns without a slash match a basename at any depth.
	if !p.anchored && !strings.Contains(line, "/") {
		line = "**/" + line
	}
	if !doublestar.ValidatePattern(line) {
		return
	}

	p.glob = line
	m.patterns = append(m.patterns, p)
}

// AddPatterns compiles several lines.
func (m *Matcher) AddPatterns(lines []string) {
	for _, line := range lines {
		m.AddPattern(line)
	}
}

// LoadFile reads patterns from a gitignore-style file. A missing file is not an error.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPattern(scanner.Text())
	}
	return scanner.Err()
}

// Len returns the number of compiled patterns.
func (m *Matcher) Len() int {
	return len(m.patterns)
}

// Match reports whether a slash-separated path relative to the workspace
// root is ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")

	ignored := false
	for _, p := range m.patterns {
		var matched bool
		if p.dirOnly && !isDir {
			matched = matchParentDir(p.glob, path)
		} else {
			matched = matchGlob(p.glob, path)
		}
		if matched {
			ignored = !p.negated
		}
	}
	return ignored
}

// matchParentDir reports whether some proper parent directory of path matches glob.
func matchParentDir(glob, path string) bool {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

func matchGlob(glob, path string) bool {
	if ok, _ := doublestar.Match(glob, path); ok {
		return true
	}
	// "target" also covers everything beneath target/.
	if !strings.HasSuffix(glob, "/**") {
		if ok, _ := doublestar.Match(glob+"/**", path); ok {
			return true
		}
	}
	return false
}

// Defaults are always ignored: repository metadata of gg and neighbouring
// VCSs, plus editor and OS droppings.
var Defaults = []string{
	".gg/",
	".git/",
	".jj/",
	".hg/",
	".svn/",
	".DS_Store",
	"Thumbs.db",
	"*.swp",
	"*.swo",
	"*~",
	".gg-tmp-*",
}

// LoadFromDir builds the matcher used for a workspace: defaults, then
// .gitignore, then .ggignore, then any extra patterns from configuration.
func LoadFromDir(dir string, extra []string) (*Matcher, error) {
	m := NewMatcher()
	m.AddPatterns(Defaults)

	if err := m.LoadFile(filepath.Join(dir, ".gitignore")); err != nil {
		return nil, err
	}
	if err := m.LoadFile(filepath.Join(dir, ".ggignore")); err != nil {
		return nil, err
	}
	m.AddPatterns(extra)
	return m, nil
}

// Compile creates a matcher from a list of pattern strings.
func Compile(patterns []string) *Matcher {
	m := NewMatcher()
	m.AddPatterns(patterns)
	return m
}
