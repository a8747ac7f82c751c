// Package scripts turns command-line script arguments into an ordered list of
// test files.
package scripts

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/acolita/ashell-monkey/internal/ports"
)

var (
	// ErrNoScripts is returned when the arguments name no script at all.
	ErrNoScripts = errors.New("no test scripts")

	// ErrNoMatch is returned when a glob pattern matches no file.
	ErrNoMatch = errors.New("pattern matches no files")
)

// IsPattern reports whether arg contains glob syntax.
func IsPattern(arg string) bool {
	return strings.ContainsAny(arg, "*?[{")
}

// Resolve expands args into script paths. Literal paths are kept in the order
// given; each pattern contributes its matches in lexical order. Duplicates are
// dropped after their first occurrence. Every path is checked up front so a
// run never starts with an unreadable script.
func Resolve(args []string, fs ports.FileSystem) ([]string, error) {
	if len(args) == 0 {
		return nil, ErrNoScripts
	}

	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, arg := range args {
		if !IsPattern(arg) {
			info, err := fs.Stat(arg)
			if err != nil {
				return nil, fmt.Errorf("script %s: %w", arg, err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("script %s: is a directory", arg)
			}
			add(filepath.Clean(arg))
			continue
		}

		if !doublestar.ValidatePathPattern(arg) {
			return nil, fmt.Errorf("script pattern %q: %w", arg, doublestar.ErrBadPattern)
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("script pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("script pattern %q: %w", arg, ErrNoMatch)
		}
		slices.Sort(matches)
		for _, m := range matches {
			add(m)
		}
	}

	return out, nil
}

// Matcher reports whether a changed file is one of the watched scripts.
type Matcher struct {
	literals map[string]bool
	patterns []string
}

// NewMatcher builds a matcher for the same args given to Resolve.
func NewMatcher(args []string) *Matcher {
	m := &Matcher{literals: make(map[string]bool)}
	for _, arg := range args {
		if IsPattern(arg) {
			m.patterns = append(m.patterns, filepath.ToSlash(filepath.Clean(arg)))
		} else {
			m.literals[filepath.Clean(arg)] = true
		}
	}
	return m
}

// Add registers extra literal paths, such as the helper or the config file.
func (m *Matcher) Add(paths ...string) {
	for _, p := range paths {
		if p != "" {
			m.literals[filepath.Clean(p)] = true
		}
	}
}

// Match reports whether path is watched.
func (m *Matcher) Match(path string) bool {
	path = filepath.Clean(path)
	if m.literals[path] {
		return true
	}
	slashed := filepath.ToSlash(path)
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, slashed); ok {
			return true
		}
	}
	return false
}

// Dirs returns the directories that must be watched to see changes to args.
// For a pattern this is its static prefix, watched recursively by the caller.
func Dirs(args []string) []string {
	var dirs []string
	for _, arg := range args {
		if IsPattern(arg) {
			base, _ := doublestar.SplitPattern(filepath.ToSlash(arg))
			dirs = append(dirs, filepath.FromSlash(base))
		} else {
			dirs = append(dirs, filepath.Dir(arg))
		}
	}
	slices.Sort(dirs)
	return slices.Compact(dirs)
}
