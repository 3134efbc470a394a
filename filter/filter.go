// Package filter decides whether a changed path is worth acting on.
package filter

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrBadPattern is returned by Compile for a glob that doublestar cannot parse.
var ErrBadPattern = errors.New("malformed pattern")

// Pattern is a compiled glob. `*` matches within a path segment and `**`
// matches across segments. A pattern without a `/` is also tried against the
// base name of the path, so `*` and `*.go` match at any depth.
type Pattern struct {
	expr     string
	baseName bool
}

func Compile(expr string) (Pattern, error) {
	if !doublestar.ValidatePattern(expr) {
		return Pattern{}, fmt.Errorf("%w: %q", ErrBadPattern, expr)
	}

	return Pattern{
		expr:     expr,
		baseName: !strings.Contains(expr, "/"),
	}, nil
}

// CompileAll compiles every expression and reports the first malformed one.
func CompileAll(exprs []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(exprs))
	for _, expr := range exprs {
		p, err := Compile(expr)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

func (p Pattern) String() string {
	return p.expr
}

// Match reports whether name matches the pattern. name is normalised to
// forward slashes first.
func (p Pattern) Match(name string) bool {
	normalized := filepath.ToSlash(name)

	if ok, _ := doublestar.Match(p.expr, normalized); ok {
		return true
	}
	if p.baseName {
		ok, _ := doublestar.Match(p.expr, path.Base(normalized))
		return ok
	}
	return false
}

// IsRelevant returns true if name matches at least one include and none of the
// excludes.
func IsRelevant(name string, includes, excludes []Pattern) bool {
	for _, p := range excludes {
		if p.Match(name) {
			return false
		}
	}
	for _, p := range includes {
		if p.Match(name) {
			return true
		}
	}
	return false
}

// PatternFilter holds the compiled include and exclude sets of a watch.
type PatternFilter struct {
	Includes []Pattern
	Excludes []Pattern
}

// New compiles both pattern sets. A malformed pattern in either set is a
// configuration error.
func New(includes, excludes []string) (*PatternFilter, error) {
	inc, err := CompileAll(includes)
	if err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}
	exc, err := CompileAll(excludes)
	if err != nil {
		return nil, fmt.Errorf("exclude pattern: %w", err)
	}
	return &PatternFilter{Includes: inc, Excludes: exc}, nil
}

func (f *PatternFilter) IsRelevant(name string) bool {
	return IsRelevant(name, f.Includes, f.Excludes)
}
