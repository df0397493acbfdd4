package extractor

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/dbsmedya/goextract/internal/config"
)

// KindFilter selects kinds by include and exclude glob patterns. An empty
// include list selects every kind; exclusions always win.
type KindFilter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewKindFilter compiles the patterns.
func NewKindFilter(include, exclude []string) (*KindFilter, error) {
	f := &KindFilter{}
	for _, p := range include {
		g, err := config.CompilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		f.include = append(f.include, g)
	}
	for _, p := range exclude {
		g, err := config.CompilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, g)
	}
	return f, nil
}

// Match reports whether kind is selected.
func (f *KindFilter) Match(kind string) bool {
	for _, g := range f.exclude {
		if g.Match(kind) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(kind) {
			return true
		}
	}
	return false
}

// Select returns the selected kinds in their original order.
func (f *KindFilter) Select(kinds []string) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if f.Match(k) {
			out = append(out, k)
		}
	}
	return out
}
