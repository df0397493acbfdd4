package extractor

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/logger"
)

// Load strategy names, in the order they are tried.
const (
	StrategyAuthoritative = "authoritative"
	StrategyUncached      = "uncached"
	StrategyPath          = "path"
	StrategyLoaded        = "loaded"
)

// CandidateLoader enumerates the instances of one kind, trying each load
// strategy the foreign environment offers until one returns candidates.
type CandidateLoader struct {
	loader   heap.Loader
	uncached map[string]bool
	logger   *logger.Logger
}

// NewCandidateLoader creates a loader. Only kinds listed in uncached are
// offered to the dedicated uncached strategy.
func NewCandidateLoader(l heap.Loader, uncached []string, log *logger.Logger) *CandidateLoader {
	set := make(map[string]bool, len(uncached))
	for _, k := range uncached {
		set[k] = true
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &CandidateLoader{loader: l, uncached: set, logger: log}
}

// Load returns the first non-empty candidate list and the strategy that
// produced it. A strategy that fails does not stop the others; the failures
// are only returned when no strategy found anything.
func (c *CandidateLoader) Load(kind string, cls heap.Class, path string) ([]heap.Addr, string, error) {
	type attempt struct {
		name string
		run  func() ([]heap.Addr, error)
	}
	attempts := []attempt{
		{StrategyAuthoritative, func() ([]heap.Addr, error) { return c.loader.LoadAuthoritative(cls) }},
	}
	if c.uncached[kind] {
		attempts = append(attempts, attempt{StrategyUncached, func() ([]heap.Addr, error) { return c.loader.LoadUncached(cls) }})
	}
	if path != "" {
		attempts = append(attempts, attempt{StrategyPath, func() ([]heap.Addr, error) { return c.loader.LoadByPath(cls, path) }})
	}
	attempts = append(attempts, attempt{StrategyLoaded, func() ([]heap.Addr, error) { return c.loader.FindLoaded(cls) }})

	var errs error
	for _, a := range attempts {
		found, err := a.run()
		if err != nil {
			c.logger.Debugw("Load strategy failed", "kind", kind, "strategy", a.name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", a.name, err))
			continue
		}
		if len(found) > 0 {
			c.logger.Debugw("Load strategy succeeded", "kind", kind, "strategy", a.name, "candidates", len(found))
			return dedupeAddrs(found), a.name, nil
		}
	}
	return nil, "", errs
}

func dedupeAddrs(addrs []heap.Addr) []heap.Addr {
	seen := make(map[heap.Addr]bool, len(addrs))
	out := make([]heap.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a == heap.Null || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
