// Package sink persists extracted records per kind.
package sink

import (
	"context"
	"fmt"

	"github.com/dbsmedya/goextract/internal/types"
)

// Mode selects how a write combines with what the sink already holds.
type Mode int

const (
	// Full replaces everything stored for the kind.
	Full Mode = iota
	// Additive keeps stored records and appends only unseen names.
	Additive
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "full"
	case Additive:
		return "additive"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// WriteResult describes the outcome of one Write.
type WriteResult struct {
	Kind    string
	Mode    Mode
	Total   int  // records held for the kind after the write
	Added   int  // records written by this call
	Skipped bool // additive write with nothing new; storage untouched
}

// Sink stores the records of one kind at a time.
type Sink interface {
	Write(ctx context.Context, kind string, records []*types.Record, mode Mode) (WriteResult, error)
	Close() error
}

// Source reads back what a Sink stored.
type Source interface {
	Kinds(ctx context.Context) ([]string, error)
	Load(ctx context.Context, kind string) ([]*types.Record, error)
}

// Store is a Sink that can also be read back.
type Store interface {
	Sink
	Source
}

// dedupe keeps the first record for each name, preserving order.
func dedupe(records []*types.Record, seen map[string]bool) []*types.Record {
	out := make([]*types.Record, 0, len(records))
	for _, r := range records {
		if r == nil || seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out
}
