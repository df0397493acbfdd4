package graph

import (
	"fmt"

	"github.com/dbsmedya/goextract/internal/schema"
)

// Builder constructs a kind graph from a schema registry.
type Builder struct {
	reg   *schema.Registry
	kinds []string
}

// NewBuilder creates a graph builder. When kinds is empty every non-abstract
// kind of the registry is included.
func NewBuilder(reg *schema.Registry, kinds []string) *Builder {
	return &Builder{reg: reg, kinds: kinds}
}

// Build constructs the graph. Owners that are not selected contribute no edge;
// owners the registry does not know are an error.
func (b *Builder) Build() (*Graph, error) {
	if b.reg == nil {
		return nil, fmt.Errorf("schema registry is nil")
	}

	kinds := b.kinds
	if len(kinds) == 0 {
		kinds = b.reg.Kinds()
	}

	g := NewGraph()
	for _, name := range kinds {
		ks, ok := b.reg.Kind(name)
		if !ok {
			return nil, fmt.Errorf("unknown kind %q", name)
		}
		if ks.Abstract {
			return nil, fmt.Errorf("kind %q is abstract", name)
		}
		if g.HasNode(name) {
			return nil, fmt.Errorf("duplicate kind %q", name)
		}
		g.AddNode(name, &Node{
			Root:         ks.Root(),
			Loose:        ks.Loose,
			ResourcePath: ks.ResourcePath,
		})
	}

	for _, name := range kinds {
		ks, _ := b.reg.Kind(name)
		for _, owner := range ks.EmbeddedIn {
			if _, ok := b.reg.Kind(owner); !ok {
				return nil, fmt.Errorf("kind %q is embedded in unknown kind %q", name, owner)
			}
			if !g.HasNode(owner) {
				continue
			}
			g.AddEdge(owner, name)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	return g, nil
}

// BuildFromRegistry is a convenience function that builds the graph of the
// given kinds, or of every kind when none are given.
func BuildFromRegistry(reg *schema.Registry, kinds ...string) (*Graph, error) {
	return NewBuilder(reg, kinds).Build()
}
