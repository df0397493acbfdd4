package sim

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dbsmedya/goextract/internal/heap"
)

// Snapshot is the YAML form of a recorded heap.
type Snapshot struct {
	QuietAfter  int          `yaml:"quiet_after"`
	ObjectBases []string     `yaml:"object_bases"`
	Classes     []ClassSpec  `yaml:"classes"`
	Objects     []ObjectSpec `yaml:"objects"`
	Loaders     LoaderSpec   `yaml:"loaders"`
	Reveals     []RevealSpec `yaml:"reveals"`
}

// ObjectSpec declares one object instance. Reference fields use "@id".
type ObjectSpec struct {
	ID     string                 `yaml:"id"`
	Class  string                 `yaml:"class"`
	Name   string                 `yaml:"name"`
	Dead   bool                   `yaml:"dead"`
	Fields map[string]interface{} `yaml:"fields"`
}

// LoaderSpec lists object ids per load strategy, keyed by kind (or path).
type LoaderSpec struct {
	Authoritative map[string][]string `yaml:"authoritative"`
	Uncached      map[string][]string `yaml:"uncached"`
	Loaded        map[string][]string `yaml:"loaded"`
	Paths         map[string][]string `yaml:"paths"`
}

// RevealSpec exposes loose objects once their root kind is loaded.
type RevealSpec struct {
	Root    string   `yaml:"root"`
	Loose   string   `yaml:"loose"`
	Objects []string `yaml:"objects"`
}

// LoadSnapshot reads a snapshot file and builds a heap from it.
func LoadSnapshot(path string) (*Heap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	h, err := ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return h, nil
}

// ParseSnapshot builds a heap from snapshot YAML.
func ParseSnapshot(data []byte) (*Heap, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return snap.Build()
}

// Build materializes the snapshot.
func (s *Snapshot) Build() (*Heap, error) {
	h := New()
	h.QuietAfter(s.QuietAfter)

	for _, base := range s.ObjectBases {
		h.DefineObjectBase(base)
	}
	for _, spec := range s.Classes {
		if _, err := h.Define(spec); err != nil {
			return nil, err
		}
	}

	// Allocate everything first so references can point forward.
	for _, o := range s.Objects {
		if o.ID == "" {
			return nil, fmt.Errorf("object of class %s has no id", o.Class)
		}
		if _, dup := h.refs[o.ID]; dup {
			return nil, fmt.Errorf("duplicate object id %s", o.ID)
		}
		obj, err := h.NewObject(o.Class)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", o.ID, err)
		}
		h.Bind(o.ID, obj)
		if o.Name != "" {
			h.SetName(obj, o.Name)
		}
	}

	for _, o := range s.Objects {
		obj := h.refs[o.ID]
		names := make([]string, 0, len(o.Fields))
		for name := range o.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := h.SetField(obj, name, o.Fields[name]); err != nil {
				return nil, fmt.Errorf("object %s: %w", o.ID, err)
			}
		}
		if o.Dead {
			if err := h.Kill(obj); err != nil {
				return nil, fmt.Errorf("object %s: %w", o.ID, err)
			}
		}
	}

	strategies := []struct {
		s    Strategy
		byID map[string][]string
	}{
		{Authoritative, s.Loaders.Authoritative},
		{Uncached, s.Loaders.Uncached},
		{Loaded, s.Loaders.Loaded},
	}
	for _, st := range strategies {
		for kind, ids := range st.byID {
			addrs, err := h.resolveIDs(ids)
			if err != nil {
				return nil, err
			}
			if err := h.Register(st.s, kind, addrs...); err != nil {
				return nil, err
			}
		}
	}
	for path, ids := range s.Loaders.Paths {
		addrs, err := h.resolveIDs(ids)
		if err != nil {
			return nil, err
		}
		h.RegisterPath(path, addrs...)
	}
	for _, r := range s.Reveals {
		addrs, err := h.resolveIDs(r.Objects)
		if err != nil {
			return nil, err
		}
		if err := h.Reveal(r.Root, r.Loose, addrs...); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Heap) resolveIDs(ids []string) ([]heap.Addr, error) {
	out := make([]heap.Addr, 0, len(ids))
	for _, id := range ids {
		obj, ok := h.refs[id]
		if !ok {
			return nil, fmt.Errorf("unknown object id %s", id)
		}
		out = append(out, obj)
	}
	return out, nil
}
