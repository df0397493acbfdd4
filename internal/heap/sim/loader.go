package sim

import (
	"fmt"

	"github.com/dbsmedya/goextract/internal/heap"
)

// Register makes addrs discoverable for kind through strategy s.
func (h *Heap) Register(s Strategy, kind string, addrs ...heap.Addr) error {
	c, ok := h.FindClass(kind)
	if !ok {
		return fmt.Errorf("unknown class %s", kind)
	}
	if h.loaders[s] == nil {
		h.loaders[s] = make(map[heap.Class][]heap.Addr)
	}
	h.loaders[s][c] = append(h.loaders[s][c], addrs...)
	return nil
}

// RegisterPath makes addrs discoverable by a path-based bulk load.
func (h *Heap) RegisterPath(path string, addrs ...heap.Addr) {
	h.paths[path] = append(h.paths[path], addrs...)
}

// Reveal makes addrs of loose discoverable through FindLoaded only after root
// has been loaded by any non-scan strategy.
func (h *Heap) Reveal(root, loose string, addrs ...heap.Addr) error {
	rc, ok := h.FindClass(root)
	if !ok {
		return fmt.Errorf("unknown class %s", root)
	}
	lc, ok := h.FindClass(loose)
	if !ok {
		return fmt.Errorf("unknown class %s", loose)
	}
	if h.reveals[rc] == nil {
		h.reveals[rc] = make(map[heap.Class][]heap.Addr)
	}
	h.reveals[rc][lc] = append(h.reveals[rc][lc], addrs...)
	return nil
}

// FailLoad makes every load strategy for kind return err.
func (h *Heap) FailLoad(kind string, err error) {
	if c, ok := h.FindClass(kind); ok {
		h.failing[c] = err
	}
}

// PanicOnLoad makes every load strategy for kind panic.
func (h *Heap) PanicOnLoad(kind string) {
	if c, ok := h.FindClass(kind); ok {
		h.panics[c] = true
	}
}

func (h *Heap) check(kind heap.Class) error {
	if h.panics[kind] {
		panic(fmt.Sprintf("simulated loader crash for %s", h.ClassName(kind)))
	}
	return h.failing[kind]
}

// revealFor moves anything kind's loading exposes into the loaded set.
func (h *Heap) revealFor(kind heap.Class, found []heap.Addr) {
	if len(found) == 0 {
		return
	}
	for loose, addrs := range h.reveals[kind] {
		if h.loaders[Loaded] == nil {
			h.loaders[Loaded] = make(map[heap.Class][]heap.Addr)
		}
		h.loaders[Loaded][loose] = append(h.loaders[Loaded][loose], addrs...)
	}
	delete(h.reveals, kind)
}

func (h *Heap) load(s Strategy, kind heap.Class) ([]heap.Addr, error) {
	if err := h.check(kind); err != nil {
		return nil, err
	}
	found := append([]heap.Addr(nil), h.loaders[s][kind]...)
	if s != Loaded {
		h.revealFor(kind, found)
	}
	return found, nil
}

// LoadAuthoritative implements heap.Loader.
func (h *Heap) LoadAuthoritative(kind heap.Class) ([]heap.Addr, error) {
	return h.load(Authoritative, kind)
}

// LoadUncached implements heap.Loader.
func (h *Heap) LoadUncached(kind heap.Class) ([]heap.Addr, error) {
	return h.load(Uncached, kind)
}

// LoadByPath implements heap.Loader. Only instances of kind or its
// subclasses under path are returned.
func (h *Heap) LoadByPath(kind heap.Class, path string) ([]heap.Addr, error) {
	if err := h.check(kind); err != nil {
		return nil, err
	}
	var found []heap.Addr
	for _, obj := range h.paths[path] {
		c, err := h.ClassOf(obj)
		if err != nil {
			continue
		}
		if h.derives(c, kind) {
			found = append(found, obj)
		}
	}
	h.revealFor(kind, found)
	return found, nil
}

// FindLoaded implements heap.Loader.
func (h *Heap) FindLoaded(kind heap.Class) ([]heap.Addr, error) {
	return h.load(Loaded, kind)
}

func (h *Heap) derives(c, base heap.Class) bool {
	for cur := c; cur != 0; cur = h.Parent(cur) {
		if cur == base {
			return true
		}
	}
	return false
}
