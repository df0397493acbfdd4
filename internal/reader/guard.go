package reader

import (
	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/resolver"
)

// Guard decides whether a foreign object is still live by reading its native
// handle field through the handle's cached class.
type Guard struct {
	mem        heap.Memory
	meta       heap.Metadata
	res        *resolver.Resolver
	field      string
	failClosed map[string]bool
}

// NewGuard creates a Guard reading field. Kinds named in failClosed (or
// deriving from one) are reported dead when field cannot be resolved;
// everything else fails open.
func NewGuard(rt heap.Runtime, res *resolver.Resolver, field string, failClosed []string) *Guard {
	fc := make(map[string]bool, len(failClosed))
	for _, k := range failClosed {
		fc[k] = true
	}
	return &Guard{mem: rt, meta: rt, res: res, field: field, failClosed: fc}
}

// IsAlive reports whether h may be read. A zero native handle, or memory
// that can no longer be read, means the object was reclaimed.
func (g *Guard) IsAlive(h heap.Handle) bool {
	if h.Addr == heap.Null {
		return false
	}
	res, err := g.res.ResolveClass(h.Class, g.field)
	if err != nil {
		return !g.closed(h.Class)
	}
	native, err := heap.ReadPtr(g.mem, h.Addr.Offset(res.Offset))
	if err != nil {
		return false
	}
	return native != heap.Null
}

func (g *Guard) closed(cls heap.Class) bool {
	if len(g.failClosed) == 0 {
		return false
	}
	seen := make(map[heap.Class]bool)
	for cur := cls; cur != 0 && !seen[cur]; cur = g.meta.Parent(cur) {
		seen[cur] = true
		if g.failClosed[g.meta.ClassName(cur)] {
			return true
		}
	}
	return false
}
