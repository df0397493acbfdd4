package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycleDetected is returned when embedding relations loop back on
// themselves, so no kind in the loop can ever be revealed by its owner.
var ErrCycleDetected = errors.New("cycle detected in kind graph")

// CycleError describes the kinds a topological order could not reach.
type CycleError struct {
	Total   int      // kinds in the graph
	Cycle   []string // one loop, first kind repeated at the end
	Members []string // kinds that sit on some loop
	Blocked []string // kinds only unreachable because an owner is on a loop
}

func (e *CycleError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycle detected in kind graph: %d of %d kinds could not be ordered",
		len(e.Members)+len(e.Blocked), e.Total)
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&b, "\nCycle path: %s", strings.Join(e.Cycle, " -> "))
	}
	if len(e.Members) > 0 {
		fmt.Fprintf(&b, "\nKinds in cycle: %s", strings.Join(e.Members, ", "))
	}
	if len(e.Blocked) > 0 {
		fmt.Fprintf(&b, "\nKinds blocked by cycle: %s", strings.Join(e.Blocked, ", "))
	}
	return b.String()
}

// Unwrap lets errors.Is match ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// inDegrees counts the owners of every kind.
func (g *Graph) inDegrees() map[string]int {
	deg := make(map[string]int, len(g.Nodes))
	for name := range g.Nodes {
		deg[name] = len(g.Parents[name])
	}
	return deg
}

// kahn orders kinds owners-first. The ready set is kept sorted so the result
// only depends on the graph. Kinds left over are returned in name order.
func (g *Graph) kahn() (order, left []string) {
	deg := g.inDegrees()
	var ready []string
	for name, d := range deg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var freed []string
		for _, child := range g.Children[name] {
			if deg[child]--; deg[child] == 0 {
				freed = append(freed, child)
			}
		}
		ready = append(ready, freed...)
	}

	if len(order) == len(g.Nodes) {
		return order, nil
	}
	done := make(map[string]bool, len(order))
	for _, name := range order {
		done[name] = true
	}
	for _, name := range g.AllNodes() {
		if !done[name] {
			left = append(left, name)
		}
	}
	return order, left
}

// cycleError classifies the unordered kinds into loop members and kinds that
// are merely downstream of a loop.
func (g *Graph) cycleError(left []string) *CycleError {
	in := make(map[string]bool, len(left))
	for _, name := range left {
		in[name] = true
	}

	e := &CycleError{Total: len(g.Nodes)}
	for _, name := range left {
		if path := g.loopFrom(name, in); path != nil {
			e.Members = append(e.Members, name)
			if e.Cycle == nil {
				e.Cycle = path
			}
		} else {
			e.Blocked = append(e.Blocked, name)
		}
	}
	return e
}

// loopFrom returns a path from start back to start through kinds in the set,
// or nil when start is not on a loop.
func (g *Graph) loopFrom(start string, in map[string]bool) []string {
	seen := map[string]bool{}
	path := []string{start}

	var walk func(cur string) bool
	walk = func(cur string) bool {
		for _, next := range g.Children[cur] {
			if !in[next] {
				continue
			}
			if next == start {
				path = append(path, start)
				return true
			}
			if seen[next] {
				continue
			}
			seen[next] = true
			path = append(path, next)
			if walk(next) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	if walk(start) {
		return path
	}
	return nil
}

// TopologicalSort returns kinds owners-first using Kahn's algorithm, breaking
// ties by name. A graph with a loop yields a *CycleError.
func (g *Graph) TopologicalSort() ([]string, error) {
	order, left := g.kahn()
	if len(left) > 0 {
		return nil, g.cycleError(left)
	}
	return order, nil
}

// Validate reports a *CycleError when the graph cannot be ordered.
func (g *Graph) Validate() error {
	_, err := g.TopologicalSort()
	return err
}

// HasCycle reports whether some kinds sit on or behind an embedding loop.
func (g *Graph) HasCycle() bool {
	_, left := g.kahn()
	return len(left) > 0
}

// Plan is the two-pass extraction order.
type Plan struct {
	Pass1 []string // Root kinds
	Pass2 []string // Loose and embedded kinds, owners first
}

// Kinds returns both passes concatenated.
func (p *Plan) Kinds() []string {
	out := make([]string, 0, len(p.Pass1)+len(p.Pass2))
	out = append(out, p.Pass1...)
	return append(out, p.Pass2...)
}

// Plan partitions the topological order into root kinds, extracted first,
// and every kind that needs an owner loaded before it becomes visible.
func (g *Graph) Plan() (*Plan, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	for _, name := range order {
		if g.Nodes[name].Root {
			plan.Pass1 = append(plan.Pass1, name)
		} else {
			plan.Pass2 = append(plan.Pass2, name)
		}
	}
	return plan, nil
}
