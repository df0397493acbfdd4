// Package graph orders kinds by the embedding relations between them.
package graph

import "sort"

// Node represents a kind in the extraction graph.
type Node struct {
	Name         string // Kind name
	Root         bool   // Locatable without loading another kind first
	Loose        bool   // Only revealed by loading an owning kind
	ResourcePath string // Path-strategy location, empty when unknown
}

// Edge represents an owner -> embedded kind relationship.
type Edge struct {
	From string // Owning kind
	To   string // Embedded kind
}

// Graph holds every selected kind and its embedding edges.
type Graph struct {
	Nodes    map[string]*Node    // kind name -> node
	Children map[string][]string // owner -> embedded kinds (outgoing edges)
	Parents  map[string][]string // embedded kind -> owners (incoming edges)
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:    make(map[string]*Node),
		Children: make(map[string][]string),
		Parents:  make(map[string][]string),
	}
}

// AddNode adds a kind node to the graph.
// If node is nil, a root node with default values is created.
func (g *Graph) AddNode(name string, node *Node) {
	if node == nil {
		node = &Node{Root: true}
	}
	node.Name = name
	g.Nodes[name] = node
}

// AddEdge adds an owner -> embedded relationship. Duplicate edges are ignored
// and adjacency lists stay sorted so traversal order is stable.
func (g *Graph) AddEdge(owner, embedded string) {
	for _, c := range g.Children[owner] {
		if c == embedded {
			return
		}
	}
	g.Children[owner] = insertSorted(g.Children[owner], embedded)
	g.Parents[embedded] = insertSorted(g.Parents[embedded], owner)
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

// GetChildren returns the kinds embedded in owner.
func (g *Graph) GetChildren(owner string) []string {
	return g.Children[owner]
}

// GetParents returns the owners of an embedded kind.
func (g *Graph) GetParents(embedded string) []string {
	return g.Parents[embedded]
}

// GetNode returns the node for a given kind, or nil if not found.
func (g *Graph) GetNode(name string) *Node {
	return g.Nodes[name]
}

// HasNode returns true if the graph contains the kind.
func (g *Graph) HasNode(name string) bool {
	_, exists := g.Nodes[name]
	return exists
}

// NodeCount returns the number of kinds in the graph.
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// EdgeCount returns the number of embedding edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.Children {
		count += len(children)
	}
	return count
}

// AllNodes returns all kind names in sorted order.
func (g *Graph) AllNodes() []string {
	nodes := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)
	return nodes
}

// AllEdges returns all edges ordered by owner then embedded kind.
func (g *Graph) AllEdges() []Edge {
	var edges []Edge
	for _, owner := range g.AllNodes() {
		for _, child := range g.Children[owner] {
			edges = append(edges, Edge{From: owner, To: child})
		}
	}
	return edges
}

// InDegree returns the number of owners of a kind.
func (g *Graph) InDegree(name string) int {
	return len(g.Parents[name])
}

// OutDegree returns the number of kinds embedded in a kind.
func (g *Graph) OutDegree(name string) int {
	return len(g.Children[name])
}
