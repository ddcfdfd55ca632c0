package dag

import (
	"fmt"
	"sort"
)

var (
	// ErrSelfReference is returned when an edge would point a node at itself.
	ErrSelfReference = fmt.Errorf("self-references are not allowed")
	// ErrUnknownNode is returned when an edge references a node that was
	// never added.
	ErrUnknownNode = fmt.Errorf("unknown node")
)

// EdgeKind records how an edge was derived.
type EdgeKind int

const (
	// EdgeExplicit comes from a declared reference.
	EdgeExplicit EdgeKind = iota
	// EdgeOwnerReference is implied by an owner relationship.
	EdgeOwnerReference
	// EdgeWavePriority is a synthetic edge to a wave barrier.
	EdgeWavePriority
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeExplicit:
		return "explicit"
	case EdgeOwnerReference:
		return "owner-reference"
	case EdgeWavePriority:
		return "wave-priority"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

type edge struct {
	to   int
	kind EdgeKind
}

// Graph is a directed graph over string-identified nodes. An edge from A to B
// means "A depends on B".
type Graph struct {
	ids   []string
	index map[string]int
	out   [][]edge
	in    [][]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.ids) }

// AddNode inserts a node if absent and returns its arena index.
func (g *Graph) AddNode(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	i := len(g.ids)
	g.ids = append(g.ids, id)
	g.index[id] = i
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return i
}

// Has reports whether the node exists.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// IDs returns all node IDs in insertion order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// AddEdge records that from depends on to. Both nodes must already exist.
func (g *Graph) AddEdge(from, to string, kind EdgeKind) error {
	if from == to {
		return fmt.Errorf("edge %q -> %q: %w", from, to, ErrSelfReference)
	}
	fi, ok := g.index[from]
	if !ok {
		return fmt.Errorf("edge from %q: %w", from, ErrUnknownNode)
	}
	ti, ok := g.index[to]
	if !ok {
		return fmt.Errorf("edge to %q: %w", to, ErrUnknownNode)
	}
	for _, e := range g.out[fi] {
		if e.to == ti {
			return nil
		}
	}
	g.out[fi] = append(g.out[fi], edge{to: ti, kind: kind})
	g.in[ti] = append(g.in[ti], fi)
	return nil
}

// Dependencies returns the IDs the given node depends on, sorted.
func (g *Graph) Dependencies(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.out[i]))
	for _, e := range g.out[i] {
		out = append(out, g.ids[e.to])
	}
	sort.Strings(out)
	return out
}

// Dependents returns the IDs that depend on the given node, sorted.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.in[i]))
	for _, from := range g.in[i] {
		out = append(out, g.ids[from])
	}
	sort.Strings(out)
	return out
}

// TransitiveDependents returns every node reachable by following dependent
// edges from the given node, excluding the node itself. Used to propagate a
// blocked resource to everything that depends on it.
func (g *Graph) TransitiveDependents(id string) []string {
	start, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.ids))
	stack := []int{start}
	var out []string
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, from := range g.in[n] {
			if seen[from] {
				continue
			}
			seen[from] = true
			out = append(out, g.ids[from])
			stack = append(stack, from)
		}
	}
	sort.Strings(out)
	return out
}

// DFS coloring for cycle detection.
const (
	white = iota
	gray
	black
)

// FindCycle returns the full node path of a dependency cycle, or nil if the
// graph is acyclic. The path lists every node on the cycle, closing back on
// the first element, so the operator sees the complete offending chain.
func (g *Graph) FindCycle() []string {
	color := make([]int, len(g.ids))
	stack := make([]int, 0, len(g.ids))

	var visit func(n int) []string
	visit = func(n int) []string {
		color[n] = gray
		stack = append(stack, n)
		for _, e := range g.sortedOut(n) {
			switch color[e.to] {
			case gray:
				// Unwind the stack back to the repeated node.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == e.to {
						cycle := make([]string, 0, len(stack)-i)
						for _, idx := range stack[i:] {
							cycle = append(cycle, g.ids[idx])
						}
						return cycle
					}
				}
			case white:
				if c := visit(e.to); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	for n := range g.ids {
		if color[n] == white {
			if c := visit(n); c != nil {
				return c
			}
		}
	}
	return nil
}

// TopologicalSort returns node IDs with every dependency preceding its
// dependents. The order is deterministic: ties break lexically. Returns an
// error carrying the cycle path when the graph is cyclic.
func (g *Graph) TopologicalSort() ([]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, fmt.Errorf("graph contains a cycle: %v", cycle)
	}

	remaining := make([]int, len(g.ids))
	ready := make([]int, 0, len(g.ids))
	for i := range g.ids {
		remaining[i] = len(g.out[i])
		if remaining[i] == 0 {
			ready = append(ready, i)
		}
	}
	sortByID(g, ready)

	order := make([]string, 0, len(g.ids))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, g.ids[n])
		unblocked := make([]int, 0, len(g.in[n]))
		for _, from := range g.in[n] {
			remaining[from]--
			if remaining[from] == 0 {
				unblocked = append(unblocked, from)
			}
		}
		ready = append(ready, unblocked...)
		sortByID(g, ready)
	}
	return order, nil
}

func (g *Graph) sortedOut(n int) []edge {
	edges := make([]edge, len(g.out[n]))
	copy(edges, g.out[n])
	sort.Slice(edges, func(i, j int) bool {
		return g.ids[edges[i].to] < g.ids[edges[j].to]
	})
	return edges
}

func sortByID(g *Graph, idx []int) {
	sort.Slice(idx, func(i, j int) bool {
		return g.ids[idx[i]] < g.ids[idx[j]]
	})
}
