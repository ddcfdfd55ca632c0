package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, nodes []string, edges [][2]string) *Graph {
	t.Helper()
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1], EdgeExplicit))
	}
	return g
}

func TestTopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  []string
	}{
		{
			name:  "chain",
			nodes: []string{"c", "b", "a"},
			edges: [][2]string{{"c", "b"}, {"b", "a"}},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "diamond",
			nodes: []string{"d", "b", "c", "a"},
			edges: [][2]string{{"d", "b"}, {"d", "c"}, {"b", "a"}, {"c", "a"}},
			want:  []string{"a", "b", "c", "d"},
		},
		{
			name:  "no edges sorts lexically",
			nodes: []string{"z", "m", "a"},
			want:  []string{"a", "m", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, tt.nodes, tt.edges)
			order, err := g.TopologicalSort()
			require.NoError(t, err)
			assert.Equal(t, tt.want, order)
		})
	}
}

func TestTopologicalSortDependencyBeforeDependent(t *testing.T) {
	g := buildGraph(t,
		[]string{"app", "config", "ns", "secret"},
		[][2]string{{"app", "config"}, {"app", "secret"}, {"config", "ns"}, {"secret", "ns"}},
	)
	order, err := g.TopologicalSort()
	require.NoError(t, err)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range g.IDs() {
		for _, dep := range g.Dependencies(id) {
			assert.Less(t, pos[dep], pos[id], "dependency %s must precede %s", dep, id)
		}
	}
}

func TestFindCycle(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		cycle []string
	}{
		{
			name:  "acyclic",
			nodes: []string{"a", "b"},
			edges: [][2]string{{"b", "a"}},
			cycle: nil,
		},
		{
			name:  "two node cycle",
			nodes: []string{"a", "b"},
			edges: [][2]string{{"a", "b"}, {"b", "a"}},
			cycle: []string{"a", "b"},
		},
		{
			name:  "three node cycle reports full path",
			nodes: []string{"a", "b", "c", "d"},
			edges: [][2]string{{"d", "a"}, {"a", "b"}, {"b", "c"}, {"c", "a"}},
			cycle: []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, tt.nodes, tt.edges)
			got := g.FindCycle()
			if tt.cycle == nil {
				assert.Nil(t, got)
				return
			}
			// Every node on the expected cycle must be present.
			assert.ElementsMatch(t, tt.cycle, got)
		})
	}
}

func TestSelfReferenceRejected(t *testing.T) {
	g := New()
	g.AddNode("a")
	err := g.AddEdge("a", "a", EdgeExplicit)
	assert.ErrorIs(t, err, ErrSelfReference)
}

func TestUnknownNodeRejected(t *testing.T) {
	g := New()
	g.AddNode("a")
	err := g.AddEdge("a", "missing", EdgeExplicit)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestTransitiveDependents(t *testing.T) {
	g := buildGraph(t,
		[]string{"ns", "config", "app", "job", "other"},
		[][2]string{{"config", "ns"}, {"app", "config"}, {"job", "app"}},
	)
	assert.Equal(t, []string{"app", "config", "job"}, g.TransitiveDependents("ns"))
	assert.Empty(t, g.TransitiveDependents("job"))
	assert.Empty(t, g.TransitiveDependents("other"))
}

func TestDuplicateEdgeIgnored(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, [][2]string{{"b", "a"}, {"b", "a"}})
	assert.Equal(t, []string{"a"}, g.Dependencies("b"))
}
