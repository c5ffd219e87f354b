package community

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoCliques builds two dense 4-cliques joined by a single weak bridge.
func twoCliques() ([]string, []Edge) {
	var nodes []string
	var edges []Edge
	for _, prefix := range []string{"a", "b"} {
		group := make([]string, 4)
		for i := range group {
			group[i] = fmt.Sprintf("%s%d", prefix, i)
			nodes = append(nodes, group[i])
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				edges = append(edges, Edge{A: group[i], B: group[j], Weight: 1.0})
			}
		}
	}
	edges = append(edges, Edge{A: "a0", B: "b0", Weight: 0.1})
	return nodes, edges
}

func TestClusterSeparatesCliques(t *testing.T) {
	nodes, edges := twoCliques()
	levels := Cluster(nodes, edges, DefaultOptions())
	require.NotEmpty(t, levels)

	p := levels[0]
	require.Len(t, p, 8)

	// All a-nodes in one community, all b-nodes in another.
	assert.Equal(t, p["a0"], p["a1"])
	assert.Equal(t, p["a0"], p["a2"])
	assert.Equal(t, p["a0"], p["a3"])
	assert.Equal(t, p["b0"], p["b1"])
	assert.Equal(t, p["b0"], p["b2"])
	assert.Equal(t, p["b0"], p["b3"])
	assert.NotEqual(t, p["a0"], p["b0"])
}

func TestClusterDeterministic(t *testing.T) {
	nodes, edges := twoCliques()
	first := Cluster(nodes, edges, DefaultOptions())
	second := Cluster(nodes, edges, DefaultOptions())
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

func TestClusterTrivial(t *testing.T) {
	levels := Cluster([]string{"only"}, nil, DefaultOptions())
	require.Len(t, levels, 1)
	assert.Equal(t, Partition{"only": 0}, levels[0])

	levels = Cluster(nil, nil, DefaultOptions())
	require.Len(t, levels, 1)
	assert.Empty(t, levels[0])
}

func TestClusterIsolatedNodes(t *testing.T) {
	// No edges at all: every node stays in its own community, no panic.
	levels := Cluster([]string{"x", "y", "z"}, nil, DefaultOptions())
	require.NotEmpty(t, levels)
	p := levels[0]
	assert.Len(t, p, 3)
	assert.NotEqual(t, p["x"], p["y"])
	assert.NotEqual(t, p["y"], p["z"])
}
