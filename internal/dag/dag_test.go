package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, edges [][2]string, extra ...string) *Graph {
	t.Helper()
	g := New()
	for _, e := range edges {
		g.AddNode(e[0])
		g.AddNode(e[1])
	}
	for _, n := range extra {
		g.AddNode(n)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	g := build(t, [][2]string{
		{"a", "c"},
		{"b", "c"},
		{"c", "d"},
	}, "z")

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "z"}, order)
}

func TestSelfLoopRejected(t *testing.T) {
	g := New()
	g.AddNode("a")
	err := g.AddEdge("a", "a")
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "a"}, cycle.Nodes)
}

func TestTwoCycleDetected(t *testing.T) {
	g := build(t, [][2]string{{"a", "b"}, {"b", "a"}})
	_, err := g.TopologicalOrder()
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.ElementsMatch(t, []string{"a", "b"}, cycle.Nodes)
}

func TestThreeCycleDetected(t *testing.T) {
	g := build(t, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})
	_, err := g.TopologicalOrder()
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle.Nodes)
}

func TestDownstreamClosure(t *testing.T) {
	g := build(t, [][2]string{
		{"raw", "daily"},
		{"daily", "weekly"},
		{"daily", "monthly"},
		{"weekly", "report"},
	})
	assert.Equal(t, []string{"daily", "monthly", "report", "weekly"}, g.DownstreamClosure("raw"))
	assert.Empty(t, g.DownstreamClosure("report"))
}

func TestUpstream(t *testing.T) {
	g := build(t, [][2]string{{"a", "c"}, {"b", "c"}})
	assert.Equal(t, []string{"a", "b"}, g.Upstream("c"))
	assert.Empty(t, g.Upstream("a"))
}

func TestLevels(t *testing.T) {
	g := build(t, [][2]string{
		{"a", "c"},
		{"b", "c"},
		{"c", "d"},
		{"b", "d"},
	})
	levels, err := g.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a", "b"}, levels[0])
	assert.Equal(t, []string{"c"}, levels[1])
	assert.Equal(t, []string{"d"}, levels[2])
}

func TestPrettyForest(t *testing.T) {
	g := build(t, [][2]string{
		{"raw", "daily"},
		{"daily", "weekly"},
	})
	out := g.PrettyForest()
	assert.Contains(t, out, "raw")
	assert.Contains(t, out, "└── daily")
	assert.Contains(t, out, "weekly")
}
