package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/domain/flow"
)

func graphOf(nodeIDs []string, edges ...flow.Edge) flow.Graph {
	g := flow.Graph{Edges: edges}
	for _, id := range nodeIDs {
		g.Nodes = append(g.Nodes, flow.Node{ID: id, Type: "transform"})
	}
	return g
}

func TestBuildPlanLinearChain(t *testing.T) {
	g := graphOf([]string{"a", "b", "c"},
		flow.Edge{From: "a", To: "b"},
		flow.Edge{From: "b", To: "c"},
	)
	plan, err := BuildPlan(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, plan)
}

func TestBuildPlanTieBreaksByInsertionOrder(t *testing.T) {
	// Two independent sources; the one declared first runs first.
	g := graphOf([]string{"second", "first", "sink"},
		flow.Edge{From: "second", To: "sink"},
		flow.Edge{From: "first", To: "sink"},
	)
	plan, err := BuildPlan(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first", "sink"}, plan)
}

func TestBuildPlanDiamond(t *testing.T) {
	g := graphOf([]string{"start", "left", "right", "end"},
		flow.Edge{From: "start", To: "left"},
		flow.Edge{From: "start", To: "right"},
		flow.Edge{From: "left", To: "end"},
		flow.Edge{From: "right", To: "end"},
	)
	plan, err := BuildPlan(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "left", "right", "end"}, plan)
	assert.Len(t, plan, len(g.Nodes))
}

func TestBuildPlanRejectsCycle(t *testing.T) {
	g := graphOf([]string{"a", "b", "c"},
		flow.Edge{From: "a", To: "b"},
		flow.Edge{From: "b", To: "a"},
	)
	_, err := BuildPlan(g)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidGraph))
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildPlanRejectsUnknownEdgeEndpoint(t *testing.T) {
	g := graphOf([]string{"a"}, flow.Edge{From: "a", To: "ghost"})
	_, err := BuildPlan(g)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidGraph))
}

func TestBuildPlanLengthEqualsNodeCountOnValidGraphs(t *testing.T) {
	g := graphOf([]string{"n1", "n2", "n3", "n4", "n5"},
		flow.Edge{From: "n1", To: "n3"},
		flow.Edge{From: "n2", To: "n3"},
		flow.Edge{From: "n3", To: "n4"},
		flow.Edge{From: "n3", To: "n5"},
	)
	plan, err := BuildPlan(g)
	require.NoError(t, err)
	assert.Len(t, plan, 5)
}
