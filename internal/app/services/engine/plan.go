package engine

import (
	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/domain/flow"
)

// BuildPlan computes the sequential execution order for a graph: a Kahn
// topological sort with a FIFO frontier. Ties among zero-in-degree nodes are
// broken by graph insertion order. A plan shorter than the node set means a
// cycle or a node unreachable from any source.
func BuildPlan(g flow.Graph) ([]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	adjacency := make(map[string][]string, len(g.Nodes))
	order := make([]string, 0, len(g.Nodes))

	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
		order = append(order, n.ID)
	}
	for _, e := range g.Edges {
		if _, ok := inDegree[e.From]; !ok {
			return nil, apperr.InvalidGraph("edge references unknown node " + e.From)
		}
		if _, ok := inDegree[e.To]; !ok {
			return nil, apperr.InvalidGraph("edge references unknown node " + e.To)
		}
		adjacency[e.From] = append(adjacency[e.From], e.To)
		inDegree[e.To]++
	}

	queue := make([]string, 0, len(order))
	for _, id := range order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	plan := make([]string, 0, len(order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		plan = append(plan, id)
		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(plan) != len(order) {
		return nil, apperr.InvalidGraph("graph contains a cycle or disconnected node")
	}
	return plan, nil
}
