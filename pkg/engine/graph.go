package engine

import (
	"fmt"

	"github.com/brianstittsr/loom/pkg/models"
)

// graph is the subgraph reachable from the workflow's trigger nodes, with
// predecessor lists and in-degrees precomputed for the wave walk. Nodes
// outside it never run.
type graph struct {
	nodes    map[string]*models.WorkflowNode
	order    []string
	preds    map[string][]string
	indegree map[string]int
}

func buildGraph(workflow *models.Workflow, entries []*models.WorkflowNode) (*graph, error) {
	g := &graph{
		nodes:    make(map[string]*models.WorkflowNode),
		preds:    make(map[string][]string),
		indegree: make(map[string]int),
	}

	queue := make([]*models.WorkflowNode, 0, len(entries))

	for _, entry := range entries {
		if _, ok := g.nodes[entry.ID]; ok {
			continue
		}

		g.nodes[entry.ID] = entry
		g.order = append(g.order, entry.ID)
		queue = append(queue, entry)
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for _, succID := range node.Successors {
			succ := workflow.NodeByID(succID)
			if succ == nil {
				return nil, fmt.Errorf("node %s references unknown successor %s", node.ID, succID)
			}

			g.preds[succID] = append(g.preds[succID], node.ID)
			g.indegree[succID]++

			if _, ok := g.nodes[succID]; ok {
				continue
			}

			g.nodes[succID] = succ
			g.order = append(g.order, succID)
			queue = append(queue, succ)
		}
	}

	return g, nil
}

// findCycle runs a three-color depth-first search over the reachable
// subgraph and returns a node on a back edge, or "" when the graph is
// acyclic.
func (g *graph) findCycle() string {
	const (
		unvisited = iota
		inProgress
		done
	)

	state := make(map[string]int, len(g.nodes))

	var visit func(id string) string

	visit = func(id string) string {
		state[id] = inProgress

		for _, succID := range g.nodes[id].Successors {
			if _, ok := g.nodes[succID]; !ok {
				continue
			}

			switch state[succID] {
			case inProgress:
				return succID
			case unvisited:
				if hit := visit(succID); hit != "" {
					return hit
				}
			}
		}

		state[id] = done

		return ""
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if hit := visit(id); hit != "" {
				return hit
			}
		}
	}

	return ""
}
