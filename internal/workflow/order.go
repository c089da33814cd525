package workflow

import (
	"fmt"
	"strings"
)

// CycleError lists the nodes that cannot be reached from a node without
// incoming edges, in declaration order.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow contains a cycle: unreachable nodes %s", strings.Join(e.Nodes, ", "))
}

// Order returns node ids in execution order using Kahn's algorithm. The queue
// is seeded with zero in-degree nodes in declaration order and children are
// visited in edge order. Nodes that never reach in-degree zero (cycles and
// everything behind them) are left out.
func Order(g Graph) []string {
	children := make(map[string][]string, len(g.Nodes))
	inDegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		if _, ok := inDegree[e.From]; !ok {
			continue
		}
		if _, ok := inDegree[e.To]; !ok {
			continue
		}
		children[e.From] = append(children[e.From], e.To)
		inDegree[e.To]++
	}

	queue := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	order := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range children[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order
}

// OrderStrict is Order, but any excluded node is reported as a *CycleError.
func OrderStrict(g Graph) ([]string, error) {
	order := Order(g)
	if len(order) == len(g.Nodes) {
		return order, nil
	}
	reached := make(map[string]struct{}, len(order))
	for _, id := range order {
		reached[id] = struct{}{}
	}
	var missing []string
	for _, n := range g.Nodes {
		if _, ok := reached[n.ID]; !ok {
			missing = append(missing, n.ID)
		}
	}
	return order, &CycleError{Nodes: missing}
}
