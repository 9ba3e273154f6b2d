package compiler

import (
	"sort"

	"github.com/diaflow/diaflow/domain"
)

// calculateOrder produces a topological ordering plus per-level groups.
// Cycles are only accepted when the strongly-connected component contains a
// condition node or an iterating person_job; any other cycle is an error.
// Ordering and levels are computed over the condensation of the SCCs, so an
// approved loop body occupies a single position.
func calculateOrder(nodes map[domain.NodeID]*domain.Node, edges []*domain.Edge) ([]domain.NodeID, []domain.LevelGroup, Issues) {
	var issues Issues

	adjacency := make(map[domain.NodeID][]domain.NodeID, len(nodes))
	for _, e := range edges {
		adjacency[e.SourceNodeID] = append(adjacency[e.SourceNodeID], e.TargetNodeID)
	}

	sccs := stronglyConnected(nodes, adjacency)

	component := make(map[domain.NodeID]int, len(nodes))
	for idx, scc := range sccs {
		for _, n := range scc {
			component[n] = idx
		}
	}

	for _, scc := range sccs {
		if len(scc) < 2 && !selfLoop(scc, adjacency) {
			continue
		}
		if !cycleApproved(scc, nodes) {
			issues = append(issues, errorf("dependency cycle through %v has no condition or iterating person_job", nodeIDStrings(scc)))
		}
	}
	if issues.HasErrors() {
		return nil, nil, issues
	}

	// Condensation edges (deduplicated)
	condAdj := make(map[int]map[int]bool, len(sccs))
	indegree := make(map[int]int, len(sccs))
	for i := range sccs {
		condAdj[i] = make(map[int]bool)
		indegree[i] = 0
	}
	for _, e := range edges {
		from, to := component[e.SourceNodeID], component[e.TargetNodeID]
		if from == to || condAdj[from][to] {
			continue
		}
		condAdj[from][to] = true
		indegree[to]++
	}

	// Kahn's algorithm over the condensation, tracking longest-path depth
	depth := make(map[int]int, len(sccs))
	queue := make([]int, 0, len(sccs))
	for i := range sccs {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	sort.Ints(queue)

	var order []domain.NodeID
	levels := make(map[int][]domain.NodeID)
	maxLevel := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		members := append([]domain.NodeID(nil), sccs[cur]...)
		sortNodeIDs(members)
		order = append(order, members...)
		levels[depth[cur]] = append(levels[depth[cur]], members...)
		if depth[cur] > maxLevel {
			maxLevel = depth[cur]
		}

		next := make([]int, 0, len(condAdj[cur]))
		for to := range condAdj[cur] {
			if depth[cur]+1 > depth[to] {
				depth[to] = depth[cur] + 1
			}
			indegree[to]--
			if indegree[to] == 0 {
				next = append(next, to)
			}
		}
		sort.Ints(next)
		queue = append(queue, next...)
	}

	if len(order) != len(nodes) {
		// Unreachable with approved SCCs, kept as a safety net
		issues = append(issues, errorf("dependency cycle detected: ordered %d of %d nodes", len(order), len(nodes)))
		return nil, nil, issues
	}

	groups := make([]domain.LevelGroup, 0, maxLevel+1)
	for level := 0; level <= maxLevel; level++ {
		if members := levels[level]; len(members) > 0 {
			groups = append(groups, domain.LevelGroup{Level: level, Nodes: members})
		}
	}

	return order, groups, issues
}

// cycleApproved reports whether an SCC may legally cycle: it needs at least
// one condition node or a person_job that iterates
func cycleApproved(scc []domain.NodeID, nodes map[domain.NodeID]*domain.Node) bool {
	for _, id := range scc {
		node := nodes[id]
		if node == nil {
			continue
		}
		if node.Type == domain.NodeTypeCondition {
			return true
		}
		if node.Type == domain.NodeTypePersonJob && node.PersonJob != nil && node.PersonJob.MaxIteration > 1 {
			return true
		}
	}
	return false
}

func selfLoop(scc []domain.NodeID, adjacency map[domain.NodeID][]domain.NodeID) bool {
	if len(scc) != 1 {
		return false
	}
	for _, to := range adjacency[scc[0]] {
		if to == scc[0] {
			return true
		}
	}
	return false
}

// stronglyConnected runs Tarjan's algorithm and returns the SCCs
func stronglyConnected(nodes map[domain.NodeID]*domain.Node, adjacency map[domain.NodeID][]domain.NodeID) [][]domain.NodeID {
	index := 0
	indices := make(map[domain.NodeID]int, len(nodes))
	lowlink := make(map[domain.NodeID]int, len(nodes))
	onStack := make(map[domain.NodeID]bool, len(nodes))
	var stack []domain.NodeID
	var sccs [][]domain.NodeID

	var strongconnect func(v domain.NodeID)
	strongconnect = func(v domain.NodeID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adjacency[v] {
			if _, visited := indices[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indices[w] < lowlink[v] {
				lowlink[v] = indices[w]
			}
		}

		if lowlink[v] == indices[v] {
			var scc []domain.NodeID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Deterministic traversal order
	ids := make([]domain.NodeID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	for _, id := range ids {
		if _, visited := indices[id]; !visited {
			strongconnect(id)
		}
	}

	return sccs
}

func sortNodeIDs(ids []domain.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func nodeIDStrings(ids []domain.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	sort.Strings(out)
	return out
}
