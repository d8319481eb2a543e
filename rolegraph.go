package abac

import (
	"sort"

	"github.com/oarkflow/abac/logger"
)

// DefaultMaxRoleDepth caps transitive role resolution. Chains deeper than
// this are treated as non-matching.
const DefaultMaxRoleDepth = 10

// RoleGraph is the directed subject-inherits-role graph built from grouping
// policies. It is immutable after build and safe for concurrent reads.
type RoleGraph struct {
	edges    map[string][]string
	maxDepth int
}

// NewRoleGraph builds the graph from grouping policies. Cycles do not abort
// the build: they are reported through the logger as configuration errors and
// resolution stays bounded by the depth cap and a visited set.
func NewRoleGraph(groupings []*Policy, maxDepth int, lg logger.Logger) *RoleGraph {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxRoleDepth
	}
	g := &RoleGraph{edges: make(map[string][]string, len(groupings)), maxDepth: maxDepth}
	for _, p := range groupings {
		if p.Kind != KindGrouping {
			continue
		}
		g.edges[p.SubjectPattern] = append(g.edges[p.SubjectPattern], p.Role)
	}
	if lg != nil {
		g.reportCycles(lg)
	}
	return g
}

// Inherits reports whether subject reaches target by following grouping
// edges transitively, up to the depth cap.
func (g *RoleGraph) Inherits(subject, target string) bool {
	if len(g.edges) == 0 {
		return false
	}
	visited := map[string]bool{subject: true}
	return g.walk(subject, target, visited, 0)
}

func (g *RoleGraph) walk(current, target string, visited map[string]bool, depth int) bool {
	if depth >= g.maxDepth {
		return false
	}
	for _, next := range g.edges[current] {
		if next == target {
			return true
		}
		if visited[next] {
			continue
		}
		visited[next] = true
		if g.walk(next, target, visited, depth+1) {
			return true
		}
	}
	return false
}

// Roles returns the directly assigned roles of a subject, sorted.
func (g *RoleGraph) Roles(subject string) []string {
	roles := append([]string(nil), g.edges[subject]...)
	sort.Strings(roles)
	return roles
}

// reportCycles runs an iterative three-color DFS over the grouping edges and
// logs each back edge once.
func (g *RoleGraph) reportCycles(lg logger.Logger) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.edges))
	var visit func(node string, stack map[string]bool)
	visit = func(node string, stack map[string]bool) {
		color[node] = gray
		stack[node] = true
		for _, next := range g.edges[node] {
			switch color[next] {
			case white:
				visit(next, stack)
			case gray:
				if stack[next] {
					lg.Error("role graph cycle detected, resolution stays depth-bounded",
						"from", node, "to", next)
				}
			}
		}
		stack[node] = false
		color[node] = black
	}
	for node := range g.edges {
		if color[node] == white {
			visit(node, map[string]bool{})
		}
	}
}
