// Package chain validates the logical dependency graph of the
// analyst's atomic claims: cycle detection, topological ordering,
// downstream impact, and confidence-inflation checks. It operates on
// plain adjacency maps keyed by claim id and holds no orchestrator
// state, so it can be unit-tested with synthetic graphs.
package chain

import (
	"fmt"
	"strings"

	"github.com/meridian-search/reasoner/internal/agents"
)

// Config tunes critical-node marking and inflation checks.
type Config struct {
	// CriticalImpactThreshold is the downstream-affected count at which
	// a node qualifies for critical marking.
	CriticalImpactThreshold int
	// ConfidenceFloor is the 0-10 score below which a node counts as
	// low confidence.
	ConfidenceFloor float64
	// InflationMargin is how far a node's score may exceed its
	// strongest premise before it is flagged as inflated.
	InflationMargin float64
}

// DefaultConfig mirrors the configured defaults.
func DefaultConfig() Config {
	return Config{
		CriticalImpactThreshold: 1,
		ConfidenceFloor:         5.0,
		InflationMargin:         3.0,
	}
}

// CriticalNode is a claim with high downstream impact and a weak basis.
type CriticalNode struct {
	NodeID      string  `json:"node_id"`
	Impact      int     `json:"impact"`
	Score       float64 `json:"score"`
	HasCritical bool    `json:"has_critical_weakness"`
}

// InflationWarning flags a claim more confident than its premises.
type InflationWarning struct {
	NodeID    string  `json:"node_id"`
	Score     float64 `json:"score"`
	MaxParent float64 `json:"max_parent_score"`
}

// Analysis is the derived, read-only summary over one claim batch.
type Analysis struct {
	TotalNodes       int                `json:"total_nodes"`
	MaxDepth         int                `json:"max_depth"`
	TopologicalOrder []string           `json:"topological_order"`
	CriticalNodes    []CriticalNode     `json:"critical_nodes,omitempty"`
	HasCycles        bool               `json:"has_cycles"`
	CycleDetails     string             `json:"cycle_details,omitempty"`
	InflationCount   int                `json:"inflation_count"`
	Inflations       []InflationWarning `json:"inflations,omitempty"`
}

// Analyze builds the dependency graph over nodes and computes the full
// analysis. Structural defects (cycles, unknown references) degrade the
// result, never panic. Inflation warnings are also appended to the
// affected nodes' LogicWarnings in place.
func Analyze(nodes []agents.ArgumentNode, weaknesses []agents.StructuredWeakness, cfg Config) Analysis {
	analysis := Analysis{TotalNodes: len(nodes)}
	if len(nodes) == 0 {
		analysis.TopologicalOrder = []string{}
		return analysis
	}

	byID := make(map[string]int, len(nodes))
	order := make([]string, 0, len(nodes))
	for i, n := range nodes {
		byID[n.ID] = i
		order = append(order, n.ID)
	}

	// forward: premise -> dependents; backward: node -> premises.
	forward := make(map[string][]string, len(nodes))
	backward := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				continue
			}
			if _, ok := byID[dep]; !ok {
				continue // unknown reference, already a logged defect upstream
			}
			forward[dep] = append(forward[dep], n.ID)
			backward[n.ID] = append(backward[n.ID], dep)
		}
	}

	if path := findCycle(order, forward); len(path) > 0 {
		analysis.HasCycles = true
		analysis.CycleDetails = fmt.Sprintf("circular dependency: %s", strings.Join(path, " -> "))
	}

	analysis.TopologicalOrder = topologicalOrder(order, forward, backward)
	analysis.MaxDepth = maxDepth(order, backward)

	impacts := downstreamImpacts(order, forward)

	critical := criticalWeaknessSet(weaknesses)
	for _, id := range order {
		n := nodes[byID[id]]
		impact := len(impacts[id])
		if impact < cfg.CriticalImpactThreshold {
			continue
		}
		score := n.ConfidenceScore()
		hasCrit := critical[id]
		if score < cfg.ConfidenceFloor || hasCrit {
			analysis.CriticalNodes = append(analysis.CriticalNodes, CriticalNode{
				NodeID:      id,
				Impact:      impact,
				Score:       score,
				HasCritical: hasCrit,
			})
		}
	}

	// Weakest-link check: a conclusion cannot be more certain than its
	// strongest premise plus the margin.
	for _, id := range order {
		premises := backward[id]
		if len(premises) == 0 {
			continue
		}
		maxParent := 0.0
		for _, p := range premises {
			if s := nodes[byID[p]].ConfidenceScore(); s > maxParent {
				maxParent = s
			}
		}
		i := byID[id]
		score := nodes[i].ConfidenceScore()
		if score > maxParent+cfg.InflationMargin {
			warning := fmt.Sprintf("confidence inflated relative to premise: score %.1f exceeds strongest premise %.1f by more than %.1f",
				score, maxParent, cfg.InflationMargin)
			nodes[i].LogicWarnings = append(nodes[i].LogicWarnings, warning)
			analysis.Inflations = append(analysis.Inflations, InflationWarning{
				NodeID: id, Score: score, MaxParent: maxParent,
			})
		}
	}
	analysis.InflationCount = len(analysis.Inflations)
	return analysis
}

// findCycle runs a depth-first traversal with a recursion stack and
// returns the looping claim chain, or nil when the graph is acyclic.
func findCycle(order []string, forward map[string][]string) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on recursion stack
		black = 2 // done
	)
	color := make(map[string]int, len(order))
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range forward[id] {
			switch color[next] {
			case white:
				if dfs(next) {
					return true
				}
			case gray:
				// Extract the cycle portion of the stack.
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
				cycle = []string{next, id, next}
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range order {
		if color[id] == white {
			stack = stack[:0]
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm. When cycles prevent a full
// ordering it returns the partial order followed by the remaining nodes
// in their original emission order.
func topologicalOrder(order []string, forward, backward map[string][]string) []string {
	inDegree := make(map[string]int, len(order))
	for _, id := range order {
		inDegree[id] = len(backward[id])
	}

	var queue []string
	for _, id := range order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(order))
	placed := make(map[string]bool, len(order))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)
		placed[current] = true
		for _, dependent := range forward[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) < len(order) {
		for _, id := range order {
			if !placed[id] {
				sorted = append(sorted, id)
			}
		}
	}
	return sorted
}

// maxDepth computes the longest premise chain. With cycles present the
// recursion is cut at repeated nodes, yielding a best-effort depth.
func maxDepth(order []string, backward map[string][]string) int {
	memo := make(map[string]int, len(order))
	onPath := make(map[string]bool, len(order))

	var depth func(id string) int
	depth = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		if onPath[id] {
			return 0 // cycle guard
		}
		onPath[id] = true
		best := 0
		for _, p := range backward[id] {
			if d := depth(p); d > best {
				best = d
			}
		}
		onPath[id] = false
		memo[id] = best + 1
		return best + 1
	}

	max := 0
	for _, id := range order {
		if d := depth(id); d > max {
			max = d
		}
	}
	return max
}

// downstreamImpacts computes, for each node, the set of transitively
// affected nodes. Each node's set is computed once and cached so deep
// chains stay linear instead of quadratic.
func downstreamImpacts(order []string, forward map[string][]string) map[string]map[string]struct{} {
	memo := make(map[string]map[string]struct{}, len(order))
	inProgress := make(map[string]bool, len(order))

	var affected func(id string) map[string]struct{}
	affected = func(id string) map[string]struct{} {
		if set, ok := memo[id]; ok {
			return set
		}
		if inProgress[id] {
			return map[string]struct{}{} // cycle guard
		}
		inProgress[id] = true
		set := make(map[string]struct{})
		for _, dependent := range forward[id] {
			set[dependent] = struct{}{}
			for downstream := range affected(dependent) {
				set[downstream] = struct{}{}
			}
		}
		inProgress[id] = false
		memo[id] = set
		return set
	}

	for _, id := range order {
		affected(id)
	}
	return memo
}

func criticalWeaknessSet(weaknesses []agents.StructuredWeakness) map[string]bool {
	set := make(map[string]bool)
	for _, w := range weaknesses {
		if w.Severity == agents.SeverityCritical {
			set[w.NodeID] = true
		}
	}
	return set
}
