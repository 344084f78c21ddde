// Package plan assigns evaluation layers over the acyclic dependency graph
// and partitions the layered rules into bounded evaluation groups.
package plan

import (
	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/graph"
)

// Limits bounds one evaluation group. A zero field takes its default.
type Limits struct {
	MaxRules      int // rules per group
	MaxConditions int // condition leaves per group
	MaxActions    int // actions per group
}

// DefaultLimits are the group bounds used when the caller sets none.
var DefaultLimits = Limits{
	MaxRules:      25,
	MaxConditions: 100,
	MaxActions:    100,
}

func (l Limits) normalized() Limits {
	if l.MaxRules <= 0 {
		l.MaxRules = DefaultLimits.MaxRules
	}
	if l.MaxConditions <= 0 {
		l.MaxConditions = DefaultLimits.MaxConditions
	}
	if l.MaxActions <= 0 {
		l.MaxActions = DefaultLimits.MaxActions
	}
	return l
}

// Group is one emitted evaluation unit: an ordered run of rules sharing a
// layer.
type Group struct {
	Index int
	Layer int
	Rules []*ast.Rule
}

// AssignLayers computes layer(r) = 0 for leaf rules and 1 + max over
// dependencies otherwise, writing the result into each rule. Ties keep the
// original parse order, which the grouping walk preserves.
func AssignLayers(g *graph.Graph) {
	memo := make([]int, len(g.Rules))
	done := make([]bool, len(g.Rules))

	var layer func(int) int
	layer = func(n int) int {
		if done[n] {
			return memo[n]
		}
		done[n] = true
		l := 0
		for _, dep := range g.Deps[n] {
			if cand := layer(dep) + 1; cand > l {
				l = cand
			}
		}
		memo[n] = l
		return l
	}

	for i, r := range g.Rules {
		r.Layer = layer(i)
	}
}

// Partition walks the rules in (layer, parse order) and accumulates groups
// under the limits. A new layer always starts a new group; exceeding any
// limit closes the current one. The result is a pure function of the input
// order and the limits.
func Partition(rules []*ast.Rule, limits Limits) []*Group {
	limits = limits.normalized()

	// Stable bucket sort by layer keeps parse order within a layer.
	maxLayer := 0
	for _, r := range rules {
		if r.Layer > maxLayer {
			maxLayer = r.Layer
		}
	}
	buckets := make([][]*ast.Rule, maxLayer+1)
	for _, r := range rules {
		buckets[r.Layer] = append(buckets[r.Layer], r)
	}

	var groups []*Group
	var current *Group
	var condCount, actCount int

	flush := func() {
		if current != nil && len(current.Rules) > 0 {
			groups = append(groups, current)
		}
		current = nil
	}

	for layer, bucket := range buckets {
		flush()
		for _, r := range bucket {
			leaves := ast.CountLeaves(r.Conditions)
			actions := len(r.Actions) + len(r.Else)

			if current != nil {
				over := len(current.Rules)+1 > limits.MaxRules ||
					condCount+leaves > limits.MaxConditions ||
					actCount+actions > limits.MaxActions
				if over {
					flush()
				}
			}
			if current == nil {
				current = &Group{Index: len(groups), Layer: layer}
				condCount, actCount = 0, 0
			}
			current.Rules = append(current.Rules, r)
			condCount += leaves
			actCount += actions
		}
	}
	flush()
	return groups
}
