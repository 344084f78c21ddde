// Package graph builds the rule dependency graph from producer/consumer
// sensor usage, detects cycles, and computes per-rule depths. Rules live in
// an arena addressed by index; names appear only at the boundaries.
package graph

import (
	"sort"
	"strings"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/diag"
)

// DefaultMaxDepth is the dependency-chain length past which a DeepChain
// warning is reported.
const DefaultMaxDepth = 10

// Graph is the analyzed dependency structure over an arena of rules.
type Graph struct {
	Rules []*ast.Rule
	// Deps holds, per rule index, the sorted indices of the rules it
	// depends on (its producers).
	Deps [][]int
	// TemporalDeps maps rule name to the producer names its temporal
	// conditions read, for the manifest's dependency analysis.
	TemporalDeps map[string][]string
	// Writers maps each Set key to the index of its producing rule.
	Writers map[string]int
	// MaxDepth is the longest dependency chain observed.
	MaxDepth int

	index map[string]int
}

// Build constructs the graph. Rules must already be annotated; the
// validator has ruled out duplicate writers, so the writer index is
// single-valued.
func Build(rules []*ast.Rule) *Graph {
	g := &Graph{
		Rules:        rules,
		Deps:         make([][]int, len(rules)),
		TemporalDeps: make(map[string][]string),
		Writers:      make(map[string]int),
		index:        make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		g.index[r.Name] = i
	}
	for i, r := range rules {
		for _, key := range r.OutputSensors {
			g.Writers[key] = i
		}
	}

	for i, r := range rules {
		// Self-edges are kept: a rule reading the key it writes is a
		// length-1 cycle and must be rejected, not filtered.
		depSet := map[int]bool{}
		for _, sensor := range r.ReadSensors {
			if producer, ok := g.Writers[sensor]; ok {
				depSet[producer] = true
			}
		}
		g.Deps[i] = sortedInts(depSet)

		// Temporal dependencies: producers read through temporal leaves.
		var temporal []string
		ast.WalkConditions(r.Conditions, func(node ast.Condition) {
			if t, ok := node.(*ast.TemporalCondition); ok {
				key := beacon.CanonicalSensor(t.Sensor)
				if producer, ok := g.Writers[key]; ok {
					temporal = append(temporal, rules[producer].Name)
				}
			}
		})
		if len(temporal) > 0 {
			sort.Strings(temporal)
			g.TemporalDeps[r.Name] = dedupe(temporal)
		}
	}

	return g
}

// Cycle is one dependency ring, canonicalized to begin at its
// lexicographically smallest rule name.
type Cycle struct {
	Names []string
}

// String renders the ring as a → b → … → a.
func (c Cycle) String() string {
	parts := append(append([]string{}, c.Names...), c.Names[0])
	return strings.Join(parts, " → ")
}

// FindCycles collects every cycle reachable in the graph using the two-set
// depth-first traversal (visited, on-stack). Cycles are canonicalized and
// deduplicated.
func (g *Graph) FindCycles() []Cycle {
	visited := make([]bool, len(g.Rules))
	onStack := make([]bool, len(g.Rules))
	var stack []int
	var cycles []Cycle
	seen := map[string]bool{}

	var visit func(int)
	visit = func(n int) {
		visited[n] = true
		onStack[n] = true
		stack = append(stack, n)

		for _, dep := range g.Deps[n] {
			if !visited[dep] {
				visit(dep)
			} else if onStack[dep] {
				// The ring runs from the first occurrence of dep on the
				// stack through the current node.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				ring := make([]string, 0, len(stack)-start)
				for _, s := range stack[start:] {
					ring = append(ring, g.Rules[s].Name)
				}
				c := canonicalize(ring)
				key := strings.Join(c.Names, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, c)
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[n] = false
	}

	for i := range g.Rules {
		if !visited[i] {
			visit(i)
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return strings.Join(cycles[i].Names, "\x00") < strings.Join(cycles[j].Names, "\x00")
	})
	return cycles
}

// canonicalize rotates the ring to begin at its smallest name.
func canonicalize(ring []string) Cycle {
	smallest := 0
	for i, name := range ring {
		if name < ring[smallest] {
			smallest = i
		}
	}
	out := make([]string, 0, len(ring))
	out = append(out, ring[smallest:]...)
	out = append(out, ring[:smallest]...)
	return Cycle{Names: out}
}

// ComputeDepths fills each rule's Depth (longest path to a leaf producer)
// and the graph's MaxDepth. The graph must be acyclic.
func (g *Graph) ComputeDepths() {
	memo := make([]int, len(g.Rules))
	done := make([]bool, len(g.Rules))

	var depth func(int) int
	depth = func(n int) int {
		if done[n] {
			return memo[n]
		}
		done[n] = true // safe pre-mark: acyclic by contract
		d := 0
		for _, dep := range g.Deps[n] {
			if cand := depth(dep) + 1; cand > d {
				d = cand
			}
		}
		memo[n] = d
		return d
	}

	for i, r := range g.Rules {
		r.Depth = depth(i)
		if r.Depth > g.MaxDepth {
			g.MaxDepth = r.Depth
		}
	}
}

// AttachDependencies writes each rule's sorted producer names into its
// Dependencies field.
func (g *Graph) AttachDependencies() {
	for i, r := range g.Rules {
		var names []string
		for _, dep := range g.Deps[i] {
			names = append(names, g.Rules[dep].Name)
		}
		sort.Strings(names)
		r.Dependencies = names
	}
}

// Check runs cycle detection and depth analysis, reporting fatal
// DependencyErrors for cycles and DeepChain warnings for chains longer
// than maxDepth (0 uses the default).
func (g *Graph) Check(maxDepth int) *diag.List {
	diags := &diag.List{}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	cycles := g.FindCycles()
	for _, c := range cycles {
		d := diag.Errorf(diag.KindDependency, "dependency cycle: %s", c.String()).
			With("cycle", c.String())
		if i, ok := g.index[c.Names[0]]; ok {
			d.At(g.Rules[i].SourceFile, g.Rules[i].SourceLine).ForRule(c.Names[0])
		}
		diags.Add(d)
	}
	if len(cycles) > 0 {
		return diags
	}

	g.ComputeDepths()
	g.AttachDependencies()

	for _, r := range g.Rules {
		if r.Depth > maxDepth {
			diags.Add(diag.Warnf(diag.KindDependency,
				"dependency chain of length %d exceeds the configured depth %d", r.Depth, maxDepth).
				ForRule(r.Name).At(r.SourceFile, r.SourceLine).With("warning", "DeepChain"))
		}
	}
	return diags
}

// SensorDependencies returns, per rule name, the sensors it reads that are
// produced by other rules. Used by the manifest.
func (g *Graph) SensorDependencies() map[string][]string {
	out := make(map[string][]string)
	for i, r := range g.Rules {
		var sensors []string
		for _, sensor := range r.ReadSensors {
			if producer, ok := g.Writers[sensor]; ok && producer != i {
				sensors = append(sensors, sensor)
			}
		}
		if len(sensors) > 0 {
			sort.Strings(sensors)
			out[r.Name] = sensors
		}
	}
	return out
}

func sortedInts(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
