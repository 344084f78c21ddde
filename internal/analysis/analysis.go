// Package analysis annotates validated rules with their derived fields:
// the sensors they read and write, the temporal flag, the complexity score,
// and the canonical input used by $input substitution.
package analysis

import (
	"sort"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/ast"
)

// Annotate computes the analysis fields for every rule, in place.
func Annotate(rules []*ast.Rule) {
	for _, r := range rules {
		annotateRule(r)
	}
}

func annotateRule(r *ast.Rule) {
	reads := map[string]bool{}

	ast.WalkConditions(r.Conditions, func(node ast.Condition) {
		switch t := node.(type) {
		case *ast.ComparisonCondition:
			reads[beacon.CanonicalSensor(t.Sensor)] = true
		case *ast.TemporalCondition:
			reads[beacon.CanonicalSensor(t.Sensor)] = true
			r.Temporal = true
		case *ast.ExpressionCondition:
			for _, s := range t.Prog.Sensors() {
				reads[beacon.CanonicalSensor(s)] = true
			}
		}
	})

	// Action-side expressions contribute only their input-classified
	// identifiers to the rule's reads.
	collect := func(prog *beacon.Program) {
		if prog == nil {
			return
		}
		for _, s := range prog.Sensors() {
			if beacon.ClassifySensor(s) == beacon.SensorInput {
				reads[beacon.CanonicalSensor(s)] = true
			}
		}
	}
	outputs := map[string]bool{}
	for _, actions := range [][]ast.Action{r.Actions, r.Else} {
		for _, a := range actions {
			switch t := a.(type) {
			case *ast.SetAction:
				collect(t.Expr)
				if t.Key != "" {
					outputs[t.Key] = true
				}
			case *ast.SendMessageAction:
				collect(t.Expr)
			case *ast.BufferAction:
				collect(t.Expr)
			}
		}
	}

	r.ReadSensors = sortedSet(reads)
	r.OutputSensors = sortedSet(outputs)

	var inputs []string
	for _, s := range r.ReadSensors {
		if beacon.ClassifySensor(s) == beacon.SensorInput {
			inputs = append(inputs, s)
		}
	}
	r.InputSensors = inputs

	r.Complexity = complexity(r)
}

// complexity scores a rule: base 1, +1 per leaf beyond the first, +2 per
// temporal threshold, plus the sensor count of each expression.
func complexity(r *ast.Rule) int {
	score := 1
	leaves := 0
	ast.WalkConditions(r.Conditions, func(node ast.Condition) {
		switch t := node.(type) {
		case *ast.GroupCondition:
		case *ast.TemporalCondition:
			leaves++
			score += 2
		case *ast.ExpressionCondition:
			leaves++
			score += len(t.Prog.Sensors())
		default:
			leaves++
		}
	})
	if leaves > 1 {
		score += leaves - 1
	}
	return score
}

// CanonicalInput picks the sensor $input resolves to: the first declared
// input binding when present, otherwise the lexicographically first input
// sensor the rule reads.
func CanonicalInput(r *ast.Rule) string {
	if len(r.Inputs) > 0 {
		return beacon.CanonicalSensor(r.Inputs[0].Sensor)
	}
	if len(r.InputSensors) > 0 {
		return r.InputSensors[0]
	}
	return ""
}

func sortedSet(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
