// Package validator enforces structural invariants on parsed rules: the
// per-rule checks of a well-formed rule and the cross-rule single-writer
// topology check.
package validator

import (
	"sort"
	"strings"

	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/diag"
)

// ValidateRule checks one rule's structural invariants. Violations are
// error diagnostics; a missing description is only a warning.
func ValidateRule(r *ast.Rule) *diag.List {
	diags := &diag.List{}
	at := func(d *diag.Diagnostic) *diag.Diagnostic {
		return d.At(r.SourceFile, r.SourceLine).ForRule(r.Name)
	}

	if r.Name == "" {
		diags.Add(diag.Errorf(diag.KindValidation, "rule has no name").At(r.SourceFile, r.SourceLine))
		return diags
	}
	if r.Description == "" {
		diags.Add(at(diag.Warnf(diag.KindValidation, "rule has no description")))
	}
	if r.Conditions == nil {
		diags.Add(at(diag.Errorf(diag.KindValidation, "rule has no conditions")))
	} else {
		validateCondition(r.Conditions, at, diags)
	}
	if len(r.Actions) == 0 {
		diags.Add(at(diag.Errorf(diag.KindValidation, "rule has no actions")))
	}
	for _, a := range r.Actions {
		validateAction(a, at, diags)
	}
	for _, a := range r.Else {
		validateAction(a, at, diags)
	}
	for _, b := range r.Inputs {
		if b.Sensor == "" {
			diags.Add(at(diag.Errorf(diag.KindValidation, "input binding has no sensor id")))
		}
	}
	return diags
}

func validateCondition(c ast.Condition, at func(*diag.Diagnostic) *diag.Diagnostic, diags *diag.List) {
	ast.WalkConditions(c, func(node ast.Condition) {
		switch t := node.(type) {
		case *ast.GroupCondition:
			if len(t.All) == 0 && len(t.Any) == 0 {
				diags.Add(at(diag.Errorf(diag.KindValidation, "condition group has no children")))
			}
		case *ast.ComparisonCondition:
			if t.Sensor == "" {
				diags.Add(at(diag.Errorf(diag.KindValidation, "comparison has an empty sensor")))
			}
		case *ast.TemporalCondition:
			if t.Sensor == "" {
				diags.Add(at(diag.Errorf(diag.KindValidation, "temporal condition has an empty sensor")))
			}
			if t.Duration <= 0 {
				diags.Add(at(diag.Errorf(diag.KindValidation, "temporal condition has a non-positive duration")))
			}
		case *ast.ExpressionCondition:
			if t.Prog == nil {
				diags.Add(at(diag.Errorf(diag.KindValidation, "expression condition was not compiled")))
			}
		default:
			diags.Add(at(diag.Errorf(diag.KindValidation, "unknown condition variant")))
		}
	})
}

func validateAction(a ast.Action, at func(*diag.Diagnostic) *diag.Diagnostic, diags *diag.List) {
	switch t := a.(type) {
	case *ast.SetAction:
		if t.Key == "" {
			diags.Add(at(diag.Errorf(diag.KindValidation, "set_value action has an empty key")))
		}
		if !t.HasValue && t.Expr == nil {
			diags.Add(at(diag.Errorf(diag.KindValidation, "set_value action has neither value nor expression")))
		}
	case *ast.SendMessageAction:
		if t.Channel == "" {
			diags.Add(at(diag.Errorf(diag.KindValidation, "send_message action has an empty channel")))
		}
		if t.Message == "" && t.Expr == nil {
			diags.Add(at(diag.Errorf(diag.KindValidation, "send_message action has neither message nor message expression")))
		}
	case *ast.BufferAction:
		if t.Key == "" {
			diags.Add(at(diag.Errorf(diag.KindValidation, "buffer action has an empty key")))
		}
	case *ast.LogAction:
		if t.Message == "" {
			diags.Add(at(diag.Errorf(diag.KindValidation, "log action has an empty message")))
		}
	default:
		diags.Add(at(diag.Errorf(diag.KindValidation, "unknown action variant")))
	}
}

// ValidateRuleSet runs per-rule validation over the collection and then the
// cross-rule invariants: distinct rule names and a single writer per Set
// key. A duplicate writer names every involved rule.
func ValidateRuleSet(rules []*ast.Rule) *diag.List {
	diags := &diag.List{}
	for _, r := range rules {
		diags.Merge(ValidateRule(r))
	}

	byName := make(map[string][]*ast.Rule)
	for _, r := range rules {
		byName[r.Name] = append(byName[r.Name], r)
	}
	for _, name := range sortedKeys(byName) {
		if dup := byName[name]; len(dup) > 1 {
			d := diag.Errorf(diag.KindValidation, "rule name defined %d times", len(dup)).
				ForRule(name).At(dup[1].SourceFile, dup[1].SourceLine)
			diags.Add(d)
		}
	}

	writers := make(map[string][]*ast.Rule)
	for _, r := range rules {
		for _, a := range r.Actions {
			if set, ok := a.(*ast.SetAction); ok && set.Key != "" {
				writers[set.Key] = append(writers[set.Key], r)
			}
		}
		for _, a := range r.Else {
			if set, ok := a.(*ast.SetAction); ok && set.Key != "" {
				// A rule's else branch writing its own primary key is one
				// writer, not two.
				if len(writers[set.Key]) == 0 || writers[set.Key][len(writers[set.Key])-1] != r {
					writers[set.Key] = append(writers[set.Key], r)
				}
			}
		}
	}
	for _, key := range sortedKeys(writers) {
		rs := writers[key]
		if len(rs) > 1 {
			names := make([]string, len(rs))
			for i, r := range rs {
				names[i] = r.Name
			}
			sort.Strings(names)
			d := diag.Errorf(diag.KindValidation, "key %q is written by %d rules", key, len(rs)).
				With("key", key).With("rules", strings.Join(names, ", "))
			d.At(rs[0].SourceFile, rs[0].SourceLine)
			diags.Add(d)
		}
	}
	return diags
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
