package emitter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/ast"
)

// The render helpers turn AST nodes into Go composite-literal text for the
// emitted sources. Everything renders through kernel constructors so the
// generated files stay declarative: rule data plus beacon calls, no inline
// evaluation logic.

type renderer struct {
	sb     strings.Builder
	indent int
}

func (w *renderer) line(format string, args ...any) {
	w.sb.WriteString(strings.Repeat("\t", w.indent))
	fmt.Fprintf(&w.sb, format, args...)
	w.sb.WriteByte('\n')
}

func renderValue(v beacon.Value) string {
	switch v.Kind() {
	case beacon.KindBool:
		b, _ := v.Bool()
		return fmt.Sprintf("beacon.Bool(%t)", b)
	case beacon.KindNumber:
		n, _ := v.Num()
		return fmt.Sprintf("beacon.Number(%s)", strconv.FormatFloat(n, 'g', -1, 64))
	case beacon.KindString:
		return fmt.Sprintf("beacon.String(%s)", strconv.Quote(v.Str()))
	default:
		return "beacon.Null"
	}
}

func renderOp(op beacon.CompareOp) string {
	switch op {
	case beacon.OpGT:
		return "beacon.OpGT"
	case beacon.OpLT:
		return "beacon.OpLT"
	case beacon.OpGE:
		return "beacon.OpGE"
	case beacon.OpLE:
		return "beacon.OpLE"
	case beacon.OpEQ:
		return "beacon.OpEQ"
	default:
		return "beacon.OpNE"
	}
}

func renderDuration(d time.Duration) string {
	return fmt.Sprintf("%d * time.Millisecond", d.Milliseconds())
}

func renderMode(m beacon.TemporalMode) string {
	if m == beacon.Extended {
		return "beacon.Extended"
	}
	return "beacon.Strict"
}

func renderEmit(m beacon.EmitMode) string {
	switch m {
	case beacon.EmitOnChange:
		return "beacon.EmitOnChange"
	case beacon.EmitOnEnter:
		return "beacon.EmitOnEnter"
	default:
		return "beacon.EmitAlways"
	}
}

func renderStrategy(s beacon.FallbackStrategy) string {
	switch s {
	case beacon.UseDefault:
		return "beacon.UseDefault"
	case beacon.UseLastKnown:
		return "beacon.UseLastKnown"
	case beacon.SkipRule:
		return "beacon.SkipRule"
	default:
		return "beacon.PropagateUnavailable"
	}
}

// condition renders a condition node as a composite literal. The prefix
// lands on the node's first line ("Condition: " for a struct field, empty
// for a slice element); every rendering ends with a trailing comma.
func (w *renderer) condition(prefix string, c ast.Condition) {
	switch t := c.(type) {
	case *ast.GroupCondition:
		w.line("%s&beacon.Group{", prefix)
		w.indent++
		if len(t.All) > 0 {
			w.line("All: []beacon.Condition{")
			w.indent++
			for _, child := range t.All {
				w.condition("", child)
			}
			w.indent--
			w.line("},")
		}
		if len(t.Any) > 0 {
			w.line("Any: []beacon.Condition{")
			w.indent++
			for _, child := range t.Any {
				w.condition("", child)
			}
			w.indent--
			w.line("},")
		}
		w.indent--
		w.line("},")
	case *ast.ComparisonCondition:
		w.line("%s&beacon.Comparison{Sensor: %s, Op: %s, Value: %s},",
			prefix, strconv.Quote(t.Sensor), renderOp(t.Op), renderValue(t.Value))
	case *ast.ExpressionCondition:
		w.line("%s&beacon.Expression{Prog: beacon.MustExpr(%s)},", prefix, strconv.Quote(t.Source))
	case *ast.TemporalCondition:
		w.line("%s&beacon.Temporal{Sensor: %s, Op: %s, Threshold: %s, Duration: %s, Mode: %s},",
			prefix, strconv.Quote(t.Sensor), renderOp(t.Op),
			strconv.FormatFloat(t.Threshold, 'g', -1, 64),
			renderDuration(t.Duration), renderMode(t.Mode))
	}
}

func (w *renderer) action(a ast.Action) {
	switch t := a.(type) {
	case *ast.SetAction:
		parts := []string{"Key: " + strconv.Quote(t.Key)}
		if t.Expr != nil {
			parts = append(parts, "Expr: beacon.MustExpr("+strconv.Quote(t.Expr.Source)+")")
		} else {
			parts = append(parts, "Literal: "+renderValue(t.Value), "HasLit: true")
		}
		if t.Emit != beacon.EmitAlways {
			parts = append(parts, "Emit: "+renderEmit(t.Emit))
		}
		w.line("&beacon.SetAction{%s},", strings.Join(parts, ", "))
	case *ast.SendMessageAction:
		parts := []string{"Channel: " + strconv.Quote(t.Channel)}
		if t.Expr != nil {
			parts = append(parts, "Expr: beacon.MustExpr("+strconv.Quote(t.Expr.Source)+")")
		} else {
			parts = append(parts, "Message: "+strconv.Quote(t.Message))
		}
		if t.Emit != beacon.EmitAlways {
			parts = append(parts, "Emit: "+renderEmit(t.Emit))
		}
		w.line("&beacon.SendMessageAction{%s},", strings.Join(parts, ", "))
	case *ast.BufferAction:
		parts := []string{"Key: " + strconv.Quote(t.Key)}
		if t.Expr != nil {
			parts = append(parts, "Expr: beacon.MustExpr("+strconv.Quote(t.Expr.Source)+")")
		} else if t.HasValue {
			parts = append(parts, "Literal: "+renderValue(t.Value), "HasLit: true")
		}
		w.line("&beacon.BufferAction{%s},", strings.Join(parts, ", "))
	case *ast.LogAction:
		w.line("&beacon.LogAction{Level: %s, Message: %s},",
			strconv.Quote(t.Level), strconv.Quote(t.Message))
	}
}

func (w *renderer) binding(b ast.InputBinding) {
	parts := []string{"Sensor: " + strconv.Quote(b.Sensor)}
	if b.Required {
		parts = append(parts, "Required: true")
	}
	if b.Strategy != beacon.PropagateUnavailable {
		parts = append(parts, "Strategy: "+renderStrategy(b.Strategy))
	}
	if b.Strategy == beacon.UseDefault {
		parts = append(parts, "Default: "+renderValue(b.Default))
	}
	if b.MaxAge > 0 {
		parts = append(parts, "MaxAge: "+renderDuration(b.MaxAge))
	}
	w.line("{%s},", strings.Join(parts, ", "))
}

// rule renders one compiled rule literal.
func (w *renderer) rule(r *ast.Rule, canonicalInput string) {
	w.line("{")
	w.indent++
	w.line("Name: %s,", strconv.Quote(r.Name))
	if canonicalInput != "" {
		w.line("CanonicalInput: %s,", strconv.Quote(canonicalInput))
	}
	if len(r.Inputs) > 0 {
		w.line("Inputs: []beacon.InputBinding{")
		w.indent++
		for _, b := range r.Inputs {
			w.binding(b)
		}
		w.indent--
		w.line("},")
	}
	w.condition("Condition: ", r.Conditions)
	w.line("Actions: []beacon.Action{")
	w.indent++
	for _, a := range r.Actions {
		w.action(a)
	}
	w.indent--
	w.line("},")
	if len(r.Else) > 0 {
		w.line("Else: []beacon.Action{")
		w.indent++
		for _, a := range r.Else {
			w.action(a)
		}
		w.indent--
		w.line("},")
	}
	w.indent--
	w.line("},")
}

// renderStringSlice renders a slice for a struct field, where nil is the
// natural empty form.
func renderStringSlice(ss []string) string {
	if len(ss) == 0 {
		return "nil"
	}
	return renderStringSliceTyped(ss)
}

// renderStringSliceTyped always renders a typed []string literal, for var
// declarations where a bare nil has no type.
func renderStringSliceTyped(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = strconv.Quote(s)
	}
	return "[]string{" + strings.Join(quoted, ", ") + "}"
}
