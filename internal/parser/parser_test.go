package parser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/ast"
)

const simpleDoc = `
rules:
  - name: HighTemp
    description: Alert on high temperature
    conditions:
      all:
        - condition:
            type: comparison
            sensor: input:temperature
            operator: ">"
            value: 30
    actions:
      - set_value:
          key: output:alert
          value: true
`

func TestParseSimpleRule(t *testing.T) {
	rules, diags := Parse([]byte(simpleDoc), "rules.yaml")
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.Errors())
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	r := rules[0]
	if r.Name != "HighTemp" {
		t.Errorf("expected name HighTemp, got %q", r.Name)
	}
	if r.SourceFile != "rules.yaml" || r.SourceLine != 3 {
		t.Errorf("expected provenance rules.yaml:3, got %s:%d", r.SourceFile, r.SourceLine)
	}

	group, ok := r.Conditions.(*ast.GroupCondition)
	if !ok || len(group.All) != 1 {
		t.Fatalf("expected a group with one all condition, got %#v", r.Conditions)
	}
	cmp, ok := group.All[0].(*ast.ComparisonCondition)
	if !ok {
		t.Fatalf("expected a comparison, got %#v", group.All[0])
	}
	if cmp.Sensor != "input:temperature" || cmp.Op != beacon.OpGT {
		t.Errorf("unexpected comparison %+v", cmp)
	}
	if n, _ := cmp.Value.Num(); n != 30 {
		t.Errorf("expected literal 30, got %v", cmp.Value)
	}

	set, ok := r.Actions[0].(*ast.SetAction)
	if !ok || set.Key != "output:alert" || !set.HasValue {
		t.Fatalf("unexpected action %#v", r.Actions[0])
	}
}

func TestParseOperatorAliases(t *testing.T) {
	aliases := map[string]beacon.CompareOp{
		"greater_than": beacon.OpGT,
		"less_than":    beacon.OpLT,
		"gte":          beacon.OpGE,
		"lte":          beacon.OpLE,
		"eq":           beacon.OpEQ,
		"not_equal_to": beacon.OpNE,
		">=":           beacon.OpGE,
	}
	for lexeme, want := range aliases {
		op, ok := ParseOp(lexeme)
		if !ok || op != want {
			t.Errorf("alias %q: expected %s, got %s (ok=%v)", lexeme, want, op, ok)
		}
	}
	if _, ok := ParseOp("~="); ok {
		t.Error("unknown operator must not resolve")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		label string
		doc   string
	}{
		{"missing rules root", `foo: bar`},
		{"missing name", `
rules:
  - conditions:
      all:
        - condition: {type: comparison, sensor: a, operator: ">", value: 1}
    actions:
      - set_value: {key: x, value: 1}
`},
		{"missing conditions", `
rules:
  - name: NoCond
    actions:
      - set_value: {key: x, value: 1}
`},
		{"missing actions", `
rules:
  - name: NoActions
    conditions:
      all:
        - condition: {type: comparison, sensor: a, operator: ">", value: 1}
`},
		{"empty condition lists", `
rules:
  - name: Empty
    conditions: {}
    actions:
      - set_value: {key: x, value: 1}
`},
		{"unknown operator", `
rules:
  - name: BadOp
    conditions:
      all:
        - condition: {type: comparison, sensor: a, operator: "~=", value: 1}
    actions:
      - set_value: {key: x, value: 1}
`},
		{"unknown condition type", `
rules:
  - name: BadType
    conditions:
      all:
        - condition: {type: wavelet, sensor: a}
    actions:
      - set_value: {key: x, value: 1}
`},
		{"zero duration", `
rules:
  - name: ZeroDur
    conditions:
      all:
        - condition: {type: threshold_over_time, sensor: a, operator: ">", threshold: 1, duration: 0}
    actions:
      - set_value: {key: x, value: 1}
`},
		{"non-numeric threshold promotion", `
rules:
  - name: BadThreshold
    conditions:
      all:
        - condition: {type: threshold_over_time, sensor: a, operator: ">", value: warm, duration: 1000}
    actions:
      - set_value: {key: x, value: 1}
`},
		{"set_value without value", `
rules:
  - name: NoValue
    conditions:
      all:
        - condition: {type: comparison, sensor: a, operator: ">", value: 1}
    actions:
      - set_value: {key: x}
`},
		{"two action kinds in one entry", `
rules:
  - name: TwoKinds
    conditions:
      all:
        - condition: {type: comparison, sensor: a, operator: ">", value: 1}
    actions:
      - set_value: {key: x, value: 1}
        send_message: {channel: c, message: m}
`},
		{"bad expression", `
rules:
  - name: BadExpr
    conditions:
      all:
        - condition: {type: expression, expression: "a +"}
    actions:
      - set_value: {key: x, value: 1}
`},
		{"malformed yaml", "rules:\n  - name: [unclosed"},
	}

	for _, tt := range tests {
		rules, diags := Parse([]byte(tt.doc), "bad.yaml")
		if !diags.HasErrors() {
			t.Errorf("%s: expected a parse error", tt.label)
		}
		if rules != nil {
			t.Errorf("%s: errored parse must not return rules", tt.label)
		}
	}
}

func TestParseDuplicateKeys(t *testing.T) {
	doc := `
rules:
  - name: Dup
    name: DupAgain
    conditions:
      all:
        - condition: {type: comparison, sensor: a, operator: ">", value: 1}
    actions:
      - set_value: {key: x, value: 1}
`
	_, diags := Parse([]byte(doc), "dup.yaml")
	if !diags.HasErrors() {
		t.Fatal("duplicate keys must be an error, not a silent overwrite")
	}
}

func TestParseThresholdPromotion(t *testing.T) {
	doc := `
rules:
  - name: Promoted
    conditions:
      all:
        - condition:
            type: threshold_over_time
            sensor: input:temp
            operator: ">"
            value: 75
            duration: 10000
            mode: extended
    actions:
      - set_value: {key: output:sustained, value: true}
`
	rules, diags := Parse([]byte(doc), "t.yaml")
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.Errors())
	}
	group := rules[0].Conditions.(*ast.GroupCondition)
	temporal, ok := group.All[0].(*ast.TemporalCondition)
	if !ok {
		t.Fatalf("expected temporal condition, got %#v", group.All[0])
	}
	if temporal.Threshold != 75 || temporal.Duration != 10*time.Second || temporal.Mode != beacon.Extended {
		t.Errorf("unexpected temporal condition %+v", temporal)
	}
}

func TestParseElseAndEmitModes(t *testing.T) {
	doc := `
rules:
  - name: WithElse
    conditions:
      any:
        - condition: {type: comparison, sensor: input:a, operator: ">", value: 1}
    actions:
      - set_value: {key: output:on, value: true}
        emit: on_enter
      - send_message: {channel: alerts, message: "entered"}
        emit: on_change
    else:
      actions:
        - set_value: {key: output:on, value: false}
`
	rules, diags := Parse([]byte(doc), "else.yaml")
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.Errors())
	}
	r := rules[0]
	if len(r.Else) != 1 {
		t.Fatalf("expected one else action, got %d", len(r.Else))
	}
	if set := r.Actions[0].(*ast.SetAction); set.Emit != beacon.EmitOnEnter {
		t.Errorf("expected on_enter, got %v", set.Emit)
	}
	if msg := r.Actions[1].(*ast.SendMessageAction); msg.Emit != beacon.EmitOnChange {
		t.Errorf("expected on_change, got %v", msg.Emit)
	}
}

func TestParseInputsAndFallbacks(t *testing.T) {
	doc := `
rules:
  - name: Bound
    inputs:
      - id: input:pressure
        required: false
        fallback:
          strategy: use_default
          default_value: 101.3
      - id: input:flow
        fallback:
          strategy: use_last_known
          max_age: 5s
      - id: input:aux
        fallback:
          strategy: skip_rule
    conditions:
      all:
        - condition: {type: comparison, sensor: input:pressure, operator: ">", value: 90}
    actions:
      - set_value: {key: output:ok, value: true}
`
	rules, diags := Parse([]byte(doc), "inputs.yaml")
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.Errors())
	}
	in := rules[0].Inputs
	if len(in) != 3 {
		t.Fatalf("expected 3 bindings, got %d", len(in))
	}
	if in[0].Required || in[0].Strategy != beacon.UseDefault {
		t.Errorf("unexpected first binding %+v", in[0])
	}
	if n, _ := in[0].Default.Num(); n != 101.3 {
		t.Errorf("expected default 101.3, got %v", in[0].Default)
	}
	if !in[1].Required || in[1].Strategy != beacon.UseLastKnown || in[1].MaxAge != 5*time.Second {
		t.Errorf("unexpected second binding %+v", in[1])
	}
	if in[2].Strategy != beacon.SkipRule {
		t.Errorf("unexpected third binding %+v", in[2])
	}
}

func TestParseDeeplyNested(t *testing.T) {
	// Build a group chain deeper than the bound.
	head := "rules:\n  - name: Deep\n    conditions:\n"
	indent := "      "
	doc := head
	depth := MaxNestingDepth + 2
	for i := 0; i < depth; i++ {
		doc += indent + "all:\n"
		doc += indent + "  - condition:\n"
		doc += indent + "      type: group\n"
		doc += indent + "      conditions:\n"
		indent += "        "
	}
	doc += indent + "all:\n"
	doc += indent + "  - condition: {type: comparison, sensor: a, operator: \">\", value: 1}\n"
	doc += "    actions:\n      - set_value: {key: x, value: 1}\n"

	_, diags := Parse([]byte(doc), "deep.yaml")
	if !diags.HasErrors() {
		t.Fatal("expected a nesting depth error")
	}
}

func TestParseDirLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	write := func(name, ruleName string) {
		doc := `
rules:
  - name: ` + ruleName + `
    conditions:
      all:
        - condition: {type: comparison, sensor: input:x, operator: ">", value: 1}
    actions:
      - set_value: {key: output:` + ruleName + `, value: 1}
`
		if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.yaml", "FromB")
	write("a.yaml", "FromA")
	write("notes.txt", "Ignored") // not a rules file

	rules, diags := ParseDir(dir)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.Errors())
	}
	if len(rules) != 2 || rules[0].Name != "FromA" || rules[1].Name != "FromB" {
		got := make([]string, len(rules))
		for i, r := range rules {
			got[i] = r.Name
		}
		t.Errorf("expected [FromA FromB], got %v", got)
	}
}

func TestParseDirFailsOnAnyFile(t *testing.T) {
	dir := t.TempDir()
	good := `
rules:
  - name: Good
    conditions:
      all:
        - condition: {type: comparison, sensor: a, operator: ">", value: 1}
    actions:
      - set_value: {key: x, value: 1}
`
	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("rules: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	rules, diags := ParseDir(dir)
	if !diags.HasErrors() || rules != nil {
		t.Error("a parse error in one file must fail the whole set")
	}
}
