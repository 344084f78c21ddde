package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/analysis"
	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/config"
	"github.com/rgehrsitz/pulsar/internal/diag"
)

func TestLoadAndContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	doc := `
sensors:
  - id: input:temperature
    type: number
    unit: celsius
  - id: "input:zone_*"
    type: number
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id   string
		want bool
	}{
		{"input:temperature", true},
		{"temperature", true}, // canonical form matches
		{"input:zone_1", true},
		{"input:zone_north", true},
		{"input:humidity", false},
	}
	for _, tt := range tests {
		if got := cat.Contains(tt.id); got != tt.want {
			t.Errorf("Contains(%q): expected %v, got %v", tt.id, tt.want, got)
		}
	}
}

func TestCheckRulesLevels(t *testing.T) {
	cat, err := FromSensorList([]string{"input:known"})
	if err != nil {
		t.Fatal(err)
	}
	r := &ast.Rule{
		Name: "R",
		Conditions: &ast.GroupCondition{All: []ast.Condition{
			&ast.ComparisonCondition{Sensor: "input:unknown", Op: beacon.OpGT, Value: beacon.Number(1)},
		}},
		Actions: []ast.Action{&ast.SetAction{Key: "output:x", Value: beacon.Number(1), HasValue: true}},
	}
	analysis.Annotate([]*ast.Rule{r})

	if diags := cat.CheckRules([]*ast.Rule{r}, config.LevelStrict); !diags.HasErrors() {
		t.Error("strict: unknown sensor must be an error")
	} else if diags.Errors()[0].Kind != diag.KindCatalog {
		t.Errorf("strict: wrong kind %s", diags.Errors()[0].Kind)
	}

	if diags := cat.CheckRules([]*ast.Rule{r}, config.LevelNormal); diags.HasErrors() || len(diags.Warnings()) != 1 {
		t.Errorf("normal: expected one warning, got %v", diags.All())
	}

	if diags := cat.CheckRules([]*ast.Rule{r}, config.LevelRelaxed); diags.Len() != 0 {
		t.Errorf("relaxed: expected silence, got %v", diags.All())
	}
}

func TestOutputSensorsExempt(t *testing.T) {
	cat, err := FromSensorList([]string{"input:known"})
	if err != nil {
		t.Fatal(err)
	}
	r := &ast.Rule{
		Name: "Chained",
		Conditions: &ast.GroupCondition{All: []ast.Condition{
			&ast.ComparisonCondition{Sensor: "output:from_other_rule", Op: beacon.OpGT, Value: beacon.Number(1)},
		}},
		Actions: []ast.Action{&ast.SetAction{Key: "output:x", Value: beacon.Number(1), HasValue: true}},
	}
	analysis.Annotate([]*ast.Rule{r})

	if diags := cat.CheckRules([]*ast.Rule{r}, config.LevelStrict); diags.Len() != 0 {
		t.Errorf("output sensors are not catalog-checked: %v", diags.All())
	}
}

func TestBadPattern(t *testing.T) {
	if _, err := New([]Entry{{ID: "input:[bad"}}); err == nil {
		t.Error("invalid glob must fail catalog construction")
	}
	if _, err := New([]Entry{{}}); err == nil {
		t.Error("empty id must fail catalog construction")
	}
}
