package beacon

import (
	"context"
	"testing"
	"time"
)

func TestEngineRunCycle(t *testing.T) {
	store := NewMemoryStore()
	store.Set("input:temperature", Number(30), time.Unix(0, 0))

	groups := []*EvalGroup{
		{
			Name:    "g_0",
			Layer:   0,
			Sensors: []string{"input:temperature"},
			Rules: []*Rule{{
				Name:      "Normalize",
				Condition: &Group{All: []Condition{&Comparison{Sensor: "input:temperature", Op: OpGT, Value: Number(20)}}},
				Actions:   []Action{&SetAction{Key: "output:norm", Expr: MustExpr("input:temperature / 100")}},
			}},
		},
		{
			Name:    "g_1",
			Layer:   1,
			Sensors: []string{"input:temperature"},
			Rules: []*Rule{{
				Name:      "Escalate",
				Condition: &Group{All: []Condition{&Comparison{Sensor: "output:norm", Op: OpGT, Value: Number(0.25)}}},
				Actions:   []Action{&SetAction{Key: "output:alert_level", Expr: MustExpr("output:norm * 10")}},
			}},
		},
	}

	engine := NewEngine(groups, store, store, RuntimeConfig{CycleTime: 100 * time.Millisecond, BufferCapacity: 100}, nil)
	if err := engine.RunCycle(context.Background(), time.Unix(100, 0)); err != nil {
		t.Fatal(err)
	}

	r, ok, err := store.Read(context.Background(), "output:alert_level")
	if err != nil || !ok {
		t.Fatalf("expected output:alert_level in store (ok=%v, err=%v)", ok, err)
	}
	if got, _ := r.Value.Num(); got != 3 {
		t.Errorf("expected 3, got %v", r.Value)
	}
}

func TestEngineMissingSensorDoesNotWrite(t *testing.T) {
	store := NewMemoryStore()
	groups := []*EvalGroup{{
		Name:    "g_0",
		Sensors: []string{"input:absent"},
		Rules: []*Rule{{
			Name:      "NeverFires",
			Condition: &Group{All: []Condition{&Comparison{Sensor: "input:absent", Op: OpGT, Value: Number(1)}}},
			Actions:   []Action{&SetAction{Key: "output:x", Literal: Bool(true), HasLit: true}},
		}},
	}}
	engine := NewEngine(groups, store, store, RuntimeConfig{}, nil)
	if err := engine.RunCycle(context.Background(), time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Read(context.Background(), "output:x"); ok {
		t.Error("indeterminate condition must not write outputs")
	}
}

func TestParseScalar(t *testing.T) {
	tests := []struct {
		raw  string
		want Value
	}{
		{"", Null},
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"42", Number(42)},
		{"-3.5", Number(-3.5)},
		{"warm", String("warm")},
	}
	for _, tt := range tests {
		if got := parseScalar(tt.raw); !got.Equal(tt.want) || got.Kind() != tt.want.Kind() {
			t.Errorf("parseScalar(%q): expected %v, got %v", tt.raw, tt.want, got)
		}
	}
}
