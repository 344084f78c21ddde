package ast

import (
	"testing"

	"github.com/rgehrsitz/pulsar/beacon"
)

func leaf(sensor string) Condition {
	return &ComparisonCondition{Sensor: sensor, Op: beacon.OpGT, Value: beacon.Number(0)}
}

func TestWalkConditionsOrder(t *testing.T) {
	tree := &GroupCondition{
		All: []Condition{leaf("a"), &GroupCondition{Any: []Condition{leaf("b"), leaf("c")}}},
		Any: []Condition{leaf("d")},
	}
	var visited []string
	WalkConditions(tree, func(c Condition) {
		if cmp, ok := c.(*ComparisonCondition); ok {
			visited = append(visited, cmp.Sensor)
		}
	})
	want := []string{"a", "b", "c", "d"}
	if len(visited) != len(want) {
		t.Fatalf("visited %v", visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, visited)
		}
	}
}

func TestCountLeaves(t *testing.T) {
	tree := &GroupCondition{
		All: []Condition{leaf("a"), &GroupCondition{Any: []Condition{leaf("b"), leaf("c")}}},
	}
	if n := CountLeaves(tree); n != 3 {
		t.Errorf("expected 3 leaves, got %d", n)
	}
	if n := CountLeaves(leaf("x")); n != 1 {
		t.Errorf("single leaf counts as 1, got %d", n)
	}
}

func TestConditionDepth(t *testing.T) {
	if d := ConditionDepth(leaf("x")); d != 1 {
		t.Errorf("leaf depth: %d", d)
	}
	nested := &GroupCondition{All: []Condition{&GroupCondition{Any: []Condition{leaf("a")}}}}
	if d := ConditionDepth(nested); d != 3 {
		t.Errorf("nested depth: %d", d)
	}
	if d := ConditionDepth(nil); d != 0 {
		t.Errorf("nil depth: %d", d)
	}
}
