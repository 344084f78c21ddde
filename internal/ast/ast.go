// Package ast defines the in-memory rule representation produced by the
// parser and annotated by the analysis stages. Condition and action
// variants are tagged sum types; evaluation semantics live in the beacon
// kernel, not here.
package ast

import (
	"time"

	"github.com/rgehrsitz/pulsar/beacon"
)

// Rule is one named rule with its condition tree, actions, optional else
// branch, optional input bindings, and provenance. The analysis fields are
// attached by the analyzer and dependency stages and frozen before
// emission.
type Rule struct {
	Name        string
	Description string
	Inputs      []InputBinding
	Conditions  Condition
	Actions     []Action
	Else        []Action

	// Provenance.
	SourceFile string
	SourceLine int // 1-based line of the name: token

	// Analysis-attached fields.
	ReadSensors   []string // every sensor the rule reads, canonical, sorted
	InputSensors  []string // input-classified subset of ReadSensors
	OutputSensors []string // set_value keys, sorted
	Temporal      bool
	Complexity    int
	Layer         int
	Depth         int
	Dependencies  []string // producing rule names, sorted
}

// InputBinding declares a rule's requirement on one sensor and the fallback
// applied when the read comes back absent.
type InputBinding struct {
	Sensor   string
	Required bool
	Strategy beacon.FallbackStrategy
	Default  beacon.Value
	MaxAge   time.Duration
}

// Condition is the sum type of condition-tree variants.
type Condition interface {
	condNode()
}

// GroupCondition combines children: the all list and-reduces, the any list
// or-reduces. At least one list is non-empty.
type GroupCondition struct {
	All []Condition
	Any []Condition
}

// ComparisonCondition tests a sensor against a literal.
type ComparisonCondition struct {
	Sensor string
	Op     beacon.CompareOp
	Value  beacon.Value
}

// ExpressionCondition holds an expression compiled at parse time.
type ExpressionCondition struct {
	Source string
	Prog   *beacon.Program
}

// TemporalCondition is a threshold sustained over a window.
type TemporalCondition struct {
	Sensor    string
	Op        beacon.CompareOp
	Threshold float64
	Duration  time.Duration
	Mode      beacon.TemporalMode
}

func (*GroupCondition) condNode()      {}
func (*ComparisonCondition) condNode() {}
func (*ExpressionCondition) condNode() {}
func (*TemporalCondition) condNode()   {}

// Action is the sum type of action variants.
type Action interface {
	actNode()
}

// SetAction writes a key, from either a literal or an expression.
type SetAction struct {
	Key      string
	Value    beacon.Value
	HasValue bool
	Expr     *beacon.Program
	Emit     beacon.EmitMode
}

// SendMessageAction publishes a static or computed message on a channel.
type SendMessageAction struct {
	Channel string
	Message string
	Expr    *beacon.Program
	Emit    beacon.EmitMode
}

// BufferAction appends a value into a named history buffer.
type BufferAction struct {
	Key      string
	Value    beacon.Value
	HasValue bool
	Expr     *beacon.Program
}

// LogAction emits a log record.
type LogAction struct {
	Level   string
	Message string
}

func (*SetAction) actNode()         {}
func (*SendMessageAction) actNode() {}
func (*BufferAction) actNode()      {}
func (*LogAction) actNode()         {}

// WalkConditions visits every node of a condition tree depth-first,
// children of a group in declaration order (all before any).
func WalkConditions(c Condition, visit func(Condition)) {
	if c == nil {
		return
	}
	visit(c)
	if g, ok := c.(*GroupCondition); ok {
		for _, child := range g.All {
			WalkConditions(child, visit)
		}
		for _, child := range g.Any {
			WalkConditions(child, visit)
		}
	}
}

// CountLeaves returns the number of leaf conditions in a tree.
func CountLeaves(c Condition) int {
	n := 0
	WalkConditions(c, func(node Condition) {
		if _, ok := node.(*GroupCondition); !ok {
			n++
		}
	})
	return n
}

// ConditionDepth returns the maximum nesting depth of a tree; a single leaf
// has depth 1.
func ConditionDepth(c Condition) int {
	switch t := c.(type) {
	case *GroupCondition:
		max := 0
		for _, child := range t.All {
			if d := ConditionDepth(child); d > max {
				max = d
			}
		}
		for _, child := range t.Any {
			if d := ConditionDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	case nil:
		return 0
	default:
		return 1
	}
}
