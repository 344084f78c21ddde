package beacon

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cycle carries the per-cycle evaluation state handed to every group: the
// input snapshot, the process-wide trackers, gates, and caches, and the
// outbound publisher.
type Cycle struct {
	Now      time.Time
	Ctx      context.Context
	Snap     *Snapshot
	Trackers *TrackerSet
	Buffers  *BufferSet
	Gate     *EmitGate
	Cache    *LastKnownCache
	Pub      Publisher
	Log      *zap.Logger
}

// Condition is a node of a rule's condition tree. Evaluation never panics
// on missing sensors; absence surfaces as Indeterminate.
type Condition interface {
	Eval(c *Cycle) Tri
}

// Group is the all/any condition combinator. The all children and-reduce,
// the any children or-reduce, and the two sides combine with and.
type Group struct {
	All []Condition
	Any []Condition
}

func (g *Group) Eval(c *Cycle) Tri {
	result := True
	for _, child := range g.All {
		result = result.And(child.Eval(c))
		if result == False {
			return False
		}
	}
	if len(g.Any) > 0 {
		any := False
		for _, child := range g.Any {
			any = any.Or(child.Eval(c))
			if any == True {
				break
			}
		}
		result = result.And(any)
	}
	return result
}

// Comparison tests one sensor against a literal.
type Comparison struct {
	Sensor string
	Op     CompareOp
	Value  Value
}

func (cmp *Comparison) Eval(c *Cycle) Tri {
	v, ok := c.Snap.Lookup(cmp.Sensor)
	if !ok {
		return Indeterminate
	}
	return Compare(v, cmp.Op, cmp.Value)
}

// Expression evaluates a parsed expression program in boolean position.
type Expression struct {
	Prog *Program
}

func (e *Expression) Eval(c *Cycle) Tri {
	return e.Prog.EvalTri(c.Snap)
}

// Temporal is a threshold-over-time condition backed by a window tracker.
// Each evaluation first feeds the current sample into the tracker, then
// decides the window.
type Temporal struct {
	Sensor    string
	Op        CompareOp
	Threshold float64
	Duration  time.Duration
	Mode      TemporalMode
}

func (t *Temporal) Eval(c *Cycle) Tri {
	key := TrackerKey{Sensor: t.Sensor, Threshold: t.Threshold, Op: t.Op, Duration: t.Duration}
	tracker := c.Trackers.Tracker(key, t.Mode)
	if v, ok := c.Snap.Lookup(t.Sensor); ok {
		tracker.Observe(v, c.Now)
	}
	return tracker.Evaluate(c.Now)
}

// Action is one side effect a firing rule performs.
type Action interface {
	Perform(r *Rule, cond Tri, c *Cycle)
}

// Magic set_value literals recognized by the emitter and the runtime.
const (
	// LiteralNow emits an ISO-8601 UTC timestamp.
	LiteralNow = "now()"
	// LiteralInput emits the rule's canonical input value.
	LiteralInput = "$input"
)

// SetAction writes a key into the cycle's outputs.
type SetAction struct {
	Key     string
	Literal Value
	HasLit  bool
	Expr    *Program
	Emit    EmitMode
}

func (a *SetAction) Perform(r *Rule, cond Tri, c *Cycle) {
	v := a.resolve(r, c)
	if !c.Gate.ShouldEmit(a.Key, a.Emit, v) {
		return
	}
	c.Snap.WriteOutput(a.Key, v)
}

func (a *SetAction) resolve(r *Rule, c *Cycle) Value {
	if a.Expr != nil {
		// A missing sensor inside a set expression yields a null write.
		return a.Expr.Eval(c.Snap)
	}
	if a.HasLit && a.Literal.Kind() == KindString {
		switch a.Literal.Str() {
		case LiteralNow:
			return String(c.Now.UTC().Format(time.RFC3339))
		case LiteralInput:
			if r.CanonicalInput != "" {
				v, _ := c.Snap.Lookup(r.CanonicalInput)
				return v
			}
			return Null
		}
	}
	return a.Literal
}

// SendMessageAction publishes on a channel.
type SendMessageAction struct {
	Channel string
	Message string
	Expr    *Program
	Emit    EmitMode
}

func (a *SendMessageAction) Perform(r *Rule, cond Tri, c *Cycle) {
	msg := a.Message
	if a.Expr != nil {
		msg = a.Expr.Eval(c.Snap).Str()
	}
	if !c.Gate.ShouldEmit(r.Name+"|msg:"+a.Channel, a.Emit, String(msg)) {
		return
	}
	if c.Pub == nil {
		return
	}
	if err := a.publish(c, msg); err != nil && c.Log != nil {
		c.Log.Warn("publish failed", zap.String("channel", a.Channel), zap.Error(err))
	}
}

func (a *SendMessageAction) publish(c *Cycle, msg string) error {
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return c.Pub.Publish(ctx, a.Channel, msg)
}

// BufferAction appends a timestamped value into a named history buffer.
type BufferAction struct {
	Key     string
	Literal Value
	HasLit  bool
	Expr    *Program
}

func (a *BufferAction) Perform(r *Rule, cond Tri, c *Cycle) {
	v := a.Literal
	if a.Expr != nil {
		v = a.Expr.Eval(c.Snap)
	} else if !a.HasLit && r.CanonicalInput != "" {
		v, _ = c.Snap.Lookup(r.CanonicalInput)
	}
	c.Buffers.Buffer(a.Key).Append(v, c.Now)
}

// LogAction emits a structured log record.
type LogAction struct {
	Level   string
	Message string
}

func (a *LogAction) Perform(r *Rule, cond Tri, c *Cycle) {
	if c.Log == nil {
		return
	}
	fields := []zap.Field{zap.String("rule", r.Name)}
	switch a.Level {
	case "debug":
		c.Log.Debug(a.Message, fields...)
	case "warn", "warning":
		c.Log.Warn(a.Message, fields...)
	case "error":
		c.Log.Error(a.Message, fields...)
	default:
		c.Log.Info(a.Message, fields...)
	}
}

// Rule is the runtime form of one compiled rule.
type Rule struct {
	Name           string
	Inputs         []InputBinding
	Condition      Condition
	Actions        []Action
	Else           []Action
	CanonicalInput string
}

// EvaluateRules runs the rules of one group in emission order against the
// cycle. A rule whose condition is True runs its primary actions, False
// runs the else branch, Indeterminate runs neither.
func EvaluateRules(rules []*Rule, c *Cycle) {
	for _, r := range rules {
		evaluateRule(r, c)
	}
}

func evaluateRule(r *Rule, c *Cycle) {
	for _, b := range r.Inputs {
		v, ok := c.Snap.Lookup(b.Sensor)
		if ok {
			c.Cache.Remember(b.Sensor, v, c.Now)
			continue
		}
		resolved, skip := b.Resolve(c.Cache, c.Now)
		if skip {
			return
		}
		if !resolved.IsNull() {
			c.Snap.SetInput(b.Sensor, resolved)
		}
	}

	cond := r.Condition.Eval(c)

	// Drive emit-mode latches for every gated key, whatever the outcome:
	// the on_enter edge only exists if the gate sees the non-True cycles.
	for _, a := range r.Actions {
		switch t := a.(type) {
		case *SetAction:
			c.Gate.Transition(t.Key, cond)
		case *SendMessageAction:
			c.Gate.Transition(r.Name+"|msg:"+t.Channel, cond)
		}
	}

	switch cond {
	case True:
		for _, a := range r.Actions {
			a.Perform(r, cond, c)
		}
	case False:
		for _, a := range r.Else {
			a.Perform(r, cond, c)
		}
	}
}
