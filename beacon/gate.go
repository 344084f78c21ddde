package beacon

import "sync"

// EmitMode controls when an action's write or publish actually goes out.
type EmitMode int

const (
	// EmitAlways performs the action on every cycle the rule fires.
	EmitAlways EmitMode = iota
	// EmitOnChange performs the action only when the value differs from the
	// last value emitted for the same key.
	EmitOnChange
	// EmitOnEnter performs the action only on the cycle where the rule's
	// condition transitions into True from False or Indeterminate.
	EmitOnEnter
)

func (m EmitMode) String() string {
	switch m {
	case EmitOnChange:
		return "on_change"
	case EmitOnEnter:
		return "on_enter"
	default:
		return "always"
	}
}

// EmitGate keeps the per-key state behind on_change and on_enter emit
// modes: the last emitted value and the condition latch. State is scoped to
// the process and reset only at process start.
//
// Transition must be called once per cycle for every gated key, whatever
// the condition outcome — the on_enter edge exists only if the latch also
// sees the False/Indeterminate cycles in between.
type EmitGate struct {
	mu       sync.Mutex
	lastEmit map[string]Value
	latched  map[string]bool
	entered  map[string]bool
}

// NewEmitGate creates an empty gate.
func NewEmitGate() *EmitGate {
	return &EmitGate{
		lastEmit: make(map[string]Value),
		latched:  make(map[string]bool),
		entered:  make(map[string]bool),
	}
}

// Transition records this cycle's condition outcome for key and computes
// whether the key just entered True.
func (g *EmitGate) Transition(key string, cond Tri) {
	g.mu.Lock()
	g.entered[key] = cond == True && !g.latched[key]
	g.latched[key] = cond == True
	g.mu.Unlock()
}

// ShouldEmit decides whether the action addressed at key may perform its
// write this cycle with the given value, and records the value when it may.
func (g *EmitGate) ShouldEmit(key string, mode EmitMode, value Value) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch mode {
	case EmitOnEnter:
		if !g.entered[key] {
			return false
		}
	case EmitOnChange:
		if prev, ok := g.lastEmit[key]; ok && prev.Equal(value) {
			return false
		}
	}
	g.lastEmit[key] = value
	return true
}
