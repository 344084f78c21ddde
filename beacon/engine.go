package beacon

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// RuntimeConfig is the effective system configuration the compiler embeds
// into the emitted program, so a Beacon needs no external config file.
type RuntimeConfig struct {
	CycleTime      time.Duration
	Endpoints      []string
	PoolSize       int
	RetryCount     int
	BufferCapacity int
	LogLevel       string
}

// EvalGroup is one emitted evaluation unit: the rules of a single layer
// slice plus the sensors they read at cycle start.
type EvalGroup struct {
	Name    string
	Layer   int
	Sensors []string
	Rules   []*Rule
}

// Evaluate runs the group's rules against the cycle in emission order.
func (g *EvalGroup) Evaluate(c *Cycle) {
	EvaluateRules(g.Rules, c)
}

// Engine is the cyclic coordinator: every cycle it captures a snapshot of
// the groups' input sensors, drives the groups in ascending layer order,
// and flushes the outputs back to the store.
type Engine struct {
	groups   []*EvalGroup
	store    Store
	pub      Publisher
	cfg      RuntimeConfig
	log      *zap.Logger
	trackers *TrackerSet
	buffers  *BufferSet
	gate     *EmitGate
	cache    *LastKnownCache
	sensors  []string
}

// NewEngine wires the coordinator. Groups must already be in ascending
// layer order (the compiler emits them that way).
func NewEngine(groups []*EvalGroup, store Store, pub Publisher, cfg RuntimeConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	seen := map[string]bool{}
	var sensors []string
	for _, g := range groups {
		for _, s := range g.Sensors {
			key := CanonicalSensor(s)
			if !seen[key] {
				seen[key] = true
				sensors = append(sensors, key)
			}
		}
	}
	sort.Strings(sensors)
	return &Engine{
		groups:   groups,
		store:    store,
		pub:      pub,
		cfg:      cfg,
		log:      log,
		trackers: NewTrackerSet(cfg.BufferCapacity),
		buffers:  NewBufferSet(cfg.BufferCapacity),
		gate:     NewEmitGate(),
		cache:    NewLastKnownCache(),
		sensors:  sensors,
	}
}

// RunCycle executes one full pass: snapshot, groups in layer order, flush.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) error {
	readings, err := e.store.ReadAll(ctx, e.sensors)
	if err != nil {
		return err
	}
	snap := NewSnapshot(readings, e.buffers)
	cycle := &Cycle{
		Now:      now,
		Ctx:      ctx,
		Snap:     snap,
		Trackers: e.trackers,
		Buffers:  e.buffers,
		Gate:     e.gate,
		Cache:    e.cache,
		Pub:      e.pub,
		Log:      e.log,
	}

	for _, g := range e.groups {
		g.Evaluate(cycle)
	}

	for _, key := range snap.Outputs() {
		v, _ := snap.Output(key)
		if err := e.store.Write(ctx, key, v, now); err != nil {
			e.log.Warn("output write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Run drives cycles at the configured period until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	period := e.cfg.CycleTime
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	e.log.Info("beacon started",
		zap.Duration("cycle", period),
		zap.Int("groups", len(e.groups)),
		zap.Int("sensors", len(e.sensors)))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("beacon stopped")
			return ctx.Err()
		case now := <-ticker.C:
			if err := e.RunCycle(ctx, now); err != nil {
				e.log.Error("cycle failed", zap.Error(err))
			}
		}
	}
}

// NewLogger builds the kernel's zap logger at the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
