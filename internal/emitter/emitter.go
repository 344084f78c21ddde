// Package emitter renders the compiled rule groups into the Beacon source
// artifacts: one evaluation unit per group, a coordinator, a metadata
// table, the embedded configuration, and the program entry point. All
// output is deterministic: identical inputs produce byte-identical files.
package emitter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rgehrsitz/pulsar/internal/analysis"
	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/config"
	"github.com/rgehrsitz/pulsar/internal/plan"
)

const header = "// Code generated by pulsar. DO NOT EDIT.\n\n"

// kernelImport is the module path of the runtime kernel the emitted
// sources link against.
const kernelImport = "github.com/rgehrsitz/pulsar/beacon"

// File is one emitted artifact held in memory until the driver's single
// write sweep.
type File struct {
	Name     string
	Content  []byte
	Label    string
	LayerMin int
	LayerMax int
	Rules    []string // names of the rules the file contains, parse order
}

// Options tunes emission.
type Options struct {
	// Namespace labels the emitted files in the manifest. Default "beacon".
	Namespace string
	// SkipMetadata suppresses the metadata.go artifact.
	SkipMetadata bool
}

// EmitProgram renders every source artifact for the grouped rules and the
// system configuration. The manifest is written separately.
func EmitProgram(groups []*plan.Group, sys *config.System, opts Options) []File {
	if opts.Namespace == "" {
		opts.Namespace = "beacon"
	}

	var files []File
	for _, g := range groups {
		files = append(files, emitGroup(g, opts))
	}
	files = append(files, emitCoordinator(groups, opts))
	if !opts.SkipMetadata {
		files = append(files, emitMetadata(groups, opts))
	}
	files = append(files,
		emitEmbeddedConfig(sys, opts),
		emitMain(opts),
	)
	return files
}

// groupIdent returns the Go identifier stem for a group ("g0" for g_0).
func groupIdent(index int) string {
	return fmt.Sprintf("g%d", index)
}

// GroupName returns a group's published name ("g_0").
func GroupName(index int) string {
	return fmt.Sprintf("g_%d", index)
}

func emitGroup(g *plan.Group, opts Options) File {
	ident := groupIdent(g.Index)
	name := GroupName(g.Index)

	// Required sensors: union of every sensor the group's rules read
	// (condition sensors plus the inputs of action expressions).
	sensorSet := map[string]bool{}
	needsTime := false
	var ruleNames []string
	for _, r := range g.Rules {
		ruleNames = append(ruleNames, r.Name)
		for _, s := range r.ReadSensors {
			sensorSet[s] = true
		}
		if r.Temporal {
			needsTime = true
		}
		for _, b := range r.Inputs {
			if b.MaxAge > 0 {
				needsTime = true
			}
		}
	}
	sensors := make([]string, 0, len(sensorSet))
	for s := range sensorSet {
		sensors = append(sensors, s)
	}
	sort.Strings(sensors)

	w := &renderer{}
	w.sb.WriteString(header)
	w.line("package main")
	w.line("")
	if needsTime {
		w.line("import (")
		w.indent++
		w.line("%q", "time")
		w.line("")
		w.line("%q", kernelImport)
		w.indent--
		w.line(")")
	} else {
		w.line("import %q", kernelImport)
	}
	w.line("")
	w.line("// %s evaluates the layer %d rules: %s.", name, g.Layer, strings.Join(ruleNames, ", "))
	w.line("var %sSensors = %s", ident, renderStringSliceTyped(sensors))
	w.line("")
	w.line("var %sRules = []*beacon.Rule{", ident)
	w.indent++
	for _, r := range g.Rules {
		w.rule(r, analysis.CanonicalInput(r))
	}
	w.indent--
	w.line("}")
	w.line("")
	w.line("func %sEvaluate(c *beacon.Cycle) {", ident)
	w.indent++
	w.line("beacon.EvaluateRules(%sRules, c)", ident)
	w.indent--
	w.line("}")

	return File{
		Name:     name + ".go",
		Content:  []byte(w.sb.String()),
		Label:    opts.Namespace + "/" + name,
		LayerMin: g.Layer,
		LayerMax: g.Layer,
		Rules:    ruleNames,
	}
}

func emitCoordinator(groups []*plan.Group, opts Options) File {
	w := &renderer{}
	w.sb.WriteString(header)
	w.line("package main")
	w.line("")
	w.line("import %q", kernelImport)
	w.line("")
	w.line("// beaconGroups drives evaluation in ascending layer order; outputs of")
	w.line("// one group are visible to the groups after it in the same cycle.")
	w.line("var beaconGroups = []*beacon.EvalGroup{")
	w.indent++
	for _, g := range groups {
		w.line("{Name: %s, Layer: %d, Sensors: %sSensors, Rules: %sRules},",
			strconv.Quote(GroupName(g.Index)), g.Layer, groupIdent(g.Index), groupIdent(g.Index))
	}
	w.indent--
	w.line("}")

	layerMin, layerMax := 0, 0
	if len(groups) > 0 {
		layerMin = groups[0].Layer
		layerMax = groups[len(groups)-1].Layer
	}
	return File{
		Name:     "coordinator.go",
		Content:  []byte(w.sb.String()),
		Label:    opts.Namespace + "/coordinator",
		LayerMin: layerMin,
		LayerMax: layerMax,
	}
}

func emitMetadata(groups []*plan.Group, opts Options) File {
	var rules []*ast.Rule
	for _, g := range groups {
		rules = append(rules, g.Rules...)
	}

	w := &renderer{}
	w.sb.WriteString(header)
	w.line("package main")
	w.line("")
	w.line("// ruleMetadata describes one compiled rule for introspection.")
	w.line("type ruleMetadata struct {")
	w.indent++
	w.line("Name          string")
	w.line("SourceFile    string")
	w.line("SourceLine    int")
	w.line("Layer         int")
	w.line("Complexity    int")
	w.line("Temporal      bool")
	w.line("Dependencies  []string")
	w.line("InputSensors  []string")
	w.line("OutputSensors []string")
	w.indent--
	w.line("}")
	w.line("")
	w.line("var ruleIndex = []ruleMetadata{")
	w.indent++
	for _, r := range rules {
		w.line("{")
		w.indent++
		w.line("Name:          %s,", strconv.Quote(r.Name))
		w.line("SourceFile:    %s,", strconv.Quote(r.SourceFile))
		w.line("SourceLine:    %d,", r.SourceLine)
		w.line("Layer:         %d,", r.Layer)
		w.line("Complexity:    %d,", r.Complexity)
		w.line("Temporal:      %t,", r.Temporal)
		w.line("Dependencies:  %s,", renderStringSlice(r.Dependencies))
		w.line("InputSensors:  %s,", renderStringSlice(r.InputSensors))
		w.line("OutputSensors: %s,", renderStringSlice(r.OutputSensors))
		w.indent--
		w.line("},")
	}
	w.indent--
	w.line("}")

	return File{
		Name:    "metadata.go",
		Content: []byte(w.sb.String()),
		Label:   opts.Namespace + "/metadata",
	}
}

func emitEmbeddedConfig(sys *config.System, opts Options) File {
	w := &renderer{}
	w.sb.WriteString(header)
	w.line("package main")
	w.line("")
	w.line("import (")
	w.indent++
	w.line("%q", "time")
	w.line("")
	w.line("%q", kernelImport)
	w.indent--
	w.line(")")
	w.line("")
	w.line("// embeddedConfig is the system configuration frozen at compile time;")
	w.line("// the Beacon needs no external config file.")
	w.line("var embeddedConfig = beacon.RuntimeConfig{")
	w.indent++
	w.line("CycleTime:      %s,", renderDuration(time.Duration(sys.CycleTimeMS)*time.Millisecond))
	w.line("Endpoints:      %s,", renderStringSlice(sys.Redis.Endpoints))
	w.line("PoolSize:       %d,", sys.Redis.PoolSize)
	w.line("RetryCount:     %d,", sys.Redis.RetryCount)
	w.line("BufferCapacity: %d,", sys.BufferCapacity)
	w.line("LogLevel:       %s,", strconv.Quote(sys.LogLevel))
	w.indent--
	w.line("}")

	return File{
		Name:    "config_embedded.go",
		Content: []byte(w.sb.String()),
		Label:   opts.Namespace + "/config",
	}
}

func emitMain(opts Options) File {
	w := &renderer{}
	w.sb.WriteString(header)
	w.line("package main")
	w.line("")
	w.line("import (")
	w.indent++
	w.line("%q", "context")
	w.line("%q", "fmt")
	w.line("%q", "os")
	w.line("%q", "os/signal")
	w.line("%q", "syscall")
	w.line("")
	w.line("%q", kernelImport)
	w.indent--
	w.line(")")
	w.line("")
	w.line("func main() {")
	w.indent++
	w.line("log, err := beacon.NewLogger(embeddedConfig.LogLevel)")
	w.line("if err != nil {")
	w.indent++
	w.line("fmt.Fprintf(os.Stderr, \"beacon: logger: %%v\\n\", err)")
	w.line("os.Exit(1)")
	w.indent--
	w.line("}")
	w.line("defer log.Sync()")
	w.line("")
	w.line("store := beacon.NewRedisStore(beacon.RedisOptions{")
	w.indent++
	w.line("Endpoints:  embeddedConfig.Endpoints,")
	w.line("PoolSize:   embeddedConfig.PoolSize,")
	w.line("RetryCount: embeddedConfig.RetryCount,")
	w.indent--
	w.line("})")
	w.line("defer store.Close()")
	w.line("")
	w.line("engine := beacon.NewEngine(beaconGroups, store, store, embeddedConfig, log)")
	w.line("")
	w.line("ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)")
	w.line("defer stop()")
	w.line("_ = engine.Run(ctx)")
	w.indent--
	w.line("}")

	return File{
		Name:    "main.go",
		Content: []byte(w.sb.String()),
		Label:   opts.Namespace + "/main",
	}
}
