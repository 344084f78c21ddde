// Package pipeline drives a compilation end to end: parse, validate,
// analyze, graph, layer, group, emit, manifest. The driver owns all writes
// to the output directory; artifacts are rendered in memory and flushed in
// a single sweep, so a failing pipeline writes no artifacts; only the
// build-log record, when enabled, is appended.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/analysis"
	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/buildlog"
	"github.com/rgehrsitz/pulsar/internal/catalog"
	"github.com/rgehrsitz/pulsar/internal/config"
	"github.com/rgehrsitz/pulsar/internal/diag"
	"github.com/rgehrsitz/pulsar/internal/emitter"
	"github.com/rgehrsitz/pulsar/internal/graph"
	"github.com/rgehrsitz/pulsar/internal/manifest"
	"github.com/rgehrsitz/pulsar/internal/parser"
	"github.com/rgehrsitz/pulsar/internal/plan"
	"github.com/rgehrsitz/pulsar/internal/validator"
)

// Options configures one pipeline run.
type Options struct {
	RulesPath   string
	ConfigPath  string
	CatalogPath string
	OutputDir   string

	ValidationLevel config.ValidationLevel
	Lint            bool
	LintLevel       string // info, warn, or error; error promotes lint findings
	FailOnWarnings  bool
	MaxDepth        int
	GroupLimits     plan.Limits
	Namespace       string // manifest label namespace; --target

	GenerateMetadata bool // emit metadata.go (on for every emitting verb by default)
	EmitSourceMap    bool // emit rules.sourcemap.json

	ValidateOnly  bool // stop after analysis; no emission
	EmitManifest  bool
	WriteBuildLog bool
	Clean         bool // remove a pre-existing output directory first
}

// Result is the compilation outcome.
type Result struct {
	Success      bool
	BuildID      string
	Rules        []*ast.Rule
	Groups       []*plan.Group
	EmittedFiles []string
	Manifest     *manifest.Manifest
	Diags        *diag.List
	Duration     time.Duration
}

// Run executes the pipeline. Every stage accumulates its independent
// diagnostics and the run short-circuits across stage boundaries.
func Run(opts Options) *Result {
	start := time.Now()
	res := &Result{
		BuildID: uuid.NewString(),
		Diags:   &diag.List{},
	}
	defer func() { res.Duration = time.Since(start) }()

	sys, cfgDiags := config.Load(opts.ConfigPath)
	res.Diags.Merge(cfgDiags)
	if cfgDiags.HasErrors() {
		return finish(res, opts, start)
	}

	rules, parseDiags := parseRules(opts.RulesPath)
	res.Diags.Merge(parseDiags)
	if parseDiags.HasErrors() {
		return finish(res, opts, start)
	}
	if len(rules) == 0 {
		res.Diags.Add(diag.Errorf(diag.KindParse, "no rules found under %s", opts.RulesPath).At(opts.RulesPath, 0))
		return finish(res, opts, start)
	}
	res.Rules = rules

	valDiags := validator.ValidateRuleSet(rules)
	res.Diags.Merge(valDiags)
	if valDiags.HasErrors() {
		return finish(res, opts, start)
	}

	analysis.Annotate(rules)

	if catDiags := checkCatalog(rules, sys, opts); catDiags != nil {
		res.Diags.Merge(catDiags)
		if catDiags.HasErrors() {
			return finish(res, opts, start)
		}
	}

	g := graph.Build(rules)
	graphDiags := g.Check(opts.MaxDepth)
	res.Diags.Merge(graphDiags)
	if graphDiags.HasErrors() {
		return finish(res, opts, start)
	}

	if opts.Lint {
		lintDiags := lint(rules)
		if opts.LintLevel == "error" {
			lintDiags.PromoteWarnings()
		}
		res.Diags.Merge(lintDiags)
		if lintDiags.HasErrors() {
			return finish(res, opts, start)
		}
	}

	plan.AssignLayers(g)
	res.Groups = plan.Partition(rules, opts.GroupLimits)

	if opts.ValidateOnly {
		res.Success = !promoteAndCheck(res, opts)
		return finish(res, opts, start)
	}

	files := emitter.EmitProgram(res.Groups, sys, emitter.Options{
		Namespace:    opts.Namespace,
		SkipMetadata: !opts.GenerateMetadata,
	})

	if opts.EmitSourceMap {
		sm, smErr := sourceMapFile(res.Groups)
		if smErr != nil {
			res.Diags.Add(smErr)
			return finish(res, opts, start)
		}
		files = append(files, sm)
	}

	if promoteAndCheck(res, opts) {
		return finish(res, opts, start)
	}

	var m *manifest.Manifest
	if opts.EmitManifest {
		m = manifest.Build(rules, files, g, opts.OutputDir, res.BuildID, start)
	}

	written, err := writeArtifacts(opts, files, m)
	if err != nil {
		res.Diags.Add(err)
		return finish(res, opts, start)
	}
	res.EmittedFiles = written
	res.Manifest = m
	res.Success = true
	return finish(res, opts, start)
}

// promoteAndCheck applies --fail-on-warnings at the end of the pipeline.
// It reports true when the run must fail.
func promoteAndCheck(res *Result, opts Options) bool {
	if opts.FailOnWarnings {
		res.Diags.PromoteWarnings()
	}
	return res.Diags.HasErrors()
}

func parseRules(path string) ([]*ast.Rule, *diag.List) {
	info, err := os.Stat(path)
	if err != nil {
		diags := &diag.List{}
		diags.Add(diag.Errorf(diag.KindConfiguration, "rules path: %v", err).At(path, 0))
		return nil, diags
	}
	if info.IsDir() {
		return parser.ParseDir(path)
	}
	return parser.ParseFile(path)
}

func checkCatalog(rules []*ast.Rule, sys *config.System, opts Options) *diag.List {
	level := opts.ValidationLevel
	if level == "" {
		level = config.LevelNormal
	}

	var cat *catalog.Catalog
	var err error
	switch {
	case opts.CatalogPath != "":
		cat, err = catalog.Load(opts.CatalogPath)
	case len(sys.ValidSensors) > 0:
		cat, err = catalog.FromSensorList(sys.ValidSensors)
	default:
		return nil
	}
	if err != nil {
		diags := &diag.List{}
		diags.Add(diag.Errorf(diag.KindCatalog, "%v", err).At(opts.CatalogPath, 0))
		return diags
	}
	return cat.CheckRules(rules, level)
}

// lint reports advisory findings beyond structural validation.
func lint(rules []*ast.Rule) *diag.List {
	diags := &diag.List{}
	for _, r := range rules {
		reads := map[string]bool{}
		for _, s := range r.ReadSensors {
			reads[s] = true
		}
		for _, b := range r.Inputs {
			if !reads[beacon.CanonicalSensor(b.Sensor)] {
				diags.Add(diag.Warnf(diag.KindLint,
					"input binding %q is never read by the rule", b.Sensor).
					ForRule(r.Name).At(r.SourceFile, r.SourceLine))
			}
		}
		ast.WalkConditions(r.Conditions, func(node ast.Condition) {
			if e, ok := node.(*ast.ExpressionCondition); ok && len(e.Prog.Sensors()) == 0 {
				diags.Add(diag.Warnf(diag.KindLint,
					"expression %q references no sensors; its value is constant", e.Source).
					ForRule(r.Name).At(r.SourceFile, r.SourceLine))
			}
		})
	}
	return diags
}

// sourceMapFile renders rules.sourcemap.json: for every rule, where it
// came from and which emitted file carries it.
func sourceMapFile(groups []*plan.Group) (emitter.File, *diag.Diagnostic) {
	type entry struct {
		SourceFile  string `json:"sourceFile"`
		SourceLine  int    `json:"sourceLine"`
		EmittedFile string `json:"emittedFile"`
		GroupIndex  int    `json:"groupIndex"`
	}
	entries := make(map[string]entry)
	for _, g := range groups {
		for _, r := range g.Rules {
			entries[r.Name] = entry{
				SourceFile:  r.SourceFile,
				SourceLine:  r.SourceLine,
				EmittedFile: emitter.GroupName(g.Index) + ".go",
				GroupIndex:  g.Index,
			}
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return emitter.File{}, diag.Errorf(diag.KindEmission, "encoding sourcemap: %v", err)
	}
	return emitter.File{
		Name:    "rules.sourcemap.json",
		Content: append(data, '\n'),
		Label:   "sourcemap",
	}, nil
}

// writeArtifacts performs the single write sweep: nothing touches the
// output directory until every artifact rendered successfully.
func writeArtifacts(opts Options, files []emitter.File, m *manifest.Manifest) ([]string, *diag.Diagnostic) {
	var manifestData []byte
	if m != nil {
		data, err := m.Encode()
		if err != nil {
			return nil, diag.Errorf(diag.KindEmission, "%v", err)
		}
		manifestData = data
	}

	if opts.Clean {
		if err := os.RemoveAll(opts.OutputDir); err != nil {
			return nil, diag.Errorf(diag.KindEmission, "cleaning output directory: %v", err).At(opts.OutputDir, 0)
		}
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, diag.Errorf(diag.KindEmission, "creating output directory: %v", err).At(opts.OutputDir, 0)
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(opts.OutputDir, f.Name)
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return nil, diag.Errorf(diag.KindEmission, "writing %s: %v", f.Name, err).At(path, 0)
		}
		written = append(written, path)
	}
	if manifestData != nil {
		path := filepath.Join(opts.OutputDir, manifest.FileName)
		if err := os.WriteFile(path, manifestData, 0o644); err != nil {
			return nil, diag.Errorf(diag.KindEmission, "writing manifest: %v", err).At(path, 0)
		}
		written = append(written, path)
	}
	return written, nil
}

// finish appends the build-log record and stamps the result.
func finish(res *Result, opts Options, start time.Time) *Result {
	if opts.WriteBuildLog && opts.OutputDir != "" {
		logBuild(res, opts, start)
	}
	return res
}

func logBuild(res *Result, opts Options, start time.Time) {
	// The build log lives next to the artifacts; failure to log never
	// fails the build.
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return
	}
	lg, err := buildlog.Open(filepath.Join(opts.OutputDir, "build.log.jsonl"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulsar: warning: build log: %v\n", err)
		return
	}
	defer lg.Close()

	_ = lg.Log(buildlog.Event{
		Timestamp:  start.UTC().Format(time.RFC3339),
		BuildID:    res.BuildID,
		RulesPath:  opts.RulesPath,
		OutputDir:  opts.OutputDir,
		Success:    res.Success,
		RuleCount:  len(res.Rules),
		GroupCount: len(res.Groups),
		ErrorCount: len(res.Diags.Errors()),
		WarnCount:  len(res.Diags.Warnings()),
		DurationMS: time.Since(start).Milliseconds(),
	})
}
