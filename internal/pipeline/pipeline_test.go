package pipeline

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgehrsitz/pulsar/internal/diag"
)

func writeRules(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func run(t *testing.T, doc string, mutate func(*Options)) *Result {
	t.Helper()
	opts := Options{
		RulesPath:    writeRules(t, doc),
		OutputDir:    filepath.Join(t.TempDir(), "dist"),
		EmitManifest: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return Run(opts)
}

const scenarioA = `
rules:
  - name: HighTemp
    description: High temperature alert.
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

func TestScenarioASimpleThreshold(t *testing.T) {
	res := run(t, scenarioA, nil)
	require.True(t, res.Success, "diags: %v", res.Diags.All())

	require.Len(t, res.Groups, 1)
	assert.Equal(t, 0, res.Groups[0].Layer)

	info, ok := res.Manifest.Rules["HighTemp"]
	require.True(t, ok, "HighTemp missing from manifest")
	assert.Equal(t, []string{"input:temperature"}, info.InputSensors)
	assert.Equal(t, []string{"output:alert"}, info.OutputSensors)
	assert.Empty(t, info.Dependencies)
	assert.Equal(t, 0, info.Layer)
	assert.False(t, info.Temporal)
}

const scenarioB = `
rules:
  - name: Normalize
    description: Normalize temperature.
    conditions:
      all:
        - condition:
            type: comparison
            sensor: input:temperature
            operator: ">"
            value: 20
    actions:
      - set_value:
          key: output:norm
          value_expression: "input:temperature / 100"
  - name: Escalate
    description: Escalate on high normalized value.
    conditions:
      all:
        - condition:
            type: comparison
            sensor: output:norm
            operator: ">"
            value: 0.25
    actions:
      - set_value:
          key: output:alert_level
          value_expression: "output:norm * 10"
`

func TestScenarioBDependentRules(t *testing.T) {
	res := run(t, scenarioB, nil)
	require.True(t, res.Success, "diags: %v", res.Diags.All())

	require.Len(t, res.Groups, 2)
	assert.Equal(t, 0, res.Manifest.Rules["Normalize"].Layer)
	assert.Equal(t, 1, res.Manifest.Rules["Escalate"].Layer)
	assert.Equal(t, []string{"Normalize"}, res.Manifest.Rules["Escalate"].Dependencies)
}

const scenarioC = `
rules:
  - name: A
    description: Reads what B writes.
    conditions:
      all:
        - condition: {type: comparison, sensor: "output:B", operator: ">", value: 1}
    actions:
      - set_value: {key: "output:A", value: 1}
  - name: B
    description: Reads what A writes.
    conditions:
      all:
        - condition: {type: comparison, sensor: "output:A", operator: ">", value: 1}
    actions:
      - set_value: {key: "output:B", value: 1}
`

func TestScenarioCCycleRejection(t *testing.T) {
	res := run(t, scenarioC, nil)
	require.False(t, res.Success)

	errs := res.Diags.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, diag.KindDependency, errs[0].Kind)
	assert.Contains(t, errs[0].Message, "A → B → A")

	// No files written on failure.
	assert.Empty(t, res.EmittedFiles)
}

const scenarioD = `
rules:
  - name: First
    description: Writes x.
    conditions:
      all:
        - condition: {type: comparison, sensor: "input:a", operator: ">", value: 1}
    actions:
      - set_value: {key: "output:x", value: 1}
  - name: Second
    description: Also writes x.
    conditions:
      all:
        - condition: {type: comparison, sensor: "input:b", operator: ">", value: 1}
    actions:
      - set_value: {key: "output:x", value: 2}
`

func TestScenarioDDuplicateWriter(t *testing.T) {
	res := run(t, scenarioD, nil)
	require.False(t, res.Success)

	var found bool
	for _, e := range res.Diags.Errors() {
		if e.Kind == diag.KindValidation && strings.Contains(e.Message, "output:x") {
			found = true
			assert.Contains(t, e.Context["rules"], "First")
			assert.Contains(t, e.Context["rules"], "Second")
		}
	}
	assert.True(t, found, "expected a duplicate-writer diagnostic: %v", res.Diags.Errors())
}

const scenarioE = `
rules:
  - name: SustainedHot
    description: Sustained heat.
    conditions:
      all:
        - condition:
            type: threshold_over_time
            sensor: input:temp
            operator: ">"
            threshold: 75
            duration: 10000
    actions:
      - set_value:
          key: output:sustained
          value: true
`

func TestScenarioETemporalEmission(t *testing.T) {
	res := run(t, scenarioE, nil)
	require.True(t, res.Success, "diags: %v", res.Diags.All())

	info := res.Manifest.Rules["SustainedHot"]
	assert.True(t, info.Temporal)
	assert.Empty(t, info.Dependencies)

	// The evaluation unit carries the full tracker key.
	src, err := os.ReadFile(res.EmittedFiles[0])
	require.NoError(t, err)
	assert.Contains(t, string(src),
		`&beacon.Temporal{Sensor: "input:temp", Op: beacon.OpGT, Threshold: 75, Duration: 10000 * time.Millisecond, Mode: beacon.Strict}`)
}

func TestDeterministicHashes(t *testing.T) {
	hashFiles := func(res *Result) map[string][32]byte {
		out := map[string][32]byte{}
		for _, path := range res.EmittedFiles {
			if strings.HasSuffix(path, ".json") {
				continue // manifest carries the build id and timestamp
			}
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			out[filepath.Base(path)] = sha256.Sum256(data)
		}
		return out
	}

	first := run(t, scenarioB, nil)
	require.True(t, first.Success)
	second := run(t, scenarioB, nil)
	require.True(t, second.Success)

	assert.Equal(t, hashFiles(first), hashFiles(second))
}

func TestManifestCompleteness(t *testing.T) {
	res := run(t, scenarioB, nil)
	require.True(t, res.Success)

	// Every rule appears exactly once.
	assert.Len(t, res.Manifest.Rules, 2)

	// Every emitted file appears once and its recorded hash matches the
	// written bytes.
	seen := map[string]bool{}
	for _, f := range res.Manifest.Files {
		assert.False(t, seen[f.FileName], "file %s listed twice", f.FileName)
		seen[f.FileName] = true

		data, err := os.ReadFile(filepath.Join(filepath.Dir(res.EmittedFiles[0]), f.FileName))
		require.NoError(t, err)
		sum := sha256.Sum256(data)
		assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), f.Hash, "hash mismatch for %s", f.FileName)
	}
}

func TestValidateOnlyWritesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dist")
	res := run(t, scenarioA, func(o *Options) {
		o.OutputDir = out
		o.ValidateOnly = true
	})
	require.True(t, res.Success)
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "validate-only must not create the output directory")
}

func TestFailOnWarningsPromotes(t *testing.T) {
	noDesc := `
rules:
  - name: Undocumented
    conditions:
      all:
        - condition: {type: comparison, sensor: "input:x", operator: ">", value: 1}
    actions:
      - set_value: {key: "output:y", value: 1}
`
	res := run(t, noDesc, nil)
	assert.True(t, res.Success, "warnings alone must not fail the build")

	res = run(t, noDesc, func(o *Options) { o.FailOnWarnings = true })
	assert.False(t, res.Success)
	assert.Empty(t, res.EmittedFiles)
}

func TestCatalogStrictVsNormal(t *testing.T) {
	catalogDoc := `
sensors:
  - id: input:temperature
`
	dir := t.TempDir()
	catPath := filepath.Join(dir, "sensors.yaml")
	require.NoError(t, os.WriteFile(catPath, []byte(catalogDoc), 0o644))

	unknown := `
rules:
  - name: UsesUnknown
    description: Reads a sensor the catalog does not declare.
    conditions:
      all:
        - condition: {type: comparison, sensor: "input:mystery", operator: ">", value: 1}
    actions:
      - set_value: {key: "output:y", value: 1}
`
	res := run(t, unknown, func(o *Options) {
		o.CatalogPath = catPath
		o.ValidationLevel = "strict"
	})
	require.False(t, res.Success)
	assert.Equal(t, diag.KindCatalog, res.Diags.Errors()[0].Kind)

	res = run(t, unknown, func(o *Options) {
		o.CatalogPath = catPath
		o.ValidationLevel = "normal"
	})
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Diags.Warnings())

	res = run(t, unknown, func(o *Options) {
		o.CatalogPath = catPath
		o.ValidationLevel = "relaxed"
	})
	assert.True(t, res.Success)
	assert.Empty(t, res.Diags.Warnings())
}

func TestValidSensorsActAsInlineCatalog(t *testing.T) {
	cfg := `
version: 1
cycleTime: 100
validSensors:
  - "input:known"
`
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "system.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	doc := `
rules:
  - name: R
    description: d
    conditions:
      all:
        - condition: {type: comparison, sensor: "input:unknown", operator: ">", value: 1}
    actions:
      - set_value: {key: "output:y", value: 1}
`
	res := run(t, doc, func(o *Options) {
		o.ConfigPath = cfgPath
		o.ValidationLevel = "strict"
	})
	assert.False(t, res.Success)
}

func TestSourceMapEmission(t *testing.T) {
	res := run(t, scenarioB, func(o *Options) { o.EmitSourceMap = true })
	require.True(t, res.Success)

	var found string
	for _, f := range res.EmittedFiles {
		if strings.HasSuffix(f, "rules.sourcemap.json") {
			found = f
		}
	}
	require.NotEmpty(t, found, "sourcemap not written: %v", res.EmittedFiles)
	data, err := os.ReadFile(found)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"emittedFile": "g_1.go"`)
}

func TestBuildLogAppended(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dist")
	res := run(t, scenarioA, func(o *Options) {
		o.OutputDir = out
		o.WriteBuildLog = true
	})
	require.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(out, "build.log.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), res.BuildID)
	assert.Contains(t, string(data), `"success":true`)
}

func TestLintUnusedBinding(t *testing.T) {
	doc := `
rules:
  - name: Dangling
    description: Binds an input it never reads.
    inputs:
      - id: input:unused
        fallback: {strategy: skip_rule}
    conditions:
      all:
        - condition: {type: comparison, sensor: "input:real", operator: ">", value: 1}
    actions:
      - set_value: {key: "output:y", value: 1}
`
	res := run(t, doc, func(o *Options) { o.Lint = true })
	assert.True(t, res.Success)
	var found bool
	for _, w := range res.Diags.Warnings() {
		if w.Kind == diag.KindLint && strings.Contains(w.Message, "input:unused") {
			found = true
		}
	}
	assert.True(t, found, "expected an unused-binding lint warning: %v", res.Diags.All())
}
