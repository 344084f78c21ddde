// Package manifest produces the machine-readable compilation record:
// emitted files with content hashes, per-rule placement and analysis, and
// the build metrics.
package manifest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/emitter"
	"github.com/rgehrsitz/pulsar/internal/graph"
)

// SchemaVersion identifies the manifest layout.
const SchemaVersion = "1.0"

// FileName is the manifest's name in the output directory.
const FileName = "rules.manifest.json"

// Manifest is the serialized record.
type Manifest struct {
	SchemaVersion      string              `json:"schemaVersion"`
	GeneratedAt        string              `json:"generatedAt"`
	BuildID            string              `json:"buildId"`
	Files              []FileEntry         `json:"files"`
	Rules              map[string]RuleInfo `json:"rules"`
	BuildMetrics       Metrics             `json:"buildMetrics"`
	DependencyAnalysis DependencyAnalysis  `json:"dependencyAnalysis"`
}

// FileEntry describes one emitted file.
type FileEntry struct {
	FileName  string   `json:"fileName"`
	Path      string   `json:"path"`
	Hash      string   `json:"hash"` // SHA-256, base64
	Label     string   `json:"label"`
	LayerMin  int      `json:"layerMin"`
	LayerMax  int      `json:"layerMax"`
	Rules     []string `json:"rules,omitempty"`
	SizeBytes int      `json:"sizeBytes"`
}

// RuleInfo is the per-rule record.
type RuleInfo struct {
	SourceFile    string   `json:"sourceFile"`
	SourceLine    int      `json:"sourceLine"`
	Dependencies  []string `json:"dependencies"`
	Layer         int      `json:"layer"`
	InputSensors  []string `json:"inputSensors"`
	OutputSensors []string `json:"outputSensors"`
	Temporal      bool     `json:"temporal"`
	Complexity    int      `json:"complexity"`
}

// Metrics summarizes the build.
type Metrics struct {
	TotalRules        int            `json:"totalRules"`
	RuleComplexity    map[string]int `json:"ruleComplexity"`
	TemporalRuleCount int            `json:"temporalRuleCount"`
	AverageComplexity float64        `json:"averageComplexity"`
}

// DependencyAnalysis records the graph-level results.
type DependencyAnalysis struct {
	RuleDependencies     map[string][]string `json:"ruleDependencies"`
	SensorDependencies   map[string][]string `json:"sensorDependencies"`
	TemporalDependencies map[string][]string `json:"temporalDependencies"`
	MaxDepth             int                 `json:"maxDepth"`
}

// Build assembles the manifest for an emission. generatedAt is passed in by
// the driver so a pipeline run has a single timestamp.
func Build(rules []*ast.Rule, files []emitter.File, g *graph.Graph, outputDir, buildID string, generatedAt time.Time) *Manifest {
	m := &Manifest{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   generatedAt.UTC().Format(time.RFC3339),
		BuildID:       buildID,
		Rules:         make(map[string]RuleInfo, len(rules)),
	}

	for _, f := range files {
		sum := sha256.Sum256(f.Content)
		m.Files = append(m.Files, FileEntry{
			FileName:  f.Name,
			Path:      outputDir + "/" + f.Name,
			Hash:      base64.StdEncoding.EncodeToString(sum[:]),
			Label:     f.Label,
			LayerMin:  f.LayerMin,
			LayerMax:  f.LayerMax,
			Rules:     f.Rules,
			SizeBytes: len(f.Content),
		})
	}

	totalComplexity := 0
	complexity := make(map[string]int, len(rules))
	temporal := 0
	for _, r := range rules {
		m.Rules[r.Name] = RuleInfo{
			SourceFile:    r.SourceFile,
			SourceLine:    r.SourceLine,
			Dependencies:  emptyNotNil(r.Dependencies),
			Layer:         r.Layer,
			InputSensors:  emptyNotNil(r.InputSensors),
			OutputSensors: emptyNotNil(r.OutputSensors),
			Temporal:      r.Temporal,
			Complexity:    r.Complexity,
		}
		complexity[r.Name] = r.Complexity
		totalComplexity += r.Complexity
		if r.Temporal {
			temporal++
		}
	}

	m.BuildMetrics = Metrics{
		TotalRules:        len(rules),
		RuleComplexity:    complexity,
		TemporalRuleCount: temporal,
	}
	if len(rules) > 0 {
		m.BuildMetrics.AverageComplexity = float64(totalComplexity) / float64(len(rules))
	}

	ruleDeps := make(map[string][]string, len(rules))
	for _, r := range rules {
		ruleDeps[r.Name] = emptyNotNil(r.Dependencies)
	}
	m.DependencyAnalysis = DependencyAnalysis{
		RuleDependencies:     ruleDeps,
		SensorDependencies:   g.SensorDependencies(),
		TemporalDependencies: g.TemporalDeps,
		MaxDepth:             g.MaxDepth,
	}
	return m
}

// Encode renders the manifest as indented JSON. encoding/json sorts map
// keys, so the output is deterministic for a fixed timestamp and build id.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return append(data, '\n'), nil
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
