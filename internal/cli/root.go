// Package cli implements the pulsar command surface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/rgehrsitz/pulsar/internal/config"
	"github.com/rgehrsitz/pulsar/internal/pipeline"
	"github.com/rgehrsitz/pulsar/internal/plan"
)

var (
	rulesPath        string
	configPath       string
	catalogPath      string
	outputPath       string
	target           string
	validationLevel  string
	lintEnabled      bool
	lintLevel        string
	failOnWarnings   bool
	generateMetadata bool
	emitSourceMap    bool
	verbose          bool
	debug            bool
	clean            bool
)

var rootCmd = &cobra.Command{
	Use:   "pulsar",
	Short: "Pulsar - ahead-of-time rules compiler",
	Long: `Pulsar compiles declarative YAML rules into a self-contained cyclic
evaluation engine (a "Beacon") that observes sensor inputs, evaluates the
rules every cycle, and publishes outputs through a key-value/pub-sub
backend. The compiler validates the rules, layers their dependency graph,
and emits deterministic evaluation sources plus a manifest.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rulesPath, "rules", "rules", "Path to a rule file or a directory of *.yaml rule files")
	pf.StringVar(&configPath, "config", "", "Path to the system configuration YAML")
	pf.StringVar(&catalogPath, "catalog", "", "Path to the sensor catalog YAML")
	pf.StringVar(&outputPath, "output", "dist", "Output directory for emitted artifacts")
	pf.StringVar(&target, "target", "beacon", "Target runtime id (labels emitted files)")
	pf.StringVar(&validationLevel, "validation-level", "normal", "Sensor validation strictness: strict, normal, or relaxed")
	pf.BoolVar(&lintEnabled, "lint", false, "Run the advisory lint pass")
	pf.StringVar(&lintLevel, "lint-level", "warn", "Lint level: info, warn, or error; error promotes lint findings to errors, the others keep them as warnings")
	pf.BoolVar(&failOnWarnings, "fail-on-warnings", false, "Promote warnings to errors at the end of the pipeline")
	pf.BoolVar(&generateMetadata, "generate-metadata", true, "Emit the metadata source alongside the evaluation units")
	pf.BoolVar(&emitSourceMap, "emit-sourcemap", false, "Emit rules.sourcemap.json mapping rules to emitted files")
	pf.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	pf.BoolVar(&debug, "debug", false, "Debug output (implies --verbose)")
	pf.BoolVar(&clean, "clean", false, "Remove the output directory before emitting")
}

// Execute runs the CLI. A non-nil error maps to exit code 1 in main.
func Execute() error {
	return rootCmd.Execute()
}

// pipelineOptions assembles the common pipeline options from the flags.
func pipelineOptions() (pipeline.Options, error) {
	level, err := config.ParseValidationLevel(validationLevel)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		RulesPath:        rulesPath,
		ConfigPath:       configPath,
		CatalogPath:      catalogPath,
		OutputDir:        outputPath,
		ValidationLevel:  level,
		Lint:             lintEnabled,
		LintLevel:        lintLevel,
		FailOnWarnings:   failOnWarnings,
		GroupLimits:      plan.Limits{},
		Namespace:        target,
		GenerateMetadata: generateMetadata,
		EmitSourceMap:    emitSourceMap,
		Clean:            clean,
	}, nil
}
