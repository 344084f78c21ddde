package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rgehrsitz/pulsar/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the rule set without emitting anything",
	Long: `Run the parse, validation, analysis, and dependency stages and report
diagnostics. No files are written.

  pulsar validate --rules rules/ --lint`,
	RunE: validateCommand,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateCommand(cmd *cobra.Command, args []string) error {
	opts, err := pipelineOptions()
	if err != nil {
		return err
	}
	opts.ValidateOnly = true

	res := pipeline.Run(opts)
	printDiagnostics(res.Diags)
	if !res.Success {
		return fmt.Errorf("validate failed with %d error(s)", len(res.Diags.Errors()))
	}

	fmt.Printf("%d rule(s) valid across %d group(s)\n", len(res.Rules), len(res.Groups))
	if verbose || debug {
		for _, r := range res.Rules {
			fmt.Printf("  %s  layer=%d complexity=%d temporal=%t deps=%v\n",
				r.Name, r.Layer, r.Complexity, r.Temporal, r.Dependencies)
		}
	}
	return nil
}
