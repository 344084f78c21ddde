package cli

import (
	"github.com/spf13/cobra"

	"github.com/rgehrsitz/pulsar/internal/pipeline"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile rules and emit the evaluation sources and manifest",
	Long: `Parse, validate, and analyze the rule set, then emit the Beacon
evaluation sources and the manifest into the output directory.

  pulsar compile --rules rules/ --config config/system.yaml --output dist`,
	RunE: compileCommand,
}

func init() {
	rootCmd.AddCommand(compileCmd)
}

func compileCommand(cmd *cobra.Command, args []string) error {
	opts, err := pipelineOptions()
	if err != nil {
		return err
	}
	opts.EmitManifest = true

	res := pipeline.Run(opts)
	return reportResult(res, "compile")
}
