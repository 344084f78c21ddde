package cli

import (
	"github.com/spf13/cobra"

	"github.com/rgehrsitz/pulsar/internal/pipeline"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Emit the evaluation sources without packaging artifacts",
	Long: `Emit the Beacon evaluation sources into the output directory without
the manifest or build log. Useful for inspecting what the compiler produces.

  pulsar generate --rules rules/ --output build/gen`,
	RunE: generateCommand,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func generateCommand(cmd *cobra.Command, args []string) error {
	opts, err := pipelineOptions()
	if err != nil {
		return err
	}

	res := pipeline.Run(opts)
	return reportResult(res, "generate")
}
