package cli

import (
	"github.com/spf13/cobra"

	"github.com/rgehrsitz/pulsar/internal/pipeline"
)

var beaconCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Run the full pipeline into a deployable Beacon artifact directory",
	Long: `Compile the rules all the way to a deployable artifact directory:
evaluation sources, coordinator, metadata, embedded configuration, entry
point, manifest, and the build log.

  pulsar beacon --rules rules/ --config config/system.yaml --output dist/beacon`,
	RunE: beaconCommand,
}

func init() {
	rootCmd.AddCommand(beaconCmd)
}

func beaconCommand(cmd *cobra.Command, args []string) error {
	opts, err := pipelineOptions()
	if err != nil {
		return err
	}
	opts.EmitManifest = true
	opts.WriteBuildLog = true

	res := pipeline.Run(opts)
	return reportResult(res, "beacon")
}
