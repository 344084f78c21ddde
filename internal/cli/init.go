package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Scaffold a new rules project",
	Long: `Create a starter project: a rules directory with an example rule, a
system configuration, and a sensor catalog.

  pulsar init my-beacon`,
	Args: cobra.MaximumNArgs(1),
	RunE: initCommand,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const starterRules = `# Pulsar rules
rules:
  - name: HighTemperature
    description: Raise the alert when the temperature exceeds the limit.
    conditions:
      all:
        - condition:
            type: comparison
            sensor: input:temperature
            operator: ">"
            value: 30
    actions:
      - set_value:
          key: output:high_temperature
          value: true
    else:
      actions:
        - set_value:
            key: output:high_temperature
            value: false
`

const starterConfig = `version: 1
cycleTime: 100
redis:
  endpoints:
    - localhost:6379
  poolSize: 8
  retryCount: 3
bufferCapacity: 100
logLevel: info
`

const starterCatalog = `sensors:
  - id: input:temperature
    type: number
    unit: celsius
    description: Ambient temperature.
`

func initCommand(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	files := map[string]string{
		filepath.Join(dir, "rules", "example.yaml"):   starterRules,
		filepath.Join(dir, "config", "system.yaml"):   starterConfig,
		filepath.Join(dir, "catalog", "sensors.yaml"): starterCatalog,
	}

	for path := range files {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; refusing to overwrite", path)
		}
	}
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	fmt.Printf("scaffolded rules project in %s\n", dir)
	fmt.Println("  rules/example.yaml")
	fmt.Println("  config/system.yaml")
	fmt.Println("  catalog/sensors.yaml")
	fmt.Println("\nnext: pulsar compile --rules", filepath.Join(dir, "rules"),
		"--config", filepath.Join(dir, "config", "system.yaml"))
	return nil
}
