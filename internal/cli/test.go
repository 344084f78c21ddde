package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rgehrsitz/pulsar/internal/pipeline"
	"github.com/rgehrsitz/pulsar/internal/plan"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Self-test — validate the rule set and check the compiler invariants",
	Long: `Run the validator over the rule set and then a set of sanity checks on
the analysis results: layer monotonicity, the single-writer topology, and
determinism of the group partitioning. Nothing is emitted.

  pulsar test --rules rules/`,
	RunE: testCommand,
}

func init() {
	rootCmd.AddCommand(testCmd)
}

func testCommand(cmd *cobra.Command, args []string) error {
	opts, err := pipelineOptions()
	if err != nil {
		return err
	}
	opts.ValidateOnly = true

	res := pipeline.Run(opts)
	printDiagnostics(res.Diags)
	if !res.Success {
		return fmt.Errorf("test failed with %d error(s)", len(res.Diags.Errors()))
	}

	fmt.Println("─── Compiler Invariants ───────────────────────────────")

	pass, fail := 0, 0
	check := func(label string, ok bool) {
		icon := "ok  "
		if !ok {
			icon = "FAIL"
			fail++
		} else {
			pass++
		}
		fmt.Printf("  [%s] %s\n", icon, label)
	}

	// Layering: layer(r) = 0 without deps, else 1 + max over deps.
	byName := map[string]int{}
	for _, r := range res.Rules {
		byName[r.Name] = r.Layer
	}
	layersOK := true
	for _, r := range res.Rules {
		want := 0
		for _, dep := range r.Dependencies {
			if byName[dep]+1 > want {
				want = byName[dep] + 1
			}
		}
		if r.Layer != want {
			layersOK = false
		}
	}
	check("layer(r) = 1 + max(layer of dependencies)", layersOK)

	// Groups never straddle layers and are monotone in layer.
	monotone := true
	lastLayer := -1
	for _, g := range res.Groups {
		if g.Layer < lastLayer {
			monotone = false
		}
		lastLayer = g.Layer
		for _, r := range g.Rules {
			if r.Layer != g.Layer {
				monotone = false
			}
		}
	}
	check("groups share a single layer and ascend", monotone)

	// Single writer per key.
	writers := map[string]string{}
	single := true
	for _, r := range res.Rules {
		for _, key := range r.OutputSensors {
			if prev, ok := writers[key]; ok && prev != r.Name {
				single = false
			}
			writers[key] = r.Name
		}
	}
	check("single writer per output key", single)

	// Partitioning is deterministic for a fixed input.
	again := plan.Partition(res.Rules, opts.GroupLimits)
	deterministic := len(again) == len(res.Groups)
	if deterministic {
		for i := range again {
			if again[i].Layer != res.Groups[i].Layer || len(again[i].Rules) != len(res.Groups[i].Rules) {
				deterministic = false
				break
			}
		}
	}
	check("group partitioning is deterministic", deterministic)

	fmt.Printf("\n%d passed, %d failed\n", pass, fail)
	if fail > 0 {
		return fmt.Errorf("%d invariant check(s) failed", fail)
	}
	return nil
}
