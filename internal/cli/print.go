package cli

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/rgehrsitz/pulsar/internal/diag"
	"github.com/rgehrsitz/pulsar/internal/pipeline"
)

const (
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
	ansiReset  = "\x1b[0m"
)

// colorEnabled is true when stderr is an interactive terminal.
func colorEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// printDiagnostics writes every accumulated diagnostic once, errors first.
func printDiagnostics(diags *diag.List) {
	color := colorEnabled()
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}

	for _, d := range diags.Errors() {
		fmt.Fprintf(os.Stderr, "%s %s\n", paint(ansiRed, "error:"), d.Error())
	}
	for _, d := range diags.Warnings() {
		fmt.Fprintf(os.Stderr, "%s %s\n", paint(ansiYellow, "warning:"), d.Error())
	}
}

// reportResult prints the outcome and returns an error for failed runs so
// main exits non-zero.
func reportResult(res *pipeline.Result, verb string) error {
	printDiagnostics(res.Diags)

	if !res.Success {
		return fmt.Errorf("%s failed with %d error(s)", verb, len(res.Diags.Errors()))
	}

	if verbose || debug {
		fmt.Printf("build %s: %d rule(s) in %d group(s), %s\n",
			res.BuildID, len(res.Rules), len(res.Groups), res.Duration.Round(time.Millisecond))
		for _, f := range res.EmittedFiles {
			fmt.Printf("  wrote %s\n", f)
		}
	} else if len(res.EmittedFiles) > 0 {
		fmt.Printf("%d rule(s) compiled into %d group(s); %d file(s) written to %s\n",
			len(res.Rules), len(res.Groups), len(res.EmittedFiles), outputPath)
	}
	return nil
}
