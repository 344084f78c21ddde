package main

import (
	"fmt"
	"os"

	"github.com/rgehrsitz/pulsar/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pulsar: %v\n", err)
		os.Exit(1)
	}
}
