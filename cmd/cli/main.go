// Package main is the entry point for the ocp-cost CLI.
package main

import (
	"os"

	"ocp-cost/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
