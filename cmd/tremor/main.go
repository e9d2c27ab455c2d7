// Package main is the entry point for the tremor binary: it runs a
// deployment file as a live pipeline fed from stdin, or validates one
// without running it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tremor",
		Short: "Continuous stream processing pipelines",
		Long: `Runs event pipelines described by deployment files: directed graphs
of operators that filter, transform, window, and batch a continuous
stream of events.

Example:
  tail -f events.json | tremor run -c deploy.yaml`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	return rootCmd
}
