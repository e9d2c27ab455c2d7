package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrabsha/tremor-runtime/internal/config"
	"github.com/scrabsha/tremor-runtime/pkg/pipeline"
)

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a deployment file without running it",
		Long: `Parses the deployment file, compiles every embedded script, and
builds the graph, reporting the first structural problem found:
unknown ports, unreachable operators, or cycles.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			operators, err := config.BuildOperators(cmd.Context(), &cfg.Pipeline)
			if err != nil {
				return err
			}
			graph, err := pipeline.Build(&cfg.Pipeline, operators)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (%d operators, %d inputs, %d outputs)\n",
				graph.ID(), graph.NumNodes(), len(graph.Inputs()), len(graph.Outputs()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the deployment file (YAML)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
