package main

import (
	"fmt"

	"github.com/aretw0/prdflow/internal/cli"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph [snapshot.json]",
	Short: "Export the workflow pipeline as a Mermaid diagram",
	Long: `Prints a Mermaid flowchart (graph TD) of the workflow pipeline. Given a snapshot
saved with --save, the run's progress is highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		out, err := cli.RenderGraph(path)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
