package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/prdflow"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of prdflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "prdflow version %s\n", strings.TrimSpace(prdflow.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
