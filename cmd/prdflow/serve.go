package main

import (
	"fmt"
	"os"

	"github.com/aretw0/prdflow/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stub workflow backend",
	Long: `Starts a development backend serving mock agent results over both transports:
newline-delimited JSON on /run_workflow_stream and WebSocket on /ws/{client_id}.
Conversations live in memory unless --redis or --data-dir is given.
Set PRDFLOW_ENCRYPTION_KEY to seal stored conversations with AES-256-GCM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		fmt.Fprintf(os.Stderr, "Starting prdflow stub backend on %s\n", cfg.Server.Addr)
		if err := cli.Serve(sc, cfg, os.Stderr); err != nil {
			return err
		}
		if sig := sc.Signal(); sig != nil {
			fmt.Fprintf(os.Stderr, "Stopped on %v\n", sig)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default :8000)")
	serveCmd.Flags().String("redis", "", "Redis address for conversation storage")
	serveCmd.Flags().String("data-dir", "", "Directory for JSON conversation files")
	serveCmd.Flags().Duration("delay", 0, "Pause between streamed steps")
}
