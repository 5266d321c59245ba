package main

import (
	"github.com/aretw0/prdflow/internal/config"
	"github.com/spf13/cobra"
)

var socketCmd = &cobra.Command{
	Use:   "socket [product idea]",
	Short: "Run a workflow over a persistent WebSocket",
	Long: `Connects to the backend's socket endpoint, sends the product idea as a prompt
and answers each question as it arrives. Abnormal disconnects are retried with
capped exponential backoff.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Transport = config.TransportSocket
		return execute(cmd, cfg, args)
	},
}

func init() {
	rootCmd.AddCommand(socketCmd)
	addSessionFlags(socketCmd)
	socketCmd.Flags().String("url", "", "Socket base URL, e.g. ws://localhost:8000")
	socketCmd.Flags().String("client-id", "", "Client id appended to the socket path (random when empty)")
}
