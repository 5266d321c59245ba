package main

import (
	"fmt"
	"os"

	"github.com/aretw0/prdflow/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "prdflow",
	Short: "prdflow drives product-requirements workflows from the terminal",
	Long: `prdflow sends a product idea to a workflow backend, answers its clarification
questions interactively and renders the resulting product, customer, engineering
and risk analyses as a markdown report.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default ./"+config.DefaultPath+" when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Expose Prometheus metrics on this address")
}

// loadConfig reads the config file and environment, then applies the flags
// the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("log-level", &cfg.LogLevel)
	str("metrics-addr", &cfg.MetricsAddr)
	str("base-url", &cfg.Stream.BaseURL)
	str("stream-path", &cfg.Stream.StreamPath)
	str("start-path", &cfg.Stream.StartPath)
	str("continue-path", &cfg.Stream.ContinuePath)
	str("pipeline-path", &cfg.Stream.PipelinePath)
	str("url", &cfg.Socket.URL)
	str("client-id", &cfg.Socket.ClientID)
	str("nats-url", &cfg.NATS.URL)
	str("addr", &cfg.Server.Addr)
	str("redis", &cfg.Server.RedisAddr)
	str("data-dir", &cfg.Server.DataDir)
	if flags.Lookup("delay") != nil && flags.Changed("delay") {
		cfg.Server.Delay, _ = flags.GetDuration("delay")
	}
	return cfg, cfg.Validate()
}
