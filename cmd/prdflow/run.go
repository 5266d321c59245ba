package main

import (
	"strings"
	"time"

	"github.com/aretw0/prdflow/internal/cli"
	"github.com/aretw0/prdflow/internal/config"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [product idea]",
	Short: "Run a workflow over streamed HTTP",
	Long: `Posts the product idea to the backend and consumes the newline-delimited JSON
response. Clarification questions are asked on the terminal; the final report is
rendered once the summary arrives. Without an argument the idea is read from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Transport = config.TransportStream
		return execute(cmd, cfg, args)
	},
}

func execute(cmd *cobra.Command, cfg config.Config, args []string) error {
	jsonMode, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	saveTo, _ := cmd.Flags().GetString("save")
	skipProbe, _ := cmd.Flags().GetBool("skip-probe")

	sc := cli.NewSignalContext(cmd.Context())
	defer sc.Cancel()

	err := cli.Execute(sc, cfg, cli.RunOptions{
		Input:     strings.TrimSpace(strings.Join(args, " ")),
		JSON:      jsonMode,
		Verbose:   verbose,
		Quiet:     quiet || jsonMode,
		SkipProbe: skipProbe,
		SaveTo:    saveTo,
	})
	if sc.Interrupted(err, 100*time.Millisecond) {
		return nil
	}
	return err
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Speak JSON lines on stdin/stdout")
	cmd.Flags().BoolP("verbose", "v", false, "Print status messages and skipped records")
	cmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
	cmd.Flags().String("save", "", "Write the final session snapshot to this JSON file")
	cmd.Flags().String("nats-url", "", "Mirror every event to this NATS server")
}

func init() {
	rootCmd.AddCommand(runCmd)
	addSessionFlags(runCmd)
	runCmd.Flags().String("base-url", "", "Backend base URL")
	runCmd.Flags().String("stream-path", "", "Streaming workflow endpoint")
	runCmd.Flags().String("start-path", "", "Endpoint returning a server-assigned thread id")
	runCmd.Flags().String("continue-path", "", "Endpoint receiving each clarification answer")
	runCmd.Flags().String("pipeline-path", "", "Endpoint streamed once clarification completes")
	runCmd.Flags().Bool("skip-probe", false, "Do not check /health before starting")
}
