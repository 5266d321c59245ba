package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/aretw0/prdflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.True(t, strings.HasPrefix(runCLI(t, "version"), "prdflow version "))
}

func TestGraphCommand(t *testing.T) {
	out := runCLI(t, "graph")
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `clarifier[/"clarifier"/]`)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, runCmd.ParseFlags([]string{"--base-url", "http://flag:1", "--start-path", "/start_conversation"}))
	t.Cleanup(func() {
		runCmd.Flags().Set("base-url", "")
		runCmd.Flags().Set("start-path", "")
	})

	cfg, err := loadConfig(runCmd)
	require.NoError(t, err)
	assert.Equal(t, "http://flag:1", cfg.Stream.BaseURL)
	assert.Equal(t, "/start_conversation", cfg.Stream.StartPath)
	assert.Equal(t, config.Default().Stream.StreamPath, cfg.Stream.StreamPath)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
