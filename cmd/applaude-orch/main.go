package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "applaude-orch",
		Short: "Applaude Orchestrator - autonomous test-and-fix runs",
		Long: `Applaude Orchestrator runs autonomous remediation runs against user
repositories: it clones the repo, generates a test suite, executes it on the
external runner, fixes the failures, and delivers the result as a pull
request with a published report.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
