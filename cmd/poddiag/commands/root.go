package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moolen/poddiag/internal/engine"
	"github.com/moolen/poddiag/internal/logging"
)

var (
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "poddiag",
	Short: "poddiag - explain why a Kubernetes pod is failing",
	Long: `poddiag is a read-only diagnostic reasoning engine for Kubernetes
workloads. Given a snapshot of a failing pod plus related cluster objects
it produces a deterministic explanation of the most likely root cause,
with evidence, a confidence score, and suggested next checks.`,
	Version: engine.Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info",
		"Log level: debug, info, warn, error")

	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(rulesCmd)
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// setupLog initializes the logging system from the log-level flag
func setupLog() {
	logging.Initialize(logLevelFlag)
}
