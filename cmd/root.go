package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adergaoui/b2up/internal/config"
	"github.com/adergaoui/b2up/internal/failure"
	"github.com/adergaoui/b2up/internal/logger"
	"github.com/adergaoui/b2up/internal/orchestrator"
	"github.com/adergaoui/b2up/internal/report"
)

var (
	// configFile is the path to the orchestrator YAML configuration.
	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "b2up",
		Short: "restic backup orchestrator for Backblaze B2",
		Long: `b2up drives restic against a Backblaze B2 repository: it
validates the configuration bundle, resolves the backup path list,
runs the backup with retry on transient network failure, applies the
retention policy and verifies repository integrity.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := logger.Init(verbose)
			return err
		},
	}
)

// Execute runs the root command and returns the process exit code.
// Every terminal failure prints the structured failure report before
// the process exits with the code of the failing phase.
func Execute() int {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		code := failure.ExitCode(err)
		report.WriteFailure(os.Stderr, time.Now(), failure.Phase(err), code, err.Error())
		logger.Global().Error("run failed", "phase", failure.Phase(err), "code", code)
		return code
	}
	return failure.ExitOK
}

// newOrchestrator loads the configuration and builds the orchestrator
// shared by all subcommands.
func newOrchestrator() (*orchestrator.Orchestrator, error) {
	var cfg config.Config
	if err := cfg.Load(configFile); err != nil {
		return nil, failure.New(failure.Config, "load-config", err)
	}
	return orchestrator.New(cfg, logger.Global(), os.Stdout), nil
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configFile, "config", "c", "/etc/b2up/b2up.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(historyCmd)
}
