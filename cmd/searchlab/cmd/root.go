// Package cmd provides the CLI commands for searchlab.
package cmd

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchlab/internal/config"
	"github.com/searchlab/searchlab/internal/lab"
	"github.com/searchlab/searchlab/internal/logging"
)

// Version is the CLI version, overridable at build time.
var Version = "0.1.0"

var (
	flagDir      string
	flagJSON     bool
	flagFailFast bool
	flagLogLevel string
)

// NewRootCmd creates the root command for the searchlab CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searchlab",
		Short: "Experiment harness for search-tool pipelines",
		Long: `searchlab runs search tools (grep, find, keyword, semantic, ast) as
traced pipelines, records every run in a durable experiment ledger, and
optimizes pipeline parameters across studies with early pruning.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("searchlab version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", ".", "Project directory holding .searchlab.yaml and the data dir")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&flagFailFast, "fail-fast", false, "Abort a pipeline on the first stage failure")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newToolCmd())
	cmd.AddCommand(newPipelineCmd())
	cmd.AddCommand(newStudyCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newSchemasCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// buildLab loads configuration, sets up logging, and assembles the
// system. The returned cleanup closes the ledger and the log file.
func buildLab(ctx context.Context) (*lab.Lab, *slog.Logger, func(), error) {
	cfg, err := config.Load(flagDir)
	if err != nil {
		return nil, nil, nil, err
	}
	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(flagDir, cfg.DataDir)
	}
	if flagFailFast {
		cfg.Pipeline.FailFast = true
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "logs", "lab.log")
	}
	logCfg := logging.DefaultConfig(logFile)
	logCfg.Level = cfg.Logging.Level
	// JSON mode reserves stdout for results and keeps stderr quiet.
	logCfg.WriteToStderr = !flagJSON

	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, nil, err
	}

	l, err := lab.New(ctx, cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = l.Close()
		logCleanup()
	}
	return l, logger, cleanup, nil
}
