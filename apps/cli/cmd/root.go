package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/stagespec/packages/core/config"
	"github.com/abdul-hamid-achik/stagespec/packages/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configFlag    string
	logLevelFlag  string
	logFormatFlag string
	noColorFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "stagespec",
	Short: "Multi-stage HTTP API scenarios. Plain YAML.",
	Long: `stagespec runs HTTP API scenarios written as YAML or JSON documents.

A scenario is an ordered list of stages. Each stage sends one request,
saves values from the response and verifies it. Saved values flow into
later stages through {{ expression }} templates, and a stage can fan out
into bounded parallel iterations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", getEnvString("STAGESPEC_CONFIG", ""), "Path to config file (env: STAGESPEC_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: color, text, json")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", getEnvBool("NO_COLOR", false), "Disable colored output (env: NO_COLOR)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: fmt.Errorf("loading config: %w", err)}
	}

	override := &config.Config{
		LogLevel:  logLevelFlag,
		LogFormat: logFormatFlag,
	}
	if cmd.Flags().Changed("no-color") || noColorFlag {
		override.NoColor = config.BoolPtr(noColorFlag)
	}
	return cfg.Merge(override), nil
}

// newLogger builds the diagnostics logger. Logs go to w, never to the
// report stream.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}
	logger, err := logging.New(w, logging.Options{
		Level:   level,
		Format:  cfg.LogFormat,
		NoColor: cfg.GetNoColor(),
	})
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}
	return logger, nil
}
