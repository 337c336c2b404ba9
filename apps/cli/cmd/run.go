package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/stagespec/packages/core/config"
	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
	"github.com/abdul-hamid-achik/stagespec/packages/core/env"
	"github.com/abdul-hamid-achik/stagespec/packages/core/runner"
	"github.com/abdul-hamid-achik/stagespec/packages/output"
)

var runCmd = &cobra.Command{
	Use:   "run <file|directory>...",
	Short: "Run scenarios",
	Long: `Run the scenarios in the given files. Directories are searched for
*.scenario.yaml, *.scenario.yml and *.scenario.json files.

Examples:
  stagespec run users.scenario.yaml
  stagespec run ./scenarios --env staging
  stagespec run ./scenarios --name "create*" -v
  stagespec run login.scenario.yaml --var username=alice --var retries=3
  stagespec run ./scenarios -o json --output-file report.json
  stagespec run ./scenarios --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	envFlag         string
	envFileFlag     string
	varFlags        []string
	nameFlag        string
	verboseFlag     bool
	outputFlag      string
	outputFileFlag  string
	bailFlag        bool
	timeoutFlag     time.Duration
	concurrencyFlag int
	retriesFlag     int
	proxyFlag       string
	insecureFlag    bool
	watchFlag       bool
)

func init() {
	// Core flags
	runCmd.Flags().StringVarP(&envFlag, "env", "e", getEnvString("STAGESPEC_ENV", ""), "Environment to use (env: STAGESPEC_ENV)")
	runCmd.Flags().StringVar(&envFileFlag, "env-file", getEnvString("STAGESPEC_ENV_FILE", ""), "Path to a .env file exported before the run (env: STAGESPEC_ENV_FILE)")
	runCmd.Flags().StringArrayVar(&varFlags, "var", nil, "Set a global variable (name=value, value parsed as YAML); repeatable")
	runCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Run only stages matching name pattern (supports leading/trailing *)")

	// Output flags
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show requests, saved variables and iteration failures")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format: console, json (env: STAGESPEC_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("STAGESPEC_OUTPUT_FILE", ""), "Write the report to a file (default: stdout) (env: STAGESPEC_OUTPUT_FILE)")

	// Execution flags
	runCmd.Flags().BoolVar(&bailFlag, "bail", false, "Stop after the first failing scenario (env: STAGESPEC_BAIL)")
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "Request timeout (e.g., 30s, 1m) (env: STAGESPEC_TIMEOUT in ms)")
	runCmd.Flags().IntVar(&concurrencyFlag, "concurrency", config.DefaultConcurrency, "Default iteration limit for parallel stages (env: STAGESPEC_CONCURRENCY)")
	runCmd.Flags().IntVar(&retriesFlag, "retries", 0, "Default retries for stages without a retry section (env: STAGESPEC_RETRIES)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run scenarios")

	// Network flags
	runCmd.Flags().StringVar(&proxyFlag, "proxy", "", "Proxy URL for HTTP requests (env: STAGESPEC_PROXY)")
	runCmd.Flags().BoolVarP(&insecureFlag, "insecure", "k", false, "Disable SSL certificate validation")
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return val == "yes"
		}
		return b
	}
	return defaultVal
}

// runOverrides returns the run flags the user actually set, as a config
// layer for config.Merge.
func runOverrides(cmd *cobra.Command) *config.Config {
	flags := cmd.Flags()
	o := &config.Config{
		DefaultEnvironment: envFlag,
		Proxy:              proxyFlag,
		Output:             outputFlag,
	}
	if flags.Changed("timeout") {
		o.Timeout = int(timeoutFlag.Milliseconds())
	}
	if flags.Changed("concurrency") {
		o.Concurrency = concurrencyFlag
	}
	if flags.Changed("retries") {
		o.Retries = retriesFlag
	}
	if flags.Changed("bail") {
		o.Bail = config.BoolPtr(bailFlag)
	}
	if flags.Changed("verbose") {
		o.Verbose = config.BoolPtr(verboseFlag)
	}
	if flags.Changed("insecure") {
		o.ValidateSSL = config.BoolPtr(!insecureFlag)
	}
	return o
}

// runnerConfig maps the merged configuration onto the runner.
func runnerConfig(cfg *config.Config, vars map[string]any, logger *slog.Logger) *runner.Config {
	return &runner.Config{
		Environment:        cfg.DefaultEnvironment,
		Environments:       cfg.Environments,
		Variables:          vars,
		Timeout:            cfg.TimeoutDuration(),
		FollowRedirect:     cfg.GetFollowRedirects(),
		MaxRedirects:       cfg.MaxRedirects,
		Insecure:           !cfg.GetValidateSSL(),
		Proxy:              cfg.Proxy,
		Headers:            cfg.Headers,
		Concurrency:        cfg.Concurrency,
		Retries:            cfg.Retries,
		RetryDelay:         cfg.RetryDelayDuration(),
		MaxComprehension:   cfg.MaxComprehension,
		RootDir:            cfg.RootDir,
		MaxParentTraversal: config.IntPtr(cfg.GetMaxParentTraversal()),
		MergeLists:         cfg.GetMergeLists(),
		NameFilter:         nameFlag,
		Logger:             logger,
	}
}

// parseVars turns name=value pairs into global variables. Values are YAML
// scalars or flow collections, so --var n=3 is a number.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q (want name=value)", pair)
		}
		if raw == "" {
			vars[name] = ""
			continue
		}
		value, err := document.Decode([]byte(raw), ".yaml")
		if err != nil {
			// Not valid YAML; keep the text as given.
			value = raw
		}
		vars[name] = value
	}
	return vars, nil
}

// runStats summarizes one pass over the scenario files.
type runStats struct {
	scenarios  int
	failed     int
	loadErrors int
}

func (s runStats) exitError() error {
	switch {
	case s.loadErrors > 0:
		return &ExitError{Code: ExitParseError}
	case s.failed > 0:
		return &ExitError{Code: ExitTestFailure}
	}
	return nil
}

// runFiles runs every file in order and reports each result.
func runFiles(ctx context.Context, r *runner.Runner, files []string, reporter output.Reporter, bail bool) runStats {
	var stats runStats
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}

		result, err := r.RunFile(ctx, file)
		if err != nil {
			reporter.FormatError(err)
			stats.loadErrors++
			if bail {
				break
			}
			continue
		}

		reporter.FormatResult(result)
		stats.scenarios++
		if !result.OK() || ctx.Err() != nil {
			stats.failed++
			if bail {
				break
			}
		}
	}
	return stats
}

func runCommand(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := base.Merge(runOverrides(cmd))
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cfg.Path != "" {
		logger.Debug("config loaded", "path", cfg.Path)
	}

	if envFileFlag != "" {
		if _, err := env.LoadAndExportDotEnv(envFileFlag); err != nil {
			return &ExitError{Code: ExitConfigError, Err: fmt.Errorf("loading env file: %w", err)}
		}
	}

	vars, err := parseVars(varFlags)
	if err != nil {
		return usageError("%v", err)
	}

	files, err := collectFiles(args)
	if err != nil {
		return usageError("%v", err)
	}
	if len(files) == 0 {
		return usageError("no scenario files found")
	}

	// Setup output writer
	var outWriter io.Writer = cmd.OutOrStdout()
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return fmt.Errorf("cannot create output file: %w", err)
		}
		defer f.Close()
		outWriter = f
	}

	newReporter := func() (output.Reporter, error) {
		return output.New(output.Options{
			Format:  cfg.Output,
			Writer:  outWriter,
			Verbose: cfg.GetVerbose(),
			NoColor: cfg.GetNoColor() || outputFileFlag != "",
		})
	}

	r := runner.NewRunner(runnerConfig(cfg, vars, logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runOnce := func(files []string) (runStats, error) {
		reporter, err := newReporter()
		if err != nil {
			return runStats{}, &ExitError{Code: ExitConfigError, Err: err}
		}
		reporter.FormatHeader(version)

		start := time.Now()
		stats := runFiles(ctx, r, files, reporter, cfg.GetBail())
		if err := reporter.Flush(time.Since(start)); err != nil {
			return stats, fmt.Errorf("error writing output: %w", err)
		}
		return stats, nil
	}

	stats, err := runOnce(files)
	if err != nil {
		return err
	}
	if !watchFlag {
		return stats.exitError()
	}

	return watch(ctx, cmd, args, files, logger, func() {
		files, err := collectFiles(args)
		if err != nil {
			logger.Error("collecting files", "error", err)
			return
		}
		if _, err := runOnce(files); err != nil {
			logger.Error("re-running scenarios", "error", err)
		}
	})
}

// watch calls rerun after a scenario document or .env file under the
// watched directories changes. Bursts of events within WatchDebounceDelay
// trigger one run.
func watch(ctx context.Context, cmd *cobra.Command, args, files []string, logger *slog.Logger, rerun func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Add files and directories to watch
	watchedDirs := make(map[string]bool)
	for _, file := range files {
		dir := filepath.Dir(file)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				logger.Warn("cannot watch directory", "dir", dir, "error", err)
			}
			watchedDirs[dir] = true
		}
	}

	// Also watch the original args if they're directories
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err == nil && info.IsDir() {
			_ = filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() && !watchedDirs[path] {
					_ = watcher.Add(path)
					watchedDirs[path] = true
				}
				return nil
			})
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	var debounceTimer *time.Timer
	changed := make(chan string, 1)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !document.IsDocument(event.Name) && !isEnvFile(event.Name) {
				continue
			}
			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case changed <- name:
				default:
				}
			})

		case name := <-changed:
			fmt.Fprintf(cmd.OutOrStdout(), "\n\nFile changed: %s\nRe-running scenarios...\n\n", name)
			rerun()
			fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

// collectFiles expands directories into the scenario files they contain.
// Files named explicitly are taken as given.
func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			err := filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isScenarioFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else if document.IsDocument(arg) {
			files = append(files, arg)
		}
	}

	return files, nil
}

// isScenarioFile matches *.scenario.{yaml,yml,json}. Other documents in a
// directory are fragments reached through $ref.
func isScenarioFile(path string) bool {
	if !document.IsDocument(path) {
		return false
	}
	base := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), ".scenario")
}

func isEnvFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".env")
}
