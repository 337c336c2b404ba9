package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/stagespec/packages/core/runner"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Reporter receives the results of a run.
type Reporter interface {
	FormatHeader(version string)
	FormatResult(result *runner.RunResult)
	FormatError(err error)
	// Flush writes anything still buffered. totalDuration covers the whole
	// run.
	Flush(totalDuration time.Duration) error
}

// Options selects the formatter built by New.
type Options struct {
	Format  string
	Writer  io.Writer
	Verbose bool
	NoColor bool
}

// New returns the reporter for opts.Format.
func New(opts Options) (Reporter, error) {
	switch strings.ToLower(opts.Format) {
	case FormatJSON:
		jsonOpts := []JSONOption{}
		if opts.Writer != nil {
			jsonOpts = append(jsonOpts, JSONWithWriter(opts.Writer))
		}
		return NewJSONFormatter(jsonOpts...), nil
	case FormatConsole, "":
		consoleOpts := []ConsoleOption{WithVerbose(opts.Verbose), WithNoColor(opts.NoColor)}
		if opts.Writer != nil {
			consoleOpts = append(consoleOpts, WithWriter(opts.Writer))
		}
		return NewConsoleFormatter(consoleOpts...), nil
	}
	return nil, fmt.Errorf("unknown output format %q (use console or json)", opts.Format)
}

// formatValue formats a value for display, summarizing large values.
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	case string:
		v = fmt.Sprintf("%q", val)
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}
