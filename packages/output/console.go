package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/stagespec/packages/assertions"
	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
	"github.com/abdul-hamid-achik/stagespec/packages/core/runner"
	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
)

type palette struct {
	green, red, yellow, cyan, magenta, bold *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		green:   color.New(color.FgGreen),
		red:     color.New(color.FgRed),
		yellow:  color.New(color.FgYellow),
		cyan:    color.New(color.FgCyan),
		magenta: color.New(color.FgMagenta),
		bold:    color.New(color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{p.green, p.red, p.yellow, p.cyan, p.magenta, p.bold} {
			c.DisableColor()
		}
	}
	return p
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
	colors  palette

	passed, failed, skipped, xfailed int
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.colors = newPalette(f.noColor)
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatResult(result *runner.RunResult) {
	c := f.colors
	title := result.Scenario
	if result.File != "" {
		title += " (" + result.File + ")"
	}
	fmt.Fprintf(f.writer, "\n%s\n\n", c.bold.Sprint("Scenario: "+title))

	for _, s := range result.Stages {
		f.formatStage(s)
	}

	f.passed += result.Passed
	f.failed += result.Failed
	f.skipped += result.Skipped
	f.xfailed += result.XFailed

	fmt.Fprintf(f.writer, "\n")
	f.summary("Stages:", result.Passed, result.Failed, result.Skipped, result.XFailed)
	fmt.Fprintf(f.writer, "Time:   %dms\n", result.Duration.Milliseconds())
}

func (f *ConsoleFormatter) formatStage(s *runner.StageReport) {
	c := f.colors
	timing := c.cyan.Sprintf("(%dms)", s.Duration.Milliseconds())

	switch s.Status {
	case runner.StatusSkipped:
		fmt.Fprintf(f.writer, "  %s %s", c.yellow.Sprint("-"), s.Name)
		if s.Reason != "" && s.Reason != runner.ReasonFiltered {
			fmt.Fprintf(f.writer, " (%s)", s.Reason)
		}
		fmt.Fprintf(f.writer, "\n")
		return
	case runner.StatusPassed:
		fmt.Fprintf(f.writer, "  %s %s %s", c.green.Sprint("✓"), s.Name, timing)
	case runner.StatusXFailed:
		fmt.Fprintf(f.writer, "  %s %s %s %s", c.magenta.Sprint("✗"), s.Name, timing, c.magenta.Sprint("expected failure"))
	default:
		fmt.Fprintf(f.writer, "  %s %s %s", c.red.Sprint("✗"), s.Name, timing)
	}
	if s.Attempts > 1 {
		fmt.Fprintf(f.writer, " %s", c.yellow.Sprintf("[%d attempts]", s.Attempts))
	}
	fmt.Fprintf(f.writer, "\n")

	if s.Parallel() {
		f.formatIterations(s)
	} else if f.verbose && s.Request != nil && s.Response != nil {
		fmt.Fprintf(f.writer, "    %s %s -> %d\n", s.Request.Method, s.Request.URL, s.Response.StatusCode)
	}

	if s.Status == runner.StatusFailed || (f.verbose && s.Status == runner.StatusXFailed) {
		f.formatError(s.Error)
	}

	if f.verbose && len(s.Saved) > 0 {
		fmt.Fprintf(f.writer, "    Saved:\n")
		for _, name := range document.SortedKeys(s.Saved) {
			fmt.Fprintf(f.writer, "      %s = %s\n", name, formatValue(s.Saved[name], 100))
		}
	}
}

func (f *ConsoleFormatter) formatIterations(s *runner.StageReport) {
	c := f.colors
	var passed, failed, cancelled int
	for _, it := range s.Iterations {
		switch it.Status {
		case runner.StatusPassed:
			passed++
		case runner.StatusFailed:
			failed++
		default:
			cancelled++
		}
	}
	fmt.Fprintf(f.writer, "    %d iterations: %d passed", len(s.Iterations), passed)
	if failed > 0 {
		fmt.Fprintf(f.writer, ", %s", c.red.Sprintf("%d failed", failed))
	}
	if cancelled > 0 {
		fmt.Fprintf(f.writer, ", %s", c.yellow.Sprintf("%d cancelled", cancelled))
	}
	if s.Latency != nil && s.Latency.Count > 0 {
		fmt.Fprintf(f.writer, " %s", c.cyan.Sprintf("p50=%s p95=%s p99=%s",
			s.Latency.P50.Round(time.Millisecond), s.Latency.P95.Round(time.Millisecond), s.Latency.P99.Round(time.Millisecond)))
	}
	fmt.Fprintf(f.writer, "\n")

	if !f.verbose {
		return
	}
	for _, it := range s.Iterations {
		if it.Status != runner.StatusFailed {
			continue
		}
		fmt.Fprintf(f.writer, "    %s iteration %d %s: %v\n", c.red.Sprint("→"), it.Index, formatOverlay(it.Overlay), it.Error)
	}
}

func formatOverlay(overlay map[string]any) string {
	keys := document.SortedKeys(overlay)
	keys = slices.DeleteFunc(keys, func(k string) bool { return k == scenario.IterationKey })
	if len(keys) == 0 {
		return ""
	}
	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k + "=" + formatValue(overlay[k], 40)
	}
	return out + "}"
}

func (f *ConsoleFormatter) formatError(err error) {
	if err == nil {
		return
	}
	c := f.colors
	fmt.Fprintf(f.writer, "    %s %v\n", c.red.Sprint("→"), err)

	var failure *assertions.Failure
	if errors.As(err, &failure) && (failure.Expected != nil || failure.Actual != nil) {
		fmt.Fprintf(f.writer, "      Expected: %s\n", formatValue(failure.Expected, 100))
		fmt.Fprintf(f.writer, "      Actual:   %s\n", formatValue(failure.Actual, 100))
	}
}

func (f *ConsoleFormatter) summary(label string, passed, failed, skipped, xfailed int) {
	c := f.colors
	fmt.Fprintf(f.writer, "%s ", label)
	if passed > 0 {
		fmt.Fprintf(f.writer, "%s, ", c.green.Sprintf("%d passed", passed))
	}
	if failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", c.red.Sprintf("%d failed", failed))
	}
	if xfailed > 0 {
		fmt.Fprintf(f.writer, "%s, ", c.magenta.Sprintf("%d expected failures", xfailed))
	}
	if skipped > 0 {
		fmt.Fprintf(f.writer, "%s, ", c.yellow.Sprintf("%d skipped", skipped))
	}
	fmt.Fprintf(f.writer, "%d total\n", passed+failed+skipped+xfailed)
}

func (f *ConsoleFormatter) FormatError(err error) {
	fmt.Fprintf(f.writer, "%s %v\n", f.colors.red.Sprint("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	fmt.Fprintf(f.writer, "%s %s\n", f.colors.bold.Sprint("stagespec"), version)
}

// Flush prints the totals across every scenario of the run.
func (f *ConsoleFormatter) Flush(totalDuration time.Duration) error {
	fmt.Fprintf(f.writer, "\n")
	f.summary("Total:", f.passed, f.failed, f.skipped, f.xfailed)
	fmt.Fprintf(f.writer, "Time:   %dms\n\n", totalDuration.Milliseconds())
	return nil
}
