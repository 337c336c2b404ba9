package runner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/stagespec/packages/builtin"
	"github.com/abdul-hamid-achik/stagespec/packages/core/env"
	"github.com/abdul-hamid-achik/stagespec/packages/core/executor"
	"github.com/abdul-hamid-achik/stagespec/packages/core/refs"
	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
	"github.com/abdul-hamid-achik/stagespec/packages/expr"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/logging"
	"github.com/abdul-hamid-achik/stagespec/packages/registry"
)

const (
	// DefaultConcurrency bounds parallel stages that set no max_concurrency.
	DefaultConcurrency = 5
	// DefaultRetryDelay is used between stage attempts when a stage sets
	// retries without a delay.
	DefaultRetryDelay = time.Second
)

// FixtureFunc returns the external values injected into a stage's local
// scope.
type FixtureFunc func(ctx context.Context, stage *scenario.Stage) (map[string]any, error)

type Config struct {
	Environment  string
	Environments map[string]map[string]any
	// Variables seed the global scope after the environment.
	Variables map[string]any

	Timeout        time.Duration
	FollowRedirect bool
	MaxRedirects   int
	Insecure       bool
	Proxy          string
	Headers        map[string]string

	Concurrency int
	// Retries and RetryDelay apply to stages without a retry section.
	Retries    int
	RetryDelay time.Duration

	MaxComprehension int
	RootDir          string
	// MaxParentTraversal limits ".." segments in file references; nil keeps
	// the resolver default and zero forbids them.
	MaxParentTraversal *int
	MergeLists         bool

	NameFilter string
	Fixtures   FixtureFunc

	Registry  *registry.Registry
	Transport executor.Transport
	Logger    *slog.Logger
}

type Runner struct {
	executor *executor.Executor
	resolver *refs.Resolver
	config   *Config
	logger   *slog.Logger
}

func NewRunner(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := logging.Component(cfg.Logger, "runner")

	transport := cfg.Transport
	if transport == nil {
		clientOpts := []http.ClientOption{
			http.WithFollowRedirects(cfg.FollowRedirect),
			http.WithValidateSSL(!cfg.Insecure),
			http.WithLogger(cfg.Logger),
		}
		if cfg.Timeout > 0 {
			clientOpts = append(clientOpts, http.WithTimeout(cfg.Timeout))
		}
		if cfg.MaxRedirects > 0 {
			clientOpts = append(clientOpts, http.WithMaxRedirects(cfg.MaxRedirects))
		}
		if len(cfg.Headers) > 0 {
			clientOpts = append(clientOpts, http.WithDefaultHeaders(cfg.Headers))
		}
		if cfg.Proxy != "" {
			clientOpts = append(clientOpts, http.WithProxy(cfg.Proxy))
		}
		transport = http.NewClient(clientOpts...)
	}

	exprOpts := []expr.Option{builtin.NewRegistry().Option()}
	if cfg.MaxComprehension > 0 {
		exprOpts = append(exprOpts, expr.WithMaxComprehension(cfg.MaxComprehension))
	}

	resolverOpts := []refs.Option{
		refs.WithListMerge(cfg.MergeLists),
		refs.WithLogger(cfg.Logger),
	}
	if cfg.RootDir != "" {
		resolverOpts = append(resolverOpts, refs.WithRootDir(cfg.RootDir))
	}
	if cfg.MaxParentTraversal != nil {
		resolverOpts = append(resolverOpts, refs.WithMaxParentTraversal(*cfg.MaxParentTraversal))
	}

	return &Runner{
		executor: executor.New(transport, cfg.Registry,
			executor.WithLogger(cfg.Logger),
			executor.WithExprOptions(exprOpts...)),
		resolver: refs.NewResolver(resolverOpts...),
		config:   cfg,
		logger:   logger,
	}
}

// LoadFile resolves the references in path and decodes the scenario.
func (r *Runner) LoadFile(path string) (*scenario.Scenario, error) {
	doc, err := r.resolver.ResolveFile(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	sc, err := scenario.Decode(doc)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	sc.Path = path
	return sc, nil
}

// RunFile loads and runs the scenario in path. The returned error covers
// loading only; stage failures are reported in the result.
func (r *Runner) RunFile(ctx context.Context, path string) (*RunResult, error) {
	sc, err := r.LoadFile(path)
	if err != nil {
		return nil, err
	}

	environment, err := env.LoadEnvironment(filepath.Dir(path), r.config.Environment, r.config.Environments)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	result := r.RunScenario(ctx, sc, env.MergeVariables(environment.Variables, r.config.Variables))
	result.File = path
	return result, nil
}

// RunScenario runs the stages of sc in order with global as the initial
// global scope.
func (r *Runner) RunScenario(ctx context.Context, sc *scenario.Scenario, global map[string]any) *RunResult {
	start := time.Now()
	sess := executor.NewSession(sc, global)
	result := &RunResult{File: sc.Path, Scenario: sc.Name, SessionID: sess.ID}
	logger := r.logger.With("session", sess.ID, "scenario", sc.Name)
	logger.Info("scenario started", "stages", len(sc.Stages))

	aborted := false
	for _, stage := range sc.Stages {
		rep := r.runStage(ctx, sess, stage, aborted)
		result.add(rep)

		switch rep.Status {
		case StatusFailed:
			if !aborted {
				logger.Warn("scenario aborted", "stage", stage.Name, "error", rep.Error)
			}
			aborted = true
		case StatusXFailed:
			logger.Info("expected failure", "stage", stage.Name, "error", rep.Error)
		}
	}

	result.Duration = time.Since(start)
	logger.Info("scenario finished",
		"passed", result.Passed, "failed", result.Failed,
		"skipped", result.Skipped, "xfailed", result.XFailed,
		"duration", result.Duration)
	return result
}

func (r *Runner) runStage(ctx context.Context, sess *executor.Session, stage *scenario.Stage, aborted bool) *StageReport {
	rep := &StageReport{Name: stage.Name}

	switch {
	case ctx.Err() != nil:
		return skipped(rep, ReasonCancelled)
	case aborted && !stage.AlwaysRun:
		return skipped(rep, ReasonAborted)
	case stage.Skip:
		return skipped(rep, stage.SkipReason)
	case !matchesPattern(stage.Name, r.config.NameFilter):
		return skipped(rep, ReasonFiltered)
	}

	start := time.Now()
	err := r.attempts(ctx, sess, stage, rep)
	rep.Duration = time.Since(start)

	switch {
	case err == nil:
		rep.Status = StatusPassed
	case stage.ExpectFail:
		rep.Status = StatusXFailed
		rep.Error = err
		rep.Reason = err.Error()
	default:
		rep.Status = StatusFailed
		rep.Error = err
		rep.Reason = err.Error()
	}
	return rep
}

func skipped(rep *StageReport, reason string) *StageReport {
	rep.Status = StatusSkipped
	rep.Reason = reason
	return rep
}

// attempts runs the stage with its delays and retry policy.
func (r *Runner) attempts(ctx context.Context, sess *executor.Session, stage *scenario.Stage, rep *StageReport) error {
	injected, err := r.fixtures(ctx, stage)
	if err != nil {
		return fmt.Errorf("stage %q: fixtures: %w", stage.Name, err)
	}

	if err := sleep(ctx, stage.DelayBefore); err != nil {
		return err
	}

	retries, delay := r.retryPolicy(stage)
	for attempt := 0; ; attempt++ {
		rep.Attempts = attempt + 1
		if stage.FanOut != nil {
			err = r.runParallel(ctx, sess, stage, injected, rep)
		} else {
			err = r.runSingle(ctx, sess, stage, injected, rep)
		}
		if err == nil || attempt >= retries || ctx.Err() != nil {
			break
		}
		r.logger.Debug("retrying stage", "session", sess.ID, "stage", stage.Name, "attempt", attempt+1, "error", err)
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	if err != nil {
		return err
	}

	return sleep(ctx, stage.DelayAfter)
}

func (r *Runner) retryPolicy(stage *scenario.Stage) (int, time.Duration) {
	if stage.Retry != nil {
		delay := stage.Retry.Delay
		if delay <= 0 {
			delay = DefaultRetryDelay
		}
		return stage.Retry.Max, delay
	}
	delay := r.config.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return r.config.Retries, delay
}

func (r *Runner) fixtures(ctx context.Context, stage *scenario.Stage) (map[string]any, error) {
	if r.config.Fixtures == nil {
		return nil, nil
	}
	return r.config.Fixtures(ctx, stage)
}

func (r *Runner) runSingle(ctx context.Context, sess *executor.Session, stage *scenario.Stage, injected map[string]any, rep *StageReport) error {
	res, err := r.executor.ExecuteStage(ctx, sess, stage, injected)
	if res != nil {
		rep.Request = res.Request
		rep.Response = res.Response
	}
	if err != nil {
		return err
	}
	rep.Saved = res.Delta
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FanOutError reports a parallel stage in which some iterations did not
// succeed.
type FanOutError struct {
	Stage     string
	Total     int
	Failed    int
	Cancelled int
	// First is the first iteration failure observed.
	First error
}

func (e *FanOutError) Error() string {
	msg := fmt.Sprintf("stage %q: %d of %d iterations failed", e.Stage, e.Failed, e.Total)
	if e.Cancelled > 0 {
		msg += fmt.Sprintf(", %d cancelled", e.Cancelled)
	}
	if e.First != nil {
		msg += ": " + e.First.Error()
	}
	return msg
}

func (e *FanOutError) Unwrap() error { return e.First }

func matchesPattern(name, pattern string) bool {
	if pattern == "" {
		return true
	}
	if name == "" {
		return false
	}

	if pattern[0] == '*' && pattern[len(pattern)-1] == '*' && len(pattern) > 1 {
		substr := pattern[1 : len(pattern)-1]
		for i := 0; i <= len(name)-len(substr); i++ {
			if name[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	}

	if pattern[0] == '*' {
		suffix := pattern[1:]
		return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
	}

	if pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(name) >= len(prefix) && name[:len(prefix)] == prefix
	}

	return name == pattern
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
