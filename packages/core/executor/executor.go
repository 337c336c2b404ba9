package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/stagespec/packages/assertions"
	"github.com/abdul-hamid-achik/stagespec/packages/capture"
	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
	"github.com/abdul-hamid-achik/stagespec/packages/core/vars"
	"github.com/abdul-hamid-achik/stagespec/packages/expr"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/registry"
	"github.com/abdul-hamid-achik/stagespec/packages/template"
)

// ResponseKey is the step scope variable holding the response.
const ResponseKey = "response"

// Transport sends resolved requests. *http.Client implements it.
type Transport interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type Executor struct {
	client   Transport
	registry *registry.Registry
	logger   *slog.Logger
	exprOpts []expr.Option
}

type Option func(*Executor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l.With("component", "executor")
		}
	}
}

// WithExprOptions applies opts to every expression the executor evaluates.
func WithExprOptions(opts ...expr.Option) Option {
	return func(e *Executor) {
		e.exprOpts = append(e.exprOpts, opts...)
	}
}

// New creates an Executor. A nil registry means registry.New().
func New(client Transport, reg *registry.Registry, opts ...Option) *Executor {
	if reg == nil {
		reg = registry.New()
	}
	e := &Executor{
		client:   client,
		registry: reg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StageResult is the outcome of one successful stage execution.
type StageResult struct {
	Stage     string
	Iteration int
	Request   *http.Request
	Response  *http.Response
	// Delta holds every value saved by the stage's save steps.
	Delta    map[string]any
	Duration time.Duration
}

// ExecuteStage runs stage and commits its saves to the session's global
// scope on success.
func (e *Executor) ExecuteStage(ctx context.Context, sess *Session, stage *scenario.Stage, injected map[string]any) (*StageResult, error) {
	res, err := e.execute(ctx, sess, stage, injected, NoIteration)
	if err != nil {
		return res, err
	}
	sess.Commit(res.Delta)
	return res, nil
}

// ExecuteIteration runs one fan-out iteration of stage with overlay merged
// into the injected values. Nothing is committed; reducing iteration deltas
// is the caller's job.
func (e *Executor) ExecuteIteration(ctx context.Context, sess *Session, stage *scenario.Stage, injected, overlay map[string]any, index int) (*StageResult, error) {
	values := maps.Clone(injected)
	if values == nil {
		values = make(map[string]any, len(overlay))
	}
	maps.Copy(values, overlay)
	return e.execute(ctx, sess, stage, values, index)
}

func (e *Executor) execute(ctx context.Context, sess *Session, stage *scenario.Stage, injected map[string]any, iteration int) (*StageResult, error) {
	start := time.Now()
	res := &StageResult{Stage: stage.Name, Iteration: iteration, Delta: make(map[string]any)}
	fail := func(phase Phase, err error) (*StageResult, error) {
		res.Duration = time.Since(start)
		e.logger.Debug("stage failed",
			"session", sess.ID, "stage", stage.Name, "iteration", iteration,
			"phase", string(phase), "error", err)
		return res, &StageError{Stage: stage.Name, Iteration: iteration, Phase: phase, Err: err}
	}

	local, err := e.layer(sess, stage, injected)
	if err != nil {
		return fail(PhaseVariables, err)
	}
	w := template.NewWalker(local, e.exprOpts...)

	rt := stage.Request
	if rt.HasTemplates() {
		resolved, err := rt.Substitute(w)
		if err != nil {
			return fail(PhaseRequest, err)
		}
		rt = resolved.(*scenario.RequestTemplate)
	}
	req, err := e.buildRequest(ctx, sess, rt)
	if err != nil {
		return fail(PhaseRequest, err)
	}
	res.Request = req

	e.logger.Debug("sending request",
		"session", sess.ID, "stage", stage.Name, "iteration", iteration,
		"method", req.Method, "url", req.URL)
	resp, err := e.client.Do(ctx, req)
	if err != nil {
		return fail(PhaseRequest, &RequestError{Method: req.Method, URL: req.URL, Err: err})
	}
	res.Response = resp

	respValue := responseValue(resp)
	for i, step := range stage.Steps {
		stepVars := local.Push(vars.ScopeStep, map[string]any{ResponseKey: respValue})
		sw := template.NewWalker(stepVars, e.exprOpts...)

		if step.HasTemplates() {
			resolved, err := step.Substitute(sw)
			if err != nil {
				return fail(phaseOf(step), stepError(step, i, err))
			}
			step = resolved.(scenario.Step)
		}
		if err := step.Validate(); err != nil {
			return fail(phaseOf(step), stepError(step, i, err))
		}

		switch s := step.(type) {
		case *scenario.SaveStep:
			delta, err := capture.Run(ctx, s, resp, stepVars, e.registry, e.exprOpts...)
			if err != nil {
				return fail(PhaseSave, &SaveError{Step: i, Err: err})
			}
			local.Innermost().Merge(delta)
			maps.Copy(res.Delta, delta)
		case *scenario.VerifyStep:
			err := assertions.Verify(ctx, s, resp, stepVars,
				assertions.WithBaseDir(sess.BaseDir),
				assertions.WithFunctions(e.registry),
				assertions.WithExprOptions(e.exprOpts...))
			if err != nil {
				return fail(PhaseVerify, &VerificationError{Step: i, Err: err})
			}
		}
	}

	res.Duration = time.Since(start)
	e.logger.Debug("stage passed",
		"session", sess.ID, "stage", stage.Name, "iteration", iteration,
		"status", resp.StatusCode, "saved", len(res.Delta), "duration", res.Duration)
	return res, nil
}

// layer builds the local context: global, then injected values, then the
// scenario variables, then the stage variables. Each layer is templated
// against the layers below it.
func (e *Executor) layer(sess *Session, stage *scenario.Stage, injected map[string]any) (*vars.Context, error) {
	local := sess.Vars.Push(vars.ScopeLocal, injected)
	w := template.NewWalker(local, e.exprOpts...)

	for _, declared := range []map[string]any{sess.Scenario.Variables, stage.Variables} {
		if len(declared) == 0 {
			continue
		}
		values, err := w.WalkMap(declared)
		if err != nil {
			return nil, err
		}
		local.Innermost().Merge(values)
	}
	return local, nil
}

func phaseOf(step scenario.Step) Phase {
	if step.Kind() == scenario.StepSave {
		return PhaseSave
	}
	return PhaseVerify
}

func stepError(step scenario.Step, i int, err error) error {
	if step.Kind() == scenario.StepSave {
		return &SaveError{Step: i, Err: err}
	}
	return &VerificationError{Step: i, Err: err}
}

func parseBody(body []byte) (any, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("body is not JSON")
	}
	return document.ParseJSON(body)
}
