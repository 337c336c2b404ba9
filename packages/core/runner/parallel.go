package runner

import (
	"context"
	"fmt"
	"maps"

	"github.com/abdul-hamid-achik/stagespec/packages/core/executor"
	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
	"github.com/abdul-hamid-achik/stagespec/packages/parallel"
)

// runParallel fans the stage out and commits the reduced saves once every
// iteration has succeeded.
func (r *Runner) runParallel(ctx context.Context, sess *executor.Session, stage *scenario.Stage, injected map[string]any, rep *StageReport) error {
	overlays, err := stage.FanOut.Iterations()
	if err != nil {
		return fmt.Errorf("stage %q: %w", stage.Name, err)
	}
	settings := stage.FanOut.Settings()

	limit := settings.MaxConcurrency
	if limit <= 0 {
		limit = r.config.Concurrency
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	agg := parallel.Run(ctx, overlays,
		func(ctx context.Context, i int, overlay map[string]any) (*executor.StageResult, error) {
			return r.executor.ExecuteIteration(ctx, sess, stage, injected, overlay, i)
		},
		parallel.Options{
			MaxConcurrency: limit,
			FailFast:       settings.FailFast,
			Rate:           settings.Rate,
			Burst:          settings.Burst,
			Logger:         r.config.Logger,
		})

	rep.Iterations = iterationReports(overlays, agg)
	rep.Latency = &agg.Latency

	if !agg.OK() {
		first := agg.FirstError
		if first == nil && ctx.Err() != nil {
			first = ctx.Err()
		}
		return &FanOutError{
			Stage:     stage.Name,
			Total:     len(overlays),
			Failed:    agg.Failed,
			Cancelled: agg.Cancelled,
			First:     first,
		}
	}

	delta := reduce(settings.Save, agg.Results)
	sess.Commit(delta)
	rep.Saved = delta

	r.logger.Debug("parallel stage passed",
		"session", sess.ID, "stage", stage.Name, "iterations", len(overlays),
		"save", string(settings.Save), "saved", len(delta), "p95", agg.Latency.P95)
	return nil
}

func iterationReports(overlays []map[string]any, agg *parallel.Aggregate[*executor.StageResult]) []*IterationReport {
	out := make([]*IterationReport, len(agg.Results))
	for i, o := range agg.Results {
		it := &IterationReport{Index: i, Overlay: overlays[i], Error: o.Err, Duration: o.Duration}
		switch {
		case o.Cancelled:
			it.Status = StatusSkipped
		case o.Err != nil:
			it.Status = StatusFailed
		default:
			it.Status = StatusPassed
		}
		if o.Value != nil {
			it.Response = o.Value.Response
		}
		out[i] = it
	}
	return out
}

// reduce folds the deltas of successful iterations according to policy.
func reduce(policy scenario.SavePolicy, results []parallel.Outcome[*executor.StageResult]) map[string]any {
	delta := func(o parallel.Outcome[*executor.StageResult]) (map[string]any, bool) {
		if o.Err != nil || o.Cancelled || o.Value == nil {
			return nil, false
		}
		return o.Value.Delta, true
	}

	switch policy {
	case scenario.SaveLast:
		for i := len(results) - 1; i >= 0; i-- {
			if d, ok := delta(results[i]); ok {
				return cloneMap(d)
			}
		}
		return nil

	case scenario.SaveMerge:
		out := make(map[string]any)
		for _, o := range results {
			if d, ok := delta(o); ok {
				maps.Copy(out, d)
			}
		}
		return out

	case scenario.SaveCollect:
		out := make(map[string]any)
		for _, o := range results {
			d, _ := delta(o)
			for k := range d {
				if _, seen := out[k]; !seen {
					out[k] = make([]any, len(results))
				}
			}
		}
		for i, o := range results {
			d, _ := delta(o)
			for k, v := range d {
				out[k].([]any)[i] = v
			}
		}
		return out
	}
	return nil
}
