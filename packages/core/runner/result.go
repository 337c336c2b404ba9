package runner

import (
	"time"

	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/parallel"
)

// Status is the reported outcome of a stage or iteration.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	// StatusXFailed marks an expected failure.
	StatusXFailed Status = "xfailed"
)

// Skip reasons set by the runner.
const (
	ReasonAborted   = "aborted"
	ReasonFiltered  = "filtered out"
	ReasonCancelled = "cancelled"
)

type RunResult struct {
	File     string
	Scenario string
	// SessionID identifies the run in logs.
	SessionID string
	Stages    []*StageReport
	Duration  time.Duration
	Passed    int
	Failed    int
	Skipped   int
	XFailed   int
}

// OK reports whether no stage failed.
func (r *RunResult) OK() bool { return r.Failed == 0 }

func (r *RunResult) add(rep *StageReport) {
	r.Stages = append(r.Stages, rep)
	switch rep.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	case StatusXFailed:
		r.XFailed++
	}
}

type StageReport struct {
	Name   string
	Status Status
	// Reason explains a skip or a failure.
	Reason   string
	Error    error
	Attempts int
	Duration time.Duration

	// Set for single stages.
	Request  *http.Request
	Response *http.Response
	// Saved holds the values the stage committed to the global scope.
	Saved map[string]any

	// Set for parallel stages.
	Iterations []*IterationReport
	Latency    *parallel.LatencySummary
}

// Parallel reports whether the stage fanned out.
func (s *StageReport) Parallel() bool { return s.Iterations != nil }

type IterationReport struct {
	Index    int
	Status   Status
	Overlay  map[string]any
	Error    error
	Duration time.Duration
	Response *http.Response
}
