package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/stagespec/packages/assertions"
	"github.com/abdul-hamid-achik/stagespec/packages/core/executor"
	"github.com/abdul-hamid-achik/stagespec/packages/core/runner"
)

// JSONOutput represents the complete JSON output structure
type JSONOutput struct {
	Summary   JSONSummary    `json:"summary"`
	Scenarios []JSONScenario `json:"scenarios"`
	Errors    []string       `json:"errors,omitempty"`
	Duration  float64        `json:"duration"`
	Time      string         `json:"time"`
}

// JSONSummary counts stages across every scenario.
type JSONSummary struct {
	Scenarios int `json:"scenarios"`
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	XFailed   int `json:"xfailed"`
}

type JSONScenario struct {
	Name      string      `json:"name"`
	File      string      `json:"file,omitempty"`
	SessionID string      `json:"sessionId"`
	Passed    bool        `json:"passed"`
	Duration  float64     `json:"duration"`
	Stages    []JSONStage `json:"stages"`
}

type JSONStage struct {
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Duration   float64         `json:"duration"`
	Attempts   int             `json:"attempts,omitempty"`
	Error      *JSONError      `json:"error,omitempty"`
	Request    *JSONRequest    `json:"request,omitempty"`
	Response   *JSONResponse   `json:"response,omitempty"`
	Saved      map[string]any  `json:"saved,omitempty"`
	Iterations []JSONIteration `json:"iterations,omitempty"`
	Latency    *JSONLatency    `json:"latency,omitempty"`
}

// JSONError locates a failure.
type JSONError struct {
	Message   string `json:"message"`
	Phase     string `json:"phase,omitempty"`
	Iteration *int   `json:"iteration,omitempty"`
	Check     string `json:"check,omitempty"`
	Expected  any    `json:"expected,omitempty"`
	Actual    any    `json:"actual,omitempty"`
}

// JSONRequest represents request details
type JSONRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// JSONResponse represents response details
type JSONResponse struct {
	StatusCode int               `json:"statusCode"`
	Status     string            `json:"status"`
	Headers    map[string]string `json:"headers,omitempty"`
	Duration   float64           `json:"duration"`
}

type JSONIteration struct {
	Index    int            `json:"index"`
	Status   string         `json:"status"`
	Overlay  map[string]any `json:"overlay,omitempty"`
	Duration float64        `json:"duration"`
	Error    string         `json:"error,omitempty"`
}

// JSONLatency holds iteration latency percentiles in milliseconds.
type JSONLatency struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// JSONFormatter accumulates results and writes one document on Flush.
type JSONFormatter struct {
	writer    io.Writer
	scenarios []JSONScenario
	errors    []string
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer:    os.Stdout,
		scenarios: make([]JSONScenario, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (f *JSONFormatter) FormatResult(result *runner.RunResult) {
	sc := JSONScenario{
		Name:      result.Scenario,
		File:      result.File,
		SessionID: result.SessionID,
		Passed:    result.OK(),
		Duration:  ms(result.Duration),
		Stages:    make([]JSONStage, 0, len(result.Stages)),
	}

	for _, s := range result.Stages {
		stage := JSONStage{
			Name:     s.Name,
			Status:   string(s.Status),
			Reason:   s.Reason,
			Duration: ms(s.Duration),
			Attempts: s.Attempts,
			Error:    jsonError(s.Error),
			Saved:    s.Saved,
		}
		if s.Status == runner.StatusSkipped && s.Reason == runner.ReasonFiltered {
			stage.Reason = ""
		}

		if s.Request != nil {
			stage.Request = &JSONRequest{
				Method:  s.Request.Method,
				URL:     s.Request.URL,
				Headers: s.Request.Headers,
			}
		}

		if s.Response != nil {
			stage.Response = &JSONResponse{
				StatusCode: s.Response.StatusCode,
				Status:     s.Response.Status,
				Headers:    s.Response.Headers,
				Duration:   ms(s.Response.Duration),
			}
		}

		for _, it := range s.Iterations {
			ji := JSONIteration{
				Index:    it.Index,
				Status:   string(it.Status),
				Overlay:  it.Overlay,
				Duration: ms(it.Duration),
			}
			if it.Error != nil {
				ji.Error = it.Error.Error()
			}
			stage.Iterations = append(stage.Iterations, ji)
		}

		if s.Latency != nil && s.Latency.Count > 0 {
			stage.Latency = &JSONLatency{
				Count: s.Latency.Count,
				Min:   ms(s.Latency.Min),
				Mean:  ms(s.Latency.Mean),
				P50:   ms(s.Latency.P50),
				P95:   ms(s.Latency.P95),
				P99:   ms(s.Latency.P99),
				Max:   ms(s.Latency.Max),
			}
		}

		sc.Stages = append(sc.Stages, stage)
	}

	f.scenarios = append(f.scenarios, sc)
}

func jsonError(err error) *JSONError {
	if err == nil {
		return nil
	}
	je := &JSONError{Message: err.Error()}

	var se *executor.StageError
	if errors.As(err, &se) {
		je.Phase = string(se.Phase)
		if se.Iteration != executor.NoIteration {
			je.Iteration = &se.Iteration
		}
	}
	var failure *assertions.Failure
	if errors.As(err, &failure) {
		je.Check = failure.Check
		je.Expected = failure.Expected
		je.Actual = failure.Actual
	}
	return je
}

// FormatError records errors that kept a scenario from running.
func (f *JSONFormatter) FormatError(err error) {
	f.errors = append(f.errors, err.Error())
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	summary := JSONSummary{Scenarios: len(f.scenarios)}
	for _, sc := range f.scenarios {
		for _, s := range sc.Stages {
			summary.Total++
			switch runner.Status(s.Status) {
			case runner.StatusPassed:
				summary.Passed++
			case runner.StatusFailed:
				summary.Failed++
			case runner.StatusSkipped:
				summary.Skipped++
			case runner.StatusXFailed:
				summary.XFailed++
			}
		}
	}

	output := JSONOutput{
		Summary:   summary,
		Scenarios: f.scenarios,
		Errors:    f.errors,
		Duration:  ms(totalDuration),
		Time:      time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
