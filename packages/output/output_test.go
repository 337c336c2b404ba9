package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/stagespec/packages/assertions"
	"github.com/abdul-hamid-achik/stagespec/packages/core/executor"
	"github.com/abdul-hamid-achik/stagespec/packages/core/runner"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/parallel"
)

func sampleResult() *runner.RunResult {
	verifyErr := &executor.StageError{
		Stage:     "fetch",
		Iteration: executor.NoIteration,
		Phase:     executor.PhaseVerify,
		Err: &executor.VerificationError{Step: 0, Err: &assertions.Failure{
			Check: "status", Expected: []int{200}, Actual: 500, Message: "unexpected status",
		}},
	}
	iterErr := &executor.StageError{Stage: "burst", Iteration: 1, Phase: executor.PhaseRequest, Err: errors.New("connection refused")}

	return &runner.RunResult{
		File:      "users.yaml",
		Scenario:  "users",
		SessionID: "sess-1",
		Duration:  120 * time.Millisecond,
		Passed:    1, Failed: 2, Skipped: 1, XFailed: 1,
		Stages: []*runner.StageReport{
			{
				Name: "create", Status: runner.StatusPassed, Duration: 10 * time.Millisecond, Attempts: 1,
				Request:  &http.Request{Method: "POST", URL: "http://api/users"},
				Response: &http.Response{StatusCode: 201, Status: "201 Created"},
				Saved:    map[string]any{"user_id": 7},
			},
			{Name: "fetch", Status: runner.StatusFailed, Error: verifyErr, Reason: verifyErr.Error(), Attempts: 2},
			{
				Name: "burst", Status: runner.StatusFailed, Attempts: 1,
				Error: &runner.FanOutError{Stage: "burst", Total: 2, Failed: 1, First: iterErr},
				Iterations: []*runner.IterationReport{
					{Index: 0, Status: runner.StatusPassed, Overlay: map[string]any{"iteration": 0, "code": 200}},
					{Index: 1, Status: runner.StatusFailed, Overlay: map[string]any{"iteration": 1, "code": 500}, Error: iterErr},
				},
				Latency: &parallel.LatencySummary{Count: 2, P50: 5 * time.Millisecond, P95: 9 * time.Millisecond, P99: 9 * time.Millisecond},
			},
			{Name: "cleanup", Status: runner.StatusSkipped, Reason: runner.ReasonAborted},
			{Name: "known bug", Status: runner.StatusXFailed, Error: errors.New("boom"), Reason: "boom"},
		},
	}
}

func TestNew(t *testing.T) {
	r, err := New(Options{Format: "console", Writer: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.IsType(t, &ConsoleFormatter{}, r)

	r, err = New(Options{Format: "JSON", Writer: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.IsType(t, &JSONFormatter{}, r)

	_, err = New(Options{Format: "junit"})
	assert.Error(t, err)
}

func TestConsoleFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true))

	f.FormatHeader("1.0.0")
	f.FormatResult(sampleResult())
	require.NoError(t, f.Flush(time.Second))

	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "stagespec 1.0.0")
	assert.Contains(t, out, "Scenario: users (users.yaml)")
	assert.Contains(t, out, "✓ create (10ms)")
	assert.Contains(t, out, "POST http://api/users -> 201")
	assert.Contains(t, out, "user_id = 7")
	assert.Contains(t, out, "✗ fetch (0ms) [2 attempts]")
	assert.Contains(t, out, "Expected: [200]")
	assert.Contains(t, out, "Actual:   500")
	assert.Contains(t, out, "2 iterations: 1 passed, 1 failed p50=5ms p95=9ms p99=9ms")
	assert.Contains(t, out, "iteration 1 {code=500}")
	assert.Contains(t, out, "- cleanup (aborted)")
	assert.Contains(t, out, "expected failure")
	assert.Contains(t, out, "Stages: 1 passed, 2 failed, 1 expected failures, 1 skipped, 5 total")
	assert.Contains(t, out, "Total: 1 passed, 2 failed, 1 expected failures, 1 skipped, 5 total")
	assert.Contains(t, out, "Time:   1000ms")
}

func TestConsoleFormatter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true))
	f.FormatResult(sampleResult())

	assert.NotContains(t, buf.String(), "user_id = 7")
	assert.NotContains(t, buf.String(), "iteration 1 {code=500}")

	buf.Reset()
	f.FormatError(errors.New("cannot read file"))
	assert.Equal(t, "Error: cannot read file\n", buf.String())
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(JSONWithWriter(&buf))
	f.FormatHeader("1.0.0")
	f.FormatResult(sampleResult())
	f.FormatError(errors.New("broken.yaml: circular reference"))
	require.NoError(t, f.Flush(1500*time.Millisecond))

	var out JSONOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	assert.Equal(t, JSONSummary{Scenarios: 1, Total: 5, Passed: 1, Failed: 2, Skipped: 1, XFailed: 1}, out.Summary)
	assert.Equal(t, []string{"broken.yaml: circular reference"}, out.Errors)
	assert.InDelta(t, 1500, out.Duration, 0.001)

	require.Len(t, out.Scenarios, 1)
	sc := out.Scenarios[0]
	assert.Equal(t, "users", sc.Name)
	assert.Equal(t, "sess-1", sc.SessionID)
	assert.False(t, sc.Passed)

	create := sc.Stages[0]
	assert.Equal(t, "passed", create.Status)
	assert.Equal(t, 201, create.Response.StatusCode)
	assert.Equal(t, "POST", create.Request.Method)
	assert.Equal(t, map[string]any{"user_id": float64(7)}, create.Saved)

	fetch := sc.Stages[1]
	require.NotNil(t, fetch.Error)
	assert.Equal(t, "verify", fetch.Error.Phase)
	assert.Equal(t, "status", fetch.Error.Check)
	assert.Nil(t, fetch.Error.Iteration)
	assert.Equal(t, float64(500), fetch.Error.Actual)

	burst := sc.Stages[2]
	require.NotNil(t, burst.Error)
	require.NotNil(t, burst.Error.Iteration)
	assert.Equal(t, 1, *burst.Error.Iteration)
	assert.Equal(t, "request", burst.Error.Phase)
	require.Len(t, burst.Iterations, 2)
	assert.Equal(t, "failed", burst.Iterations[1].Status)
	assert.NotEmpty(t, burst.Iterations[1].Error)
	require.NotNil(t, burst.Latency)
	assert.InDelta(t, 9, burst.Latency.P95, 0.001)

	assert.Equal(t, "aborted", sc.Stages[3].Reason)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{"bob", `"bob"`},
		{7, "7"},
		{[]any{1, 2}, "[array with 2 items]"},
		{map[string]any{"a": 1}, "{object with 1 keys}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatValue(tt.in, 100))
	}
	assert.Equal(t, `"abcd...`, formatValue("abcdefgh", 5))
}
