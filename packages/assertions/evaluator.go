package assertions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
	"github.com/abdul-hamid-achik/stagespec/packages/core/vars"
	"github.com/abdul-hamid-achik/stagespec/packages/expr"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/registry"
)

// Functions resolves verify functions by name.
type Functions interface {
	Verify(name string) (registry.VerifyFunction, error)
}

// Failure describes the first failing check of a verify step.
type Failure struct {
	Check    string
	Subject  string
	Expected any
	Actual   any
	Message  string
	Err      error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Check)
	if f.Subject != "" {
		b.WriteString(" " + f.Subject)
	}
	b.WriteString(": ")
	b.WriteString(f.Message)
	if f.Err != nil {
		b.WriteString(": " + f.Err.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

type Evaluator struct {
	response *http.Response
	vars     *vars.Context
	funcs    Functions
	baseDir  string
	exprOpts []expr.Option
	bodyJSON gjson.Result
	isJSON   bool
}

// EvaluatorOption is a functional option for configuring an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithBaseDir resolves schema file paths. Schemas may not leave it.
func WithBaseDir(dir string) EvaluatorOption {
	return func(e *Evaluator) {
		e.baseDir = dir
	}
}

func WithFunctions(f Functions) EvaluatorOption {
	return func(e *Evaluator) {
		e.funcs = f
	}
}

func WithExprOptions(opts ...expr.Option) EvaluatorOption {
	return func(e *Evaluator) {
		e.exprOpts = opts
	}
}

func NewEvaluator(resp *http.Response, vc *vars.Context, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{response: resp, vars: vc}
	if gjson.ValidBytes(resp.Body) && strings.TrimSpace(resp.BodyString()) != "" {
		e.bodyJSON = gjson.ParseBytes(resp.Body)
		e.isJSON = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify runs every check of step. It returns a *Failure for the first
// check that does not hold.
func Verify(ctx context.Context, step *scenario.VerifyStep, resp *http.Response, vc *vars.Context, opts ...EvaluatorOption) error {
	return NewEvaluator(resp, vc, opts...).Verify(ctx, step)
}

func (e *Evaluator) Verify(ctx context.Context, step *scenario.VerifyStep) error {
	checks := []func() error{
		func() error { return e.status(step) },
		func() error { return e.headers(step.Headers) },
		func() error { return e.variables(step.Vars) },
		func() error { return e.expressions(step.Expressions) },
		func() error { return e.functions(ctx, step.Functions) },
		func() error { return e.body(step.Body) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) status(step *scenario.VerifyStep) error {
	if step.Status == nil {
		return nil
	}
	codes, err := step.ExpectedStatus()
	if err != nil {
		return &Failure{Check: "status", Message: "invalid expectation", Err: err}
	}
	if slices.Contains(codes, e.response.StatusCode) {
		return nil
	}
	var expected any = codes
	if len(codes) == 1 {
		expected = codes[0]
	}
	return &Failure{
		Check:    "status",
		Expected: expected,
		Actual:   e.response.StatusCode,
		Message:  fmt.Sprintf("expected %v, got %d", expected, e.response.StatusCode),
	}
}

func (e *Evaluator) headers(expected map[string]any) error {
	for _, name := range document.SortedKeys(expected) {
		want := expected[name]
		actual, present := e.header(name)
		if !present {
			return &Failure{Check: "header", Subject: name, Expected: want, Message: "header not present"}
		}
		if ok, msg := equals(actual, want); !ok {
			return &Failure{Check: "header", Subject: name, Expected: want, Actual: actual, Message: msg}
		}
	}
	return nil
}

func (e *Evaluator) header(name string) (string, bool) {
	for k, v := range e.response.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (e *Evaluator) variables(expected map[string]any) error {
	for _, name := range document.SortedKeys(expected) {
		want := expected[name]
		actual, ok := e.vars.Lookup(name)
		if !ok {
			return &Failure{Check: "variable", Subject: name, Expected: want, Message: "variable is not defined"}
		}
		if !document.Equal(actual, want) {
			return &Failure{
				Check: "variable", Subject: name, Expected: want, Actual: actual,
				Message: fmt.Sprintf("expected %s, got %s", expr.ToText(want), expr.ToText(actual)),
			}
		}
	}
	return nil
}

func (e *Evaluator) expressions(list []string) error {
	for _, src := range list {
		prog, err := expr.CompileCached(src)
		if err != nil {
			return &Failure{Check: "expression", Subject: src, Message: "invalid expression", Err: err}
		}
		v, err := prog.Eval(e.vars, e.exprOpts...)
		if err != nil {
			return &Failure{Check: "expression", Subject: src, Message: "evaluation failed", Err: err}
		}
		if !expr.Truthy(v) {
			return &Failure{Check: "expression", Subject: src, Expected: true, Actual: v, Message: "evaluated to " + expr.ToText(v)}
		}
	}
	return nil
}

func (e *Evaluator) functions(ctx context.Context, calls []scenario.FunctionCall) error {
	for _, call := range calls {
		if e.funcs == nil {
			return &Failure{Check: "function", Subject: call.Function, Message: "no function registry"}
		}
		fn, err := e.funcs.Verify(call.Function)
		if err != nil {
			return &Failure{Check: "function", Subject: call.Function, Message: "lookup failed", Err: err}
		}
		ok, err := fn.Verify(ctx, e.response, call.Kwargs)
		if err != nil {
			return &Failure{Check: "function", Subject: call.Function, Message: "function failed", Err: err}
		}
		if !ok {
			return &Failure{Check: "function", Subject: call.Function, Expected: true, Actual: false, Message: "returned false"}
		}
	}
	return nil
}

func (e *Evaluator) body(b *scenario.BodyChecks) error {
	if b == nil {
		return nil
	}
	if err := e.bodyJSONChecks(b.JSON); err != nil {
		return err
	}
	if b.Schema != nil {
		if err := e.schema(b.Schema); err != nil {
			return err
		}
	}

	text := e.response.BodyString()
	for _, s := range scenario.Strings(b.Contains) {
		if !strings.Contains(text, s) {
			return &Failure{Check: "body", Subject: "contains", Expected: s, Message: fmt.Sprintf("expected body to contain %q", s)}
		}
	}
	for _, s := range scenario.Strings(b.NotContains) {
		if strings.Contains(text, s) {
			return &Failure{Check: "body", Subject: "not_contains", Expected: s, Message: fmt.Sprintf("expected body not to contain %q", s)}
		}
	}
	for _, p := range scenario.Strings(b.Matches) {
		ok, msg := matches(text, p)
		if !ok {
			return &Failure{Check: "body", Subject: "matches", Expected: p, Message: msg}
		}
	}
	for _, p := range scenario.Strings(b.NotMatches) {
		re, err := compilePattern(p)
		if err != nil {
			return &Failure{Check: "body", Subject: "not_matches", Expected: p, Message: "invalid regex pattern", Err: err}
		}
		if re.MatchString(text) {
			return &Failure{Check: "body", Subject: "not_matches", Expected: p, Message: fmt.Sprintf("expected body not to match /%s/", p)}
		}
	}
	return nil
}

func (e *Evaluator) bodyJSONChecks(expected map[string]any) error {
	if len(expected) == 0 {
		return nil
	}
	if !e.isJSON {
		return &Failure{Check: "body", Subject: "json", Message: "response body is not JSON"}
	}
	for _, path := range document.SortedKeys(expected) {
		want := expected[path]
		result := e.bodyJSON.Get(convertBracketNotation(path))
		if !result.Exists() {
			return &Failure{Check: "body", Subject: path, Expected: want, Message: "path not found"}
		}
		actual, err := document.ParseJSON([]byte(result.Raw))
		if err != nil {
			return &Failure{Check: "body", Subject: path, Message: "invalid JSON", Err: err}
		}
		if !document.Equal(actual, want) {
			return &Failure{
				Check: "body", Subject: path, Expected: want, Actual: actual,
				Message: fmt.Sprintf("expected %s, got %s", expr.ToText(want), expr.ToText(actual)),
			}
		}
	}
	return nil
}

// convertBracketNotation converts array bracket notation to gjson dot notation
// e.g., "[0].id" -> "0.id", "items[0].tags[1]" -> "items.0.tags.1"
func convertBracketNotation(path string) string {
	result := regexp.MustCompile(`\[(\d+)\]`).ReplaceAllString(path, ".$1")
	return strings.TrimPrefix(result, ".")
}

func equals(actual, expected any) (bool, string) {
	if reflect.DeepEqual(actual, expected) {
		return true, ""
	}

	actualNum, aOk := toFloat64(actual)
	expectedNum, eOk := toFloat64(expected)
	if aOk && eOk && actualNum == expectedNum {
		return true, ""
	}

	if fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected) {
		return true, ""
	}

	return false, fmt.Sprintf("expected %v, got %v", expected, actual)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if len(pattern) > 1 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		pattern = pattern[1 : len(pattern)-1]
	}
	return regexp.Compile(pattern)
}

func matches(actual, pattern string) (bool, string) {
	re, err := compilePattern(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid regex pattern: %v", err)
	}
	if re.MatchString(actual) {
		return true, ""
	}
	return false, fmt.Sprintf("expected body to match /%v/", pattern)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// validatePathWithinBase checks that the resolved path stays within the base directory
// to prevent path traversal attacks
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}

	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}

	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}

	return nil
}

// schemaLoader returns a loader for an inline schema mapping or a schema
// file path relative to the base directory.
func (e *Evaluator) schemaLoader(schema any) (gojsonschema.JSONLoader, error) {
	switch s := schema.(type) {
	case map[string]any:
		return gojsonschema.NewGoLoader(s), nil
	case string:
		schemaPath := s
		if !filepath.IsAbs(schemaPath) && e.baseDir != "" {
			schemaPath = filepath.Join(e.baseDir, schemaPath)
		}
		if err := validatePathWithinBase(schemaPath, e.baseDir); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		return gojsonschema.NewBytesLoader(data), nil
	}
	return nil, fmt.Errorf("schema must be a file path or a mapping, got %T", schema)
}

func (e *Evaluator) schema(schema any) error {
	loader, err := e.schemaLoader(schema)
	if err != nil {
		return &Failure{Check: "schema", Message: "cannot load schema", Err: err}
	}
	if !e.isJSON {
		return &Failure{Check: "schema", Message: "response body is not JSON"}
	}

	var doc any
	if err := json.Unmarshal([]byte(e.bodyJSON.Raw), &doc); err != nil {
		return &Failure{Check: "schema", Message: "invalid JSON body", Err: err}
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &Failure{Check: "schema", Message: "schema validation error", Err: err}
	}
	if result.Valid() {
		return nil
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return &Failure{Check: "schema", Message: "validation failed: " + strings.Join(errs, "; ")}
}
