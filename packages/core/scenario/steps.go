package scenario

import (
	"fmt"

	"github.com/abdul-hamid-achik/stagespec/packages/template"
)

// StepKind names the response-processing step variants.
type StepKind string

const (
	StepSave   StepKind = "save"
	StepVerify StepKind = "verify"
)

// Step is a response-processing step: *SaveStep or *VerifyStep.
type Step interface {
	template.Record
	Kind() StepKind
	Validate() error
}

// FunctionCall invokes a registered save or verify function.
type FunctionCall struct {
	Function string         `mapstructure:"function"`
	Kwargs   map[string]any `mapstructure:"extra_kwargs"`
}

// SaveStep extracts values from the response into the stage context. Vars
// are templated after the call, against a scope that holds the response.
type SaveStep struct {
	JSON      map[string]any
	Headers   map[string]any
	Vars      map[string]any
	Functions []FunctionCall
}

// BodyChecks are the body assertions of a VerifyStep.
type BodyChecks struct {
	JSON        map[string]any `mapstructure:"json"`
	Schema      any            `mapstructure:"schema"`
	Contains    any            `mapstructure:"contains"`
	NotContains any            `mapstructure:"not_contains"`
	Matches     any            `mapstructure:"matches"`
	NotMatches  any            `mapstructure:"not_matches"`
}

// VerifyStep checks the response. Expressions are evaluated after the call
// and are never templated.
type VerifyStep struct {
	Status      any
	Headers     map[string]any
	Vars        map[string]any
	Expressions []string
	Functions   []FunctionCall
	Body        *BodyChecks
}

func (*SaveStep) Kind() StepKind   { return StepSave }
func (*VerifyStep) Kind() StepKind { return StepVerify }

type rawSave struct {
	JSON      map[string]any `mapstructure:"json"`
	Headers   map[string]any `mapstructure:"headers"`
	Vars      map[string]any `mapstructure:"vars"`
	Functions []FunctionCall `mapstructure:"functions"`
}

type rawVerify struct {
	Status      any            `mapstructure:"status"`
	Headers     map[string]any `mapstructure:"headers"`
	Vars        map[string]any `mapstructure:"vars"`
	Expressions []string       `mapstructure:"expressions"`
	Functions   []FunctionCall `mapstructure:"functions"`
	Body        *BodyChecks    `mapstructure:"body"`
}

// DecodeStep decodes a single-key mapping {save: ...} or {verify: ...}.
func DecodeStep(v any) (Step, error) {
	m, err := asMap(v, "")
	if err != nil {
		return nil, err
	}
	if len(m) != 1 {
		return nil, decodeErr("", "a step must have exactly one of save or verify")
	}

	for key, body := range m {
		switch StepKind(key) {
		case StepSave:
			var raw rawSave
			if err := decodeStrict(body, &raw); err != nil {
				return nil, wrapErr(key, err)
			}
			if err := checkFunctions(raw.Functions); err != nil {
				return nil, wrapErr(key, err)
			}
			return checkStatic(&SaveStep{JSON: raw.JSON, Headers: raw.Headers, Vars: raw.Vars, Functions: raw.Functions})
		case StepVerify:
			var raw rawVerify
			if err := decodeStrict(body, &raw); err != nil {
				return nil, wrapErr(key, err)
			}
			if err := checkFunctions(raw.Functions); err != nil {
				return nil, wrapErr(key, err)
			}
			return checkStatic(&VerifyStep{
				Status:      raw.Status,
				Headers:     raw.Headers,
				Vars:        raw.Vars,
				Expressions: raw.Expressions,
				Functions:   raw.Functions,
				Body:        raw.Body,
			})
		default:
			return nil, decodeErr("", "unknown step type %q", key)
		}
	}
	return nil, decodeErr("", "empty step")
}

// checkStatic validates steps whose shape is already known at decode time.
func checkStatic(s Step) (Step, error) {
	if s.HasTemplates() {
		return s, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func checkFunctions(calls []FunctionCall) error {
	for i, c := range calls {
		if c.Function == "" {
			return decodeErr(fmt.Sprintf("functions[%d]", i), "function name is required")
		}
	}
	return nil
}

func substituteCalls(w *template.Walker, calls []FunctionCall) ([]FunctionCall, error) {
	if calls == nil {
		return nil, nil
	}
	out := make([]FunctionCall, len(calls))
	for i, c := range calls {
		kw, err := w.WalkMap(c.Kwargs)
		if err != nil {
			return nil, err
		}
		out[i] = FunctionCall{Function: c.Function, Kwargs: kw}
	}
	return out, nil
}

func callsHaveTemplates(calls []FunctionCall) bool {
	for _, c := range calls {
		if template.ContainsTemplate(c.Kwargs) {
			return true
		}
	}
	return false
}

func (s *SaveStep) HasTemplates() bool {
	return template.ContainsTemplate(s.JSON) || template.ContainsTemplate(s.Headers) || callsHaveTemplates(s.Functions)
}

// Substitute resolves extraction paths and function arguments. Vars are
// carried over untouched.
func (s *SaveStep) Substitute(w *template.Walker) (template.Record, error) {
	out := &SaveStep{Vars: s.Vars}
	var err error
	if out.JSON, err = w.WalkMap(s.JSON); err != nil {
		return nil, err
	}
	if out.Headers, err = w.WalkMap(s.Headers); err != nil {
		return nil, err
	}
	if out.Functions, err = substituteCalls(w, s.Functions); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks the shape of resolved fields.
func (s *SaveStep) Validate() error {
	for name, path := range s.JSON {
		if _, ok := path.(string); !ok {
			return decodeErr("save.json."+name, "path must be a string, got %T", path)
		}
	}
	for name, header := range s.Headers {
		if _, ok := header.(string); !ok {
			return decodeErr("save.headers."+name, "header name must be a string, got %T", header)
		}
	}
	return nil
}

func (v *VerifyStep) HasTemplates() bool {
	if v.Body != nil {
		b := v.Body
		for _, x := range []any{b.JSON, b.Schema, b.Contains, b.NotContains, b.Matches, b.NotMatches} {
			if template.ContainsTemplate(x) {
				return true
			}
		}
	}
	return template.ContainsTemplate(v.Status) || template.ContainsTemplate(v.Headers) ||
		template.ContainsTemplate(v.Vars) || callsHaveTemplates(v.Functions)
}

// Substitute resolves every field except Expressions.
func (v *VerifyStep) Substitute(w *template.Walker) (template.Record, error) {
	out := &VerifyStep{Expressions: v.Expressions}
	var err error
	if out.Status, err = w.Walk(v.Status); err != nil {
		return nil, err
	}
	if out.Headers, err = w.WalkMap(v.Headers); err != nil {
		return nil, err
	}
	if out.Vars, err = w.WalkMap(v.Vars); err != nil {
		return nil, err
	}
	if out.Functions, err = substituteCalls(w, v.Functions); err != nil {
		return nil, err
	}
	if v.Body != nil {
		b := &BodyChecks{}
		fields := []struct {
			src any
			dst *any
		}{
			{v.Body.Schema, &b.Schema},
			{v.Body.Contains, &b.Contains},
			{v.Body.NotContains, &b.NotContains},
			{v.Body.Matches, &b.Matches},
			{v.Body.NotMatches, &b.NotMatches},
		}
		for _, f := range fields {
			if *f.dst, err = w.Walk(f.src); err != nil {
				return nil, err
			}
		}
		if b.JSON, err = w.WalkMap(v.Body.JSON); err != nil {
			return nil, err
		}
		out.Body = b
	}
	return out, nil
}

// Validate checks the shape of resolved fields.
func (v *VerifyStep) Validate() error {
	if v.Status != nil {
		if _, err := v.ExpectedStatus(); err != nil {
			return decodeErr("verify.status", "%v", err)
		}
	}
	if v.Body != nil {
		for name, list := range map[string]any{
			"contains": v.Body.Contains, "not_contains": v.Body.NotContains,
			"matches": v.Body.Matches, "not_matches": v.Body.NotMatches,
		} {
			for _, item := range listOf(list) {
				if _, ok := item.(string); !ok {
					return decodeErr("verify.body."+name, "entries must be strings, got %T", item)
				}
			}
		}
		switch v.Body.Schema.(type) {
		case nil, string, map[string]any:
		default:
			return decodeErr("verify.body.schema", "must be a file path or a mapping")
		}
	}
	return nil
}

// ExpectedStatus returns the accepted status codes.
func (v *VerifyStep) ExpectedStatus() ([]int, error) {
	var codes []int
	for _, item := range listOf(v.Status) {
		switch c := item.(type) {
		case int:
			codes = append(codes, c)
		case float64:
			if c != float64(int(c)) {
				return nil, fmt.Errorf("status %v is not an integer", c)
			}
			codes = append(codes, int(c))
		default:
			return nil, fmt.Errorf("status must be an integer or a list of integers, got %T", item)
		}
	}
	return codes, nil
}

// Strings returns the string entries of a contains/matches check, which may
// be a single string or a list.
func Strings(v any) []string {
	var out []string
	for _, item := range listOf(v) {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
