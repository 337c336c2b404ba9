package capture

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
	"github.com/abdul-hamid-achik/stagespec/packages/core/vars"
	"github.com/abdul-hamid-achik/stagespec/packages/expr"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/registry"
	"github.com/abdul-hamid-achik/stagespec/packages/template"
)

var (
	ErrBodyNotJSON = errors.New("response body is not JSON")
	ErrExtraction  = errors.New("extraction failed")
	ErrFunction    = errors.New("save function failed")
)

// Functions resolves save functions by name.
type Functions interface {
	Save(name string) (registry.SaveFunction, error)
}

type Extractor struct {
	response *http.Response
	bodyJSON gjson.Result
	isJSON   bool
}

func NewExtractor(resp *http.Response) *Extractor {
	e := &Extractor{response: resp}
	if gjson.ValidBytes(resp.Body) && len(strings.TrimSpace(resp.BodyString())) > 0 {
		e.bodyJSON = gjson.ParseBytes(resp.Body)
		e.isJSON = true
	}
	return e
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// convertBracketNotation converts array bracket notation to gjson dot notation
// e.g., "[0].id" -> "0.id", "items[0].tags[1]" -> "items.0.tags.1"
func convertBracketNotation(path string) string {
	result := bracketIndex.ReplaceAllString(path, ".$1")
	return strings.TrimPrefix(result, ".")
}

// JSON returns the value at path in the JSON body. An empty path returns the
// whole body.
func (e *Extractor) JSON(path string) (any, error) {
	if !e.isJSON {
		return nil, ErrBodyNotJSON
	}
	raw := e.bodyJSON.Raw
	if path != "" {
		result := e.bodyJSON.Get(convertBracketNotation(path))
		if !result.Exists() {
			return nil, fmt.Errorf("%w: path %q not found in body", ErrExtraction, path)
		}
		raw = result.Raw
	}
	v, err := document.ParseJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return v, nil
}

func (e *Extractor) Header(name string) (string, error) {
	for k, v := range e.response.Headers {
		if strings.EqualFold(k, name) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: header %q not present", ErrExtraction, name)
}

// Run executes step against resp. Saved values are written to the innermost
// scope of vc as they are produced and returned as the step's delta.
func Run(ctx context.Context, step *scenario.SaveStep, resp *http.Response, vc *vars.Context, funcs Functions, opts ...expr.Option) (map[string]any, error) {
	ex := NewExtractor(resp)
	delta := make(map[string]any)
	put := func(k string, v any) {
		vc.Set(k, v)
		delta[k] = v
	}

	for _, name := range document.SortedKeys(step.JSON) {
		path, _ := step.JSON[name].(string)
		v, err := ex.JSON(path)
		if err != nil {
			return delta, fmt.Errorf("save json %q: %w", name, err)
		}
		put(name, v)
	}

	for _, name := range document.SortedKeys(step.Headers) {
		header, _ := step.Headers[name].(string)
		v, err := ex.Header(header)
		if err != nil {
			return delta, fmt.Errorf("save header %q: %w", name, err)
		}
		put(name, v)
	}

	if err := saveVars(step.Vars, template.NewWalker(vc, opts...), put); err != nil {
		return delta, err
	}

	for _, call := range step.Functions {
		if funcs == nil {
			return delta, fmt.Errorf("%w: %s: no function registry", ErrFunction, call.Function)
		}
		fn, err := funcs.Save(call.Function)
		if err != nil {
			return delta, fmt.Errorf("%w: %v", ErrFunction, err)
		}
		out, err := fn.Save(ctx, resp, call.Kwargs)
		if err != nil {
			return delta, fmt.Errorf("%w: %s: %v", ErrFunction, call.Function, err)
		}
		for _, k := range document.SortedKeys(out) {
			put(k, document.Normalize(out[k]))
		}
	}

	return delta, nil
}

// saveVars evaluates vars that may reference each other. Mapping order is
// not kept by the decoder, so entries naming a var saved later in the same
// step are retried on the next pass until no pass makes progress.
func saveVars(vs map[string]any, w *template.Walker, put func(string, any)) error {
	pending := document.SortedKeys(vs)
	for len(pending) > 0 {
		var (
			deferred []string
			firstErr error
		)
		for _, name := range pending {
			v, err := w.Walk(vs[name])
			if err == nil {
				put(name, v)
				continue
			}
			if !errors.Is(err, expr.ErrUndefinedName) {
				return fmt.Errorf("save var %q: %w", name, err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("save var %q: %w", name, err)
			}
			deferred = append(deferred, name)
		}
		if len(deferred) == len(pending) {
			return firstErr
		}
		pending = deferred
	}
	return nil
}
