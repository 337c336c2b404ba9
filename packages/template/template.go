// Package template substitutes "{{ expression }}" placeholders inside
// document trees and structured records.
package template

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/stagespec/packages/expr"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// SubstitutionError reports a template whose expression failed to compile or
// evaluate.
type SubstitutionError struct {
	Template string
	Err      error
}

func (e *SubstitutionError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Template, e.Err)
}

func (e *SubstitutionError) Unwrap() error { return e.Err }

// Record is implemented by structured values that carry templated fields.
// Substitute returns a copy with every templated field resolved; the receiver
// is left untouched.
type Record interface {
	HasTemplates() bool
	Substitute(w *Walker) (Record, error)
}

// Walker resolves templates against a variable view.
type Walker struct {
	vars expr.Vars
	opts []expr.Option
}

// NewWalker creates a Walker reading from vars.
func NewWalker(vars expr.Vars, opts ...expr.Option) *Walker {
	return &Walker{vars: vars, opts: opts}
}

// Vars returns the variable view the walker evaluates against.
func (w *Walker) Vars() expr.Vars { return w.vars }

// Walk returns a copy of v with every template resolved. Mapping keys are
// never templated. Values without templates are returned as-is.
func (w *Walker) Walk(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return w.String(t)
	case map[string]any:
		if !ContainsTemplate(t) {
			return t, nil
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			r, err := w.Walk(vv)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		if !ContainsTemplate(t) {
			return t, nil
		}
		out := make([]any, len(t))
		for i, vv := range t {
			r, err := w.Walk(vv)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, vv := range t {
			s, err := w.Text(vv)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	case Record:
		if !t.HasTemplates() {
			return t, nil
		}
		return t.Substitute(w)
	default:
		return v, nil
	}
}

// WalkMap is Walk for mappings.
func (w *Walker) WalkMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out, err := w.Walk(m)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// String resolves the templates in s. A string that is exactly one template,
// ignoring surrounding whitespace, yields the native value of the expression;
// otherwise each template is rendered as text in place.
func (w *Walker) String(s string) (any, error) {
	if !strings.Contains(s, openDelim) {
		return s, nil
	}
	segs, err := scan(s)
	if err != nil {
		return nil, &SubstitutionError{Template: s, Err: err}
	}

	if src, ok := whole(segs); ok {
		return w.eval(s, src)
	}

	var sb strings.Builder
	for _, seg := range segs {
		if !seg.expr {
			sb.WriteString(seg.text)
			continue
		}
		v, err := w.eval(s, seg.text)
		if err != nil {
			return nil, err
		}
		sb.WriteString(expr.ToText(v))
	}
	return sb.String(), nil
}

// Text resolves s and renders the result as text.
func (w *Walker) Text(s string) (string, error) {
	v, err := w.String(s)
	if err != nil {
		return "", err
	}
	return expr.ToText(v), nil
}

func (w *Walker) eval(tmpl, src string) (any, error) {
	v, err := expr.Eval(strings.TrimSpace(src), w.vars, w.opts...)
	if err != nil {
		return nil, &SubstitutionError{Template: tmpl, Err: err}
	}
	return v, nil
}

// ContainsTemplate reports whether any string inside v holds "{{".
func ContainsTemplate(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(t, openDelim)
	case map[string]any:
		for _, vv := range t {
			if ContainsTemplate(vv) {
				return true
			}
		}
	case []any:
		for _, vv := range t {
			if ContainsTemplate(vv) {
				return true
			}
		}
	case map[string]string:
		for _, vv := range t {
			if strings.Contains(vv, openDelim) {
				return true
			}
		}
	case Record:
		return t.HasTemplates()
	}
	return false
}

type segment struct {
	text string
	expr bool
}

// scan splits s into literal text and template expressions. The closing
// delimiter is only recognised outside quoted strings and brackets, so
// expressions such as {{ {'a': {'b': 1}} }} work.
func scan(s string) ([]segment, error) {
	var segs []segment
	rest := s
	for {
		i := strings.Index(rest, openDelim)
		if i < 0 {
			if rest != "" {
				segs = append(segs, segment{text: rest})
			}
			return segs, nil
		}
		if i > 0 {
			segs = append(segs, segment{text: rest[:i]})
		}
		body := rest[i+len(openDelim):]
		end, err := closing(body)
		if err != nil {
			return nil, err
		}
		src := body[:end]
		if strings.TrimSpace(src) == "" {
			return nil, fmt.Errorf("empty expression")
		}
		segs = append(segs, segment{text: src, expr: true})
		rest = body[end+len(closeDelim):]
	}
}

func closing(body string) (int, error) {
	depth := 0
	var quote byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		case '}':
			if depth == 0 && strings.HasPrefix(body[i:], closeDelim) {
				return i, nil
			}
			if depth > 0 {
				depth--
			}
		}
	}
	if quote != 0 {
		return 0, fmt.Errorf("unterminated string in template")
	}
	return 0, fmt.Errorf("unterminated template, missing %q", closeDelim)
}

func whole(segs []segment) (string, bool) {
	var src string
	found := false
	for _, seg := range segs {
		if seg.expr {
			if found {
				return "", false
			}
			src, found = seg.text, true
			continue
		}
		if strings.TrimSpace(seg.text) != "" {
			return "", false
		}
	}
	return src, found
}

// ToText renders v the way partial templates do.
func ToText(v any) string { return expr.ToText(v) }
