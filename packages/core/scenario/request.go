package scenario

import (
	"github.com/abdul-hamid-achik/stagespec/packages/template"
)

// BodyKind names the request body variants.
type BodyKind string

const (
	BodyJSON      BodyKind = "json"
	BodyForm      BodyKind = "form"
	BodyRaw       BodyKind = "data"
	BodyMultipart BodyKind = "multipart"
)

// Body is a request payload. The set of implementations is closed:
// JSONBody, FormBody, RawBody and MultipartBody.
type Body interface {
	Kind() BodyKind
	hasTemplates() bool
	substitute(w *template.Walker) (Body, error)
}

// JSONBody is serialised as application/json.
type JSONBody struct {
	Value any
}

// FormBody is sent as application/x-www-form-urlencoded.
type FormBody struct {
	Fields map[string]any
}

// RawBody is sent verbatim.
type RawBody struct {
	Data any
}

// MultipartBody uploads Files (field name to file path) together with
// optional form Fields.
type MultipartBody struct {
	Files  map[string]any
	Fields map[string]any
}

func (*JSONBody) Kind() BodyKind      { return BodyJSON }
func (*FormBody) Kind() BodyKind      { return BodyForm }
func (*RawBody) Kind() BodyKind       { return BodyRaw }
func (*MultipartBody) Kind() BodyKind { return BodyMultipart }

func (b *JSONBody) hasTemplates() bool { return template.ContainsTemplate(b.Value) }
func (b *FormBody) hasTemplates() bool { return template.ContainsTemplate(b.Fields) }
func (b *RawBody) hasTemplates() bool  { return template.ContainsTemplate(b.Data) }
func (b *MultipartBody) hasTemplates() bool {
	return template.ContainsTemplate(b.Files) || template.ContainsTemplate(b.Fields)
}

func (b *JSONBody) substitute(w *template.Walker) (Body, error) {
	v, err := w.Walk(b.Value)
	if err != nil {
		return nil, err
	}
	return &JSONBody{Value: v}, nil
}

func (b *FormBody) substitute(w *template.Walker) (Body, error) {
	fields, err := w.WalkMap(b.Fields)
	if err != nil {
		return nil, err
	}
	return &FormBody{Fields: fields}, nil
}

func (b *RawBody) substitute(w *template.Walker) (Body, error) {
	v, err := w.Walk(b.Data)
	if err != nil {
		return nil, err
	}
	return &RawBody{Data: v}, nil
}

func (b *MultipartBody) substitute(w *template.Walker) (Body, error) {
	files, err := w.WalkMap(b.Files)
	if err != nil {
		return nil, err
	}
	fields, err := w.WalkMap(b.Fields)
	if err != nil {
		return nil, err
	}
	return &MultipartBody{Files: files, Fields: fields}, nil
}

// RequestTemplate describes an HTTP call before template substitution. Field
// values may hold templates; after Substitute they hold resolved values.
type RequestTemplate struct {
	Method          any
	URL             any
	Headers         map[string]any
	Params          map[string]any
	Body            Body
	Timeout         any
	Verify          any
	Cert            any
	Auth            map[string]any
	FollowRedirects any
}

type rawRequest struct {
	Method          any            `mapstructure:"method"`
	URL             any            `mapstructure:"url"`
	Headers         map[string]any `mapstructure:"headers"`
	Params          map[string]any `mapstructure:"params"`
	JSON            any            `mapstructure:"json"`
	Form            map[string]any `mapstructure:"form"`
	Data            any            `mapstructure:"data"`
	Files           map[string]any `mapstructure:"files"`
	Timeout         any            `mapstructure:"timeout"`
	Verify          any            `mapstructure:"verify"`
	Cert            any            `mapstructure:"cert"`
	Auth            map[string]any `mapstructure:"auth"`
	FollowRedirects any            `mapstructure:"follow_redirects"`
}

// DecodeRequest builds a RequestTemplate from its document mapping. Exactly
// one of json, form, data or files may be given, except that files may be
// combined with form fields.
func DecodeRequest(v any) (*RequestTemplate, error) {
	m, err := asMap(v, "")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, decodeErr("", "request must not be empty")
	}

	var raw rawRequest
	if err := decodeStrict(m, &raw); err != nil {
		return nil, wrapErr("", err)
	}
	if raw.URL == nil {
		return nil, decodeErr("url", "is required")
	}

	req := &RequestTemplate{
		Method:          raw.Method,
		URL:             raw.URL,
		Headers:         raw.Headers,
		Params:          raw.Params,
		Timeout:         raw.Timeout,
		Verify:          raw.Verify,
		Cert:            raw.Cert,
		Auth:            raw.Auth,
		FollowRedirects: raw.FollowRedirects,
	}
	if req.Method == nil {
		req.Method = "GET"
	}

	_, hasJSON := m["json"]
	_, hasForm := m["form"]
	_, hasData := m["data"]
	_, hasFiles := m["files"]

	set := 0
	for _, b := range []bool{hasJSON, hasForm, hasData, hasFiles} {
		if b {
			set++
		}
	}
	switch {
	case set == 0:
	case hasFiles && (set == 1 || (set == 2 && hasForm)):
		req.Body = &MultipartBody{Files: raw.Files, Fields: raw.Form}
	case set > 1:
		return nil, decodeErr("", "ambiguous body: use only one of json, form, data (files may be combined with form)")
	case hasJSON:
		req.Body = &JSONBody{Value: raw.JSON}
	case hasForm:
		req.Body = &FormBody{Fields: raw.Form}
	case hasData:
		req.Body = &RawBody{Data: raw.Data}
	}
	return req, nil
}

func (r *RequestTemplate) HasTemplates() bool {
	if r.Body != nil && r.Body.hasTemplates() {
		return true
	}
	for _, v := range []any{r.Method, r.URL, r.Headers, r.Params, r.Timeout, r.Verify, r.Cert, r.Auth, r.FollowRedirects} {
		if template.ContainsTemplate(v) {
			return true
		}
	}
	return false
}

// Substitute returns a copy with every field resolved.
func (r *RequestTemplate) Substitute(w *template.Walker) (template.Record, error) {
	out := &RequestTemplate{}
	var err error

	scalars := []struct {
		src any
		dst *any
	}{
		{r.Method, &out.Method},
		{r.URL, &out.URL},
		{r.Timeout, &out.Timeout},
		{r.Verify, &out.Verify},
		{r.Cert, &out.Cert},
		{r.FollowRedirects, &out.FollowRedirects},
	}
	for _, s := range scalars {
		if *s.dst, err = w.Walk(s.src); err != nil {
			return nil, err
		}
	}
	if out.Headers, err = w.WalkMap(r.Headers); err != nil {
		return nil, err
	}
	if out.Params, err = w.WalkMap(r.Params); err != nil {
		return nil, err
	}
	if out.Auth, err = w.WalkMap(r.Auth); err != nil {
		return nil, err
	}
	if r.Body != nil {
		if out.Body, err = r.Body.substitute(w); err != nil {
			return nil, err
		}
	}
	return out, nil
}
