package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
	"github.com/abdul-hamid-achik/stagespec/packages/expr"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/template"
)

// buildRequest turns a resolved request template into a transport request.
func (e *Executor) buildRequest(ctx context.Context, sess *Session, rt *scenario.RequestTemplate) (*http.Request, error) {
	url, ok := rt.URL.(string)
	if !ok || strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("url must be a non-empty string, got %s", expr.ToText(rt.URL))
	}
	method := strings.ToUpper(expr.ToText(rt.Method))

	req := http.NewRequest(method, url)
	req.BaseDir = sess.BaseDir
	for k, v := range rt.Headers {
		req.SetHeader(k, expr.ToText(v))
	}
	for k, v := range rt.Params {
		req.SetQueryParam(k, expr.ToText(v))
	}

	if rt.Timeout != nil {
		d, err := scenario.ParseDuration(rt.Timeout)
		if err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
		req.Timeout = d
	}

	if rt.FollowRedirects != nil {
		follow, ok := rt.FollowRedirects.(bool)
		if !ok {
			return nil, fmt.Errorf("follow_redirects must be a boolean, got %s", expr.ToText(rt.FollowRedirects))
		}
		req.FollowRedirects = &follow
	}

	tls, err := tlsOptions(sess, rt)
	if err != nil {
		return nil, err
	}
	req.TLS = tls

	if req.Body, err = payload(rt.Body); err != nil {
		return nil, err
	}

	if len(rt.Auth) > 0 {
		req.Auth, err = e.registry.AuthFromSpec(ctx, rt.Auth)
	} else {
		req.Auth, err = sess.scenarioAuth(ctx, e.registry, template.NewWalker(sess.Vars, e.exprOpts...))
	}
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return req, nil
}

func payload(b scenario.Body) (http.Payload, error) {
	switch body := b.(type) {
	case nil:
		return nil, nil
	case *scenario.JSONBody:
		return &http.JSONPayload{Value: body.Value}, nil
	case *scenario.FormBody:
		return &http.FormPayload{Fields: textMap(body.Fields)}, nil
	case *scenario.RawBody:
		if body.Data == nil {
			return &http.RawPayload{}, nil
		}
		return &http.RawPayload{Data: []byte(expr.ToText(body.Data))}, nil
	case *scenario.MultipartBody:
		return &http.MultipartPayload{Files: textMap(body.Files), Fields: textMap(body.Fields)}, nil
	}
	return nil, fmt.Errorf("unsupported body %T", b)
}

func textMap(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = expr.ToText(v)
	}
	return out
}

// tlsOptions combines the scenario tls section with the request verify and
// cert overrides. It returns nil when neither sets anything.
func tlsOptions(sess *Session, rt *scenario.RequestTemplate) (*http.TLSOptions, error) {
	var opts http.TLSOptions
	set := false

	if tls := sess.Scenario.TLS; tls != nil {
		if tls.Verify != nil {
			opts.InsecureSkipVerify = !*tls.Verify
			set = true
		}
		if tls.Cert != "" {
			opts.CertFile, opts.KeyFile = tls.Cert, tls.Key
			set = true
		}
	}

	if rt.Verify != nil {
		verify, ok := rt.Verify.(bool)
		if !ok {
			return nil, fmt.Errorf("verify must be a boolean, got %s", expr.ToText(rt.Verify))
		}
		opts.InsecureSkipVerify = !verify
		set = true
	}

	switch cert := rt.Cert.(type) {
	case nil:
	case string:
		opts.CertFile, opts.KeyFile = cert, ""
		set = true
	case []any:
		if len(cert) != 2 {
			return nil, fmt.Errorf("cert must be a path or a [cert, key] pair")
		}
		opts.CertFile, opts.KeyFile = expr.ToText(cert[0]), expr.ToText(cert[1])
		set = true
	default:
		return nil, fmt.Errorf("cert must be a path or a [cert, key] pair, got %T", rt.Cert)
	}

	if !set {
		return nil, nil
	}
	opts.CertFile = resolvePath(sess.BaseDir, opts.CertFile)
	opts.KeyFile = resolvePath(sess.BaseDir, opts.KeyFile)
	return &opts, nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// responseValue exposes resp to templates and expressions.
func responseValue(resp *http.Response) map[string]any {
	headers := make(map[string]any, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v
	}
	text := resp.BodyString()
	var body any = text
	if strings.TrimSpace(text) != "" {
		if parsed, err := parseBody(resp.Body); err == nil {
			body = parsed
		}
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
		"text":        text,
		"elapsed_ms":  int(resp.DurationMs()),
	}
}
