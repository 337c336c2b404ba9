package http

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is a fully resolved HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    Payload
	Timeout time.Duration

	// TLS overrides the client's TLS settings when non-nil.
	TLS *TLSOptions
	// FollowRedirects overrides the client's redirect policy when non-nil.
	FollowRedirects *bool

	// BaseDir resolves relative upload paths. Uploads may not leave it.
	BaseDir string
	Auth    Authenticator
}

// TLSOptions select certificate verification and an optional client
// certificate. CertFile may hold both the certificate and the key.
type TLSOptions struct {
	InsecureSkipVerify bool
	CertFile           string
	KeyFile            string
}

// Payload is a request body. Implementations: *JSONPayload, *FormPayload,
// *RawPayload and *MultipartPayload.
type Payload interface {
	apply(r *resty.Request, baseDir string) error
	// Bytes returns the encoded body for signing. ok is false when the
	// encoding is only known at send time.
	Bytes() (data []byte, ok bool, err error)
}

// JSONPayload is marshalled as application/json.
type JSONPayload struct {
	Value any
}

// FormPayload is sent as application/x-www-form-urlencoded.
type FormPayload struct {
	Fields map[string]string
}

// RawPayload is sent verbatim.
type RawPayload struct {
	Data []byte
}

// MultipartPayload uploads Files (form field to path) with optional Fields.
type MultipartPayload struct {
	Files  map[string]string
	Fields map[string]string
}

func NewRequest(method, requestURL string) *Request {
	return &Request{
		Method:  method,
		URL:     requestURL,
		Headers: make(map[string]string),
		Query:   make(map[string]string),
	}
}

func (r *Request) SetHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

func (r *Request) SetQueryParam(key, value string) *Request {
	r.Query[key] = value
	return r
}

// Header returns the value of a request header, matched case-insensitively.
func (r *Request) Header(key string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// BuildURL returns URL with Query merged into its query string.
func (r *Request) BuildURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}

	q := u.Query()
	for k, v := range r.Query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (r *Request) clone() *Request {
	out := *r
	out.Headers = maps.Clone(r.Headers)
	if out.Headers == nil {
		out.Headers = make(map[string]string)
	}
	out.Query = maps.Clone(r.Query)
	if out.Query == nil {
		out.Query = make(map[string]string)
	}
	return &out
}

func (p *JSONPayload) Bytes() ([]byte, bool, error) {
	data, err := json.Marshal(p.Value)
	if err != nil {
		return nil, false, fmt.Errorf("encoding JSON body: %w", err)
	}
	return data, true, nil
}

func (p *JSONPayload) apply(r *resty.Request, _ string) error {
	data, _, err := p.Bytes()
	if err != nil {
		return err
	}
	if r.Header.Get("Content-Type") == "" {
		r.SetHeader("Content-Type", "application/json")
	}
	r.SetBody(data)
	return nil
}

func (p *FormPayload) Bytes() ([]byte, bool, error) {
	v := url.Values{}
	for k, f := range p.Fields {
		v.Set(k, f)
	}
	return []byte(v.Encode()), true, nil
}

func (p *FormPayload) apply(r *resty.Request, _ string) error {
	r.SetFormData(p.Fields)
	return nil
}

func (p *RawPayload) Bytes() ([]byte, bool, error) { return p.Data, true, nil }

func (p *RawPayload) apply(r *resty.Request, _ string) error {
	r.SetBody(p.Data)
	return nil
}

func (p *MultipartPayload) Bytes() ([]byte, bool, error) { return nil, false, nil }

func (p *MultipartPayload) apply(r *resty.Request, baseDir string) error {
	for field, path := range p.Files {
		resolved, err := resolveUpload(path, baseDir)
		if err != nil {
			return err
		}
		r.SetFile(field, resolved)
	}
	if len(p.Fields) > 0 {
		r.SetMultipartFormData(p.Fields)
	}
	return nil
}

// resolveUpload makes path absolute against baseDir and checks it exists.
func resolveUpload(path, baseDir string) (string, error) {
	filePath := path
	if !filepath.IsAbs(filePath) && baseDir != "" {
		filePath = filepath.Join(baseDir, filePath)
	}
	if err := validatePathWithinBase(filePath, baseDir); err != nil {
		return "", &TransportError{Kind: KindFile, Err: err}
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return "", &TransportError{Kind: KindFile, Err: err}
	}
	if info.IsDir() {
		return "", &TransportError{Kind: KindFile, Err: fmt.Errorf("%s is a directory", path)}
	}
	return filePath, nil
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

// ValidateURL checks that a URL is well-formed and uses an allowed scheme
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}
