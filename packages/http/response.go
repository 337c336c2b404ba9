package http

import (
	"net/http"
	"strings"
	"time"
)

type Response struct {
	StatusCode int
	Status     string
	// Headers uses canonical header names. Repeated headers are joined
	// with ", ".
	Headers  map[string]string
	Body     []byte
	Duration time.Duration
}

func newResponse(status int, statusText string, header http.Header, body []byte, d time.Duration) *Response {
	headers := make(map[string]string, len(header))
	for k, vals := range header {
		headers[http.CanonicalHeaderKey(k)] = strings.Join(vals, ", ")
	}
	return &Response{
		StatusCode: status,
		Status:     statusText,
		Headers:    headers,
		Body:       body,
		Duration:   d,
	}
}

func (r *Response) BodyString() string {
	return string(r.Body)
}

func (r *Response) Header(key string) string {
	if v, ok := r.Headers[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsJSON() bool {
	ct := strings.ToLower(r.ContentType())
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
