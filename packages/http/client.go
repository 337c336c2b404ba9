package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRedirects is the maximum number of redirects to follow
	DefaultMaxRedirects = 10
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool
	DefaultIdleConnTimeout = 90 * time.Second
)

// Client sends Requests. It is safe for concurrent use.
type Client struct {
	timeout        time.Duration
	followRedirect bool
	maxRedirects   int
	validateSSL    bool
	proxyURL       string
	defaultHeaders map[string]string
	logger         *slog.Logger

	mu      sync.Mutex
	clients map[clientKey]*resty.Client
}

// clientKey identifies the settings baked into a resty client.
type clientKey struct {
	insecure bool
	certFile string
	keyFile  string
	follow   bool
}

type ClientOption func(*Client)

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:        DefaultTimeout,
		followRedirect: true,
		maxRedirects:   DefaultMaxRedirects,
		validateSSL:    true,
		defaultHeaders: make(map[string]string),
		logger:         slog.New(slog.DiscardHandler),
		clients:        make(map[clientKey]*resty.Client),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithFollowRedirects(follow bool) ClientOption {
	return func(c *Client) {
		c.followRedirect = follow
	}
}

func WithMaxRedirects(max int) ClientOption {
	return func(c *Client) {
		c.maxRedirects = max
	}
}

// WithDefaultHeaders sets headers sent with every request. Request headers
// take precedence.
func WithDefaultHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.defaultHeaders[k] = v
		}
	}
}

// WithValidateSSL enables or disables SSL certificate validation
func WithValidateSSL(validate bool) ClientOption {
	return func(c *Client) {
		c.validateSSL = validate
	}
}

// WithProxy sets the proxy URL for all requests
func WithProxy(proxyURL string) ClientOption {
	return func(c *Client) {
		c.proxyURL = proxyURL
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l.With("component", "http")
		}
	}
}

// Do sends req and returns the response. A response is returned for every
// status code; errors mean no response was received.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ValidateURL(req.URL); err != nil {
		return nil, &TransportError{Kind: KindTransport, Method: req.Method, URL: req.URL, Err: err}
	}

	r := req.clone()
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Method = strings.ToUpper(r.Method)

	if r.Auth != nil {
		if err := r.Auth.Authenticate(ctx, r); err != nil {
			return nil, fmt.Errorf("authenticating request: %w", err)
		}
	}

	rc, err := c.clientFor(r)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, rc, r)
	if err != nil {
		return nil, err
	}

	if ch, ok := r.Auth.(Challenger); ok && resp.StatusCode == http.StatusUnauthorized {
		retry, err := ch.Challenge(ctx, r, resp)
		if err != nil {
			return nil, fmt.Errorf("answering auth challenge: %w", err)
		}
		if retry {
			c.logger.Debug("retrying after auth challenge", "method", r.Method, "url", r.URL)
			return c.send(ctx, rc, r)
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, rc *resty.Client, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	r := rc.R().SetContext(ctx)
	r.SetHeaders(req.Headers)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		if err := req.Body.apply(r, req.BaseDir); err != nil {
			if te, ok := err.(*TransportError); ok {
				te.Method, te.URL = req.Method, req.URL
				return nil, te
			}
			return nil, &TransportError{Kind: KindTransport, Method: req.Method, URL: req.URL, Err: err}
		}
	}

	c.logger.Debug("sending request", "method", req.Method, "url", req.URL)
	start := time.Now()
	resp, err := r.Execute(req.Method, req.URL)
	duration := time.Since(start)
	if err != nil {
		return nil, classify(req, err)
	}

	c.logger.Debug("received response", "method", req.Method, "url", req.URL,
		"status", resp.StatusCode(), "duration_ms", duration.Milliseconds())
	return newResponse(resp.StatusCode(), resp.Status(), resp.Header(), resp.Body(), duration), nil
}

// clientFor returns the cached resty client for the request's TLS and
// redirect settings, building it on first use.
func (c *Client) clientFor(req *Request) (*resty.Client, error) {
	key := clientKey{insecure: !c.validateSSL, follow: c.followRedirect}
	if req.TLS != nil {
		key.insecure = req.TLS.InsecureSkipVerify
		key.certFile = req.TLS.CertFile
		key.keyFile = req.TLS.KeyFile
	}
	if req.FollowRedirects != nil {
		key.follow = *req.FollowRedirects
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.clients[key]; ok {
		return rc, nil
	}
	rc, err := c.build(key)
	if err != nil {
		return nil, err
	}
	c.clients[key] = rc
	return rc, nil
}

func (c *Client) build(key clientKey) (*resty.Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}

	rc := resty.New().
		SetTransport(transport).
		SetTimeout(c.timeout).
		SetLogger(restyLogger{c.logger}).
		SetRedirectPolicy(redirectPolicy(key.follow, c.maxRedirects))

	tlsCfg := &tls.Config{InsecureSkipVerify: key.insecure} //nolint:gosec // opt-in per scenario
	if key.certFile != "" {
		keyFile := key.keyFile
		if keyFile == "" {
			keyFile = key.certFile
		}
		cert, err := tls.LoadX509KeyPair(key.certFile, keyFile)
		if err != nil {
			return nil, &TransportError{Kind: KindFile, Err: fmt.Errorf("loading client certificate: %w", err)}
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	rc.SetTLSClientConfig(tlsCfg)

	if c.proxyURL != "" {
		rc.SetProxy(c.proxyURL)
	}
	if len(c.defaultHeaders) > 0 {
		rc.SetHeaders(c.defaultHeaders)
	}
	return rc, nil
}

func redirectPolicy(follow bool, max int) resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if !follow || len(via) >= max {
			return http.ErrUseLastResponse
		}
		return nil
	})
}

// restyLogger routes resty's own messages to the debug level; failures are
// reported through returned errors instead.
type restyLogger struct {
	l *slog.Logger
}

func (r restyLogger) Errorf(format string, v ...any) {
	r.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "lib", "resty", "severity", "error")
}

func (r restyLogger) Warnf(format string, v ...any) {
	r.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "lib", "resty", "severity", "warn")
}

func (r restyLogger) Debugf(format string, v ...any) {
	r.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "lib", "resty")
}
