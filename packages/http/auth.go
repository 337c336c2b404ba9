package http

import (
	"context"
	"encoding/base64"
)

// Authenticator decorates an outgoing request with credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, req *Request) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, req *Request) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// Challenger is implemented by authenticators that answer a 401 challenge.
// Challenge updates req from the challenge response and reports whether the
// request should be sent again.
type Challenger interface {
	Challenge(ctx context.Context, req *Request, resp *Response) (bool, error)
}

// BasicAuth sends RFC 7617 credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (a *BasicAuth) Authenticate(_ context.Context, req *Request) error {
	creds := a.Username + ":" + a.Password
	req.Headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	return nil
}

// TokenAuth sends a static token. Header defaults to Authorization and
// Scheme to "Bearer"; an empty Scheme with a custom Header sends the raw
// token, as API keys expect.
type TokenAuth struct {
	Token  string
	Header string
	Scheme string
}

func (a *TokenAuth) Authenticate(_ context.Context, req *Request) error {
	header := a.Header
	scheme := a.Scheme
	if header == "" {
		header = "Authorization"
		if scheme == "" {
			scheme = "Bearer"
		}
	}
	value := a.Token
	if scheme != "" {
		value = scheme + " " + a.Token
	}
	req.Headers[header] = value
	return nil
}

// QueryAuth sends a key as a query parameter.
type QueryAuth struct {
	Param string
	Value string
}

func (a *QueryAuth) Authenticate(_ context.Context, req *Request) error {
	req.Query[a.Param] = a.Value
	return nil
}
