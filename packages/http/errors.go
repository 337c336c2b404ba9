package http

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindTransport  ErrorKind = "transport"
	KindFile       ErrorKind = "file"
)

// TransportError is returned when no response was received.
type TransportError struct {
	Kind   ErrorKind
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a TransportError of kind timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTimeout
}

func classify(req *Request, err error) *TransportError {
	te := &TransportError{Kind: KindTransport, Method: req.Method, URL: req.URL, Err: err}

	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		te.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		te.Kind = KindTimeout
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		te.Kind = KindConnection
	}
	return te
}
