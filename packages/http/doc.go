// Package http sends the requests built by the stage executor.
//
// It wraps go-resty with the settings a scenario can change per request:
//   - Timeouts and redirect handling
//   - TLS verification and client certificates
//   - JSON, form, raw and multipart payloads
//   - Pluggable authenticators, including challenge-response schemes
//
// Clients built for distinct TLS settings are cached and reused, so
// connection pooling survives across stages and parallel iterations.
package http
