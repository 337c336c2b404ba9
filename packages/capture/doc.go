// Package capture runs save steps: it extracts values from an HTTP response
// into the variable context.
//
// A save step is processed in a fixed order:
//   - JSON body paths (gjson syntax, with [N] index shorthand)
//   - Response headers
//   - Inline variables, templated against the response and earlier saves
//   - Registered save functions, in listed order
//
// Every value is visible to the entries that follow it.
package capture
