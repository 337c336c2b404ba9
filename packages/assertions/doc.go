// Package assertions runs verify steps against an HTTP response.
//
// Checks run in a fixed order and the first failing check ends the step:
//   - Status code (a single code or a list of accepted codes)
//   - Header values
//   - Equality of named context variables
//   - Boolean expressions, evaluated against the step context
//   - Registered verify functions
//   - Body checks: JSON paths, JSON Schema, substring and regex presence
package assertions
