// Package output renders scenario run results.
//
// Supported formats:
//   - console: human readable terminal output, coloured with fatih/color
//   - json: one JSON document covering every scenario of the run
//
// Every formatter implements Reporter. Formatters that accumulate results
// write them on Flush.
package output
