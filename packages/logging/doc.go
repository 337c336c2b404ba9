// Package logging builds the slog loggers used across stagespec.
//
// Three formats are supported: "text" and "json" use the standard slog
// handlers, "color" renders one line per record with the level colored
// for terminals. Attributes whose key looks like a credential are masked
// in every format.
package logging
