// Package cmd implements the stagespec CLI commands using Cobra.
//
// Available commands:
//   - run: Execute scenarios, optionally re-running them on change
//   - validate: Resolve and decode scenarios without executing them
//   - version: Show stagespec version information
//   - completion: Generate shell completion scripts
//
// Settings come from .stagespec.yaml (or STAGESPEC_* environment
// variables) and are overridden by flags the user sets explicitly.
package cmd
