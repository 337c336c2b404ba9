// Package config handles configuration loading and management for stagespec.
//
// It provides functionality for:
//   - Loading configuration from .stagespec.yaml or stagespec.config.json files
//   - STAGESPEC_* environment overrides
//   - Default configuration values
//   - Named environments of scenario variables
package config
