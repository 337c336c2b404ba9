// Package env builds the variables a scenario run starts with.
//
// Sources, later ones winning:
//   - The selected environment of the config file
//   - .env, .env.local and .env.<environment> files next to the scenario
//   - STAGESPEC_VAR_* variables of the process environment
package env
