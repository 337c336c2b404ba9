// Package runner drives stagespec scenarios.
//
// A Runner loads a scenario file, resolves its references, seeds the global
// variables from the environment and runs the stages in declared order.
// A failing stage aborts the scenario: later stages are skipped unless they
// are marked always_run. Stages marked xfail report their failure without
// aborting. Parallel stages fan out through the parallel package and their
// saves are reduced into the global variables according to the stage's
// save policy.
package runner
