// Package parallel runs the iterations of a fanned-out stage on a bounded
// worker pool.
//
// Results are always indexed by iteration, whatever order the iterations
// finish in. With FailFast the first failure stops the scheduling of new
// iterations and cancels the context of running ones; without it every
// iteration runs and failures are only counted.
package parallel
