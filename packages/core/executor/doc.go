// Package executor runs a single stage of a scenario: it layers the stage
// variables, resolves and sends the request, then applies the save and
// verify steps to the response in declared order.
//
// An Executor is stateless between calls and safe for concurrent use. Per
// scenario state lives in a Session, whose global scope only changes through
// Commit.
package executor
