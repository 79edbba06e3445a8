// Package terminal tracks shell commands that keep running after the turn
// that launched them.
//
// Each Terminal moves one way through its states:
//
//	started -> exited | killed | timedOut | aborted
//
// A detached goroutine races natural exit, an abort signal, the timeout and
// an explicit Kill. The winner captures the final output and releases the
// process handle. Release happens exactly once and afterwards only the final
// snapshot is kept.
//
// Output polling is incremental: each call returns only the suffix not seen
// by the previous call on the same terminal.
package terminal
