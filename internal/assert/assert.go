// Package assert guards the programmer-error class of failure named by the
// core's error-handling design: hazard-slot exhaustion, reclamation-entry
// exhaustion, thread over-subscription, misaligned nodes, invalid iterator
// use. These are never recoverable and are never used for ordinary
// absence (which containers report via a bool return instead).
package assert

import "fmt"

// That panics with msg (formatted with args) if cond is false.
func That(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(msg, args...))
	}
}
