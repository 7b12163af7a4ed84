// Package eventdispatch implements the per-session serial executor.
//
// A Dispatcher owns one goroutine that executes queued events strictly one
// at a time, ordered first by level (higher levels drain first) and then by
// arrival order within a level. All mutation of session state happens from
// inside dispatched events, which is what makes the rest of the server
// lock-light.
//
// The interesting part is Suspend/Resume: an event that issued a blocking
// call to the browser parks itself with Suspend until the correlated
// response arrives. While parked, the dispatcher keeps executing other
// queued events on the same goroutine (a nested dispatch restricted to a
// minimum level), so a blocking round trip never deadlocks the very
// execution context needed to process its own response. Conceptually the
// dispatcher multiplexes several logical fibers of blocking work over one
// serial context.
package eventdispatch
