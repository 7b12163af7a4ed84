package eventdispatch

import "errors"

// Sentinel errors for suspend outcomes. Timeout and cancellation are
// distinct on purpose: a caller must be able to tell "no answer yet" from
// "no answer will ever come".
var (
	// ErrSuspendTimeout is returned by Suspend when its timeout elapses
	// before Resume or CancelSuspend resolves it.
	ErrSuspendTimeout = errors.New("eventdispatch: suspend timed out")

	// ErrSuspendCancelled is returned by Suspend when CancelSuspend resolved
	// it, e.g. because the endpoint closed while the call was outstanding.
	ErrSuspendCancelled = errors.New("eventdispatch: suspend cancelled")

	// ErrDispatcherStopped is returned when an operation is attempted on a
	// stopped dispatcher, or when Stop unparks a suspended event.
	ErrDispatcherStopped = errors.New("eventdispatch: dispatcher stopped")

	// ErrDuplicateSuspendID is returned when Suspend is called with an id
	// that is already parked.
	ErrDuplicateSuspendID = errors.New("eventdispatch: suspend id already in use")
)
