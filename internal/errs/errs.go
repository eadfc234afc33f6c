// Package errs defines the error kinds the pipeline distinguishes between so
// callers can decide retry/quarantine/alert behavior without string matching.
package errs

import "errors"

var (
	// ErrBadInput marks a malformed tick or fill. The caller drops it and
	// bumps a counter.
	ErrBadInput = errors.New("bad input")

	// ErrStaleTick marks a tick whose timestamp did not advance monotonically
	// for its symbol.
	ErrStaleTick = errors.New("stale tick")

	// ErrDuplicateIntent marks a dedupe-key hit on the producer side; it is
	// swallowed as a success by the caller, never surfaced to the operator.
	ErrDuplicateIntent = errors.New("duplicate intent")

	// ErrDirectionConflict marks an attempt to append a lot whose direction
	// does not match the book's existing direction.
	ErrDirectionConflict = errors.New("direction conflict")

	// ErrMaxLotsExceeded marks an attempt to append a lot to a full book.
	ErrMaxLotsExceeded = errors.New("max lots exceeded")

	// ErrBusUnavailable marks a transient bus I/O failure. There is no
	// backoff: the read loops in cmd/ log it, sleep one second and read
	// again, and a dispatch lane logs a failed publish and drops that intent.
	ErrBusUnavailable = errors.New("bus unavailable")

	// ErrBrokerRejected marks a fill with status REJECTED.
	ErrBrokerRejected = errors.New("broker rejected")

	// ErrIntentTimeout marks a pending intent that expired without a fill.
	ErrIntentTimeout = errors.New("intent pending timeout")

	// ErrFatalConfig marks invalid configuration discovered at startup; the
	// only error kind that aborts the process.
	ErrFatalConfig = errors.New("fatal config")

	// ErrUnknownLot marks a fill referencing a lot id no longer in the book.
	ErrUnknownLot = errors.New("unknown lot")
)
