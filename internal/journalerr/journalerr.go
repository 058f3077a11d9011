// Package journalerr holds the sentinel error taxonomy shared across the
// journal engine's components, per the error handling design: the core
// recovers nothing silently, and every failure wraps one of these sentinels
// so callers can branch with errors.Is / errors.As.
package journalerr

import "errors"

var (
	// ErrQueueFull is returned when the write pipeline's bounded mailbox is
	// saturated. The drop-newest overflow policy fails the newest enqueue
	// attempt rather than blocking or growing the queue.
	ErrQueueFull = errors.New("journal: write queue full")

	// ErrQueueClosed is returned when a write is submitted after the
	// pipeline has been shut down.
	ErrQueueClosed = errors.New("journal: write queue closed")

	// ErrSerialization wraps a per-write serialization failure. Sibling
	// writes in the same batch are unaffected.
	ErrSerialization = errors.New("journal: serialization failed")

	// ErrDeserialization wraps a per-row deserialization failure surfaced
	// inside a read stream. It never terminates the stream.
	ErrDeserialization = errors.New("journal: deserialization failed")

	// ErrUpdate wraps a failure from Update, including the target identity.
	ErrUpdate = errors.New("journal: update failed")

	// ErrStorage wraps a transactional insert/delete/update failure. It
	// propagates to every caller whose rows were in the failing batch.
	ErrStorage = errors.New("journal: storage failure")

	// ErrFatalIO wraps a repeated connection-acquisition failure.
	ErrFatalIO = errors.New("journal: fatal io failure")

	// ErrNotFound names a missing persistence id. No journal operation
	// returns it; Update of a missing row fails with ErrUpdate.
	ErrNotFound = errors.New("journal: not found")
)
