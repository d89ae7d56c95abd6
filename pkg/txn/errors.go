package txn

import "errors"

var (
	// ErrLimitsReached is returned by Begin when the configured cap on
	// concurrent open transactions is hit (spec.md §4.7).
	ErrLimitsReached = errors.New("txn: limits reached")

	// ErrCursorStillOpen is returned by Commit when a cursor remains
	// attached to the transaction.
	ErrCursorStillOpen = errors.New("txn: cursor still open")

	// ErrConflict is returned when an op on a key collides with another
	// still-uncommitted transaction's op on the same key (first
	// committer wins, spec.md §4.7).
	ErrConflict = errors.New("txn: conflict with concurrent transaction")

	// ErrAlreadyClosed is returned by Commit/Abort on a transaction that
	// was already committed or aborted.
	ErrAlreadyClosed = errors.New("txn: already committed or aborted")
)
