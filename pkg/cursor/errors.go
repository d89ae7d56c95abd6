package cursor

import "errors"

var (
	// ErrNoPosition is returned by any operation that requires the
	// cursor to be positioned (coupled or uncoupled) while it is nil.
	ErrNoPosition = errors.New("cursor: not positioned")

	// ErrNotOnDuplicate is returned by a DupModeOnly Move when the
	// current record carries no duplicate table, or when the step would
	// go past the first or last duplicate of the current key.
	ErrNotOnDuplicate = errors.New("cursor: current record has no duplicates")
)
