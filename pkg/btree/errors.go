package btree

import "errors"

var (
	// ErrKeyNotFound is returned by Find/Erase when no matching key exists.
	ErrKeyNotFound = errors.New("btree: key not found")

	// ErrDuplicateKey is returned by Insert when the key already exists
	// and neither OVERWRITE nor a DUPLICATE flag was requested.
	ErrDuplicateKey = errors.New("btree: duplicate key")

	// ErrKeysizeTooSmall is returned when the configured inline key
	// capacity cannot hold even the 8-byte extended-key offset.
	ErrKeysizeTooSmall = errors.New("btree: keysize too small")

	// ErrIntegrityViolated is returned by CheckIntegrity on a hard
	// structural failure (not the soft root-occupancy warning).
	ErrIntegrityViolated = errors.New("btree: integrity violated")

	// ErrInvalidRecordNumberKey is returned by DecodeRecno for a key that
	// is not exactly 8 bytes wide, and by InsertRecno on a tree that has
	// no record-number counter.
	ErrInvalidRecordNumberKey = errors.New("btree: record-number key must be 8 bytes or absent")
)
