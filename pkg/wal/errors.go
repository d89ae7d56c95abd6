// Package wal implements the write-ahead log used for durability and
// crash recovery: before/after page images, commit/abort markers,
// file-size-change records, and checkpoints, ring-rotated across two
// files beside the database file.
package wal

import "errors"

var (
	// ErrCorrupted indicates a WAL entry whose CRC does not match.
	ErrCorrupted = errors.New("wal: corrupted entry")

	// ErrLogClosed indicates an operation on a closed log.
	ErrLogClosed = errors.New("wal: log closed")

	// ErrLogNotFound indicates neither ring file exists.
	ErrLogNotFound = errors.New("wal: log not found")

	// ErrTruncated indicates a partially written entry at EOF.
	ErrTruncated = errors.New("wal: truncated entry")
)
