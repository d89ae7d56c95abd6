package blob

import (
	"encoding/binary"
	"fmt"
)

// entrySize is one duplicate-table row: a flags byte plus the rid of
// that duplicate's own record blob (spec.md §3 "Duplicate table").
const entrySize = 9

type dupEntry struct {
	flags byte
	rid   uint64
}

func packEntries(entries []dupEntry) []byte {
	buf := make([]byte, len(entries)*entrySize)
	for i, e := range entries {
		off := i * entrySize
		buf[off] = e.flags
		binary.LittleEndian.PutUint64(buf[off+1:off+entrySize], e.rid)
	}
	return buf
}

func unpackEntries(buf []byte) []dupEntry {
	n := len(buf) / entrySize
	entries := make([]dupEntry, n)
	for i := 0; i < n; i++ {
		off := i * entrySize
		entries[i] = dupEntry{flags: buf[off], rid: binary.LittleEndian.Uint64(buf[off+1 : off+entrySize])}
	}
	return entries
}

func (s *Store) readTable(head uint64) ([]dupEntry, error) {
	buf, err := s.Read(head)
	if err != nil {
		return nil, fmt.Errorf("blob: read duplicate table at %d: %w", head, err)
	}
	return unpackEntries(buf), nil
}

func (s *Store) writeTable(head uint64, entries []dupEntry) (uint64, error) {
	return s.Overwrite(head, packEntries(entries))
}

// DuplicateInsert adds record to the duplicate table rooted at head
// (0 meaning "not yet a table": the first call creates one), at pos
// (negative meaning append). overwriteAt is accepted for parity with
// the richer DUPLICATE_INSERT_BEFORE/AFTER-with-overwrite variants
// some callers may want later; this store does not yet distinguish it
// from a plain positional insert.
func (s *Store) DuplicateInsert(head uint64, record []byte, pos int, overwriteAt int) (uint64, error) {
	rid, err := s.Allocate(record)
	if err != nil {
		return 0, fmt.Errorf("blob: allocate duplicate record: %w", err)
	}
	entry := dupEntry{rid: rid}

	if head == 0 {
		return s.Allocate(packEntries([]dupEntry{entry}))
	}

	entries, err := s.readTable(head)
	if err != nil {
		return 0, err
	}
	if pos < 0 || pos >= len(entries) {
		entries = append(entries, entry)
	} else {
		entries = append(entries[:pos:pos], append([]dupEntry{entry}, entries[pos:]...)...)
	}
	return s.writeTable(head, entries)
}

// DuplicateGet returns the flags and record bytes of entry dupID.
func (s *Store) DuplicateGet(head uint64, dupID int) (byte, []byte, error) {
	entries, err := s.readTable(head)
	if err != nil {
		return 0, nil, err
	}
	if dupID < 0 || dupID >= len(entries) {
		return 0, nil, fmt.Errorf("blob: duplicate id %d out of range (table has %d)", dupID, len(entries))
	}
	record, err := s.Read(entries[dupID].rid)
	if err != nil {
		return 0, nil, err
	}
	return entries[dupID].flags, record, nil
}

// DuplicateErase removes entry dupID, freeing its record blob. empty
// reports whether no entries remain; in that case the table blob is
// freed as well and the returned head is 0, and removing the owning
// slot is left to the caller.
func (s *Store) DuplicateErase(head uint64, dupID int) (uint64, bool, error) {
	entries, err := s.readTable(head)
	if err != nil {
		return 0, false, err
	}
	if dupID < 0 || dupID >= len(entries) {
		return 0, false, fmt.Errorf("blob: duplicate id %d out of range (table has %d)", dupID, len(entries))
	}
	if err := s.Free(entries[dupID].rid); err != nil {
		return 0, false, err
	}
	entries = append(entries[:dupID], entries[dupID+1:]...)
	if len(entries) == 0 {
		if err := s.Free(head); err != nil {
			return 0, false, err
		}
		return 0, true, nil
	}
	newHead, err := s.writeTable(head, entries)
	return newHead, false, err
}

// DuplicateEraseAll frees every entry's record blob plus the table
// itself. A zero head (no table was ever created) is a no-op.
func (s *Store) DuplicateEraseAll(head uint64) error {
	if head == 0 {
		return nil
	}
	entries, err := s.readTable(head)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.Free(e.rid); err != nil {
			return err
		}
	}
	return s.Free(head)
}

// DuplicateCount reports how many entries the table rooted at head
// holds; a zero head (never created) counts as zero.
func (s *Store) DuplicateCount(head uint64) (int, error) {
	if head == 0 {
		return 0, nil
	}
	entries, err := s.readTable(head)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
