package btree

import "encoding/binary"

// Record is a decoded value: either ordinary bytes, or (when the slot
// carries a duplicate table) the head rid of that table plus the first
// duplicate's bytes,
// so callers don't have to special-case duplicates at every call site.
type Record struct {
	Bytes         []byte
	HasDuplicates bool
	DupHead       uint64
}

// readRecord decodes slot i's record field per spec.md §4.5: empty,
// tiny (<=7 bytes inline), small (8 bytes inline), a blob rid, or a
// duplicate-table head rid.
func (t *Tree) readRecord(n Node, i int) (Record, error) {
	s := n.Slot(i)
	if s.hasDuplicates() {
		head := binary.LittleEndian.Uint64(s.recordField())
		_, first, err := t.blobs.DuplicateGet(head, 0)
		if err != nil {
			return Record{}, err
		}
		return Record{Bytes: first, HasDuplicates: true, DupHead: head}, nil
	}
	switch s.recordKind() {
	case recKindEmpty:
		return Record{}, nil
	case recKindTiny:
		n := int(s.tinySize())
		return Record{Bytes: append([]byte(nil), s.recordField()[:n]...)}, nil
	case recKindSmall:
		return Record{Bytes: append([]byte(nil), s.recordField()...)}, nil
	case recKindBlob:
		rid := binary.LittleEndian.Uint64(s.recordField())
		b, err := t.blobs.Read(rid)
		if err != nil {
			return Record{}, err
		}
		return Record{Bytes: b}, nil
	default:
		return Record{}, nil
	}
}

// writeRecord stores record into slot i, allocating a blob when it
// doesn't fit inline. Any blob previously referenced by the slot must
// already have been freed by the caller (see freeSlotRecord).
func (t *Tree) writeRecord(n Node, i int, record []byte) error {
	s := n.Slot(i)
	s.setFlags(s.flags() &^ slotFlagDuplicates)
	switch {
	case len(record) == 0:
		s.setRecordKind(recKindEmpty)
		clearBytes(s.recordField())
	case len(record) <= 7:
		s.setRecordKind(recKindTiny)
		s.setTinySize(byte(len(record)))
		clearBytes(s.recordField())
		copy(s.recordField(), record)
	case len(record) == 8:
		s.setRecordKind(recKindSmall)
		copy(s.recordField(), record)
	default:
		rid, err := t.blobs.Allocate(record)
		if err != nil {
			return err
		}
		s.setRecordKind(recKindBlob)
		binary.LittleEndian.PutUint64(s.recordField(), rid)
	}
	return nil
}

// freeSlotRecord releases any out-of-line storage (blob or duplicate
// table) a slot's record field references, without touching the slot
// itself; callers overwrite or remove the slot immediately after.
func (t *Tree) freeSlotRecord(n Node, i int) error {
	s := n.Slot(i)
	if s.hasDuplicates() {
		head := binary.LittleEndian.Uint64(s.recordField())
		return t.blobs.DuplicateEraseAll(head)
	}
	if s.recordKind() == recKindBlob {
		rid := binary.LittleEndian.Uint64(s.recordField())
		return t.blobs.Free(rid)
	}
	return nil
}

// freeSlotKey releases an extended-key blob the slot references, if any.
func (t *Tree) freeSlotKey(n Node, i int) error {
	return t.freeSlotKeyView(n.Slot(i))
}

func (t *Tree) freeSlotKeyView(s slotView) error {
	if s.isExtended() {
		return t.ext.Free(s.extKeyOffset())
	}
	return nil
}
