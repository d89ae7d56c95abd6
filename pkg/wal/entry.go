package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// EntryType tags what a record holds (spec.md §4.6).
type EntryType byte

const (
	EntryBeforeImage EntryType = 1 // page contents prior to a structural mutation
	EntryAfterImage  EntryType = 2 // page contents after a mutation, for redo
	EntryCommit      EntryType = 3 // transaction commit marker
	EntryAbort       EntryType = 4 // transaction abort marker
	EntryFileResize  EntryType = 5 // backing file grew or shrank
	EntryCheckpoint  EntryType = 6 // all pages durable up to this LSN
)

// EntryHeaderSize: LSN(8) + TxnID(8) + Type(1) + reserved(3) + PageOffset(8) + DataLen(4).
const EntryHeaderSize = 32

// Entry is one WAL record. PageOffset and Data only carry meaning for
// the image types; FileResize stores the new size in Data (8 bytes,
// little endian); Commit/Abort/Checkpoint carry no data at all.
type Entry struct {
	LSN        uint64
	TxnID      uint64
	Type       EntryType
	PageOffset uint64
	Data       []byte
}

// Encode serializes the entry as header + data + a trailing crc32
// covering everything before it.
func (e *Entry) Encode() []byte {
	buf := make([]byte, EntryHeaderSize+len(e.Data)+4)
	binary.LittleEndian.PutUint64(buf[0:], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:], e.TxnID)
	buf[16] = byte(e.Type)
	binary.LittleEndian.PutUint64(buf[20:], e.PageOffset)
	binary.LittleEndian.PutUint32(buf[28:], uint32(len(e.Data)))
	copy(buf[EntryHeaderSize:], e.Data)

	crcAt := EntryHeaderSize + len(e.Data)
	crc := crc32.ChecksumIEEE(buf[:crcAt])
	binary.LittleEndian.PutUint32(buf[crcAt:], crc)
	return buf
}

func (e *Entry) Size() int { return EntryHeaderSize + len(e.Data) + 4 }

// DecodeEntry parses a single record out of data, which must hold at
// least one full, correctly sized entry.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}
	dataLen := binary.LittleEndian.Uint32(data[28:])
	total := EntryHeaderSize + int(dataLen) + 4
	if len(data) < total {
		return nil, ErrTruncated
	}

	crcAt := EntryHeaderSize + int(dataLen)
	want := binary.LittleEndian.Uint32(data[crcAt:])
	got := crc32.ChecksumIEEE(data[:crcAt])
	if want != got {
		return nil, ErrCorrupted
	}

	e := &Entry{
		LSN:        binary.LittleEndian.Uint64(data[0:]),
		TxnID:      binary.LittleEndian.Uint64(data[8:]),
		Type:       EntryType(data[16]),
		PageOffset: binary.LittleEndian.Uint64(data[20:]),
	}
	if dataLen > 0 {
		e.Data = make([]byte, dataLen)
		copy(e.Data, data[EntryHeaderSize:crcAt])
	}
	return e, nil
}

func (e *Entry) String() string {
	return fmt.Sprintf("wal.Entry[lsn=%d txn=%d type=%d pageOffset=%d dataLen=%d]",
		e.LSN, e.TxnID, e.Type, e.PageOffset, len(e.Data))
}

// NewFileResize builds a file-size-change entry (spec.md §6).
func NewFileResize(lsn uint64, newSize int64) *Entry {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(newSize))
	return &Entry{LSN: lsn, Type: EntryFileResize, Data: data}
}

// ResizeTarget decodes the new file size out of a FileResize entry.
func (e *Entry) ResizeTarget() int64 {
	return int64(binary.LittleEndian.Uint64(e.Data))
}
