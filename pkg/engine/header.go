package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/embedkv/pkg/device"
)

// magic identifies an embedkv file; magicSwapped is its byte-reversed
// form, so Open can tell "this file was written on a machine of the
// other endianness" apart from "this isn't an embedkv file at all"
// (spec.md §6 endian mismatch detection).
var magic = [8]byte{'E', 'M', 'B', 'E', 'D', 'K', 'V', '1'}

var magicSwapped = reversed(magic)

func reversed(b [8]byte) [8]byte {
	var r [8]byte
	for i := range b {
		r[i] = b[len(b)-1-i]
	}
	return r
}

const (
	headerVersion = 1

	offMagic        = 0
	offVersion      = 8
	offPageSize     = 12
	offMaxDBs       = 16
	offNumDBs       = 18
	offFreelistHead = 20
	offFreelistTail = 28
	fixedHeaderSize = 40

	dbNameLen   = 32
	dbEntrySize = 2 + 2 + 2 + 2 + 8 + 8 + dbNameLen // 56
)

const (
	offDBID         = 0
	offDBFlags      = 2
	offDBKeySize    = 4
	offDBReserved   = 6
	offDBRootOffset = 8
	offDBRecno      = 16
	offDBName       = 24
)

// header is the decoded file header: the fixed fields plus the
// per-database array, persisted at device offset 0.
type header struct {
	byteOrder    binary.ByteOrder
	pageSize     uint32
	maxDBs       int
	freelistHead uint64
	freelistTail uint64
	dbs          []dbEntry
}

type dbEntry struct {
	id         uint16
	flags      Flags
	keySize    uint16
	rootOffset uint64
	recno      uint64
	name       string
}

func newHeader(pageSize uint32, maxDBs int) *header {
	return &header{byteOrder: binary.LittleEndian, pageSize: pageSize, maxDBs: maxDBs, dbs: make([]dbEntry, maxDBs)}
}

func (h *header) size() int { return fixedHeaderSize + h.maxDBs*dbEntrySize }

func (h *header) encode() []byte {
	buf := make([]byte, h.size())
	bo := h.byteOrder
	copy(buf[offMagic:], magic[:])
	bo.PutUint32(buf[offVersion:], headerVersion)
	bo.PutUint32(buf[offPageSize:], h.pageSize)
	bo.PutUint16(buf[offMaxDBs:], uint16(h.maxDBs))
	bo.PutUint16(buf[offNumDBs:], uint16(h.activeCount()))
	bo.PutUint64(buf[offFreelistHead:], h.freelistHead)
	bo.PutUint64(buf[offFreelistTail:], h.freelistTail)

	for i, e := range h.dbs {
		off := fixedHeaderSize + i*dbEntrySize
		eb := buf[off : off+dbEntrySize]
		bo.PutUint16(eb[offDBID:], e.id)
		bo.PutUint16(eb[offDBFlags:], uint16(e.flags))
		bo.PutUint16(eb[offDBKeySize:], e.keySize)
		bo.PutUint64(eb[offDBRootOffset:], e.rootOffset)
		bo.PutUint64(eb[offDBRecno:], e.recno)
		nameBytes := []byte(e.name)
		if len(nameBytes) > dbNameLen {
			nameBytes = nameBytes[:dbNameLen]
		}
		copy(eb[offDBName:offDBName+dbNameLen], nameBytes)
	}
	return buf
}

func (h *header) activeCount() int {
	n := 0
	for _, e := range h.dbs {
		if e.id != 0 {
			n++
		}
	}
	return n
}

// decodeHeader reads and validates the header at device offset 0,
// auto-detecting a byte-swapped file written on a machine of the
// opposite endianness (spec.md §6).
func decodeHeader(dev device.Device) (*header, error) {
	probe := make([]byte, fixedHeaderSize)
	if err := dev.ReadAt(0, probe); err != nil {
		return nil, fmt.Errorf("engine: read header: %w", err)
	}

	var bo binary.ByteOrder
	switch {
	case string(probe[offMagic:offMagic+8]) == string(magic[:]):
		bo = binary.LittleEndian
	case string(probe[offMagic:offMagic+8]) == string(magicSwapped[:]):
		bo = binary.BigEndian
	default:
		return nil, newError(CodeInvalidParameter, "not an embedkv file (bad magic)", nil)
	}

	version := bo.Uint32(probe[offVersion:])
	if version != headerVersion {
		return nil, newError(CodeInvalidParameter, fmt.Sprintf("unsupported header version %d", version), nil)
	}

	h := &header{
		byteOrder:    bo,
		pageSize:     bo.Uint32(probe[offPageSize:]),
		maxDBs:       int(bo.Uint16(probe[offMaxDBs:])),
		freelistHead: bo.Uint64(probe[offFreelistHead:]),
		freelistTail: bo.Uint64(probe[offFreelistTail:]),
	}

	buf := make([]byte, h.size())
	if err := dev.ReadAt(0, buf); err != nil {
		return nil, fmt.Errorf("engine: read header array: %w", err)
	}
	h.dbs = make([]dbEntry, h.maxDBs)
	for i := range h.dbs {
		off := fixedHeaderSize + i*dbEntrySize
		eb := buf[off : off+dbEntrySize]
		h.dbs[i] = dbEntry{
			id:         bo.Uint16(eb[offDBID:]),
			flags:      Flags(bo.Uint16(eb[offDBFlags:])),
			keySize:    bo.Uint16(eb[offDBKeySize:]),
			rootOffset: bo.Uint64(eb[offDBRootOffset:]),
			recno:      bo.Uint64(eb[offDBRecno:]),
			name:       cstring(eb[offDBName : offDBName+dbNameLen]),
		}
	}
	return h, nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (h *header) writeTo(dev device.Device) error {
	return dev.WriteAt(0, h.encode())
}

func (h *header) findByName(name string) (*dbEntry, int) {
	for i := range h.dbs {
		if h.dbs[i].id != 0 && h.dbs[i].name == name {
			return &h.dbs[i], i
		}
	}
	return nil, -1
}

func (h *header) allocSlot() (int, error) {
	for i := range h.dbs {
		if h.dbs[i].id == 0 {
			return i, nil
		}
	}
	return 0, newError(CodeLimitsReached, "database header array is full", nil)
}
