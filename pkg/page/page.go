// ABOUTME: In-memory page descriptor wrapping a fixed-size on-disk block
// ABOUTME: Holds raw bytes, pin/dirty state, and the cursor back-reference list

package page

import (
	"encoding/binary"
	"hash/crc32"
)

// Type tags persisted in the page header (§3 Page).
const (
	TypeHeader    = 0 // singleton, offset 0
	TypeBtreeRoot = 1
	TypeBtreeNode = 2 // internal or leaf, disambiguated by the node payload
	TypeFreelist  = 3
	TypeBlob      = 4
	TypeExtKey    = 5
)

// HeaderSize is the persistent per-page header: self offset (8), type
// tag (1), flags (1), crc32 (4), list-next offset (8), reserved (2).
const HeaderSize = 24

const (
	offSelf  = 0
	offType  = 8
	offFlags = 9
	offCRC   = 10
	offNext  = 14
)

// In-memory-only flag bits (never persisted).
const (
	FlagNoHeader      = 1 << iota // payload has no persistent header (e.g. the file header page)
	FlagDeletePending             // freed this transaction; freelist claims it on eviction
	FlagMallocOwned               // buf is heap-allocated, not a live mmap slice
)

// CursorRef is the minimal handle a page's cursor list stores; Cursor
// itself lives in pkg/cursor, which would create an import cycle if
// referenced directly, so pages hold the cursor's id and slot index
// instead of a pointer (spec.md §9's arena + stable index redesign).
type CursorRef struct {
	CursorID uint64
	Slot     uint16
	DupID    uint32
}

// Page is the in-memory descriptor for one fixed-size block.
type Page struct {
	Offset   uint64
	Buf      []byte // HeaderSize + payload, length == page size
	Dirty    bool
	Pins     int
	Flags    uint32
	Age      uint64 // cache timeslot stamp, smaller = older
	ModLSN   uint64 // WAL lsn of the most recent before-image logged for this page
	Cursors  []CursorRef
	DB       uint16 // owning database id within the environment, 0 = env-global
}

func New(offset uint64, size int) *Page {
	return &Page{Offset: offset, Buf: make([]byte, size), Flags: FlagMallocOwned}
}

// Payload returns the mutable slice after the persistent header.
func (p *Page) Payload() []byte {
	if p.Flags&FlagNoHeader != 0 {
		return p.Buf
	}
	return p.Buf[HeaderSize:]
}

func (p *Page) Type() byte {
	if p.Flags&FlagNoHeader != 0 {
		return TypeHeader
	}
	return p.Buf[offType]
}

func (p *Page) SetType(t byte) {
	if p.Flags&FlagNoHeader == 0 {
		p.Buf[offType] = t
	}
}

func (p *Page) NextInChain() uint64 {
	if p.Flags&FlagNoHeader != 0 {
		return 0
	}
	return binary.LittleEndian.Uint64(p.Buf[offNext:])
}

func (p *Page) SetNextInChain(next uint64) {
	if p.Flags&FlagNoHeader == 0 {
		binary.LittleEndian.PutUint64(p.Buf[offNext:], next)
	}
}

// WriteHeader stamps the self-offset and recomputes the crc over the
// payload. Called immediately before the page is handed to the device.
func (p *Page) WriteHeader() {
	if p.Flags&FlagNoHeader != 0 {
		return
	}
	binary.LittleEndian.PutUint64(p.Buf[offSelf:], p.Offset)
	crc := crc32.ChecksumIEEE(p.Buf[HeaderSize:])
	binary.LittleEndian.PutUint32(p.Buf[offCRC:], crc)
}

// Validate checks the self-offset and crc recorded in the header
// against the page's known position and contents.
func (p *Page) Validate() error {
	if p.Flags&FlagNoHeader != 0 {
		return nil
	}
	self := binary.LittleEndian.Uint64(p.Buf[offSelf:])
	if self != p.Offset {
		return errBadSelfOffset(p.Offset, self)
	}
	want := binary.LittleEndian.Uint32(p.Buf[offCRC:])
	got := crc32.ChecksumIEEE(p.Buf[HeaderSize:])
	if want != got {
		return errBadCRC(p.Offset)
	}
	return nil
}

// Pin/Unpin are ref-counted; nested pinning on the same page is
// allowed. No eviction may take a pinned page (cache enforces this).
func (p *Page) Pin()   { p.Pins++ }
func (p *Page) Unpin() {
	if p.Pins > 0 {
		p.Pins--
	}
}
func (p *Page) Pinned() bool { return p.Pins > 0 }

// AddCursor/RemoveCursor maintain the authoritative cursor back-reference
// list used to uncouple cursors before any structural page change.
func (p *Page) AddCursor(ref CursorRef) {
	p.Cursors = append(p.Cursors, ref)
}

func (p *Page) RemoveCursor(cursorID uint64) {
	out := p.Cursors[:0]
	for _, c := range p.Cursors {
		if c.CursorID != cursorID {
			out = append(out, c)
		}
	}
	p.Cursors = out
}
