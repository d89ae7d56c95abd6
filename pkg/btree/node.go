// ABOUTME: B+-tree node layout over a page payload: header fields plus a
// ABOUTME: contiguous array of fixed-width key slots (spec.md §3)
package btree

import (
	"encoding/binary"

	"github.com/nainya/embedkv/pkg/page"
)

// Node header flag bits, persisted in the payload.
const nodeFlagLeaf uint16 = 1 << 0

const (
	offNodeFlags    = 0
	offNodeKeyCount = 2
	offLeftSibling  = 4
	offRightSibling = 12
	offPtrLeft      = 20
	nodeHeaderSize  = 28
)

// Node is a view over one B+-tree page (root or index), parameterized
// by the database's configured key size.
type Node struct {
	P       *page.Page
	KeySize int
}

func NewNode(p *page.Page, keySize int) Node { return Node{P: p, KeySize: keySize} }

func (n Node) payload() []byte { return n.P.Payload() }

func (n Node) IsLeaf() bool {
	return binary.LittleEndian.Uint16(n.payload()[offNodeFlags:])&nodeFlagLeaf != 0
}

func (n Node) SetLeaf(leaf bool) {
	pl := n.payload()
	f := binary.LittleEndian.Uint16(pl[offNodeFlags:])
	if leaf {
		f |= nodeFlagLeaf
	} else {
		f &^= nodeFlagLeaf
	}
	binary.LittleEndian.PutUint16(pl[offNodeFlags:], f)
}

func (n Node) KeyCount() int {
	return int(binary.LittleEndian.Uint16(n.payload()[offNodeKeyCount:]))
}

func (n Node) SetKeyCount(c int) {
	binary.LittleEndian.PutUint16(n.payload()[offNodeKeyCount:], uint16(c))
}

func (n Node) LeftSiblingOffset() uint64 {
	return binary.LittleEndian.Uint64(n.payload()[offLeftSibling:])
}
func (n Node) SetLeftSiblingOffset(off uint64) {
	binary.LittleEndian.PutUint64(n.payload()[offLeftSibling:], off)
}
func (n Node) RightSiblingOffset() uint64 {
	return binary.LittleEndian.Uint64(n.payload()[offRightSibling:])
}
func (n Node) SetRightSiblingOffset(off uint64) {
	binary.LittleEndian.PutUint64(n.payload()[offRightSibling:], off)
}

// PtrLeft holds the child offset for keys strictly less than the
// node's first key; zero iff this node is a leaf (spec.md §3).
func (n Node) PtrLeft() uint64 { return binary.LittleEndian.Uint64(n.payload()[offPtrLeft:]) }
func (n Node) SetPtrLeft(off uint64) {
	binary.LittleEndian.PutUint64(n.payload()[offPtrLeft:], off)
}

func (n Node) width() int { return slotWidth(n.KeySize) }

// MaxKeys is how many slots fit in the page after the node header.
func (n Node) MaxKeys() int {
	return (len(n.payload()) - nodeHeaderSize) / n.width()
}

func (n Node) slotBuf(i int) []byte {
	off := nodeHeaderSize + i*n.width()
	return n.payload()[off : off+n.width()]
}

// Slot returns a bounds-checked view of slot i; i must be in [0, KeyCount()).
func (n Node) Slot(i int) slotView {
	if i < 0 || i >= n.KeyCount() {
		panic("btree: slot index out of range")
	}
	return newSlotView(n.slotBuf(i), n.KeySize)
}

// SlotPtr returns the child pointer stored in a non-leaf slot's record
// field (an internal node reuses the record field for the child offset).
func (n Node) SlotPtr(i int) uint64 {
	return binary.LittleEndian.Uint64(n.Slot(i).recordField())
}

func (n Node) SetSlotPtr(i int, ptr uint64) {
	binary.LittleEndian.PutUint64(n.Slot(i).recordField(), ptr)
}

// InsertSlotAt shifts slots [at, KeyCount()) right by one to open a
// gap, then returns a view of the freshly opened slot. Caller must
// ensure KeyCount() < MaxKeys() first.
func (n Node) InsertSlotAt(at int) slotView {
	count := n.KeyCount()
	w := n.width()
	pl := n.payload()
	src := nodeHeaderSize + at*w
	dstEnd := nodeHeaderSize + (count+1)*w
	copy(pl[src+w:dstEnd], pl[src:nodeHeaderSize+count*w])
	clearBytes(pl[src : src+w])
	n.SetKeyCount(count + 1)
	return newSlotView(pl[src:src+w], n.KeySize)
}

// RemoveSlotAt shifts slots (at, KeyCount()) left by one, overwriting
// slot at.
func (n Node) RemoveSlotAt(at int) {
	count := n.KeyCount()
	w := n.width()
	pl := n.payload()
	dst := nodeHeaderSize + at*w
	src := dst + w
	end := nodeHeaderSize + count*w
	copy(pl[dst:end-w], pl[src:end])
	clearBytes(pl[end-w : end])
	n.SetKeyCount(count - 1)
}

// Key returns the full key bytes for slot i, fetching the extended
// blob through fetchExt when the slot's KEY_IS_EXTENDED flag is set.
func (n Node) Key(i int, fetchExt func(offset uint64) ([]byte, error)) ([]byte, error) {
	s := n.Slot(i)
	if !s.isExtended() {
		return append([]byte(nil), s.inlineKeyArea()[:s.keyLen()]...), nil
	}
	return fetchExt(s.extKeyOffset())
}

// Reset zeros the node header and key count; used when formatting a
// freshly allocated page as a root or index node.
func (n Node) Reset(leaf bool) {
	pl := n.payload()
	clearBytes(pl[:nodeHeaderSize])
	n.SetLeaf(leaf)
}
