package btree

import "encoding/binary"

// Slot flag bits (spec.md §3 "Key slot").
const (
	slotFlagExtended   byte = 1 << 0 // KEY_IS_EXTENDED: inline area's last 8 bytes hold a blob offset
	slotFlagDuplicates byte = 1 << 1 // slot's record field holds a duplicate-table head rid
)

// Record kinds packed into flag bits 2-4. Empty/tiny/small bypass the
// blob store entirely (spec.md §4.5); Blob and DupTable store an rid.
const (
	recKindEmpty byte = iota
	recKindTiny
	recKindSmall
	recKindBlob
	recKindDupTable
)

const recFieldSize = 8

// slotWidth is the fixed width of one key slot: 1 flags byte + 2 key
// size bytes + keySize inline key bytes (configurable per database,
// spec.md §6 KEYSIZE) + 8 record-field bytes.
func slotWidth(keySize int) int { return 3 + keySize + recFieldSize }

// slotView is a bounds-checked window into one slot's bytes.
type slotView struct {
	buf     []byte
	keySize int // configured inline key capacity, including the 8 reserved for an ext-key offset
}

func newSlotView(buf []byte, keySize int) slotView { return slotView{buf: buf, keySize: keySize} }

func (s slotView) flags() byte     { return s.buf[0] }
func (s slotView) setFlags(f byte) { s.buf[0] = f }

func (s slotView) keyLen() uint16        { return binary.LittleEndian.Uint16(s.buf[1:3]) }
func (s slotView) setKeyLen(n uint16)    { binary.LittleEndian.PutUint16(s.buf[1:3], n) }
func (s slotView) inlineKeyArea() []byte { return s.buf[3 : 3+s.keySize] }
func (s slotView) recordField() []byte   { return s.buf[3+s.keySize : 3+s.keySize+recFieldSize] }

func (s slotView) isExtended() bool    { return s.flags()&slotFlagExtended != 0 }
func (s slotView) hasDuplicates() bool { return s.flags()&slotFlagDuplicates != 0 }

func (s slotView) recordKind() byte {
	return (s.flags() >> 2) & 0x7
}
func (s slotView) setRecordKind(k byte) {
	s.setFlags((s.flags() &^ (0x7 << 2)) | (k&0x7)<<2)
}

func (s slotView) tinySize() byte { return (s.flags() >> 5) & 0x7 }
func (s slotView) setTinySize(n byte) {
	s.setFlags((s.flags() &^ (0x7 << 5)) | (n&0x7)<<5)
}

// inlineKeyCapacity is the largest key that can be stored without the
// extended-key flag: the inline area minus the 8 bytes reserved for a
// blob offset.
func (s slotView) inlineKeyCapacity() int { return s.keySize - recFieldSize }

// setKey stores a key, extending it to a blob via extend() when it
// does not fit inline.
func (s slotView) setKey(key []byte, extend func([]byte) (uint64, error)) error {
	s.setKeyLen(uint16(len(key)))
	area := s.inlineKeyArea()
	cap := s.inlineKeyCapacity()
	if len(key) <= cap {
		clearBytes(area)
		copy(area, key)
		s.setFlags(s.flags() &^ slotFlagExtended)
		return nil
	}
	offset, err := extend(key)
	if err != nil {
		return err
	}
	copy(area[:cap], key[:cap])
	binary.LittleEndian.PutUint64(area[cap:], offset)
	s.setFlags(s.flags() | slotFlagExtended)
	return nil
}

// extKeyOffset returns the extended-key blob offset; only valid when isExtended().
func (s slotView) extKeyOffset() uint64 {
	area := s.inlineKeyArea()
	return binary.LittleEndian.Uint64(area[s.inlineKeyCapacity():])
}

// inlinePrefix returns the bytes of the key actually stored inline:
// the whole key when not extended, else the truncated prefix.
func (s slotView) inlinePrefix() []byte {
	n := int(s.keyLen())
	if s.isExtended() {
		n = s.inlineKeyCapacity()
	}
	return s.inlineKeyArea()[:n]
}

func (s slotView) copyFrom(other slotView) {
	copy(s.buf, other.buf)
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
