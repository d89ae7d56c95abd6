// ABOUTME: Bitmap freelist of free chunks inside freelist pages, plus a hint cache
// ABOUTME: Allocates/frees byte ranges and whole pages, persisted across pages

package freelist

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/embedkv/pkg/device"
	"github.com/nainya/embedkv/pkg/page"
)

// DefaultChunkSize is the device alignment granularity a freelist bit
// represents (spec.md §4.3: "chunk size = device alignment, typ. 32 B").
const DefaultChunkSize = 32

// bitmapHeader is the freelist-page-local header, stored right after
// the generic page.HeaderSize bytes: region start (8) + bit count (4).
const bitmapHeaderSize = 12

// Freelist manages a chain of freelist pages. Bit k of a page's bitmap
// is set when chunk k of that page's region is free. The chain only
// ever covers byte ranges that were allocated and later freed — brand
// new file space comes from FileGrower directly (see cache.Cache),
// never from the freelist.
type Freelist struct {
	dev       device.Device
	grower    *FileGrower
	pageSize  uint32
	chunkSize uint32

	head uint64 // offset of the first freelist page, 0 = empty chain
	tail uint64 // offset of the last freelist page, for O(1) append

	hints []hint
}

type hint struct {
	offset uint64
	size   uint32
}

const maxHints = 16

func New(dev device.Device, grower *FileGrower, pageSize uint32) *Freelist {
	return &Freelist{dev: dev, grower: grower, pageSize: pageSize, chunkSize: DefaultChunkSize}
}

// SetChain restores head/tail after reopening a database.
func (f *Freelist) SetChain(head, tail uint64) {
	f.head, f.tail = head, tail
}

func (f *Freelist) Chain() (head, tail uint64) { return f.head, f.tail }

// AllocBytes returns an offset of a free run of `size` bytes, or found
// == false if the freelist currently holds nothing that fits. The hint
// cache is consulted first; a scan of the chain follows, first fit,
// and records the first free run it passes over as the new hint.
func (f *Freelist) AllocBytes(size uint32) (offset uint64, found bool, err error) {
	need := chunksFor(size, f.chunkSize)

	if off, ok := f.consumeHint(need); ok {
		return off, true, nil
	}

	cur := f.head
	var firstSeen *hint
	for cur != 0 {
		fp, err := f.readPage(cur)
		if err != nil {
			return 0, false, err
		}
		if idx, ok := fp.findRun(need); ok {
			if firstSeen == nil {
				if j := fp.firstFree(); j >= 0 {
					firstSeen = &hint{offset: fp.region + uint64(j)*uint64(f.chunkSize), size: f.chunkSize}
				}
			}
			off := fp.region + uint64(idx)*uint64(f.chunkSize)
			fp.clearRun(idx, need)
			if err := f.writePage(fp); err != nil {
				return 0, false, err
			}
			f.pushHint(*firstSeenOrDefault(firstSeen, off, need*f.chunkSize))
			return off, true, nil
		}
		if firstSeen == nil {
			if j := fp.firstFree(); j >= 0 {
				firstSeen = &hint{offset: fp.region + uint64(j)*uint64(f.chunkSize), size: f.chunkSize}
			}
		}
		cur = fp.p.NextInChain()
	}
	return 0, false, nil
}

func firstSeenOrDefault(h *hint, off uint64, size uint32) *hint {
	if h != nil {
		return h
	}
	return &hint{offset: off, size: size}
}

// AllocWholePage allocates exactly one page-sized, page-aligned region
// (spec.md §4.3: "Pages are allocated via alloc_bytes(pagesize, {whole-page, aligned})").
func (f *Freelist) AllocWholePage() (uint64, bool, error) {
	off, found, err := f.AllocBytes(f.pageSize)
	if err != nil || !found {
		return 0, found, err
	}
	if off%uint64(f.pageSize) != 0 {
		// Not page aligned: put it back and report not-found so the
		// caller grows the file instead of handing out a misaligned page.
		_ = f.FreeBytes(off, f.pageSize)
		return 0, false, nil
	}
	return off, true, nil
}

// FreeBytes records [offset, offset+size) as free. If no existing
// freelist page's region could be made to cover the offset, a new
// freelist page is allocated via the FileGrower — the one place the
// freelist bypasses itself (spec.md §4.3's "chicken-and-egg" case).
func (f *Freelist) FreeBytes(offset uint64, size uint32) error {
	n := chunksFor(size, f.chunkSize)

	cur := f.head
	for cur != 0 {
		fp, err := f.readPage(cur)
		if err != nil {
			return err
		}
		if fp.covers(offset, n, f.chunkSize) {
			idx := uint32((offset - fp.region) / uint64(f.chunkSize))
			fp.setRun(idx, n)
			return f.writePage(fp)
		}
		cur = fp.p.NextInChain()
	}

	return f.growChainFor(offset, size)
}

// growChainFor bootstraps a new freelist page whose region starts at
// offset and extends far enough to cover future nearby frees.
func (f *Freelist) growChainFor(offset uint64, size uint32) error {
	newOff, err := f.grower.Grow()
	if err != nil {
		return fmt.Errorf("freelist: grow chain: %w", err)
	}

	capacity := (f.pageSize - page.HeaderSize - bitmapHeaderSize) * 8
	fp := newFreelistPage(newOff, f.pageSize, offset, capacity)
	n := chunksFor(size, f.chunkSize)
	fp.setRun(0, n)

	if err := f.writePage(fp); err != nil {
		return err
	}

	if f.head == 0 {
		f.head = newOff
		f.tail = newOff
		return nil
	}
	tail, err := f.readPage(f.tail)
	if err != nil {
		return err
	}
	tail.p.SetNextInChain(newOff)
	if err := f.writePage(tail); err != nil {
		return err
	}
	f.tail = newOff
	return nil
}

func chunksFor(size, chunk uint32) uint32 {
	return (size + chunk - 1) / chunk
}

func (f *Freelist) consumeHint(need uint32) (uint64, bool) {
	for i, h := range f.hints {
		if chunksFor(h.size, f.chunkSize) >= need {
			f.hints = append(f.hints[:i], f.hints[i+1:]...)
			return h.offset, true
		}
	}
	return 0, false
}

func (f *Freelist) pushHint(h hint) {
	f.hints = append(f.hints, h)
	if len(f.hints) > maxHints {
		f.hints = f.hints[len(f.hints)-maxHints:]
	}
}

// --- freelist page view ---

type freelistPage struct {
	p      *page.Page
	region uint64
	bits   uint32
}

func newFreelistPage(offset uint64, pageSize uint32, region uint64, bits uint32) *freelistPage {
	p := page.New(offset, int(pageSize))
	p.SetType(page.TypeFreelist)
	fp := &freelistPage{p: p, region: region, bits: bits}
	fp.writeHeader()
	return fp
}

func (fp *freelistPage) writeHeader() {
	pl := fp.p.Payload()
	binary.LittleEndian.PutUint64(pl[0:], fp.region)
	binary.LittleEndian.PutUint32(pl[8:], fp.bits)
}

func (fp *freelistPage) bitmap() []byte {
	return fp.p.Payload()[bitmapHeaderSize:]
}

func (fp *freelistPage) bit(i uint32) bool {
	b := fp.bitmap()
	return b[i/8]&(1<<(i%8)) != 0
}

func (fp *freelistPage) setBit(i uint32, free bool) {
	b := fp.bitmap()
	if free {
		b[i/8] |= 1 << (i % 8)
	} else {
		b[i/8] &^= 1 << (i % 8)
	}
}

func (fp *freelistPage) setRun(start, n uint32) {
	for i := start; i < start+n && i < fp.bits; i++ {
		fp.setBit(i, true)
	}
}

func (fp *freelistPage) clearRun(start, n uint32) {
	for i := start; i < start+n; i++ {
		fp.setBit(i, false)
	}
}

// findRun returns the index of the first run of n consecutive free
// bits, first fit.
func (fp *freelistPage) findRun(n uint32) (uint32, bool) {
	run := uint32(0)
	for i := uint32(0); i < fp.bits; i++ {
		if fp.bit(i) {
			run++
			if run == n {
				return i - n + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

func (fp *freelistPage) firstFree() int {
	for i := uint32(0); i < fp.bits; i++ {
		if fp.bit(i) {
			return int(i)
		}
	}
	return -1
}

func (fp *freelistPage) covers(offset uint64, n uint32, chunk uint32) bool {
	if offset < fp.region {
		return false
	}
	idx64 := (offset - fp.region) / uint64(chunk)
	if idx64 >= uint64(fp.bits) {
		return false
	}
	return uint32(idx64)+n <= fp.bits
}

func (f *Freelist) readPage(offset uint64) (*freelistPage, error) {
	buf := make([]byte, f.pageSize)
	if err := f.dev.ReadAt(int64(offset), buf); err != nil {
		return nil, fmt.Errorf("freelist: read page at %d: %w", offset, err)
	}
	p := &page.Page{Offset: offset, Buf: buf, Flags: page.FlagMallocOwned}
	region := binary.LittleEndian.Uint64(p.Payload()[0:])
	bits := binary.LittleEndian.Uint32(p.Payload()[8:])
	return &freelistPage{p: p, region: region, bits: bits}, nil
}

func (f *Freelist) writePage(fp *freelistPage) error {
	fp.writeHeader()
	fp.p.WriteHeader()
	if err := f.dev.WriteAt(int64(fp.p.Offset), fp.p.Buf); err != nil {
		return fmt.Errorf("freelist: write page at %d: %w", fp.p.Offset, err)
	}
	return nil
}
