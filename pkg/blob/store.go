// Package blob stores variable-size record payloads out of line from
// B+-tree nodes, plus the duplicate-table structure multi-record keys
// use (spec.md §4.5). Like pkg/extkey, blob I/O is unaligned and goes
// straight to the device rather than through the page cache.
package blob

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/embedkv/pkg/device"
	"github.com/nainya/embedkv/pkg/freelist"
)

// headerSize is the per-record prefix: 4-byte allocated capacity plus
// 4-byte live length. Keeping capacity separate from length lets
// Overwrite reuse the allocation in place when the new value still
// fits, the common case for small updates.
const headerSize = 8

type rawGrower struct{ dev device.Device }

func newRawGrower(dev device.Device) *rawGrower { return &rawGrower{dev: dev} }

func (g *rawGrower) grow(n int) (uint64, error) {
	size, err := g.dev.Filesize()
	if err != nil {
		return 0, err
	}
	offset := uint64(size)
	if err := g.dev.Truncate(size + int64(n)); err != nil {
		return 0, err
	}
	return offset, nil
}

// Store implements btree.RecordStore.
type Store struct {
	dev    device.Device
	fl     *freelist.Freelist
	grower *rawGrower
}

func New(dev device.Device, fl *freelist.Freelist) *Store {
	return &Store{dev: dev, fl: fl, grower: newRawGrower(dev)}
}

// Allocate stores record out of line and returns its rid.
func (s *Store) Allocate(record []byte) (uint64, error) {
	return s.allocateWithCapacity(record, len(record))
}

func (s *Store) allocateWithCapacity(record []byte, capacity int) (uint64, error) {
	total := headerSize + capacity
	rid, found, err := s.fl.AllocBytes(uint32(total))
	if err != nil {
		return 0, fmt.Errorf("blob: alloc: %w", err)
	}
	if !found {
		rid, err = s.grower.grow(total)
		if err != nil {
			return 0, fmt.Errorf("blob: grow: %w", err)
		}
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(capacity))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(record)))
	copy(buf[headerSize:], record)
	if err := s.dev.WriteAt(int64(rid), buf); err != nil {
		return 0, fmt.Errorf("blob: write: %w", err)
	}
	return rid, nil
}

// Read returns the current bytes stored at rid.
func (s *Store) Read(rid uint64) ([]byte, error) {
	_, length, err := s.readCapacity(rid)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := s.dev.ReadAt(int64(rid)+headerSize, buf); err != nil {
		return nil, fmt.Errorf("blob: read payload at %d: %w", rid, err)
	}
	return buf, nil
}

// Overwrite replaces the record at rid, reusing the existing
// allocation in place when record still fits within its capacity, and
// reallocating (freeing the old region) otherwise. Returns the rid the
// caller must now use, which changes only on reallocation.
func (s *Store) Overwrite(rid uint64, record []byte) (uint64, error) {
	capacity, _, err := s.readCapacity(rid)
	if err != nil {
		return 0, err
	}
	if len(record) <= capacity {
		hdr := make([]byte, headerSize)
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(capacity))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(record)))
		if err := s.dev.WriteAt(int64(rid), hdr); err != nil {
			return 0, fmt.Errorf("blob: overwrite header at %d: %w", rid, err)
		}
		if err := s.dev.WriteAt(int64(rid)+headerSize, record); err != nil {
			return 0, fmt.Errorf("blob: overwrite payload at %d: %w", rid, err)
		}
		return rid, nil
	}
	if err := s.Free(rid); err != nil {
		return 0, err
	}
	return s.Allocate(record)
}

// Free releases the allocation at rid back to the freelist.
func (s *Store) Free(rid uint64) error {
	capacity, _, err := s.readCapacity(rid)
	if err != nil {
		return err
	}
	return s.fl.FreeBytes(rid, uint32(headerSize+capacity))
}

func (s *Store) readCapacity(rid uint64) (capacity, length int, err error) {
	hdr := make([]byte, headerSize)
	if err := s.dev.ReadAt(int64(rid), hdr); err != nil {
		return 0, 0, fmt.Errorf("blob: read header at %d: %w", rid, err)
	}
	return int(binary.LittleEndian.Uint32(hdr[0:4])), int(binary.LittleEndian.Uint32(hdr[4:8])), nil
}
