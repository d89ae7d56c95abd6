// Package extkey stores key bytes too large for a B+-tree slot's
// inline area out of line, addressed by a stable 64-bit offset
// (spec.md §4.4). Unlike page-cache traffic, extended-key reads and
// writes are unaligned and go straight to the device; a small LRU
// cache keyed by blob offset absorbs the repeated fetches a tree walk
// produces when comparing against the same extended key.
package extkey

import (
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nainya/embedkv/pkg/device"
	"github.com/nainya/embedkv/pkg/freelist"
)

// cacheSize bounds the extended-key LRU; spec.md §4.4 calls for "a
// small LRU cache keyed by blob offset", not a tunable one.
const cacheSize = 64

// lengthPrefixSize is the 4-byte record the store keeps immediately
// before each key's bytes so Free can recover the allocation's size
// from the offset alone.
const lengthPrefixSize = 4

// Store implements btree.ExtKeyStore.
type Store struct {
	dev    device.Device
	fl     *freelist.Freelist
	grower *rawGrower
	cache  *lru.Cache[uint64, []byte]
}

func New(dev device.Device, fl *freelist.Freelist) *Store {
	c, _ := lru.New[uint64, []byte](cacheSize)
	return &Store{dev: dev, fl: fl, grower: newRawGrower(dev), cache: c}
}

// Put writes key out of line and returns its offset.
func (s *Store) Put(key []byte) (uint64, error) {
	total := lengthPrefixSize + len(key)
	offset, found, err := s.fl.AllocBytes(uint32(total))
	if err != nil {
		return 0, fmt.Errorf("extkey: alloc: %w", err)
	}
	if !found {
		offset, err = s.grower.grow(total)
		if err != nil {
			return 0, fmt.Errorf("extkey: grow: %w", err)
		}
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[:lengthPrefixSize], uint32(len(key)))
	copy(buf[lengthPrefixSize:], key)
	if err := s.dev.WriteAt(int64(offset), buf); err != nil {
		return 0, fmt.Errorf("extkey: write: %w", err)
	}
	s.cache.Add(offset, append([]byte(nil), key...))
	return offset, nil
}

// Get returns the key bytes stored at offset.
func (s *Store) Get(offset uint64) ([]byte, error) {
	if key, ok := s.cache.Get(offset); ok {
		return key, nil
	}
	key, _, err := s.read(offset)
	if err != nil {
		return nil, err
	}
	s.cache.Add(offset, key)
	return key, nil
}

// Free releases the out-of-line storage at offset back to the freelist.
func (s *Store) Free(offset uint64) error {
	_, total, err := s.read(offset)
	if err != nil {
		return err
	}
	s.cache.Remove(offset)
	return s.fl.FreeBytes(offset, uint32(total))
}

func (s *Store) read(offset uint64) (key []byte, total int, err error) {
	hdr := make([]byte, lengthPrefixSize)
	if err := s.dev.ReadAt(int64(offset), hdr); err != nil {
		return nil, 0, fmt.Errorf("extkey: read length at %d: %w", offset, err)
	}
	n := int(binary.LittleEndian.Uint32(hdr))
	total = lengthPrefixSize + n
	key = make([]byte, n)
	if err := s.dev.ReadAt(int64(offset)+lengthPrefixSize, key); err != nil {
		return nil, 0, fmt.Errorf("extkey: read key at %d: %w", offset, err)
	}
	return key, total, nil
}
