package txn

import (
	"fmt"

	"github.com/nainya/embedkv/pkg/btree"
	"github.com/nainya/embedkv/pkg/page"
)

// testHarness bundles a bare in-memory PageCache/ExtKeyStore/RecordStore
// triple, just enough to drive a real btree.Tree from these tests
// without any device, freelist, or WAL involved.
type testHarness struct {
	cache *memCache
	ext   *memExt
	blob  *memBlob
}

func newFakeCache(t interface{ Helper() }) *testHarness {
	t.Helper()
	return &testHarness{cache: newMemCache(256), ext: newMemExt(), blob: newMemBlob()}
}

type memCache struct {
	pages    map[uint64]*page.Page
	next     uint64
	pageSize int
}

func newMemCache(pageSize int) *memCache {
	return &memCache{pages: map[uint64]*page.Page{}, next: 1, pageSize: pageSize}
}

func (c *memCache) Fetch(offset uint64) (*page.Page, error) {
	p, ok := c.pages[offset]
	if !ok {
		return nil, fmt.Errorf("memCache: no page at %d", offset)
	}
	p.Pin()
	return p, nil
}
func (c *memCache) Unpin(p *page.Page) { p.Unpin() }
func (c *memCache) AllocPage(dbID uint16) (*page.Page, error) {
	off := c.next * uint64(c.pageSize)
	c.next++
	p := page.New(off, c.pageSize)
	p.DB = dbID
	p.Pin()
	c.pages[off] = p
	return p, nil
}
func (c *memCache) FreePage(p *page.Page) error { delete(c.pages, p.Offset); return nil }
func (c *memCache) MarkDirty(p *page.Page, txnID uint64) error { p.Dirty = true; return nil }

type memExt struct {
	next uint64
	m    map[uint64][]byte
}

func newMemExt() *memExt { return &memExt{next: 1, m: map[uint64][]byte{}} }
func (e *memExt) Put(key []byte) (uint64, error) {
	off := e.next
	e.next++
	e.m[off] = append([]byte(nil), key...)
	return off, nil
}
func (e *memExt) Get(offset uint64) ([]byte, error) { return e.m[offset], nil }
func (e *memExt) Free(offset uint64) error          { delete(e.m, offset); return nil }

type memBlob struct {
	next uint64
	m    map[uint64][]byte
}

func newMemBlob() *memBlob { return &memBlob{next: 1, m: map[uint64][]byte{}} }
func (b *memBlob) Allocate(record []byte) (uint64, error) {
	rid := b.next
	b.next++
	b.m[rid] = append([]byte(nil), record...)
	return rid, nil
}
func (b *memBlob) Read(rid uint64) ([]byte, error) { return b.m[rid], nil }
func (b *memBlob) Overwrite(rid uint64, record []byte) (uint64, error) {
	b.m[rid] = append([]byte(nil), record...)
	return rid, nil
}
func (b *memBlob) Free(rid uint64) error { delete(b.m, rid); return nil }
func (b *memBlob) DuplicateInsert(head uint64, record []byte, pos int, overwriteAt int) (uint64, error) {
	return 0, fmt.Errorf("memBlob: duplicates not supported in this harness")
}
func (b *memBlob) DuplicateGet(head uint64, dupID int) (byte, []byte, error) {
	return 0, nil, fmt.Errorf("memBlob: duplicates not supported in this harness")
}
func (b *memBlob) DuplicateErase(head uint64, dupID int) (uint64, bool, error) {
	return 0, false, fmt.Errorf("memBlob: duplicates not supported in this harness")
}
func (b *memBlob) DuplicateEraseAll(head uint64) error { return nil }
func (b *memBlob) DuplicateCount(head uint64) (int, error) { return 0, nil }

var _ btree.PageCache = (*memCache)(nil)
var _ btree.ExtKeyStore = (*memExt)(nil)
var _ btree.RecordStore = (*memBlob)(nil)
