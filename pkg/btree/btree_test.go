package btree

import (
	"fmt"
	"testing"

	"github.com/nainya/embedkv/pkg/page"
)

// fakeCache is a bare in-memory PageCache: no eviction, no WAL, no
// disk. Enough to drive Tree's structural algorithms in isolation.
type fakeCache struct {
	pages    map[uint64]*page.Page
	next     uint64
	pageSize int
}

func newFakeCache(pageSize int) *fakeCache {
	return &fakeCache{pages: map[uint64]*page.Page{}, next: 1, pageSize: pageSize}
}

func (c *fakeCache) Fetch(offset uint64) (*page.Page, error) {
	p, ok := c.pages[offset]
	if !ok {
		return nil, fmt.Errorf("fakeCache: no page at %d", offset)
	}
	p.Pin()
	return p, nil
}

func (c *fakeCache) Unpin(p *page.Page) { p.Unpin() }

func (c *fakeCache) AllocPage(dbID uint16) (*page.Page, error) {
	off := c.next * uint64(c.pageSize)
	c.next++
	p := page.New(off, c.pageSize)
	p.DB = dbID
	p.Pin()
	c.pages[off] = p
	return p, nil
}

func (c *fakeCache) FreePage(p *page.Page) error {
	if p.Pinned() {
		return fmt.Errorf("fakeCache: freeing pinned page %d", p.Offset)
	}
	delete(c.pages, p.Offset)
	return nil
}

func (c *fakeCache) MarkDirty(p *page.Page, txnID uint64) error {
	p.Dirty = true
	return nil
}

// fakeExtKey and fakeBlob stand in for pkg/extkey.Store and
// pkg/blob.Store, keyed by a monotonic counter rather than a real
// freelist-backed offset.
type fakeExtKey struct {
	next uint64
	m    map[uint64][]byte
}

func newFakeExtKey() *fakeExtKey { return &fakeExtKey{next: 1, m: map[uint64][]byte{}} }

func (e *fakeExtKey) Put(key []byte) (uint64, error) {
	off := e.next
	e.next++
	e.m[off] = append([]byte(nil), key...)
	return off, nil
}
func (e *fakeExtKey) Get(offset uint64) ([]byte, error) { return e.m[offset], nil }
func (e *fakeExtKey) Free(offset uint64) error          { delete(e.m, offset); return nil }

type dupEntry struct {
	record []byte
}

type fakeBlob struct {
	next uint64
	m    map[uint64][]byte
	dups map[uint64][]dupEntry
	dnxt uint64
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{next: 1, m: map[uint64][]byte{}, dups: map[uint64][]dupEntry{}, dnxt: 1}
}

func (b *fakeBlob) Allocate(record []byte) (uint64, error) {
	rid := b.next
	b.next++
	b.m[rid] = append([]byte(nil), record...)
	return rid, nil
}
func (b *fakeBlob) Read(rid uint64) ([]byte, error) { return b.m[rid], nil }
func (b *fakeBlob) Overwrite(rid uint64, record []byte) (uint64, error) {
	b.m[rid] = append([]byte(nil), record...)
	return rid, nil
}
func (b *fakeBlob) Free(rid uint64) error { delete(b.m, rid); return nil }

func (b *fakeBlob) DuplicateInsert(head uint64, record []byte, pos int, overwriteAt int) (uint64, error) {
	if head == 0 {
		head = b.dnxt
		b.dnxt++
	}
	entries := b.dups[head]
	entry := dupEntry{record: append([]byte(nil), record...)}
	if pos < 0 || pos >= len(entries) {
		entries = append(entries, entry)
	} else {
		entries = append(entries[:pos], append([]dupEntry{entry}, entries[pos:]...)...)
	}
	b.dups[head] = entries
	return head, nil
}

func (b *fakeBlob) DuplicateGet(head uint64, dupID int) (byte, []byte, error) {
	entries := b.dups[head]
	if dupID < 0 || dupID >= len(entries) {
		return 0, nil, ErrKeyNotFound
	}
	return 0, entries[dupID].record, nil
}

func (b *fakeBlob) DuplicateErase(head uint64, dupID int) (uint64, bool, error) {
	entries := b.dups[head]
	if dupID < 0 || dupID >= len(entries) {
		return head, false, ErrKeyNotFound
	}
	entries = append(entries[:dupID], entries[dupID+1:]...)
	b.dups[head] = entries
	return head, len(entries) == 0, nil
}

func (b *fakeBlob) DuplicateEraseAll(head uint64) error { delete(b.dups, head); return nil }
func (b *fakeBlob) DuplicateCount(head uint64) (int, error) {
	return len(b.dups[head]), nil
}

func newTestTree(t *testing.T, keySize int) (*Tree, *fakeCache) {
	t.Helper()
	cache := newFakeCache(256)
	ext := newFakeExtKey()
	blob := newFakeBlob()
	tr := New(Config{KeySize: keySize, PageSize: 256}, cache, ext, blob, 0)
	if _, err := tr.CreateRoot(1); err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	return tr, cache
}

func TestInsertFindRoundTrip(t *testing.T) {
	tr, _ := newTestTree(t, 16)
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("value-%04d", i))
		if err := tr.Insert(1, key, val, InsertFlags{}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := fmt.Sprintf("value-%04d", i)
		res, err := tr.Find(key, MatchExact)
		if err != nil {
			t.Fatalf("find %d: %v", i, err)
		}
		if string(res.Record.Bytes) != want {
			t.Fatalf("find %d: got %q want %q", i, res.Record.Bytes, want)
		}
	}
	if err := tr.CheckIntegrity(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestInsertDuplicateKeyRejected(t *testing.T) {
	tr, _ := newTestTree(t, 16)
	if err := tr.Insert(1, []byte("a"), []byte("1"), InsertFlags{}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(1, []byte("a"), []byte("2"), InsertFlags{}); err != ErrDuplicateKey {
		t.Fatalf("got %v, want ErrDuplicateKey", err)
	}
	if err := tr.Insert(1, []byte("a"), []byte("2"), InsertFlags{Overwrite: true}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	res, err := tr.Find([]byte("a"), MatchExact)
	if err != nil || string(res.Record.Bytes) != "2" {
		t.Fatalf("got %v %q, want 2", err, res.Record.Bytes)
	}
}

func TestEraseRebalancesAndShrinksRoot(t *testing.T) {
	tr, _ := newTestTree(t, 16)
	n := 300
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := tr.Insert(1, key, []byte("v"), InsertFlags{}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < n-1; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := tr.Erase(1, key); err != nil {
			t.Fatalf("erase %d: %v", i, err)
		}
	}
	if err := tr.CheckIntegrity(); err != nil {
		t.Fatalf("integrity after erase: %v", err)
	}
	last := fmt.Sprintf("key-%05d", n-1)
	res, err := tr.Find([]byte(last), MatchExact)
	if err != nil || string(res.Record.Bytes) != "v" {
		t.Fatalf("last survivor missing: %v", err)
	}
	if err := tr.Erase(1, []byte("key-00000")); err != ErrKeyNotFound {
		t.Fatalf("got %v, want ErrKeyNotFound for already-erased key", err)
	}
}

func TestApproximateMatch(t *testing.T) {
	tr, _ := newTestTree(t, 16)
	for _, k := range []string{"b", "d", "f", "h"} {
		if err := tr.Insert(1, []byte(k), []byte(k), InsertFlags{}); err != nil {
			t.Fatal(err)
		}
	}
	res, err := tr.Find([]byte("c"), MatchGEQ)
	if err != nil || string(res.Key) != "d" {
		t.Fatalf("GEQ(c) = %q, %v; want d", res.Key, err)
	}
	res, err = tr.Find([]byte("c"), MatchLEQ)
	if err != nil || string(res.Key) != "b" {
		t.Fatalf("LEQ(c) = %q, %v; want b", res.Key, err)
	}
	res, err = tr.Find([]byte("d"), MatchGT)
	if err != nil || string(res.Key) != "f" {
		t.Fatalf("GT(d) = %q, %v; want f", res.Key, err)
	}
}

func TestExtendedKeyRoundTripAndFree(t *testing.T) {
	tr, _ := newTestTree(t, 16)
	longKey := []byte("this-key-is-much-longer-than-the-inline-capacity-of-the-slot")
	if err := tr.Insert(1, longKey, []byte("v"), InsertFlags{}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := tr.Find(longKey, MatchExact)
	if err != nil || string(res.Key) != string(longKey) {
		t.Fatalf("find extended key: %v %q", err, res.Key)
	}
	if err := tr.Erase(1, longKey); err != nil {
		t.Fatalf("erase: %v", err)
	}
	ext := tr.ext.(*fakeExtKey)
	if len(ext.m) != 0 {
		t.Fatalf("extended key blob leaked: %d entries remain", len(ext.m))
	}
}

func TestEnumerateVisitsInOrder(t *testing.T) {
	tr, _ := newTestTree(t, 16)
	want := []string{}
	for i := 0; i < 150; i++ {
		k := fmt.Sprintf("key-%04d", i)
		want = append(want, k)
		if err := tr.Insert(1, []byte(k), []byte("v"), InsertFlags{}); err != nil {
			t.Fatal(err)
		}
	}
	var got []string
	err := tr.Enumerate(func(event EnumEvent, pageOffset uint64, slotIdx int, key []byte, record Record) EnumAction {
		if event == EventItem {
			got = append(got, string(key))
		}
		return ActionContinue
	})
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("item %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestRecnoAutoIncrement(t *testing.T) {
	tr, _ := newTestTree(t, 16)
	counter := &seqCounter{}
	tr.SetRecnoCounter(counter)
	for i := 0; i < 5; i++ {
		n, err := tr.InsertRecno(1, []byte(fmt.Sprintf("row-%d", i)))
		if err != nil {
			t.Fatalf("insert recno: %v", err)
		}
		if n != uint64(i+1) {
			t.Fatalf("got recno %d, want %d", n, i+1)
		}
	}
	res, err := tr.Find(EncodeRecno(3), MatchExact)
	if err != nil || string(res.Record.Bytes) != "row-2" {
		t.Fatalf("find recno 3: %v %q", err, res.Record.Bytes)
	}
}

type seqCounter struct{ n uint64 }

func (c *seqCounter) Next() (uint64, error) {
	c.n++
	return c.n, nil
}
