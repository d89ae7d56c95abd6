package cache

import (
	"bytes"
	"testing"

	"github.com/nainya/embedkv/pkg/device"
	"github.com/nainya/embedkv/pkg/freelist"
)

type fakeWAL struct {
	before, after int
}

func (f *fakeWAL) LogBeforeImage(txnID, pageOffset uint64, image []byte) (uint64, error) {
	f.before++
	return uint64(f.before), nil
}

func (f *fakeWAL) LogAfterImage(txnID, pageOffset uint64, image []byte) (uint64, error) {
	f.after++
	return uint64(1000 + f.after), nil
}

func (f *fakeWAL) EnsureDurable(lsn uint64) error { return nil }

func newTestCache(t *testing.T, maxPages int) (*Cache, *fakeWAL) {
	t.Helper()
	dev := device.NewMemDevice()
	if err := dev.Truncate(4096); err != nil {
		t.Fatal(err)
	}
	grower := freelist.NewFileGrower(dev, 4096)
	fl := freelist.New(dev, grower, 4096)
	w := &fakeWAL{}
	return New(dev, fl, grower, w, 4096, maxPages), w
}

func TestAllocPageGrowsFile(t *testing.T) {
	c, _ := newTestCache(t, 16)
	p, err := c.AllocPage(0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Offset != 4096 {
		t.Errorf("expected new page at offset 4096, got %d", p.Offset)
	}
	if !p.Pinned() {
		t.Error("allocated page should come back pinned")
	}
}

func TestMarkDirtyLogsBeforeImageOnce(t *testing.T) {
	c, w := newTestCache(t, 16)
	p, err := c.AllocPage(0)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.MarkDirty(p, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkDirty(p, 1); err != nil {
		t.Fatal(err)
	}
	if w.before != 1 {
		t.Errorf("expected exactly 1 before-image logged, got %d", w.before)
	}
}

func TestFlushAllWritesDirtyPages(t *testing.T) {
	c, w := newTestCache(t, 16)
	p, err := c.AllocPage(0)
	if err != nil {
		t.Fatal(err)
	}
	copy(p.Payload(), []byte("hello"))
	if err := c.MarkDirty(p, 1); err != nil {
		t.Fatal(err)
	}
	c.Unpin(p)

	if err := c.FlushAll(1); err != nil {
		t.Fatal(err)
	}
	if w.after != 1 {
		t.Errorf("expected 1 after-image logged, got %d", w.after)
	}
	if p.Dirty {
		t.Error("page should be clean after flush")
	}

	p2, err := c.Fetch(p.Offset)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(p2.Payload(), []byte("hello")) {
		t.Errorf("flushed content not visible on refetch: %q", p2.Payload()[:5])
	}
}

func TestFreePageReturnsSpaceToFreelist(t *testing.T) {
	c, _ := newTestCache(t, 16)
	p, err := c.AllocPage(0)
	if err != nil {
		t.Fatal(err)
	}
	c.Unpin(p)
	if err := c.FreePage(p); err != nil {
		t.Fatal(err)
	}

	p2, err := c.AllocPage(0)
	if err != nil {
		t.Fatal(err)
	}
	if p2.Offset != p.Offset {
		t.Errorf("expected freed offset %d to be reused, got %d", p.Offset, p2.Offset)
	}
}

func TestMakeRoomEvictsOldestUnpinnedClean(t *testing.T) {
	c, _ := newTestCache(t, 2)
	p1, _ := c.AllocPage(0)
	c.Unpin(p1)
	p2, _ := c.AllocPage(0)
	c.Unpin(p2)

	// Cache is now at capacity with two clean, unpinned pages.
	// A third alloc must evict the oldest (p1) to make room.
	p3, err := c.AllocPage(0)
	if err != nil {
		t.Fatal(err)
	}
	c.Unpin(p3)

	if c.Len() != 2 {
		t.Errorf("expected cache to stay at capacity 2, got %d", c.Len())
	}
	if _, resident := c.pages[p1.Offset]; resident {
		t.Error("expected oldest page to have been evicted")
	}
}

func TestPurgeLeavesDirtyAndPinnedPages(t *testing.T) {
	c, _ := newTestCache(t, 16)
	dirty, err := c.AllocPage(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.MarkDirty(dirty, 1); err != nil {
		t.Fatal(err)
	}
	c.Unpin(dirty)

	clean, err := c.AllocPage(0)
	if err != nil {
		t.Fatal(err)
	}
	c.Unpin(clean)

	c.Purge()
	if c.Len() != 1 {
		t.Errorf("expected only the dirty page to survive purge, got %d resident", c.Len())
	}
	if _, ok := c.pages[dirty.Offset]; !ok {
		t.Error("dirty page should not have been purged")
	}
}
