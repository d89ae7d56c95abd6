// ABOUTME: Bounded in-memory page cache sitting over the backing device
// ABOUTME: fetch/alloc/free/purge/flush, pin tracking, and write-ahead discipline

package cache

import (
	"fmt"

	"github.com/nainya/embedkv/internal/metrics"
	"github.com/nainya/embedkv/pkg/device"
	"github.com/nainya/embedkv/pkg/freelist"
	"github.com/nainya/embedkv/pkg/page"
)

// WALFlusher is the slice of the WAL log the cache needs. Defining it
// here rather than importing pkg/wal keeps cache -> wal out of the
// dependency graph (wal would otherwise need page images, which would
// cycle back through cache). *wal.Log satisfies this structurally.
type WALFlusher interface {
	LogBeforeImage(txnID, pageOffset uint64, image []byte) (uint64, error)
	LogAfterImage(txnID, pageOffset uint64, image []byte) (uint64, error)
	EnsureDurable(lsn uint64) error
}

// Cache holds a bounded working set of pages. Eviction uses a
// monotonic timeslot counter rather than a linked LRU list: each fetch
// stamps the page with the current clock value, and eviction picks
// the lowest-Age page that is neither pinned nor dirty (spec.md §4.1).
type Cache struct {
	dev    device.Device
	fl     *freelist.Freelist
	grower *freelist.FileGrower
	wal    WALFlusher

	pageSize     uint32
	maxPages     int
	writeThrough bool

	pages map[uint64]*page.Page
	clock uint64

	metrics *metrics.Metrics
}

// SetMetrics attaches a (possibly nil) metrics sink.
func (c *Cache) SetMetrics(m *metrics.Metrics) { c.metrics = m }

func New(dev device.Device, fl *freelist.Freelist, grower *freelist.FileGrower, wal WALFlusher, pageSize uint32, maxPages int) *Cache {
	return &Cache{
		dev:      dev,
		fl:       fl,
		grower:   grower,
		wal:      wal,
		pageSize: pageSize,
		maxPages: maxPages,
		pages:    make(map[uint64]*page.Page),
	}
}

// SetWriteThrough makes every MarkDirty call flush immediately rather
// than waiting for FlushAll; HAM_WRITE_THROUGH (spec.md §6).
func (c *Cache) SetWriteThrough(wt bool) { c.writeThrough = wt }

// Fetch returns the page at offset, pinned, reading it from the
// device on a miss and evicting to stay under maxPages.
func (c *Cache) Fetch(offset uint64) (*page.Page, error) {
	if p, ok := c.pages[offset]; ok {
		c.clock++
		p.Age = c.clock
		p.Pin()
		c.metrics.IncCacheHit()
		return p, nil
	}
	c.metrics.IncCacheMiss()

	buf := make([]byte, c.pageSize)
	if err := c.dev.ReadAt(int64(offset), buf); err != nil {
		return nil, fmt.Errorf("cache: fetch %d: %w", offset, err)
	}
	p := &page.Page{Offset: offset, Buf: buf, Flags: page.FlagMallocOwned}
	if offset != 0 {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	if err := c.makeRoom(); err != nil {
		return nil, err
	}
	c.clock++
	p.Age = c.clock
	p.Pin()
	c.pages[offset] = p
	c.metrics.SetCacheResident(len(c.pages))
	return p, nil
}

// Unpin releases the caller's hold on a page fetched or allocated
// earlier; it stays in the cache until evicted.
func (c *Cache) Unpin(p *page.Page) { p.Unpin() }

// AllocPage obtains a page offset from the freelist, or grows the
// file by one page when the freelist is empty, and returns it pinned
// and zeroed.
func (c *Cache) AllocPage(dbID uint16) (*page.Page, error) {
	offset, found, err := c.fl.AllocWholePage()
	if err != nil {
		return nil, fmt.Errorf("cache: alloc page: %w", err)
	}
	if !found {
		offset, err = c.grower.Grow()
		if err != nil {
			return nil, fmt.Errorf("cache: grow file: %w", err)
		}
	}

	p := page.New(offset, int(c.pageSize))
	p.DB = dbID
	if err := c.makeRoom(); err != nil {
		return nil, err
	}
	c.clock++
	p.Age = c.clock
	p.Pin()
	c.pages[offset] = p
	c.metrics.IncPageAlloc()
	c.metrics.SetCacheResident(len(c.pages))
	return p, nil
}

// FreePage returns a page's space to the freelist and drops it from
// the cache. The caller must not still be holding a pin.
func (c *Cache) FreePage(p *page.Page) error {
	if p.Pinned() {
		return fmt.Errorf("cache: free page %d: still pinned", p.Offset)
	}
	if err := c.fl.FreeBytes(p.Offset, c.pageSize); err != nil {
		return fmt.Errorf("cache: free page %d: %w", p.Offset, err)
	}
	delete(c.pages, p.Offset)
	c.metrics.IncPageFree()
	c.metrics.SetCacheResident(len(c.pages))
	return nil
}

// MarkDirty records that txnID is about to mutate p in place. The
// first mutation since the page was last clean logs a before-image so
// recovery can tell a torn write from a committed one; later
// mutations in the same dirty generation are free.
func (c *Cache) MarkDirty(p *page.Page, txnID uint64) error {
	if !p.Dirty {
		lsn, err := c.wal.LogBeforeImage(txnID, p.Offset, append([]byte(nil), p.Buf...))
		if err != nil {
			return fmt.Errorf("cache: log before-image for %d: %w", p.Offset, err)
		}
		p.ModLSN = lsn
		p.Dirty = true
	}
	if c.writeThrough {
		return c.flushPage(p, txnID)
	}
	return nil
}

// flushPage logs the after-image, waits for it to be durable, then
// writes the page to the backing file — the write-ahead rule in one
// place (spec.md §4.1).
func (c *Cache) flushPage(p *page.Page, txnID uint64) error {
	p.WriteHeader()
	lsn, err := c.wal.LogAfterImage(txnID, p.Offset, append([]byte(nil), p.Buf...))
	if err != nil {
		return fmt.Errorf("cache: log after-image for %d: %w", p.Offset, err)
	}
	if err := c.wal.EnsureDurable(lsn); err != nil {
		return fmt.Errorf("cache: ensure durable for %d: %w", p.Offset, err)
	}
	if err := c.dev.WriteAt(int64(p.Offset), p.Buf); err != nil {
		return fmt.Errorf("cache: write page %d: %w", p.Offset, err)
	}
	p.Dirty = false
	p.ModLSN = 0
	return nil
}

// FlushAll writes every dirty page back to the device under
// write-ahead discipline, then fsyncs the device itself. txnID tags
// the after-images written for pages with no specific owning
// transaction (freelist/header pages mutated outside user txns).
func (c *Cache) FlushAll(txnID uint64) error {
	for _, p := range c.pages {
		if !p.Dirty {
			continue
		}
		if err := c.flushPage(p, txnID); err != nil {
			return err
		}
	}
	return c.dev.Flush()
}

// Purge evicts every unpinned clean page, shrinking the resident set
// without touching the device. Dirty pages are left alone; call
// FlushAll first to make them eligible.
func (c *Cache) Purge() {
	for offset, p := range c.pages {
		if !p.Pinned() && !p.Dirty {
			delete(c.pages, offset)
		}
	}
}

// makeRoom evicts the oldest unpinned clean page until the cache is
// under capacity. Dirty pages are never silently dropped; a caller
// that needs the slot must flush first.
func (c *Cache) makeRoom() error {
	for len(c.pages) >= c.maxPages && c.maxPages > 0 {
		var victim *page.Page
		for _, p := range c.pages {
			if p.Pinned() || p.Dirty {
				continue
			}
			if victim == nil || p.Age < victim.Age {
				victim = p
			}
		}
		if victim == nil {
			return fmt.Errorf("cache: full, no unpinned clean page to evict (%d resident)", len(c.pages))
		}
		delete(c.pages, victim.Offset)
		c.metrics.IncCacheEviction()
	}
	c.metrics.SetCacheResident(len(c.pages))
	return nil
}

func (c *Cache) Len() int { return len(c.pages) }
