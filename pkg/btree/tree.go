// ABOUTME: B+-tree core: node search, the insert/erase recursions, enumerate
// ABOUTME: and integrity check (spec.md §4.8); ties cache, extkey and blob stores together
package btree

import (
	"fmt"

	"github.com/nainya/embedkv/internal/logger"
	"github.com/nainya/embedkv/internal/metrics"
	"github.com/nainya/embedkv/pkg/page"
)

// PageCache is the slice of pkg/cache.Cache the tree needs. Defined
// here (rather than imported) to avoid a cache<->btree import cycle
// and to let tests fake it with a bare map.
type PageCache interface {
	Fetch(offset uint64) (*page.Page, error)
	Unpin(p *page.Page)
	AllocPage(dbID uint16) (*page.Page, error)
	FreePage(p *page.Page) error
	MarkDirty(p *page.Page, txnID uint64) error
}

// ExtKeyStore is the slice of pkg/extkey.Store the tree needs.
type ExtKeyStore interface {
	Put(key []byte) (uint64, error)
	Get(offset uint64) ([]byte, error)
	Free(offset uint64) error
}

// RecordStore is the slice of pkg/blob.Store the tree needs for
// records that don't fit inline in a slot.
type RecordStore interface {
	Allocate(record []byte) (uint64, error)
	Read(rid uint64) ([]byte, error)
	Overwrite(rid uint64, record []byte) (uint64, error)
	Free(rid uint64) error

	DuplicateInsert(head uint64, record []byte, pos int, overwriteAt int) (newHead uint64, err error)
	DuplicateGet(head uint64, dupID int) (flags byte, record []byte, err error)
	DuplicateErase(head uint64, dupID int) (newHead uint64, empty bool, err error)
	DuplicateEraseAll(head uint64) error
	DuplicateCount(head uint64) (int, error)
}

// RecnoCounter hands out the next auto-increment key for a database
// opened with RECORD_NUMBER (spec.md §4.11); the engine backs this
// with the persisted last-recno field in the database header.
type RecnoCounter interface {
	Next() (uint64, error)
}

// Hinter is the slice of pkg/stats the tree consults for fast-track
// append/prepend and split/merge ratio overrides (spec.md §4.9).
type Hinter interface {
	TryFastTrackAppend() (leafOffset uint64, ok bool)
	TryFastTrackPrepend() (leafOffset uint64, ok bool)
	SplitRatio() float64
	MergeRatio() float64
	RecordLeafTouched(offset uint64, slot int)
}

// Config bundles the per-database parameters the tree needs at
// construction: inline key size (KEYSIZE), page size, split/merge
// ratios, and the database id within the environment.
type Config struct {
	KeySize    int
	PageSize   uint32
	SplitRatio float64
	MergeRatio float64
	DBID       uint16
}

// Tree is one database's B+-tree: root offset plus the collaborators
// it needs to fetch pages, extended keys, and out-of-line records.
type Tree struct {
	cfg   Config
	cache PageCache
	ext   ExtKeyStore
	blobs RecordStore
	cmp   Comparator
	pcmp  PrefixComparator
	hint  Hinter
	recno RecnoCounter

	root uint64

	log     *logger.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, cache PageCache, ext ExtKeyStore, blobs RecordStore, root uint64) *Tree {
	if cfg.SplitRatio == 0 {
		cfg.SplitRatio = 0.5
	}
	if cfg.MergeRatio == 0 {
		cfg.MergeRatio = 1.0 / 3.0
	}
	return &Tree{cfg: cfg, cache: cache, ext: ext, blobs: blobs, cmp: DefaultComparator, root: root}
}

func (t *Tree) SetComparator(c Comparator)             { t.cmp = c }
func (t *Tree) SetPrefixComparator(c PrefixComparator)  { t.pcmp = c }
func (t *Tree) SetHinter(h Hinter)                      { t.hint = h }
func (t *Tree) SetRecnoCounter(r RecnoCounter)           { t.recno = r }
func (t *Tree) SetLogger(l *logger.Logger)              { t.log = l }
func (t *Tree) SetMetrics(m *metrics.Metrics)           { t.metrics = m }
func (t *Tree) RootOffset() uint64                      { return t.root }

func (t *Tree) minKeys(maxKeys int) int {
	ratio := t.cfg.MergeRatio
	if t.hint != nil {
		if r := t.hint.MergeRatio(); r > 0 {
			ratio = r
		}
	}
	n := int(float64(maxKeys)*ratio + 0.999999)
	if n < 1 {
		n = 1
	}
	return n
}

func (t *Tree) splitPivot(count int) int {
	ratio := t.cfg.SplitRatio
	if t.hint != nil {
		if r := t.hint.SplitRatio(); r > 0 {
			ratio = r
		}
	}
	p := int(float64(count)*ratio + 0.5)
	if p < 2 {
		p = 2
	}
	if p > count-2 {
		p = count - 2
	}
	return p
}

// CreateRoot allocates and formats a fresh empty leaf as the root of a
// brand new database.
func (t *Tree) CreateRoot(txnID uint64) (uint64, error) {
	p, err := t.cache.AllocPage(t.cfg.DBID)
	if err != nil {
		return 0, fmt.Errorf("btree: create root: %w", err)
	}
	defer t.cache.Unpin(p)
	p.SetType(page.TypeBtreeRoot)
	n := NewNode(p, t.cfg.KeySize)
	n.Reset(true)
	if err := t.cache.MarkDirty(p, txnID); err != nil {
		return 0, err
	}
	t.root = p.Offset
	return p.Offset, nil
}

func (t *Tree) fetchNode(offset uint64) (Node, *page.Page, error) {
	p, err := t.cache.Fetch(offset)
	if err != nil {
		return Node{}, nil, err
	}
	return NewNode(p, t.cfg.KeySize), p, nil
}

func (t *Tree) fetchExt(offset uint64) ([]byte, error) { return t.ext.Get(offset) }

// nodeKey returns the full key bytes at slot i, resolving an extended
// key through the extkey store.
func (t *Tree) nodeKey(n Node, i int) ([]byte, error) { return n.Key(i, t.fetchExt) }

// compareSlot compares target against slot i's key, using the prefix
// comparator to avoid a blob fetch when the slot is extended and the
// prefix already decides the answer.
func (t *Tree) compareSlot(n Node, i int, target []byte) (int, error) {
	s := n.Slot(i)
	if s.isExtended() && t.pcmp != nil {
		r := t.pcmp.ComparePrefix(s.inlinePrefix(), int(s.keyLen()), target)
		switch r {
		case PrefixLess:
			return -1, nil
		case PrefixEqual:
			return 0, nil
		case PrefixGreater:
			return 1, nil
		}
		// PrefixNeedsFullKey falls through to a full fetch below.
	}
	full, err := t.nodeKey(n, i)
	if err != nil {
		return 0, err
	}
	return t.cmp.Compare(full, target), nil
}

// findSlot binary-searches an ordered node for the largest slot whose
// key is <= target, returning its index (-1 if target < every key)
// and whether an exact match was found at that index.
func (t *Tree) findSlot(n Node, target []byte) (idx int, exact bool, err error) {
	lo, hi := 0, n.KeyCount()-1
	idx = -1
	for lo <= hi {
		mid := (lo + hi) / 2
		c, err := t.compareSlot(n, mid, target)
		if err != nil {
			return 0, false, err
		}
		switch {
		case c == 0:
			return mid, true, nil
		case c < 0:
			idx = mid
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return idx, false, nil
}

// childPtr returns the child offset to descend into for an internal
// node, given the result of findSlot.
func childPtr(n Node, idx int) uint64 {
	if idx < 0 {
		return n.PtrLeft()
	}
	return n.SlotPtr(idx)
}

// pathEntry records one step of a root-to-leaf descent so insert/erase
// can walk back up without re-traversing.
type pathEntry struct {
	offset   uint64
	slotIdx  int // the slot (or -1 for ptrLeft) we descended through
}

// traverse descends from the root to the leaf that would hold target,
// returning the full path (root first, leaf last) and releasing pins
// on every page except the leaf, which the caller owns.
func (t *Tree) traverse(target []byte) (leaf Node, leafPage *page.Page, path []pathEntry, err error) {
	offset := t.root
	for {
		n, p, err := t.fetchNode(offset)
		if err != nil {
			return Node{}, nil, nil, err
		}
		if n.IsLeaf() {
			return n, p, path, nil
		}
		idx, _, err := t.findSlot(n, target)
		if err != nil {
			t.cache.Unpin(p)
			return Node{}, nil, nil, err
		}
		path = append(path, pathEntry{offset: offset, slotIdx: idx})
		next := childPtr(n, idx)
		t.cache.Unpin(p)
		offset = next
	}
}
