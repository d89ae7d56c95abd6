package btree

import (
	"encoding/binary"

	"github.com/nainya/embedkv/pkg/page"
)

// DupPos selects where a duplicate record lands relative to the
// cursor's current duplicate id (spec.md §6 DUPLICATE_INSERT_*).
type DupPos int

const (
	DupPosNone DupPos = iota
	DupPosFirst
	DupPosLast
	DupPosBefore
	DupPosAfter
)

// InsertFlags mirrors the per-operation insert flags of spec.md §6.
type InsertFlags struct {
	Overwrite    bool
	Duplicate    DupPos
	RefDupID     int // cursor's current dup id, meaningful for Before/After
	HintAppend   bool
	HintPrepend  bool
}

// Insert adds key/record to the tree, splitting pages bottom-up as
// needed (spec.md §4.8 "Insert is a recursion").
func (t *Tree) Insert(txnID uint64, key, record []byte, flags InsertFlags) error {
	if flags.HintAppend || flags.HintPrepend {
		if ok, err := t.tryFastTrack(txnID, key, record, flags); ok || err != nil {
			return err
		}
	}

	leaf, leafPage, path, err := t.traverse(key)
	if err != nil {
		return err
	}
	defer t.cache.Unpin(leafPage)

	idx, exact, err := t.findSlot(leaf, key)
	if err != nil {
		return err
	}

	if exact {
		return t.insertExisting(txnID, leaf, leafPage, idx, record, flags)
	}

	at := idx + 1
	if leaf.KeyCount() == leaf.MaxKeys() {
		pivotKey, rightOffset, err := t.splitLeaf(txnID, leafPage, leaf)
		if err != nil {
			return err
		}
		// Re-descend one step: the key belongs on the left (this) page
		// iff it sorts before the pivot.
		if t.cmp.Compare(key, pivotKey) >= 0 {
			rightPage, err := t.cache.Fetch(rightOffset)
			if err != nil {
				return err
			}
			defer t.cache.Unpin(rightPage)
			right := NewNode(rightPage, t.cfg.KeySize)
			ridx, _, err := t.findSlot(right, key)
			if err != nil {
				return err
			}
			if err := t.insertNewLeafSlot(txnID, right, rightPage, ridx+1, key, record); err != nil {
				return err
			}
		} else {
			if err := t.insertNewLeafSlot(txnID, leaf, leafPage, at, key, record); err != nil {
				return err
			}
		}
		return t.propagateSplit(txnID, path, pivotKey, rightOffset)
	}

	return t.insertNewLeafSlot(txnID, leaf, leafPage, at, key, record)
}

func (t *Tree) insertExisting(txnID uint64, leaf Node, leafPage *page.Page, idx int, record []byte, flags InsertFlags) error {
	if flags.Duplicate != DupPosNone {
		if err := t.addDuplicate(leaf, idx, record, flags); err != nil {
			return err
		}
		return t.cache.MarkDirty(leafPage, txnID)
	}
	if !flags.Overwrite {
		return ErrDuplicateKey
	}
	if err := t.freeSlotRecord(leaf, idx); err != nil {
		return err
	}
	if err := t.writeRecord(leaf, idx, record); err != nil {
		return err
	}
	return t.cache.MarkDirty(leafPage, txnID)
}

func (t *Tree) addDuplicate(leaf Node, idx int, record []byte, flags InsertFlags) error {
	s := leaf.Slot(idx)
	head := uint64(0)
	if s.hasDuplicates() {
		head = binary.LittleEndian.Uint64(s.recordField())
	} else {
		existing, err := t.readRecord(leaf, idx)
		if err != nil {
			return err
		}
		if err := t.freeSlotRecord(leaf, idx); err != nil {
			return err
		}
		head, err = t.blobs.DuplicateInsert(0, existing.Bytes, 0, -1)
		if err != nil {
			return err
		}
	}
	pos := dupPosToIndex(flags.Duplicate, flags.RefDupID)
	newHead, err := t.blobs.DuplicateInsert(head, record, pos, flags.RefDupID)
	if err != nil {
		return err
	}
	s.setFlags(s.flags() | slotFlagDuplicates)
	clearBytes(s.recordField())
	binary.LittleEndian.PutUint64(s.recordField(), newHead)
	return nil
}

// dupPosToIndex translates a DupPos + reference dup id into the
// insertion index the blob store's duplicate table expects; -1 means
// "append at end" (DupPosLast / no position given).
func dupPosToIndex(pos DupPos, ref int) int {
	switch pos {
	case DupPosFirst:
		return 0
	case DupPosBefore:
		return ref
	case DupPosAfter:
		return ref + 1
	default: // DupPosLast
		return -1
	}
}

func (t *Tree) insertNewLeafSlot(txnID uint64, n Node, p *page.Page, at int, key, record []byte) error {
	n.InsertSlotAt(at)
	if err := t.setSlotKey(n, at, key); err != nil {
		return err
	}
	if err := t.writeRecord(n, at, record); err != nil {
		return err
	}
	return t.cache.MarkDirty(p, txnID)
}

func (t *Tree) setSlotKey(n Node, i int, key []byte) error {
	s := n.Slot(i)
	return s.setKey(key, t.ext.Put)
}

// splitLeaf moves the upper half of leaf's slots to a freshly
// allocated right sibling, relinking the leaf list, and returns the
// pivot key (the right sibling's first key) and its page offset.
func (t *Tree) splitLeaf(txnID uint64, leafPage *page.Page, leaf Node) ([]byte, uint64, error) {
	count := leaf.KeyCount()
	pivot := t.splitPivot(count)

	rightPage, err := t.cache.AllocPage(t.cfg.DBID)
	if err != nil {
		return nil, 0, err
	}
	rightPage.SetType(page.TypeBtreeNode)
	right := NewNode(rightPage, t.cfg.KeySize)
	right.Reset(true)

	for i := pivot; i < count; i++ {
		dst := right.InsertSlotAt(right.KeyCount())
		dst.copyFrom(leaf.Slot(i))
	}
	leaf.SetKeyCount(pivot)

	right.SetRightSiblingOffset(leaf.RightSiblingOffset())
	right.SetLeftSiblingOffset(leafPage.Offset)
	if old := leaf.RightSiblingOffset(); old != 0 {
		oldRight, oldRightPage, err := t.fetchNode(old)
		if err != nil {
			t.cache.Unpin(rightPage)
			return nil, 0, err
		}
		oldRight.SetLeftSiblingOffset(rightPage.Offset)
		if err := t.cache.MarkDirty(oldRightPage, txnID); err != nil {
			t.cache.Unpin(oldRightPage)
			t.cache.Unpin(rightPage)
			return nil, 0, err
		}
		t.cache.Unpin(oldRightPage)
	}
	leaf.SetRightSiblingOffset(rightPage.Offset)

	if err := t.cache.MarkDirty(leafPage, txnID); err != nil {
		t.cache.Unpin(rightPage)
		return nil, 0, err
	}
	if err := t.cache.MarkDirty(rightPage, txnID); err != nil {
		t.cache.Unpin(rightPage)
		return nil, 0, err
	}

	pivotKey, err := t.nodeKey(right, 0)
	t.cache.Unpin(rightPage)
	if err != nil {
		return nil, 0, err
	}
	t.metrics.IncBtreeSplit()
	if t.log != nil {
		t.log.LogSplit(leafPage.Offset, pivot)
	}
	return pivotKey, rightPage.Offset, nil
}

// splitInternal is splitLeaf's counterpart for an internal node: one
// extra slot (the pivot) is consumed as the promoted separator rather
// than copied to either side (spec.md §4.8).
func (t *Tree) splitInternal(txnID uint64, leftPage *page.Page, left Node) ([]byte, uint64, error) {
	count := left.KeyCount()
	pivot := t.splitPivot(count)

	rightPage, err := t.cache.AllocPage(t.cfg.DBID)
	if err != nil {
		return nil, 0, err
	}
	rightPage.SetType(page.TypeBtreeNode)
	right := NewNode(rightPage, t.cfg.KeySize)
	right.Reset(false)

	pivotKey, err := t.nodeKey(left, pivot)
	if err != nil {
		t.cache.Unpin(rightPage)
		return nil, 0, err
	}
	right.SetPtrLeft(left.SlotPtr(pivot))
	for i := pivot + 1; i < count; i++ {
		dst := right.InsertSlotAt(right.KeyCount())
		dst.copyFrom(left.Slot(i))
	}
	left.SetKeyCount(pivot)

	if err := t.cache.MarkDirty(leftPage, txnID); err != nil {
		t.cache.Unpin(rightPage)
		return nil, 0, err
	}
	if err := t.cache.MarkDirty(rightPage, txnID); err != nil {
		t.cache.Unpin(rightPage)
		return nil, 0, err
	}
	t.cache.Unpin(rightPage)
	t.metrics.IncBtreeSplit()
	if t.log != nil {
		t.log.LogSplit(leftPage.Offset, pivot)
	}
	return pivotKey, rightPage.Offset, nil
}

// propagateSplit inserts (pivotKey -> rightOffset) into the parent
// named by the last entry of path, splitting further ancestors as
// needed, and creates a new root if the split reaches the top.
func (t *Tree) propagateSplit(txnID uint64, path []pathEntry, pivotKey []byte, rightOffset uint64) error {
	for len(path) > 0 {
		last := path[len(path)-1]
		path = path[:len(path)-1]

		parent, parentPage, err := t.fetchNode(last.offset)
		if err != nil {
			return err
		}
		at := last.slotIdx + 1

		if parent.KeyCount() == parent.MaxKeys() {
			newPivot, newRight, err := t.splitInternal(txnID, parentPage, parent)
			if err != nil {
				t.cache.Unpin(parentPage)
				return err
			}
			// Insert into whichever side the pivot now belongs on.
			if t.cmp.Compare(pivotKey, newPivot) >= 0 {
				rp, err := t.cache.Fetch(newRight)
				if err != nil {
					t.cache.Unpin(parentPage)
					return err
				}
				right := NewNode(rp, t.cfg.KeySize)
				ridx, _, err := t.findSlot(right, pivotKey)
				if err != nil {
					t.cache.Unpin(rp)
					t.cache.Unpin(parentPage)
					return err
				}
				right.InsertSlotAt(ridx + 1)
				if err := t.setSlotKey(right, ridx+1, pivotKey); err != nil {
					t.cache.Unpin(rp)
					t.cache.Unpin(parentPage)
					return err
				}
				right.SetSlotPtr(ridx+1, rightOffset)
				err = t.cache.MarkDirty(rp, txnID)
				t.cache.Unpin(rp)
				t.cache.Unpin(parentPage)
				if err != nil {
					return err
				}
			} else {
				idx, _, err := t.findSlot(parent, pivotKey)
				if err != nil {
					t.cache.Unpin(parentPage)
					return err
				}
				parent.InsertSlotAt(idx + 1)
				if err := t.setSlotKey(parent, idx+1, pivotKey); err != nil {
					t.cache.Unpin(parentPage)
					return err
				}
				parent.SetSlotPtr(idx+1, rightOffset)
				err = t.cache.MarkDirty(parentPage, txnID)
				t.cache.Unpin(parentPage)
				if err != nil {
					return err
				}
			}
			pivotKey, rightOffset = newPivot, newRight
			continue
		}

		parent.InsertSlotAt(at)
		if err := t.setSlotKey(parent, at, pivotKey); err != nil {
			t.cache.Unpin(parentPage)
			return err
		}
		parent.SetSlotPtr(at, rightOffset)
		err = t.cache.MarkDirty(parentPage, txnID)
		t.cache.Unpin(parentPage)
		return err
	}

	return t.newRoot(txnID, t.root, pivotKey, rightOffset)
}

// newRoot allocates a fresh internal root with oldRoot as ptr_left and
// (pivotKey, rightOffset) as its single slot (spec.md §4.8).
func (t *Tree) newRoot(txnID uint64, oldRoot uint64, pivotKey []byte, rightOffset uint64) error {
	p, err := t.cache.AllocPage(t.cfg.DBID)
	if err != nil {
		return err
	}
	defer t.cache.Unpin(p)
	p.SetType(page.TypeBtreeRoot)
	n := NewNode(p, t.cfg.KeySize)
	n.Reset(false)
	n.SetPtrLeft(oldRoot)
	n.InsertSlotAt(0)
	if err := t.setSlotKey(n, 0, pivotKey); err != nil {
		return err
	}
	n.SetSlotPtr(0, rightOffset)
	if err := t.cache.MarkDirty(p, txnID); err != nil {
		return err
	}
	t.root = p.Offset
	return nil
}

// tryFastTrack attempts the hinted append/prepend insert path: fetch
// the cached last/first leaf with no freelist or I/O involvement, and
// insert directly if it's still not full and still the rightmost
// (leftmost) leaf with room (spec.md §4.8). Returns ok=false on any
// mismatch so the caller falls back to the general path.
func (t *Tree) tryFastTrack(txnID uint64, key, record []byte, flags InsertFlags) (bool, error) {
	if t.hint == nil {
		return false, nil
	}
	var leafOffset uint64
	var ok bool
	if flags.HintAppend {
		leafOffset, ok = t.hint.TryFastTrackAppend()
	} else {
		leafOffset, ok = t.hint.TryFastTrackPrepend()
	}
	if !ok {
		return false, nil
	}
	p, err := t.cache.Fetch(leafOffset)
	if err != nil {
		return false, nil
	}
	n := NewNode(p, t.cfg.KeySize)
	defer t.cache.Unpin(p)

	if !n.IsLeaf() || n.KeyCount() >= n.MaxKeys() {
		return false, nil
	}
	count := n.KeyCount()
	if flags.HintAppend {
		if n.RightSiblingOffset() != 0 || count == 0 {
			return false, nil
		}
		last, err := t.nodeKey(n, count-1)
		if err != nil {
			return false, nil
		}
		if t.cmp.Compare(key, last) <= 0 {
			return false, nil
		}
		return true, t.insertNewLeafSlot(txnID, n, p, count, key, record)
	}
	if n.LeftSiblingOffset() != 0 || count == 0 {
		return false, nil
	}
	first, err := t.nodeKey(n, 0)
	if err != nil {
		return false, nil
	}
	if t.cmp.Compare(key, first) >= 0 {
		return false, nil
	}
	return true, t.insertNewLeafSlot(txnID, n, p, 0, key, record)
}
