package btree

import (
	"encoding/binary"

	"github.com/nainya/embedkv/pkg/page"
)

// Erase removes key and its record (including any duplicate table)
// from the tree, rebalancing ancestors that underflow (spec.md §4.8).
func (t *Tree) Erase(txnID uint64, key []byte) error {
	leaf, leafPage, path, err := t.traverse(key)
	if err != nil {
		return err
	}

	idx, exact, err := t.findSlot(leaf, key)
	if err != nil {
		t.cache.Unpin(leafPage)
		return err
	}
	if !exact {
		t.cache.Unpin(leafPage)
		return ErrKeyNotFound
	}

	if err := t.freeSlotRecord(leaf, idx); err != nil {
		t.cache.Unpin(leafPage)
		return err
	}
	if err := t.freeSlotKey(leaf, idx); err != nil {
		t.cache.Unpin(leafPage)
		return err
	}
	leaf.RemoveSlotAt(idx)
	if err := t.cache.MarkDirty(leafPage, txnID); err != nil {
		t.cache.Unpin(leafPage)
		return err
	}

	if len(path) == 0 {
		t.cache.Unpin(leafPage)
		return nil
	}
	if leaf.KeyCount() >= t.minKeys(leaf.MaxKeys()) {
		t.cache.Unpin(leafPage)
		return nil
	}
	return t.rebalance(txnID, leafPage, leaf, path)
}

// EraseDuplicate removes one entry from a key's duplicate table. Per
// spec.md §4.8, removing only a duplicate never changes the leaf's key
// count and so never triggers rebalancing; emptying the table entirely
// degrades to a normal key erase.
func (t *Tree) EraseDuplicate(txnID uint64, key []byte, dupID int) error {
	leaf, leafPage, path, err := t.traverse(key)
	if err != nil {
		return err
	}
	idx, exact, err := t.findSlot(leaf, key)
	if err != nil {
		t.cache.Unpin(leafPage)
		return err
	}
	if !exact {
		t.cache.Unpin(leafPage)
		return ErrKeyNotFound
	}
	s := leaf.Slot(idx)
	if !s.hasDuplicates() {
		t.cache.Unpin(leafPage)
		if dupID != 0 {
			return ErrKeyNotFound
		}
		return t.eraseAt(txnID, leaf, leafPage, idx, path)
	}
	head := binary.LittleEndian.Uint64(s.recordField())
	newHead, empty, err := t.blobs.DuplicateErase(head, dupID)
	if err != nil {
		t.cache.Unpin(leafPage)
		return err
	}
	if empty {
		s.setFlags(s.flags() &^ slotFlagDuplicates)
		if err := t.freeSlotKey(leaf, idx); err != nil {
			t.cache.Unpin(leafPage)
			return err
		}
		return t.eraseAt(txnID, leaf, leafPage, idx, path)
	}
	binary.LittleEndian.PutUint64(s.recordField(), newHead)
	err = t.cache.MarkDirty(leafPage, txnID)
	t.cache.Unpin(leafPage)
	return err
}

func (t *Tree) eraseAt(txnID uint64, leaf Node, leafPage *page.Page, idx int, path []pathEntry) error {
	leaf.RemoveSlotAt(idx)
	if err := t.cache.MarkDirty(leafPage, txnID); err != nil {
		t.cache.Unpin(leafPage)
		return err
	}
	if len(path) == 0 || leaf.KeyCount() >= t.minKeys(leaf.MaxKeys()) {
		t.cache.Unpin(leafPage)
		return nil
	}
	return t.rebalance(txnID, leafPage, leaf, path)
}

// rebalance walks from an underflowing node up toward the root,
// shifting from a sibling with keys to spare, or merging with a
// sibling and propagating the resulting underflow one level up
// (spec.md §4.8's rebalance tie-breaks, simplified: prefer a shift
// over a merge, and prefer the left sibling when both qualify).
func (t *Tree) rebalance(txnID uint64, childPage *page.Page, child Node, path []pathEntry) error {
	for {
		parentEntry := path[len(path)-1]
		restPath := path[:len(path)-1]

		parent, parentPage, err := t.fetchNode(parentEntry.offset)
		if err != nil {
			t.cache.Unpin(childPage)
			return err
		}
		k := parentEntry.slotIdx

		hasLeft := k >= 0
		hasRight := k < parent.KeyCount()-1

		var leftOff, rightOff uint64
		if hasLeft {
			if k == 0 {
				leftOff = parent.PtrLeft()
			} else {
				leftOff = parent.SlotPtr(k - 1)
			}
		}
		if hasRight {
			rightOff = parent.SlotPtr(k + 1)
		}

		merged, newParentEmpty, err := t.rebalanceOnce(txnID, parent, parentPage, child, childPage, k, hasLeft, leftOff, hasRight, rightOff)
		if err != nil {
			t.cache.Unpin(parentPage)
			return err
		}
		if !merged {
			t.cache.Unpin(parentPage)
			return nil
		}

		if len(restPath) == 0 {
			if newParentEmpty {
				return t.collapseRoot(txnID, parentPage, parent)
			}
			t.cache.Unpin(parentPage)
			return nil
		}
		if parent.KeyCount() >= t.minKeys(parent.MaxKeys()) {
			t.cache.Unpin(parentPage)
			return nil
		}
		child, childPage, path = parent, parentPage, restPath
	}
}

// rebalanceOnce performs exactly one shift or merge for child against
// its siblings (located via parent). Returns merged=true when a merge
// happened (meaning the parent itself lost a slot and may now need
// rebalancing), and newParentEmpty when the parent (an internal node)
// dropped to zero keys, a candidate for root collapse.
func (t *Tree) rebalanceOnce(txnID uint64, parent Node, parentPage *page.Page, child Node, childPage *page.Page, k int, hasLeft bool, leftOff uint64, hasRight bool, rightOff uint64) (merged bool, parentEmpty bool, err error) {
	min := t.minKeys(child.MaxKeys())

	if hasLeft {
		leftNode, leftPage, err := t.fetchNode(leftOff)
		if err != nil {
			return false, false, err
		}
		if leftNode.KeyCount() > min {
			if err := t.shift(txnID, leftNode, leftPage, child, childPage, parent, parentPage, k, child.IsLeaf()); err != nil {
				t.cache.Unpin(leftPage)
				return false, false, err
			}
			t.cache.Unpin(leftPage)
			t.cache.Unpin(childPage)
			if t.metrics != nil {
				t.metrics.IncBtreeShift()
			}
			return false, false, nil
		}
		t.cache.Unpin(leftPage)
	}
	if hasRight {
		rightNode, rightPage, err := t.fetchNode(rightOff)
		if err != nil {
			return false, false, err
		}
		if rightNode.KeyCount() > min {
			if err := t.shift(txnID, child, childPage, rightNode, rightPage, parent, parentPage, k+1, child.IsLeaf()); err != nil {
				t.cache.Unpin(rightPage)
				return false, false, err
			}
			t.cache.Unpin(rightPage)
			t.cache.Unpin(childPage)
			if t.metrics != nil {
				t.metrics.IncBtreeShift()
			}
			return false, false, nil
		}
		t.cache.Unpin(rightPage)
	}

	// No sibling has keys to spare: merge. Prefer merging with the
	// left sibling (child's contents fold into it); else merge the
	// right sibling into child. The absorbed page must be unpinned
	// before FreePage (pins forbid eviction/freeing).
	if hasLeft {
		leftNode, leftPage, err := t.fetchNode(leftOff)
		if err != nil {
			return false, false, err
		}
		if err := t.merge(txnID, leftNode, leftPage, child, childPage, parent, k, child.IsLeaf()); err != nil {
			t.cache.Unpin(leftPage)
			return false, false, err
		}
		t.cache.Unpin(leftPage)
		t.cache.Unpin(childPage)
		if err := t.cache.FreePage(childPage); err != nil {
			return false, false, err
		}
		if err := t.cache.MarkDirty(parentPage, txnID); err != nil {
			return false, false, err
		}
		if t.metrics != nil {
			t.metrics.IncBtreeMerge()
		}
		return true, parent.KeyCount() == 0, nil
	}
	if hasRight {
		rightNode, rightPage, err := t.fetchNode(rightOff)
		if err != nil {
			return false, false, err
		}
		if err := t.merge(txnID, child, childPage, rightNode, rightPage, parent, k+1, child.IsLeaf()); err != nil {
			t.cache.Unpin(rightPage)
			return false, false, err
		}
		t.cache.Unpin(rightPage)
		if err := t.cache.FreePage(rightPage); err != nil {
			t.cache.Unpin(childPage)
			return false, false, err
		}
		t.cache.Unpin(childPage)
		if err := t.cache.MarkDirty(parentPage, txnID); err != nil {
			return false, false, err
		}
		if t.metrics != nil {
			t.metrics.IncBtreeMerge()
		}
		return true, parent.KeyCount() == 0, nil
	}

	// No siblings at all: child is the sole child of the root.
	t.cache.Unpin(childPage)
	return false, false, nil
}

// shift moves one slot across the left/right boundary, adjusting the
// parent's separator key at sepIdx. Direction is determined by which
// of left/right the caller already identified as having the spare key.
func (t *Tree) shift(txnID uint64, left Node, leftPage *page.Page, right Node, rightPage *page.Page, parent Node, parentPage *page.Page, sepIdx int, isLeaf bool) error {
	leftHasSpare := left.KeyCount() > right.KeyCount()
	var newSepKey []byte
	var err error

	if isLeaf {
		if leftHasSpare {
			lastIdx := left.KeyCount() - 1
			dst := right.InsertSlotAt(0)
			dst.copyFrom(left.Slot(lastIdx))
			left.RemoveSlotAt(lastIdx)
		} else {
			dst := left.InsertSlotAt(left.KeyCount())
			dst.copyFrom(right.Slot(0))
			right.RemoveSlotAt(0)
		}
		newSepKey, err = t.nodeKey(right, 0)
		if err != nil {
			return err
		}
	} else {
		sepKey, err := t.nodeKey(parent, sepIdx)
		if err != nil {
			return err
		}
		if leftHasSpare {
			lastIdx := left.KeyCount() - 1
			movedPtr := left.SlotPtr(lastIdx)
			movedKey, err := t.nodeKey(left, lastIdx)
			if err != nil {
				return err
			}
			dst := right.InsertSlotAt(0)
			if err := t.setSlotKeyView(dst, sepKey); err != nil {
				return err
			}
			right.SetSlotPtr(0, right.PtrLeft())
			right.SetPtrLeft(movedPtr)
			left.RemoveSlotAt(lastIdx)
			newSepKey = movedKey
		} else {
			movedPtr := right.PtrLeft()
			movedKey, err := t.nodeKey(right, 0)
			if err != nil {
				return err
			}
			dst := left.InsertSlotAt(left.KeyCount())
			if err := t.setSlotKeyView(dst, sepKey); err != nil {
				return err
			}
			left.SetSlotPtr(left.KeyCount()-1, movedPtr)
			right.SetPtrLeft(right.SlotPtr(0))
			right.RemoveSlotAt(0)
			newSepKey = movedKey
		}
	}

	ps := parent.Slot(sepIdx)
	if err := t.freeSlotKeyView(ps); err != nil {
		return err
	}
	if err := t.setSlotKeyView(ps, newSepKey); err != nil {
		return err
	}
	if err := t.cache.MarkDirty(leftPage, txnID); err != nil {
		return err
	}
	if err := t.cache.MarkDirty(rightPage, txnID); err != nil {
		return err
	}
	return t.cache.MarkDirty(parentPage, txnID)
}

// merge folds right's contents into left, freeing right's page, and
// removes the separator slot at sepIdx from parent. The caller unpins
// right's page and marks parent dirty.
func (t *Tree) merge(txnID uint64, left Node, leftPage *page.Page, right Node, rightPage *page.Page, parent Node, sepIdx int, isLeaf bool) error {
	if isLeaf {
		for i := 0; i < right.KeyCount(); i++ {
			dst := left.InsertSlotAt(left.KeyCount())
			dst.copyFrom(right.Slot(i))
		}
		left.SetRightSiblingOffset(right.RightSiblingOffset())
		if nxt := right.RightSiblingOffset(); nxt != 0 {
			nn, np, err := t.fetchNode(nxt)
			if err != nil {
				return err
			}
			nn.SetLeftSiblingOffset(leftPage.Offset)
			if err := t.cache.MarkDirty(np, txnID); err != nil {
				t.cache.Unpin(np)
				return err
			}
			t.cache.Unpin(np)
		}
	} else {
		sepKey, err := t.nodeKey(parent, sepIdx)
		if err != nil {
			return err
		}
		dst := left.InsertSlotAt(left.KeyCount())
		if err := t.setSlotKeyView(dst, sepKey); err != nil {
			return err
		}
		left.SetSlotPtr(left.KeyCount()-1, right.PtrLeft())
		for i := 0; i < right.KeyCount(); i++ {
			d := left.InsertSlotAt(left.KeyCount())
			d.copyFrom(right.Slot(i))
		}
	}

	if err := t.cache.MarkDirty(leftPage, txnID); err != nil {
		return err
	}
	parent.RemoveSlotAt(sepIdx)
	return nil
}

// setSlotKeyView is setSlotKey's counterpart when the caller already
// holds a slotView rather than a (Node, index) pair.
func (t *Tree) setSlotKeyView(s slotView, key []byte) error {
	return s.setKey(key, t.ext.Put)
}

// collapseRoot replaces an internal root that has dropped to zero
// keys with its sole remaining child (spec.md §4.8).
func (t *Tree) collapseRoot(txnID uint64, rootPage *page.Page, root Node) error {
	t.root = root.PtrLeft()
	t.cache.Unpin(rootPage)
	return t.cache.FreePage(rootPage)
}
