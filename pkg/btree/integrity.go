package btree

import "fmt"

// CheckIntegrity walks the whole tree verifying the structural
// invariants of spec.md §4.8: (i) slots within a page are strictly
// ordered, (ii) every key falls within the bounds implied by its
// ancestors' separators, (iii) an extended slot always carries a
// nonzero blob offset, and (iv) the leaf chain, read left to right via
// sibling offsets, is itself strictly ordered. Leaf underflow below
// minkeys-1 is logged as a warning rather than a violation (the root
// leaf and the last leaf along an append-heavy chain legitimately run
// below it between rebalances).
func (t *Tree) CheckIntegrity() error {
	if err := t.checkNode(t.root, nil, nil, true); err != nil {
		return err
	}
	return t.checkLeafChain()
}

func (t *Tree) checkNode(offset uint64, lowerBound, upperBound []byte, isRoot bool) error {
	n, p, err := t.fetchNode(offset)
	if err != nil {
		return err
	}
	defer t.cache.Unpin(p)

	count := n.KeyCount()
	var prev []byte
	for i := 0; i < count; i++ {
		key, err := t.nodeKey(n, i)
		if err != nil {
			return err
		}
		if prev != nil && t.cmp.Compare(prev, key) >= 0 {
			return fmt.Errorf("%w: page %d slot %d out of order", ErrIntegrityViolated, offset, i)
		}
		s := n.Slot(i)
		if s.isExtended() && s.extKeyOffset() == 0 {
			return fmt.Errorf("%w: page %d slot %d extended with zero offset", ErrIntegrityViolated, offset, i)
		}
		prev = key
	}
	if lowerBound != nil && count > 0 {
		first, err := t.nodeKey(n, 0)
		if err != nil {
			return err
		}
		if t.cmp.Compare(first, lowerBound) < 0 {
			return fmt.Errorf("%w: page %d first key below parent lower bound", ErrIntegrityViolated, offset)
		}
	}
	if upperBound != nil && count > 0 {
		last, err := t.nodeKey(n, count-1)
		if err != nil {
			return err
		}
		if t.cmp.Compare(last, upperBound) >= 0 {
			return fmt.Errorf("%w: page %d last key exceeds parent upper bound", ErrIntegrityViolated, offset)
		}
	}

	if n.IsLeaf() {
		if !isRoot {
			min := t.minKeys(n.MaxKeys()) - 1
			if min > 0 && count < min && t.log != nil {
				t.log.Warn("leaf below minkeys-1").Uint64("page", offset).Int("count", count).Send()
			}
		}
		return nil
	}

	var childUpper []byte
	if count > 0 {
		childUpper, err = t.nodeKey(n, 0)
		if err != nil {
			return err
		}
	} else {
		childUpper = upperBound
	}
	if err := t.checkNode(n.PtrLeft(), lowerBound, childUpper, false); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		key, err := t.nodeKey(n, i)
		if err != nil {
			return err
		}
		var next []byte
		if i+1 < count {
			next, err = t.nodeKey(n, i+1)
			if err != nil {
				return err
			}
		} else {
			next = upperBound
		}
		if err := t.checkNode(n.SlotPtr(i), key, next, false); err != nil {
			return err
		}
	}
	return nil
}

// checkLeafChain walks the leftmost-descent leaf, then follows right
// sibling offsets across the whole leaf level, verifying keys remain
// strictly increasing across page boundaries.
func (t *Tree) checkLeafChain() error {
	offset := t.root
	for {
		n, p, err := t.fetchNode(offset)
		if err != nil {
			return err
		}
		if n.IsLeaf() {
			t.cache.Unpin(p)
			break
		}
		next := n.PtrLeft()
		t.cache.Unpin(p)
		offset = next
	}

	var prev []byte
	for offset != 0 {
		n, p, err := t.fetchNode(offset)
		if err != nil {
			return err
		}
		for i := 0; i < n.KeyCount(); i++ {
			key, err := t.nodeKey(n, i)
			if err != nil {
				t.cache.Unpin(p)
				return err
			}
			if prev != nil && t.cmp.Compare(prev, key) >= 0 {
				t.cache.Unpin(p)
				return fmt.Errorf("%w: leaf chain out of order at page %d", ErrIntegrityViolated, offset)
			}
			prev = key
		}
		next := n.RightSiblingOffset()
		t.cache.Unpin(p)
		offset = next
	}
	return nil
}
