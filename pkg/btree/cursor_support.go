package btree

import "github.com/nainya/embedkv/pkg/page"

// Handle is the opaque position a pkg/cursor.Cursor holds while
// coupled to the tree: the leaf page it last visited and the slot
// index within it. HandleNext/HandlePrev refetch that leaf and step
// from the stored slot index without re-locating it, so a handle is
// exact only while its leaf is unchanged; pkg/cursor re-locates its
// key with Locate at the start of every Move and steps from a handle
// only within that same call.
type Handle struct {
	LeafOffset uint64
	SlotIdx    int
}

// Locate finds target per mode and returns both the decoded result and
// a Handle a cursor can use for subsequent Next/Prev.
func (t *Tree) Locate(target []byte, mode MatchMode) (FindResult, Handle, error) {
	leaf, leafPage, _, err := t.traverse(target)
	if err != nil {
		return FindResult{}, Handle{}, err
	}
	defer t.cache.Unpin(leafPage)

	idx, exact, err := t.findSlot(leaf, target)
	if err != nil {
		return FindResult{}, Handle{}, err
	}

	if mode == MatchExact {
		if !exact {
			return FindResult{}, Handle{}, ErrKeyNotFound
		}
		res, err := t.resultAt(leaf, idx, true)
		return res, Handle{leaf.P.Offset, idx}, err
	}
	if exact && (mode == MatchGEQ || mode == MatchLEQ) {
		res, err := t.resultAt(leaf, idx, true)
		return res, Handle{leaf.P.Offset, idx}, err
	}

	switch mode {
	case MatchGEQ, MatchGT:
		return t.nextFromHandle(leaf, leafPage, idx)
	default:
		if !exact {
			idx++
		}
		return t.prevFromHandle(leaf, leafPage, idx)
	}
}

// First/Last locate the smallest/largest key in the tree.
func (t *Tree) First() (FindResult, Handle, error) {
	leaf, leafPage, err := t.leftmostLeaf()
	if err != nil {
		return FindResult{}, Handle{}, err
	}
	defer t.cache.Unpin(leafPage)
	if leaf.KeyCount() == 0 {
		return FindResult{}, Handle{}, ErrKeyNotFound
	}
	res, err := t.resultAt(leaf, 0, true)
	return res, Handle{leaf.P.Offset, 0}, err
}

func (t *Tree) Last() (FindResult, Handle, error) {
	leaf, leafPage, err := t.rightmostLeaf()
	if err != nil {
		return FindResult{}, Handle{}, err
	}
	defer t.cache.Unpin(leafPage)
	last := leaf.KeyCount() - 1
	if last < 0 {
		return FindResult{}, Handle{}, ErrKeyNotFound
	}
	res, err := t.resultAt(leaf, last, true)
	return res, Handle{leaf.P.Offset, last}, err
}

func (t *Tree) leftmostLeaf() (Node, *page.Page, error) {
	offset := t.root
	for {
		n, p, err := t.fetchNode(offset)
		if err != nil {
			return Node{}, nil, err
		}
		if n.IsLeaf() {
			return n, p, nil
		}
		next := n.PtrLeft()
		t.cache.Unpin(p)
		offset = next
	}
}

func (t *Tree) rightmostLeaf() (Node, *page.Page, error) {
	offset := t.root
	for {
		n, p, err := t.fetchNode(offset)
		if err != nil {
			return Node{}, nil, err
		}
		if n.IsLeaf() {
			return n, p, nil
		}
		next := n.SlotPtr(n.KeyCount() - 1)
		t.cache.Unpin(p)
		offset = next
	}
}

// HandleNext/HandlePrev re-fetch the leaf a Handle names and return the
// next/previous slot, walking sibling leaves as needed.
func (t *Tree) HandleNext(h Handle) (FindResult, Handle, error) {
	n, p, err := t.fetchNode(h.LeafOffset)
	if err != nil {
		return FindResult{}, Handle{}, err
	}
	return t.nextFromHandle(n, p, h.SlotIdx)
}

func (t *Tree) HandlePrev(h Handle) (FindResult, Handle, error) {
	n, p, err := t.fetchNode(h.LeafOffset)
	if err != nil {
		return FindResult{}, Handle{}, err
	}
	return t.prevFromHandle(n, p, h.SlotIdx)
}

func (t *Tree) nextFromHandle(n Node, p *page.Page, idx int) (FindResult, Handle, error) {
	next := idx + 1
	for {
		if next < n.KeyCount() {
			res, err := t.resultAt(n, next, false)
			h := Handle{n.P.Offset, next}
			t.cache.Unpin(p)
			return res, h, err
		}
		sib := n.RightSiblingOffset()
		if sib == 0 {
			t.cache.Unpin(p)
			return FindResult{}, Handle{}, ErrKeyNotFound
		}
		nn, np, err := t.fetchNode(sib)
		t.cache.Unpin(p)
		if err != nil {
			return FindResult{}, Handle{}, err
		}
		n, p, next = nn, np, 0
	}
}

func (t *Tree) prevFromHandle(n Node, p *page.Page, idx int) (FindResult, Handle, error) {
	prev := idx - 1
	for {
		if prev >= 0 {
			res, err := t.resultAt(n, prev, false)
			h := Handle{n.P.Offset, prev}
			t.cache.Unpin(p)
			return res, h, err
		}
		sib := n.LeftSiblingOffset()
		if sib == 0 {
			t.cache.Unpin(p)
			return FindResult{}, Handle{}, ErrKeyNotFound
		}
		nn, np, err := t.fetchNode(sib)
		t.cache.Unpin(p)
		if err != nil {
			return FindResult{}, Handle{}, err
		}
		n, p, prev = nn, np, nn.KeyCount()-1
	}
}

// ReadDuplicate resolves one entry of a duplicate table by position.
func (t *Tree) ReadDuplicate(head uint64, dupID int) (Record, error) {
	_, record, err := t.blobs.DuplicateGet(head, dupID)
	if err != nil {
		return Record{}, err
	}
	return Record{Bytes: record, HasDuplicates: true, DupHead: head}, nil
}

// DuplicateCount returns how many entries are in the duplicate table at head.
func (t *Tree) DuplicateCount(head uint64) (int, error) { return t.blobs.DuplicateCount(head) }

// AttachCursor/DetachCursor maintain a leaf page's cursor back-reference
// list (page.CursorRef) so a future structural change (split/merge/shift)
// knows which cursors to uncouple. Callers re-resolve by key on their next
// move regardless, so losing this list across an eviction only costs a
// redundant re-traversal, never correctness.
func (t *Tree) AttachCursor(h Handle, ref page.CursorRef) error {
	p, err := t.cache.Fetch(h.LeafOffset)
	if err != nil {
		return err
	}
	p.AddCursor(ref)
	t.cache.Unpin(p)
	return nil
}

func (t *Tree) DetachCursor(h Handle, cursorID uint64) error {
	p, err := t.cache.Fetch(h.LeafOffset)
	if err != nil {
		return err
	}
	p.RemoveCursor(cursorID)
	t.cache.Unpin(p)
	return nil
}
