package btree

import "github.com/nainya/embedkv/pkg/page"

// MatchMode selects how Find behaves when the exact key is absent
// (spec.md §4.10 approximate match / §6 FIND_*_MATCH).
type MatchMode int

const (
	MatchExact MatchMode = iota
	MatchGEQ
	MatchLEQ
	MatchGT
	MatchLT
)

// FindResult is the key and decoded record Find lands on, plus
// whether it was an exact match for the requested target.
type FindResult struct {
	Key    []byte
	Record Record
	Exact  bool
}

// Find locates target per mode, fetching the extended-key / blob
// bytes of whatever slot it lands on (spec.md §4.8/§4.10).
func (t *Tree) Find(target []byte, mode MatchMode) (FindResult, error) {
	leaf, leafPage, _, err := t.traverse(target)
	if err != nil {
		return FindResult{}, err
	}
	defer t.cache.Unpin(leafPage)

	idx, exact, err := t.findSlot(leaf, target)
	if err != nil {
		return FindResult{}, err
	}

	if mode == MatchExact {
		if !exact {
			return FindResult{}, ErrKeyNotFound
		}
		return t.resultAt(leaf, idx, true)
	}
	if exact {
		if mode == MatchGEQ || mode == MatchLEQ {
			return t.resultAt(leaf, idx, true)
		}
	}

	switch mode {
	case MatchGEQ, MatchGT:
		return t.nextFrom(leaf, leafPage, idx)
	default: // MatchLEQ, MatchLT
		if !exact {
			idx++
		}
		return t.prevFrom(leaf, leafPage, idx)
	}
}

func (t *Tree) resultAt(n Node, idx int, exact bool) (FindResult, error) {
	key, err := t.nodeKey(n, idx)
	if err != nil {
		return FindResult{}, err
	}
	rec, err := t.readRecord(n, idx)
	if err != nil {
		return FindResult{}, err
	}
	return FindResult{Key: key, Record: rec, Exact: exact}, nil
}

// nextFrom returns the slot immediately after idx (which may be -1 or
// the exact match), walking right across sibling leaves when idx is
// the last slot on its page.
func (t *Tree) nextFrom(n Node, p *page.Page, idx int) (FindResult, error) {
	next := idx + 1
	for {
		if next < n.KeyCount() {
			return t.resultAt(n, next, false)
		}
		sib := n.RightSiblingOffset()
		if sib == 0 {
			return FindResult{}, ErrKeyNotFound
		}
		nn, np, err := t.fetchNode(sib)
		t.cache.Unpin(p)
		if err != nil {
			return FindResult{}, err
		}
		n, p, next = nn, np, 0
		defer t.cache.Unpin(p)
	}
}

// prevFrom returns the slot immediately before idx, walking left
// across sibling leaves when idx is before the first slot on its page.
func (t *Tree) prevFrom(n Node, p *page.Page, idx int) (FindResult, error) {
	prev := idx - 1
	for {
		if prev >= 0 {
			return t.resultAt(n, prev, false)
		}
		sib := n.LeftSiblingOffset()
		if sib == 0 {
			return FindResult{}, ErrKeyNotFound
		}
		nn, np, err := t.fetchNode(sib)
		t.cache.Unpin(p)
		if err != nil {
			return FindResult{}, err
		}
		n, p, prev = nn, np, nn.KeyCount()-1
		defer t.cache.Unpin(p)
	}
}
