package btree

// EnumEvent identifies which stage of a level-order walk a callback
// is being invoked for (spec.md §4.8 Enumerate).
type EnumEvent int

const (
	EventDescend EnumEvent = iota
	EventPageStart
	EventItem
	EventPageStop
)

// EnumAction is the callback's instruction to the walker.
type EnumAction int

const (
	ActionContinue EnumAction = iota
	ActionStop
	ActionDoNotDescend
)

// EnumCallback is invoked once per event; slotIdx and key/record are
// only meaningful for EventItem.
type EnumCallback func(event EnumEvent, pageOffset uint64, slotIdx int, key []byte, record Record) EnumAction

// Enumerate visits every page level by level starting at the root,
// descending through ptr_left then each slot's child pointer in
// order (spec.md §4.8). Pages are pinned for the duration of their
// callbacks. DoNotDescend, returned from PAGE_START or an ITEM
// callback, skips queuing that page's (or that item's) children for
// the next level without stopping the walk.
func (t *Tree) Enumerate(cb EnumCallback) error {
	level := []uint64{t.root}
	for len(level) > 0 {
		var next []uint64
		for _, offset := range level {
			stop, err := t.enumeratePage(cb, offset, &next)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		level = next
	}
	return nil
}

func (t *Tree) enumeratePage(cb EnumCallback, offset uint64, next *[]uint64) (stop bool, err error) {
	n, p, err := t.fetchNode(offset)
	if err != nil {
		return false, err
	}
	defer t.cache.Unpin(p)

	if cb(EventDescend, offset, -1, nil, Record{}) == ActionStop {
		return true, nil
	}
	pageAction := cb(EventPageStart, offset, -1, nil, Record{})
	if pageAction == ActionStop {
		return true, nil
	}
	descendPage := pageAction != ActionDoNotDescend

	if !n.IsLeaf() && descendPage {
		*next = append(*next, n.PtrLeft())
	}

	for i := 0; i < n.KeyCount(); i++ {
		key, err := t.nodeKey(n, i)
		if err != nil {
			return false, err
		}
		var rec Record
		if n.IsLeaf() {
			rec, err = t.readRecord(n, i)
			if err != nil {
				return false, err
			}
		}
		action := cb(EventItem, offset, i, key, rec)
		if action == ActionStop {
			return true, nil
		}
		if !n.IsLeaf() && descendPage && action != ActionDoNotDescend {
			*next = append(*next, n.SlotPtr(i))
		}
	}

	cb(EventPageStop, offset, -1, nil, Record{})
	return false, nil
}
