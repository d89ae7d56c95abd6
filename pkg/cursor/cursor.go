// ABOUTME: Cursor state machine over a btree.Tree: nil / coupled-btree /
// ABOUTME: coupled-txn / uncoupled states, duplicate stepping, and the
// ABOUTME: transaction-overlay continuation rule (spec.md §4.10)
package cursor

import (
	"sync/atomic"

	"github.com/nainya/embedkv/internal/metrics"
	"github.com/nainya/embedkv/pkg/btree"
	"github.com/nainya/embedkv/pkg/page"
	"github.com/nainya/embedkv/pkg/txn"
)

// State is the cursor's coupling state (spec.md §4.10).
type State int

const (
	// StateNil is an unpositioned cursor: no find/first/last has run,
	// or the cursor was just closed/uncoupled without a successor.
	StateNil State = iota
	// StateCoupledBtree means the cursor points at a live leaf slot the
	// B+-tree still owns; moves re-resolve through the tree directly.
	StateCoupledBtree
	// StateCoupledTxn means the cursor's current key/record came from
	// an open transaction's overlay rather than the committed tree.
	StateCoupledTxn
	// StateUncoupled means the cursor holds a detached snapshot of its
	// key/record, taken because the underlying slot no longer exists
	// (erased) or ownership could not be reconfirmed.
	StateUncoupled
)

// Direction is which way Move walks.
type Direction int

const (
	DirNext Direction = iota
	DirPrev
)

// DupMode controls how Move treats a record's duplicate table.
type DupMode int

const (
	// DupModeAny steps into sibling duplicates before advancing keys.
	DupModeAny DupMode = iota
	// DupModeSkip jumps straight to the next/previous key, ignoring
	// any remaining duplicates of the current key.
	DupModeSkip
	// DupModeOnly refuses to cross a key boundary: Move fails with
	// ErrNotOnDuplicate once the last duplicate of the current key is reached.
	DupModeOnly
)

var nextCursorID uint64

// Cursor walks a single database's B+-tree, optionally bound to an open
// transaction so it observes that transaction's own uncommitted writes
// (spec.md §4.7/§4.10).
type Cursor struct {
	id      uint64
	tree    *btree.Tree
	txns    *txn.Manager
	owner   *txn.Txn
	metrics *metrics.Metrics

	state  State
	handle btree.Handle
	dupID  int

	key    []byte
	record btree.Record
}

// New creates a cursor over tree. Bind it to a transaction with BindTxn
// before the first Find/Move if it should see that transaction's
// uncommitted writes.
func New(tree *btree.Tree) *Cursor {
	return &Cursor{id: atomic.AddUint64(&nextCursorID, 1), tree: tree, state: StateNil}
}

func (c *Cursor) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// BindTxn attaches the cursor to an open transaction; StageInsert/
// StageErase calls issued through the cursor go through mgr instead of
// straight to the tree, and Move/Find consult mgr's overlay.
func (c *Cursor) BindTxn(mgr *txn.Manager, t *txn.Txn) {
	c.txns, c.owner = mgr, t
	t.AttachCursor()
}

// ID returns the cursor's process-local identifier, used as the
// CursorID in a leaf page's back-reference list.
func (c *Cursor) ID() uint64 { return c.id }

func (c *Cursor) State() State { return c.state }

// Close detaches the cursor from any transaction and from the leaf
// page it was coupled to.
func (c *Cursor) Close() error {
	if c.state == StateCoupledBtree {
		if err := c.tree.DetachCursor(c.handle, c.id); err != nil {
			return err
		}
	}
	if c.owner != nil {
		c.owner.DetachCursor()
	}
	c.state = StateNil
	c.key, c.record = nil, btree.Record{}
	return nil
}

// Key/Record return the cursor's current position; both are empty
// until a successful Find/First/Last/Move.
func (c *Cursor) Key() []byte          { return c.key }
func (c *Cursor) Record() btree.Record { return c.record }
func (c *Cursor) DupID() int           { return c.dupID }

// Find couples the cursor to target per mode (spec.md §6 FIND_*_MATCH),
// continuing past any key the cursor's own/foreign-committed
// transaction overlay has erased.
func (c *Cursor) Find(target []byte, mode btree.MatchMode) error {
	res, h, err := c.tree.Locate(target, mode)
	if err != nil {
		return err
	}
	return c.settle(res, h, mode)
}

func (c *Cursor) First() error {
	res, h, err := c.tree.First()
	if err != nil {
		return err
	}
	return c.settle(res, h, btree.MatchGEQ)
}

func (c *Cursor) Last() error {
	res, h, err := c.tree.Last()
	if err != nil {
		return err
	}
	return c.settle(res, h, btree.MatchLEQ)
}

// Move advances the cursor one step in dir, honoring dupMode's
// duplicate-stepping rule and continuing past transaction-erased keys.
func (c *Cursor) Move(dir Direction, dupMode DupMode) error {
	if c.state == StateNil {
		return ErrNoPosition
	}
	if dupMode != DupModeSkip && c.record.HasDuplicates {
		count, err := c.tree.DuplicateCount(c.record.DupHead)
		if err != nil {
			return err
		}
		next := c.dupID + 1
		if dir == DirPrev {
			next = c.dupID - 1
		}
		if next >= 0 && next < count {
			rec, err := c.tree.ReadDuplicate(c.record.DupHead, next)
			if err != nil {
				return err
			}
			c.record, c.dupID = rec, next
			return nil
		}
		if dupMode == DupModeOnly {
			return ErrNotOnDuplicate
		}
	} else if dupMode == DupModeOnly {
		return ErrNotOnDuplicate
	}

	mode := btree.MatchGT
	if dir == DirPrev {
		mode = btree.MatchLT
	}
	res, h, err := c.tree.Locate(c.key, mode)
	for {
		if err != nil {
			return err
		}
		continued, serr := c.settleContinuing(res, h, mode, dir)
		if serr != nil || !continued {
			return serr
		}
		if dir == DirNext {
			res, h, err = c.tree.HandleNext(h)
		} else {
			res, h, err = c.tree.HandlePrev(h)
		}
	}
}

// settle couples the cursor to (res, h), resolving it against the
// transaction overlay if bound. A candidate the overlay shows erased
// is skipped in mode's direction (backwards for LEQ/LT, forwards
// otherwise) until a live key or the end of the tree is reached.
func (c *Cursor) settle(res btree.FindResult, h btree.Handle, mode btree.MatchMode) error {
	dir := DirNext
	if mode == btree.MatchLEQ || mode == btree.MatchLT {
		dir = DirPrev
	}
	for {
		continued, err := c.settleContinuing(res, h, mode, dir)
		if err != nil || !continued {
			return err
		}
		if dir == DirNext {
			res, h, err = c.tree.HandleNext(h)
		} else {
			res, h, err = c.tree.HandlePrev(h)
		}
		if err != nil {
			return err
		}
	}
}

// settleContinuing applies one candidate slot. If the transaction
// overlay shows it erased, it reports continued=true so Move/Find can
// advance past it in the requested direction instead of surfacing a
// dead key (spec.md §4.10: "a transaction-overlay lookup that
// encounters an erased-in-txn key continues the search in the
// requested direction").
func (c *Cursor) settleContinuing(res btree.FindResult, h btree.Handle, mode btree.MatchMode, dir Direction) (continued bool, err error) {
	if c.state == StateCoupledBtree {
		_ = c.tree.DetachCursor(c.handle, c.id)
	}

	record := res.Record
	coupledTxn := false
	if c.txns != nil {
		ownerID := uint64(0)
		if c.owner != nil {
			ownerID = c.owner.ID()
		}
		op, lookupErr := c.txns.Lookup(ownerID, res.Key)
		if lookupErr != nil && lookupErr != txn.ErrConflict {
			return false, lookupErr
		}
		if op != nil {
			switch op.Kind {
			case txn.OpErase:
				if mode == btree.MatchExact {
					return false, btree.ErrKeyNotFound
				}
				return true, nil
			case txn.OpInsert:
				record = btree.Record{Bytes: op.Record}
				coupledTxn = true
			}
		}
	}

	c.key, c.record, c.handle, c.dupID = res.Key, record, h, 0
	if coupledTxn {
		c.state = StateCoupledTxn
	} else {
		c.state = StateCoupledBtree
		_ = c.tree.AttachCursor(h, page.CursorRef{CursorID: c.id, Slot: uint16(h.SlotIdx)})
	}
	if c.metrics != nil {
		c.metrics.IncCursorCoupling()
	}
	return false, nil
}

// Uncouple detaches the cursor from the page it currently sits on,
// retaining a snapshot of its key/record so callers can keep reading
// it across a structural change that invalidates the handle.
func (c *Cursor) Uncouple() {
	if c.state != StateCoupledBtree {
		return
	}
	_ = c.tree.DetachCursor(c.handle, c.id)
	c.state = StateUncoupled
	if c.metrics != nil {
		c.metrics.IncCursorUncoupling()
	}
}

// Insert adds a brand-new key/record — through the bound transaction's
// overlay when attached, or straight to the tree otherwise — and
// couples the cursor to it. Unlike Overwrite, which only replaces the
// record at the cursor's current position, Insert needs no prior
// Find/First/Last: it is the cursor's route to a key it has never
// visited (spec.md §2's move/find/insert/erase/overwrite operations;
// §8 scenario 3, inserting a fresh key under an open transaction).
func (c *Cursor) Insert(key, record []byte, flags btree.InsertFlags) error {
	if c.txns != nil && c.owner != nil {
		if err := c.txns.StageInsert(c.owner, key, record, flags); err != nil {
			return err
		}
		c.key, c.record, c.dupID = key, btree.Record{Bytes: record}, 0
		c.state = StateCoupledTxn
		return nil
	}
	if err := c.tree.Insert(0, key, record, flags); err != nil {
		return err
	}
	return c.Find(key, btree.MatchExact)
}

// Overwrite replaces the record at the cursor's current key, going
// through the bound transaction's overlay when attached.
func (c *Cursor) Overwrite(record []byte) error {
	if c.state == StateNil {
		return ErrNoPosition
	}
	flags := btree.InsertFlags{Overwrite: true}
	if c.txns != nil && c.owner != nil {
		if err := c.txns.StageInsert(c.owner, c.key, record, flags); err != nil {
			return err
		}
		c.record, c.state = btree.Record{Bytes: record}, StateCoupledTxn
		return nil
	}
	if err := c.tree.Insert(0, c.key, record, flags); err != nil {
		return err
	}
	c.record = btree.Record{Bytes: record}
	return nil
}

// Erase removes the cursor's current key, or, when the current record
// carries a duplicate table, just the duplicate the cursor is on. A
// plain key erase goes through the bound transaction when attached; a
// duplicate erase always goes straight to the tree, bound or not.
func (c *Cursor) Erase() error {
	if c.state == StateNil {
		return ErrNoPosition
	}
	if c.record.HasDuplicates {
		if err := c.tree.EraseDuplicate(0, c.key, c.dupID); err != nil {
			return err
		}
		c.state = StateNil
		return nil
	}
	if c.txns != nil && c.owner != nil {
		if err := c.txns.StageErase(c.owner, c.key); err != nil {
			return err
		}
		c.state = StateNil
		return nil
	}
	if err := c.tree.Erase(0, c.key); err != nil {
		return err
	}
	c.state = StateNil
	return nil
}
