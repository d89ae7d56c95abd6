// ABOUTME: Transaction manager: begin/commit/abort and the per-key
// ABOUTME: overlay op chain that implements first-committer-wins conflict detection
package txn

import (
	"github.com/nainya/embedkv/internal/metrics"
	"github.com/nainya/embedkv/pkg/btree"
)

// State is a transaction's lifecycle stage.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

// OpKind distinguishes the two overlay op types (spec.md §4.7).
type OpKind int

const (
	OpInsert OpKind = iota
	OpErase
)

// Op is one pending write against a single key, queued in a
// transaction until commit replays it against the B+-tree.
type Op struct {
	TxnID  uint64
	Kind   OpKind
	Key    []byte
	Record []byte
	Flags  btree.InsertFlags
}

// Txn is one open transaction: its id, lifecycle state, the ops it has
// queued (in program order), and how many cursors are currently bound
// to it.
type Txn struct {
	id      uint64
	state   State
	ops     []*Op
	cursors int
}

func (t *Txn) ID() uint64    { return t.id }
func (t *Txn) State() State  { return t.state }
func (t *Txn) Ops() []*Op    { return t.ops }
func (t *Txn) AttachCursor()   { t.cursors++ }
func (t *Txn) DetachCursor() {
	if t.cursors > 0 {
		t.cursors--
	}
}

// Manager owns every open and not-yet-flushed transaction, the
// process-wide list ordered oldest-first, and the per-key overlay used
// for conflict detection and read-your-own-writes lookups. The engine
// is single threaded (spec.md §5), so Manager needs no locking.
type Manager struct {
	nextID  uint64
	order   []*Txn // oldest first; Begin appends, flushed commits remove from the front
	byID    map[uint64]*Txn
	overlay map[string][]*Op // per-key op history in chronological order, across all txns

	maxActive int
	metrics   *metrics.Metrics
}

// New creates a Manager. maxActive <= 0 means unlimited.
func New(maxActive int) *Manager {
	return &Manager{byID: map[uint64]*Txn{}, overlay: map[string][]*Op{}, maxActive: maxActive}
}

func (m *Manager) SetMetrics(mx *metrics.Metrics) { m.metrics = mx }

// Begin starts a new transaction, linking it at the newest end of the
// process-wide list.
func (m *Manager) Begin() (*Txn, error) {
	if m.maxActive > 0 && len(m.order) >= m.maxActive {
		return nil, ErrLimitsReached
	}
	m.nextID++
	t := &Txn{id: m.nextID, state: StateActive}
	m.order = append(m.order, t)
	m.byID[t.id] = t
	return t, nil
}

// Lookup returns the checked conflict result: the op chain for key,
// newest-to-oldest, skipping aborted txns. Per spec.md §4.7 the walk
// stops at the first op belonging to a different still-active txn
// (conflict), or the first committed op (which settles the lookup).
// effective is nil when no live op governs key (fall through to the
// B+-tree).
func (m *Manager) Lookup(callerTxnID uint64, key []byte) (effective *Op, err error) {
	ops := m.overlay[string(key)]
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		owner, ok := m.byID[op.TxnID]
		if ok && owner.state == StateAborted {
			continue
		}
		if op.TxnID == callerTxnID {
			return op, nil
		}
		if ok && owner.state == StateActive {
			return nil, ErrConflict
		}
		// Committed (or flushed and forgotten, treated as committed):
		// this op settles the lookup.
		return op, nil
	}
	return nil, nil
}

// stage appends an op to both the owning txn and the global overlay,
// after checking for a conflict via Lookup.
func (m *Manager) stage(t *Txn, op *Op) error {
	if t.state != StateActive {
		return ErrAlreadyClosed
	}
	if _, err := m.Lookup(t.id, op.Key); err != nil {
		m.metrics.IncTxnConflict()
		return err
	}
	t.ops = append(t.ops, op)
	k := string(op.Key)
	m.overlay[k] = append(m.overlay[k], op)
	return nil
}

// StageInsert queues an insert/overwrite/duplicate-add op.
func (m *Manager) StageInsert(t *Txn, key, record []byte, flags btree.InsertFlags) error {
	return m.stage(t, &Op{TxnID: t.id, Kind: OpInsert, Key: key, Record: record, Flags: flags})
}

// StageErase queues an erase op.
func (m *Manager) StageErase(t *Txn, key []byte) error {
	return m.stage(t, &Op{TxnID: t.id, Kind: OpErase, Key: key})
}

// Abort discards every op the transaction queued without touching the
// B+-tree, detaches it from the overlay and the process-wide list.
// Ops never allocate a blob/extended-key/duplicate-table entry when
// staged — that only happens in flush, for the oldest-open
// transaction's ops, at commit time — so an aborted transaction never
// has an out-of-line allocation to reclaim (see DESIGN.md's resolution
// of the abort-reclaims-blobs open question).
func (m *Manager) Abort(t *Txn, log CommitLogger) error {
	if t.state != StateActive {
		return ErrAlreadyClosed
	}
	if log != nil {
		if _, err := log.LogAbort(t.id); err != nil {
			return err
		}
	}
	t.state = StateAborted
	m.metrics.IncTxnAbort()
	m.removeFromOverlay(t)
	m.unlink(t)
	return nil
}

func (m *Manager) removeFromOverlay(t *Txn) {
	for _, op := range t.ops {
		k := string(op.Key)
		ops := m.overlay[k]
		for i, o := range ops {
			if o == op {
				ops = append(ops[:i], ops[i+1:]...)
				break
			}
		}
		if len(ops) == 0 {
			delete(m.overlay, k)
		} else {
			m.overlay[k] = ops
		}
	}
	t.ops = nil
}

func (m *Manager) unlink(t *Txn) {
	for i, o := range m.order {
		if o == t {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	delete(m.byID, t.id)
}
