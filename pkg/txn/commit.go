package txn

import (
	"fmt"

	"github.com/nainya/embedkv/internal/logger"
	"github.com/nainya/embedkv/pkg/btree"
)

// CommitLogger is the slice of pkg/wal.Log the manager needs: a commit
// marker and abort marker per transaction (spec.md §4.6/§4.7).
type CommitLogger interface {
	LogCommit(txnID uint64) (uint64, error)
	LogAbort(txnID uint64) (uint64, error)
}

// Commit marks t committed and, once it is the oldest open
// transaction, replays its ops (and those of any now-contiguous
// committed transactions behind it) against tree in program order,
// freeing each op as it is applied (spec.md §4.7).
func (m *Manager) Commit(t *Txn, tree *btree.Tree, log CommitLogger, lg *logger.Logger) error {
	if t.state != StateActive {
		return ErrAlreadyClosed
	}
	if t.cursors > 0 {
		return ErrCursorStillOpen
	}
	if log != nil {
		if _, err := log.LogCommit(t.id); err != nil {
			return fmt.Errorf("txn: log commit: %w", err)
		}
	}
	t.state = StateCommitted
	m.metrics.IncTxnCommit()

	for len(m.order) > 0 && m.order[0].state == StateCommitted {
		head := m.order[0]
		if err := m.flush(head, tree); err != nil {
			return fmt.Errorf("txn: flush %d: %w", head.id, err)
		}
		m.removeFromOverlay(head)
		m.unlink(head)
		if lg != nil {
			lg.TxnLogger(head.id).Debug("transaction flushed").Send()
		}
	}
	return nil
}

// flush replays one committed transaction's ops against tree, in the
// order they were staged.
func (m *Manager) flush(t *Txn, tree *btree.Tree) error {
	for _, op := range t.ops {
		switch op.Kind {
		case OpInsert:
			if err := tree.Insert(t.id, op.Key, op.Record, op.Flags); err != nil {
				return err
			}
		case OpErase:
			if err := tree.Erase(t.id, op.Key); err != nil && err != btree.ErrKeyNotFound {
				return err
			}
		}
	}
	return nil
}
