package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nainya/embedkv/pkg/device"
)

func newRecoveryLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "wal-recovery-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	base := filepath.Join(dir, "test.db")
	l, err := Open(base)
	if err != nil {
		t.Fatal(err)
	}
	return l, base
}

func TestRecoveryRedoesCommittedTransaction(t *testing.T) {
	l, base := newRecoveryLog(t)

	page := bytes.Repeat([]byte{0xAB}, 16)
	if _, err := l.LogBeforeImage(1, 0, make([]byte, 16)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LogAfterImage(1, 0, page); err != nil {
		t.Fatal(err)
	}
	lsn, err := l.LogCommit(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureDurable(lsn); err != nil {
		t.Fatal(err)
	}
	l.Close()

	dev := device.NewMemDevice()
	dev.Truncate(16)

	stats, err := NewRecovery(base).Recover(dev)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CommittedTxns != 1 {
		t.Errorf("expected 1 committed txn, got %d", stats.CommittedTxns)
	}
	if stats.ImagesReplayed != 1 {
		t.Errorf("expected 1 after-image replayed, got %d", stats.ImagesReplayed)
	}

	got := make([]byte, 16)
	if err := dev.ReadAt(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, page) {
		t.Errorf("page not redone: got %x want %x", got, page)
	}
}

func TestRecoverySkipsDanglingTransaction(t *testing.T) {
	l, base := newRecoveryLog(t)

	orig := bytes.Repeat([]byte{0x00}, 16)
	mutated := bytes.Repeat([]byte{0xFF}, 16)
	if _, err := l.LogBeforeImage(2, 0, orig); err != nil {
		t.Fatal(err)
	}
	lsn, err := l.LogAfterImage(2, 0, mutated)
	if err != nil {
		t.Fatal(err)
	}
	// No commit marker: simulates a crash mid-transaction.
	if err := l.EnsureDurable(lsn); err != nil {
		t.Fatal(err)
	}
	l.Close()

	dev := device.NewMemDevice()
	dev.Truncate(16)
	dev.WriteAt(0, orig)

	stats, err := NewRecovery(base).Recover(dev)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DanglingTxns != 1 {
		t.Errorf("expected 1 dangling txn, got %d", stats.DanglingTxns)
	}
	// The after-image is skipped (not redone) but the before-image is
	// replayed as an undo, so exactly one image is still replayed.
	if stats.ImagesReplayed != 1 {
		t.Errorf("expected the dangling transaction's before-image to be undone, got %d", stats.ImagesReplayed)
	}

	got := make([]byte, 16)
	dev.ReadAt(0, got)
	if !bytes.Equal(got, orig) {
		t.Errorf("page should be untouched: got %x", got)
	}
}

func TestRecoveryUndoesPartiallyFlushedDanglingTransaction(t *testing.T) {
	l, base := newRecoveryLog(t)

	orig := bytes.Repeat([]byte{0x00}, 16)
	mutated := bytes.Repeat([]byte{0xFF}, 16)
	if _, err := l.LogBeforeImage(3, 0, orig); err != nil {
		t.Fatal(err)
	}
	lsn, err := l.LogAfterImage(3, 0, mutated)
	if err != nil {
		t.Fatal(err)
	}
	// No commit marker, but the dirty page already reached the data
	// file before the crash (write-through or FlushAll can do
	// this regardless of whether the owning transaction has committed).
	if err := l.EnsureDurable(lsn); err != nil {
		t.Fatal(err)
	}
	l.Close()

	dev := device.NewMemDevice()
	dev.Truncate(16)
	dev.WriteAt(0, mutated)

	stats, err := NewRecovery(base).Recover(dev)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DanglingTxns != 1 {
		t.Errorf("expected 1 dangling txn, got %d", stats.DanglingTxns)
	}
	if stats.ImagesReplayed != 1 {
		t.Errorf("expected 1 before-image undone, got %d", stats.ImagesReplayed)
	}

	got := make([]byte, 16)
	dev.ReadAt(0, got)
	if !bytes.Equal(got, orig) {
		t.Errorf("dangling transaction's write should be rolled back: got %x want %x", got, orig)
	}
}

func TestRecoveryIgnoresEntriesBeforeCheckpoint(t *testing.T) {
	l, base := newRecoveryLog(t)

	stale := bytes.Repeat([]byte{0x11}, 16)
	if _, err := l.LogAfterImage(1, 0, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LogCommit(1); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LogCheckpoint(); err != nil {
		t.Fatal(err)
	}

	fresh := bytes.Repeat([]byte{0x22}, 16)
	if _, err := l.LogAfterImage(2, 16, fresh); err != nil {
		t.Fatal(err)
	}
	lsn, err := l.LogCommit(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureDurable(lsn); err != nil {
		t.Fatal(err)
	}
	l.Close()

	dev := device.NewMemDevice()
	dev.Truncate(32)

	stats, err := NewRecovery(base).Recover(dev)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ImagesReplayed != 1 {
		t.Errorf("expected only the post-checkpoint image replayed, got %d", stats.ImagesReplayed)
	}

	got := make([]byte, 16)
	dev.ReadAt(16, got)
	if !bytes.Equal(got, fresh) {
		t.Errorf("post-checkpoint page not redone: got %x", got)
	}
}

func TestRecoveryReplaysFileResize(t *testing.T) {
	l, base := newRecoveryLog(t)
	if _, err := l.LogFileResize(8192); err != nil {
		t.Fatal(err)
	}
	l.Close()

	dev := device.NewMemDevice()
	stats, err := NewRecovery(base).Recover(dev)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ResizesReplayed != 1 {
		t.Errorf("expected 1 resize replayed, got %d", stats.ResizesReplayed)
	}
	size, _ := dev.Filesize()
	if size != 8192 {
		t.Errorf("expected file size 8192, got %d", size)
	}
}

func TestRecoveryEmptyLog(t *testing.T) {
	_, base := newRecoveryLog(t)
	dev := device.NewMemDevice()
	stats, err := NewRecovery(base).Recover(dev)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 0 {
		t.Errorf("expected no entries, got %d", stats.TotalEntries)
	}
}
