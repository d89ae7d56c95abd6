package txn

import (
	"testing"

	"github.com/nainya/embedkv/pkg/btree"
)

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	m := New(0)
	a, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if b.ID() <= a.ID() {
		t.Fatalf("expected increasing ids, got %d then %d", a.ID(), b.ID())
	}
}

func TestBeginFailsAtLimit(t *testing.T) {
	m := New(1)
	if _, err := m.Begin(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Begin(); err != ErrLimitsReached {
		t.Fatalf("got %v, want ErrLimitsReached", err)
	}
}

func TestConflictOnConcurrentUncommittedWrite(t *testing.T) {
	m := New(0)
	a, _ := m.Begin()
	b, _ := m.Begin()

	if err := m.StageInsert(a, []byte("k"), []byte("v1"), btree.InsertFlags{}); err != nil {
		t.Fatalf("a insert: %v", err)
	}
	if err := m.StageInsert(b, []byte("k"), []byte("v2"), btree.InsertFlags{}); err != ErrConflict {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestOwnTxnCanRestageSameKey(t *testing.T) {
	m := New(0)
	a, _ := m.Begin()
	if err := m.StageInsert(a, []byte("k"), []byte("v1"), btree.InsertFlags{}); err != nil {
		t.Fatal(err)
	}
	if err := m.StageInsert(a, []byte("k"), []byte("v2"), btree.InsertFlags{Overwrite: true}); err != nil {
		t.Fatalf("own txn restage: %v", err)
	}
}

func TestAbortClearsConflictForLaterTxn(t *testing.T) {
	m := New(0)
	a, _ := m.Begin()
	b, _ := m.Begin()

	if err := m.StageInsert(a, []byte("k"), []byte("v1"), btree.InsertFlags{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Abort(a, nil); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if err := m.StageInsert(b, []byte("k"), []byte("v2"), btree.InsertFlags{}); err != nil {
		t.Fatalf("after abort, should not conflict: %v", err)
	}
}

func TestCommitBlockedByOpenCursor(t *testing.T) {
	m := New(0)
	a, _ := m.Begin()
	a.AttachCursor()
	if err := m.Commit(a, nil, nil, nil); err != ErrCursorStillOpen {
		t.Fatalf("got %v, want ErrCursorStillOpen", err)
	}
}

func TestCommitFlushesContiguousOldestTransactions(t *testing.T) {
	cache := newFakeCache(t)
	tree := btree.New(btree.Config{KeySize: 16, PageSize: 256}, cache.cache, cache.ext, cache.blob, 0)
	if _, err := tree.CreateRoot(0); err != nil {
		t.Fatalf("create root: %v", err)
	}

	m := New(0)
	a, _ := m.Begin()
	b, _ := m.Begin()

	if err := m.StageInsert(a, []byte("a"), []byte("1"), btree.InsertFlags{}); err != nil {
		t.Fatal(err)
	}
	if err := m.StageInsert(b, []byte("b"), []byte("2"), btree.InsertFlags{}); err != nil {
		t.Fatal(err)
	}

	// Commit the newer txn first: nothing flushes yet since a (older) is
	// still active, so b's ops wait behind it in program order.
	if err := m.Commit(b, tree, nil, nil); err != nil {
		t.Fatalf("commit b: %v", err)
	}
	if _, err := tree.Find([]byte("b"), btree.MatchExact); err == nil {
		t.Fatalf("b's op should not have flushed while a is still open")
	}

	if err := m.Commit(a, tree, nil, nil); err != nil {
		t.Fatalf("commit a: %v", err)
	}
	if res, err := tree.Find([]byte("a"), btree.MatchExact); err != nil || string(res.Record.Bytes) != "1" {
		t.Fatalf("a not flushed: %v %q", err, res.Record.Bytes)
	}
	if res, err := tree.Find([]byte("b"), btree.MatchExact); err != nil || string(res.Record.Bytes) != "2" {
		t.Fatalf("b not flushed after a committed: %v %q", err, res.Record.Bytes)
	}
	if len(m.order) != 0 {
		t.Fatalf("expected both transactions flushed off the list, %d remain", len(m.order))
	}
}
