package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEntryEncodeDecode(t *testing.T) {
	e := &Entry{LSN: 42, TxnID: 7, Type: EntryAfterImage, PageOffset: 4096, Data: []byte("page-bytes")}

	decoded, err := DecodeEntry(e.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.LSN != e.LSN || decoded.TxnID != e.TxnID || decoded.Type != e.Type || decoded.PageOffset != e.PageOffset {
		t.Fatalf("header mismatch: got %+v, want %+v", decoded, e)
	}
	if !bytes.Equal(decoded.Data, e.Data) {
		t.Errorf("data mismatch: got %q, want %q", decoded.Data, e.Data)
	}
}

func TestEntryEncodeDecodeNoData(t *testing.T) {
	e := &Entry{LSN: 1, TxnID: 3, Type: EntryCommit}
	decoded, err := DecodeEntry(e.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.Data) != 0 {
		t.Errorf("expected no data, got %d bytes", len(decoded.Data))
	}
}

func TestEntryDecodeCorrupted(t *testing.T) {
	e := &Entry{LSN: 1, Type: EntryCommit}
	data := e.Encode()
	data[0] ^= 0xFF
	if _, err := DecodeEntry(data); err != ErrCorrupted {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "wal-test-*")
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

func TestLogAppendAndLSNMonotonic(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()

	var prev uint64
	for i := 0; i < 50; i++ {
		lsn, err := l.LogAfterImage(1, uint64(i*4096), make([]byte, 16))
		if err != nil {
			t.Fatal(err)
		}
		if lsn <= prev {
			t.Fatalf("LSN not monotonic: prev=%d got=%d", prev, lsn)
		}
		prev = lsn
	}
}

func TestLogReopenPreservesLSN(t *testing.T) {
	l, base := openTestLog(t)
	lsn, err := l.LogCommit(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	l2, err := Open(base)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()

	next := l2.NextLSN()
	if next != lsn+1 {
		t.Errorf("expected next LSN %d after reopen, got %d", lsn+1, next)
	}
}

func TestLogRotation(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()
	l.maxFileSize = 1024 // force rotation quickly

	startActive := l.active
	for i := 0; i < 100; i++ {
		if _, err := l.LogAfterImage(1, uint64(i), make([]byte, 64)); err != nil {
			t.Fatal(err)
		}
	}
	if l.active == startActive {
		t.Error("expected at least one rotation to have occurred")
	}
}

func TestEnsureDurableIsIdempotentBelowWatermark(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()

	lsn, err := l.LogCommit(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureDurable(lsn); err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureDurable(lsn); err != nil {
		t.Fatal(err)
	}
}
