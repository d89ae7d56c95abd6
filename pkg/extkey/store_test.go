package extkey

import (
	"bytes"
	"testing"

	"github.com/nainya/embedkv/pkg/device"
	"github.com/nainya/embedkv/pkg/freelist"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dev := device.NewMemDevice()
	if err := dev.Open("", false); err != nil {
		t.Fatalf("open: %v", err)
	}
	grower := freelist.NewFileGrower(dev, 256)
	fl := freelist.New(dev, grower, 256)
	return New(dev, fl)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	key := bytes.Repeat([]byte("x"), 200)
	off, err := s.Put(key)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(off)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("got %d bytes, want %d", len(got), len(key))
	}
}

func TestFreeReleasesSpaceForReuse(t *testing.T) {
	s := newTestStore(t)
	off1, err := s.Put(bytes.Repeat([]byte("a"), 64))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Free(off1); err != nil {
		t.Fatalf("free: %v", err)
	}
	off2, err := s.Put(bytes.Repeat([]byte("b"), 64))
	if err != nil {
		t.Fatal(err)
	}
	if off2 != off1 {
		t.Fatalf("expected freed space reused at %d, got new offset %d", off1, off2)
	}
}

func TestGetUsesCacheAfterPut(t *testing.T) {
	s := newTestStore(t)
	key := []byte("short extended key")
	off, err := s.Put(key)
	if err != nil {
		t.Fatal(err)
	}
	s.dev = nil // Get must hit the cache, never touch a nil device
	got, err := s.Get(off)
	if err != nil || !bytes.Equal(got, key) {
		t.Fatalf("cached get failed: %v %q", err, got)
	}
}
