package cursor

import (
	"path/filepath"
	"testing"

	"github.com/nainya/embedkv/pkg/blob"
	"github.com/nainya/embedkv/pkg/btree"
	"github.com/nainya/embedkv/pkg/cache"
	"github.com/nainya/embedkv/pkg/device"
	"github.com/nainya/embedkv/pkg/extkey"
	"github.com/nainya/embedkv/pkg/freelist"
	"github.com/nainya/embedkv/pkg/wal"
)

const testPageSize = 256

// newTestTree wires a real device/freelist/cache/extkey/blob stack (the
// same components pkg/engine will assemble) so cursor tests exercise
// duplicate records, which the bare-map harnesses in pkg/btree and
// pkg/txn's own tests don't support.
func newTestTree(t *testing.T) *btree.Tree {
	t.Helper()
	dev := device.NewMemDevice()
	if err := dev.Open("", false); err != nil {
		t.Fatalf("open device: %v", err)
	}
	grower := freelist.NewFileGrower(dev, testPageSize)
	fl := freelist.New(dev, grower, testPageSize)

	log, err := wal.Open(filepath.Join(t.TempDir(), "test.wal"))
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	c := cache.New(dev, fl, grower, log, testPageSize, 0)
	ext := extkey.New(dev, fl)
	blobs := blob.New(dev, fl)

	tree := btree.New(btree.Config{KeySize: 16, PageSize: testPageSize}, c, ext, blobs, 0)
	if _, err := tree.CreateRoot(0); err != nil {
		t.Fatalf("create root: %v", err)
	}
	return tree
}
