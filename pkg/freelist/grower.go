package freelist

import "github.com/nainya/embedkv/pkg/device"

// FileGrower is the single authority for extending the backing file by
// whole pages. Both the Freelist (when it needs a fresh freelist page,
// the "chicken-and-egg" case of spec.md §4.3) and the page cache (when
// the freelist has nothing to offer) grow the file through the same
// instance, so page offsets never collide. The engine is single
// threaded per spec.md §5, so no locking is needed here.
type FileGrower struct {
	dev      device.Device
	pageSize uint32
}

func NewFileGrower(dev device.Device, pageSize uint32) *FileGrower {
	return &FileGrower{dev: dev, pageSize: pageSize}
}

// Grow appends one zeroed page to the file and returns its offset.
func (g *FileGrower) Grow() (uint64, error) {
	size, err := g.dev.Filesize()
	if err != nil {
		return 0, err
	}
	offset := uint64(size)
	if err := g.dev.Truncate(size + int64(g.pageSize)); err != nil {
		return 0, err
	}
	return offset, nil
}
