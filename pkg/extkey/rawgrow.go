package extkey

import "github.com/nainya/embedkv/pkg/device"

// rawGrower extends the backing file by an arbitrary byte count,
// unlike freelist.FileGrower which only ever appends whole pages. Used
// when the freelist has no run large enough for a blob (spec.md §4.3's
// "chicken-and-egg" case, mirrored here for unaligned allocations).
type rawGrower struct {
	dev device.Device
}

func newRawGrower(dev device.Device) *rawGrower { return &rawGrower{dev: dev} }

// grow appends n zeroed bytes and returns their starting offset.
func (g *rawGrower) grow(n int) (uint64, error) {
	size, err := g.dev.Filesize()
	if err != nil {
		return 0, err
	}
	offset := uint64(size)
	if err := g.dev.Truncate(size + int64(n)); err != nil {
		return 0, err
	}
	return offset, nil
}
