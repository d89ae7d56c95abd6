// ABOUTME: Block-level file I/O for the storage engine's backing file
// ABOUTME: pread/pwrite/truncate/flush plus an optional mmap fast path

package device

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Device is the file abstraction the core requires: read/write N bytes
// at an offset, truncate, flush, and report file size. mmap is an
// optimization on top of the same file; callers must be able to fall
// back to Read/Write when it is unavailable.
type Device interface {
	Open(path string, readOnly bool) error
	Close() error
	Filesize() (int64, error)
	Truncate(size int64) error
	ReadAt(offset int64, buf []byte) error
	WriteAt(offset int64, buf []byte) error
	Flush() error
	// Mmap returns a read-only view of [offset, offset+length). Returns
	// an error if mmap isn't supported or alignment forbids it; callers
	// must fall back to ReadAt.
	Mmap(offset int64, length int) ([]byte, error)
	Munmap(region []byte) error
}

// FileDevice is the default Device backed by a regular OS file.
type FileDevice struct {
	fd       *os.File
	readOnly bool
	regions  [][]byte
}

func NewFileDevice() *FileDevice {
	return &FileDevice{}
}

func (d *FileDevice) Open(path string, readOnly bool) error {
	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	fd, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("device: open %s: %w", path, err)
	}
	d.fd = fd
	d.readOnly = readOnly
	return nil
}

func (d *FileDevice) Close() error {
	for _, r := range d.regions {
		_ = unix.Munmap(r)
	}
	d.regions = nil
	if d.fd == nil {
		return nil
	}
	return d.fd.Close()
}

func (d *FileDevice) Filesize() (int64, error) {
	st, err := d.fd.Stat()
	if err != nil {
		return 0, fmt.Errorf("device: stat: %w", err)
	}
	return st.Size(), nil
}

func (d *FileDevice) Truncate(size int64) error {
	if d.readOnly {
		return fmt.Errorf("device: truncate on read-only device")
	}
	if err := d.fd.Truncate(size); err != nil {
		return fmt.Errorf("device: truncate: %w", err)
	}
	return nil
}

func (d *FileDevice) ReadAt(offset int64, buf []byte) error {
	n, err := d.fd.ReadAt(buf, offset)
	if err != nil && n < len(buf) {
		return fmt.Errorf("device: read at %d: %w", offset, err)
	}
	return nil
}

func (d *FileDevice) WriteAt(offset int64, buf []byte) error {
	if d.readOnly {
		return fmt.Errorf("device: write on read-only device")
	}
	if _, err := d.fd.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("device: write at %d: %w", offset, err)
	}
	return nil
}

func (d *FileDevice) Flush() error {
	if d.readOnly {
		return nil
	}
	if err := d.fd.Sync(); err != nil {
		return fmt.Errorf("device: fsync: %w", err)
	}
	return nil
}

// Mmap maps [offset, offset+length) read-only. Offset must be a
// multiple of the OS page size. No package in this module calls it;
// the cache reads and writes pages through ReadAt/WriteAt.
func (d *FileDevice) Mmap(offset int64, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("device: mmap length must be positive")
	}
	region, err := unix.Mmap(int(d.fd.Fd()), offset, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("device: mmap: %w", err)
	}
	d.regions = append(d.regions, region)
	return region, nil
}

func (d *FileDevice) Munmap(region []byte) error {
	for i, r := range d.regions {
		if &r[0] == &region[0] {
			d.regions = append(d.regions[:i], d.regions[i+1:]...)
			break
		}
	}
	return unix.Munmap(region)
}

// MemDevice is an in-memory Device for HAM_IN_MEMORY_DB and tests. It
// never supports mmap, so callers always take the ReadAt/WriteAt path.
type MemDevice struct {
	buf []byte
}

func NewMemDevice() *MemDevice { return &MemDevice{} }

func (d *MemDevice) Open(string, bool) error { return nil }
func (d *MemDevice) Close() error            { return nil }

func (d *MemDevice) Filesize() (int64, error) { return int64(len(d.buf)), nil }

func (d *MemDevice) Truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("device: negative truncate size")
	}
	if int64(len(d.buf)) == size {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, d.buf)
	d.buf = grown
	return nil
}

func (d *MemDevice) ReadAt(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > int64(len(d.buf)) {
		return fmt.Errorf("device: read out of range at %d", offset)
	}
	copy(buf, d.buf[offset:offset+int64(len(buf))])
	return nil
}

func (d *MemDevice) WriteAt(offset int64, buf []byte) error {
	need := offset + int64(len(buf))
	if need > int64(len(d.buf)) {
		if err := d.Truncate(need); err != nil {
			return err
		}
	}
	copy(d.buf[offset:need], buf)
	return nil
}

func (d *MemDevice) Flush() error { return nil }

func (d *MemDevice) Mmap(int64, int) ([]byte, error) {
	return nil, fmt.Errorf("device: mmap not supported on MemDevice")
}

func (d *MemDevice) Munmap([]byte) error { return nil }
