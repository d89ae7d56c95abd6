package wal

import (
	"io"
	"os"
)

// readEntriesFrom reads every whole, valid entry starting at the
// reader's current position. A crash can leave a torn entry at the
// tail of a ring file; that is treated as end of log, not an error,
// since everything durable was fsync'd before the torn write began.
func readEntriesFrom(r io.ReadSeeker) ([]*Entry, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var entries []*Entry
	header := make([]byte, EntryHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			break // EOF or short read: end of valid log
		}
		dataLen := headerDataLen(header)
		rest := make([]byte, int(dataLen)+4)
		if _, err := io.ReadFull(r, rest); err != nil {
			break
		}
		buf := append(append([]byte{}, header...), rest...)
		e, err := DecodeEntry(buf)
		if err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func headerDataLen(header []byte) uint32 {
	return uint32(header[28]) | uint32(header[29])<<8 | uint32(header[30])<<16 | uint32(header[31])<<24
}

// readRingFiles reads every entry out of both ring files at path
// basePath, in no particular order; Recovery sorts by LSN itself.
func readRingFiles(basePath string) ([]*Entry, error) {
	var all []*Entry
	for i := 0; i < 2; i++ {
		fd, err := os.Open(ringPath(basePath, i))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		entries, err := readEntriesFrom(fd)
		fd.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}
