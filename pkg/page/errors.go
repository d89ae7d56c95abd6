package page

import "fmt"

func errBadSelfOffset(want, got uint64) error {
	return fmt.Errorf("page: self-offset mismatch at %d: header says %d", want, got)
}

func errBadCRC(offset uint64) error {
	return fmt.Errorf("page: crc mismatch at offset %d", offset)
}
