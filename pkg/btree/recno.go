package btree

import "encoding/binary"

// InsertRecno inserts record under the next auto-assigned key for a
// database opened with RECORD_NUMBER: an 8-byte big-endian counter,
// always appended (spec.md §4.11). OVERWRITE and Duplicate flags are
// meaningless for a freshly minted key and are ignored.
func (t *Tree) InsertRecno(txnID uint64, record []byte) (uint64, error) {
	if t.recno == nil {
		return 0, ErrInvalidRecordNumberKey
	}
	n, err := t.recno.Next()
	if err != nil {
		return 0, err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	if err := t.Insert(txnID, key, record, InsertFlags{HintAppend: true}); err != nil {
		return 0, err
	}
	return n, nil
}

// DecodeRecno interprets key as a record-number database's big-endian
// counter key, rejecting any key of the wrong width.
func DecodeRecno(key []byte) (uint64, error) {
	if len(key) != 8 {
		return 0, ErrInvalidRecordNumberKey
	}
	return binary.BigEndian.Uint64(key), nil
}

// EncodeRecno is DecodeRecno's inverse, used by callers that need to
// look up or erase a specific record number directly.
func EncodeRecno(n uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	return key
}
