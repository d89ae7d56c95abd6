package wal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/nainya/embedkv/internal/metrics"
)

// DefaultMaxFileSize bounds a single ring file before rotation.
const DefaultMaxFileSize = 64 << 20

// Log is the write-ahead log: two files, suffixed ".0" and ".1" beside
// the database file, ring-rotated so that only one is ever actively
// appended to. A checkpoint is what makes it safe to reclaim the
// inactive file (spec.md §6).
type Log struct {
	basePath    string
	maxFileSize int64

	mu      sync.Mutex
	files   [2]*os.File
	sizes   [2]int64
	active  int
	lsn     uint64
	durable uint64 // highest LSN known fsync'd to the active file
	closed  bool

	metrics *metrics.Metrics
}

// SetMetrics attaches a (possibly nil) metrics sink; every Inc/Add call
// below is nil-receiver safe so this is optional.
func (l *Log) SetMetrics(m *metrics.Metrics) { l.metrics = m }

func ringPath(basePath string, i int) string {
	return fmt.Sprintf("%s.%d", basePath, i)
}

// Open opens or creates both ring files and positions the log at the
// highest LSN found across them, picking whichever file holds it as
// the active one.
func Open(basePath string) (*Log, error) {
	l := &Log{basePath: basePath, maxFileSize: DefaultMaxFileSize}

	var maxLSN [2]uint64
	for i := 0; i < 2; i++ {
		fd, err := os.OpenFile(ringPath(basePath, i), os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("wal: open ring file %d: %w", i, err)
		}
		l.files[i] = fd
		st, err := fd.Stat()
		if err != nil {
			return nil, fmt.Errorf("wal: stat ring file %d: %w", i, err)
		}
		l.sizes[i] = st.Size()
		maxLSN[i] = scanMaxLSN(fd)
	}

	if maxLSN[1] > maxLSN[0] {
		l.active = 1
	}
	top := maxLSN[l.active]
	if other := maxLSN[1-l.active]; other > top {
		top = other
	}
	l.lsn = top
	l.durable = top
	return l, nil
}

func scanMaxLSN(fd *os.File) uint64 {
	entries, _ := readEntriesFrom(fd)
	var max uint64
	for _, e := range entries {
		if e.LSN > max {
			max = e.LSN
		}
	}
	return max
}

// NextLSN reserves and returns the next log sequence number.
func (l *Log) NextLSN() uint64 { return atomic.AddUint64(&l.lsn, 1) }

// Append writes an entry to the active ring file, rotating first if
// the active file has grown past maxFileSize.
func (l *Log) Append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}

	data := e.Encode()
	if l.sizes[l.active]+int64(len(data)) > l.maxFileSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	fd := l.files[l.active]
	if _, err := fd.Seek(l.sizes[l.active], io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek active file: %w", err)
	}
	n, err := fd.Write(data)
	if err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	l.sizes[l.active] += int64(n)
	l.metrics.IncWALWrite()
	return nil
}

// LogBeforeImage/LogAfterImage/LogCommit/LogAbort/LogFileResize are
// the entry constructors; the cache logs page images and the
// transaction manager logs commit/abort markers. Each assigns and
// returns the LSN it was appended under.
func (l *Log) LogBeforeImage(txnID, pageOffset uint64, image []byte) (uint64, error) {
	return l.log(&Entry{TxnID: txnID, Type: EntryBeforeImage, PageOffset: pageOffset, Data: image})
}

func (l *Log) LogAfterImage(txnID, pageOffset uint64, image []byte) (uint64, error) {
	return l.log(&Entry{TxnID: txnID, Type: EntryAfterImage, PageOffset: pageOffset, Data: image})
}

func (l *Log) LogCommit(txnID uint64) (uint64, error) {
	return l.log(&Entry{TxnID: txnID, Type: EntryCommit})
}

func (l *Log) LogAbort(txnID uint64) (uint64, error) {
	return l.log(&Entry{TxnID: txnID, Type: EntryAbort})
}

func (l *Log) LogFileResize(newSize int64) (uint64, error) {
	e := NewFileResize(0, newSize)
	return l.log(e)
}

func (l *Log) LogCheckpoint() (uint64, error) {
	return l.log(&Entry{Type: EntryCheckpoint})
}

func (l *Log) log(e *Entry) (uint64, error) {
	e.LSN = l.NextLSN()
	if err := l.Append(e); err != nil {
		return 0, err
	}
	return e.LSN, nil
}

// EnsureDurable fsyncs the active file if lsn has not yet been made
// durable. The cache calls this before writing any dirty page back to
// the data file whose ModLSN is lsn (spec.md §4.1's write-ahead rule).
func (l *Log) EnsureDurable(lsn uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lsn <= l.durable {
		return nil
	}
	if err := l.files[l.active].Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	l.durable = atomic.LoadUint64(&l.lsn)
	l.metrics.IncWALFsync()
	return nil
}

// rotateLocked switches the active ring file to the other slot,
// truncating it first. Callers must hold mu.
func (l *Log) rotateLocked() error {
	next := 1 - l.active
	fd := l.files[next]
	if err := fd.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate ring file on rotate: %w", err)
	}
	if _, err := fd.Seek(0, io.SeekStart); err != nil {
		return err
	}
	l.sizes[next] = 0
	l.active = next
	l.metrics.IncWALRotation()
	return nil
}

// Close fsyncs and closes both ring files.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var firstErr error
	for _, fd := range l.files {
		if err := fd.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := fd.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ringFiles returns both ring file paths, active file first.
func (l *Log) ringFiles() [2]string {
	return [2]string{ringPath(l.basePath, l.active), ringPath(l.basePath, 1-l.active)}
}
