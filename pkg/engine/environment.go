// ABOUTME: Environment ties device, cache, WAL, freelist and txn manager
// ABOUTME: together; Create/Open/Close and CreateDatabase/OpenDatabase live here

package engine

import (
	"fmt"

	"github.com/nainya/embedkv/internal/logger"
	"github.com/nainya/embedkv/internal/metrics"
	"github.com/nainya/embedkv/pkg/blob"
	"github.com/nainya/embedkv/pkg/cache"
	"github.com/nainya/embedkv/pkg/cursor"
	"github.com/nainya/embedkv/pkg/device"
	"github.com/nainya/embedkv/pkg/extkey"
	"github.com/nainya/embedkv/pkg/freelist"
	"github.com/nainya/embedkv/pkg/txn"
	"github.com/nainya/embedkv/pkg/wal"
)

const defaultPageSize = 4096

// noopWAL satisfies cache.WALFlusher for an InMemoryDB environment,
// which has nothing to recover and nothing to make durable.
type noopWAL struct{}

func (noopWAL) LogBeforeImage(uint64, uint64, []byte) (uint64, error) { return 0, nil }
func (noopWAL) LogAfterImage(uint64, uint64, []byte) (uint64, error)  { return 0, nil }
func (noopWAL) EnsureDurable(uint64) error                            { return nil }
func (noopWAL) LogCommit(uint64) (uint64, error)                      { return 0, nil }
func (noopWAL) LogAbort(uint64) (uint64, error)                       { return 0, nil }

// Environment is one open database file (or in-memory store): the
// device, header, freelist, cache, optional WAL and optional
// transaction manager spec.md §6 groups under HAM_ENV.
type Environment struct {
	path   string
	cfg    Config
	dev    device.Device
	fl     *freelist.Freelist
	grower *freelist.FileGrower
	cache  *cache.Cache
	wal    *wal.Log
	header *header
	ext    *extkey.Store
	blobs  *blob.Store

	txns *txn.Manager

	log     *logger.Logger
	metrics *metrics.Metrics

	dbs map[uint16]*Database
}

func (e *Environment) walBasePath() string {
	return e.path + ".wal"
}

// Create initializes a new environment file (or in-memory store when
// cfg.Flags has InMemoryDB set) and writes a fresh header.
func Create(path string, cfg Config) (*Environment, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxDatabases == 0 {
		cfg.MaxDatabases = 16
	}

	e := &Environment{path: path, cfg: cfg, log: cfg.Logger, metrics: cfg.Metrics, dbs: map[uint16]*Database{}}

	if cfg.Flags.has(InMemoryDB) {
		e.dev = device.NewMemDevice()
	} else {
		fd := device.NewFileDevice()
		e.dev = fd
	}
	if err := e.dev.Open(path, false); err != nil {
		return nil, fmt.Errorf("engine: create: open device: %w", err)
	}

	e.header = newHeader(cfg.PageSize, cfg.MaxDatabases)
	// Reserve page 0 for the header; the freelist and every data page
	// start at offset cfg.PageSize.
	if err := e.dev.Truncate(int64(cfg.PageSize)); err != nil {
		return nil, fmt.Errorf("engine: create: reserve header page: %w", err)
	}

	e.grower = freelist.NewFileGrower(e.dev, cfg.PageSize)
	e.fl = freelist.New(e.dev, e.grower, cfg.PageSize)
	e.ext = extkey.New(e.dev, e.fl)
	e.blobs = blob.New(e.dev, e.fl)

	if err := e.openWAL(cfg); err != nil {
		return nil, err
	}

	e.cache = cache.New(e.dev, e.fl, e.grower, e.walFlusher(), cfg.PageSize, cfg.CacheSize)
	e.cache.SetMetrics(cfg.Metrics)
	if cfg.Flags.has(WriteThrough) {
		e.cache.SetWriteThrough(true)
	}

	if cfg.Flags.has(EnableTransactions) {
		e.txns = txn.New(0)
		e.txns.SetMetrics(cfg.Metrics)
	}

	if err := e.header.writeTo(e.dev); err != nil {
		return nil, fmt.Errorf("engine: create: write header: %w", err)
	}
	e.logEnv().Info("environment created").Str("path", path).Send()
	return e, nil
}

// Open reopens an existing environment file, decoding its header,
// restoring the freelist chain, and replaying the WAL when
// EnableRecovery is set.
func Open(path string, cfg Config) (*Environment, error) {
	if cfg.Flags.has(InMemoryDB) {
		return nil, newError(CodeInvalidParameter, "Open does not support InMemoryDB; use Create", nil)
	}

	e := &Environment{path: path, cfg: cfg, log: cfg.Logger, metrics: cfg.Metrics, dbs: map[uint16]*Database{}}

	fd := device.NewFileDevice()
	if err := fd.Open(path, cfg.Flags.has(ReadOnly)); err != nil {
		return nil, fmt.Errorf("engine: open: open device: %w", err)
	}
	e.dev = fd

	h, err := decodeHeader(e.dev)
	if err != nil {
		return nil, err
	}
	e.header = h
	e.cfg.PageSize = h.pageSize
	e.cfg.MaxDatabases = h.maxDBs

	e.grower = freelist.NewFileGrower(e.dev, e.cfg.PageSize)
	e.fl = freelist.New(e.dev, e.grower, e.cfg.PageSize)
	e.fl.SetChain(h.freelistHead, h.freelistTail)
	e.ext = extkey.New(e.dev, e.fl)
	e.blobs = blob.New(e.dev, e.fl)

	if err := e.openWAL(cfg); err != nil {
		return nil, err
	}

	if cfg.Flags.has(EnableRecovery) && e.wal != nil {
		rec := wal.NewRecovery(e.walBasePath())
		stats, err := rec.Recover(e.dev)
		if err != nil {
			return nil, fmt.Errorf("engine: open: recovery: %w", err)
		}
		if e.log != nil && stats != nil {
			e.log.LogRecovery(stats.TotalEntries, stats.ImagesReplayed, 0)
		}
	}

	e.cache = cache.New(e.dev, e.fl, e.grower, e.walFlusher(), e.cfg.PageSize, cfg.CacheSize)
	e.cache.SetMetrics(cfg.Metrics)
	if cfg.Flags.has(WriteThrough) {
		e.cache.SetWriteThrough(true)
	}

	if cfg.Flags.has(EnableTransactions) {
		e.txns = txn.New(0)
		e.txns.SetMetrics(cfg.Metrics)
	}

	e.logEnv().Info("environment opened").Str("path", path).Send()
	return e, nil
}

func (e *Environment) openWAL(cfg Config) error {
	if cfg.Flags.has(InMemoryDB) {
		return nil
	}
	l, err := wal.Open(e.walBasePath())
	if err != nil {
		return fmt.Errorf("engine: open wal: %w", err)
	}
	l.SetMetrics(cfg.Metrics)
	e.wal = l
	return nil
}

func (e *Environment) walFlusher() cache.WALFlusher {
	if e.wal == nil {
		return noopWAL{}
	}
	return e.wal
}

// commitLogger returns the CommitLogger the transaction manager should
// mark commit/abort against; a no-op for InMemoryDB environments that
// never opened a WAL.
func (e *Environment) commitLogger() txn.CommitLogger {
	if e.wal == nil {
		return noopWAL{}
	}
	return e.wal
}

func (e *Environment) logEnv() *logger.Logger {
	if e.log == nil {
		return logger.GetGlobalLogger()
	}
	return e.log
}

// persistHeader writes the in-memory header back to device offset 0;
// called after every structural change to the database array and by
// headerRecno on every record-number allocation.
func (e *Environment) persistHeader() error {
	return e.header.writeTo(e.dev)
}

// CreateDatabase registers a new database in the header array and
// returns a ready-to-use Database backed by a fresh B+-tree root.
func (e *Environment) CreateDatabase(dbcfg DatabaseConfig) (*Database, error) {
	if existing, _ := e.header.findByName(dbcfg.Name); existing != nil {
		return nil, newError(CodeDatabaseAlreadyOpen, fmt.Sprintf("database %q already exists", dbcfg.Name), nil)
	}
	slot, err := e.header.allocSlot()
	if err != nil {
		return nil, err
	}

	id := uint16(slot + 1)
	entry := &e.header.dbs[slot]
	*entry = dbEntry{id: id, flags: dbcfg.Flags, keySize: uint16(dbcfg.KeySize), name: dbcfg.Name}

	db, err := e.newDatabaseFromEntry(entry, dbcfg.SplitRatio, dbcfg.MergeRatio, true)
	if err != nil {
		return nil, err
	}
	entry.rootOffset = db.tree.RootOffset()

	if err := e.persistHeader(); err != nil {
		return nil, err
	}
	e.dbs[id] = db
	return db, nil
}

// OpenDatabase looks up an existing database by name and attaches a
// B+-tree to its already-allocated root page.
func (e *Environment) OpenDatabase(name string) (*Database, error) {
	entry, _ := e.header.findByName(name)
	if entry == nil {
		return nil, newError(CodeDatabaseNotFound, fmt.Sprintf("database %q not found", name), nil)
	}
	if db, ok := e.dbs[entry.id]; ok {
		return db, nil
	}
	db, err := e.newDatabaseFromEntry(entry, 0, 0, false)
	if err != nil {
		return nil, err
	}
	e.dbs[entry.id] = db
	return db, nil
}

// Begin starts a new transaction. The environment must have been
// created/opened with EnableTransactions.
func (e *Environment) Begin() (*txn.Txn, error) {
	if e.txns == nil {
		return nil, newError(CodeInvalidParameter, "transactions not enabled on this environment", nil)
	}
	return e.txns.Begin()
}

// Commit commits t, replaying its ops into db's tree once t becomes
// the oldest open transaction.
func (e *Environment) Commit(t *txn.Txn, db *Database) error {
	if e.txns == nil {
		return newError(CodeInvalidParameter, "transactions not enabled on this environment", nil)
	}
	return e.txns.Commit(t, db.tree, e.commitLogger(), e.logEnv())
}

// Abort discards t's staged ops without ever having touched the
// B+-tree; ops are only applied to the tree at commit-flush time, so
// an aborted transaction never allocates a blob to leak.
func (e *Environment) Abort(t *txn.Txn) error {
	if e.txns == nil {
		return newError(CodeInvalidParameter, "transactions not enabled on this environment", nil)
	}
	return e.txns.Abort(t, e.commitLogger())
}

// OpenCursor returns a fresh cursor over db, optionally bound to an
// open transaction so its reads observe the transaction's overlay.
func (e *Environment) OpenCursor(db *Database, t *txn.Txn) *cursor.Cursor {
	c := cursor.New(db.tree)
	c.SetMetrics(e.metrics)
	if t != nil && e.txns != nil {
		c.BindTxn(e.txns, t)
	}
	return c
}

// Close flushes every open database's dirty pages, persists the
// header, and closes the WAL and device.
func (e *Environment) Close() error {
	if err := e.cache.FlushAll(0); err != nil {
		return fmt.Errorf("engine: close: flush: %w", err)
	}
	e.header.freelistHead, e.header.freelistTail = e.fl.Chain()
	if err := e.persistHeader(); err != nil {
		return fmt.Errorf("engine: close: persist header: %w", err)
	}
	if e.wal != nil {
		if err := e.wal.Close(); err != nil {
			return fmt.Errorf("engine: close: wal: %w", err)
		}
	}
	if err := e.dev.Flush(); err != nil {
		return fmt.Errorf("engine: close: flush device: %w", err)
	}
	e.logEnv().Info("environment closed").Str("path", e.path).Send()
	return nil
}
