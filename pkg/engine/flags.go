package engine

// Flags is the bitset spec.md §6 passes to environment/database open and
// create calls. The same type serves both levels, as in the teacher's
// preference for typed config structs over stringly-typed options
// (SPEC_FULL.md §4.12); which bits apply at which level is documented
// per flag below.
type Flags uint32

const (
	// InMemoryDB backs the environment with a MemDevice instead of a
	// file; WAL and recovery are meaningless and disabled. Environment-level.
	InMemoryDB Flags = 1 << iota
	// ReadOnly opens the backing device read-only and rejects any
	// mutating call. Environment-level.
	ReadOnly
	// WriteThrough flushes a page to the device as soon as it's marked
	// dirty instead of batching until FlushAll. Environment-level: only
	// Config.Flags is read; the bit in a DatabaseConfig has no effect.
	WriteThrough
	// DisableMmap is not read anywhere: the cache always uses
	// ReadAt/WriteAt and never maps the file. Environment-level.
	DisableMmap
	// CacheStrict is not read anywhere. The cache never evicts a pinned
	// or dirty page, and AllocPage/Fetch fail once the budget is reached
	// with no other page to evict, with or without this flag.
	// Environment-level.
	CacheStrict
	// CacheUnlimited is not read anywhere; a Config.CacheSize of 0 is
	// what removes the cache's page budget. Environment-level.
	CacheUnlimited
	// EnableTransactions turns on pkg/txn's overlay and conflict
	// detection; without it every op commits immediately against the
	// tree. Environment-level.
	EnableTransactions
	// EnableRecovery replays the WAL against the data file on Open
	// before anything else touches it. Environment-level.
	EnableRecovery
	// EnableDuplicates is not checked by any insert path: an insert with
	// InsertFlags.Duplicate adds a duplicate whether or not this bit is
	// set, and an existing key inserted with neither Duplicate nor
	// Overwrite fails with ErrDuplicateKey either way. Database-level.
	EnableDuplicates
	// RecordNumber makes the database auto-assign 8-byte big-endian
	// keys via InsertRecno instead of taking caller-supplied keys.
	// Database-level.
	RecordNumber
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }
