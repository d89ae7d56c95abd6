// Package metrics provides Prometheus instrumentation for the storage engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine updates. Each
// instance owns its own registry so tests can construct more than one
// Metrics without tripping promauto's duplicate-registration panic;
// Gatherer exposes it for an embedder that wants to serve /metrics.
type Metrics struct {
	reg *prometheus.Registry

	// Cache
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CachePagesResident prometheus.Gauge

	// Page / freelist
	PageAllocsTotal prometheus.Counter
	PageFreesTotal  prometheus.Counter

	// WAL
	WALWritesTotal     prometheus.Counter
	WALFsyncsTotal     prometheus.Counter
	WALRotationsTotal  prometheus.Counter
	WALRecoveryReplayed prometheus.Counter

	// B+-tree
	BtreeSplitsTotal prometheus.Counter
	BtreeMergesTotal prometheus.Counter
	BtreeShiftsTotal prometheus.Counter

	// Transactions
	TxnCommitsTotal   prometheus.Counter
	TxnAbortsTotal    prometheus.Counter
	TxnConflictsTotal prometheus.Counter

	// Cursor
	CursorCouplingsTotal   prometheus.Counter
	CursorUncouplingsTotal prometheus.Counter

	// Operation latency, by kind ("insert", "find", "erase")
	OpDuration *prometheus.HistogramVec

	startTime time.Time
}

// New creates and registers a fresh set of collectors against a
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg:       reg,
		startTime: time.Now(),

		CacheHitsTotal:      f.NewCounter(prometheus.CounterOpts{Name: "embedkv_cache_hits_total", Help: "Page cache fetches served from resident pages"}),
		CacheMissesTotal:    f.NewCounter(prometheus.CounterOpts{Name: "embedkv_cache_misses_total", Help: "Page cache fetches that read through to the device"}),
		CacheEvictionsTotal: f.NewCounter(prometheus.CounterOpts{Name: "embedkv_cache_evictions_total", Help: "Pages evicted to make room"}),
		CachePagesResident:  f.NewGauge(prometheus.GaugeOpts{Name: "embedkv_cache_pages_resident", Help: "Pages currently resident in the cache"}),

		PageAllocsTotal: f.NewCounter(prometheus.CounterOpts{Name: "embedkv_page_allocs_total", Help: "Pages obtained from the freelist or by growing the file"}),
		PageFreesTotal:  f.NewCounter(prometheus.CounterOpts{Name: "embedkv_page_frees_total", Help: "Pages returned to the freelist"}),

		WALWritesTotal:      f.NewCounter(prometheus.CounterOpts{Name: "embedkv_wal_writes_total", Help: "WAL entries appended"}),
		WALFsyncsTotal:      f.NewCounter(prometheus.CounterOpts{Name: "embedkv_wal_fsyncs_total", Help: "WAL fsync calls"}),
		WALRotationsTotal:   f.NewCounter(prometheus.CounterOpts{Name: "embedkv_wal_rotations_total", Help: "WAL ring file rotations"}),
		WALRecoveryReplayed: f.NewCounter(prometheus.CounterOpts{Name: "embedkv_wal_recovery_replayed_total", Help: "Page images replayed during the last recovery pass"}),

		BtreeSplitsTotal: f.NewCounter(prometheus.CounterOpts{Name: "embedkv_btree_splits_total", Help: "B+-tree node splits"}),
		BtreeMergesTotal: f.NewCounter(prometheus.CounterOpts{Name: "embedkv_btree_merges_total", Help: "B+-tree node merges"}),
		BtreeShiftsTotal: f.NewCounter(prometheus.CounterOpts{Name: "embedkv_btree_shifts_total", Help: "B+-tree sibling key shifts"}),

		TxnCommitsTotal:   f.NewCounter(prometheus.CounterOpts{Name: "embedkv_txn_commits_total", Help: "Transactions committed"}),
		TxnAbortsTotal:    f.NewCounter(prometheus.CounterOpts{Name: "embedkv_txn_aborts_total", Help: "Transactions aborted"}),
		TxnConflictsTotal: f.NewCounter(prometheus.CounterOpts{Name: "embedkv_txn_conflicts_total", Help: "Operations rejected with a write-write conflict"}),

		CursorCouplingsTotal:   f.NewCounter(prometheus.CounterOpts{Name: "embedkv_cursor_couplings_total", Help: "Cursor re-couplings to a btree page"}),
		CursorUncouplingsTotal: f.NewCounter(prometheus.CounterOpts{Name: "embedkv_cursor_uncouplings_total", Help: "Cursors uncoupled ahead of a structural page change"}),

		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "embedkv_op_duration_seconds",
			Help:    "Duration of top-level engine operations",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"op"}),
	}
}

// Gatherer exposes the private registry for an embedder that wants to
// serve it over HTTP; nil-safe callers should check for a nil
// *Metrics before calling this.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.reg }

// The Inc* helpers are nil-receiver safe so callers can hold a
// possibly-nil *Metrics (the common case in unit tests) without
// branching at every call site.
func (m *Metrics) IncCacheHit()      { if m != nil { m.CacheHitsTotal.Inc() } }
func (m *Metrics) IncCacheMiss()     { if m != nil { m.CacheMissesTotal.Inc() } }
func (m *Metrics) IncCacheEviction() { if m != nil { m.CacheEvictionsTotal.Inc() } }
func (m *Metrics) SetCacheResident(n int) {
	if m != nil {
		m.CachePagesResident.Set(float64(n))
	}
}
func (m *Metrics) IncPageAlloc() { if m != nil { m.PageAllocsTotal.Inc() } }
func (m *Metrics) IncPageFree()  { if m != nil { m.PageFreesTotal.Inc() } }

func (m *Metrics) IncWALWrite()    { if m != nil { m.WALWritesTotal.Inc() } }
func (m *Metrics) IncWALFsync()    { if m != nil { m.WALFsyncsTotal.Inc() } }
func (m *Metrics) IncWALRotation() { if m != nil { m.WALRotationsTotal.Inc() } }
func (m *Metrics) AddWALReplayed(n int) {
	if m != nil {
		m.WALRecoveryReplayed.Add(float64(n))
	}
}

func (m *Metrics) IncBtreeSplit() { if m != nil { m.BtreeSplitsTotal.Inc() } }
func (m *Metrics) IncBtreeMerge() { if m != nil { m.BtreeMergesTotal.Inc() } }
func (m *Metrics) IncBtreeShift() { if m != nil { m.BtreeShiftsTotal.Inc() } }

func (m *Metrics) IncTxnCommit()   { if m != nil { m.TxnCommitsTotal.Inc() } }
func (m *Metrics) IncTxnAbort()    { if m != nil { m.TxnAbortsTotal.Inc() } }
func (m *Metrics) IncTxnConflict() { if m != nil { m.TxnConflictsTotal.Inc() } }

func (m *Metrics) IncCursorCoupling()   { if m != nil { m.CursorCouplingsTotal.Inc() } }
func (m *Metrics) IncCursorUncoupling() { if m != nil { m.CursorUncouplingsTotal.Inc() } }

// ObserveOp records the latency of one top-level operation.
func (m *Metrics) ObserveOp(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.OpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Uptime reports how long this Metrics instance has been alive.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }
