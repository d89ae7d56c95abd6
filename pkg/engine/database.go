// ABOUTME: Database wraps one B+-tree root plus its stats hinter and
// ABOUTME: record-number counter, scoped to one entry in the environment header

package engine

import (
	"github.com/nainya/embedkv/pkg/btree"
	"github.com/nainya/embedkv/pkg/stats"
)

// Database is one named B+-tree within an environment: spec.md §2's
// HAM_DATABASE, keyed by the short numeric id the header array assigns.
type Database struct {
	id    uint16
	name  string
	tree  *btree.Tree
	stats *stats.Stats
}

func (db *Database) Name() string        { return db.name }
func (db *Database) ID() uint16          { return db.id }
func (db *Database) Tree() *btree.Tree   { return db.tree }
func (db *Database) Stats() *stats.Stats { return db.stats }

// newDatabaseFromEntry builds a Database around entry's already
// (or about-to-be) allocated root page. When create is true a fresh
// root is allocated and written back into entry; otherwise entry's
// stored rootOffset is used as-is.
func (e *Environment) newDatabaseFromEntry(entry *dbEntry, splitRatio, mergeRatio float64, create bool) (*Database, error) {
	cfg := btree.Config{
		KeySize:    int(entry.keySize),
		PageSize:   e.cfg.PageSize,
		SplitRatio: splitRatio,
		MergeRatio: mergeRatio,
		DBID:       entry.id,
	}

	tree := btree.New(cfg, e.cache, e.ext, e.blobs, entry.rootOffset)
	tree.SetLogger(e.logEnv().BtreeLogger(entry.id))
	tree.SetMetrics(e.metrics)

	st := stats.New()
	tree.SetHinter(st)

	if entry.flags.has(RecordNumber) {
		tree.SetRecnoCounter(&headerRecno{entry: entry, flush: e.persistHeader})
	}

	if create {
		root, err := tree.CreateRoot(0)
		if err != nil {
			return nil, err
		}
		entry.rootOffset = root
	}

	return &Database{id: entry.id, name: entry.name, tree: tree, stats: st}, nil
}
