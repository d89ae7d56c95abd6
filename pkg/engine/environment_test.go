package engine

import (
	"path/filepath"
	"testing"

	"github.com/nainya/embedkv/pkg/btree"
)

func key(n byte) []byte { return []byte{0, 0, 0, 0, 0, 0, 0, n} }

func TestCreateDatabaseInsertAndFind(t *testing.T) {
	env, err := Create("", Config{Flags: InMemoryDB})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer env.Close()

	db, err := env.CreateDatabase(DatabaseConfig{Name: "main", KeySize: 8})
	if err != nil {
		t.Fatalf("create database: %v", err)
	}

	if err := db.Tree().Insert(0, key(1), []byte("hello"), btree.InsertFlags{}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := db.Tree().Find(key(1), btree.MatchExact)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if string(res.Record.Bytes) != "hello" {
		t.Fatalf("find returned %q, want hello", res.Record.Bytes)
	}
}

func TestCreateDatabaseRejectsDuplicateName(t *testing.T) {
	env, err := Create("", Config{Flags: InMemoryDB})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer env.Close()

	if _, err := env.CreateDatabase(DatabaseConfig{Name: "main", KeySize: 8}); err != nil {
		t.Fatalf("create database: %v", err)
	}
	if _, err := env.CreateDatabase(DatabaseConfig{Name: "main", KeySize: 8}); err == nil {
		t.Fatalf("expected error creating a second database named 'main'")
	}
}

func TestOpenDatabaseNotFound(t *testing.T) {
	env, err := Create("", Config{Flags: InMemoryDB})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer env.Close()

	if _, err := env.OpenDatabase("missing"); err == nil {
		t.Fatalf("expected error opening a database that was never created")
	}
}

func TestCloseAndReopenPersistsHeaderAndData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	env, err := Create(path, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	db, err := env.CreateDatabase(DatabaseConfig{Name: "main", KeySize: 8})
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	if err := db.Tree().Insert(0, key(1), []byte("value"), btree.InsertFlags{}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()

	db2, err := reopened.OpenDatabase("main")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	res, err := db2.Tree().Find(key(1), btree.MatchExact)
	if err != nil {
		t.Fatalf("find after reopen: %v", err)
	}
	if string(res.Record.Bytes) != "value" {
		t.Fatalf("find after reopen returned %q, want value", res.Record.Bytes)
	}
}

func TestRecordNumberPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recno.db")

	env, err := Create(path, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	db, err := env.CreateDatabase(DatabaseConfig{Name: "recno", KeySize: 8, Flags: RecordNumber})
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	first, err := db.Tree().InsertRecno(0, []byte("one"))
	if err != nil {
		t.Fatalf("insert recno: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()

	db2, err := reopened.OpenDatabase("recno")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	second, err := db2.Tree().InsertRecno(0, []byte("two"))
	if err != nil {
		t.Fatalf("insert recno after reopen: %v", err)
	}
	if second <= first {
		t.Fatalf("recno after reopen = %d, want > %d", second, first)
	}
}

func TestBeginCommitRequiresEnableTransactions(t *testing.T) {
	env, err := Create("", Config{Flags: InMemoryDB})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer env.Close()

	if _, err := env.Begin(); err == nil {
		t.Fatalf("expected error beginning a transaction without EnableTransactions")
	}
}

func TestTransactionCommitAppliesOverwrite(t *testing.T) {
	env, err := Create("", Config{Flags: InMemoryDB | EnableTransactions})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer env.Close()

	db, err := env.CreateDatabase(DatabaseConfig{Name: "main", KeySize: 8})
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	if err := db.Tree().Insert(0, key(1), []byte("original"), btree.InsertFlags{}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	tx, err := env.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	cur := env.OpenCursor(db, tx)
	if err := cur.Find(key(1), btree.MatchExact); err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := cur.Overwrite([]byte("staged")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("close cursor: %v", err)
	}

	if err := env.Commit(tx, db); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res, err := db.Tree().Find(key(1), btree.MatchExact)
	if err != nil {
		t.Fatalf("find after commit: %v", err)
	}
	if string(res.Record.Bytes) != "staged" {
		t.Fatalf("find after commit returned %q, want staged", res.Record.Bytes)
	}
}

func TestTransactionAbortDiscardsOverwrite(t *testing.T) {
	env, err := Create("", Config{Flags: InMemoryDB | EnableTransactions})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer env.Close()

	db, err := env.CreateDatabase(DatabaseConfig{Name: "main", KeySize: 8})
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	if err := db.Tree().Insert(0, key(1), []byte("original"), btree.InsertFlags{}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	tx, err := env.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	cur := env.OpenCursor(db, tx)
	if err := cur.Find(key(1), btree.MatchExact); err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := cur.Overwrite([]byte("staged")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("close cursor: %v", err)
	}

	if err := env.Abort(tx); err != nil {
		t.Fatalf("abort: %v", err)
	}

	res, err := db.Tree().Find(key(1), btree.MatchExact)
	if err != nil {
		t.Fatalf("find after abort: %v", err)
	}
	if string(res.Record.Bytes) != "original" {
		t.Fatalf("find after abort returned %q, want original (abort must not apply staged ops)", res.Record.Bytes)
	}
}
