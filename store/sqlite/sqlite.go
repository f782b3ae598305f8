/*
Package sqlite provides a SQLite-backed intake.TxStore.

PURPOSE:
  Default store for a single-household deployment: one file, no server.
  Queries live in store/sqlstore; this package owns the driver, the DSN
  and the SQLite flavour of the schema.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

  The pool is capped at one connection so ":memory:" databases are not
  split across connections and WithTx never waits on itself.

USAGE:
  store, err := sqlite.New("./data/intake.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  tracker := intake.NewTracker(store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/sqlstore: Shared queries
  - store/postgres: PostgreSQL flavour
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/intake-ledger/store/sqlstore"
)

const schema = `
	-- Materialized pools, rebuilt by replay
	CREATE TABLE IF NOT EXISTS food_items (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		food_type TEXT NOT NULL,
		food_name TEXT NOT NULL DEFAULT '',
		start_time INTEGER NOT NULL,
		initial_food_mass TEXT NOT NULL,
		initial_added_water TEXT NOT NULL,
		food_mass TEXT NOT NULL,
		added_water TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_food_items_owner_start
		ON food_items(owner_id, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_food_items_owner_status
		ON food_items(owner_id, status);

	-- Event log (source of truth)
	CREATE TABLE IF NOT EXISTS ledger_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		related_id TEXT,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Replay of one item (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_events_related
		ON ledger_events(related_id, occurred_at, created_at)
		WHERE related_id IS NOT NULL;

	-- Stats windows
	CREATE INDEX IF NOT EXISTS idx_ledger_events_owner_time
		ON ledger_events(owner_id, occurred_at);
`

// Dialect is the SQLite flavour of the shared store.
var Dialect = sqlstore.Dialect{Name: "sqlite", Schema: schema}

// Store is a SQLite-backed intake.TxStore.
type Store struct {
	*sqlstore.Store
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	inner, err := sqlstore.Open(context.Background(), db, Dialect)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{Store: inner}, nil
}
