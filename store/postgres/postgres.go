/*
Package postgres provides a PostgreSQL-backed intake.TxStore using lib/pq.

PURPOSE:
  Same tables and queries as the SQLite store (store/sqlstore); this
  package supplies the driver, the $n placeholder style and the
  PostgreSQL column types.

USAGE:
  store, err := postgres.New(ctx, "host=localhost dbname=intake sslmode=disable")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Shared queries
  - store/sqlite:   SQLite flavour
*/
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/warp/intake-ledger/store/sqlstore"
)

const schema = `
	CREATE TABLE IF NOT EXISTS food_items (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		food_type TEXT NOT NULL,
		food_name TEXT NOT NULL DEFAULT '',
		start_time BIGINT NOT NULL,
		initial_food_mass TEXT NOT NULL,
		initial_added_water TEXT NOT NULL,
		food_mass TEXT NOT NULL,
		added_water TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_food_items_owner_start
		ON food_items(owner_id, start_time DESC);

	CREATE TABLE IF NOT EXISTS ledger_events (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		occurred_at BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		related_id TEXT,
		payload_json TEXT NOT NULL,
		created_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_events_related
		ON ledger_events(related_id, occurred_at, created_at)
		WHERE related_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_ledger_events_owner_time
		ON ledger_events(owner_id, occurred_at);
`

// Dialect is the PostgreSQL flavour of the shared store.
var Dialect = sqlstore.Dialect{Name: "postgres", Schema: schema, Rebind: sqlstore.Dollar}

// Store is a PostgreSQL-backed intake.TxStore.
type Store struct {
	*sqlstore.Store
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	inner, err := sqlstore.Open(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}
