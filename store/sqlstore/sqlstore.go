/*
Package sqlstore implements intake.TxStore on database/sql.

PURPOSE:
  The SQLite and PostgreSQL stores share every query; only the schema and
  the placeholder style differ. Each driver package supplies a Dialect and
  an opened *sql.DB.

KEY TABLES:
  food_items:    Materialized pools per prepared item (a cache)
  ledger_events: The event log, the source of truth

COLUMN ENCODING:
  - Masses:     TEXT, decimal string (exact round-trip)
  - Times:      BIGINT, Unix nanoseconds UTC (sortable, no string parsing)
  - Payload:    TEXT, JSON (see intake.EncodePayload)
  - seq:        auto-increment insertion sequence, final tie-break

ORDERING:
  ledger_events are read ORDER BY occurred_at, created_at, seq.

CONCURRENCY:
  Uses sync.RWMutex like the in-memory store. WithTx holds the write lock
  for the whole transaction; the Store passed to fn runs on the *sql.Tx and
  never re-locks.

SEE ALSO:
  - store/sqlite:   mattn/go-sqlite3 dialect
  - store/postgres: lib/pq dialect
  - intake/store.go: Interface definitions
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/intake-ledger/intake"
)

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name   string
	Schema string

	// Rebind rewrites '?' placeholders for the driver. Nil keeps them.
	Rebind func(query string) string
}

// Store implements intake.TxStore.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	dialect Dialect
	clock   *intake.MonotonicClock
}

// Open migrates the schema on db and returns a ready store.
func Open(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, dialect: d, clock: intake.NewMonotonicClock(time.Now)}
	if _, err := db.ExecContext(ctx, d.Schema); err != nil {
		return nil, fmt.Errorf("failed to migrate %s schema: %w", d.Name, err)
	}

	var latest int64
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM ledger_events`).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest created_at: %w", err)
	}
	if latest > 0 {
		s.clock.Observe(fromNanos(latest))
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle, e.g. for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dollar rewrites '?' placeholders as $1, $2, ...
func Dollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (s *Store) conn(q querier) *conn {
	return &conn{q: q, dialect: s.dialect, clock: s.clock}
}

func (s *Store) InsertFoodItem(ctx context.Context, item intake.FoodItem) (intake.FoodItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn(s.db).InsertFoodItem(ctx, item)
}

func (s *Store) UpdateFoodItem(ctx context.Context, item intake.FoodItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn(s.db).UpdateFoodItem(ctx, item)
}

func (s *Store) GetFoodItem(ctx context.Context, owner intake.OwnerID, id intake.FoodItemID) (intake.FoodItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn(s.db).GetFoodItem(ctx, owner, id)
}

func (s *Store) ListFoodItems(ctx context.Context, filter intake.FoodItemFilter) ([]intake.FoodItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn(s.db).ListFoodItems(ctx, filter)
}

func (s *Store) DeleteFoodItem(ctx context.Context, id intake.FoodItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn(s.db).DeleteFoodItem(ctx, id)
}

func (s *Store) InsertEvent(ctx context.Context, ev intake.Event) (intake.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn(s.db).InsertEvent(ctx, ev)
}

func (s *Store) UpdateEvent(ctx context.Context, ev intake.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn(s.db).UpdateEvent(ctx, ev)
}

func (s *Store) GetEvent(ctx context.Context, owner intake.OwnerID, id intake.EventID) (intake.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn(s.db).GetEvent(ctx, owner, id)
}

func (s *Store) ListEvents(ctx context.Context, filter intake.EventFilter) ([]intake.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn(s.db).ListEvents(ctx, filter)
}

func (s *Store) DeleteEvent(ctx context.Context, id intake.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn(s.db).DeleteEvent(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (intake.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(intake.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return intake.WrapStoreError("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(s.conn(sqlTx)); err != nil {
		return err
	}
	return intake.WrapStoreError("commit transaction", sqlTx.Commit())
}

// =============================================================================
// QUERIES
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs queries without locking. It implements intake.Store.
type conn struct {
	q       querier
	dialect Dialect
	clock   *intake.MonotonicClock
}

func (c *conn) rebind(query string) string {
	if c.dialect.Rebind == nil {
		return query
	}
	return c.dialect.Rebind(query)
}

const foodItemColumns = `id, owner_id, food_type, food_name, start_time,
	initial_food_mass, initial_added_water, food_mass, added_water, status, created_at`

const eventColumns = `id, owner_id, occurred_at, event_type, related_id, payload_json, created_at`

func (c *conn) InsertFoodItem(ctx context.Context, item intake.FoodItem) (intake.FoodItem, error) {
	item.CreatedAt = c.clock.Next()
	_, err := c.q.ExecContext(ctx, c.rebind(`
		INSERT INTO food_items (`+foodItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(item.ID),
		string(item.OwnerID),
		string(item.FoodType),
		item.FoodName,
		toNanos(item.StartTime),
		item.InitialFoodMass.String(),
		item.InitialAddedWater.String(),
		item.FoodMass.String(),
		item.AddedWater.String(),
		string(item.Status),
		toNanos(item.CreatedAt),
	)
	if err != nil {
		return intake.FoodItem{}, intake.WrapStoreError("insert food item", err)
	}
	return item, nil
}

func (c *conn) UpdateFoodItem(ctx context.Context, item intake.FoodItem) error {
	res, err := c.q.ExecContext(ctx, c.rebind(`
		UPDATE food_items
		SET food_type = ?, food_name = ?, start_time = ?,
		    initial_food_mass = ?, initial_added_water = ?,
		    food_mass = ?, added_water = ?, status = ?
		WHERE id = ?`),
		string(item.FoodType),
		item.FoodName,
		toNanos(item.StartTime),
		item.InitialFoodMass.String(),
		item.InitialAddedWater.String(),
		item.FoodMass.String(),
		item.AddedWater.String(),
		string(item.Status),
		string(item.ID),
	)
	return affected("update food item", res, err, intake.ErrFoodItemNotFound)
}

func (c *conn) GetFoodItem(ctx context.Context, owner intake.OwnerID, id intake.FoodItemID) (intake.FoodItem, error) {
	row := c.q.QueryRowContext(ctx, c.rebind(`
		SELECT `+foodItemColumns+`
		FROM food_items
		WHERE id = ? AND owner_id = ?`), string(id), string(owner))
	item, err := scanFoodItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return intake.FoodItem{}, intake.ErrFoodItemNotFound
	}
	return item, intake.WrapStoreError("get food item", err)
}

func (c *conn) ListFoodItems(ctx context.Context, filter intake.FoodItemFilter) ([]intake.FoodItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.Owner != "" {
		where = append(where, "owner_id = ?")
		args = append(args, string(filter.Owner))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.From.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, toNanos(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, toNanos(filter.To))
	}

	query := `SELECT ` + foodItemColumns + ` FROM food_items` + whereClause(where) +
		` ORDER BY start_time DESC, created_at DESC`
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, intake.WrapStoreError("list food items", err)
	}
	defer rows.Close()

	var items []intake.FoodItem
	for rows.Next() {
		item, err := scanFoodItem(rows)
		if err != nil {
			return nil, intake.WrapStoreError("list food items", err)
		}
		items = append(items, item)
	}
	return items, intake.WrapStoreError("list food items", rows.Err())
}

func (c *conn) DeleteFoodItem(ctx context.Context, id intake.FoodItemID) error {
	res, err := c.q.ExecContext(ctx, c.rebind(`DELETE FROM food_items WHERE id = ?`), string(id))
	return affected("delete food item", res, err, intake.ErrFoodItemNotFound)
}

func (c *conn) InsertEvent(ctx context.Context, ev intake.Event) (intake.Event, error) {
	payload, err := intake.EncodePayload(ev.Payload)
	if err != nil {
		return intake.Event{}, fmt.Errorf("encode payload: %w", err)
	}
	ev.CreatedAt = c.clock.Next()
	_, err = c.q.ExecContext(ctx, c.rebind(`
		INSERT INTO ledger_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		string(ev.ID),
		string(ev.OwnerID),
		toNanos(ev.Timestamp),
		string(ev.Type),
		nullString(string(ev.RelatedID)),
		string(payload),
		toNanos(ev.CreatedAt),
	)
	if err != nil {
		return intake.Event{}, intake.WrapStoreError("insert event", err)
	}
	return ev, nil
}

func (c *conn) UpdateEvent(ctx context.Context, ev intake.Event) error {
	payload, err := intake.EncodePayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	res, err := c.q.ExecContext(ctx, c.rebind(`
		UPDATE ledger_events SET occurred_at = ?, payload_json = ? WHERE id = ?`),
		toNanos(ev.Timestamp), string(payload), string(ev.ID))
	return affected("update event", res, err, intake.ErrEventNotFound)
}

func (c *conn) GetEvent(ctx context.Context, owner intake.OwnerID, id intake.EventID) (intake.Event, error) {
	row := c.q.QueryRowContext(ctx, c.rebind(`
		SELECT `+eventColumns+`
		FROM ledger_events
		WHERE id = ? AND owner_id = ?`), string(id), string(owner))
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return intake.Event{}, intake.ErrEventNotFound
	}
	return ev, intake.WrapStoreError("get event", err)
}

func (c *conn) ListEvents(ctx context.Context, filter intake.EventFilter) ([]intake.Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.Owner != "" {
		where = append(where, "owner_id = ?")
		args = append(args, string(filter.Owner))
	}
	if filter.RelatedID != "" {
		where = append(where, "related_id = ?")
		args = append(args, string(filter.RelatedID))
	}
	if len(filter.Types) > 0 {
		marks := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "event_type IN ("+strings.Join(marks, ", ")+")")
	}
	if !filter.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, toNanos(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "occurred_at < ?")
		args = append(args, toNanos(filter.To))
	}

	query := `SELECT ` + eventColumns + ` FROM ledger_events` + whereClause(where) +
		` ORDER BY occurred_at ASC, created_at ASC, seq ASC`
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, intake.WrapStoreError("list events", err)
	}
	defer rows.Close()

	var events []intake.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, intake.WrapStoreError("list events", err)
		}
		events = append(events, ev)
	}
	return events, intake.WrapStoreError("list events", rows.Err())
}

func (c *conn) DeleteEvent(ctx context.Context, id intake.EventID) error {
	res, err := c.q.ExecContext(ctx, c.rebind(`DELETE FROM ledger_events WHERE id = ?`), string(id))
	return affected("delete event", res, err, intake.ErrEventNotFound)
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanFoodItem(row scanner) (intake.FoodItem, error) {
	var (
		item                      intake.FoodItem
		id, owner, foodType       string
		status                    string
		startTime, createdAt      int64
		initialMass, initialWater string
		foodMass, addedWater      string
	)
	err := row.Scan(&id, &owner, &foodType, &item.FoodName, &startTime,
		&initialMass, &initialWater, &foodMass, &addedWater, &status, &createdAt)
	if err != nil {
		return intake.FoodItem{}, err
	}

	item.ID = intake.FoodItemID(id)
	item.OwnerID = intake.OwnerID(owner)
	item.FoodType = intake.FoodType(foodType)
	item.Status = intake.Status(status)
	item.StartTime = fromNanos(startTime)
	item.CreatedAt = fromNanos(createdAt)

	for _, col := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{initialMass, &item.InitialFoodMass},
		{initialWater, &item.InitialAddedWater},
		{foodMass, &item.FoodMass},
		{addedWater, &item.AddedWater},
	} {
		d, err := decimal.NewFromString(col.raw)
		if err != nil {
			return intake.FoodItem{}, fmt.Errorf("food item %s: bad decimal %q: %w", id, col.raw, err)
		}
		*col.dst = d
	}
	return item, nil
}

func scanEvent(row scanner) (intake.Event, error) {
	var (
		ev                    intake.Event
		id, owner, eventType  string
		relatedID             sql.NullString
		payload               string
		occurredAt, createdAt int64
	)
	if err := row.Scan(&id, &owner, &occurredAt, &eventType, &relatedID, &payload, &createdAt); err != nil {
		return intake.Event{}, err
	}

	ev.ID = intake.EventID(id)
	ev.OwnerID = intake.OwnerID(owner)
	ev.Type = intake.EventType(eventType)
	ev.RelatedID = intake.FoodItemID(relatedID.String)
	ev.Timestamp = fromNanos(occurredAt)
	ev.CreatedAt = fromNanos(createdAt)

	p, err := intake.DecodePayload(ev.Type, []byte(payload))
	if err != nil {
		return intake.Event{}, fmt.Errorf("event %s: %w", id, err)
	}
	ev.Payload = p
	return ev, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// affected maps "zero rows touched" to notFound.
func affected(op string, res sql.Result, err error, notFound error) error {
	if err != nil {
		return intake.WrapStoreError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return intake.WrapStoreError(op, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
