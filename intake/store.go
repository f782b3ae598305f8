/*
store.go - Persistence interface for food items and ledger events

PURPOSE:
  Defines the narrow interface between the engine and whatever stores its
  two logical tables. The engine never talks to a database directly.

KEY INTERFACES:
  FoodItemStore: food_items table (insert, update, select, delete)
  EventStore:    ledger_events table (insert, update, select, delete)
  Store:         Both tables
  TxStore:       Store + WithTx for atomic multi-row writes

ORDERING CONTRACT:
  ListEvents returns events in canonical order: Timestamp ASC, CreatedAt ASC,
  then insertion order. InsertEvent assigns CreatedAt from a strictly
  increasing clock so two inserts never share a CreatedAt.

OWNER SCOPE:
  GetFoodItem and GetEvent return ErrFoodItemNotFound / ErrEventNotFound when
  the row exists but belongs to another owner.

IMPLEMENTATIONS:
  - intake/store/memory.go: In-memory for testing
  - store/sqlite:           SQLite (mattn/go-sqlite3)
  - store/postgres:         PostgreSQL (lib/pq)

SEE ALSO:
  - tracker.go: Uses WithTx when the store supports it
  - replay.go:  Rewrites derived payload fields through UpdateEvent
*/
package intake

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// FoodItemFilter selects food items. Zero values match everything; an empty
// Owner matches all owners (used by the replay scheduler).
type FoodItemFilter struct {
	Owner  OwnerID
	Status Status
	From   time.Time // StartTime >= From
	To     time.Time // StartTime < To
}

// EventFilter selects events. From/To bound Timestamp as [From, To).
type EventFilter struct {
	Owner     OwnerID
	RelatedID FoodItemID
	Types     []EventType
	From      time.Time
	To        time.Time
}

// Matches reports whether ev passes the filter. Stores without a query
// language use this directly.
func (f EventFilter) Matches(ev Event) bool {
	if f.Owner != "" && ev.OwnerID != f.Owner {
		return false
	}
	if f.RelatedID != "" && ev.RelatedID != f.RelatedID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == ev.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && ev.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ev.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// Matches reports whether item passes the filter.
func (f FoodItemFilter) Matches(item FoodItem) bool {
	if f.Owner != "" && item.OwnerID != f.Owner {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && item.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !item.StartTime.Before(f.To) {
		return false
	}
	return true
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type FoodItemStore interface {
	// InsertFoodItem persists a new item and returns the created row.
	InsertFoodItem(ctx context.Context, item FoodItem) (FoodItem, error)

	// UpdateFoodItem overwrites the mutable fields of an existing item
	// (type, name, initial and current pools, status).
	UpdateFoodItem(ctx context.Context, item FoodItem) error

	GetFoodItem(ctx context.Context, owner OwnerID, id FoodItemID) (FoodItem, error)

	// ListFoodItems returns matching items ordered by StartTime DESC.
	ListFoodItems(ctx context.Context, filter FoodItemFilter) ([]FoodItem, error)

	DeleteFoodItem(ctx context.Context, id FoodItemID) error
}

type EventStore interface {
	// InsertEvent appends an event, assigns CreatedAt and returns the row.
	InsertEvent(ctx context.Context, ev Event) (Event, error)

	// UpdateEvent overwrites Timestamp and Payload of an existing event.
	// Reserved for raw-field corrections and replay.
	UpdateEvent(ctx context.Context, ev Event) error

	GetEvent(ctx context.Context, owner OwnerID, id EventID) (Event, error)

	// ListEvents returns matching events in canonical order.
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	DeleteEvent(ctx context.Context, id EventID) error
}

type Store interface {
	FoodItemStore
	EventStore
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the passed Store is
// rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CREATED-AT CLOCK
// =============================================================================

// MonotonicClock hands out strictly increasing timestamps so CreatedAt can
// break ties between events that share a Timestamp.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewMonotonicClock(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = time.Now
	}
	return &MonotonicClock{now: now}
}

// Observe raises the floor, e.g. to the latest CreatedAt already stored.
func (c *MonotonicClock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}

// Next returns a UTC time strictly after every previous result.
func (c *MonotonicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
