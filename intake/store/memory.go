// Package store provides the in-memory intake.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/intake-ledger/intake"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements intake.TxStore. Events keep their insertion order, which
// settles ties the CreatedAt clock cannot.
type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	items  map[intake.FoodItemID]intake.FoodItem
	events []intake.Event
	clock  *intake.MonotonicClock
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock lets tests pin the CreatedAt clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{state: state{
		items: make(map[intake.FoodItemID]intake.FoodItem),
		clock: intake.NewMonotonicClock(now),
	}}
}

func (m *Memory) InsertFoodItem(ctx context.Context, item intake.FoodItem) (intake.FoodItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertFoodItem(ctx, item)
}

func (m *Memory) UpdateFoodItem(ctx context.Context, item intake.FoodItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateFoodItem(ctx, item)
}

func (m *Memory) GetFoodItem(ctx context.Context, owner intake.OwnerID, id intake.FoodItemID) (intake.FoodItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getFoodItem(ctx, owner, id)
}

func (m *Memory) ListFoodItems(ctx context.Context, filter intake.FoodItemFilter) ([]intake.FoodItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listFoodItems(ctx, filter)
}

func (m *Memory) DeleteFoodItem(ctx context.Context, id intake.FoodItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteFoodItem(ctx, id)
}

func (m *Memory) InsertEvent(ctx context.Context, ev intake.Event) (intake.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEvent(ctx, ev)
}

func (m *Memory) UpdateEvent(ctx context.Context, ev intake.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEvent(ctx, ev)
}

func (m *Memory) GetEvent(ctx context.Context, owner intake.OwnerID, id intake.EventID) (intake.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEvent(ctx, owner, id)
}

func (m *Memory) ListEvents(ctx context.Context, filter intake.EventFilter) ([]intake.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEvents(ctx, filter)
}

func (m *Memory) DeleteEvent(ctx context.Context, id intake.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteEvent(ctx, id)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(intake.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) snapshot() state {
	items := make(map[intake.FoodItemID]intake.FoodItem, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	events := make([]intake.Event, len(m.events))
	copy(events, m.events)
	// The clock is shared: CreatedAt values handed out inside a rolled-back
	// transaction are simply never used.
	return state{items: items, events: events, clock: m.clock}
}

// txView operates on the locked state without re-acquiring the lock.
type txView struct {
	*state
}

// =============================================================================
// UNLOCKED OPERATIONS
// =============================================================================

func (s *state) insertFoodItem(_ context.Context, item intake.FoodItem) (intake.FoodItem, error) {
	if _, exists := s.items[item.ID]; exists {
		return intake.FoodItem{}, &intake.ValidationError{Field: "id", Reason: "duplicate food item id"}
	}
	item.CreatedAt = s.clock.Next()
	s.items[item.ID] = item
	return item, nil
}

func (s *state) updateFoodItem(_ context.Context, item intake.FoodItem) error {
	current, ok := s.items[item.ID]
	if !ok {
		return intake.ErrFoodItemNotFound
	}
	item.OwnerID = current.OwnerID
	item.CreatedAt = current.CreatedAt
	s.items[item.ID] = item
	return nil
}

func (s *state) getFoodItem(_ context.Context, owner intake.OwnerID, id intake.FoodItemID) (intake.FoodItem, error) {
	item, ok := s.items[id]
	if !ok || item.OwnerID != owner {
		return intake.FoodItem{}, intake.ErrFoodItemNotFound
	}
	return item, nil
}

func (s *state) listFoodItems(_ context.Context, filter intake.FoodItemFilter) ([]intake.FoodItem, error) {
	var result []intake.FoodItem
	for _, item := range s.items {
		if filter.Matches(item) {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.After(result[j].StartTime)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *state) deleteFoodItem(_ context.Context, id intake.FoodItemID) error {
	if _, ok := s.items[id]; !ok {
		return intake.ErrFoodItemNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *state) insertEvent(_ context.Context, ev intake.Event) (intake.Event, error) {
	for _, existing := range s.events {
		if existing.ID == ev.ID {
			return intake.Event{}, &intake.ValidationError{Field: "id", Reason: "duplicate event id"}
		}
	}
	ev.CreatedAt = s.clock.Next()
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *state) updateEvent(_ context.Context, ev intake.Event) error {
	for i, existing := range s.events {
		if existing.ID == ev.ID {
			s.events[i].Timestamp = ev.Timestamp
			s.events[i].Payload = ev.Payload
			return nil
		}
	}
	return intake.ErrEventNotFound
}

func (s *state) getEvent(_ context.Context, owner intake.OwnerID, id intake.EventID) (intake.Event, error) {
	for _, ev := range s.events {
		if ev.ID == id {
			if ev.OwnerID != owner {
				break
			}
			return ev, nil
		}
	}
	return intake.Event{}, intake.ErrEventNotFound
}

func (s *state) listEvents(_ context.Context, filter intake.EventFilter) ([]intake.Event, error) {
	var result []intake.Event
	for _, ev := range s.events {
		if filter.Matches(ev) {
			result = append(result, ev)
		}
	}
	intake.SortEvents(result)
	return result, nil
}

func (s *state) deleteEvent(_ context.Context, id intake.EventID) error {
	for i, ev := range s.events {
		if ev.ID == id {
			s.events = append(s.events[:i:i], s.events[i+1:]...)
			return nil
		}
	}
	return intake.ErrEventNotFound
}

// txView methods delegate to the unlocked operations.

func (v *txView) InsertFoodItem(ctx context.Context, item intake.FoodItem) (intake.FoodItem, error) {
	return v.insertFoodItem(ctx, item)
}
func (v *txView) UpdateFoodItem(ctx context.Context, item intake.FoodItem) error {
	return v.updateFoodItem(ctx, item)
}
func (v *txView) GetFoodItem(ctx context.Context, owner intake.OwnerID, id intake.FoodItemID) (intake.FoodItem, error) {
	return v.getFoodItem(ctx, owner, id)
}
func (v *txView) ListFoodItems(ctx context.Context, filter intake.FoodItemFilter) ([]intake.FoodItem, error) {
	return v.listFoodItems(ctx, filter)
}
func (v *txView) DeleteFoodItem(ctx context.Context, id intake.FoodItemID) error {
	return v.deleteFoodItem(ctx, id)
}
func (v *txView) InsertEvent(ctx context.Context, ev intake.Event) (intake.Event, error) {
	return v.insertEvent(ctx, ev)
}
func (v *txView) UpdateEvent(ctx context.Context, ev intake.Event) error {
	return v.updateEvent(ctx, ev)
}
func (v *txView) GetEvent(ctx context.Context, owner intake.OwnerID, id intake.EventID) (intake.Event, error) {
	return v.getEvent(ctx, owner, id)
}
func (v *txView) ListEvents(ctx context.Context, filter intake.EventFilter) ([]intake.Event, error) {
	return v.listEvents(ctx, filter)
}
func (v *txView) DeleteEvent(ctx context.Context, id intake.EventID) error {
	return v.deleteEvent(ctx, id)
}
