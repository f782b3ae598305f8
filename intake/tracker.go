/*
tracker.go - Food item lifecycle and ledger writes

PURPOSE:
  The action layer. Every user action is validated here, run through the
  calculator, and written as "update item pools + append one event" in a
  single store transaction. Nothing is written when validation fails.

LIFECYCLE:
  Prepare          -> item created (active), prepare event
  AddWater/AddFood -> pools grow, add event
  RecordRemaining  -> consumed = previousTotal - observed, decomposition event
  Settle           -> same as RecordRemaining, then status = settled (terminal)

  Prepare with FullyConsumed is Prepare followed by Settle(0) at the same
  timestamp, inside the same transaction.

ORDERING:
  Linked actions must not precede the item's latest event. The live path
  therefore always appends at the end of the canonical order and produces
  exactly what the replay engine would. History is changed only through
  CorrectEvent / DeleteEvent, which replay the item afterwards.

ERRORS:
  ValidationError, NegativeConsumptionError, ErrAlreadySettled,
  ErrEventNotEditable, ErrFoodItemNotFound, ErrEventNotFound, StoreError.

SEE ALSO:
  - calculator.go: The rules applied here
  - replay.go:     Re-derivation after corrections
*/
package intake

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TRACKER
// =============================================================================

type Tracker struct {
	Store  Store
	Logger *slog.Logger

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// PrepareInput holds the raw fields of a new food item.
type PrepareInput struct {
	Owner        OwnerID
	FoodType     FoodType
	FoodName     string
	InitialMass  decimal.Decimal
	InitialWater decimal.Decimal
	At           time.Time // zero means now

	// FullyConsumed settles the item immediately with nothing left.
	FullyConsumed bool
}

// Transition is the result of a food-linked action.
type Transition struct {
	Item  FoodItem
	Event Event
}

// Correction replaces the raw fields (and optionally the timestamp) of an
// event. A nil Payload keeps the current raw fields.
type Correction struct {
	Timestamp *time.Time
	Payload   Payload
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

// Prepare creates a food item and its prepare event.
func (t *Tracker) Prepare(ctx context.Context, in PrepareInput) (Transition, error) {
	if in.Owner == "" {
		return Transition{}, invalid("owner", "required")
	}
	raw := PreparePayload{
		FoodType:     in.FoodType,
		FoodName:     in.FoodName,
		InitialMass:  in.InitialMass,
		InitialWater: in.InitialWater,
	}
	if err := raw.Validate(); err != nil {
		return Transition{}, err
	}
	at := t.at(in.At)

	var result Transition
	err := atomically(ctx, t.Store, func(s Store) error {
		tr, err := t.prepare(ctx, s, in.Owner, raw, at)
		if err != nil {
			return err
		}
		if in.FullyConsumed {
			tr, err = t.transition(ctx, s, in.Owner, tr.Item.ID, at, func(item FoodItem) (FoodItem, Payload, error) {
				return consume(item, decimal.Zero, true)
			})
			if err != nil {
				return err
			}
		}
		result = tr
		return nil
	})
	if err != nil {
		return Transition{}, err
	}

	t.Logger.Info("food item prepared",
		"owner", in.Owner, "food_item", result.Item.ID, "food_type", in.FoodType,
		"fully_consumed", in.FullyConsumed)
	return result, nil
}

// AddWater mixes delta grams of water into an active item.
func (t *Tracker) AddWater(ctx context.Context, owner OwnerID, id FoodItemID, delta decimal.Decimal, at time.Time) (Transition, error) {
	raw := AddWaterPayload{WaterDelta: delta}
	if err := raw.Validate(); err != nil {
		return Transition{}, err
	}
	return t.apply(ctx, owner, id, at, func(item FoodItem) (FoodItem, Payload, error) {
		res := AfterAddWater(item.FoodMass, item.AddedWater, delta, item.FoodType)
		raw.PoolChange = &PoolChange{
			PreviousTotal: item.TotalRemaining(),
			PreviousRatio: item.Ratio(),
			NewTotal:      item.FoodMass.Add(res.NewAddedWater),
			NewRatio:      res.NewRatio,
		}
		item.AddedWater = res.NewAddedWater
		return item, raw, nil
	})
}

// AddFood adds delta grams of the same food to an active item.
func (t *Tracker) AddFood(ctx context.Context, owner OwnerID, id FoodItemID, delta decimal.Decimal, at time.Time) (Transition, error) {
	raw := AddFoodPayload{FoodDelta: delta}
	if err := raw.Validate(); err != nil {
		return Transition{}, err
	}
	return t.apply(ctx, owner, id, at, func(item FoodItem) (FoodItem, Payload, error) {
		res := AfterAddFood(item.FoodMass, item.AddedWater, delta, item.FoodType)
		raw.PoolChange = &PoolChange{
			PreviousTotal: item.TotalRemaining(),
			PreviousRatio: item.Ratio(),
			NewTotal:      res.NewFoodMass.Add(item.AddedWater),
			NewRatio:      res.NewRatio,
		}
		item.FoodMass = res.NewFoodMass
		return item, raw, nil
	})
}

// RecordRemaining records the observed total left in the bowl.
func (t *Tracker) RecordRemaining(ctx context.Context, owner OwnerID, id FoodItemID, observed decimal.Decimal, at time.Time) (Transition, error) {
	if err := nonNegative("observedTotal", observed); err != nil {
		return Transition{}, err
	}
	return t.apply(ctx, owner, id, at, func(item FoodItem) (FoodItem, Payload, error) {
		return consume(item, observed, false)
	})
}

// Settle records the final observation and freezes the item.
// A nil observed means nothing was left.
func (t *Tracker) Settle(ctx context.Context, owner OwnerID, id FoodItemID, observed *decimal.Decimal, at time.Time) (Transition, error) {
	final := decimal.Zero
	if observed != nil {
		final = *observed
	}
	if err := nonNegative("observedTotal", final); err != nil {
		return Transition{}, err
	}
	tr, err := t.apply(ctx, owner, id, at, func(item FoodItem) (FoodItem, Payload, error) {
		return consume(item, final, true)
	})
	if err == nil {
		t.Logger.Info("food item settled", "owner", owner, "food_item", id)
	}
	return tr, err
}

// =============================================================================
// INDEPENDENT OBSERVATIONS
// =============================================================================

// RecordObservation appends an elimination, medication, respiration or
// status-note event.
func (t *Tracker) RecordObservation(ctx context.Context, owner OwnerID, at time.Time, p Payload) (Event, error) {
	if owner == "" {
		return Event{}, invalid("owner", "required")
	}
	if p == nil || p.EventType().IsLinked() {
		return Event{}, invalid("type", "not an independent observation")
	}
	if err := p.Validate(); err != nil {
		return Event{}, err
	}
	ev := Event{
		ID:        EventID(t.NewID()),
		OwnerID:   owner,
		Timestamp: t.at(at),
		Type:      p.EventType(),
		Payload:   p,
	}
	created, err := t.Store.InsertEvent(ctx, ev)
	if err != nil {
		return Event{}, WrapStoreError("insert event", err)
	}
	return created, nil
}

// =============================================================================
// HISTORY EDITS
// =============================================================================

// CorrectEvent replaces raw fields of an event. For food-linked events the
// item is replayed in the same transaction so derived fields and pools stay
// consistent. A correction that would make any observation of the item
// inconsistent is rejected, as is a timestamp that moves a linked event
// before the prepare event or after a settle event.
func (t *Tracker) CorrectEvent(ctx context.Context, owner OwnerID, id EventID, c Correction) (Event, error) {
	var corrected Event
	err := atomically(ctx, t.Store, func(s Store) error {
		ev, err := s.GetEvent(ctx, owner, id)
		if err != nil {
			return WrapStoreError("get event", err)
		}
		if c.Payload != nil {
			if c.Payload.EventType() != ev.Type {
				return invalid("payload", "type does not match event type "+string(ev.Type))
			}
			if err := c.Payload.Validate(); err != nil {
				return err
			}
			ev.Payload = withoutDerived(c.Payload)
		}
		if c.Timestamp != nil {
			if c.Timestamp.IsZero() {
				return invalid("timestamp", "required")
			}
			ev.Timestamp = *c.Timestamp
		}

		if !ev.Type.IsLinked() {
			corrected = ev
			return WrapStoreError("update event", s.UpdateEvent(ctx, ev))
		}

		item, events, err := loadItem(ctx, s, owner, ev.RelatedID)
		if err != nil {
			return err
		}
		edited := replaceEvent(events, ev)
		if err := checkLifecycleOrder(edited); err != nil {
			return err
		}
		if p, ok := ev.Payload.(PreparePayload); ok {
			item.FoodType = p.FoodType
			item.FoodName = p.FoodName
			item.InitialFoodMass = p.InitialMass
			item.InitialAddedWater = p.InitialWater
			item.StartTime = ev.Timestamp
		}
		res, err := replayEdit(item, events, edited)
		if err != nil {
			return err
		}
		if err := s.UpdateEvent(ctx, ev); err != nil {
			return WrapStoreError("update event", err)
		}
		if err := persistReplay(ctx, s, res); err != nil {
			return err
		}
		corrected = findEvent(res.Events, ev.ID, ev)
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	t.Logger.Info("event corrected", "owner", owner, "event", id, "type", corrected.Type)
	return corrected, nil
}

// DeleteEvent removes an event. Prepare and settle events cannot be
// removed; delete the food item instead.
func (t *Tracker) DeleteEvent(ctx context.Context, owner OwnerID, id EventID) error {
	return atomically(ctx, t.Store, func(s Store) error {
		ev, err := s.GetEvent(ctx, owner, id)
		if err != nil {
			return WrapStoreError("get event", err)
		}
		switch ev.Type {
		case EventPrepare, EventSettle:
			return ErrEventNotEditable
		}
		if !ev.Type.IsLinked() {
			return WrapStoreError("delete event", s.DeleteEvent(ctx, id))
		}

		item, events, err := loadItem(ctx, s, owner, ev.RelatedID)
		if err != nil {
			return err
		}
		remaining := make([]Event, 0, len(events))
		for _, e := range events {
			if e.ID != id {
				remaining = append(remaining, e)
			}
		}
		res, err := replayEdit(item, events, remaining)
		if err != nil {
			return err
		}
		if err := s.DeleteEvent(ctx, id); err != nil {
			return WrapStoreError("delete event", err)
		}
		return persistReplay(ctx, s, res)
	})
}

// DeleteFoodItem removes an item together with every event linked to it.
func (t *Tracker) DeleteFoodItem(ctx context.Context, owner OwnerID, id FoodItemID) error {
	return atomically(ctx, t.Store, func(s Store) error {
		_, events, err := loadItem(ctx, s, owner, id)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := s.DeleteEvent(ctx, ev.ID); err != nil {
				return WrapStoreError("delete event", err)
			}
		}
		return WrapStoreError("delete food item", s.DeleteFoodItem(ctx, id))
	})
}

// =============================================================================
// READS
// =============================================================================

func (t *Tracker) FoodItem(ctx context.Context, owner OwnerID, id FoodItemID) (FoodItem, error) {
	item, err := t.Store.GetFoodItem(ctx, owner, id)
	return item, WrapStoreError("get food item", err)
}

// FoodItems lists the owner's items; filter.Owner is always forced to owner.
func (t *Tracker) FoodItems(ctx context.Context, owner OwnerID, filter FoodItemFilter) ([]FoodItem, error) {
	filter.Owner = owner
	items, err := t.Store.ListFoodItems(ctx, filter)
	return items, WrapStoreError("list food items", err)
}

// Events lists the owner's events in canonical order.
func (t *Tracker) Events(ctx context.Context, owner OwnerID, filter EventFilter) ([]Event, error) {
	filter.Owner = owner
	events, err := t.Store.ListEvents(ctx, filter)
	return events, WrapStoreError("list events", err)
}

// =============================================================================
// INTERNALS
// =============================================================================

type transitionFunc func(item FoodItem) (FoodItem, Payload, error)

func (t *Tracker) apply(ctx context.Context, owner OwnerID, id FoodItemID, at time.Time, fn transitionFunc) (Transition, error) {
	var result Transition
	err := atomically(ctx, t.Store, func(s Store) error {
		tr, err := t.transition(ctx, s, owner, id, t.at(at), fn)
		result = tr
		return err
	})
	if err != nil {
		return Transition{}, err
	}
	return result, nil
}

func (t *Tracker) prepare(ctx context.Context, s Store, owner OwnerID, raw PreparePayload, at time.Time) (Transition, error) {
	raw.PrepareDerived = &PrepareDerived{
		Ratio: InitialPools(raw.InitialMass, raw.InitialWater, raw.FoodType).Ratio,
	}
	item, err := s.InsertFoodItem(ctx, FoodItem{
		ID:                FoodItemID(t.NewID()),
		OwnerID:           owner,
		FoodType:          raw.FoodType,
		FoodName:          raw.FoodName,
		StartTime:         at,
		InitialFoodMass:   raw.InitialMass,
		InitialAddedWater: raw.InitialWater,
		FoodMass:          raw.InitialMass,
		AddedWater:        raw.InitialWater,
		Status:            StatusActive,
	})
	if err != nil {
		return Transition{}, WrapStoreError("insert food item", err)
	}
	ev, err := s.InsertEvent(ctx, Event{
		ID:        EventID(t.NewID()),
		OwnerID:   owner,
		Timestamp: at,
		Type:      EventPrepare,
		RelatedID: item.ID,
		Payload:   raw,
	})
	if err != nil {
		return Transition{}, WrapStoreError("insert event", err)
	}
	return Transition{Item: item, Event: ev}, nil
}

// transition runs one linked action against s. Caller provides the
// transaction.
func (t *Tracker) transition(ctx context.Context, s Store, owner OwnerID, id FoodItemID, at time.Time, fn transitionFunc) (Transition, error) {
	item, events, err := loadItem(ctx, s, owner, id)
	if err != nil {
		return Transition{}, err
	}
	if item.IsSettled() {
		return Transition{}, ErrAlreadySettled
	}
	if at.Before(item.StartTime) {
		return Transition{}, invalid("timestamp", "precedes the food item's preparation")
	}
	if n := len(events); n > 0 && at.Before(events[n-1].Timestamp) {
		return Transition{}, invalid("timestamp", "precedes the food item's latest event")
	}

	updated, payload, err := fn(item)
	if err != nil {
		return Transition{}, err
	}
	if payload.EventType() == EventSettle {
		updated.Status = StatusSettled
	}

	if err := s.UpdateFoodItem(ctx, updated); err != nil {
		return Transition{}, WrapStoreError("update food item", err)
	}
	ev, err := s.InsertEvent(ctx, Event{
		ID:        EventID(t.NewID()),
		OwnerID:   owner,
		Timestamp: at,
		Type:      payload.EventType(),
		RelatedID: id,
		Payload:   payload,
	})
	if err != nil {
		return Transition{}, WrapStoreError("insert event", err)
	}
	return Transition{Item: updated, Event: ev}, nil
}

// consume builds a record_remaining or settle payload from the item's pools.
func consume(item FoodItem, observed decimal.Decimal, settle bool) (FoodItem, Payload, error) {
	previous := item.TotalRemaining()
	consumed := previous.Sub(observed)
	if consumed.IsNegative() {
		return FoodItem{}, nil, &NegativeConsumptionError{
			FoodItemID:    item.ID,
			PreviousTotal: previous,
			ObservedTotal: observed,
		}
	}

	res := DecomposeConsumption(consumed, item.FoodMass, item.AddedWater, item.FoodType)
	c := Consumption{
		ObservedTotal: observed,
		Decomposition: decomposition(consumed, item.FoodMass, item.AddedWater, res),
	}
	item.FoodMass = res.NewFoodMass
	item.AddedWater = res.NewAddedWater

	if settle {
		return item, SettlePayload{Consumption: c}, nil
	}
	return item, RecordRemainingPayload{Consumption: c}, nil
}

func decomposition(consumed, foodMass, addedWater decimal.Decimal, res ConsumptionResult) *Decomposition {
	return &Decomposition{
		Consumed:           consumed,
		DrySolids:          res.DrySolids,
		BoundWater:         res.BoundWater,
		AddedWaterConsumed: res.AddedWaterConsumed,
		PreviousFoodMass:   foodMass,
		NewFoodMass:        res.NewFoodMass,
		PreviousAddedWater: addedWater,
		NewAddedWater:      res.NewAddedWater,
	}
}

func (t *Tracker) at(at time.Time) time.Time {
	if at.IsZero() {
		return t.Now()
	}
	return at
}

// loadItem returns the owner's item and its linked events in canonical order.
func loadItem(ctx context.Context, s Store, owner OwnerID, id FoodItemID) (FoodItem, []Event, error) {
	item, err := s.GetFoodItem(ctx, owner, id)
	if err != nil {
		return FoodItem{}, nil, WrapStoreError("get food item", err)
	}
	events, err := s.ListEvents(ctx, EventFilter{Owner: owner, RelatedID: id})
	if err != nil {
		return FoodItem{}, nil, WrapStoreError("list events", err)
	}
	SortEvents(events)
	return item, events, nil
}

// atomically runs fn in a transaction when the store supports one.
func atomically(ctx context.Context, s Store, fn func(Store) error) error {
	if ts, ok := s.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(s)
}

// replayEdit replays an edited event list and rejects the edit when it
// introduces an inconsistency the current history does not have.
func replayEdit(item FoodItem, current, edited []Event) (ItemReplay, error) {
	before := ReplayItem(item, current)
	after := ReplayItem(item, edited)

	known := make(map[EventID]bool, len(before.Inconsistencies))
	for _, inc := range before.Inconsistencies {
		known[inc.EventID] = true
	}
	for _, inc := range after.Inconsistencies {
		if !known[inc.EventID] {
			return ItemReplay{}, &NegativeConsumptionError{
				FoodItemID:    item.ID,
				PreviousTotal: inc.RunningTotal,
				ObservedTotal: inc.ObservedTotal,
			}
		}
	}
	return after, nil
}

// checkLifecycleOrder rejects an event list in which a linked event comes
// before the prepare event or after a settle event. The live path can never
// produce either order.
func checkLifecycleOrder(events []Event) error {
	prepareAt := -1
	for i, e := range events {
		if e.Type == EventPrepare {
			prepareAt = i
			break
		}
	}
	settled := false
	for i, e := range events {
		if !e.Type.IsLinked() {
			continue
		}
		if settled {
			return invalid("timestamp", string(e.Type)+" would follow the food item's settlement")
		}
		if i < prepareAt {
			return invalid("timestamp", string(e.Type)+" would precede the food item's preparation")
		}
		if e.Type == EventSettle {
			settled = true
		}
	}
	return nil
}

func replaceEvent(events []Event, ev Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		if e.ID == ev.ID {
			out[i] = ev
		} else {
			out[i] = e
		}
	}
	SortEvents(out)
	return out
}

func findEvent(events []Event, id EventID, fallback Event) Event {
	for _, e := range events {
		if e.ID == id {
			return e
		}
	}
	return fallback
}

// withoutDerived strips derived fields from a caller-supplied payload so
// only the calculator can set them.
func withoutDerived(p Payload) Payload {
	switch v := p.(type) {
	case PreparePayload:
		v.PrepareDerived = nil
		return v
	case AddWaterPayload:
		v.PoolChange = nil
		return v
	case AddFoodPayload:
		v.PoolChange = nil
		return v
	case RecordRemainingPayload:
		v.Decomposition = nil
		return v
	case SettlePayload:
		v.Decomposition = nil
		return v
	}
	return p
}
