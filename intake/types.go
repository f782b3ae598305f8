/*
Package intake provides the mass-balance ledger and historical-recompute engine.

PURPOSE:
  Tracks prepared food/water mixtures as they are eaten and derives, for
  every weight observation, how much dry food and how much water was
  actually consumed. The same engine answers "what is left in the bowl?",
  "what was eaten today?" and "are the stored numbers still right?".

KEY CONCEPTS IN THIS FILE (types.go):
  - FoodType: Enumerated food kind with a fixed bound-water fraction
  - FoodItem: One prepared item and its current pools (a cache)
  - Event:    One ledger entry (action or observation), the source of truth
  - IDs:      Type-safe identifiers

DESIGN PRINCIPLES:
  1. Log first: FoodItem pools are always re-derivable from the event log
  2. Precision: Masses are decimal.Decimal grams, never float64
  3. Total order: Events are ordered by (Timestamp, CreatedAt)
  4. Closed payloads: One payload struct per event type (see payload.go)

SEE ALSO:
  - calculator.go: Pure mass-balance rules
  - tracker.go:    Lifecycle transitions (prepare, add, record, settle)
  - replay.go:     Recompute items and derived fields from the log
  - stats.go:      Per-day aggregation
*/
package intake

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OwnerID string
type FoodItemID string
type EventID string

// =============================================================================
// FOOD TYPE - Bound-water fraction per kind of food
// =============================================================================

type FoodType string

const (
	FoodWater       FoodType = "water"        // Water or milk
	FoodDry         FoodType = "dry_food"     // Kibble
	FoodWet         FoodType = "wet_food"     // Canned
	FoodTreat       FoodType = "treat"        // Lickable treat
	FoodFreezeDried FoodType = "freeze_dried" // Freeze-dried
)

var boundWaterFractions = map[FoodType]decimal.Decimal{
	FoodWater:       decimal.NewFromInt(1),
	FoodDry:         decimal.RequireFromString("0.08"),
	FoodWet:         decimal.RequireFromString("0.78"),
	FoodTreat:       decimal.RequireFromString("0.78"),
	FoodFreezeDried: decimal.Zero,
}

// BoundWaterFraction returns the fraction of the food's own mass that is water.
// Unknown types are treated as fully dry; the Tracker rejects them before
// they reach the calculator.
func (t FoodType) BoundWaterFraction() decimal.Decimal {
	if f, ok := boundWaterFractions[t]; ok {
		return f
	}
	return decimal.Zero
}

func (t FoodType) Valid() bool {
	_, ok := boundWaterFractions[t]
	return ok
}

// FoodTypes returns every known food type in a stable order.
func FoodTypes() []FoodType {
	return []FoodType{FoodWater, FoodDry, FoodWet, FoodTreat, FoodFreezeDried}
}

// =============================================================================
// FOOD ITEM - Materialized pools for one prepared item
// =============================================================================

type Status string

const (
	StatusActive  Status = "active"
	StatusSettled Status = "settled"
)

// FoodItem is the cached state of one prepared food item.
//
// INVARIANTS:
//   - FoodMass >= 0, AddedWater >= 0
//   - Status goes active -> settled once and never back
//   - Everything here can be rebuilt from the item's linked events
type FoodItem struct {
	ID       FoodItemID
	OwnerID  OwnerID
	FoodType FoodType
	FoodName string

	StartTime         time.Time
	InitialFoodMass   decimal.Decimal
	InitialAddedWater decimal.Decimal

	// Current pools
	FoodMass   decimal.Decimal
	AddedWater decimal.Decimal

	Status    Status
	CreatedAt time.Time
}

// TotalRemaining is the mass currently in the bowl.
func (f FoodItem) TotalRemaining() decimal.Decimal {
	return f.FoodMass.Add(f.AddedWater)
}

// Ratio is the current water fraction of the remaining mixture.
func (f FoodItem) Ratio() decimal.Decimal {
	return InitialPools(f.FoodMass, f.AddedWater, f.FoodType).Ratio
}

func (f FoodItem) IsSettled() bool { return f.Status == StatusSettled }

// =============================================================================
// EVENT - One ledger entry
// =============================================================================

type EventType string

const (
	EventPrepare         EventType = "prepare"
	EventAddWater        EventType = "add_water"
	EventAddFood         EventType = "add_food"
	EventRecordRemaining EventType = "record_remaining"
	EventSettle          EventType = "settle"

	// Independent observations, never linked to a food item
	EventElimination EventType = "elimination"
	EventMedication  EventType = "medication"
	EventRespiration EventType = "respiration"
	EventStatusNote  EventType = "status_note"
)

// IsLinked reports whether events of this type belong to a food item.
func (t EventType) IsLinked() bool {
	switch t {
	case EventPrepare, EventAddWater, EventAddFood, EventRecordRemaining, EventSettle:
		return true
	}
	return false
}

// IsConsumption reports whether events of this type carry a decomposition.
func (t EventType) IsConsumption() bool {
	return t == EventRecordRemaining || t == EventSettle
}

func (t EventType) Valid() bool {
	switch t {
	case EventPrepare, EventAddWater, EventAddFood, EventRecordRemaining, EventSettle,
		EventElimination, EventMedication, EventRespiration, EventStatusNote:
		return true
	}
	return false
}

// Event is an entry in the append-only ledger.
// Only raw payload fields may be corrected after the fact; derived fields
// belong to the calculator and the replay engine.
type Event struct {
	ID        EventID
	OwnerID   OwnerID
	Timestamp time.Time
	Type      EventType
	RelatedID FoodItemID // empty for independent observations
	Payload   Payload
	CreatedAt time.Time
}

// Before reports whether e sorts before other in the canonical order.
func (e Event) Before(other Event) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	return e.CreatedAt.Before(other.CreatedAt)
}

// SortEvents orders events by (Timestamp, CreatedAt). The sort is stable so
// a store's own insertion order settles any remaining tie.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Before(events[j])
	})
}
