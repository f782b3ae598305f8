/*
replay.go - Historical recompute engine

PURPOSE:
  Rebuilds a food item's pools and every derived payload field from the
  item's linked events. Used after a raw-field correction, when the
  calculation rules change, and periodically to heal divergence caused by
  concurrent sessions.

ALGORITHM (per item):
  1. Pools start from the prepare event's raw inputs (or the item's initial
     fields when the prepare event is missing).
  2. Walk linked events in canonical order:
       add_water / add_food       -> pools grow, PoolChange recomputed
       record_remaining / settle  -> consumed = running total - observed
                                     consumed < 0: Inconsistency, skip,
                                     pools unchanged
                                     else: Decomposition recomputed
  3. Final pools (and settled status) go back onto the item.

PROPERTIES:
  - Deterministic and idempotent: a second run writes nothing
  - Best effort: per-item failures are collected, never abort the run
  - Items replay in parallel (bounded); events within an item sequentially

SEE ALSO:
  - calculator.go: The rules re-applied here
  - tracker.go:    CorrectEvent / DeleteEvent replay through the same core
*/
package intake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PURE CORE
// =============================================================================

// Inconsistency is an observation that claims more remains than the replayed
// pools hold. The event is left as stored.
type Inconsistency struct {
	OwnerID       OwnerID
	FoodItemID    FoodItemID
	EventID       EventID
	EventType     EventType
	Timestamp     time.Time
	RunningTotal  decimal.Decimal
	ObservedTotal decimal.Decimal
}

// ItemReplay is the outcome of replaying one item's events.
type ItemReplay struct {
	Item        FoodItem // rebuilt item
	ItemChanged bool

	Events  []Event // every linked event, recomputed, canonical order
	Changed []Event // subset of Events whose payload must be rewritten

	Fixed           int
	Unchanged       int
	Skipped         int
	Inconsistencies []Inconsistency
}

// ReplayItem recomputes item from events. It performs no I/O; events that
// are not linked to item are ignored.
func ReplayItem(item FoodItem, events []Event) ItemReplay {
	linked := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.RelatedID == item.ID && ev.Type.IsLinked() {
			linked = append(linked, ev)
		}
	}
	SortEvents(linked)

	rebuilt := item
	for _, ev := range linked {
		if p, ok := ev.Payload.(PreparePayload); ok {
			rebuilt.FoodType = p.FoodType
			rebuilt.FoodName = p.FoodName
			rebuilt.InitialFoodMass = p.InitialMass
			rebuilt.InitialAddedWater = p.InitialWater
			rebuilt.StartTime = ev.Timestamp
			break
		}
	}
	rebuilt.FoodMass = rebuilt.InitialFoodMass
	rebuilt.AddedWater = rebuilt.InitialAddedWater
	foodType := rebuilt.FoodType

	out := ItemReplay{Events: make([]Event, 0, len(linked))}

	for _, ev := range linked {
		recomputed := ev
		switch p := ev.Payload.(type) {
		case PreparePayload:
			p.PrepareDerived = &PrepareDerived{
				Ratio: InitialPools(p.InitialMass, p.InitialWater, p.FoodType).Ratio,
			}
			recomputed.Payload = p

		case AddWaterPayload:
			res := AfterAddWater(rebuilt.FoodMass, rebuilt.AddedWater, p.WaterDelta, foodType)
			p.PoolChange = &PoolChange{
				PreviousTotal: rebuilt.TotalRemaining(),
				PreviousRatio: rebuilt.Ratio(),
				NewTotal:      rebuilt.FoodMass.Add(res.NewAddedWater),
				NewRatio:      res.NewRatio,
			}
			rebuilt.AddedWater = res.NewAddedWater
			recomputed.Payload = p

		case AddFoodPayload:
			res := AfterAddFood(rebuilt.FoodMass, rebuilt.AddedWater, p.FoodDelta, foodType)
			p.PoolChange = &PoolChange{
				PreviousTotal: rebuilt.TotalRemaining(),
				PreviousRatio: rebuilt.Ratio(),
				NewTotal:      res.NewFoodMass.Add(rebuilt.AddedWater),
				NewRatio:      res.NewRatio,
			}
			rebuilt.FoodMass = res.NewFoodMass
			recomputed.Payload = p

		case RecordRemainingPayload, SettlePayload:
			c := consumptionOf(p)
			running := rebuilt.TotalRemaining()
			consumed := running.Sub(c.ObservedTotal)
			if ev.Type == EventSettle {
				rebuilt.Status = StatusSettled
			}
			if consumed.IsNegative() {
				out.Skipped++
				out.Inconsistencies = append(out.Inconsistencies, Inconsistency{
					OwnerID:       ev.OwnerID,
					FoodItemID:    item.ID,
					EventID:       ev.ID,
					EventType:     ev.Type,
					Timestamp:     ev.Timestamp,
					RunningTotal:  running,
					ObservedTotal: c.ObservedTotal,
				})
				out.Events = append(out.Events, ev)
				continue
			}
			res := DecomposeConsumption(consumed, rebuilt.FoodMass, rebuilt.AddedWater, foodType)
			c.Decomposition = decomposition(consumed, rebuilt.FoodMass, rebuilt.AddedWater, res)
			rebuilt.FoodMass = res.NewFoodMass
			rebuilt.AddedWater = res.NewAddedWater
			recomputed.Payload = withConsumption(p, c)
		}

		if payloadEqual(ev.Payload, recomputed.Payload) {
			out.Unchanged++
		} else {
			out.Fixed++
			out.Changed = append(out.Changed, recomputed)
		}
		out.Events = append(out.Events, recomputed)
	}

	if item.IsSettled() {
		rebuilt.Status = StatusSettled
	}
	out.Item = rebuilt
	out.ItemChanged = !itemEqual(item, rebuilt)
	return out
}

// persistReplay writes the changed events and the rebuilt item through s.
func persistReplay(ctx context.Context, s Store, r ItemReplay) error {
	for _, ev := range r.Changed {
		if err := s.UpdateEvent(ctx, ev); err != nil {
			return WrapStoreError("update event", err)
		}
	}
	if r.ItemChanged {
		if err := s.UpdateFoodItem(ctx, r.Item); err != nil {
			return WrapStoreError("update food item", err)
		}
	}
	return nil
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine replays items stored in Store.
type Engine struct {
	Store  Store
	Logger *slog.Logger

	// Concurrency bounds how many items replay at once. Values < 1 mean 1.
	Concurrency int
}

func NewEngine(store Store, logger *slog.Logger, concurrency int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Store: store, Logger: logger, Concurrency: concurrency}
}

// ItemFailure records an item whose replay could not be completed.
type ItemFailure struct {
	OwnerID    OwnerID
	FoodItemID FoodItemID
	Err        error
}

// Report summarizes a replay run.
type Report struct {
	ItemsProcessed  int
	EventsFixed     int
	EventsUnchanged int
	EventsSkipped   int
	Inconsistencies []Inconsistency
	Failures        []ItemFailure
}

func (r *Report) add(res ItemReplay) {
	r.ItemsProcessed++
	r.EventsFixed += res.Fixed
	r.EventsUnchanged += res.Unchanged
	r.EventsSkipped += res.Skipped
	r.Inconsistencies = append(r.Inconsistencies, res.Inconsistencies...)
}

// ReplayItem replays a single item. Unlike the bulk runs, a failure is
// returned as an error.
func (e *Engine) ReplayItem(ctx context.Context, owner OwnerID, id FoodItemID) (Report, error) {
	item, err := e.Store.GetFoodItem(ctx, owner, id)
	if err != nil {
		return Report{}, WrapStoreError("get food item", err)
	}
	res, err := e.replayOne(ctx, item)
	if err != nil {
		return Report{}, err
	}
	var report Report
	report.add(res)
	e.logReport("item", report)
	return report, nil
}

// ReplayOwner replays every item of one owner.
func (e *Engine) ReplayOwner(ctx context.Context, owner OwnerID) (Report, error) {
	if owner == "" {
		return Report{}, invalid("owner", "required")
	}
	return e.replayMatching(ctx, "owner", FoodItemFilter{Owner: owner})
}

// ReplayAll replays every item in the store.
func (e *Engine) ReplayAll(ctx context.Context) (Report, error) {
	return e.replayMatching(ctx, "all", FoodItemFilter{})
}

func (e *Engine) replayMatching(ctx context.Context, scope string, filter FoodItemFilter) (Report, error) {
	items, err := e.Store.ListFoodItems(ctx, filter)
	if err != nil {
		return Report{}, WrapStoreError("list food items", err)
	}

	results := make([]ItemReplay, len(items))
	errs := make([]error, len(items))

	workers := e.Concurrency
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range items {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = e.replayOne(ctx, items[i])
		}(i)
	}
	wg.Wait()

	var report Report
	for i, item := range items {
		if errs[i] != nil {
			report.Failures = append(report.Failures, ItemFailure{
				OwnerID:    item.OwnerID,
				FoodItemID: item.ID,
				Err:        errs[i],
			})
			e.Logger.Error("replay failed", "owner", item.OwnerID, "food_item", item.ID, "error", errs[i])
			continue
		}
		report.add(results[i])
	}
	e.logReport(scope, report)
	return report, nil
}

func (e *Engine) replayOne(ctx context.Context, item FoodItem) (ItemReplay, error) {
	var res ItemReplay
	err := atomically(ctx, e.Store, func(s Store) error {
		// Re-read inside the transaction so a concurrent write is not lost.
		current, events, err := loadItem(ctx, s, item.OwnerID, item.ID)
		if err != nil {
			return err
		}
		res = ReplayItem(current, events)
		return persistReplay(ctx, s, res)
	})
	return res, err
}

func (e *Engine) logReport(scope string, r Report) {
	for _, inc := range r.Inconsistencies {
		e.Logger.Warn("replay inconsistency",
			"owner", inc.OwnerID, "food_item", inc.FoodItemID, "event", inc.EventID,
			"running_total", inc.RunningTotal.String(), "observed_total", inc.ObservedTotal.String())
	}
	e.Logger.Info("replay finished",
		"scope", scope,
		"items", r.ItemsProcessed,
		"fixed", r.EventsFixed,
		"unchanged", r.EventsUnchanged,
		"skipped", r.EventsSkipped,
		"failures", len(r.Failures))
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Verification counts consumption events by whether they carry a
// decomposition.
type Verification struct {
	WithDecomposition    int
	WithoutDecomposition int
}

// Complete reports whether every consumption event has been decomposed.
func (v Verification) Complete() bool { return v.WithoutDecomposition == 0 }

// Verify inspects an owner's consumption events without changing anything.
func (e *Engine) Verify(ctx context.Context, owner OwnerID) (Verification, error) {
	events, err := e.Store.ListEvents(ctx, EventFilter{
		Owner: owner,
		Types: []EventType{EventRecordRemaining, EventSettle},
	})
	if err != nil {
		return Verification{}, WrapStoreError("list events", err)
	}
	var v Verification
	for _, ev := range events {
		if c, ok := consumptionPayload(ev.Payload); ok && c.Decomposition != nil {
			v.WithDecomposition++
		} else {
			v.WithoutDecomposition++
		}
	}
	return v, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func consumptionOf(p Payload) Consumption {
	c, _ := consumptionPayload(p)
	return c
}

func consumptionPayload(p Payload) (Consumption, bool) {
	switch v := p.(type) {
	case RecordRemainingPayload:
		return v.Consumption, true
	case SettlePayload:
		return v.Consumption, true
	}
	return Consumption{}, false
}

func withConsumption(p Payload, c Consumption) Payload {
	if _, ok := p.(SettlePayload); ok {
		return SettlePayload{Consumption: c}
	}
	return RecordRemainingPayload{Consumption: c}
}

func payloadEqual(a, b Payload) bool {
	switch x := a.(type) {
	case PreparePayload:
		y, ok := b.(PreparePayload)
		if !ok || x.FoodType != y.FoodType || x.FoodName != y.FoodName ||
			!x.InitialMass.Equal(y.InitialMass) || !x.InitialWater.Equal(y.InitialWater) {
			return false
		}
		if x.PrepareDerived == nil || y.PrepareDerived == nil {
			return x.PrepareDerived == y.PrepareDerived
		}
		return x.Ratio.Equal(y.Ratio)
	case AddWaterPayload:
		y, ok := b.(AddWaterPayload)
		return ok && x.WaterDelta.Equal(y.WaterDelta) && poolChangeEqual(x.PoolChange, y.PoolChange)
	case AddFoodPayload:
		y, ok := b.(AddFoodPayload)
		return ok && x.FoodDelta.Equal(y.FoodDelta) && poolChangeEqual(x.PoolChange, y.PoolChange)
	case RecordRemainingPayload, SettlePayload:
		if a.EventType() != b.EventType() {
			return false
		}
		return consumptionEqual(consumptionOf(a), consumptionOf(b))
	}
	return a == b
}

func poolChangeEqual(a, b *PoolChange) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.PreviousTotal.Equal(b.PreviousTotal) && a.NewTotal.Equal(b.NewTotal) &&
		a.PreviousRatio.Equal(b.PreviousRatio) && a.NewRatio.Equal(b.NewRatio)
}

// consumptionEqual ignores LegacyIntake: it is never rewritten.
func consumptionEqual(a, b Consumption) bool {
	if !a.ObservedTotal.Equal(b.ObservedTotal) {
		return false
	}
	x, y := a.Decomposition, b.Decomposition
	if x == nil || y == nil {
		return x == y
	}
	return x.Consumed.Equal(y.Consumed) &&
		x.DrySolids.Equal(y.DrySolids) &&
		x.BoundWater.Equal(y.BoundWater) &&
		x.AddedWaterConsumed.Equal(y.AddedWaterConsumed) &&
		x.PreviousFoodMass.Equal(y.PreviousFoodMass) &&
		x.NewFoodMass.Equal(y.NewFoodMass) &&
		x.PreviousAddedWater.Equal(y.PreviousAddedWater) &&
		x.NewAddedWater.Equal(y.NewAddedWater)
}

func itemEqual(a, b FoodItem) bool {
	return a.FoodType == b.FoodType &&
		a.FoodName == b.FoodName &&
		a.StartTime.Equal(b.StartTime) &&
		a.InitialFoodMass.Equal(b.InitialFoodMass) &&
		a.InitialAddedWater.Equal(b.InitialAddedWater) &&
		a.FoodMass.Equal(b.FoodMass) &&
		a.AddedWater.Equal(b.AddedWater) &&
		a.Status == b.Status
}
