package intake_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/intake-ledger/intake"
	"github.com/warp/intake-ledger/intake/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// seedItem writes an item directly, bypassing the tracker, the way rows
// from older app versions look.
func seedItem(t *testing.T, s intake.Store, o intake.OwnerID, id intake.FoodItemID, ft intake.FoodType, mass, water string) intake.FoodItem {
	t.Helper()
	item, err := s.InsertFoodItem(context.Background(), intake.FoodItem{
		ID: id, OwnerID: o, FoodType: ft, FoodName: "seeded", StartTime: t0,
		InitialFoodMass: d(mass), InitialAddedWater: d(water),
		FoodMass: d(mass), AddedWater: d(water),
		Status: intake.StatusActive,
	})
	require.NoError(t, err)
	return item
}

func seedEvent(t *testing.T, s intake.Store, item intake.FoodItem, hour int, p intake.Payload) intake.Event {
	t.Helper()
	ev, err := s.InsertEvent(context.Background(), intake.Event{
		ID:        intake.EventID(fmt.Sprintf("%s-ev-%d-%s", item.ID, hour, p.EventType())),
		OwnerID:   item.OwnerID,
		Timestamp: hours(hour),
		Type:      p.EventType(),
		RelatedID: item.ID,
		Payload:   p,
	})
	require.NoError(t, err)
	return ev
}

func rawPrepare(item intake.FoodItem) intake.PreparePayload {
	return intake.PreparePayload{
		FoodType: item.FoodType, FoodName: item.FoodName,
		InitialMass: item.InitialFoodMass, InitialWater: item.InitialAddedWater,
	}
}

func legacyRemaining(observed, foodConsumed, ratio string) intake.RecordRemainingPayload {
	fc, r := d(foodConsumed), d(ratio)
	return intake.RecordRemainingPayload{Consumption: intake.Consumption{
		ObservedTotal: d(observed),
		LegacyIntake:  &intake.LegacyIntake{FoodConsumed: &fc, Ratio: &r},
	}}
}

func bareRemaining(observed string) intake.RecordRemainingPayload {
	return intake.RecordRemainingPayload{Consumption: intake.Consumption{ObservedTotal: d(observed)}}
}

func newTestEngine(s intake.Store) *intake.Engine {
	return intake.NewEngine(s, quietLogger(), 4)
}

// failingStore fails ListEvents for one item. It deliberately exposes only
// intake.Store so replays run outside a transaction.
type failingStore struct {
	intake.Store
	failFor intake.FoodItemID
}

var errDiskOnFire = errors.New("disk on fire")

func (f failingStore) ListEvents(ctx context.Context, filter intake.EventFilter) ([]intake.Event, error) {
	if filter.RelatedID == f.failFor {
		return nil, errDiskOnFire
	}
	return f.Store.ListEvents(ctx, filter)
}

// =============================================================================
// PURE REPLAY
// =============================================================================

func TestReplayItem_DecomposesLegacyHistory(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	// GIVEN: A wet item with 50g water and a legacy observation of 75g left
	item := seedItem(t, mem, owner, "legacy", intake.FoodWet, "100", "50")
	seedEvent(t, mem, item, 0, rawPrepare(item))
	rec := seedEvent(t, mem, item, 4, legacyRemaining("75", "75", "0.85"))

	// WHEN: The item is replayed
	report, err := newTestEngine(mem).ReplayItem(ctx, owner, item.ID)
	require.NoError(t, err)

	// THEN: Both events gain derived fields
	assert.Equal(t, 1, report.ItemsProcessed)
	assert.Equal(t, 2, report.EventsFixed)
	assert.Zero(t, report.EventsSkipped)

	ev, err := mem.GetEvent(ctx, owner, rec.ID)
	require.NoError(t, err)
	dec := decompositionOf(t, ev)
	assertDecimal(t, "11", dec.DrySolids)
	assertDecimal(t, "64", dec.TotalWater())

	// AND: Legacy fields are kept alongside
	p := ev.Payload.(intake.RecordRemainingPayload)
	require.NotNil(t, p.LegacyIntake)
	assertDecimal(t, "75", *p.LegacyIntake.FoodConsumed)

	// AND: The cached pools now reflect the consumption
	got, err := mem.GetFoodItem(ctx, owner, item.ID)
	require.NoError(t, err)
	assertDecimal(t, "50", got.FoodMass)
	assertDecimal(t, "25", got.AddedWater)
}

func TestReplayItem_Idempotent(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	item := seedItem(t, mem, owner, "legacy", intake.FoodDry, "50", "0")
	seedEvent(t, mem, item, 0, rawPrepare(item))
	seedEvent(t, mem, item, 1, intake.AddWaterPayload{WaterDelta: d("20")})
	seedEvent(t, mem, item, 2, intake.AddFoodPayload{FoodDelta: d("30")})
	seedEvent(t, mem, item, 3, bareRemaining("40"))
	engine := newTestEngine(mem)

	first, err := engine.ReplayItem(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, first.EventsFixed)
	afterFirst, err := mem.ListEvents(ctx, intake.EventFilter{RelatedID: item.ID})
	require.NoError(t, err)

	second, err := engine.ReplayItem(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.Zero(t, second.EventsFixed)
	assert.Equal(t, 4, second.EventsUnchanged)

	afterSecond, err := mem.ListEvents(ctx, intake.EventFilter{RelatedID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)
}

func TestReplayItem_SkipsInconsistentObservation(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	// GIVEN: 100g, then an impossible 120g reading, then 60g
	item := seedItem(t, mem, owner, "bad-scale", intake.FoodWet, "100", "0")
	seedEvent(t, mem, item, 0, rawPrepare(item))
	bad := seedEvent(t, mem, item, 1, bareRemaining("120"))
	good := seedEvent(t, mem, item, 2, bareRemaining("60"))

	// WHEN: Replayed
	report, err := newTestEngine(mem).ReplayOwner(ctx, owner)
	require.NoError(t, err)

	// THEN: The bad reading is reported and left alone
	assert.Equal(t, 1, report.EventsSkipped)
	require.Len(t, report.Inconsistencies, 1)
	inc := report.Inconsistencies[0]
	assert.Equal(t, bad.ID, inc.EventID)
	assertDecimal(t, "100", inc.RunningTotal)
	assertDecimal(t, "120", inc.ObservedTotal)

	ev, err := mem.GetEvent(ctx, owner, bad.ID)
	require.NoError(t, err)
	assert.Nil(t, ev.Payload.(intake.RecordRemainingPayload).Decomposition)

	// AND: Later events are computed as if it never happened
	ev, err = mem.GetEvent(ctx, owner, good.ID)
	require.NoError(t, err)
	assertDecimal(t, "40", decompositionOf(t, ev).Consumed)
}

func TestReplayItem_SettleEventSettlesItem(t *testing.T) {
	item := intake.FoodItem{
		ID: "stale", OwnerID: owner, FoodType: intake.FoodWet, StartTime: t0,
		InitialFoodMass: d("100"), InitialAddedWater: d("0"),
		FoodMass: d("100"), AddedWater: d("0"), Status: intake.StatusActive,
	}
	events := []intake.Event{
		{ID: "p", OwnerID: owner, RelatedID: item.ID, Type: intake.EventPrepare, Timestamp: t0, Payload: rawPrepare(item)},
		{ID: "s", OwnerID: owner, RelatedID: item.ID, Type: intake.EventSettle, Timestamp: hours(3),
			Payload: intake.SettlePayload{Consumption: intake.Consumption{ObservedTotal: d("10")}}},
	}

	res := intake.ReplayItem(item, events)

	assert.True(t, res.ItemChanged)
	assert.Equal(t, intake.StatusSettled, res.Item.Status)
	assertDecimal(t, "10", res.Item.TotalRemaining())
}

func TestReplayItem_UsesItemInitialsWithoutPrepareEvent(t *testing.T) {
	item := intake.FoodItem{
		ID: "orphan", OwnerID: owner, FoodType: intake.FoodWater, StartTime: t0,
		InitialFoodMass: d("200"), InitialAddedWater: d("0"),
		FoodMass: d("200"), AddedWater: d("0"), Status: intake.StatusActive,
	}
	events := []intake.Event{
		{ID: "r", OwnerID: owner, RelatedID: item.ID, Type: intake.EventRecordRemaining, Timestamp: hours(1), Payload: bareRemaining("150")},
		{ID: "x", OwnerID: owner, RelatedID: "other", Type: intake.EventRecordRemaining, Timestamp: hours(1), Payload: bareRemaining("1")},
		{ID: "n", OwnerID: owner, Type: intake.EventStatusNote, Timestamp: hours(1), Payload: intake.StatusNotePayload{Note: "ignored"}},
	}

	res := intake.ReplayItem(item, events)

	require.Len(t, res.Events, 1, "unrelated events are ignored")
	assertDecimal(t, "50", decompositionOf(t, res.Events[0]).BoundWater)
	assertDecimal(t, "150", res.Item.FoodMass)
}

func TestReplayItem_IsDeterministic(t *testing.T) {
	item := intake.FoodItem{
		ID: "det", OwnerID: owner, FoodType: intake.FoodWet, StartTime: t0,
		InitialFoodMass: d("85"), InitialAddedWater: d("15"),
		FoodMass: d("85"), AddedWater: d("15"), Status: intake.StatusActive,
	}
	// Same timestamp: insertion order (CreatedAt) decides.
	events := []intake.Event{
		{ID: "p", RelatedID: item.ID, Type: intake.EventPrepare, Timestamp: t0, CreatedAt: t0, Payload: rawPrepare(item)},
		{ID: "r2", RelatedID: item.ID, Type: intake.EventRecordRemaining, Timestamp: hours(2), CreatedAt: hours(3), Payload: bareRemaining("30")},
		{ID: "w", RelatedID: item.ID, Type: intake.EventAddWater, Timestamp: hours(2), CreatedAt: hours(2), Payload: intake.AddWaterPayload{WaterDelta: d("10")}},
		{ID: "r1", RelatedID: item.ID, Type: intake.EventRecordRemaining, Timestamp: hours(1), CreatedAt: hours(1), Payload: bareRemaining("70")},
	}

	a := intake.ReplayItem(item, events)
	b := intake.ReplayItem(item, events)

	assert.Equal(t, a, b)
	order := make([]intake.EventID, len(a.Events))
	for i, ev := range a.Events {
		order[i] = ev.ID
	}
	assert.Equal(t, []intake.EventID{"p", "r1", "w", "r2"}, order)
	assertDecimal(t, "30", a.Item.TotalRemaining())
}

// =============================================================================
// ENGINE
// =============================================================================

func TestEngine_BestEffortAcrossItems(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	healthy := seedItem(t, mem, owner, "healthy", intake.FoodWet, "100", "0")
	seedEvent(t, mem, healthy, 0, rawPrepare(healthy))
	broken := seedItem(t, mem, owner, "broken", intake.FoodWet, "100", "0")
	seedEvent(t, mem, broken, 0, rawPrepare(broken))

	engine := newTestEngine(failingStore{Store: mem, failFor: broken.ID})

	// WHEN: One item's events cannot be read
	report, err := engine.ReplayOwner(ctx, owner)

	// THEN: The run completes and records the failure
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsProcessed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, broken.ID, report.Failures[0].FoodItemID)
	assert.ErrorIs(t, report.Failures[0].Err, errDiskOnFire)
	assert.True(t, intake.IsRetryable(report.Failures[0].Err))

	// AND: A single-item replay surfaces the error
	_, err = engine.ReplayItem(ctx, owner, broken.ID)
	assert.ErrorIs(t, err, errDiskOnFire)
}

func TestEngine_ReplayAllAcrossOwners(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	for o := 0; o < 3; o++ {
		ownerID := intake.OwnerID(fmt.Sprintf("cat-%d", o))
		for i := 0; i < 7; i++ {
			item := seedItem(t, mem, ownerID, intake.FoodItemID(fmt.Sprintf("%s-item-%d", ownerID, i)), intake.FoodWet, "100", "50")
			seedEvent(t, mem, item, 0, rawPrepare(item))
			seedEvent(t, mem, item, 1, legacyRemaining("75", "75", "0.85"))
		}
	}

	report, err := newTestEngine(mem).ReplayAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 21, report.ItemsProcessed)
	assert.Equal(t, 42, report.EventsFixed)
	assert.Empty(t, report.Failures)

	items, err := mem.ListFoodItems(ctx, intake.FoodItemFilter{})
	require.NoError(t, err)
	for _, item := range items {
		assertDecimal(t, "75", item.TotalRemaining(), string(item.ID))
	}
}

func TestEngine_ReplayOwnerRequiresOwner(t *testing.T) {
	_, err := newTestEngine(store.NewMemory()).ReplayOwner(context.Background(), "")
	assert.ErrorIs(t, err, intake.ErrInvalidInput)
}

func TestEngine_ReplayItemNotFound(t *testing.T) {
	_, err := newTestEngine(store.NewMemory()).ReplayItem(context.Background(), owner, "missing")
	assert.ErrorIs(t, err, intake.ErrFoodItemNotFound)
}

func TestEngine_Verify(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	tr := intake.NewTracker(mem, quietLogger())

	// GIVEN: One decomposed observation and one legacy observation
	live, err := tr.Prepare(ctx, intake.PrepareInput{Owner: owner, FoodType: intake.FoodWet, InitialMass: d("100"), At: t0})
	require.NoError(t, err)
	_, err = tr.RecordRemaining(ctx, owner, live.Item.ID, d("60"), hours(1))
	require.NoError(t, err)
	old := seedItem(t, mem, owner, "old", intake.FoodWet, "100", "0")
	seedEvent(t, mem, old, 0, rawPrepare(old))
	seedEvent(t, mem, old, 1, legacyRemaining("50", "50", "0.78"))
	engine := newTestEngine(mem)

	// WHEN/THEN: Verification finds the gap
	v, err := engine.Verify(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, v.WithDecomposition)
	assert.Equal(t, 1, v.WithoutDecomposition)
	assert.False(t, v.Complete())

	// AND: A replay closes it
	_, err = engine.ReplayOwner(ctx, owner)
	require.NoError(t, err)
	v, err = engine.Verify(ctx, owner)
	require.NoError(t, err)
	assert.True(t, v.Complete())
	assert.Equal(t, 2, v.WithDecomposition)
}
