// Package storetest is a contract suite every intake.TxStore must pass.
//
// Each test uses fresh random owner and entity ids so the suite can run
// against a shared database.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/intake-ledger/intake"
)

// Factory returns a ready store. It is called once per subtest.
type Factory func(t *testing.T) intake.TxStore

// Run executes the full contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("FoodItemRoundTrip", func(t *testing.T) { testFoodItemRoundTrip(t, newStore(t)) })
	t.Run("FoodItemOwnerScope", func(t *testing.T) { testFoodItemOwnerScope(t, newStore(t)) })
	t.Run("ListFoodItemsFilterAndOrder", func(t *testing.T) { testListFoodItems(t, newStore(t)) })
	t.Run("EventRoundTrip", func(t *testing.T) { testEventRoundTrip(t, newStore(t)) })
	t.Run("CanonicalOrder", func(t *testing.T) { testCanonicalOrder(t, newStore(t)) })
	t.Run("EventFilter", func(t *testing.T) { testEventFilter(t, newStore(t)) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateAndDelete(t, newStore(t)) })
	t.Run("WithTxCommit", func(t *testing.T) { testWithTxCommit(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

var base = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

func newOwner() intake.OwnerID { return intake.OwnerID("owner-" + uuid.NewString()) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func foodItem(owner intake.OwnerID, start time.Time) intake.FoodItem {
	return intake.FoodItem{
		ID:                intake.FoodItemID(uuid.NewString()),
		OwnerID:           owner,
		FoodType:          intake.FoodWet,
		FoodName:          "Chicken pate",
		StartTime:         start,
		InitialFoodMass:   dec("100"),
		InitialAddedWater: dec("50.5"),
		FoodMass:          dec("100"),
		AddedWater:        dec("50.5"),
		Status:            intake.StatusActive,
	}
}

func event(owner intake.OwnerID, related intake.FoodItemID, at time.Time, p intake.Payload) intake.Event {
	return intake.Event{
		ID:        intake.EventID(uuid.NewString()),
		OwnerID:   owner,
		Timestamp: at,
		Type:      p.EventType(),
		RelatedID: related,
		Payload:   p,
	}
}

func remaining(observed string) intake.RecordRemainingPayload {
	return intake.RecordRemainingPayload{Consumption: intake.Consumption{ObservedTotal: dec(observed)}}
}

func ids(events []intake.Event) []intake.EventID {
	out := make([]intake.EventID, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

// =============================================================================
// FOOD ITEMS
// =============================================================================

func testFoodItemRoundTrip(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	owner := newOwner()

	// GIVEN: A stored item
	item := foodItem(owner, base)
	created, err := s.InsertFoodItem(ctx, item)
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero(), "CreatedAt is assigned")

	// WHEN: Reading it back
	got, err := s.GetFoodItem(ctx, owner, item.ID)
	require.NoError(t, err)

	// THEN: Every field survives, decimals exactly
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, intake.FoodWet, got.FoodType)
	assert.Equal(t, "Chicken pate", got.FoodName)
	assert.True(t, got.StartTime.Equal(base))
	assert.True(t, got.AddedWater.Equal(dec("50.5")))
	assert.True(t, got.InitialAddedWater.Equal(dec("50.5")))
	assert.Equal(t, intake.StatusActive, got.Status)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
}

func testFoodItemOwnerScope(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	item := foodItem(newOwner(), base)
	_, err := s.InsertFoodItem(ctx, item)
	require.NoError(t, err)

	_, err = s.GetFoodItem(ctx, newOwner(), item.ID)
	assert.ErrorIs(t, err, intake.ErrFoodItemNotFound)

	_, err = s.GetFoodItem(ctx, item.OwnerID, "missing")
	assert.ErrorIs(t, err, intake.ErrFoodItemNotFound)
}

func testListFoodItems(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	owner := newOwner()

	older := foodItem(owner, base)
	newer := foodItem(owner, base.Add(2*time.Hour))
	settled := foodItem(owner, base.Add(time.Hour))
	settled.Status = intake.StatusSettled
	for _, item := range []intake.FoodItem{older, newer, settled} {
		_, err := s.InsertFoodItem(ctx, item)
		require.NoError(t, err)
	}
	_, err := s.InsertFoodItem(ctx, foodItem(newOwner(), base))
	require.NoError(t, err)

	all, err := s.ListFoodItems(ctx, intake.FoodItemFilter{Owner: owner})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, newer.ID, all[0].ID, "newest first")
	assert.Equal(t, older.ID, all[2].ID)

	active, err := s.ListFoodItems(ctx, intake.FoodItemFilter{Owner: owner, Status: intake.StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	window, err := s.ListFoodItems(ctx, intake.FoodItemFilter{Owner: owner, From: base, To: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, window, 2, "To is exclusive")
}

// =============================================================================
// EVENTS
// =============================================================================

func testEventRoundTrip(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	owner := newOwner()
	item := foodItem(owner, base)
	_, err := s.InsertFoodItem(ctx, item)
	require.NoError(t, err)

	ratio := dec("0.85")
	payload := intake.SettlePayload{Consumption: intake.Consumption{
		ObservedTotal: dec("0"),
		Decomposition: &intake.Decomposition{
			Consumed: dec("150.5"), DrySolids: dec("22"), BoundWater: dec("78"),
			AddedWaterConsumed: dec("50.5"), PreviousFoodMass: dec("100"), NewFoodMass: dec("0"),
			PreviousAddedWater: dec("50.5"), NewAddedWater: dec("0"),
		},
		LegacyIntake: &intake.LegacyIntake{Ratio: &ratio},
	}}
	ev := event(owner, item.ID, base.Add(time.Hour), payload)
	created, err := s.InsertEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	obs := event(owner, "", base, intake.EliminationPayload{Weight: dec("12.3"), Category: intake.EliminationFeces})
	_, err = s.InsertEvent(ctx, obs)
	require.NoError(t, err)

	got, err := s.GetEvent(ctx, owner, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, intake.EventSettle, got.Type)
	assert.Equal(t, item.ID, got.RelatedID)
	assert.True(t, got.Timestamp.Equal(base.Add(time.Hour)))

	p, ok := got.Payload.(intake.SettlePayload)
	require.True(t, ok, "payload decodes to its concrete type")
	require.NotNil(t, p.Decomposition)
	assert.True(t, p.DrySolids.Equal(dec("22")))
	assert.True(t, p.AddedWaterConsumed.Equal(dec("50.5")))
	require.NotNil(t, p.LegacyIntake)
	assert.True(t, p.LegacyIntake.Ratio.Equal(ratio))

	gotObs, err := s.GetEvent(ctx, owner, obs.ID)
	require.NoError(t, err)
	assert.Empty(t, gotObs.RelatedID)
	assert.Equal(t, intake.EliminationFeces, gotObs.Payload.(intake.EliminationPayload).Category)

	_, err = s.GetEvent(ctx, newOwner(), ev.ID)
	assert.ErrorIs(t, err, intake.ErrEventNotFound)
}

func testCanonicalOrder(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	owner := newOwner()
	item := foodItem(owner, base)
	_, err := s.InsertFoodItem(ctx, item)
	require.NoError(t, err)

	// GIVEN: Two events sharing a timestamp, inserted after a later one
	later := event(owner, item.ID, base.Add(2*time.Hour), remaining("10"))
	first := event(owner, item.ID, base, intake.PreparePayload{FoodType: intake.FoodWet, InitialMass: dec("100"), InitialWater: dec("0")})
	second := event(owner, item.ID, base, intake.SettlePayload{})
	for _, ev := range []intake.Event{later, first, second} {
		_, err := s.InsertEvent(ctx, ev)
		require.NoError(t, err)
	}

	// WHEN: Listing
	events, err := s.ListEvents(ctx, intake.EventFilter{RelatedID: item.ID})
	require.NoError(t, err)

	// THEN: Timestamp first, insertion order breaks the tie
	assert.Equal(t, []intake.EventID{first.ID, second.ID, later.ID}, ids(events))
	assert.True(t, events[0].CreatedAt.Before(events[1].CreatedAt), "CreatedAt strictly increases")
}

func testEventFilter(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	owner := newOwner()
	item := foodItem(owner, base)
	_, err := s.InsertFoodItem(ctx, item)
	require.NoError(t, err)

	inWindow := event(owner, item.ID, base.Add(time.Hour), remaining("90"))
	atEnd := event(owner, "", base.Add(24*time.Hour), intake.RespirationPayload{Rate: dec("22")})
	med := event(owner, "", base.Add(3*time.Hour), intake.MedicationPayload{DoseType: intake.DoseOther, Dosage: dec("1")})
	other := event(newOwner(), "", base.Add(time.Hour), intake.StatusNotePayload{Note: "someone else"})
	for _, ev := range []intake.Event{inWindow, atEnd, med, other} {
		_, err := s.InsertEvent(ctx, ev)
		require.NoError(t, err)
	}

	day, err := s.ListEvents(ctx, intake.EventFilter{Owner: owner, From: base, To: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []intake.EventID{inWindow.ID, med.ID}, ids(day))

	byType, err := s.ListEvents(ctx, intake.EventFilter{
		Owner: owner,
		Types: []intake.EventType{intake.EventMedication, intake.EventRespiration},
	})
	require.NoError(t, err)
	assert.Equal(t, []intake.EventID{med.ID, atEnd.ID}, ids(byType))
}

func testUpdateAndDelete(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	owner := newOwner()
	item := foodItem(owner, base)
	_, err := s.InsertFoodItem(ctx, item)
	require.NoError(t, err)

	// Item update keeps owner and CreatedAt
	item.FoodMass = dec("40")
	item.AddedWater = dec("0")
	item.Status = intake.StatusSettled
	require.NoError(t, s.UpdateFoodItem(ctx, item))
	got, err := s.GetFoodItem(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.True(t, got.FoodMass.Equal(dec("40")))
	assert.Equal(t, intake.StatusSettled, got.Status)

	// Event update touches timestamp and payload only
	ev := event(owner, item.ID, base, remaining("90"))
	_, err = s.InsertEvent(ctx, ev)
	require.NoError(t, err)
	ev.Timestamp = base.Add(time.Minute)
	ev.Payload = remaining("80")
	require.NoError(t, s.UpdateEvent(ctx, ev))
	gotEv, err := s.GetEvent(ctx, owner, ev.ID)
	require.NoError(t, err)
	assert.True(t, gotEv.Timestamp.Equal(base.Add(time.Minute)))
	assert.True(t, gotEv.Payload.(intake.RecordRemainingPayload).ObservedTotal.Equal(dec("80")))

	// Deletes
	require.NoError(t, s.DeleteEvent(ctx, ev.ID))
	_, err = s.GetEvent(ctx, owner, ev.ID)
	assert.ErrorIs(t, err, intake.ErrEventNotFound)
	require.NoError(t, s.DeleteFoodItem(ctx, item.ID))
	_, err = s.GetFoodItem(ctx, owner, item.ID)
	assert.ErrorIs(t, err, intake.ErrFoodItemNotFound)

	// Missing rows
	assert.ErrorIs(t, s.UpdateFoodItem(ctx, item), intake.ErrFoodItemNotFound)
	assert.ErrorIs(t, s.UpdateEvent(ctx, ev), intake.ErrEventNotFound)
	assert.ErrorIs(t, s.DeleteEvent(ctx, ev.ID), intake.ErrEventNotFound)
	assert.ErrorIs(t, s.DeleteFoodItem(ctx, item.ID), intake.ErrFoodItemNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testWithTxCommit(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	owner := newOwner()
	item := foodItem(owner, base)

	err := s.WithTx(ctx, func(tx intake.Store) error {
		if _, err := tx.InsertFoodItem(ctx, item); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes.
		if _, err := tx.GetFoodItem(ctx, owner, item.ID); err != nil {
			return err
		}
		_, err := tx.InsertEvent(ctx, event(owner, item.ID, base, intake.PreparePayload{
			FoodType: intake.FoodWet, InitialMass: dec("100"), InitialWater: dec("50.5"),
		}))
		return err
	})
	require.NoError(t, err)

	events, err := s.ListEvents(ctx, intake.EventFilter{RelatedID: item.ID})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func testWithTxRollback(t *testing.T, s intake.TxStore) {
	ctx := context.Background()
	owner := newOwner()
	item := foodItem(owner, base)
	boom := errors.New("boom")

	// GIVEN: A transaction that writes then fails
	err := s.WithTx(ctx, func(tx intake.Store) error {
		if _, err := tx.InsertFoodItem(ctx, item); err != nil {
			return err
		}
		if _, err := tx.InsertEvent(ctx, event(owner, item.ID, base, remaining("1"))); err != nil {
			return err
		}
		return boom
	})

	// THEN: The error comes back unchanged and nothing was written
	assert.ErrorIs(t, err, boom)
	_, err = s.GetFoodItem(ctx, owner, item.ID)
	assert.ErrorIs(t, err, intake.ErrFoodItemNotFound)
	events, err := s.ListEvents(ctx, intake.EventFilter{Owner: owner})
	require.NoError(t, err)
	assert.Empty(t, events)
}
