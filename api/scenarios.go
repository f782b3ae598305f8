/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate one owner's ledger with
	realistic data for demos. Each scenario goes through the Tracker, so
	the data is exactly what a user would have produced by hand.

AVAILABLE SCENARIOS:

	wet-food-with-water: Canned food mixed with water, eaten over the day
	refill-day:          Kibble topped up with water and more kibble
	water-bowl:          Water bowl plus a fully consumed milk serving
	health-log:          Elimination, medication, respiration, notes
	legacy-history:      Rows written before decomposition existed,
	                     then healed by a replay

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "refill-day", "owner": "demo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, owner, day)
 3. Add case to scenarioLoaders

NOTE:

	Scenarios add to the owner's ledger; they never delete anything.
	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Shared helpers
  - intake/tracker.go: The operations each loader calls
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/intake-ledger/intake"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "wet-food-with-water",
		Name:        "Wet Food With Water",
		Description: "100g canned food + 50g water, eaten in two sittings",
	},
	{
		ID:          "refill-day",
		Name:        "Refill Day",
		Description: "Kibble topped up with water and more kibble before settling",
	},
	{
		ID:          "water-bowl",
		Name:        "Water Bowl",
		Description: "Plain water bowl and a fully consumed milk serving",
	},
	{
		ID:          "health-log",
		Name:        "Health Log",
		Description: "Urine and feces weights, diuretic dose, resting breathing rate, notes",
	},
	{
		ID:          "legacy-history",
		Name:        "Legacy History",
		Description: "Observations stored without decomposition, repaired by a replay",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, owner intake.OwnerID, day time.Time) error

var scenarioLoaders = map[string]scenarioLoader{
	"wet-food-with-water": (*Handler).loadWetFoodScenario,
	"refill-day":          (*Handler).loadRefillDayScenario,
	"water-bowl":          (*Handler).loadWaterBowlScenario,
	"health-log":          (*Handler).loadHealthLogScenario,
	"legacy-history":      (*Handler).loadLegacyHistoryScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the requested scenario for today's date.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required", nil)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	day := intake.DayWindow(time.Now(), h.Stats.Location).Start
	if err := load(h, r.Context(), intake.OwnerID(req.Owner), day); err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID, "owner", req.Owner)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadWetFoodScenario(ctx context.Context, owner intake.OwnerID, day time.Time) error {
	tr, err := h.Tracker.Prepare(ctx, intake.PrepareInput{
		Owner:        owner,
		FoodType:     intake.FoodWet,
		FoodName:     "Chicken pate",
		InitialMass:  decimal.NewFromInt(100),
		InitialWater: decimal.NewFromInt(50),
		At:           day.Add(8 * time.Hour),
	})
	if err != nil {
		return err
	}
	id := tr.Item.ID
	if _, err := h.Tracker.RecordRemaining(ctx, owner, id, decimal.NewFromInt(75), day.Add(12*time.Hour)); err != nil {
		return err
	}
	_, err = h.Tracker.Settle(ctx, owner, id, decimalPtr(decimal.Zero), day.Add(18*time.Hour))
	return err
}

func (h *Handler) loadRefillDayScenario(ctx context.Context, owner intake.OwnerID, day time.Time) error {
	tr, err := h.Tracker.Prepare(ctx, intake.PrepareInput{
		Owner:       owner,
		FoodType:    intake.FoodDry,
		FoodName:    "Renal kibble",
		InitialMass: decimal.NewFromInt(50),
		At:          day.Add(7 * time.Hour),
	})
	if err != nil {
		return err
	}
	id := tr.Item.ID

	steps := []func() error{
		func() error {
			_, err := h.Tracker.AddWater(ctx, owner, id, decimal.NewFromInt(20), day.Add(9*time.Hour))
			return err
		},
		func() error {
			_, err := h.Tracker.AddFood(ctx, owner, id, decimal.NewFromInt(30), day.Add(11*time.Hour))
			return err
		},
		func() error {
			_, err := h.Tracker.RecordRemaining(ctx, owner, id, decimal.NewFromInt(40), day.Add(15*time.Hour))
			return err
		},
		func() error {
			_, err := h.Tracker.Settle(ctx, owner, id, decimalPtr(decimal.NewFromInt(5)), day.Add(21*time.Hour))
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadWaterBowlScenario(ctx context.Context, owner intake.OwnerID, day time.Time) error {
	bowl, err := h.Tracker.Prepare(ctx, intake.PrepareInput{
		Owner:       owner,
		FoodType:    intake.FoodWater,
		FoodName:    "Water bowl",
		InitialMass: decimal.NewFromInt(200),
		At:          day.Add(6 * time.Hour),
	})
	if err != nil {
		return err
	}
	if _, err := h.Tracker.RecordRemaining(ctx, owner, bowl.Item.ID, decimal.NewFromInt(150), day.Add(20*time.Hour)); err != nil {
		return err
	}

	_, err = h.Tracker.Prepare(ctx, intake.PrepareInput{
		Owner:         owner,
		FoodType:      intake.FoodWater,
		FoodName:      "Goat milk",
		InitialMass:   decimal.NewFromInt(30),
		At:            day.Add(10 * time.Hour),
		FullyConsumed: true,
	})
	return err
}

func (h *Handler) loadHealthLogScenario(ctx context.Context, owner intake.OwnerID, day time.Time) error {
	observations := []struct {
		at      time.Duration
		payload intake.Payload
	}{
		{7 * time.Hour, intake.EliminationPayload{Weight: decimal.NewFromInt(42), Category: intake.EliminationUrine}},
		{8 * time.Hour, intake.MedicationPayload{DoseType: intake.DoseDiuretic, DoseName: "Furosemide", Dosage: decimal.RequireFromString("2.5")}},
		{9 * time.Hour, intake.RespirationPayload{Rate: decimal.NewFromInt(24)}},
		{13 * time.Hour, intake.EliminationPayload{Weight: decimal.NewFromInt(18), Category: intake.EliminationFeces}},
		{20 * time.Hour, intake.MedicationPayload{DoseType: intake.DoseMirtazapine, Dosage: decimal.RequireFromString("1.88")}},
		{21 * time.Hour, intake.StatusNotePayload{Note: "Ate well, sleeping on the windowsill"}},
	}
	for _, o := range observations {
		if _, err := h.Tracker.RecordObservation(ctx, owner, day.Add(o.at), o.payload); err != nil {
			return err
		}
	}
	return nil
}

// loadLegacyHistoryScenario writes rows the way the first version of the
// app stored them (combined foodConsumed/ratio, no decomposition) and lets
// the replay engine rewrite them.
func (h *Handler) loadLegacyHistoryScenario(ctx context.Context, owner intake.OwnerID, day time.Time) error {
	start := day.Add(-24 * time.Hour).Add(8 * time.Hour)
	mass := decimal.NewFromInt(100)
	water := decimal.NewFromInt(50)

	item, err := h.Store.InsertFoodItem(ctx, intake.FoodItem{
		ID:                intake.FoodItemID(uuid.NewString()),
		OwnerID:           owner,
		FoodType:          intake.FoodWet,
		FoodName:          "Tuna mousse",
		StartTime:         start,
		InitialFoodMass:   mass,
		InitialAddedWater: water,
		FoodMass:          mass,
		AddedWater:        water,
		Status:            intake.StatusActive,
	})
	if err != nil {
		return err
	}

	ratio := decimal.RequireFromString("0.85")
	events := []intake.Event{
		{
			Timestamp: start,
			Type:      intake.EventPrepare,
			Payload: intake.PreparePayload{
				FoodType: intake.FoodWet, FoodName: "Tuna mousse", InitialMass: mass, InitialWater: water,
			},
		},
		{
			Timestamp: start.Add(4 * time.Hour),
			Type:      intake.EventRecordRemaining,
			Payload: intake.RecordRemainingPayload{Consumption: intake.Consumption{
				ObservedTotal: decimal.NewFromInt(90),
				LegacyIntake:  &intake.LegacyIntake{FoodConsumed: decimalPtr(decimal.NewFromInt(60)), Ratio: &ratio},
			}},
		},
		{
			Timestamp: start.Add(10 * time.Hour),
			Type:      intake.EventRecordRemaining,
			Payload: intake.RecordRemainingPayload{Consumption: intake.Consumption{
				ObservedTotal: decimal.NewFromInt(30),
				LegacyIntake:  &intake.LegacyIntake{FoodConsumed: decimalPtr(decimal.NewFromInt(60)), Ratio: &ratio},
			}},
		},
	}
	for _, ev := range events {
		ev.ID = intake.EventID(uuid.NewString())
		ev.OwnerID = owner
		ev.RelatedID = item.ID
		if _, err := h.Store.InsertEvent(ctx, ev); err != nil {
			return err
		}
	}

	_, err = h.Engine.ReplayItem(ctx, owner, item.ID)
	return err
}
