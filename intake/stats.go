/*
stats.go - Per-window intake aggregation

PURPOSE:
  Folds ledger events into totals for a window. Consumes the log only;
  owns no state and never looks at FoodItem pools.

FOLD RULES:
  record_remaining / settle
    decomposed:  dry += drySolids, water += boundWater + addedWaterConsumed
    legacy:      dry += foodConsumed·(1 - ratio)
                 water += waterConsumed, or foodConsumed·ratio when absent
  elimination    per-category weight sum (urine, feces)
  medication     dosage sum
  respiration    rates collected in canonical order
  status_note    notes collected in canonical order

  Totals are clamped to >= 0 at the end.

SEE ALSO:
  - period.go: Window and DayWindow
*/
package intake

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Summary holds the totals of one window.
type Summary struct {
	Date   string // start of the window, YYYY-MM-DD in the window's location
	Window Window

	DryFoodIntake decimal.Decimal
	WaterIntake   decimal.Decimal

	Elimination     map[EliminationCategory]decimal.Decimal
	MedicationTotal decimal.Decimal

	RespirationRates []decimal.Decimal
	StatusNotes      []string

	// Consumption events that had neither a decomposition nor legacy fields.
	Undecomposed int
}

// Summarize folds the events that fall inside w.
func Summarize(events []Event, w Window) Summary {
	s := Summary{
		Date:            w.Start.Format("2006-01-02"),
		Window:          w,
		DryFoodIntake:   decimal.Zero,
		WaterIntake:     decimal.Zero,
		MedicationTotal: decimal.Zero,
		Elimination: map[EliminationCategory]decimal.Decimal{
			EliminationUrine: decimal.Zero,
			EliminationFeces: decimal.Zero,
		},
	}

	ordered := make([]Event, 0, len(events))
	for _, ev := range events {
		if w.Contains(ev.Timestamp) {
			ordered = append(ordered, ev)
		}
	}
	SortEvents(ordered)

	for _, ev := range ordered {
		switch p := ev.Payload.(type) {
		case RecordRemainingPayload:
			s.addConsumption(p.Consumption)
		case SettlePayload:
			s.addConsumption(p.Consumption)
		case EliminationPayload:
			s.Elimination[p.Category] = s.Elimination[p.Category].Add(p.Weight)
		case MedicationPayload:
			s.MedicationTotal = s.MedicationTotal.Add(p.Dosage)
		case RespirationPayload:
			s.RespirationRates = append(s.RespirationRates, p.Rate)
		case StatusNotePayload:
			s.StatusNotes = append(s.StatusNotes, p.Note)
		}
	}

	s.DryFoodIntake = clampZero(s.DryFoodIntake)
	s.WaterIntake = clampZero(s.WaterIntake)
	s.MedicationTotal = clampZero(s.MedicationTotal)
	for k, v := range s.Elimination {
		s.Elimination[k] = clampZero(v)
	}
	return s
}

func (s *Summary) addConsumption(c Consumption) {
	if d := c.Decomposition; d != nil {
		s.DryFoodIntake = s.DryFoodIntake.Add(d.DrySolids)
		s.WaterIntake = s.WaterIntake.Add(d.TotalWater())
		return
	}
	legacy := c.LegacyIntake
	if legacy == nil || legacy.FoodConsumed == nil {
		s.Undecomposed++
		return
	}
	ratio := decimal.Zero
	if legacy.Ratio != nil {
		ratio = *legacy.Ratio
	}
	food := *legacy.FoodConsumed
	s.DryFoodIntake = s.DryFoodIntake.Add(food.Mul(decimal.NewFromInt(1).Sub(ratio)))
	if legacy.WaterConsumed != nil {
		s.WaterIntake = s.WaterIntake.Add(*legacy.WaterConsumed)
	} else {
		s.WaterIntake = s.WaterIntake.Add(food.Mul(ratio))
	}
}

// DailySummaries returns one summary per local day, starting with the day
// containing first.
func DailySummaries(events []Event, first time.Time, days int, loc *time.Location) []Summary {
	windows := DayWindows(first, days, loc)
	out := make([]Summary, 0, len(windows))
	for _, w := range windows {
		out = append(out, Summarize(events, w))
	}
	return out
}

// =============================================================================
// STATS SERVICE
// =============================================================================

// StatsService reads an owner's events from the store and summarizes them.
type StatsService struct {
	Store    EventStore
	Location *time.Location
}

func NewStatsService(store EventStore, loc *time.Location) *StatsService {
	if loc == nil {
		loc = time.UTC
	}
	return &StatsService{Store: store, Location: loc}
}

// Daily returns summaries for days consecutive days starting at day.
func (s *StatsService) Daily(ctx context.Context, owner OwnerID, day time.Time, days int) ([]Summary, error) {
	if owner == "" {
		return nil, invalid("owner", "required")
	}
	if days < 1 {
		return nil, invalid("days", "must be at least 1")
	}
	windows := DayWindows(day, days, s.Location)
	events, err := s.Store.ListEvents(ctx, EventFilter{
		Owner: owner,
		From:  windows[0].Start,
		To:    windows[len(windows)-1].End,
	})
	if err != nil {
		return nil, WrapStoreError("list events", err)
	}
	return DailySummaries(events, day, days, s.Location), nil
}
