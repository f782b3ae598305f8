/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the intake domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MASSES:
  Decimal fields accept JSON numbers or strings and are written as
  strings ("12.5"), so no precision is lost on either side.

VALIDATION:
  Validation is done by the intake package, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/intake-ledger/intake"
)

// =============================================================================
// REQUESTS
// =============================================================================

// PrepareRequest creates a food item.
type PrepareRequest struct {
	FoodType      string          `json:"food_type"`
	FoodName      string          `json:"food_name"`
	InitialMass   decimal.Decimal `json:"initial_mass"`
	InitialWater  decimal.Decimal `json:"initial_water"`
	At            *time.Time      `json:"at,omitempty"`
	FullyConsumed bool            `json:"fully_consumed"`
}

// AmountRequest adds water or food to an item.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
	At     *time.Time      `json:"at,omitempty"`
}

// RemainingRequest records what is left in the bowl. ObservedTotal is
// required for /remaining and defaults to 0 for /settle.
type RemainingRequest struct {
	ObservedTotal *decimal.Decimal `json:"observed_total,omitempty"`
	At            *time.Time       `json:"at,omitempty"`
}

// ObservationRequest records an independent observation. Payload uses the
// same JSON keys as the stored payload of that type.
type ObservationRequest struct {
	Type    string          `json:"type"`
	At      *time.Time      `json:"at,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// CorrectionRequest replaces raw fields of an event.
type CorrectionRequest struct {
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// LoadScenarioRequest seeds demo data for an owner.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	Owner      string `json:"owner"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type FoodItemDTO struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	FoodType          string          `json:"food_type"`
	FoodName          string          `json:"food_name"`
	StartTime         time.Time       `json:"start_time"`
	InitialFoodMass   decimal.Decimal `json:"initial_food_mass"`
	InitialAddedWater decimal.Decimal `json:"initial_added_water"`
	FoodMass          decimal.Decimal `json:"food_mass"`
	AddedWater        decimal.Decimal `json:"added_water"`
	TotalRemaining    decimal.Decimal `json:"total_remaining"`
	Ratio             decimal.Decimal `json:"ratio"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

type EventDTO struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	RelatedID string         `json:"related_id,omitempty"`
	Payload   intake.Payload `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// TransitionDTO is returned by every food-item action.
type TransitionDTO struct {
	Item  FoodItemDTO `json:"item"`
	Event EventDTO    `json:"event"`
}

type SummaryDTO struct {
	Date             string            `json:"date"`
	Start            time.Time         `json:"start"`
	End              time.Time         `json:"end"`
	DryFoodIntake    decimal.Decimal   `json:"dry_food_intake"`
	WaterIntake      decimal.Decimal   `json:"water_intake"`
	Urine            decimal.Decimal   `json:"urine"`
	Feces            decimal.Decimal   `json:"feces"`
	MedicationTotal  decimal.Decimal   `json:"medication_total"`
	RespirationRates []decimal.Decimal `json:"respiration_rates"`
	StatusNotes      []string          `json:"status_notes"`
	Undecomposed     int               `json:"undecomposed"`
}

type InconsistencyDTO struct {
	FoodItemID    string          `json:"food_item_id"`
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	RunningTotal  decimal.Decimal `json:"running_total"`
	ObservedTotal decimal.Decimal `json:"observed_total"`
}

type FailureDTO struct {
	OwnerID    string `json:"owner_id"`
	FoodItemID string `json:"food_item_id"`
	Error      string `json:"error"`
}

type ReplayReportDTO struct {
	ItemsProcessed  int                `json:"items_processed"`
	EventsFixed     int                `json:"events_fixed"`
	EventsUnchanged int                `json:"events_unchanged"`
	EventsSkipped   int                `json:"events_skipped"`
	Inconsistencies []InconsistencyDTO `json:"inconsistencies"`
	Failures        []FailureDTO       `json:"failures"`
}

type VerificationDTO struct {
	WithDecomposition    int  `json:"with_decomposition"`
	WithoutDecomposition int  `json:"without_decomposition"`
	Complete             bool `json:"complete"`
}

type FoodTypeDTO struct {
	ID                 string          `json:"id"`
	BoundWaterFraction decimal.Decimal `json:"bound_water_fraction"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toFoodItemDTO(item intake.FoodItem) FoodItemDTO {
	return FoodItemDTO{
		ID:                string(item.ID),
		OwnerID:           string(item.OwnerID),
		FoodType:          string(item.FoodType),
		FoodName:          item.FoodName,
		StartTime:         item.StartTime,
		InitialFoodMass:   item.InitialFoodMass,
		InitialAddedWater: item.InitialAddedWater,
		FoodMass:          item.FoodMass,
		AddedWater:        item.AddedWater,
		TotalRemaining:    item.TotalRemaining(),
		Ratio:             item.Ratio(),
		Status:            string(item.Status),
		CreatedAt:         item.CreatedAt,
	}
}

func toEventDTO(ev intake.Event) EventDTO {
	return EventDTO{
		ID:        string(ev.ID),
		OwnerID:   string(ev.OwnerID),
		Timestamp: ev.Timestamp,
		Type:      string(ev.Type),
		RelatedID: string(ev.RelatedID),
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}
}

func toTransitionDTO(tr intake.Transition) TransitionDTO {
	return TransitionDTO{Item: toFoodItemDTO(tr.Item), Event: toEventDTO(tr.Event)}
}

func toSummaryDTO(s intake.Summary) SummaryDTO {
	dto := SummaryDTO{
		Date:             s.Date,
		Start:            s.Window.Start,
		End:              s.Window.End,
		DryFoodIntake:    s.DryFoodIntake,
		WaterIntake:      s.WaterIntake,
		Urine:            s.Elimination[intake.EliminationUrine],
		Feces:            s.Elimination[intake.EliminationFeces],
		MedicationTotal:  s.MedicationTotal,
		RespirationRates: s.RespirationRates,
		StatusNotes:      s.StatusNotes,
		Undecomposed:     s.Undecomposed,
	}
	if dto.RespirationRates == nil {
		dto.RespirationRates = []decimal.Decimal{}
	}
	if dto.StatusNotes == nil {
		dto.StatusNotes = []string{}
	}
	return dto
}

func toReplayReportDTO(r intake.Report) ReplayReportDTO {
	dto := ReplayReportDTO{
		ItemsProcessed:  r.ItemsProcessed,
		EventsFixed:     r.EventsFixed,
		EventsUnchanged: r.EventsUnchanged,
		EventsSkipped:   r.EventsSkipped,
		Inconsistencies: make([]InconsistencyDTO, 0, len(r.Inconsistencies)),
		Failures:        make([]FailureDTO, 0, len(r.Failures)),
	}
	for _, inc := range r.Inconsistencies {
		dto.Inconsistencies = append(dto.Inconsistencies, InconsistencyDTO{
			FoodItemID:    string(inc.FoodItemID),
			EventID:       string(inc.EventID),
			EventType:     string(inc.EventType),
			Timestamp:     inc.Timestamp,
			RunningTotal:  inc.RunningTotal,
			ObservedTotal: inc.ObservedTotal,
		})
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{
			OwnerID:    string(f.OwnerID),
			FoodItemID: string(f.FoodItemID),
			Error:      f.Err.Error(),
		})
	}
	return dto
}
