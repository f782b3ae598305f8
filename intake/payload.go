/*
payload.go - Closed set of event payloads

PURPOSE:
  Every event type has exactly one payload struct. Raw fields are what the
  user typed; derived fields live in an optional embedded sub-record that
  only the calculator and the replay engine fill in.

RAW vs DERIVED:
  type              raw                                      derived
  prepare           foodType foodName initialMass initialWater  ratio
  add_water         waterDelta                               PoolChange
  add_food          foodDelta                                PoolChange
  record_remaining  observedTotal                            Decomposition
  settle            observedTotal (default 0)                Decomposition
  elimination       weight category                          -
  medication        doseType doseName? dosage                -
  respiration       rate                                     -
  status_note       note                                     -

WIRE FORMAT:
  JSON, with the derived sub-record flattened into the same object. A
  payload written before decomposition existed simply decodes with a nil
  sub-record, and its combined legacy fields land in LegacyIntake. Rows
  from the first app version named the observed value currentRemaining
  (finalRemaining on settle) and the ratio waterRatio; both are accepted.
*/
package intake

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Payload is implemented by the payload structs in this file only.
type Payload interface {
	EventType() EventType
	// Validate checks the raw, user-entered fields.
	Validate() error
	sealed()
}

// =============================================================================
// FOOD-LINKED PAYLOADS
// =============================================================================

type PreparePayload struct {
	FoodType     FoodType        `json:"foodType"`
	FoodName     string          `json:"foodName"`
	InitialMass  decimal.Decimal `json:"initialMass"`
	InitialWater decimal.Decimal `json:"initialWater"`
	*PrepareDerived
}

type PrepareDerived struct {
	Ratio decimal.Decimal `json:"ratio"`
}

func (PreparePayload) EventType() EventType { return EventPrepare }
func (PreparePayload) sealed()              {}

func (p PreparePayload) Validate() error {
	if !p.FoodType.Valid() {
		return invalid("foodType", fmt.Sprintf("unknown food type %q", p.FoodType))
	}
	if err := nonNegative("initialMass", p.InitialMass); err != nil {
		return err
	}
	return nonNegative("initialWater", p.InitialWater)
}

// PoolChange records the before/after totals and ratios of an addition.
type PoolChange struct {
	PreviousTotal decimal.Decimal `json:"previousTotal"`
	NewTotal      decimal.Decimal `json:"newTotal"`
	PreviousRatio decimal.Decimal `json:"previousRatio"`
	NewRatio      decimal.Decimal `json:"newRatio"`
}

type AddWaterPayload struct {
	WaterDelta decimal.Decimal `json:"waterDelta"`
	*PoolChange
}

func (AddWaterPayload) EventType() EventType { return EventAddWater }
func (AddWaterPayload) sealed()              {}
func (p AddWaterPayload) Validate() error    { return nonNegative("waterDelta", p.WaterDelta) }

type AddFoodPayload struct {
	FoodDelta decimal.Decimal `json:"foodDelta"`
	*PoolChange
}

func (AddFoodPayload) EventType() EventType { return EventAddFood }
func (AddFoodPayload) sealed()              {}
func (p AddFoodPayload) Validate() error    { return nonNegative("foodDelta", p.FoodDelta) }

// Decomposition is the derived part of a consumption event.
type Decomposition struct {
	Consumed           decimal.Decimal `json:"consumed"`
	DrySolids          decimal.Decimal `json:"drySolids"`
	BoundWater         decimal.Decimal `json:"boundWater"`
	AddedWaterConsumed decimal.Decimal `json:"addedWaterConsumed"`
	PreviousFoodMass   decimal.Decimal `json:"previousFoodMass"`
	NewFoodMass        decimal.Decimal `json:"newFoodMass"`
	PreviousAddedWater decimal.Decimal `json:"previousAddedWater"`
	NewAddedWater      decimal.Decimal `json:"newAddedWater"`
}

// TotalWater is bound water plus added water.
func (d Decomposition) TotalWater() decimal.Decimal {
	return d.BoundWater.Add(d.AddedWaterConsumed)
}

// LegacyIntake holds the combined fields written before decomposition
// existed. It is read by the stats fold and never written by this package.
type LegacyIntake struct {
	FoodConsumed  *decimal.Decimal `json:"foodConsumed,omitempty"`
	WaterConsumed *decimal.Decimal `json:"waterConsumed,omitempty"`
	Ratio         *decimal.Decimal `json:"ratio,omitempty"`
}

// Consumption is shared by record_remaining and settle.
type Consumption struct {
	ObservedTotal decimal.Decimal `json:"observedTotal"`
	*Decomposition
	*LegacyIntake
}

func (c Consumption) Validate() error { return nonNegative("observedTotal", c.ObservedTotal) }

// firstVersionKeys are the key names the first app version wrote for
// consumption payloads.
type firstVersionKeys struct {
	ObservedTotal    *decimal.Decimal `json:"observedTotal"`
	CurrentRemaining *decimal.Decimal `json:"currentRemaining"`
	FinalRemaining   *decimal.Decimal `json:"finalRemaining"`
	WaterRatio       *decimal.Decimal `json:"waterRatio"`
}

// UnmarshalJSON reads the current keys and falls back to the first app
// version's currentRemaining, finalRemaining and waterRatio.
func (c *Consumption) UnmarshalJSON(data []byte) error {
	type plain Consumption
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var old firstVersionKeys
	if err := json.Unmarshal(data, &old); err != nil {
		return err
	}
	if old.ObservedTotal == nil {
		switch {
		case old.CurrentRemaining != nil:
			p.ObservedTotal = *old.CurrentRemaining
		case old.FinalRemaining != nil:
			p.ObservedTotal = *old.FinalRemaining
		}
	}
	if old.WaterRatio != nil && (p.LegacyIntake == nil || p.LegacyIntake.Ratio == nil) {
		if p.LegacyIntake == nil {
			p.LegacyIntake = &LegacyIntake{}
		}
		p.LegacyIntake.Ratio = old.WaterRatio
	}
	*c = Consumption(p)
	return nil
}

type RecordRemainingPayload struct {
	Consumption
}

func (RecordRemainingPayload) EventType() EventType { return EventRecordRemaining }
func (RecordRemainingPayload) sealed()              {}

type SettlePayload struct {
	Consumption
}

func (SettlePayload) EventType() EventType { return EventSettle }
func (SettlePayload) sealed()              {}

// =============================================================================
// INDEPENDENT OBSERVATIONS
// =============================================================================

type EliminationCategory string

const (
	EliminationUrine EliminationCategory = "urine"
	EliminationFeces EliminationCategory = "feces"
)

type EliminationPayload struct {
	Weight   decimal.Decimal     `json:"weight"`
	Category EliminationCategory `json:"category"`
}

func (EliminationPayload) EventType() EventType { return EventElimination }
func (EliminationPayload) sealed()              {}

func (p EliminationPayload) Validate() error {
	if p.Category != EliminationUrine && p.Category != EliminationFeces {
		return invalid("category", fmt.Sprintf("unknown elimination category %q", p.Category))
	}
	return nonNegative("weight", p.Weight)
}

type DoseType string

const (
	DoseDiuretic    DoseType = "diuretic"
	DoseMirtazapine DoseType = "mirtazapine"
	DoseOther       DoseType = "other"
)

type MedicationPayload struct {
	DoseType DoseType        `json:"doseType"`
	DoseName string          `json:"doseName,omitempty"`
	Dosage   decimal.Decimal `json:"dosage"`
}

func (MedicationPayload) EventType() EventType { return EventMedication }
func (MedicationPayload) sealed()              {}

func (p MedicationPayload) Validate() error {
	switch p.DoseType {
	case DoseDiuretic, DoseMirtazapine, DoseOther:
	default:
		return invalid("doseType", fmt.Sprintf("unknown dose type %q", p.DoseType))
	}
	return nonNegative("dosage", p.Dosage)
}

type RespirationPayload struct {
	Rate decimal.Decimal `json:"rate"` // breaths per minute at rest
}

func (RespirationPayload) EventType() EventType { return EventRespiration }
func (RespirationPayload) sealed()              {}
func (p RespirationPayload) Validate() error    { return nonNegative("rate", p.Rate) }

type StatusNotePayload struct {
	Note string `json:"note"`
}

func (StatusNotePayload) EventType() EventType { return EventStatusNote }
func (StatusNotePayload) sealed()              {}

func (p StatusNotePayload) Validate() error {
	if strings.TrimSpace(p.Note) == "" {
		return invalid("note", "must not be empty")
	}
	return nil
}

// =============================================================================
// CODEC
// =============================================================================

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses a stored payload for the given event type.
func DecodePayload(t EventType, data []byte) (Payload, error) {
	switch t {
	case EventPrepare:
		return decodeAs[PreparePayload](data)
	case EventAddWater:
		return decodeAs[AddWaterPayload](data)
	case EventAddFood:
		return decodeAs[AddFoodPayload](data)
	case EventRecordRemaining:
		return decodeAs[RecordRemainingPayload](data)
	case EventSettle:
		return decodeAs[SettlePayload](data)
	case EventElimination:
		return decodeAs[EliminationPayload](data)
	case EventMedication:
		return decodeAs[MedicationPayload](data)
	case EventRespiration:
		return decodeAs[RespirationPayload](data)
	case EventStatusNote:
		return decodeAs[StatusNotePayload](data)
	}
	return nil, fmt.Errorf("unknown event type %q", t)
}

func decodeAs[P Payload](data []byte) (Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %T: %w", p, err)
	}
	return p, nil
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return invalid(field, "must not be negative")
	}
	return nil
}
