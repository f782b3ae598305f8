package intake_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/intake-ledger/intake"
)

func TestDecodePayload_LegacyConsumption(t *testing.T) {
	// Rows from the first app version: numbers, no decomposition.
	raw := []byte(`{"observedTotal": 75, "foodConsumed": 60, "waterConsumed": 15.5, "ratio": 0.85}`)

	p, err := intake.DecodePayload(intake.EventRecordRemaining, raw)
	require.NoError(t, err)

	rec, ok := p.(intake.RecordRemainingPayload)
	require.True(t, ok)
	assertDecimal(t, "75", rec.ObservedTotal)
	assert.Nil(t, rec.Decomposition)
	require.NotNil(t, rec.LegacyIntake)
	assertDecimal(t, "60", *rec.FoodConsumed)
	assertDecimal(t, "15.5", *rec.WaterConsumed)
	assertDecimal(t, "0.85", *rec.LegacyIntake.Ratio)
}

func TestDecodePayload_FirstVersionKeys(t *testing.T) {
	tests := []struct {
		name         string
		eventType    intake.EventType
		raw          string
		wantObserved string
		wantRatio    string
	}{
		{
			name:      "record_remaining",
			eventType: intake.EventRecordRemaining,
			raw: `{"previousRemaining": 100, "currentRemaining": 75, "consumedAmount": 25,
				"foodConsumed": 25, "waterConsumed": 20, "waterRatio": 0.8}`,
			wantObserved: "75",
			wantRatio:    "0.8",
		},
		{
			name:      "settle",
			eventType: intake.EventSettle,
			raw: `{"previousRemaining": 40, "finalRemaining": 10, "consumedAmount": 30,
				"foodConsumed": 30, "waterConsumed": 3, "waterRatio": 0.1}`,
			wantObserved: "10",
			wantRatio:    "0.1",
		},
		{
			name:         "current keys win",
			eventType:    intake.EventRecordRemaining,
			raw:          `{"observedTotal": 60, "currentRemaining": 75, "ratio": 0.5, "waterRatio": 0.8}`,
			wantObserved: "60",
			wantRatio:    "0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := intake.DecodePayload(tt.eventType, []byte(tt.raw))
			require.NoError(t, err)

			var c intake.Consumption
			switch v := p.(type) {
			case intake.RecordRemainingPayload:
				c = v.Consumption
			case intake.SettlePayload:
				c = v.Consumption
			}
			assertDecimal(t, tt.wantObserved, c.ObservedTotal, "observed")
			assert.Nil(t, c.Decomposition)
			require.NotNil(t, c.LegacyIntake)
			require.NotNil(t, c.Ratio)
			assertDecimal(t, tt.wantRatio, *c.Ratio, "ratio")
		})
	}
}

func TestEncodePayload_OmitsAbsentParts(t *testing.T) {
	data, err := intake.EncodePayload(intake.SettlePayload{Consumption: intake.Consumption{ObservedTotal: d("0")}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"observedTotal":"0"}`, string(data))

	data, err = intake.EncodePayload(intake.AddWaterPayload{WaterDelta: d("20")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"waterDelta":"20"}`, string(data))
}

func TestDecodePayload_Errors(t *testing.T) {
	_, err := intake.DecodePayload("weigh_in", []byte(`{}`))
	assert.Error(t, err)

	_, err = intake.DecodePayload(intake.EventElimination, []byte(`{"weight": "heavy"}`))
	assert.Error(t, err)
}

func TestEventType_Classification(t *testing.T) {
	linked := []intake.EventType{
		intake.EventPrepare, intake.EventAddWater, intake.EventAddFood,
		intake.EventRecordRemaining, intake.EventSettle,
	}
	for _, et := range linked {
		assert.True(t, et.IsLinked(), et)
		assert.True(t, et.Valid(), et)
	}
	for _, et := range []intake.EventType{intake.EventElimination, intake.EventMedication, intake.EventRespiration, intake.EventStatusNote} {
		assert.False(t, et.IsLinked(), et)
		assert.True(t, et.Valid(), et)
	}
	assert.True(t, intake.EventSettle.IsConsumption())
	assert.False(t, intake.EventAddFood.IsConsumption())
	assert.False(t, intake.EventType("weigh_in").Valid())
}
