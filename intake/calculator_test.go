package intake_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/intake-ledger/intake"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, label ...string) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "%v: want %s, got %s", label, want, got.String())
}

// =============================================================================
// INITIAL POOLS AND ADDITIONS
// =============================================================================

func TestInitialPools(t *testing.T) {
	tests := []struct {
		name      string
		foodType  intake.FoodType
		mass      string
		water     string
		wantTotal string
		wantRatio string // 4 places
	}{
		{"wet food with water", intake.FoodWet, "100", "50", "150", "0.8533"},
		{"dry food alone", intake.FoodDry, "50", "0", "50", "0.0800"},
		{"plain water", intake.FoodWater, "200", "0", "200", "1.0000"},
		{"water plus added water stays at one", intake.FoodWater, "100", "100", "200", "1.0000"},
		{"freeze dried", intake.FoodFreezeDried, "20", "0", "20", "0.0000"},
		{"empty bowl", intake.FoodWet, "0", "0", "0", "0.0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := intake.InitialPools(d(tt.mass), d(tt.water), tt.foodType)
			assertDecimal(t, tt.wantTotal, res.Total)
			assert.Equal(t, tt.wantRatio, res.Ratio.StringFixed(4))
		})
	}
}

func TestAfterAdditions_RefillSequence(t *testing.T) {
	// GIVEN: 50g dry food
	mass, water := d("50"), d("0")

	// WHEN: 20g water is added
	w := intake.AfterAddWater(mass, water, d("20"), intake.FoodDry)

	// THEN: Only the water pool grows
	assertDecimal(t, "20", w.NewAddedWater)
	assert.Equal(t, "0.3429", w.NewRatio.StringFixed(4))

	// WHEN: 30g more food is added
	f := intake.AfterAddFood(mass, w.NewAddedWater, d("30"), intake.FoodDry)

	// THEN: Food pool grows and the ratio drops
	assertDecimal(t, "80", f.NewFoodMass)
	assertDecimal(t, "0.264", f.NewRatio)
}

// =============================================================================
// DECOMPOSITION
// =============================================================================

func TestDecomposeConsumption(t *testing.T) {
	tests := []struct {
		name     string
		foodType intake.FoodType
		consumed string
		mass     string
		water    string

		wantDry, wantBound, wantAdded string
		wantMass, wantWater           string
	}{
		{
			name: "wet food without water", foodType: intake.FoodWet,
			consumed: "50", mass: "100", water: "0",
			wantDry: "11", wantBound: "39", wantAdded: "0",
			wantMass: "50", wantWater: "0",
		},
		{
			name: "wet food with water", foodType: intake.FoodWet,
			consumed: "75", mass: "100", water: "50",
			wantDry: "11", wantBound: "39", wantAdded: "25",
			wantMass: "50", wantWater: "25",
		},
		{
			name: "refilled kibble", foodType: intake.FoodDry,
			consumed: "60", mass: "80", water: "20",
			wantDry: "44.16", wantBound: "3.84", wantAdded: "12",
			wantMass: "32", wantWater: "8",
		},
		{
			name: "plain water", foodType: intake.FoodWater,
			consumed: "50", mass: "200", water: "0",
			wantDry: "0", wantBound: "50", wantAdded: "0",
			wantMass: "150", wantWater: "0",
		},
		{
			name: "freeze dried is all solids", foodType: intake.FoodFreezeDried,
			consumed: "5", mass: "20", water: "0",
			wantDry: "5", wantBound: "0", wantAdded: "0",
			wantMass: "15", wantWater: "0",
		},
		{
			name: "everything eaten", foodType: intake.FoodWet,
			consumed: "150", mass: "100", water: "50",
			wantDry: "22", wantBound: "78", wantAdded: "50",
			wantMass: "0", wantWater: "0",
		},
		{
			name: "nothing eaten", foodType: intake.FoodWet,
			consumed: "0", mass: "100", water: "50",
			wantDry: "0", wantBound: "0", wantAdded: "0",
			wantMass: "100", wantWater: "50",
		},
		{
			name: "empty pools", foodType: intake.FoodWet,
			consumed: "0", mass: "0", water: "0",
			wantDry: "0", wantBound: "0", wantAdded: "0",
			wantMass: "0", wantWater: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := intake.DecomposeConsumption(d(tt.consumed), d(tt.mass), d(tt.water), tt.foodType)

			assertDecimal(t, tt.wantDry, res.DrySolids, "dry solids")
			assertDecimal(t, tt.wantBound, res.BoundWater, "bound water")
			assertDecimal(t, tt.wantAdded, res.AddedWaterConsumed, "added water consumed")
			assertDecimal(t, tt.wantMass, res.NewFoodMass, "new food mass")
			assertDecimal(t, tt.wantWater, res.NewAddedWater, "new added water")
		})
	}
}

func TestDecomposeConsumption_ConservationHoldsForRandomPools(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tolerance := d("0.000000001")
	types := intake.FoodTypes()

	for i := 0; i < 2000; i++ {
		foodType := types[rng.Intn(len(types))]
		mass := decimal.NewFromFloat(rng.Float64() * 500).Truncate(3)
		water := decimal.NewFromFloat(rng.Float64() * 300).Truncate(3)
		if rng.Intn(5) == 0 {
			water = decimal.Zero
		}
		total := mass.Add(water)
		consumed := total.Mul(decimal.NewFromFloat(rng.Float64())).Truncate(3)

		res := intake.DecomposeConsumption(consumed, mass, water, foodType)

		sum := res.DrySolids.Add(res.BoundWater).Add(res.AddedWaterConsumed)
		assert.True(t, sum.Sub(consumed).Abs().LessThanOrEqual(tolerance),
			"case %d (%s %s+%s eat %s): components sum to %s", i, foodType, mass, water, consumed, sum)

		for name, v := range map[string]decimal.Decimal{
			"dry":       res.DrySolids,
			"bound":     res.BoundWater,
			"added":     res.AddedWaterConsumed,
			"food pool": res.NewFoodMass,
			"water":     res.NewAddedWater,
		} {
			assert.False(t, v.IsNegative(), "case %d: %s is negative (%s)", i, name, v)
		}

		left := res.NewFoodMass.Add(res.NewAddedWater)
		assert.True(t, left.Sub(total.Sub(consumed)).Abs().LessThanOrEqual(tolerance),
			"case %d: pools hold %s, expected %s", i, left, total.Sub(consumed))

		ratio := intake.InitialPools(res.NewFoodMass, res.NewAddedWater, foodType).Ratio
		assert.True(t, ratio.LessThanOrEqual(decimal.NewFromInt(1)), "case %d: ratio %s", i, ratio)
	}
}
