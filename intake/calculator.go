/*
calculator.go - Mass-balance rules

PURPOSE:
  Pure functions that turn pools + an action into new pools and, for
  consumption, a food/water decomposition. No I/O, no errors: validation
  happens in the Tracker before these are called.

POOLS:
  FoodMass:   mass of the food itself, including the water bound in it
  AddedWater: water mixed in separately
  Total     = FoodMass + AddedWater

RATIO (display only):
  ratio = min(1, (FoodMass·f + AddedWater) / Total), 0 when Total = 0
  Decomposition never uses a cached ratio, only the raw pools.

DECOMPOSITION:
  Consumption is allocated proportionally to each pool's share of the total:
    consumedFood       = consumed · FoodMass / Total
    consumedAddedWater = consumed − consumedFood
    boundWater         = consumedFood · f
    drySolids          = consumedFood − boundWater

  CONSERVATION: drySolids + boundWater + addedWaterConsumed == consumed.
  Subtraction is used for the complements so the law holds exactly in
  decimal arithmetic; the only rounding is the single division.

EXAMPLE:
  wet_food (f=0.78), FoodMass=100, AddedWater=0, consume 50
    consumedFood=50, boundWater=39, drySolids=11, addedWaterConsumed=0
    new pools: FoodMass=50, AddedWater=0
*/
package intake

import "github.com/shopspring/decimal"

// =============================================================================
// RESULTS
// =============================================================================

type PoolsResult struct {
	Ratio decimal.Decimal
	Total decimal.Decimal
}

type AddWaterResult struct {
	NewAddedWater decimal.Decimal
	NewRatio      decimal.Decimal
}

type AddFoodResult struct {
	NewFoodMass decimal.Decimal
	NewRatio    decimal.Decimal
}

type ConsumptionResult struct {
	DrySolids          decimal.Decimal
	BoundWater         decimal.Decimal
	AddedWaterConsumed decimal.Decimal
	NewFoodMass        decimal.Decimal
	NewAddedWater      decimal.Decimal
}

// =============================================================================
// OPERATIONS
// =============================================================================

// InitialPools establishes the total and the water ratio at preparation time.
func InitialPools(foodMass, addedWater decimal.Decimal, foodType FoodType) PoolsResult {
	total := foodMass.Add(addedWater)
	return PoolsResult{Ratio: waterRatio(foodMass, addedWater, foodType), Total: total}
}

// AfterAddWater grows the added-water pool by delta.
func AfterAddWater(foodMass, addedWater, delta decimal.Decimal, foodType FoodType) AddWaterResult {
	newAddedWater := addedWater.Add(delta)
	return AddWaterResult{
		NewAddedWater: newAddedWater,
		NewRatio:      waterRatio(foodMass, newAddedWater, foodType),
	}
}

// AfterAddFood grows the food pool by delta.
func AfterAddFood(foodMass, addedWater, delta decimal.Decimal, foodType FoodType) AddFoodResult {
	newFoodMass := foodMass.Add(delta)
	return AddFoodResult{
		NewFoodMass: newFoodMass,
		NewRatio:    waterRatio(newFoodMass, addedWater, foodType),
	}
}

// DecomposeConsumption splits consumed mass across the pools.
// Requires 0 <= consumed <= foodMass+addedWater.
func DecomposeConsumption(consumed, foodMass, addedWater decimal.Decimal, foodType FoodType) ConsumptionResult {
	total := foodMass.Add(addedWater)
	if !total.IsPositive() {
		return ConsumptionResult{
			DrySolids:          decimal.Zero,
			BoundWater:         decimal.Zero,
			AddedWaterConsumed: decimal.Zero,
			NewFoodMass:        decimal.Zero,
			NewAddedWater:      decimal.Zero,
		}
	}

	// Multiply before dividing: exact whenever the share is representable.
	consumedFood := consumed.Mul(foodMass).Div(total)
	if consumedFood.GreaterThan(consumed) {
		consumedFood = consumed
	}
	consumedAddedWater := consumed.Sub(consumedFood)

	boundWater := consumedFood.Mul(foodType.BoundWaterFraction())
	drySolids := consumedFood.Sub(boundWater)

	return ConsumptionResult{
		DrySolids:          clampZero(drySolids),
		BoundWater:         clampZero(boundWater),
		AddedWaterConsumed: clampZero(consumedAddedWater),
		NewFoodMass:        clampZero(foodMass.Sub(consumedFood)),
		NewAddedWater:      clampZero(addedWater.Sub(consumedAddedWater)),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func waterRatio(foodMass, addedWater decimal.Decimal, foodType FoodType) decimal.Decimal {
	total := foodMass.Add(addedWater)
	if !total.IsPositive() {
		return decimal.Zero
	}
	water := foodMass.Mul(foodType.BoundWaterFraction()).Add(addedWater)
	ratio := water.Div(total)
	return decimal.Min(decimal.NewFromInt(1), clampZero(ratio))
}

// clampZero absorbs rounding residue below zero. It is not a substitute for
// rejecting invalid input.
func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
