package orderutil

import "math"

// DefaultTick is used when an exchange reports no usable price filter.
const DefaultTick = 1e-8

// RoundToTick rounds x to the nearest tick increment using decimal-precise
// half-up semantics on the tick-scaled value (never a raw binary-float
// round of the price itself, per Design Note 9).
func RoundToTick(x, tick float64) float64 {
	if tick == 0 || math.IsNaN(tick) || math.IsInf(tick, 0) || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	t := math.Abs(tick)
	return math.Round(x/t) * t
}

// PricesAreEqual reports whether a and b are within max(tick, pct*max(|a|,|b|))
// of each other. pctTolerance is a fraction (e.g. 0.001 for 0.1%).
func PricesAreEqual(a, b, tick, pctTolerance float64) bool {
	diff := math.Abs(a - b)
	maxAbs := math.Max(math.Abs(a), math.Abs(b))
	allowed := math.Max(tick, pctTolerance*maxAbs)
	return diff <= allowed
}

// DefaultPriceTolerancePct is the default percentage tolerance used by
// PricesAreEqual when callers don't have a more specific value (0.1%).
const DefaultPriceTolerancePct = 0.001

// QuantityTolerancePct is the default tolerance for remaining-quantity
// matching (1%), per spec.md's TP_SL_QUANTITY_TOLERANCE default.
const QuantityTolerancePct = 0.01
