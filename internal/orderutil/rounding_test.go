package orderutil

import (
	"math"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 1.23, RoundToTick(1.234, 0.01), 1e-9)
	assert.InDelta(t, 1.24, RoundToTick(1.235, 0.01), 1e-9)
	assert.InDelta(t, 100.0, RoundToTick(100.0, 0.5), 1e-9)
}

func TestRoundToTick_NonFiniteGuards(t *testing.T) {
	assert.Equal(t, 5.0, RoundToTick(5.0, 0))
	assert.True(t, math.IsNaN(RoundToTick(math.NaN(), 0.01)))
}

func TestPricesAreEqual_ReflexiveForAllFiniteValues(t *testing.T) {
	prop := func(a float64) bool {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return true
		}
		return PricesAreEqual(a, a, 0.01, DefaultPriceTolerancePct)
	}
	assert.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 256}))
}

func TestPricesAreEqual_WithinTickAlwaysEqual(t *testing.T) {
	assert.True(t, PricesAreEqual(100.0, 100.005, 0.01, DefaultPriceTolerancePct))
}

func TestPricesAreEqual_BeyondToleranceNotEqual(t *testing.T) {
	assert.False(t, PricesAreEqual(100.0, 105.0, 0.01, DefaultPriceTolerancePct))
}
