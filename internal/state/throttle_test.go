package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottleTable_AllowsFirstCallThenSuppresses(t *testing.T) {
	tbl := NewThrottleTable(time.Minute)

	allow, suppressed := tbl.Allow("tp_sl_skip", "BTC/USDC")
	assert.True(t, allow)
	assert.Equal(t, 0, suppressed)

	allow, suppressed = tbl.Allow("tp_sl_skip", "BTC/USDC")
	assert.False(t, allow)
	assert.Equal(t, 1, suppressed)

	allow, suppressed = tbl.Allow("tp_sl_skip", "BTC/USDC")
	assert.False(t, allow)
	assert.Equal(t, 2, suppressed)
}

func TestThrottleTable_KeyedByNormalizedSymbolAndCategory(t *testing.T) {
	tbl := NewThrottleTable(time.Minute)

	allow, _ := tbl.Allow("tp_sl_skip", "BTC/USDC:USDC")
	assert.True(t, allow)

	// Same category, same symbol after normalization -> suppressed.
	allow, _ = tbl.Allow("tp_sl_skip", "btc/usdc")
	assert.False(t, allow)

	// Different category, same symbol -> allowed.
	allow, _ = tbl.Allow("breach_skip", "btc/usdc")
	assert.True(t, allow)
}

func TestThrottleTable_ReallowsAfterIntervalElapses(t *testing.T) {
	tbl := NewThrottleTable(time.Millisecond)

	allow, _ := tbl.Allow("x", "ETH/USDC")
	assert.True(t, allow)

	time.Sleep(5 * time.Millisecond)

	allow, suppressed := tbl.Allow("x", "ETH/USDC")
	assert.True(t, allow)
	assert.Equal(t, 0, suppressed)
}
