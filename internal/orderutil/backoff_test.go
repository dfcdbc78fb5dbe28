package orderutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffTable_SetAndCheck(t *testing.T) {
	b := NewBackoffTable()
	b.Set("BTC/USDC", 1)

	active, remaining := b.Check("BTC/USDC")
	assert.True(t, active)
	assert.Greater(t, remaining, 0.0)
}

func TestBackoffTable_ExpiresAndClears(t *testing.T) {
	b := NewBackoffTable()
	b.entries["BTC/USDC"] = &backoffEntry{until: time.Now().Add(-time.Second)}

	active, remaining := b.Check("BTC/USDC")
	assert.False(t, active)
	assert.Equal(t, 0.0, remaining)
	_, stillThere := b.entries["BTC/USDC"]
	assert.False(t, stillThere)
}

func TestBackoffTable_ShouldLogSkipOnlyOnce(t *testing.T) {
	b := NewBackoffTable()
	b.Set("ETH/USDC", 60)

	assert.True(t, b.ShouldLogSkip("ETH/USDC"))
	assert.False(t, b.ShouldLogSkip("ETH/USDC"))
}

func TestBackoffTable_NoEntryNeverLogs(t *testing.T) {
	b := NewBackoffTable()
	assert.False(t, b.ShouldLogSkip("UNKNOWN"))
}
