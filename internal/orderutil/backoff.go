package orderutil

import (
	"sync"
	"time"
)

// backoffEntry records when a symbol's TP/SL backoff expires and whether the
// "skipped" message has already been logged once for this window.
type backoffEntry struct {
	until  time.Time
	logged bool
}

// BackoffTable suppresses repeated TP/SL placement attempts per symbol
// during an exchange-rejection window. It is safe for concurrent use; the
// State Store embeds one instance as part of its single-writer state.
type BackoffTable struct {
	mu      sync.Mutex
	entries map[string]*backoffEntry
}

// NewBackoffTable returns an empty backoff table.
func NewBackoffTable() *BackoffTable {
	return &BackoffTable{entries: make(map[string]*backoffEntry)}
}

// Set records an expiry seconds from now for symbol, resetting its logged flag.
func (b *BackoffTable) Set(symbol string, seconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[symbol] = &backoffEntry{until: time.Now().Add(time.Duration(seconds) * time.Second)}
}

// Check returns whether symbol is currently in backoff and the seconds
// remaining. Expired entries are cleared as a side effect.
func (b *BackoffTable) Check(symbol string) (active bool, remaining float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[symbol]
	if !ok {
		return false, 0
	}
	remain := time.Until(entry.until)
	if remain <= 0 {
		delete(b.entries, symbol)
		return false, 0
	}
	return true, remain.Seconds()
}

// ShouldLogSkip returns true exactly once per active backoff window for
// symbol, so a single "skipped" log is emitted rather than a stream.
func (b *BackoffTable) ShouldLogSkip(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[symbol]
	if !ok || entry.logged {
		return false
	}
	entry.logged = true
	return true
}
