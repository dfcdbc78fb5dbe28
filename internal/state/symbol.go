package state

import "strings"

// NormalizeSymbol uppercases a trading pair and strips any settlement-currency
// suffix after ":" so that "BTC/USDC:USDC" and "BTC/USDC" key to the same
// record. All pending-order, position, and open-order lookups in this
// package go through this function first.
func NormalizeSymbol(symbol string) string {
	upper := strings.ToUpper(symbol)
	if idx := strings.IndexByte(upper, ':'); idx >= 0 {
		upper = upper[:idx]
	}
	return upper
}
