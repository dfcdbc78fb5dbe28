// Package signal implements the Order Block detector: a pure, deterministic
// function from a candle window to a list of currently unmitigated order
// blocks. It holds no state and makes no I/O calls.
package signal

import (
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
)

// Kind is the direction of an order block.
type Kind string

// Recognized kinds.
const (
	Bullish Kind = "bullish"
	Bearish Kind = "bearish"
)

// OrderBlock is a candidate price interval marked by a confirmed pivot
// extremum that also pierces the rolling band.
type OrderBlock struct {
	Kind         Kind
	Top          float64
	Bottom       float64
	PivotTime    time.Time
	ConfirmIndex int
}

// BandPeriod is the rolling band window as a multiple of the pivot lookback,
// matching the original LuxAlgo-derived detector (period = 10*length).
const BandPeriod = 10

// Detect returns the unmitigated order blocks found in candles using a pivot
// lookback of lookback candles on each side. It requires at least
// BandPeriod*lookback + lookback candles to produce any output, matching the
// original's window-size precondition; shorter input yields an empty slice.
func Detect(candles []exchange.Candle, lookback int) []OrderBlock {
	n := len(candles)
	if lookback <= 0 || n < BandPeriod*lookback+lookback {
		return nil
	}

	period := BandPeriod * lookback
	upperBand := make([]float64, n)
	lowerBand := make([]float64, n)
	for i := 0; i < n; i++ {
		upperBand[i] = rollingMax(candles, i, period)
		lowerBand[i] = rollingMin(candles, i, period)
	}

	var candidates []OrderBlock
	for i := lookback; i < n-lookback; i++ {
		lo, hi := i-lookback, i+lookback

		if candles[i].Low == windowMinLow(candles, lo, hi) && candles[i].Low < lowerBand[i] {
			candidates = append(candidates, OrderBlock{
				Kind:         Bullish,
				Top:          candles[i].High,
				Bottom:       candles[i].Low,
				PivotTime:    candles[i].OpenTime,
				ConfirmIndex: i + lookback,
			})
		}

		if candles[i].High == windowMaxHigh(candles, lo, hi) && candles[i].High > upperBand[i] {
			candidates = append(candidates, OrderBlock{
				Kind:         Bearish,
				Top:          candles[i].High,
				Bottom:       candles[i].Low,
				PivotTime:    candles[i].OpenTime,
				ConfirmIndex: i + lookback,
			})
		}
	}

	return filterMitigated(candles, candidates)
}

// rollingMax returns the max high over the period candles ending at i-1
// (the band is shifted by one candle, matching df.shift(1) in the original).
func rollingMax(candles []exchange.Candle, i, period int) float64 {
	start := i - period
	if start < 0 {
		start = 0
	}
	end := i - 1
	if end < start {
		return candles[i].High
	}
	max := candles[start].High
	for j := start + 1; j <= end; j++ {
		if candles[j].High > max {
			max = candles[j].High
		}
	}
	return max
}

// rollingMin returns the min low over the period candles ending at i-1.
func rollingMin(candles []exchange.Candle, i, period int) float64 {
	start := i - period
	if start < 0 {
		start = 0
	}
	end := i - 1
	if end < start {
		return candles[i].Low
	}
	min := candles[start].Low
	for j := start + 1; j <= end; j++ {
		if candles[j].Low < min {
			min = candles[j].Low
		}
	}
	return min
}

func windowMinLow(candles []exchange.Candle, lo, hi int) float64 {
	min := candles[lo].Low
	for j := lo + 1; j <= hi; j++ {
		if candles[j].Low < min {
			min = candles[j].Low
		}
	}
	return min
}

func windowMaxHigh(candles []exchange.Candle, lo, hi int) float64 {
	max := candles[lo].High
	for j := lo + 1; j <= hi; j++ {
		if candles[j].High > max {
			max = candles[j].High
		}
	}
	return max
}

// filterMitigated drops blocks whose interval has been re-entered by any
// candle strictly after the confirmation index. A block not yet past its
// confirmation index (start_check >= len(candles)) is retained unconditionally.
func filterMitigated(candles []exchange.Candle, obs []OrderBlock) []OrderBlock {
	var valid []OrderBlock
	for _, ob := range obs {
		start := ob.ConfirmIndex + 1
		if start >= len(candles) {
			valid = append(valid, ob)
			continue
		}

		mitigated := false
		switch ob.Kind {
		case Bullish:
			for _, c := range candles[start:] {
				if c.Low <= ob.Top {
					mitigated = true
					break
				}
			}
		case Bearish:
			for _, c := range candles[start:] {
				if c.High >= ob.Bottom {
					mitigated = true
					break
				}
			}
		}

		if !mitigated {
			valid = append(valid, ob)
		}
	}
	return valid
}
