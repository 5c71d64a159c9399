// Package feerate maps a market index value to a transfer fee in basis
// points. The mapping is inverse: a strong index means cheap transfers, a
// stressed index means expensive ones.
package feerate

import (
	"fmt"
	"math"

	"feeoracle/internal/config"
)

// Band multipliers around the baseline. At or above the upper band the fee
// pins to the minimum, at or below the lower band it pins to the maximum,
// and in between it interpolates linearly.
const (
	lowerBandFactor = 0.33
	upperBandFactor = 2.0
)

// Compute derives the fee rate for indexValue. It is total: any input that
// cannot be priced (zero, negative, NaN, Inf) yields the configured default,
// and the result is always clamped into [MinRateBps, MaxRateBps].
func Compute(cfg config.FeeConfig, indexValue float64) int {
	if indexValue <= 0 || math.IsNaN(indexValue) || math.IsInf(indexValue, 0) {
		return clamp(cfg.DefaultRateBps, cfg.MinRateBps, cfg.MaxRateBps)
	}

	lower := cfg.BaselineIndex * lowerBandFactor
	upper := cfg.BaselineIndex * upperBandFactor

	if indexValue >= upper {
		return cfg.MinRateBps
	}
	if indexValue <= lower {
		return cfg.MaxRateBps
	}

	span := float64(cfg.MaxRateBps - cfg.MinRateBps)
	fee := float64(cfg.MaxRateBps) - (indexValue-lower)*span/(upper-lower)

	// Round then clamp again; the clamp is idempotent, so a value already
	// inside the band passes through unchanged.
	return clamp(int(math.Round(fee)), cfg.MinRateBps, cfg.MaxRateBps)
}

// Explain classifies the market condition behind a computed fee. Purely
// descriptive; nothing downstream branches on the text.
func Explain(cfg config.FeeConfig, indexValue float64, feeRate int) string {
	var trend string
	switch {
	case indexValue >= cfg.BaselineIndex*1.5:
		trend = "INDEX VERY HIGH -> market excellent -> min fee"
	case indexValue >= cfg.BaselineIndex:
		trend = "INDEX HIGH -> market good -> low fee"
	case indexValue <= cfg.BaselineIndex*0.5:
		trend = "INDEX VERY LOW -> market stressed -> max fee"
	default:
		trend = "INDEX LOW -> market weak -> high fee"
	}
	return fmt.Sprintf("%s | index: %g | fee: %.2f%% (%d bp)", trend, indexValue, float64(feeRate)/100, feeRate)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
