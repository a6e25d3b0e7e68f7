// Package volatility derives volatility measures from candle history.
package volatility

import (
	"fmt"
	"math"

	"github.com/dlyons/fxsignal/shared"
)

const (
	// DefaultLookback is the default ATR lookback period.
	DefaultLookback = 14
	// maxATR caps the average true range used for level derivation so
	// extreme volatility spikes do not blow out stop distances.
	maxATR = 0.01
	// lowRegimeThreshold is the ATR to price ratio below which volatility
	// is classified as low.
	lowRegimeThreshold = 0.002
	// highRegimeThreshold is the ATR to price ratio at or above which
	// volatility is classified as high.
	highRegimeThreshold = 0.006
)

// Model computes volatility measures for a pair and timeframe.
type Model struct {
	lookback int
}

// NewModel initializes a volatility model with the provided lookback period.
func NewModel(lookback int) (*Model, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("volatility lookback must be positive, got %d: %w",
			lookback, shared.ErrConfigurationInvalid)
	}

	return &Model{lookback: lookback}, nil
}

// trueRange returns the true range of a candle given the prior close.
func trueRange(candle *shared.Candlestick, previousClose float64) float64 {
	highLow := candle.High - candle.Low
	highClose := math.Abs(candle.High - previousClose)
	lowClose := math.Abs(candle.Low - previousClose)

	return math.Max(highLow, math.Max(highClose, lowClose))
}

// ATR computes the average true range over the model lookback from the
// provided ordered candles. It errors when fewer than lookback candles are
// available. A candle without a prior close seeds its true range from the
// bar range.
func (m *Model) ATR(candles []shared.Candlestick) (float64, error) {
	if len(candles) < m.lookback {
		return 0, fmt.Errorf("atr needs %d candles, got %d: %w",
			m.lookback, len(candles), shared.ErrInsufficientHistory)
	}

	var sum float64
	start := len(candles) - m.lookback
	for idx := start; idx < len(candles); idx++ {
		if idx == 0 {
			sum += candles[idx].High - candles[idx].Low
			continue
		}
		sum += trueRange(&candles[idx], candles[idx-1].Close)
	}

	return sum / float64(m.lookback), nil
}

// CappedATR returns the provided average true range capped for level
// derivation.
func CappedATR(atr float64) float64 {
	return math.Min(atr, maxATR)
}

// Regime classifies volatility from the ratio of the average true range to
// the current price using fixed documented thresholds.
func Regime(atr float64, price float64) shared.VolatilityRegime {
	if price <= 0 {
		return shared.NormalVolatility
	}

	ratio := atr / price
	switch {
	case ratio < lowRegimeThreshold:
		return shared.LowVolatility
	case ratio >= highRegimeThreshold:
		return shared.HighVolatility
	default:
		return shared.NormalVolatility
	}
}
