package technical

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dlyons/fxsignal/shared"
)

const (
	// minHistory is the minimum candle count a timeframe needs to be scored.
	minHistory = 60
	// weightTolerance is the allowed deviation when validating weight sums.
	weightTolerance = 1e-6
)

// AnalyzerConfig represents the technical analyzer configuration.
type AnalyzerConfig struct {
	// TimeframeWeights maps each scored timeframe to its combination weight.
	// Longer horizons carry more weight so higher-timeframe trend dominates
	// short-term noise. Weights must sum to 1.
	TimeframeWeights map[shared.Timeframe]float64
	// MomentumWeight, TrendWeight and SupportResistanceWeight combine the
	// indicator groups within a timeframe and must sum to 1.
	MomentumWeight          float64
	TrendWeight             float64
	SupportResistanceWeight float64
}

// Validate asserts the config has sane inputs.
func (cfg *AnalyzerConfig) Validate() error {
	var errs error

	if len(cfg.TimeframeWeights) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no timeframe weights provided"))
	}

	var timeframeSum float64
	for tf, weight := range cfg.TimeframeWeights {
		if weight <= 0 {
			errs = errors.Join(errs, fmt.Errorf("timeframe %s weight must be positive", tf.String()))
		}
		timeframeSum += weight
	}
	if len(cfg.TimeframeWeights) > 0 && math.Abs(timeframeSum-1) > weightTolerance {
		errs = errors.Join(errs, fmt.Errorf("timeframe weights must sum to 1, got %v", timeframeSum))
	}

	indicatorSum := cfg.MomentumWeight + cfg.TrendWeight + cfg.SupportResistanceWeight
	if math.Abs(indicatorSum-1) > weightTolerance {
		errs = errors.Join(errs, fmt.Errorf("indicator weights must sum to 1, got %v", indicatorSum))
	}

	if errs != nil {
		return errors.Join(shared.ErrConfigurationInvalid, errs)
	}

	return nil
}

// Analyzer scores pairs across multiple timeframes. Scoring is pure given its
// candle inputs, so a backtest can replay it unchanged.
type Analyzer struct {
	cfg *AnalyzerConfig
}

// NewAnalyzer initializes a new technical analyzer.
func NewAnalyzer(cfg *AnalyzerConfig) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Analyzer{cfg: cfg}, nil
}

// scoreRSI normalizes an rsi value into [-1, 1], positive favouring buys.
func scoreRSI(value float64) float64 {
	switch {
	case value > 70:
		return -0.8
	case value < 30:
		return 0.8
	case value > 60:
		return -0.4
	case value < 40:
		return 0.4
	default:
		return 0
	}
}

// scoreMACD normalizes the MACD crossover state into [-1, 1].
func scoreMACD(line float64, signal float64, histogram float64) float64 {
	switch {
	case line > signal && histogram > 0:
		return 0.6
	case line < signal && histogram < 0:
		return -0.6
	default:
		return clamp(histogram*100, -0.5, 0.5)
	}
}

// scoreMovingAverages normalizes price and trend ema alignment into [-1, 1].
func scoreMovingAverages(price float64, fast float64, slow float64) float64 {
	switch {
	case price > fast && fast > slow:
		return 0.7
	case price < fast && fast < slow:
		return -0.7
	case price > fast:
		return 0.3
	case price < fast:
		return -0.3
	default:
		return 0
	}
}

// scoreBollinger normalizes the band position into [-1, 1]. Price outside the
// bands favours mean reversion against the move.
func scoreBollinger(price float64, upper float64, middle float64, lower float64) float64 {
	switch {
	case price > upper:
		return -0.6
	case price < lower:
		return 0.6
	case price > middle:
		return 0.2
	default:
		return -0.2
	}
}

// scoreSupportResistance locates pivot highs and lows over the trailing
// lookback and normalizes price proximity to the nearest levels into [-1, 1].
func scoreSupportResistance(candles []shared.Candlestick, price float64) float64 {
	start := len(candles) - pivotLookback
	if start < 0 {
		start = 0
	}
	recent := candles[start:]

	var resistances, supports []float64
	for idx := pivotWindow; idx < len(recent)-pivotWindow; idx++ {
		isHigh, isLow := true, true
		for offset := -pivotWindow; offset <= pivotWindow; offset++ {
			if recent[idx+offset].High > recent[idx].High {
				isHigh = false
			}
			if recent[idx+offset].Low < recent[idx].Low {
				isLow = false
			}
		}

		if isHigh && recent[idx].High > price {
			resistances = append(resistances, recent[idx].High)
		}
		if isLow && recent[idx].Low < price {
			supports = append(supports, recent[idx].Low)
		}
	}

	nearestResistance := price * 1.01
	if len(resistances) > 0 {
		sort.Float64s(resistances)
		nearestResistance = resistances[0]
	}

	nearestSupport := price * 0.99
	if len(supports) > 0 {
		sort.Float64s(supports)
		nearestSupport = supports[len(supports)-1]
	}

	resistanceDistance := (nearestResistance - price) / price
	supportDistance := (price - nearestSupport) / price

	switch {
	case resistanceDistance < proximityThreshold:
		return -0.6
	case supportDistance < proximityThreshold:
		return 0.6
	case resistanceDistance < supportDistance:
		return -0.2
	default:
		return 0.2
	}
}

// ScoreTimeframe computes the technical reading for one timeframe from its
// ordered candles. It errors with insufficient history when fewer than
// minHistory candles are available.
func (a *Analyzer) ScoreTimeframe(candles []shared.Candlestick) (shared.TimeframeReading, error) {
	if len(candles) < minHistory {
		return shared.TimeframeReading{}, fmt.Errorf("timeframe scoring needs %d candles, got %d: %w",
			minHistory, len(candles), shared.ErrInsufficientHistory)
	}

	closes := make([]float64, len(candles))
	for idx := range candles {
		closes[idx] = candles[idx].Close
	}
	price := closes[len(closes)-1]

	rsiScore := scoreRSI(rsi(closes, rsiPeriod))
	line, signal, histogram := macd(closes)
	macdScore := scoreMACD(line, signal, histogram)

	fast := ema(closes, fastTrendSpan)
	slow := ema(closes, slowTrendSpan)
	maScore := scoreMovingAverages(price, fast[len(fast)-1], slow[len(slow)-1])

	upper, middle, lower := bollinger(closes)
	bollingerScore := scoreBollinger(price, upper, middle, lower)

	srScore := scoreSupportResistance(candles, price)

	momentum := (rsiScore + macdScore) / 2
	trend := (maScore + bollingerScore) / 2

	score := momentum*a.cfg.MomentumWeight + trend*a.cfg.TrendWeight +
		srScore*a.cfg.SupportResistanceWeight

	reading := shared.TimeframeReading{
		Timeframe:         candles[len(candles)-1].Timeframe,
		RSI:               rsiScore,
		MACD:              macdScore,
		MATrend:           maScore,
		Bollinger:         bollingerScore,
		SupportResistance: srScore,
		Score:             clamp(score, -1, 1),
	}

	return reading, nil
}

// Score combines per-timeframe readings into one directional score in [-1, 1].
// Timeframes lacking history are excluded and the remaining weights are
// renormalized; if every timeframe is excluded the analyzer fails with
// insufficient history.
func (a *Analyzer) Score(history map[shared.Timeframe][]shared.Candlestick) (float64, []shared.TimeframeReading, error) {
	timeframes := make([]shared.Timeframe, 0, len(a.cfg.TimeframeWeights))
	for tf := range a.cfg.TimeframeWeights {
		timeframes = append(timeframes, tf)
	}
	sort.Slice(timeframes, func(i, j int) bool { return timeframes[i] < timeframes[j] })

	readings := make([]shared.TimeframeReading, 0, len(timeframes))
	var combined, totalWeight float64

	for _, tf := range timeframes {
		reading, err := a.ScoreTimeframe(history[tf])
		if err != nil {
			if errors.Is(err, shared.ErrInsufficientHistory) {
				continue
			}
			return 0, nil, err
		}

		reading.Timeframe = tf
		readings = append(readings, reading)
		combined += reading.Score * a.cfg.TimeframeWeights[tf]
		totalWeight += a.cfg.TimeframeWeights[tf]
	}

	if totalWeight == 0 {
		return 0, nil, fmt.Errorf("no timeframe had sufficient history: %w", shared.ErrInsufficientHistory)
	}

	return clamp(combined/totalWeight, -1, 1), readings, nil
}
