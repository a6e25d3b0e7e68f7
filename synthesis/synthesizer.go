// Package synthesis merges technical and sentiment scores into directional
// signal candidates with a deterministic, replayable confidence.
package synthesis

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dlyons/fxsignal/sentiment"
	"github.com/dlyons/fxsignal/shared"
)

const (
	// weightTolerance is the allowed deviation when validating weight sums.
	weightTolerance = 1e-6
	// defaultHold is the hold estimate used when hourly history is too thin
	// to derive one.
	defaultHold = time.Hour * 24
	// minHold and maxHold bound the hold duration estimate.
	minHold = time.Hour * 4
	maxHold = time.Hour * 168
	// holdBuffer inflates the raw hold estimate to absorb market
	// inefficiency.
	holdBuffer = 1.5
)

// SynthesizerConfig represents the signal synthesizer configuration.
type SynthesizerConfig struct {
	// SentimentWeight and TechnicalWeight combine the two scores and must
	// sum to 1.
	SentimentWeight float64
	TechnicalWeight float64
	// Deadband is the combined score magnitude below which no signal is
	// produced.
	Deadband float64
	// ConfidenceScale multiplies the combined score magnitude before the
	// floor and ceiling are applied.
	ConfidenceScale float64
	// ConfidenceFloor and ConfidenceCeiling bound the base confidence.
	ConfidenceFloor   float64
	ConfidenceCeiling float64
	// ValidityWindow is how long a generated signal remains admissible. It
	// also defines the fingerprint generation window.
	ValidityWindow time.Duration
}

// Validate asserts the config has sane inputs.
func (cfg *SynthesizerConfig) Validate() error {
	var errs error

	if math.Abs(cfg.SentimentWeight+cfg.TechnicalWeight-1) > weightTolerance {
		errs = errors.Join(errs, fmt.Errorf("sentiment and technical weights must sum to 1, got %v",
			cfg.SentimentWeight+cfg.TechnicalWeight))
	}
	if cfg.SentimentWeight < 0 || cfg.TechnicalWeight < 0 {
		errs = errors.Join(errs, fmt.Errorf("score weights cannot be negative"))
	}
	if cfg.Deadband < 0 || cfg.Deadband >= 1 {
		errs = errors.Join(errs, fmt.Errorf("deadband must be in [0, 1), got %v", cfg.Deadband))
	}
	if cfg.ConfidenceScale <= 0 {
		errs = errors.Join(errs, fmt.Errorf("confidence scale must be positive, got %v", cfg.ConfidenceScale))
	}
	if cfg.ConfidenceFloor < 0 || cfg.ConfidenceCeiling > 1 || cfg.ConfidenceFloor > cfg.ConfidenceCeiling {
		errs = errors.Join(errs, fmt.Errorf("confidence bounds must satisfy 0 <= floor <= ceiling <= 1"))
	}
	if cfg.ValidityWindow <= 0 {
		errs = errors.Join(errs, fmt.Errorf("validity window must be positive, got %v", cfg.ValidityWindow))
	}

	if errs != nil {
		return errors.Join(shared.ErrConfigurationInvalid, errs)
	}

	return nil
}

// Outcome represents the result of synthesizing a pair's scores. NoSignal
// reports an explicit below-deadband outcome rather than a zero-confidence
// signal.
type Outcome struct {
	NoSignal      bool
	Direction     shared.Direction
	CombinedScore float64
	Confidence    float64
	Agreement     float64
}

// Synthesizer merges technical and sentiment readings into signal candidates.
type Synthesizer struct {
	cfg *SynthesizerConfig
}

// NewSynthesizer initializes a new signal synthesizer.
func NewSynthesizer(cfg *SynthesizerConfig) (*Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Synthesizer{cfg: cfg}, nil
}

// agreement returns the fraction of timeframe readings whose sign matches
// the provided direction. No readings count as full agreement.
func agreement(readings []shared.TimeframeReading, direction shared.Direction) float64 {
	if len(readings) == 0 {
		return 1
	}

	agreeing := 0
	for idx := range readings {
		switch direction {
		case shared.Buy:
			if readings[idx].Score > 0 {
				agreeing++
			}
		case shared.Sell:
			if readings[idx].Score < 0 {
				agreeing++
			}
		}
	}

	return float64(agreeing) / float64(len(readings))
}

// Synthesize combines the technical score and sentiment aggregate into an
// outcome. Confidence is a pure function of the combined score magnitude,
// the sentiment confidence and the timeframe agreement, so identical inputs
// always reproduce it.
func (s *Synthesizer) Synthesize(technicalScore float64, readings []shared.TimeframeReading, agg sentiment.Aggregate) Outcome {
	combined := agg.Score*s.cfg.SentimentWeight + technicalScore*s.cfg.TechnicalWeight

	if math.Abs(combined) < s.cfg.Deadband {
		return Outcome{NoSignal: true, CombinedScore: combined}
	}

	direction := shared.Buy
	if combined < 0 {
		direction = shared.Sell
	}

	base := math.Abs(combined) * s.cfg.ConfidenceScale
	base = math.Max(s.cfg.ConfidenceFloor, math.Min(s.cfg.ConfidenceCeiling, base))

	agree := agreement(readings, direction)
	sentimentFactor := 0.5 + 0.5*agg.Confidence

	return Outcome{
		Direction:     direction,
		CombinedScore: combined,
		Confidence:    base * agree * sentimentFactor,
		Agreement:     agree,
	}
}

// EstimateHold predicts how long price should take to travel the target
// distance, from the mean absolute hourly close change, buffered and bounded.
func EstimateHold(hourly []shared.Candlestick, targetDistance float64) time.Duration {
	if len(hourly) < 2 || targetDistance <= 0 {
		return defaultHold
	}

	var sum float64
	for idx := 1; idx < len(hourly); idx++ {
		sum += math.Abs(hourly[idx].Close - hourly[idx-1].Close)
	}

	meanMove := sum / float64(len(hourly)-1)
	if meanMove <= 0 {
		return defaultHold
	}

	hours := targetDistance / meanMove * holdBuffer
	hold := time.Duration(hours * float64(time.Hour))
	switch {
	case hold < minHold:
		return minHold
	case hold > maxHold:
		return maxHold
	default:
		return hold
	}
}

// NewSignal assembles a generated signal skeleton from a synthesis outcome
// and its rationale. Stop, target and sizing are applied by the risk
// calculator before admission.
func (s *Synthesizer) NewSignal(pair string, entryPrice float64, outcome Outcome,
	readings []shared.TimeframeReading, agg sentiment.Aggregate, technicalScore float64,
	atr float64, regime shared.VolatilityRegime, now time.Time) *shared.Signal {
	return &shared.Signal{
		ID:          shared.Fingerprint(pair, outcome.Direction, now, s.cfg.ValidityWindow),
		Pair:        pair,
		Direction:   outcome.Direction,
		EntryPrice:  entryPrice,
		Confidence:  outcome.Confidence,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.cfg.ValidityWindow),
		Rationale: shared.Rationale{
			SentimentScore:      agg.Score,
			SentimentConfidence: agg.Confidence,
			CategoryScores:      agg.CategoryScores,
			TechnicalScore:      technicalScore,
			Readings:            readings,
			ATR:                 atr,
			Regime:              regime,
			Agreement:           outcome.Agreement,
		},
		State: shared.Generated,
	}
}
