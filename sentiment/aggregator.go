// Package sentiment aggregates weighted sentiment observations from multiple
// sources into one directional score with a coverage-based confidence.
package sentiment

import (
	"errors"
	"fmt"
	"math"

	"github.com/dlyons/fxsignal/shared"
)

const (
	// weightTolerance is the allowed deviation when validating weight sums.
	weightTolerance = 1e-6
)

// AggregatorConfig represents the sentiment aggregator configuration.
type AggregatorConfig struct {
	// CategoryWeights maps each source category to its combination weight.
	// Weights must sum to 1.
	CategoryWeights map[string]float64
	// MinObservations is the observation count at which the count factor of
	// the confidence saturates.
	MinObservations int
}

// Validate asserts the config has sane inputs.
func (cfg *AggregatorConfig) Validate() error {
	var errs error

	if len(cfg.CategoryWeights) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no category weights provided"))
	}

	var sum float64
	for category, weight := range cfg.CategoryWeights {
		if weight <= 0 {
			errs = errors.Join(errs, fmt.Errorf("category %q weight must be positive", category))
		}
		sum += weight
	}
	if len(cfg.CategoryWeights) > 0 && math.Abs(sum-1) > weightTolerance {
		errs = errors.Join(errs, fmt.Errorf("category weights must sum to 1, got %v", sum))
	}

	if cfg.MinObservations <= 0 {
		errs = errors.Join(errs, fmt.Errorf("minimum observations must be positive, got %d", cfg.MinObservations))
	}

	if errs != nil {
		return errors.Join(shared.ErrConfigurationInvalid, errs)
	}

	return nil
}

// Aggregate represents the combined sentiment for a pair over a window.
type Aggregate struct {
	// Score is the category-weighted directional sentiment in [-1, 1].
	Score float64
	// Confidence reflects source coverage and observation count, in [0, 1].
	// It is independent of the score magnitude.
	Confidence float64
	// CategoryScores retains the per-category breakdown for the rationale.
	CategoryScores map[string]float64
	// Observations is the number of observations that contributed.
	Observations int
}

// Aggregator combines sentiment observations into a single reading.
type Aggregator struct {
	cfg *AggregatorConfig
}

// NewAggregator initializes a new sentiment aggregator.
func NewAggregator(cfg *AggregatorConfig) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Aggregator{cfg: cfg}, nil
}

// Aggregate folds the provided observations into one sentiment reading.
// Observations for unconfigured categories are skipped. Zero observations
// yield a neutral score with zero confidence, signalling downstream that
// sentiment should be de-weighted rather than failing the pipeline.
func (a *Aggregator) Aggregate(observations []shared.SentimentObservation) Aggregate {
	scoreSums := make(map[string]float64)
	weightSums := make(map[string]float64)
	counted := 0

	for idx := range observations {
		obs := &observations[idx]
		if _, ok := a.cfg.CategoryWeights[obs.Category]; !ok {
			continue
		}

		weight := obs.Weight
		if weight <= 0 {
			weight = 1
		}

		scoreSums[obs.Category] += math.Max(-1, math.Min(1, obs.Score)) * weight
		weightSums[obs.Category] += weight
		counted++
	}

	if counted == 0 {
		return Aggregate{CategoryScores: map[string]float64{}}
	}

	categoryScores := make(map[string]float64, len(scoreSums))
	var combined, coveredWeight float64
	for category, weightSum := range weightSums {
		score := scoreSums[category] / weightSum
		categoryScores[category] = score
		combined += score * a.cfg.CategoryWeights[category]
		coveredWeight += a.cfg.CategoryWeights[category]
	}

	coverage := float64(len(categoryScores)) / float64(len(a.cfg.CategoryWeights))
	countFactor := math.Min(1, float64(counted)/float64(a.cfg.MinObservations))

	return Aggregate{
		Score:          combined / coveredWeight,
		Confidence:     coverage * countFactor,
		CategoryScores: categoryScores,
		Observations:   counted,
	}
}
