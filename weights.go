package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dlyons/fxsignal/risk"
	"github.com/dlyons/fxsignal/sentiment"
	"github.com/dlyons/fxsignal/shared"
	"github.com/dlyons/fxsignal/synthesis"
	"github.com/dlyons/fxsignal/technical"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Weights is the tunable weighting and threshold schema, loaded from YAML.
// Invalid weights are fatal at startup and never at runtime.
type Weights struct {
	Timeframes struct {
		OneHour  float64 `yaml:"one_hour"`
		FourHour float64 `yaml:"four_hour"`
		Daily    float64 `yaml:"daily"`
	} `yaml:"timeframes"`
	Indicators struct {
		Momentum          float64 `yaml:"momentum"`
		Trend             float64 `yaml:"trend"`
		SupportResistance float64 `yaml:"support_resistance"`
	} `yaml:"indicators"`
	Categories map[string]float64 `yaml:"categories"`
	Sentiment  struct {
		MinObservations int `yaml:"min_observations"`
	} `yaml:"sentiment"`
	Synthesis struct {
		SentimentWeight       float64 `yaml:"sentiment_weight"`
		TechnicalWeight       float64 `yaml:"technical_weight"`
		Deadband              float64 `yaml:"deadband"`
		ConfidenceScale       float64 `yaml:"confidence_scale"`
		ConfidenceFloor       float64 `yaml:"confidence_floor"`
		ConfidenceCeiling     float64 `yaml:"confidence_ceiling"`
		ValidityWindowMinutes int     `yaml:"validity_window_minutes"`
	} `yaml:"synthesis"`
	Risk struct {
		StopMultiplier      float64 `yaml:"stop_multiplier"`
		TargetMultiplier    float64 `yaml:"target_multiplier"`
		RiskFraction        float64 `yaml:"risk_fraction"`
		MaxUnits            int     `yaml:"max_units"`
		MinRiskReward       float64 `yaml:"min_risk_reward"`
		MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
		MaxDailyTrades      int     `yaml:"max_daily_trades"`
		CorrelationLimit    float64 `yaml:"correlation_limit"`
		HalveCorrelated     bool    `yaml:"halve_correlated"`
		MaxPortfolioHeat    float64 `yaml:"max_portfolio_heat"`
	} `yaml:"risk"`
	Scan struct {
		MaxSignalsPerScan    int `yaml:"max_signals_per_scan"`
		SentimentWindowHours int `yaml:"sentiment_window_hours"`
	} `yaml:"scan"`
}

// DefaultWeights returns the built-in weighting schema.
func DefaultWeights() *Weights {
	var w Weights

	w.Timeframes.OneHour = 0.2
	w.Timeframes.FourHour = 0.3
	w.Timeframes.Daily = 0.5

	w.Indicators.Momentum = 0.40
	w.Indicators.Trend = 0.35
	w.Indicators.SupportResistance = 0.25

	w.Categories = map[string]float64{
		"news":              0.40,
		"monetary_policy":   0.25,
		"economic_calendar": 0.20,
		"positioning":       0.15,
	}
	w.Sentiment.MinObservations = 6

	w.Synthesis.SentimentWeight = 0.6
	w.Synthesis.TechnicalWeight = 0.4
	w.Synthesis.Deadband = 0.05
	w.Synthesis.ConfidenceScale = 4.0
	w.Synthesis.ConfidenceFloor = 0.35
	w.Synthesis.ConfidenceCeiling = 0.95
	w.Synthesis.ValidityWindowMinutes = 60

	w.Risk.StopMultiplier = 1.5
	w.Risk.TargetMultiplier = 2.5
	w.Risk.RiskFraction = 0.015
	w.Risk.MaxUnits = 200000
	w.Risk.MinRiskReward = 1.5
	w.Risk.MaxConcurrentTrades = 5
	w.Risk.MaxDailyTrades = 8
	w.Risk.CorrelationLimit = 0.7
	w.Risk.HalveCorrelated = false
	w.Risk.MaxPortfolioHeat = 0.20

	w.Scan.MaxSignalsPerScan = 3
	w.Scan.SentimentWindowHours = 24

	return &w
}

// LoadWeights loads the weighting schema from the provided YAML filepath. An
// empty path returns the built-in defaults.
func LoadWeights(path string) (*Weights, error) {
	if path == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading weights file: %w", err)
	}

	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing weights file: %w", err)
	}

	return &w, nil
}

// TechnicalConfig derives the technical analyzer configuration.
func (w *Weights) TechnicalConfig() *technical.AnalyzerConfig {
	return &technical.AnalyzerConfig{
		TimeframeWeights: map[shared.Timeframe]float64{
			shared.OneHour:  w.Timeframes.OneHour,
			shared.FourHour: w.Timeframes.FourHour,
			shared.Daily:    w.Timeframes.Daily,
		},
		MomentumWeight:          w.Indicators.Momentum,
		TrendWeight:             w.Indicators.Trend,
		SupportResistanceWeight: w.Indicators.SupportResistance,
	}
}

// SentimentConfig derives the sentiment aggregator configuration.
func (w *Weights) SentimentConfig() *sentiment.AggregatorConfig {
	return &sentiment.AggregatorConfig{
		CategoryWeights: w.Categories,
		MinObservations: w.Sentiment.MinObservations,
	}
}

// SynthesisConfig derives the signal synthesizer configuration.
func (w *Weights) SynthesisConfig() *synthesis.SynthesizerConfig {
	return &synthesis.SynthesizerConfig{
		SentimentWeight:   w.Synthesis.SentimentWeight,
		TechnicalWeight:   w.Synthesis.TechnicalWeight,
		Deadband:          w.Synthesis.Deadband,
		ConfidenceScale:   w.Synthesis.ConfidenceScale,
		ConfidenceFloor:   w.Synthesis.ConfidenceFloor,
		ConfidenceCeiling: w.Synthesis.ConfidenceCeiling,
		ValidityWindow:    time.Duration(w.Synthesis.ValidityWindowMinutes) * time.Minute,
	}
}

// RiskConfig derives the risk calculator configuration.
func (w *Weights) RiskConfig(logger *zerolog.Logger) *risk.CalculatorConfig {
	policy := risk.RejectCorrelated
	if w.Risk.HalveCorrelated {
		policy = risk.HalveCorrelated
	}

	return &risk.CalculatorConfig{
		StopMultiplier:      w.Risk.StopMultiplier,
		TargetMultiplier:    w.Risk.TargetMultiplier,
		RiskFraction:        w.Risk.RiskFraction,
		MaxUnits:            w.Risk.MaxUnits,
		MinRiskReward:       w.Risk.MinRiskReward,
		MaxConcurrentTrades: w.Risk.MaxConcurrentTrades,
		MaxDailyTrades:      w.Risk.MaxDailyTrades,
		CorrelationLimit:    w.Risk.CorrelationLimit,
		CorrelationPolicy:   policy,
		MaxPortfolioHeat:    w.Risk.MaxPortfolioHeat,
		Logger:              logger,
	}
}

// Validate asserts every derived component configuration is sane. Weight sum
// and range violations surface here, before any component is constructed.
func (w *Weights) Validate(logger *zerolog.Logger) error {
	var errs error

	if err := w.TechnicalConfig().Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := w.SentimentConfig().Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := w.SynthesisConfig().Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := w.RiskConfig(logger).Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if w.Scan.MaxSignalsPerScan <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max signals per scan must be positive: %w",
			shared.ErrConfigurationInvalid))
	}
	if w.Scan.SentimentWindowHours <= 0 {
		errs = errors.Join(errs, fmt.Errorf("sentiment window must be positive: %w",
			shared.ErrConfigurationInvalid))
	}

	return errs
}
