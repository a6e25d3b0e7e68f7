// Package risk derives stop, target and position size from volatility and
// applies portfolio-level admission checks before a signal may execute.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dlyons/fxsignal/shared"
	"github.com/dlyons/fxsignal/volatility"
	"github.com/rs/zerolog"
)

const (
	// marginRate approximates the brokerage margin requirement per unit of
	// exposure when clamping position size.
	marginRate = 0.02
)

// CorrelationPolicy selects how a correlated signal is handled.
type CorrelationPolicy int

const (
	// RejectCorrelated rejects signals correlated with open exposure.
	RejectCorrelated CorrelationPolicy = iota
	// HalveCorrelated admits correlated signals at half size.
	HalveCorrelated
)

// CalculatorConfig represents the risk calculator configuration.
type CalculatorConfig struct {
	// StopMultiplier and TargetMultiplier scale the capped average true
	// range into stop and target distances.
	StopMultiplier   float64
	TargetMultiplier float64
	// RiskFraction is the fraction of the account balance risked per trade.
	RiskFraction float64
	// MaxUnits caps the position size.
	MaxUnits int
	// MinRiskReward is the minimum admissible risk to reward ratio.
	MinRiskReward float64
	// MaxConcurrentTrades caps simultaneously open positions.
	MaxConcurrentTrades int
	// MaxDailyTrades caps executions per UTC day.
	MaxDailyTrades int
	// CorrelationLimit is the absolute returns correlation against any open
	// position at or above which the correlation policy applies.
	CorrelationLimit float64
	// CorrelationPolicy selects rejection or size halving for correlated
	// signals.
	CorrelationPolicy CorrelationPolicy
	// MaxPortfolioHeat caps the sum of open risk amounts relative to the
	// account balance.
	MaxPortfolioHeat float64
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *CalculatorConfig) Validate() error {
	var errs error

	if cfg.StopMultiplier <= 0 || cfg.TargetMultiplier <= 0 {
		errs = errors.Join(errs, fmt.Errorf("stop and target multipliers must be positive"))
	}
	if cfg.RiskFraction <= 0 || cfg.RiskFraction >= 1 {
		errs = errors.Join(errs, fmt.Errorf("risk fraction must be in (0, 1), got %v", cfg.RiskFraction))
	}
	if cfg.MaxUnits <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max units must be positive, got %d", cfg.MaxUnits))
	}
	if cfg.MinRiskReward <= 0 {
		errs = errors.Join(errs, fmt.Errorf("minimum risk reward must be positive, got %v", cfg.MinRiskReward))
	}
	if cfg.MaxConcurrentTrades <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max concurrent trades must be positive, got %d", cfg.MaxConcurrentTrades))
	}
	if cfg.MaxDailyTrades <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max daily trades must be positive, got %d", cfg.MaxDailyTrades))
	}
	if cfg.CorrelationLimit <= 0 || cfg.CorrelationLimit > 1 {
		errs = errors.Join(errs, fmt.Errorf("correlation limit must be in (0, 1], got %v", cfg.CorrelationLimit))
	}
	if cfg.MaxPortfolioHeat <= 0 || cfg.MaxPortfolioHeat > 1 {
		errs = errors.Join(errs, fmt.Errorf("max portfolio heat must be in (0, 1], got %v", cfg.MaxPortfolioHeat))
	}

	if errs != nil {
		return errors.Join(shared.ErrConfigurationInvalid, errs)
	}

	return nil
}

// Admission represents the outcome of the admission checks. A rejection
// always carries the failed check's reason.
type Admission struct {
	Admitted bool
	Reason   shared.RejectionReason
	Halved   bool
}

// Calculator sizes signals and gates them on portfolio state. The daily
// trade counter and the open risk accumulator are the only core-owned
// mutable shared state and are serialized behind the calculator mutex.
type Calculator struct {
	cfg *CalculatorConfig

	mtx         sync.Mutex
	dailyTrades int
	dailyDate   time.Time
	openRisk    map[string]float64
}

// NewCalculator initializes a new risk calculator.
func NewCalculator(cfg *CalculatorConfig) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Calculator{
		cfg:      cfg,
		openRisk: make(map[string]float64),
	}, nil
}

// ApplyLevels derives the stop and target prices from the capped average
// true range and recomputes the risk reward ratio from the resulting prices.
func (c *Calculator) ApplyLevels(signal *shared.Signal, atr float64) error {
	if atr <= 0 {
		return fmt.Errorf("atr must be positive to derive levels, got %v: %w",
			atr, shared.ErrInsufficientHistory)
	}

	capped := volatility.CappedATR(atr)
	stopDistance := capped * c.cfg.StopMultiplier
	targetDistance := capped * c.cfg.TargetMultiplier

	switch signal.Direction {
	case shared.Buy:
		signal.StopPrice = signal.EntryPrice - stopDistance
		signal.TargetPrice = signal.EntryPrice + targetDistance
	case shared.Sell:
		signal.StopPrice = signal.EntryPrice + stopDistance
		signal.TargetPrice = signal.EntryPrice - targetDistance
	default:
		return fmt.Errorf("unknown direction for signal %s: %s", signal.ID, signal.Direction.String())
	}

	signal.RiskRewardRatio = math.Abs(signal.TargetPrice-signal.EntryPrice) /
		math.Abs(signal.EntryPrice-signal.StopPrice)

	return nil
}

// Size computes the position size from the account risk budget, clamped to
// the configured maximum and to available margin.
func (c *Calculator) Size(signal *shared.Signal, snapshot *shared.AccountSnapshot) int {
	stopDistance := math.Abs(signal.EntryPrice - signal.StopPrice)
	if stopDistance <= 0 || snapshot.Balance <= 0 {
		return 0
	}

	units := int(snapshot.Balance * c.cfg.RiskFraction / stopDistance)
	if units > c.cfg.MaxUnits {
		units = c.cfg.MaxUnits
	}

	marginCeiling := int(snapshot.MarginAvailable / (signal.EntryPrice * marginRate))
	if units > marginCeiling {
		units = marginCeiling
	}

	return units
}

// correlation computes the Pearson correlation of two return series over
// their shared length.
func correlation(a []float64, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}

	a, b = a[len(a)-n:], b[len(b)-n:]

	var meanA, meanB float64
	for idx := 0; idx < n; idx++ {
		meanA += a[idx]
		meanB += b[idx]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for idx := 0; idx < n; idx++ {
		da, db := a[idx]-meanA, b[idx]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	if varA == 0 || varB == 0 {
		return 0
	}

	return cov / math.Sqrt(varA*varB)
}

// Returns converts ordered candles into close-to-close returns.
func Returns(candles []shared.Candlestick) []float64 {
	if len(candles) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(candles)-1)
	for idx := 1; idx < len(candles); idx++ {
		prev := candles[idx-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (candles[idx].Close-prev)/prev)
	}

	return returns
}

// dayOf truncates the provided time to its UTC day.
func dayOf(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour * 24)
}

// Admit runs the portfolio-level admission checks against a fresh account
// snapshot. pairReturns supplies recent close-to-close returns for the
// signal's pair and every open position's pair. Every rejection carries the
// distinct reason of the first failed check; a signal is never silently
// dropped.
func (c *Calculator) Admit(signal *shared.Signal, snapshot *shared.AccountSnapshot,
	pairReturns map[string][]float64, now time.Time) Admission {
	if signal.RiskRewardRatio < c.cfg.MinRiskReward {
		return Admission{Reason: shared.MinRiskReward}
	}

	if len(snapshot.OpenPositions) >= c.cfg.MaxConcurrentTrades {
		return Admission{Reason: shared.MaxConcurrentTrades}
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if day := dayOf(now); !day.Equal(c.dailyDate) {
		c.dailyDate = day
		c.dailyTrades = 0
	}
	if c.dailyTrades >= c.cfg.MaxDailyTrades {
		return Admission{Reason: shared.MaxDailyTrades}
	}

	halved := false
	signalReturns := pairReturns[signal.Pair]
	for idx := range snapshot.OpenPositions {
		open := &snapshot.OpenPositions[idx]
		if open.Pair == signal.Pair {
			continue
		}

		corr := math.Abs(correlation(signalReturns, pairReturns[open.Pair]))
		if corr >= c.cfg.CorrelationLimit {
			if c.cfg.CorrelationPolicy == RejectCorrelated {
				return Admission{Reason: shared.CorrelatedExposure}
			}
			halved = true
		}
	}

	if halved {
		signal.Units /= 2
	}
	if signal.Units <= 0 {
		return Admission{Reason: shared.InsufficientMargin}
	}

	stopDistance := math.Abs(signal.EntryPrice - signal.StopPrice)
	riskAmount := stopDistance * float64(signal.Units)

	var openHeat float64
	for _, amount := range c.openRisk {
		openHeat += amount
	}
	if snapshot.Balance <= 0 || (openHeat+riskAmount)/snapshot.Balance >= c.cfg.MaxPortfolioHeat {
		return Admission{Reason: shared.PortfolioHeatExceeded}
	}

	return Admission{Admitted: true, Halved: halved}
}

// RecordExecution counts an executed trade against the daily cap and adds
// its risk amount to the open risk accumulator.
func (c *Calculator) RecordExecution(signal *shared.Signal, now time.Time) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if day := dayOf(now); !day.Equal(c.dailyDate) {
		c.dailyDate = day
		c.dailyTrades = 0
	}
	c.dailyTrades++

	stopDistance := math.Abs(signal.EntryPrice - signal.StopPrice)
	c.openRisk[signal.ID] = stopDistance * float64(signal.Units)
}

// ReleaseRisk removes a closed signal's risk amount from the accumulator.
func (c *Calculator) ReleaseRisk(signalID string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	delete(c.openRisk, signalID)
}
