package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dlyons/fxsignal/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

func testCalculatorConfig() *CalculatorConfig {
	logger := zerolog.Nop()
	return &CalculatorConfig{
		StopMultiplier:      1.5,
		TargetMultiplier:    2.5,
		RiskFraction:        0.015,
		MaxUnits:            200000,
		MinRiskReward:       1.5,
		MaxConcurrentTrades: 5,
		MaxDailyTrades:      8,
		CorrelationLimit:    0.7,
		CorrelationPolicy:   RejectCorrelated,
		MaxPortfolioHeat:    0.20,
		Logger:              &logger,
	}
}

func testSignal(pair string, direction shared.Direction) *shared.Signal {
	return &shared.Signal{
		ID:          shared.Fingerprint(pair, direction, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), time.Hour),
		Pair:        pair,
		Direction:   direction,
		EntryPrice:  1.2000,
		GeneratedAt: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		State:       shared.Generated,
	}
}

func testSnapshot(openPairs ...string) *shared.AccountSnapshot {
	positions := make([]shared.PositionRecord, 0, len(openPairs))
	for idx, pair := range openPairs {
		positions = append(positions, shared.PositionRecord{
			SignalID:      pair,
			OrderID:       pair,
			Pair:          pair,
			ExecutedUnits: 1000,
			ExecutedAt:    time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC).Add(time.Minute * time.Duration(idx)),
		})
	}

	return &shared.AccountSnapshot{
		Balance:         10000,
		MarginAvailable: 100000,
		OpenPositions:   positions,
	}
}

func TestCalculatorConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *CalculatorConfig)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *CalculatorConfig) {},
			wantErr: false,
		},
		{
			name: "non positive multipliers",
			mutate: func(cfg *CalculatorConfig) {
				cfg.StopMultiplier = 0
			},
			wantErr: true,
		},
		{
			name: "risk fraction out of range",
			mutate: func(cfg *CalculatorConfig) {
				cfg.RiskFraction = 1.5
			},
			wantErr: true,
		},
		{
			name: "non positive max units",
			mutate: func(cfg *CalculatorConfig) {
				cfg.MaxUnits = 0
			},
			wantErr: true,
		},
		{
			name: "non positive minimum risk reward",
			mutate: func(cfg *CalculatorConfig) {
				cfg.MinRiskReward = 0
			},
			wantErr: true,
		},
		{
			name: "non positive trade caps",
			mutate: func(cfg *CalculatorConfig) {
				cfg.MaxConcurrentTrades = 0
				cfg.MaxDailyTrades = -1
			},
			wantErr: true,
		},
		{
			name: "correlation limit out of range",
			mutate: func(cfg *CalculatorConfig) {
				cfg.CorrelationLimit = 1.5
			},
			wantErr: true,
		},
		{
			name: "portfolio heat out of range",
			mutate: func(cfg *CalculatorConfig) {
				cfg.MaxPortfolioHeat = 0
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		cfg := testCalculatorConfig()
		test.mutate(cfg)
		err := cfg.Validate()
		if test.wantErr && !errors.Is(err, shared.ErrConfigurationInvalid) {
			t.Errorf("%s: expected configuration invalid, got %v", test.name, err)
		}
		if !test.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", test.name, err)
		}
	}
}

func TestApplyLevels(t *testing.T) {
	calculator, err := NewCalculator(testCalculatorConfig())
	assert.NoError(t, err)

	// ATR 0.0010 at entry 1.2000 with multipliers (1.5, 2.5) yields
	// stop 1.1985, target 1.2025 and a risk reward of 5/3.
	buy := testSignal("EUR_USD", shared.Buy)
	assert.NoError(t, calculator.ApplyLevels(buy, 0.0010))
	assert.True(t, math.Abs(buy.StopPrice-1.1985) < 1e-9)
	assert.True(t, math.Abs(buy.TargetPrice-1.2025) < 1e-9)
	assert.True(t, math.Abs(buy.RiskRewardRatio-1.6667) < 1e-4)

	// Buy levels keep stop < entry < target.
	assert.True(t, buy.StopPrice < buy.EntryPrice)
	assert.True(t, buy.EntryPrice < buy.TargetPrice)

	// Sell levels are mirrored.
	sell := testSignal("EUR_USD", shared.Sell)
	assert.NoError(t, calculator.ApplyLevels(sell, 0.0010))
	assert.True(t, sell.TargetPrice < sell.EntryPrice)
	assert.True(t, sell.EntryPrice < sell.StopPrice)
	assert.True(t, math.Abs(sell.RiskRewardRatio-buy.RiskRewardRatio) < 1e-9)

	// The ratio always reproduces from the derived prices.
	want := math.Abs(buy.TargetPrice-buy.EntryPrice) / math.Abs(buy.EntryPrice-buy.StopPrice)
	assert.Equal(t, buy.RiskRewardRatio, want)

	// Extreme volatility is capped before levels are derived.
	capped := testSignal("EUR_USD", shared.Buy)
	assert.NoError(t, calculator.ApplyLevels(capped, 0.0500))
	assert.True(t, math.Abs(capped.StopPrice-(1.2000-0.01*1.5)) < 1e-9)

	// A non-positive atr cannot derive levels.
	err = calculator.ApplyLevels(testSignal("EUR_USD", shared.Buy), 0)
	assert.True(t, errors.Is(err, shared.ErrInsufficientHistory))
}

func TestSize(t *testing.T) {
	calculator, err := NewCalculator(testCalculatorConfig())
	assert.NoError(t, err)

	signal := testSignal("EUR_USD", shared.Buy)
	assert.NoError(t, calculator.ApplyLevels(signal, 0.0010))

	// 10000 balance at 1.5% risk over a 0.0015 stop distance sizes 100000
	// units.
	snapshot := testSnapshot()
	assert.Equal(t, calculator.Size(signal, snapshot), 100000)

	// The configured maximum clamps the size.
	cfg := testCalculatorConfig()
	cfg.MaxUnits = 50000
	clamped, err := NewCalculator(cfg)
	assert.NoError(t, err)
	assert.Equal(t, clamped.Size(signal, snapshot), 50000)

	// Available margin clamps the size.
	thin := testSnapshot()
	thin.MarginAvailable = 240
	assert.Equal(t, calculator.Size(signal, thin), 10000)

	// A depleted account sizes to zero.
	broke := testSnapshot()
	broke.Balance = 0
	assert.Equal(t, calculator.Size(signal, broke), 0)
}

func TestAdmit(t *testing.T) {
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	newAdmittable := func(calculator *Calculator) *shared.Signal {
		signal := testSignal("EUR_USD", shared.Buy)
		assert.NoError(t, calculator.ApplyLevels(signal, 0.0010))
		signal.Units = calculator.Size(signal, testSnapshot())
		return signal
	}

	// A clean signal with an empty book is admitted.
	calculator, err := NewCalculator(testCalculatorConfig())
	assert.NoError(t, err)
	admission := calculator.Admit(newAdmittable(calculator), testSnapshot(), nil, now)
	assert.True(t, admission.Admitted)

	// A risk reward below the minimum is rejected with the specific reason.
	weak := newAdmittable(calculator)
	weak.RiskRewardRatio = 1.2
	admission = calculator.Admit(weak, testSnapshot(), nil, now)
	assert.False(t, admission.Admitted)
	assert.Equal(t, admission.Reason, shared.MinRiskReward)

	// Five open positions against a cap of five rejects the sixth.
	admission = calculator.Admit(newAdmittable(calculator),
		testSnapshot("GBP_USD", "USD_JPY", "USD_CHF", "AUD_USD", "USD_CAD"), nil, now)
	assert.False(t, admission.Admitted)
	assert.Equal(t, admission.Reason, shared.MaxConcurrentTrades)

	// Exhausting the daily budget rejects further signals.
	daily, err := NewCalculator(testCalculatorConfig())
	assert.NoError(t, err)
	for i := 0; i < daily.cfg.MaxDailyTrades; i++ {
		executed := newAdmittable(daily)
		daily.RecordExecution(executed, now)
		daily.ReleaseRisk(executed.ID)
	}
	admission = daily.Admit(newAdmittable(daily), testSnapshot(), nil, now)
	assert.False(t, admission.Admitted)
	assert.Equal(t, admission.Reason, shared.MaxDailyTrades)

	// The daily counter resets on UTC day rollover.
	admission = daily.Admit(newAdmittable(daily), testSnapshot(), nil, now.Add(time.Hour*24))
	assert.True(t, admission.Admitted)
}

func TestAdmitCorrelation(t *testing.T) {
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	correlated := map[string][]float64{
		"EUR_USD": {0.001, -0.002, 0.003, -0.001, 0.002, 0.001, -0.003, 0.002},
		"GBP_USD": {0.001, -0.002, 0.003, -0.001, 0.002, 0.001, -0.003, 0.002},
	}
	uncorrelated := map[string][]float64{
		"EUR_USD": {0.001, -0.002, 0.003, -0.001, 0.002, 0.001, -0.003, 0.002},
		"GBP_USD": {-0.002, 0.001, -0.001, 0.003, -0.003, 0.002, 0.001, -0.002},
	}

	// The reject policy refuses correlated exposure.
	calculator, err := NewCalculator(testCalculatorConfig())
	assert.NoError(t, err)

	signal := testSignal("EUR_USD", shared.Buy)
	assert.NoError(t, calculator.ApplyLevels(signal, 0.0010))
	signal.Units = calculator.Size(signal, testSnapshot("GBP_USD"))

	admission := calculator.Admit(signal, testSnapshot("GBP_USD"), correlated, now)
	assert.False(t, admission.Admitted)
	assert.Equal(t, admission.Reason, shared.CorrelatedExposure)

	// Uncorrelated returns pass the same gate.
	admission = calculator.Admit(signal, testSnapshot("GBP_USD"), uncorrelated, now)
	assert.True(t, admission.Admitted)

	// The halving policy admits at half size instead.
	cfg := testCalculatorConfig()
	cfg.CorrelationPolicy = HalveCorrelated
	halving, err := NewCalculator(cfg)
	assert.NoError(t, err)

	halvable := testSignal("EUR_USD", shared.Buy)
	assert.NoError(t, halving.ApplyLevels(halvable, 0.0010))
	halvable.Units = halving.Size(halvable, testSnapshot("GBP_USD"))
	before := halvable.Units

	admission = halving.Admit(halvable, testSnapshot("GBP_USD"), correlated, now)
	assert.True(t, admission.Admitted)
	assert.True(t, admission.Halved)
	assert.Equal(t, halvable.Units, before/2)
}

func TestAdmitPortfolioHeat(t *testing.T) {
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	calculator, err := NewCalculator(testCalculatorConfig())
	assert.NoError(t, err)

	// Accumulate open risk close to the cap, then verify the next signal
	// is rejected for heat.
	held := testSignal("GBP_USD", shared.Buy)
	assert.NoError(t, calculator.ApplyLevels(held, 0.0080))
	held.Units = 150000
	calculator.RecordExecution(held, now)

	signal := testSignal("EUR_USD", shared.Buy)
	assert.NoError(t, calculator.ApplyLevels(signal, 0.0080))
	signal.Units = 50000

	admission := calculator.Admit(signal, testSnapshot("GBP_USD"), nil, now)
	assert.False(t, admission.Admitted)
	assert.Equal(t, admission.Reason, shared.PortfolioHeatExceeded)

	// Releasing the held risk admits the signal again.
	calculator.ReleaseRisk(held.ID)
	admission = calculator.Admit(signal, testSnapshot("GBP_USD"), nil, now)
	assert.True(t, admission.Admitted)
}

func TestAdmitMonotonicity(t *testing.T) {
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	// Tightening the daily cap never admits more signals for a fixed set.
	admittedWithCap := func(cap int) int {
		cfg := testCalculatorConfig()
		cfg.MaxDailyTrades = cap
		calculator, err := NewCalculator(cfg)
		assert.NoError(t, err)

		admitted := 0
		for i := 0; i < 4; i++ {
			signal := testSignal("EUR_USD", shared.Buy)
			assert.NoError(t, calculator.ApplyLevels(signal, 0.0010))
			signal.Units = calculator.Size(signal, testSnapshot())

			admission := calculator.Admit(signal, testSnapshot(), nil, now)
			if admission.Admitted {
				admitted++
				calculator.RecordExecution(signal, now)
				calculator.ReleaseRisk(signal.ID)
			}
		}
		return admitted
	}

	loose := admittedWithCap(3)
	tight := admittedWithCap(1)
	assert.Equal(t, loose, 3)
	assert.Equal(t, tight, 1)
	assert.True(t, tight <= loose)
}

func TestCorrelationAndReturns(t *testing.T) {
	// Identical series correlate perfectly, inverted series negatively.
	series := []float64{0.01, -0.02, 0.03, -0.01, 0.02}
	inverted := []float64{-0.01, 0.02, -0.03, 0.01, -0.02}
	assert.True(t, math.Abs(correlation(series, series)-1) < 1e-9)
	assert.True(t, math.Abs(correlation(series, inverted)+1) < 1e-9)

	// Degenerate inputs correlate to zero.
	assert.Equal(t, correlation(series, []float64{0.01}), float64(0))
	assert.Equal(t, correlation([]float64{0.01, 0.01, 0.01}, series[:3]), float64(0))

	// Returns derive close-to-close changes.
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	candles := []shared.Candlestick{
		{Close: 1.00, Date: date},
		{Close: 1.01, Date: date.Add(time.Hour)},
		{Close: 0.9999, Date: date.Add(time.Hour * 2)},
	}
	returns := Returns(candles)
	assert.Equal(t, len(returns), 2)
	assert.True(t, math.Abs(returns[0]-0.01) < 1e-9)
	assert.True(t, returns[1] < 0)
	assert.Equal(t, len(Returns(candles[:1])), 0)
}
