// Package service wires the signal pipeline together and drives the scan and
// monitor cycles.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dlyons/fxsignal/database"
	"github.com/dlyons/fxsignal/position"
	"github.com/dlyons/fxsignal/risk"
	"github.com/dlyons/fxsignal/sentiment"
	"github.com/dlyons/fxsignal/shared"
	"github.com/dlyons/fxsignal/synthesis"
	"github.com/dlyons/fxsignal/technical"
	"github.com/dlyons/fxsignal/volatility"
	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// candleCount is the number of candles fetched per timeframe each scan.
	candleCount = 200
	// scanTimeout bounds a single scan cycle invocation.
	scanTimeout = time.Minute * 5
	// monitorTimeout bounds a single monitor cycle invocation.
	monitorTimeout = time.Minute
)

// SignalServiceConfig represents the configuration struct for the signal
// service.
type SignalServiceConfig struct {
	// Pairs represents the tracked currency pairs.
	Pairs []string
	// Broker represents the brokerage capability.
	Broker shared.Broker
	// Sources are the ordered sentiment providers.
	Sources []shared.SentimentSource
	// Store persists terminal signals.
	Store database.SignalStorer
	// Technical configures the multi-timeframe analyzer.
	Technical *technical.AnalyzerConfig
	// Sentiment configures the category aggregator.
	Sentiment *sentiment.AggregatorConfig
	// Synthesis configures the score synthesizer.
	Synthesis *synthesis.SynthesizerConfig
	// Risk configures the risk calculator.
	Risk *risk.CalculatorConfig
	// ScanInterval is the cadence of the signal scan cycle.
	ScanInterval time.Duration
	// MonitorInterval is the cadence of the open-position monitor cycle.
	MonitorInterval time.Duration
	// SentimentWindow is the trailing window for sentiment observations.
	SentimentWindow time.Duration
	// MaxSignalsPerScan caps admitted signals per scan, best first.
	MaxSignalsPerScan int
	// Notify sends the provided message.
	Notify func(message string)
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config has sane inputs.
func (cfg *SignalServiceConfig) Validate() error {
	var errs error

	if len(cfg.Pairs) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no pairs provided for signal service"))
	}
	if cfg.Broker == nil {
		errs = errors.Join(errs, fmt.Errorf("broker cannot be nil"))
	}
	if len(cfg.Sources) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no sentiment sources provided"))
	}
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("signal store cannot be nil"))
	}
	if cfg.Technical == nil || cfg.Sentiment == nil || cfg.Synthesis == nil || cfg.Risk == nil {
		errs = errors.Join(errs, fmt.Errorf("component configurations cannot be nil"))
	}
	if cfg.ScanInterval <= 0 || cfg.MonitorInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("scan and monitor intervals must be positive"))
	}
	if cfg.SentimentWindow <= 0 {
		errs = errors.Join(errs, fmt.Errorf("sentiment window must be positive"))
	}
	if cfg.MaxSignalsPerScan <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max signals per scan must be positive"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	if errs != nil {
		return errors.Join(shared.ErrConfigurationInvalid, errs)
	}

	return nil
}

// candidate is a generated, sized signal awaiting admission.
type candidate struct {
	signal *shared.Signal
}

// SignalService represents the forex signal generation service.
type SignalService struct {
	cfg          *SignalServiceConfig
	model        *volatility.Model
	analyzer     *technical.Analyzer
	chain        *sentiment.Chain
	aggregator   *sentiment.Aggregator
	synthesizer  *synthesis.Synthesizer
	calculator   *risk.Calculator
	manager      *position.Manager
	jobScheduler *gocron.Scheduler
	logger       *zerolog.Logger
	wg           sync.WaitGroup
}

// NewSignalService initializes a new signal service.
func NewSignalService(cfg *SignalServiceConfig) (*SignalService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "fxsignal").Logger()

	if cfg.Notify == nil {
		cfg.Notify = func(message string) {
			logger.Info().Msg(message)
		}
	}

	model, err := volatility.NewModel(volatility.DefaultLookback)
	if err != nil {
		return nil, fmt.Errorf("creating volatility model: %w", err)
	}

	analyzer, err := technical.NewAnalyzer(cfg.Technical)
	if err != nil {
		return nil, fmt.Errorf("creating technical analyzer: %w", err)
	}

	chainLogger := logger.With().Str("component", "sentimentchain").Logger()
	chain, err := sentiment.NewChain(&sentiment.ChainConfig{
		Sources: cfg.Sources,
		Logger:  &chainLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sentiment chain: %w", err)
	}

	aggregator, err := sentiment.NewAggregator(cfg.Sentiment)
	if err != nil {
		return nil, fmt.Errorf("creating sentiment aggregator: %w", err)
	}

	synthesizer, err := synthesis.NewSynthesizer(cfg.Synthesis)
	if err != nil {
		return nil, fmt.Errorf("creating signal synthesizer: %w", err)
	}

	calculator, err := risk.NewCalculator(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("creating risk calculator: %w", err)
	}

	managerLogger := logger.With().Str("component", "lifecyclemanager").Logger()
	manager, err := position.NewManager(&position.ManagerConfig{
		Broker: cfg.Broker,
		Notify: cfg.Notify,
		PersistSignal: func(signal *shared.Signal) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			defer cancel()
			return cfg.Store.PersistSignal(ctx, signal)
		},
		RecordExecution: calculator.RecordExecution,
		ReleaseRisk:     calculator.ReleaseRisk,
		Logger:          &managerLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating lifecycle manager: %w", err)
	}

	service := &SignalService{
		cfg:          cfg,
		model:        model,
		analyzer:     analyzer,
		chain:        chain,
		aggregator:   aggregator,
		synthesizer:  synthesizer,
		calculator:   calculator,
		manager:      manager,
		jobScheduler: gocron.NewScheduler(time.UTC),
		logger:       &logger,
	}

	return service, nil
}

// scanPair evaluates a single pair, returning a sized signal candidate or nil
// when the pair produces no signal this cycle. The pair's hourly returns are
// returned whenever its candles were fetched, signal or not, so the
// correlation gate sees every scanned pair.
func (s *SignalService) scanPair(ctx context.Context, pair string, snapshot *shared.AccountSnapshot, now time.Time) (*candidate, []float64, error) {
	history := make(map[shared.Timeframe][]shared.Candlestick)
	for _, timeframe := range []shared.Timeframe{shared.OneHour, shared.FourHour, shared.Daily} {
		candles, err := s.cfg.Broker.FetchCandles(ctx, pair, timeframe, candleCount)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching %s candles for %s: %w", timeframe.String(), pair, err)
		}
		history[timeframe] = candles
	}

	hourly := history[shared.OneHour]
	returns := risk.Returns(hourly)

	technicalScore, readings, err := s.analyzer.Score(history)
	if err != nil {
		return nil, returns, fmt.Errorf("scoring %s: %w", pair, err)
	}

	atr, err := s.model.ATR(hourly)
	if err != nil {
		return nil, returns, fmt.Errorf("computing atr for %s: %w", pair, err)
	}

	result, err := s.chain.Fetch(ctx, pair, s.cfg.SentimentWindow)
	if err != nil {
		return nil, returns, fmt.Errorf("fetching sentiment for %s: %w", pair, err)
	}

	agg := s.aggregator.Aggregate(result.Observations)

	outcome := s.synthesizer.Synthesize(technicalScore, readings, agg)
	if outcome.NoSignal {
		s.logger.Debug().Str("pair", pair).Float64("score", outcome.CombinedScore).
			Msg("combined score inside deadband, no signal")
		return nil, returns, nil
	}

	quote, err := s.cfg.Broker.FetchQuote(ctx, pair)
	if err != nil {
		return nil, returns, fmt.Errorf("fetching quote for %s: %w", pair, err)
	}

	regime := volatility.Regime(atr, quote)
	signal := s.synthesizer.NewSignal(pair, quote, outcome, readings, agg,
		technicalScore, atr, regime, now)

	if err := s.calculator.ApplyLevels(signal, atr); err != nil {
		return nil, returns, fmt.Errorf("deriving levels for %s: %w", pair, err)
	}

	targetDistance := signal.TargetPrice - signal.EntryPrice
	if targetDistance < 0 {
		targetDistance = -targetDistance
	}
	signal.EstimatedHold = synthesis.EstimateHold(hourly, targetDistance)
	signal.Units = s.calculator.Size(signal, snapshot)

	return &candidate{signal: signal}, returns, nil
}

// scan runs one full signal generation cycle across the tracked pairs.
func (s *SignalService) scan(ctx context.Context) {
	now := time.Now().UTC()
	cycle := uuid.NewString()
	logger := s.logger.With().Str("cycle", cycle).Logger()

	// Account state is fetched fresh every cycle and never cached.
	snapshot, err := s.cfg.Broker.FetchAccountSnapshot(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("fetching account snapshot")
		return
	}

	candidates := make([]*candidate, 0, len(s.cfg.Pairs))
	pairReturns := make(map[string][]float64)
	for _, pair := range s.cfg.Pairs {
		// A pair failing to produce a signal never aborts the cycle. Its
		// returns are still recorded for the correlation gate when available.
		cand, returns, err := s.scanPair(ctx, pair, snapshot, now)
		if len(returns) > 0 {
			pairReturns[pair] = returns
		}
		if err != nil {
			logger.Error().Err(err).Str("pair", pair).Msg("skipping pair this cycle")
			continue
		}
		if cand == nil {
			continue
		}

		candidates = append(candidates, cand)
	}

	// Open positions on pairs outside the scan universe still gate the
	// correlation check; fetch their returns on demand.
	for idx := range snapshot.OpenPositions {
		pair := snapshot.OpenPositions[idx].Pair
		if _, ok := pairReturns[pair]; ok {
			continue
		}

		candles, err := s.cfg.Broker.FetchCandles(ctx, pair, shared.OneHour, candleCount)
		if err != nil {
			logger.Error().Err(err).Str("pair", pair).
				Msg("fetching returns for open position pair")
			continue
		}
		pairReturns[pair] = risk.Returns(candles)
	}

	// Best candidates first, capped per scan.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].signal.Confidence > candidates[j].signal.Confidence
	})
	if len(candidates) > s.cfg.MaxSignalsPerScan {
		candidates = candidates[:s.cfg.MaxSignalsPerScan]
	}

	for _, cand := range candidates {
		signal := cand.signal

		admission := s.calculator.Admit(signal, snapshot, pairReturns, now)
		if !admission.Admitted {
			signal.State = shared.Rejected
			signal.RejectedFor = admission.Reason
			logger.Info().Str("pair", signal.Pair).Str("signal", signal.ID).
				Msgf("signal rejected: %s", admission.Reason.String())

			if err := s.cfg.Store.PersistSignal(ctx, signal); err != nil {
				logger.Error().Err(err).Msgf("persisting rejected signal %s", signal.ID)
			}
			continue
		}

		signal.State = shared.Admitted
		if admission.Halved {
			logger.Info().Str("pair", signal.Pair).Str("signal", signal.ID).
				Msg("correlated exposure, size halved")
		}

		s.manager.SendSignal(signal)
	}
}

// monitor runs one monitor cycle over the open positions.
func (s *SignalService) monitor(ctx context.Context) {
	s.manager.Monitor(ctx, time.Now().UTC())
}

// Run handles the lifecycle processes of the signal service.
func (s *SignalService) Run(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		s.manager.Run(ctx)
		s.wg.Done()
	}()

	_, err := s.jobScheduler.Every(s.cfg.ScanInterval).Do(func() {
		cctx, cancel := context.WithTimeout(ctx, scanTimeout)
		defer cancel()
		s.scan(cctx)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduling scan cycle")
		s.cfg.Cancel()
		return
	}

	_, err = s.jobScheduler.Every(s.cfg.MonitorInterval).Do(func() {
		cctx, cancel := context.WithTimeout(ctx, monitorTimeout)
		defer cancel()
		s.monitor(cctx)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduling monitor cycle")
		s.cfg.Cancel()
		return
	}

	s.jobScheduler.StartAsync()

	<-ctx.Done()
	s.jobScheduler.Stop()
	s.wg.Wait()
}
