package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dlyons/fxsignal/risk"
	"github.com/dlyons/fxsignal/sentiment"
	"github.com/dlyons/fxsignal/shared"
	"github.com/dlyons/fxsignal/synthesis"
	"github.com/dlyons/fxsignal/technical"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// stubBroker serves ramping candle history and acknowledges orders.
type stubBroker struct {
	mtx           sync.Mutex
	candleErr     error
	openPositions []shared.PositionRecord
	submits       int
	lastOrder     *shared.OrderRequest
}

func (b *stubBroker) submitCount() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.submits
}

func (b *stubBroker) FetchAccountSnapshot(ctx context.Context) (*shared.AccountSnapshot, error) {
	return &shared.AccountSnapshot{
		Balance:         10000,
		MarginAvailable: 100000,
		OpenPositions:   b.openPositions,
	}, nil
}

func (b *stubBroker) FetchQuote(ctx context.Context, pair string) (float64, error) {
	return 1.2000, nil
}

func (b *stubBroker) FetchCandles(ctx context.Context, pair string, timeframe shared.Timeframe, count int) ([]shared.Candlestick, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.candleErr != nil {
		return nil, b.candleErr
	}

	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]shared.Candlestick, 0, count)
	price := 1.1500
	for i := 0; i < count; i++ {
		price += 0.0005
		candles = append(candles, shared.Candlestick{
			Open:      price - 0.0005,
			High:      price + 0.0003,
			Low:       price - 0.0008,
			Close:     price,
			Volume:    1000,
			Date:      date.Add(timeframe.Duration() * time.Duration(i)),
			Pair:      pair,
			Timeframe: timeframe,
		})
	}

	return candles, nil
}

func (b *stubBroker) SubmitOrder(ctx context.Context, order *shared.OrderRequest) (string, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.submits++
	b.lastOrder = order
	return "order-1", nil
}

func (b *stubBroker) ClosePosition(ctx context.Context, orderID string) error {
	return nil
}

// stubSource serves strongly positive news sentiment.
type stubSource struct{}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchObservations(ctx context.Context, pair string, window time.Duration) ([]shared.SentimentObservation, error) {
	observations := make([]shared.SentimentObservation, 0, 6)
	for i := 0; i < 6; i++ {
		observations = append(observations, shared.SentimentObservation{
			SourceID:   "stub",
			Category:   "news",
			Score:      0.8,
			Weight:     1,
			ObservedAt: time.Now().UTC(),
		})
	}
	return observations, nil
}

// stubStore records persisted signals in memory.
type stubStore struct {
	mtx     sync.Mutex
	signals []*shared.Signal
}

func (s *stubStore) PersistSignal(ctx context.Context, signal *shared.Signal) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.signals = append(s.signals, signal)
	return nil
}

func testServiceConfig(broker *stubBroker, store *stubStore, cancel context.CancelFunc, notify func(string)) *SignalServiceConfig {
	logger := zerolog.Nop()
	return &SignalServiceConfig{
		Pairs:   []string{"EUR_USD"},
		Broker:  broker,
		Sources: []shared.SentimentSource{&stubSource{}},
		Store:   store,
		Technical: &technical.AnalyzerConfig{
			TimeframeWeights: map[shared.Timeframe]float64{
				shared.OneHour:  0.2,
				shared.FourHour: 0.3,
				shared.Daily:    0.5,
			},
			MomentumWeight:          0.40,
			TrendWeight:             0.35,
			SupportResistanceWeight: 0.25,
		},
		Sentiment: &sentiment.AggregatorConfig{
			CategoryWeights: map[string]float64{
				"news":              0.40,
				"monetary_policy":   0.25,
				"economic_calendar": 0.20,
				"positioning":       0.15,
			},
			MinObservations: 6,
		},
		Synthesis: &synthesis.SynthesizerConfig{
			SentimentWeight:   0.6,
			TechnicalWeight:   0.4,
			Deadband:          0.05,
			ConfidenceScale:   4.0,
			ConfidenceFloor:   0.35,
			ConfidenceCeiling: 0.95,
			ValidityWindow:    time.Hour,
		},
		Risk: &risk.CalculatorConfig{
			StopMultiplier:      1.5,
			TargetMultiplier:    2.5,
			RiskFraction:        0.015,
			MaxUnits:            200000,
			MinRiskReward:       1.5,
			MaxConcurrentTrades: 5,
			MaxDailyTrades:      8,
			CorrelationLimit:    0.7,
			CorrelationPolicy:   risk.RejectCorrelated,
			MaxPortfolioHeat:    0.20,
			Logger:              &logger,
		},
		ScanInterval:      time.Minute * 15,
		MonitorInterval:   time.Minute * 2,
		SentimentWindow:   time.Hour * 24,
		MaxSignalsPerScan: 3,
		Notify:            notify,
		Cancel:            cancel,
	}
}

func TestSignalServiceConfigValidate(t *testing.T) {
	err := (&SignalServiceConfig{}).Validate()
	assert.True(t, errors.Is(err, shared.ErrConfigurationInvalid))
}

func TestScanGeneratesAndExecutesSignal(t *testing.T) {
	broker := &stubBroker{}
	store := &stubStore{}
	notifyMsgs := make(chan string, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewSignalService(testServiceConfig(broker, store, cancel, func(message string) {
		notifyMsgs <- message
	}))
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.manager.Run(ctx)
		close(done)
	}()

	// An uptrending pair with strongly positive sentiment produces an
	// admitted buy signal that reaches the brokerage.
	svc.scan(ctx)

	msg := <-notifyMsgs
	assert.True(t, strings.Contains(msg, "Opened buy EUR_USD"))
	assert.Equal(t, broker.submits, 1)
	assert.Equal(t, broker.lastOrder.Direction, shared.Buy)
	assert.True(t, broker.lastOrder.StopPrice < 1.2000)
	assert.True(t, broker.lastOrder.TargetPrice > 1.2000)

	cancel()
	<-done
}

func TestScanSkipsFailingPair(t *testing.T) {
	broker := &stubBroker{candleErr: shared.ErrDataUnavailable}
	store := &stubStore{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewSignalService(testServiceConfig(broker, store, cancel, func(string) {}))
	assert.NoError(t, err)

	// A pair that cannot be scanned is skipped without aborting the cycle
	// and nothing is persisted or submitted.
	svc.scan(ctx)

	assert.Equal(t, broker.submits, 0)
	assert.Equal(t, len(store.signals), 0)
}

func TestScanRejectsCorrelatedOpenPositionPair(t *testing.T) {
	// An open position on a pair outside the scan universe still vetoes a
	// correlated candidate. The stub serves identical candles for every
	// pair, so their returns correlate fully.
	broker := &stubBroker{openPositions: []shared.PositionRecord{
		{
			SignalID:      "existing",
			OrderID:       "order-0",
			Pair:          "EUR_USD",
			Direction:     shared.Buy,
			ExecutedUnits: 100000,
			ExecutedAt:    time.Now().UTC().Add(-time.Hour),
		},
	}}
	store := &stubStore{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testServiceConfig(broker, store, cancel, func(string) {})
	cfg.Pairs = []string{"GBP_USD"}

	svc, err := NewSignalService(cfg)
	assert.NoError(t, err)

	svc.scan(ctx)

	assert.Equal(t, broker.submitCount(), 0)

	store.mtx.Lock()
	defer store.mtx.Unlock()
	assert.Equal(t, len(store.signals), 1)
	assert.Equal(t, store.signals[0].State, shared.Rejected)
	assert.Equal(t, store.signals[0].RejectedFor, shared.CorrelatedExposure)
}

func TestScanDuplicateWindowIsIdempotent(t *testing.T) {
	broker := &stubBroker{}
	store := &stubStore{}
	notifyMsgs := make(chan string, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewSignalService(testServiceConfig(broker, store, cancel, func(message string) {
		notifyMsgs <- message
	}))
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.manager.Run(ctx)
		close(done)
	}()

	svc.scan(ctx)
	<-notifyMsgs

	// Rescanning within the same validity window regenerates the same
	// fingerprint, which the lifecycle manager drops without a second order.
	svc.scan(ctx)

	time.Sleep(time.Millisecond * 250)
	assert.Equal(t, broker.submitCount(), 1)

	cancel()
	<-done
}

func TestServiceGracefulShutdown(t *testing.T) {
	broker := &stubBroker{}
	store := &stubStore{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewSignalService(testServiceConfig(broker, store, cancel, func(string) {}))
	assert.NoError(t, err)

	// Ensure the signal service can be run and gracefully terminated.
	time.AfterFunc(time.Second*2, func() {
		cancel()
	})
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	<-done
}
