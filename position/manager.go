// Package position drives signals through their lifecycle, from admission
// through brokerage execution to close.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dlyons/fxsignal/shared"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// submitAttempts bounds order submission retries.
	submitAttempts = 3
	// submitBaseDelay is the initial delay between submission retries.
	submitBaseDelay = time.Millisecond * 500
	// timeExitMultiplier scales the estimated hold into the time exit horizon.
	timeExitMultiplier = 1.5
)

// ManagerConfig represents the signal lifecycle manager configuration.
type ManagerConfig struct {
	// Broker represents the brokerage used for execution and monitoring.
	Broker shared.Broker
	// Notify sends the provided message.
	Notify func(message string)
	// PersistSignal persists the provided terminal-state signal.
	PersistSignal func(signal *shared.Signal) error
	// RecordExecution counts an executed signal against the risk budgets.
	RecordExecution func(signal *shared.Signal, now time.Time)
	// ReleaseRisk removes a closed signal from the open risk accumulator.
	ReleaseRisk func(signalID string)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Broker == nil {
		errs = errors.Join(errs, fmt.Errorf("broker cannot be nil"))
	}
	if cfg.Notify == nil {
		errs = errors.Join(errs, fmt.Errorf("notify function cannot be nil"))
	}
	if cfg.PersistSignal == nil {
		errs = errors.Join(errs, fmt.Errorf("persist signal function cannot be nil"))
	}
	if cfg.RecordExecution == nil {
		errs = errors.Join(errs, fmt.Errorf("record execution function cannot be nil"))
	}
	if cfg.ReleaseRisk == nil {
		errs = errors.Join(errs, fmt.Errorf("release risk function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	if errs != nil {
		return errors.Join(shared.ErrConfigurationInvalid, errs)
	}

	return nil
}

// trackedPosition pairs an open signal with its brokerage order.
type trackedPosition struct {
	signal   *shared.Signal
	orderID  string
	openedAt time.Time
}

// Manager manages signals through their lifecycles. All state mutation is
// serialized through the run loop and the manager mutex.
type Manager struct {
	cfg     *ManagerConfig
	signals chan *shared.Signal

	mtx          sync.RWMutex
	open         []*trackedPosition
	fingerprints map[string]time.Time
}

// NewManager initializes a new signal lifecycle manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		cfg:          cfg,
		signals:      make(chan *shared.Signal, bufferSize),
		open:         []*trackedPosition{},
		fingerprints: make(map[string]time.Time),
	}, nil
}

// SendSignal relays the provided admitted signal for execution.
func (m *Manager) SendSignal(signal *shared.Signal) {
	select {
	case m.signals <- signal:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("signal channel at capacity: %d/%d",
			len(m.signals), bufferSize)
	}
}

// transition advances the provided signal to the next state. Transitions are
// one-directional; an invalid edge errors and leaves the signal unchanged.
func (m *Manager) transition(signal *shared.Signal, next shared.SignalState) error {
	valid := false
	switch signal.State {
	case shared.Generated:
		valid = next == shared.Admitted || next == shared.Rejected || next == shared.Expired
	case shared.Admitted:
		valid = next == shared.PendingExecution || next == shared.Expired
	case shared.PendingExecution:
		valid = next == shared.Open || next == shared.Rejected
	case shared.Open:
		valid = next == shared.Closed
	}

	if !valid {
		return fmt.Errorf("invalid state transition for signal %s: %s -> %s",
			signal.ID, signal.State.String(), next.String())
	}

	m.cfg.Logger.Info().Str("signal", signal.ID).Str("pair", signal.Pair).
		Msgf("signal state %s -> %s", signal.State.String(), next.String())
	signal.State = next

	return nil
}

// seenFingerprint reports whether the provided fingerprint already executed
// within its validity window.
func (m *Manager) seenFingerprint(signal *shared.Signal, now time.Time) bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	expiry, ok := m.fingerprints[signal.ID]
	return ok && now.Before(expiry)
}

// markFingerprint registers an executed fingerprint for its validity window.
// Registration happens only after a successful submission so a failed
// execution stays retryable by a later scan.
func (m *Manager) markFingerprint(signal *shared.Signal) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.fingerprints[signal.ID] = signal.ExpiresAt
}

// finalize persists a terminal-state signal and releases its risk.
func (m *Manager) finalize(signal *shared.Signal) {
	m.cfg.ReleaseRisk(signal.ID)
	if err := m.cfg.PersistSignal(signal); err != nil {
		m.cfg.Logger.Error().Err(err).Msgf("persisting signal %s", signal.ID)
	}
}

// handleSignal executes the provided admitted signal against the brokerage.
func (m *Manager) handleSignal(ctx context.Context, signal *shared.Signal, now time.Time) error {
	if signal.State != shared.Admitted {
		return fmt.Errorf("signal %s is not admitted, got state %s", signal.ID, signal.State.String())
	}

	if !now.Before(signal.ExpiresAt) {
		if err := m.transition(signal, shared.Expired); err != nil {
			return err
		}
		m.finalize(signal)
		return nil
	}

	// A fingerprint that already executed within its window is a duplicate
	// regeneration and is dropped without a second order.
	if m.seenFingerprint(signal, now) {
		m.cfg.Logger.Info().Str("signal", signal.ID).
			Msg("duplicate fingerprint within validity window, skipping")
		return nil
	}

	if err := m.transition(signal, shared.PendingExecution); err != nil {
		return err
	}

	order := &shared.OrderRequest{
		Pair:        signal.Pair,
		Direction:   signal.Direction,
		Units:       signal.Units,
		StopPrice:   signal.StopPrice,
		TargetPrice: signal.TargetPrice,
	}

	var orderID string
	err := shared.Backoff(ctx, submitAttempts, submitBaseDelay, func(ctx context.Context) error {
		var sErr error
		orderID, sErr = m.cfg.Broker.SubmitOrder(ctx, order)
		return sErr
	})
	if err != nil {
		signal.RejectedFor = shared.ExecutionFailed
		if tErr := m.transition(signal, shared.Rejected); tErr != nil {
			return tErr
		}
		m.finalize(signal)
		return fmt.Errorf("submitting order for signal %s: %w: %w", signal.ID, shared.ErrExecutionFailed, err)
	}

	if err := m.transition(signal, shared.Open); err != nil {
		return err
	}

	m.markFingerprint(signal)
	m.cfg.RecordExecution(signal, now)

	m.mtx.Lock()
	m.open = append(m.open, &trackedPosition{signal: signal, orderID: orderID, openedAt: now})
	m.mtx.Unlock()

	m.cfg.Notify(fmt.Sprintf("Opened %s %s @ %.5f, stop %.5f, target %.5f, %d units (%s)",
		signal.Direction.String(), signal.Pair, signal.EntryPrice, signal.StopPrice,
		signal.TargetPrice, signal.Units, signal.ID))

	return nil
}

// exitReason decides whether the provided quote or elapsed time closes the
// tracked position.
func exitReason(tracked *trackedPosition, quote float64, now time.Time) (shared.CloseReason, bool) {
	signal := tracked.signal

	switch signal.Direction {
	case shared.Buy:
		if quote >= signal.TargetPrice {
			return shared.TargetHit, true
		}
		if quote <= signal.StopPrice {
			return shared.StopHit, true
		}
	case shared.Sell:
		if quote <= signal.TargetPrice {
			return shared.TargetHit, true
		}
		if quote >= signal.StopPrice {
			return shared.StopHit, true
		}
	}

	horizon := time.Duration(float64(tracked.signal.EstimatedHold) * timeExitMultiplier)
	if horizon > 0 && now.Sub(tracked.openedAt) >= horizon {
		return shared.TimeExit, true
	}

	return 0, false
}

// closePosition closes the tracked position at the brokerage and finalizes
// its signal.
func (m *Manager) closePosition(ctx context.Context, tracked *trackedPosition, reason shared.CloseReason) error {
	err := shared.Backoff(ctx, submitAttempts, submitBaseDelay, func(ctx context.Context) error {
		return m.cfg.Broker.ClosePosition(ctx, tracked.orderID)
	})
	if err != nil {
		return fmt.Errorf("closing position %s for signal %s: %w",
			tracked.orderID, tracked.signal.ID, err)
	}

	tracked.signal.ClosedFor = reason
	if err := m.transition(tracked.signal, shared.Closed); err != nil {
		return err
	}
	m.finalize(tracked.signal)

	m.cfg.Notify(fmt.Sprintf("Closed %s %s (%s): %s",
		tracked.signal.Direction.String(), tracked.signal.Pair,
		tracked.signal.ID, reason.String()))

	return nil
}

// Monitor evaluates every open position, oldest first, against current quotes
// and the time exit horizon, closing those that hit an exit condition.
func (m *Manager) Monitor(ctx context.Context, now time.Time) {
	m.mtx.RLock()
	tracked := make([]*trackedPosition, len(m.open))
	copy(tracked, m.open)
	m.mtx.RUnlock()

	closed := make(map[string]struct{})
	for _, position := range tracked {
		quote, err := m.cfg.Broker.FetchQuote(ctx, position.signal.Pair)
		if err != nil {
			m.cfg.Logger.Error().Err(err).Msgf("fetching quote for %s", position.signal.Pair)
			continue
		}

		reason, exit := exitReason(position, quote, now)
		if !exit {
			continue
		}

		if err := m.closePosition(ctx, position, reason); err != nil {
			m.cfg.Logger.Error().Err(err).Msgf("closing position for signal %s", position.signal.ID)
			continue
		}

		closed[position.signal.ID] = struct{}{}
	}

	if len(closed) == 0 {
		m.pruneFingerprints(now)
		return
	}

	m.mtx.Lock()
	remaining := m.open[:0]
	for _, position := range m.open {
		if _, ok := closed[position.signal.ID]; !ok {
			remaining = append(remaining, position)
		}
	}
	m.open = remaining
	m.mtx.Unlock()

	m.pruneFingerprints(now)
}

// pruneFingerprints drops fingerprints whose validity window has passed.
func (m *Manager) pruneFingerprints(now time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for fingerprint, expiry := range m.fingerprints {
		if !now.Before(expiry) {
			delete(m.fingerprints, fingerprint)
		}
	}
}

// OpenPositions returns a snapshot of the currently tracked open positions.
func (m *Manager) OpenPositions() []shared.PositionRecord {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	records := make([]shared.PositionRecord, 0, len(m.open))
	for _, position := range m.open {
		records = append(records, shared.PositionRecord{
			SignalID:      position.signal.ID,
			OrderID:       position.orderID,
			Pair:          position.signal.Pair,
			Direction:     position.signal.Direction,
			ExecutedUnits: position.signal.Units,
			ExecutedAt:    position.openedAt,
		})
	}

	return records
}

// Run manages the lifecycle processes of the signal manager.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-m.signals:
			if err := m.handleSignal(ctx, signal, time.Now().UTC()); err != nil {
				m.cfg.Logger.Error().Err(err).Msg("handling signal")
			}
		}
	}
}
