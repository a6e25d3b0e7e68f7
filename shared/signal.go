package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SignalState represents the lifecycle state of a signal.
type SignalState int

const (
	Generated SignalState = iota
	Admitted
	PendingExecution
	Open
	Closed
	Rejected
	Expired
)

// String stringifies the provided signal state.
func (s SignalState) String() string {
	switch s {
	case Generated:
		return "generated"
	case Admitted:
		return "admitted"
	case PendingExecution:
		return "pending execution"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// VolatilityRegime represents a coarse volatility classification.
type VolatilityRegime int

const (
	LowVolatility VolatilityRegime = iota
	NormalVolatility
	HighVolatility
)

// String stringifies the provided volatility regime.
func (v VolatilityRegime) String() string {
	switch v {
	case LowVolatility:
		return "low"
	case NormalVolatility:
		return "normal"
	case HighVolatility:
		return "high"
	default:
		return "unknown"
	}
}

// TimeframeReading represents the technical breakdown for one timeframe.
type TimeframeReading struct {
	Timeframe         Timeframe
	RSI               float64
	MACD              float64
	MATrend           float64
	Bollinger         float64
	SupportResistance float64
	Score             float64
}

// Rationale retains the inputs a signal's confidence was derived from. It is
// the audit contract for backtest replay and must stay complete enough to
// recompute confidence independently.
type Rationale struct {
	SentimentScore      float64
	SentimentConfidence float64
	CategoryScores      map[string]float64
	TechnicalScore      float64
	Readings            []TimeframeReading
	ATR                 float64
	Regime              VolatilityRegime
	Agreement           float64
}

// Signal represents a discrete, risk-bounded trade intent for a currency pair.
type Signal struct {
	ID                string
	Pair              string
	Direction         Direction
	EntryPrice        float64
	TargetPrice       float64
	StopPrice         float64
	Units             int
	Confidence        float64
	RiskRewardRatio   float64
	GeneratedAt       time.Time
	ExpiresAt         time.Time
	EstimatedHold     time.Duration
	Rationale         Rationale
	State             SignalState
	RejectedFor       RejectionReason
	ClosedFor         CloseReason
}

// Fingerprint derives a stable signal identifier from the pair, direction and
// generation window. Signals regenerated within the same window share it.
func Fingerprint(pair string, direction Direction, generatedAt time.Time, window time.Duration) string {
	windowStart := generatedAt.Truncate(window)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", pair, direction.String(), windowStart.Unix())))
	return hex.EncodeToString(sum[:])[:16]
}

// PositionRecord links an executed signal to its brokerage order.
type PositionRecord struct {
	SignalID      string
	OrderID       string
	Pair          string
	Direction     Direction
	ExecutedUnits int
	ExecutedAt    time.Time
}

// AccountSnapshot represents the brokerage account state at a point in time.
// It is fetched fresh each cycle and never mutated locally.
type AccountSnapshot struct {
	Balance         float64
	MarginUsed      float64
	MarginAvailable float64
	OpenPositions   []PositionRecord
}
