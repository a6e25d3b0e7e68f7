package shared

import (
	"context"
	"time"
)

// OrderRequest represents an order submission to the brokerage.
type OrderRequest struct {
	Pair        string
	Direction   Direction
	Units       int
	StopPrice   float64
	TargetPrice float64
}

// Broker defines the requirements for the consumed brokerage capability.
type Broker interface {
	// FetchAccountSnapshot fetches the current account state.
	FetchAccountSnapshot(ctx context.Context) (*AccountSnapshot, error)
	// FetchQuote fetches the current mid price for the provided pair.
	FetchQuote(ctx context.Context, pair string) (float64, error)
	// FetchCandles fetches the most recent candles for the provided pair and timeframe.
	FetchCandles(ctx context.Context, pair string, timeframe Timeframe, count int) ([]Candlestick, error)
	// SubmitOrder submits the provided order, returning the brokerage order id.
	SubmitOrder(ctx context.Context, order *OrderRequest) (string, error)
	// ClosePosition closes the position associated with the provided order id.
	ClosePosition(ctx context.Context, orderID string) error
}

// SentimentSource defines the requirements for a sentiment observation source.
// An empty result set is a valid outcome, not an error.
type SentimentSource interface {
	// Name identifies the source.
	Name() string
	// FetchObservations fetches sentiment observations for the provided pair
	// covering the trailing window.
	FetchObservations(ctx context.Context, pair string, window time.Duration) ([]SentimentObservation, error)
}
