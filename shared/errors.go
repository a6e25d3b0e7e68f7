package shared

import (
	"errors"
)

var (
	// ErrInsufficientHistory indicates too few candles exist to evaluate a
	// pair and timeframe. The affected pair is skipped for the cycle.
	ErrInsufficientHistory = errors.New("insufficient candle history")
	// ErrDataUnavailable indicates an external data source returned nothing
	// usable. Downstream confidence is degraded, data is never fabricated.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrRateLimited indicates an external source throttled the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrExecutionFailed indicates order submission failed after exhausting
	// all retries.
	ErrExecutionFailed = errors.New("order execution failed")
	// ErrConfigurationInvalid indicates an invalid configuration, fatal at
	// startup only.
	ErrConfigurationInvalid = errors.New("invalid configuration")
)
