package shared

import (
	"time"
)

const (
	// DateLayout is the format layout for parsing candle dates.
	DateLayout = "2006-01-02 15:04:05"
)

// Timeframe represents the market data time period.
type Timeframe int

const (
	OneHour Timeframe = iota
	FourHour
	Daily
)

// String stringifies the provided timeframe.
func (t Timeframe) String() string {
	switch t {
	case OneHour:
		return "1H"
	case FourHour:
		return "4H"
	case Daily:
		return "D"
	default:
		return "unknown"
	}
}

// Duration returns the candle period covered by the timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case OneHour:
		return time.Hour
	case FourHour:
		return time.Hour * 4
	case Daily:
		return time.Hour * 24
	default:
		return 0
	}
}
