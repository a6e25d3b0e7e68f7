package shared

import (
	"time"
)

// SentimentObservation represents one scored sentiment reading for a pair,
// produced by an ingestion source and consumed read-only.
type SentimentObservation struct {
	SourceID   string
	Category   string
	Score      float64
	Weight     float64
	ObservedAt time.Time
}
