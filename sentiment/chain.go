package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/dlyons/fxsignal/shared"
	"github.com/rs/zerolog"
)

// FetchResult represents the outcome of an ordered feed fetch, naming the
// source that supplied the observations.
type FetchResult struct {
	// Source is the name of the source that produced observations. Empty
	// when every source succeeded but none had data.
	Source string
	// Observations are the fetched observations, possibly empty.
	Observations []shared.SentimentObservation
}

// ChainConfig represents the feed chain configuration.
type ChainConfig struct {
	// Sources are the ordered sentiment sources to try.
	Sources []shared.SentimentSource
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Chain fetches observations from an explicit ordered list of sources.
// Failures are surfaced per source rather than swallowed, and the returned
// result names the source that succeeded.
type Chain struct {
	cfg *ChainConfig
}

// NewChain initializes a new feed chain.
func NewChain(cfg *ChainConfig) (*Chain, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("feed chain needs at least one source: %w", shared.ErrConfigurationInvalid)
	}

	return &Chain{cfg: cfg}, nil
}

// Fetch tries each source in order and returns the first non-empty result.
// A source returning no observations is a valid outcome and the next source
// is consulted; only when every source errors does the fetch fail with
// data unavailable.
func (c *Chain) Fetch(ctx context.Context, pair string, window time.Duration) (*FetchResult, error) {
	failures := 0

	for _, source := range c.cfg.Sources {
		observations, err := source.FetchObservations(ctx, pair, window)
		if err != nil {
			failures++
			c.cfg.Logger.Warn().Msgf("sentiment source %s failed for %s: %v", source.Name(), pair, err)
			continue
		}

		if len(observations) > 0 {
			return &FetchResult{Source: source.Name(), Observations: observations}, nil
		}
	}

	if failures == len(c.cfg.Sources) {
		return nil, fmt.Errorf("all %d sentiment sources failed for %s: %w",
			failures, pair, shared.ErrDataUnavailable)
	}

	// Some sources responded but none had observations for the pair.
	return &FetchResult{}, nil
}
