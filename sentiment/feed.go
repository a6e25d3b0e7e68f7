package sentiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dlyons/fxsignal/shared"
	"github.com/tidwall/gjson"
)

const (
	// feedTimeout bounds individual feed requests.
	feedTimeout = time.Second * 10
)

// FeedConfig represents the configuration for a REST sentiment feed.
type FeedConfig struct {
	// Name identifies the feed.
	Name string
	// BaseURL is the feed endpoint.
	BaseURL string
	// APIKey is the feed API token.
	APIKey string
}

// Validate asserts the config has sane inputs.
func (cfg *FeedConfig) Validate() error {
	var errs error

	if cfg.Name == "" {
		errs = errors.Join(errs, fmt.Errorf("feed name cannot be empty"))
	}
	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("feed base url cannot be empty"))
	}

	if errs != nil {
		return errors.Join(shared.ErrConfigurationInvalid, errs)
	}

	return nil
}

// Feed is a REST sentiment observation source.
type Feed struct {
	cfg   *FeedConfig
	httpc http.Client
}

// Ensure the Feed implements the SentimentSource interface.
var _ shared.SentimentSource = (*Feed)(nil)

// NewFeed initializes a new REST sentiment feed.
func NewFeed(cfg *FeedConfig) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Feed{
		cfg:   cfg,
		httpc: http.Client{Timeout: feedTimeout},
	}, nil
}

// Name identifies the feed.
func (f *Feed) Name() string {
	return f.cfg.Name
}

// parseObservations parses sentiment observations from the provided json
// data. Entries without a parsable observation time are skipped.
func parseObservations(data []gjson.Result, source string) []shared.SentimentObservation {
	observations := make([]shared.SentimentObservation, 0, len(data))

	for idx := range data {
		observedAt, err := time.Parse(time.RFC3339, data[idx].Get("observed_at").String())
		if err != nil {
			continue
		}

		observations = append(observations, shared.SentimentObservation{
			SourceID:   source,
			Category:   data[idx].Get("category").String(),
			Score:      data[idx].Get("score").Float(),
			Weight:     data[idx].Get("weight").Float(),
			ObservedAt: observedAt,
		})
	}

	return observations
}

// FetchObservations fetches sentiment observations for the provided pair
// covering the trailing window. An empty result set is a valid outcome.
func (f *Feed) FetchObservations(ctx context.Context, pair string, window time.Duration) ([]shared.SentimentObservation, error) {
	params := url.Values{}
	params.Add("pair", pair)
	params.Add("hours", fmt.Sprintf("%d", int(window.Hours())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.cfg.BaseURL+"/sentiment?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating feed request: %w", err)
	}

	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching sentiment from %s for %s: %w: %w",
			f.cfg.Name, pair, shared.ErrDataUnavailable, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading feed response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("feed %s throttled: %w", f.cfg.Name, shared.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("feed %s request failed with status %d: %w",
			f.cfg.Name, resp.StatusCode, shared.ErrDataUnavailable)
	}

	return parseObservations(gjson.GetBytes(body, "observations").Array(), f.cfg.Name), nil
}
