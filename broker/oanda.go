// Package broker implements the brokerage capability against the OANDA v20
// REST API.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dlyons/fxsignal/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// practiceBaseURL is the OANDA practice environment endpoint.
	practiceBaseURL = "https://api-fxpractice.oanda.com"
	// requestTimeout bounds individual brokerage requests.
	requestTimeout = time.Second * 10
)

// OANDAConfig represents the configuration for the OANDA client.
type OANDAConfig struct {
	// BaseURL is the brokerage endpoint. Defaults to the practice environment.
	BaseURL string
	// APIKey is the OANDA API token.
	APIKey string
	// AccountID is the brokerage account identifier.
	AccountID string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *OANDAConfig) Validate() error {
	var errs error

	if cfg.APIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("api key cannot be empty"))
	}
	if cfg.AccountID == "" {
		errs = errors.Join(errs, fmt.Errorf("account id cannot be empty"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	if errs != nil {
		return errors.Join(shared.ErrConfigurationInvalid, errs)
	}

	return nil
}

// OANDAClient represents the OANDA v20 REST API client.
type OANDAClient struct {
	cfg   *OANDAConfig
	httpc http.Client
}

// Ensure the OANDAClient implements the Broker interface.
var _ shared.Broker = (*OANDAClient)(nil)

// NewOANDAClient instantiates a new OANDA client.
func NewOANDAClient(cfg *OANDAConfig) (*OANDAClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = practiceBaseURL
	}

	return &OANDAClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: requestTimeout},
	}, nil
}

// do executes an authenticated request and returns the response body. A
// brokerage throttle surfaces as a rate limited error.
func (c *OANDAClient) do(ctx context.Context, method string, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating brokerage request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing brokerage request: %w: %w", shared.ErrDataUnavailable, err)
	}

	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading brokerage response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.cfg.Logger.Warn().Msgf("brokerage throttled %s %s", method, path)
		return nil, fmt.Errorf("brokerage throttled %s %s: %w", method, path, shared.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("brokerage request %s %s failed with status %d: %s",
			method, path, resp.StatusCode, gjson.GetBytes(payload, "errorMessage").String())
	}

	return payload, nil
}

// FetchAccountSnapshot fetches the current account state, including open
// positions.
func (c *OANDAClient) FetchAccountSnapshot(ctx context.Context) (*shared.AccountSnapshot, error) {
	summary, err := c.do(ctx, http.MethodGet, "/v3/accounts/"+c.cfg.AccountID+"/summary", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching account summary: %w", err)
	}

	account := gjson.GetBytes(summary, "account")
	snapshot := &shared.AccountSnapshot{
		Balance:         account.Get("balance").Float(),
		MarginUsed:      account.Get("marginUsed").Float(),
		MarginAvailable: account.Get("marginAvailable").Float(),
	}

	trades, err := c.do(ctx, http.MethodGet, "/v3/accounts/"+c.cfg.AccountID+"/openTrades", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching open trades: %w", err)
	}

	for _, trade := range gjson.GetBytes(trades, "trades").Array() {
		units := int(trade.Get("currentUnits").Int())
		direction := shared.Buy
		if units < 0 {
			direction = shared.Sell
			units = -units
		}

		executedAt, err := time.Parse(time.RFC3339Nano, trade.Get("openTime").String())
		if err != nil {
			return nil, fmt.Errorf("parsing trade open time: %w", err)
		}

		snapshot.OpenPositions = append(snapshot.OpenPositions, shared.PositionRecord{
			SignalID:      trade.Get("clientExtensions.id").String(),
			OrderID:       trade.Get("id").String(),
			Pair:          trade.Get("instrument").String(),
			Direction:     direction,
			ExecutedUnits: units,
			ExecutedAt:    executedAt,
		})
	}

	return snapshot, nil
}

// FetchQuote fetches the current mid price for the provided pair.
func (c *OANDAClient) FetchQuote(ctx context.Context, pair string) (float64, error) {
	params := url.Values{}
	params.Add("instruments", pair)

	payload, err := c.do(ctx, http.MethodGet,
		"/v3/accounts/"+c.cfg.AccountID+"/pricing?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("fetching quote for %s: %w", pair, err)
	}

	price := gjson.GetBytes(payload, "prices.0")
	if !price.Exists() {
		return 0, fmt.Errorf("no quote returned for %s: %w", pair, shared.ErrDataUnavailable)
	}

	bid := price.Get("bids.0.price").Float()
	ask := price.Get("asks.0.price").Float()

	return (bid + ask) / 2, nil
}

// granularity maps a timeframe to its brokerage granularity code.
func granularity(timeframe shared.Timeframe) (string, error) {
	switch timeframe {
	case shared.OneHour:
		return "H1", nil
	case shared.FourHour:
		return "H4", nil
	case shared.Daily:
		return "D", nil
	default:
		return "", fmt.Errorf("unknown timeframe provided: %s", timeframe.String())
	}
}

// ParseCandlesticks parses candlesticks from the provided json data.
func ParseCandlesticks(data []gjson.Result, pair string, timeframe shared.Timeframe) ([]shared.Candlestick, error) {
	candles := make([]shared.Candlestick, 0, len(data))

	for idx := range data {
		// Incomplete candles are still forming and excluded from history.
		if !data[idx].Get("complete").Bool() {
			continue
		}

		var candle shared.Candlestick

		mid := data[idx].Get("mid")
		candle.Open = mid.Get("o").Float()
		candle.High = mid.Get("h").Float()
		candle.Low = mid.Get("l").Float()
		candle.Close = mid.Get("c").Float()
		candle.Volume = data[idx].Get("volume").Float()

		candle.Pair = pair
		candle.Timeframe = timeframe

		dt, err := time.Parse(time.RFC3339Nano, data[idx].Get("time").String())
		if err != nil {
			return nil, fmt.Errorf("parsing candlestick time: %w", err)
		}

		candle.Date = dt
		candles = append(candles, candle)
	}

	return candles, nil
}

// FetchCandles fetches the most recent candles for the provided pair and
// timeframe, oldest first.
func (c *OANDAClient) FetchCandles(ctx context.Context, pair string, timeframe shared.Timeframe, count int) ([]shared.Candlestick, error) {
	code, err := granularity(timeframe)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("granularity", code)
	params.Add("count", fmt.Sprintf("%d", count))
	params.Add("price", "M")

	payload, err := c.do(ctx, http.MethodGet, "/v3/instruments/"+pair+"/candles?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching candles (%s) for %s: %w", timeframe.String(), pair, err)
	}

	return ParseCandlesticks(gjson.GetBytes(payload, "candles").Array(), pair, timeframe)
}

// orderPayload builds a market order submission body with stop loss and take
// profit attached on fill.
func orderPayload(order *shared.OrderRequest) ([]byte, error) {
	units := order.Units
	if order.Direction == shared.Sell {
		units = -units
	}

	body := map[string]any{
		"order": map[string]any{
			"type":         "MARKET",
			"instrument":   order.Pair,
			"units":        fmt.Sprintf("%d", units),
			"timeInForce":  "FOK",
			"positionFill": "DEFAULT",
			"stopLossOnFill": map[string]any{
				"price": fmt.Sprintf("%.5f", order.StopPrice),
			},
			"takeProfitOnFill": map[string]any{
				"price": fmt.Sprintf("%.5f", order.TargetPrice),
			},
		},
	}

	return json.Marshal(body)
}

// SubmitOrder submits the provided order, returning the brokerage trade id.
func (c *OANDAClient) SubmitOrder(ctx context.Context, order *shared.OrderRequest) (string, error) {
	body, err := orderPayload(order)
	if err != nil {
		return "", fmt.Errorf("encoding order payload: %w", err)
	}

	payload, err := c.do(ctx, http.MethodPost, "/v3/accounts/"+c.cfg.AccountID+"/orders", body)
	if err != nil {
		return "", fmt.Errorf("submitting %s order for %s: %w",
			order.Direction.String(), order.Pair, err)
	}

	tradeID := gjson.GetBytes(payload, "orderFillTransaction.tradeOpened.tradeID").String()
	if tradeID == "" {
		reason := gjson.GetBytes(payload, "orderCancelTransaction.reason").String()
		return "", fmt.Errorf("order for %s was not filled (%s): %w",
			order.Pair, reason, shared.ErrExecutionFailed)
	}

	return tradeID, nil
}

// ClosePosition closes the trade associated with the provided order id.
func (c *OANDAClient) ClosePosition(ctx context.Context, orderID string) error {
	body := []byte(`{"units":"ALL"}`)

	_, err := c.do(ctx, http.MethodPut,
		"/v3/accounts/"+c.cfg.AccountID+"/trades/"+orderID+"/close", body)
	if err != nil {
		return fmt.Errorf("closing trade %s: %w", orderID, err)
	}

	return nil
}
