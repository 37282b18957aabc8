// Package market retrieves price histories and company snapshots from the
// market-data provider.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"filings-pipeline/internal/circuitbreaker"
	"filings-pipeline/internal/common/errors"
	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/common/retry"
	"filings-pipeline/internal/models"
	"filings-pipeline/internal/ratelimit"
)

// ProviderKey names this provider for rate limiting. It is distinct from
// the filings provider so each source gets its own admission window.
const ProviderKey = "market"

const dateLayout = "2006-01-02"

// Config holds the market client configuration.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Retry     retry.Policy
}

// Client fetches price data. Requests follow the same discipline as the
// filings client: rate limiter first, then circuit breaker, retried per
// policy.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	logger     logging.Logger
}

// NewClient creates a market-data client.
func NewClient(config Config, limiter *ratelimit.Limiter, logger logging.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.ConfigError("market base URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retry.MaxRetries == 0 {
		config.Retry = retry.DefaultPolicy()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
		breaker:    circuitbreaker.New(ProviderKey, circuitbreaker.ProviderConfig, logger),
		logger:     logger,
	}, nil
}

func (c *Client) requestLogger(ctx context.Context) logging.Logger {
	return c.logger.WithContext(logging.WithProvider(ctx, ProviderKey))
}

type pricePointRow struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

type historyResponse struct {
	Prices []pricePointRow `json:"prices"`
}

// History returns the closing-price series for ticker over the inclusive
// [start, end] range, ascending by date. Rows with unparsable dates or
// non-positive closes are dropped.
func (c *Client) History(ctx context.Context, ticker string, start, end time.Time) (models.PriceSeries, error) {
	query := url.Values{}
	query.Set("start", start.Format(dateLayout))
	query.Set("end", end.Format(dateLayout))
	endpoint := c.config.BaseURL + "/v1/history/" + url.PathEscape(ticker) + "?" + query.Encode()

	var result historyResponse
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}

	logger := c.requestLogger(ctx)
	series := make(models.PriceSeries, 0, len(result.Prices))
	for _, row := range result.Prices {
		pointDate, err := time.Parse(dateLayout, row.Date)
		if err != nil || row.Close <= 0 {
			logger.Warn("dropping invalid price point",
				logging.String("ticker", ticker),
				logging.String("date", row.Date),
			)
			continue
		}
		series = append(series, models.PricePoint{Date: pointDate, Close: row.Close})
	}

	sort.Slice(series, func(i, j int) bool {
		return series[i].Date.Before(series[j].Date)
	})
	return series, nil
}

type infoResponse struct {
	Ticker       string   `json:"ticker"`
	CompanyName  string   `json:"company_name"`
	MarketCap    *float64 `json:"market_cap"`
	CurrentPrice *float64 `json:"current_price"`
}

// Info returns the current snapshot for ticker. MarketCap and
// CurrentPrice are nil when the provider does not report them.
func (c *Client) Info(ctx context.Context, ticker string) (models.TickerInfo, error) {
	endpoint := c.config.BaseURL + "/v1/info/" + url.PathEscape(ticker)

	var result infoResponse
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return models.TickerInfo{}, err
	}

	return models.TickerInfo{
		Ticker:       ticker,
		CompanyName:  result.CompanyName,
		MarketCap:    result.MarketCap,
		CurrentPrice: result.CurrentPrice,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	return retry.Do(ctx, c.config.Retry, func() error {
		if err := c.limiter.Acquire(ctx, ProviderKey); err != nil {
			return err
		}
		return c.breaker.Execute(func() error {
			return c.doGet(ctx, endpoint, out)
		})
	})
}

func (c *Client) doGet(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.InternalError("building request", err)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.ConnectivityError("market request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errors.ConnectivityError(fmt.Sprintf("market provider returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return errors.ProviderRejectionError(fmt.Sprintf("market provider rejected request with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.ConnectivityError("reading market response", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.ValidationError(fmt.Sprintf("decoding market response: %v", err))
	}
	return nil
}
