// Package edgar retrieves ownership filings from the SEC full-text search
// endpoint and the company ticker mapping used to resolve CIKs to traded
// symbols.
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"filings-pipeline/internal/circuitbreaker"
	"filings-pipeline/internal/common/errors"
	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/common/retry"
	"filings-pipeline/internal/models"
	"filings-pipeline/internal/ratelimit"
)

// ProviderKey names this provider for rate limiting.
const ProviderKey = "edgar"

// pageSize is the number of results the search endpoint returns per page.
// A shorter page signals the final page.
const pageSize = 100

const dateLayout = "2006-01-02"

// Config holds the EDGAR client configuration.
type Config struct {
	// BaseURL is the root of the SEC site, e.g. https://www.sec.gov.
	BaseURL string
	// UserAgent identifies the caller. The SEC rejects anonymous clients,
	// so this is required.
	UserAgent string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// Retry governs re-attempts of transient failures.
	Retry retry.Policy
}

// Client fetches filings and ticker mappings. Every outbound request
// acquires the shared rate limiter first and runs inside a circuit
// breaker.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	logger     logging.Logger
}

// NewClient creates an EDGAR client.
func NewClient(config Config, limiter *ratelimit.Limiter, logger logging.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.ConfigError("edgar base URL is required")
	}
	if config.UserAgent == "" {
		return nil, errors.ConfigError("user agent is required for EDGAR requests")
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

// requestLogger derives a logger carrying the provider name and, when the
// context comes from a pipeline run, the run identifier.
func (c *Client) requestLogger(ctx context.Context) logging.Logger {
	return c.logger.WithContext(logging.WithProvider(ctx, ProviderKey))
}

// filingRow is the wire shape of one search hit. Fields are pointers where
// absence must be distinguished from a zero value.
type filingRow struct {
	CIK          string   `json:"cik"`
	CUSIP        string   `json:"cusip"`
	CompanyName  string   `json:"company_name"`
	FormType     string   `json:"form_type"`
	FilingDate   string   `json:"filing_date"`
	SharesOwned  *int64   `json:"shares_owned"`
	OwnershipPct *float64 `json:"ownership_percentage"`
}

type searchPage struct {
	Hits []json.RawMessage `json:"hits"`
}

// FetchFilings retrieves all filings of the given form kinds in the
// inclusive [start, end] date range, walking pages until a short page.
// Malformed rows are logged and skipped; they never fail the fetch.
func (c *Client) FetchFilings(ctx context.Context, formKinds []string, start, end time.Time) ([]models.FilingRecord, error) {
	logger := c.requestLogger(ctx)
	var filings []models.FilingRecord
	page := 1

	for {
		hits, err := c.fetchPage(ctx, formKinds, start, end, page)
		if err != nil {
			return nil, err
		}

		for _, raw := range hits {
			record, err := parseFiling(raw)
			if err != nil {
				logger.Warn("skipping malformed filing row",
					logging.Int("page", page),
					logging.Err(err),
				)
				continue
			}
			filings = append(filings, record)
		}

		if len(hits) < pageSize {
			break
		}
		page++
	}

	logger.Info("retrieved filings",
		logging.Int("count", len(filings)),
		logging.Int("pages", page),
	)
	return filings, nil
}

func (c *Client) fetchPage(ctx context.Context, formKinds []string, start, end time.Time, page int) ([]json.RawMessage, error) {
	query := url.Values{}
	for _, kind := range formKinds {
		query.Add("formTypes", kind)
	}
	query.Set("startDate", start.Format(dateLayout))
	query.Set("endDate", end.Format(dateLayout))
	query.Set("page", strconv.Itoa(page))

	endpoint := c.config.BaseURL + "/edgar/search-index?" + query.Encode()

	var result searchPage
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return result.Hits, nil
}

// tickerEntry matches the SEC company_tickers.json row shape.
type tickerEntry struct {
	CIK    json.Number `json:"cik_str"`
	Ticker string      `json:"ticker"`
	Title  string      `json:"title"`
}

// FetchCompanyTickers retrieves the CIK-to-ticker mapping, keyed by CIK.
func (c *Client) FetchCompanyTickers(ctx context.Context) (map[string]models.TickerInfo, error) {
	endpoint := c.config.BaseURL + "/files/company_tickers.json"

	var entries map[string]tickerEntry
	if err := c.getJSON(ctx, endpoint, &entries); err != nil {
		return nil, err
	}

	tickers := make(map[string]models.TickerInfo, len(entries))
	for _, entry := range entries {
		cik := entry.CIK.String()
		if cik == "" || entry.Ticker == "" {
			continue
		}
		tickers[cik] = models.TickerInfo{
			Ticker:      entry.Ticker,
			CompanyName: entry.Title,
		}
	}

	c.requestLogger(ctx).Info("retrieved company ticker mapping", logging.Int("count", len(tickers)))
	return tickers, nil
}

// getJSON performs one rate-limited, retried, breaker-guarded GET and
// decodes the response body into out.
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
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.ConnectivityError("edgar request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errors.ConnectivityError(fmt.Sprintf("edgar returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return errors.ProviderRejectionError(fmt.Sprintf("edgar rejected request with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.ConnectivityError("reading edgar response", err)
	}
	// A malformed body means the provider answered; retrying the same
	// request will not produce a different payload.
	if err := json.Unmarshal(body, out); err != nil {
		return errors.ValidationError(fmt.Sprintf("decoding edgar response: %v", err))
	}
	return nil
}

// parseFiling validates one wire row into a FilingRecord.
func parseFiling(raw json.RawMessage) (models.FilingRecord, error) {
	var row filingRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return models.FilingRecord{}, errors.ValidationError("filing row is not valid JSON")
	}

	if row.CIK == "" {
		return models.FilingRecord{}, errors.ValidationError("filing row missing cik")
	}
	if row.FormType == "" {
		return models.FilingRecord{}, errors.ValidationError("filing row missing form_type")
	}
	filingDate, err := time.Parse(dateLayout, row.FilingDate)
	if err != nil {
		return models.FilingRecord{}, errors.ValidationError(fmt.Sprintf("filing row has bad filing_date %q", row.FilingDate))
	}

	record := models.FilingRecord{
		CIK:         row.CIK,
		CUSIP:       row.CUSIP,
		CompanyName: row.CompanyName,
		FilingKind:  row.FormType,
		FilingDate:  filingDate,
	}
	if row.SharesOwned != nil {
		record.SharesOwned = *row.SharesOwned
	}
	if row.OwnershipPct != nil {
		record.OwnershipPct = *row.OwnershipPct
	}
	return record, nil
}
