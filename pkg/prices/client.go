package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chipx-network/chipx/pkg/utils"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Listing suffixes for the exchange's primary and secondary boards. The
// primary suffix is tried first; securities listed on the secondary board
// only answer under the fallback.
const (
	primarySuffix  = ".TW"
	fallbackSuffix = ".TWO"
)

// LookupError wraps a failed price lookup. Always recoverable: callers
// degrade to null price fields and keep going.
type LookupError struct {
	StockID string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("price lookup %s: %v", e.StockID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Client fetches daily closing prices from a chart-shaped quote API, keyed
// by exchange trading calendar (non-trading days are simply absent).
// Responses are cached in-process per (security, range).
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
	loc    *time.Location
	cache  *xsync.Map[string, map[string]float64]
}

// New builds a price client from PRICE_API_URL.
func New(logger *zap.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: time.Duration(utils.EnvInt("PRICE_TIMEOUT_SECONDS", 15)) * time.Second,
		}
	}

	// Trading days are defined in exchange local time.
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		loc = time.FixedZone("CST", 8*60*60)
	}

	return &Client{
		base:   utils.Env("PRICE_API_URL", "https://query1.finance.yahoo.com/v8/finance/chart"),
		http:   httpClient,
		logger: logger,
		loc:    loc,
		cache:  xsync.NewMap[string, map[string]float64](),
	}
}

// DailyCloses returns closing prices keyed by YYYY-MM-DD for one security
// over [startDate, endDate]. The primary listing suffix is tried first,
// then the secondary; both failing yields a LookupError.
func (c *Client) DailyCloses(ctx context.Context, stockID, startDate, endDate string) (map[string]float64, error) {
	cacheKey := stockID + "|" + startDate + "|" + endDate
	if closes, ok := c.cache.Load(cacheKey); ok {
		return closes, nil
	}

	start, err := time.ParseInLocation("2006-01-02", startDate, c.loc)
	if err != nil {
		return nil, &LookupError{StockID: stockID, Err: err}
	}
	end, err := time.ParseInLocation("2006-01-02", endDate, c.loc)
	if err != nil {
		return nil, &LookupError{StockID: stockID, Err: err}
	}
	// The range end is exclusive upstream; push it one day out.
	end = end.AddDate(0, 0, 1)

	var lastErr error
	for _, suffix := range []string{primarySuffix, fallbackSuffix} {
		closes, err := c.fetch(ctx, stockID+suffix, start, end)
		if err != nil {
			lastErr = err
			continue
		}
		if len(closes) == 0 {
			lastErr = fmt.Errorf("no quotes for %s%s", stockID, suffix)
			continue
		}

		c.cache.Store(cacheKey, closes)
		return closes, nil
	}

	return nil, &LookupError{StockID: stockID, Err: lastErr}
}

// chartResponse is the subset of the chart API payload this client reads.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) fetch(ctx context.Context, ticker string, start, end time.Time) (map[string]float64, error) {
	url := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=1d",
		c.base, ticker, start.Unix(), end.Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("quote %s: http %d", ticker, resp.StatusCode)
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("quote %s: %w", ticker, err)
	}
	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("quote %s: %s", ticker, payload.Chart.Error.Code)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("quote %s: empty result", ticker)
	}

	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	closes := make(map[string]float64, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		day := time.Unix(ts, 0).In(c.loc).Format("2006-01-02")
		closes[day] = *quote.Close[i]
	}

	c.logger.Debug("Quotes fetched",
		zap.String("ticker", ticker),
		zap.Int("days", len(closes)))
	return closes, nil
}
