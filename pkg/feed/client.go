package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chipx-network/chipx/pkg/utils"
	"go.uber.org/zap"
)

// DefaultURL is the open-data endpoint publishing the weekly
// shareholder-distribution table. Unauthenticated, CSV-shaped bytes.
const DefaultURL = "https://smart.tdcc.com.tw/opendata/getOD.ashx?id=1-5"

// TransportError means the feed was unreachable or answered non-2xx.
// Fatal for the run: nothing downstream is attempted on a failed fetch.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("feed fetch %s: http %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client downloads the raw feed. Single-shot semantics: one GET, no
// retries; recovery is re-invoking the whole run.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// New builds a feed client from FEED_URL / FEED_TIMEOUT_SECONDS.
// An injected *http.Client overrides the default transport (tests use this).
func New(logger *zap.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: time.Duration(utils.EnvInt("FEED_TIMEOUT_SECONDS", 30)) * time.Second,
		}
	}
	return &Client{
		url:    utils.Env("FEED_URL", DefaultURL),
		http:   httpClient,
		logger: logger,
	}
}

// Fetch downloads the feed as raw bytes, untouched by any decoding.
// The caller backs these bytes up before normalization: they are the only
// replay source if the cleaning rules change later.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &TransportError{URL: c.url, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: c.url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = utils.DrainAndClose(resp.Body)
		return nil, &TransportError{URL: c.url, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if cerr := utils.DrainAndClose(resp.Body); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, &TransportError{URL: c.url, Err: err}
	}

	c.logger.Info("Feed downloaded",
		zap.String("url", c.url),
		zap.Int("bytes", len(raw)))
	return raw, nil
}
