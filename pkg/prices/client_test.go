package prices

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 2025-01-03 00:00 UTC, a trading day morning in Taipei.
const tradingDayUnix = 1735862400

func chartJSON(ts int64, px float64) string {
	return fmt.Sprintf(`{"chart":{"result":[{"timestamp":[%d],
		"indicators":{"quote":[{"close":[%g]}]}}],"error":null}}`, ts, px)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("PRICE_API_URL", srv.URL)
	return New(zap.NewNop(), srv.Client())
}

func TestDailyCloses(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/2330.TW"))
		_, _ = w.Write([]byte(chartJSON(tradingDayUnix, 1015.5)))
	})

	closes, err := client.DailyCloses(context.Background(), "2330", "2025-01-03", "2025-01-03")
	require.NoError(t, err)
	require.Contains(t, closes, "2025-01-03")
	assert.InDelta(t, 1015.5, closes["2025-01-03"], 1e-9)
}

func TestDailyClosesSecondaryBoardFallback(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/8069.TWO") {
			_, _ = w.Write([]byte(chartJSON(tradingDayUnix, 250.0)))
			return
		}
		http.NotFound(w, r)
	})

	closes, err := client.DailyCloses(context.Background(), "8069", "2025-01-03", "2025-01-03")
	require.NoError(t, err)
	assert.InDelta(t, 250.0, closes["2025-01-03"], 1e-9)
}

func TestDailyClosesBothBoardsFail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.DailyCloses(context.Background(), "2330", "2025-01-03", "2025-01-03")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "2330", lookupErr.StockID)
}

func TestDailyClosesCachesPerRange(t *testing.T) {
	var requests atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(chartJSON(tradingDayUnix, 1000.0)))
	})

	_, err := client.DailyCloses(context.Background(), "2330", "2025-01-03", "2025-01-03")
	require.NoError(t, err)
	_, err = client.DailyCloses(context.Background(), "2330", "2025-01-03", "2025-01-03")
	require.NoError(t, err)
	assert.Equal(t, int64(1), requests.Load())

	// A different range is a different cache entry.
	_, err = client.DailyCloses(context.Background(), "2330", "2025-01-03", "2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests.Load())
}

func TestDailyClosesSkipsNullQuotes(t *testing.T) {
	payload := fmt.Sprintf(`{"chart":{"result":[{"timestamp":[%d,%d],
		"indicators":{"quote":[{"close":[null,1010.0]}]}}],"error":null}}`,
		tradingDayUnix, tradingDayUnix+86400)
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(payload))
	})

	closes, err := client.DailyCloses(context.Background(), "2330", "2025-01-03", "2025-01-04")
	require.NoError(t, err)
	assert.NotContains(t, closes, "2025-01-03")
	assert.InDelta(t, 1010.0, closes["2025-01-04"], 1e-9)
}
