package aggregate

import (
	"context"
	"fmt"
	"testing"

	"github.com/chipx-network/chipx/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	history   map[string][]*models.Distribution
	snapshots map[string][]*models.Distribution
}

func (f *fakeStore) StockHistory(_ context.Context, stockID string, _ int) ([]*models.Distribution, error) {
	return f.history[stockID], nil
}

func (f *fakeStore) MarketSnapshot(_ context.Context, date string, _ uint8) ([]*models.Distribution, error) {
	return f.snapshots[date], nil
}

type fakePrices struct {
	closes map[string]float64
	err    error
	calls  int
}

func (f *fakePrices) DailyCloses(_ context.Context, _, _, _ string) (map[string]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.closes, nil
}

func row(date, stockID string, level uint8, persons, shares uint64, percent float64) *models.Distribution {
	return &models.Distribution{
		Date: date, StockID: stockID, Level: level,
		Persons: persons, Shares: shares, Percent: percent,
	}
}

func newAggregator(store Reader, prices PriceSource) *Aggregator {
	return &Aggregator{Store: store, Prices: prices, Logger: zap.NewNop()}
}

func TestSummarizeDeltaSeries(t *testing.T) {
	// Total holder counts 100, 90, 95 oldest to newest; the descending
	// output must carry deltas +5, -10, nil.
	store := &fakeStore{history: map[string][]*models.Distribution{
		"2330": {
			row("2025-01-17", "2330", 10, 95, 95000, 1.0),
			row("2025-01-10", "2330", 10, 90, 90000, 1.0),
			row("2025-01-03", "2330", 10, 100, 100000, 1.0),
		},
	}}

	snaps, err := newAggregator(store, nil).Summarize(context.Background(), "2330")
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	assert.Equal(t, "2025-01-17", snaps[0].Date)
	require.NotNil(t, snaps[0].TotalPersonsDelta)
	assert.Equal(t, int64(5), *snaps[0].TotalPersonsDelta)

	assert.Equal(t, "2025-01-10", snaps[1].Date)
	require.NotNil(t, snaps[1].TotalPersonsDelta)
	assert.Equal(t, int64(-10), *snaps[1].TotalPersonsDelta)

	assert.Equal(t, "2025-01-03", snaps[2].Date)
	assert.Nil(t, snaps[2].TotalPersonsDelta)
	assert.Nil(t, snaps[2].TopPercentDelta)
	assert.Nil(t, snaps[2].PriceDelta)
}

func TestSummarizeAggregatesOneDate(t *testing.T) {
	store := &fakeStore{history: map[string][]*models.Distribution{
		"2330": {
			row("2025-01-03", "2330", 1, 1000, 500000, 40.0),
			row("2025-01-03", "2330", 12, 30, 300000, 10.0),
			row("2025-01-03", "2330", 13, 20, 200000, 8.0),
			row("2025-01-03", "2330", 14, 10, 100000, 6.0),
			row("2025-01-03", "2330", 15, 5, 900000, 36.0),
		},
	}}

	snaps, err := newAggregator(store, nil).Summarize(context.Background(), "2330")
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	snap := snaps[0]
	assert.Equal(t, uint64(1065), snap.TotalPersons)
	assert.InDelta(t, 2000000.0/1065.0/1000.0, snap.AvgLots, 1e-9)

	assert.InDelta(t, 36.0, snap.TopPercent, 1e-9)
	assert.Equal(t, uint64(5), snap.TopPersons)

	assert.InDelta(t, 60.0, snap.LargePercent, 1e-9)
	assert.Equal(t, uint64(65), snap.LargePersons)
	assert.InDelta(t, 1500.0, snap.LargeLots, 1e-9)

	assert.Equal(t, uint64(30), snap.Level12Persons)
	assert.Equal(t, uint64(20), snap.Level13Persons)
	assert.Equal(t, uint64(10), snap.Level14Persons)

	// Single date on record: every delta stays nil.
	assert.Nil(t, snap.TotalPersonsDelta)
	assert.Nil(t, snap.AvgLotsDelta)
	assert.Nil(t, snap.LargePercentDelta)
}

func TestSummarizeLargeCohortIsClosed(t *testing.T) {
	base := []*models.Distribution{
		row("2025-01-03", "2330", 12, 30, 300000, 10.0),
		row("2025-01-03", "2330", 15, 5, 900000, 36.0),
	}
	withSynthetic := append([]*models.Distribution{
		// A hypothetical level above the known scale must not join the cohort.
		row("2025-01-03", "2330", 16, 7, 700000, 25.0),
	}, base...)

	agg := newAggregator(&fakeStore{history: map[string][]*models.Distribution{"2330": base}}, nil)
	snaps, err := agg.Summarize(context.Background(), "2330")
	require.NoError(t, err)

	agg2 := newAggregator(&fakeStore{history: map[string][]*models.Distribution{"2330": withSynthetic}}, nil)
	snaps2, err := agg2.Summarize(context.Background(), "2330")
	require.NoError(t, err)

	assert.Equal(t, snaps[0].LargePercent, snaps2[0].LargePercent)
	assert.Equal(t, snaps[0].LargePersons, snaps2[0].LargePersons)
	// The synthetic level still counts toward the all-levels total.
	assert.Equal(t, snaps[0].TotalPersons+7, snaps2[0].TotalPersons)
}

func TestSummarizeIdempotent(t *testing.T) {
	store := &fakeStore{history: map[string][]*models.Distribution{
		"2330": {
			row("2025-01-10", "2330", 15, 90, 90000, 35.0),
			row("2025-01-03", "2330", 15, 100, 100000, 36.0),
		},
	}}
	prices := &fakePrices{closes: map[string]float64{"2025-01-03": 1000, "2025-01-10": 1010}}
	agg := newAggregator(store, prices)

	first, err := agg.Summarize(context.Background(), "2330")
	require.NoError(t, err)
	second, err := agg.Summarize(context.Background(), "2330")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSummarizeUnknownStock(t *testing.T) {
	agg := newAggregator(&fakeStore{history: map[string][]*models.Distribution{}}, nil)

	snaps, err := agg.Summarize(context.Background(), "9999")
	require.NoError(t, err)
	assert.Empty(t, snaps)
	assert.NotNil(t, snaps)
}

func TestSummarizeDefensiveStockFilter(t *testing.T) {
	store := &fakeStore{history: map[string][]*models.Distribution{
		"2330": {
			row("2025-01-03", "2330", 15, 100, 100000, 36.0),
			// A leaked foreign security must never reach the sums.
			row("2025-01-03", "9999", 15, 1000000, 1, 99.0),
		},
	}}

	snaps, err := newAggregator(store, nil).Summarize(context.Background(), "2330")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(100), snaps[0].TotalPersons)
}

func TestSummarizeDuplicateLevelCollapses(t *testing.T) {
	store := &fakeStore{history: map[string][]*models.Distribution{
		"2330": {
			row("2025-01-03", "2330", 15, 100, 100000, 36.0),
			row("2025-01-03", "2330", 15, 100, 100000, 36.0),
		},
	}}

	snaps, err := newAggregator(store, nil).Summarize(context.Background(), "2330")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(100), snaps[0].TotalPersons)
}

func TestSummarizePriceJoin(t *testing.T) {
	store := &fakeStore{history: map[string][]*models.Distribution{
		"2330": {
			row("2025-01-17", "2330", 15, 95, 95000, 35.0),
			row("2025-01-10", "2330", 15, 90, 90000, 34.0),
			row("2025-01-03", "2330", 15, 100, 100000, 36.0),
		},
	}}
	// The middle date falls on a non-trading day.
	prices := &fakePrices{closes: map[string]float64{
		"2025-01-03": 1000.0,
		"2025-01-17": 1050.0,
	}}

	snaps, err := newAggregator(store, prices).Summarize(context.Background(), "2330")
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	require.NotNil(t, snaps[0].Price)
	assert.InDelta(t, 1050.0, *snaps[0].Price, 1e-9)
	assert.Nil(t, snaps[1].Price)
	require.NotNil(t, snaps[2].Price)

	// Deltas need a price on both sides of the pair.
	assert.Nil(t, snaps[0].PriceDelta)
	assert.Nil(t, snaps[1].PriceDelta)
	assert.Nil(t, snaps[2].PriceDelta)
}

func TestSummarizePriceLookupFailureDegrades(t *testing.T) {
	store := &fakeStore{history: map[string][]*models.Distribution{
		"2330": {row("2025-01-03", "2330", 15, 100, 100000, 36.0)},
	}}
	prices := &fakePrices{err: fmt.Errorf("quote api down")}

	snaps, err := newAggregator(store, prices).Summarize(context.Background(), "2330")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Nil(t, snaps[0].Price)
}

func TestSummarizeZeroHolders(t *testing.T) {
	store := &fakeStore{history: map[string][]*models.Distribution{
		"2330": {row("2025-01-03", "2330", 15, 0, 0, 0)},
	}}

	snaps, err := newAggregator(store, nil).Summarize(context.Background(), "2330")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Zero(t, snaps[0].AvgLots)
}

func TestRankChangesInnerJoin(t *testing.T) {
	store := &fakeStore{snapshots: map[string][]*models.Distribution{
		"2025-01-10": {
			row("2025-01-10", "1101", 15, 10, 111000, 10.0),
			row("2025-01-10", "2330", 15, 10, 222000, 5.0),
		},
		"2025-01-03": {
			row("2025-01-03", "1101", 15, 10, 100000, 8.0),
			row("2025-01-03", "2454", 15, 10, 333000, 3.0),
		},
	}}

	rows, err := newAggregator(store, nil).RankChanges(context.Background(), "2025-01-10", "2025-01-03", 20)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "1101", rows[0].StockID)
	assert.InDelta(t, 10.0, rows[0].Percent, 1e-9)
	assert.InDelta(t, 2.0, rows[0].ChangePct, 1e-9)
	assert.Equal(t, uint64(111000), rows[0].Shares)
}

func TestRankChangesSortsAndTruncates(t *testing.T) {
	store := &fakeStore{snapshots: map[string][]*models.Distribution{
		"2025-01-10": {
			row("2025-01-10", "1101", 15, 1, 1, 10.0),
			row("2025-01-10", "2330", 15, 1, 1, 10.0),
			row("2025-01-10", "2454", 15, 1, 1, 10.0),
		},
		"2025-01-03": {
			row("2025-01-03", "1101", 15, 1, 1, 9.0),
			row("2025-01-03", "2330", 15, 1, 1, 5.0),
			row("2025-01-03", "2454", 15, 1, 1, 7.0),
		},
	}}

	rows, err := newAggregator(store, nil).RankChanges(context.Background(), "2025-01-10", "2025-01-03", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2330", rows[0].StockID)
	assert.Equal(t, "2454", rows[1].StockID)
}

func TestRankChangesEmptySide(t *testing.T) {
	store := &fakeStore{snapshots: map[string][]*models.Distribution{
		"2025-01-10": {row("2025-01-10", "2330", 15, 1, 1, 10.0)},
	}}

	rows, err := newAggregator(store, nil).RankChanges(context.Background(), "2025-01-10", "2025-01-03", 20)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}
