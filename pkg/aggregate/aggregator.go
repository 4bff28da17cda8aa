package aggregate

import (
	"context"
	"sort"

	"github.com/chipx-network/chipx/pkg/db/models"
	"go.uber.org/zap"
)

// Reader is the slice of the store the aggregator consumes.
type Reader interface {
	StockHistory(ctx context.Context, stockID string, weeks int) ([]*models.Distribution, error)
	MarketSnapshot(ctx context.Context, date string, level uint8) ([]*models.Distribution, error)
}

// PriceSource joins closing prices by calendar date. Lookup failures are
// recoverable by contract: the summary degrades to nil prices.
type PriceSource interface {
	DailyCloses(ctx context.Context, stockID, startDate, endDate string) (map[string]float64, error)
}

// Aggregator derives the wide per-security snapshots and the market-wide
// delta ranking from the canonical long table. Pure read-side: nothing here
// is persisted, every output is recomputed on demand.
type Aggregator struct {
	Store  Reader
	Prices PriceSource
	Logger *zap.Logger

	// Weeks bounds the per-security history window (default 12).
	Weeks int
}

// Summarize collapses one security's bracket rows into one wide row per
// date, newest first. An unknown security yields an empty slice, not an
// error.
func (a *Aggregator) Summarize(ctx context.Context, stockID string) ([]DistributionSnapshot, error) {
	weeks := a.Weeks
	if weeks <= 0 {
		weeks = 12
	}

	rows, err := a.Store.StockHistory(ctx, stockID, weeks)
	if err != nil {
		return nil, err
	}

	// Group by date, one row per level. The store query is already scoped
	// to the security and the canonical table is already unique per key;
	// neither is assumed here: foreign securities are re-filtered out and
	// repeated levels collapse to the first seen.
	byDate := make(map[string]map[uint8]*models.Distribution)
	dates := make([]string, 0)
	for _, row := range rows {
		if row.StockID != stockID {
			continue
		}
		levels, ok := byDate[row.Date]
		if !ok {
			levels = make(map[uint8]*models.Distribution)
			byDate[row.Date] = levels
			dates = append(dates, row.Date)
		}
		if _, dup := levels[row.Level]; !dup {
			levels[row.Level] = row
		}
	}
	if len(dates) == 0 {
		return []DistributionSnapshot{}, nil
	}

	// Delta computation needs oldest-first traversal.
	sort.Strings(dates)

	closes := a.lookupCloses(ctx, stockID, dates[0], dates[len(dates)-1])

	snapshots := make([]DistributionSnapshot, 0, len(dates))
	for _, date := range dates {
		snap := summarizeDay(date, byDate[date])
		if px, ok := closes[date]; ok {
			v := px
			snap.Price = &v
		}
		snapshots = append(snapshots, snap)
	}

	applyDeltas(snapshots)

	// Newest first for display.
	reverse(snapshots)
	return snapshots, nil
}

// summarizeDay collapses one date's bracket rows into the wide snapshot.
func summarizeDay(date string, levels map[uint8]*models.Distribution) DistributionSnapshot {
	snap := DistributionSnapshot{Date: date}

	var totalShares uint64
	for _, row := range levels {
		snap.TotalPersons += row.Persons
		totalShares += row.Shares
	}
	if snap.TotalPersons > 0 {
		snap.AvgLots = float64(totalShares) / float64(snap.TotalPersons) / LotSize
	}

	if top, ok := levels[TopLevel]; ok {
		snap.TopPercent = top.Percent
		snap.TopPersons = top.Persons
	}

	var largeShares uint64
	for _, lvl := range LargeLevels {
		row, ok := levels[lvl]
		if !ok {
			continue
		}
		snap.LargePercent += row.Percent
		snap.LargePersons += row.Persons
		largeShares += row.Shares
	}
	snap.LargeLots = float64(largeShares) / LotSize

	if row, ok := levels[12]; ok {
		snap.Level12Persons = row.Persons
	}
	if row, ok := levels[13]; ok {
		snap.Level13Persons = row.Persons
	}
	if row, ok := levels[14]; ok {
		snap.Level14Persons = row.Persons
	}

	return snap
}

// applyDeltas fills the period-over-period fields on an ascending-date
// series. The first row keeps nil deltas; a price delta needs a price on
// both sides.
func applyDeltas(snaps []DistributionSnapshot) {
	for i := 1; i < len(snaps); i++ {
		prev, cur := &snaps[i-1], &snaps[i]

		cur.TotalPersonsDelta = i64(int64(cur.TotalPersons) - int64(prev.TotalPersons))
		cur.AvgLotsDelta = f64(cur.AvgLots - prev.AvgLots)
		cur.LargePercentDelta = f64(cur.LargePercent - prev.LargePercent)
		cur.LargePersonsDelta = i64(int64(cur.LargePersons) - int64(prev.LargePersons))
		cur.TopPercentDelta = f64(cur.TopPercent - prev.TopPercent)
		cur.TopPersonsDelta = i64(int64(cur.TopPersons) - int64(prev.TopPersons))

		if cur.Price != nil && prev.Price != nil {
			cur.PriceDelta = f64(*cur.Price - *prev.Price)
		}
	}
}

// lookupCloses joins the external price series; any failure degrades to an
// empty map so the summary still renders with nil prices.
func (a *Aggregator) lookupCloses(ctx context.Context, stockID, startDate, endDate string) map[string]float64 {
	if a.Prices == nil {
		return nil
	}
	closes, err := a.Prices.DailyCloses(ctx, stockID, startDate, endDate)
	if err != nil {
		a.Logger.Warn("Price lookup failed, continuing without prices",
			zap.String("stock_id", stockID),
			zap.Error(err))
		return nil
	}
	return closes
}

// RankChanges compares the top-bracket snapshots of two dates and returns
// the securities with the largest percent-point gains, current-date values
// first. Only securities present on both dates participate; either side
// empty yields an empty ranking.
func (a *Aggregator) RankChanges(ctx context.Context, dateA, dateB string, topN int) ([]MarketDeltaRow, error) {
	if topN <= 0 {
		topN = 20
	}

	current, err := a.Store.MarketSnapshot(ctx, dateA, TopLevel)
	if err != nil {
		return nil, err
	}
	previous, err := a.Store.MarketSnapshot(ctx, dateB, TopLevel)
	if err != nil {
		return nil, err
	}
	if len(current) == 0 || len(previous) == 0 {
		return []MarketDeltaRow{}, nil
	}

	prevByStock := make(map[string]*models.Distribution, len(previous))
	for _, row := range previous {
		if _, dup := prevByStock[row.StockID]; !dup {
			prevByStock[row.StockID] = row
		}
	}

	ranked := make([]MarketDeltaRow, 0, len(current))
	seen := make(map[string]struct{}, len(current))
	for _, row := range current {
		if _, dup := seen[row.StockID]; dup {
			continue
		}
		seen[row.StockID] = struct{}{}

		prev, ok := prevByStock[row.StockID]
		if !ok {
			// Delisted or newly crossed the bracket between the two dates:
			// silently excluded, not reported as missing.
			continue
		}

		ranked = append(ranked, MarketDeltaRow{
			StockID:   row.StockID,
			Percent:   row.Percent,
			ChangePct: row.Percent - prev.Percent,
			Shares:    row.Shares,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ChangePct != ranked[j].ChangePct {
			return ranked[i].ChangePct > ranked[j].ChangePct
		}
		return ranked[i].StockID < ranked[j].StockID
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

func reverse(snaps []DistributionSnapshot) {
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
}

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }
