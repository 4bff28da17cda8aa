package models

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Distribution is one canonical row of the shareholder-distribution long
// table: how many holders sit in one bracket of one security on one
// disclosure date. The natural key is (date, stock_id, level); the feed is
// deduplicated on it before it ever reaches the store, and the table engine
// replaces on it so re-ingesting the same feed converges instead of
// double-counting.
type Distribution struct {
	Date    string  `ch:"date" json:"date"` // calendar date, YYYY-MM-DD
	StockID string  `ch:"stock_id" json:"stock_id"`
	Level   uint8   `ch:"level" json:"level"`
	Persons uint64  `ch:"persons" json:"persons"`
	Shares  uint64  `ch:"shares" json:"shares"`
	Percent float64 `ch:"percent" json:"percent"`

	// Version column for ReplacingMergeTree. Later ingestion wins.
	IngestedAt time.Time `ch:"ingested_at" json:"-"`
}

// Key returns the natural composite key of the row.
func (d *Distribution) Key() string {
	return fmt.Sprintf("%s/%s/%d", d.Date, d.StockID, d.Level)
}

// InitDistributions creates the equity_distribution table.
// ReplacingMergeTree keyed on (date, stock_id, level) gives the idempotent
// upsert contract: same key, last ingested_at wins. Reads that must see
// exactly one row per key go through FINAL.
func InitDistributions(ctx context.Context, db driver.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS equity_distribution (
			date String CODEC(ZSTD(1)),
			stock_id LowCardinality(String),
			level UInt8,
			persons UInt64 CODEC(Delta, ZSTD(3)),
			shares UInt64 CODEC(Delta, ZSTD(3)),
			percent Float64 CODEC(ZSTD(1)),
			ingested_at DateTime64(6) CODEC(DoubleDelta, LZ4)
		) ENGINE = ReplacingMergeTree(ingested_at)
		ORDER BY (date, stock_id, level)
	`
	return db.Exec(ctx, query)
}

// InsertDistributions appends one chunk of canonical rows as a single batch.
func InsertDistributions(ctx context.Context, db driver.Conn, rows []*Distribution) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO equity_distribution (date, stock_id, level, persons, shares, percent, ingested_at) VALUES`
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, row := range rows {
		err = batch.Append(
			row.Date,
			row.StockID,
			row.Level,
			row.Persons,
			row.Shares,
			row.Percent,
			row.IngestedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}
