package db

import (
	"context"
	"fmt"
	"time"

	"github.com/chipx-network/chipx/pkg/db/models"
	"github.com/chipx-network/chipx/pkg/utils"
	"go.uber.org/zap"
)

// DefaultChunkSize bounds one upsert batch. A transport tunable, not a
// correctness parameter: chunks are keyed writes and replace on conflict.
const DefaultChunkSize = 1000

// rowsPerWeek is the loose per-security row budget for one disclosure week
// (the feed carries at most 17 bracket levels per security per date).
const rowsPerWeek = 20

// Store is the persistence layer for the canonical distribution table and
// the point/range queries the aggregator consumes.
type Store struct {
	Client
	ChunkSize int
	cache     *queryCache
}

// NewStore connects to ClickHouse, ensures the schema, and attaches the
// optional Redis query cache when REDIS_ADDR is configured.
func NewStore(ctx context.Context, logger *zap.Logger) (*Store, error) {
	client, err := NewClient(ctx, logger)
	if err != nil {
		return nil, err
	}

	store := &Store{
		Client:    client,
		ChunkSize: utils.EnvInt("STORE_CHUNK_SIZE", DefaultChunkSize),
		cache:     newQueryCache(logger),
	}

	if err := store.InitializeDB(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitializeDB ensures the canonical table exists.
func (s *Store) InitializeDB(ctx context.Context) error {
	s.Logger.Debug("Initialize distribution model")
	return models.InitDistributions(ctx, s.Db)
}

// Upsert writes the canonical rows in sequential fixed-size chunks and
// returns the number of rows committed. Each chunk is an independent write
// keyed by (date, stock_id, level); there is no cross-chunk transaction and
// no automatic retry. A mid-run failure returns StoreWriteError carrying
// the partial count so the operator can re-invoke without guessing.
func (s *Store) Upsert(ctx context.Context, records []*models.Distribution) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	ingestedAt := time.Now().UTC()
	for _, r := range records {
		r.IngestedAt = ingestedAt
	}

	written := 0
	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}

		if err := models.InsertDistributions(ctx, s.Db, records[start:end]); err != nil {
			return written, &StoreWriteError{Written: written, Err: err}
		}
		written += end - start

		s.Logger.Debug("Upserted chunk",
			zap.Int("written", written),
			zap.Int("total", len(records)))
	}

	s.cache.invalidate(ctx)
	return written, nil
}

// LatestDate returns the most recent disclosure date on record, or "" when
// the table is empty.
func (s *Store) LatestDate(ctx context.Context) (string, error) {
	var date string
	err := s.QueryRow(ctx, `SELECT date FROM equity_distribution ORDER BY date DESC LIMIT 1`).Scan(&date)
	if err != nil {
		if IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("query latest date: %w", err)
	}
	return date, nil
}

// RecentDates returns up to limit distinct disclosure dates, newest first.
func (s *Store) RecentDates(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []struct {
		Date string `ch:"date"`
	}
	query := `SELECT DISTINCT date FROM equity_distribution ORDER BY date DESC LIMIT ?`
	if err := s.Select(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("query recent dates: %w", err)
	}

	dates := make([]string, len(rows))
	for i, r := range rows {
		dates[i] = r.Date
	}
	return dates, nil
}

// StockHistory returns the canonical rows of one security across the most
// recent weeks, newest date first, all bracket levels included.
func (s *Store) StockHistory(ctx context.Context, stockID string, weeks int) ([]*models.Distribution, error) {
	if weeks <= 0 {
		weeks = 12
	}
	rowLimit := weeks * rowsPerWeek

	if rows, ok := s.cache.getHistory(ctx, stockID, weeks); ok {
		return rows, nil
	}

	var rows []*models.Distribution
	query := `
		SELECT date, stock_id, level, persons, shares, percent
		FROM equity_distribution FINAL
		WHERE stock_id = ?
		ORDER BY date DESC, level ASC
		LIMIT ?
	`
	if err := s.SelectWithFinal(ctx, &rows, query, stockID, rowLimit); err != nil {
		return nil, fmt.Errorf("query stock history %s: %w", stockID, err)
	}

	s.cache.putHistory(ctx, stockID, weeks, rows)
	return rows, nil
}

// MarketSnapshot returns every security's row for one date and one bracket
// level. Used by the ranking side of the aggregator with the top bracket.
func (s *Store) MarketSnapshot(ctx context.Context, date string, level uint8) ([]*models.Distribution, error) {
	if rows, ok := s.cache.getSnapshot(ctx, date, level); ok {
		return rows, nil
	}

	var rows []*models.Distribution
	query := `
		SELECT date, stock_id, level, persons, shares, percent
		FROM equity_distribution FINAL
		WHERE date = ? AND level = ?
		ORDER BY stock_id ASC
	`
	if err := s.SelectWithFinal(ctx, &rows, query, date, level); err != nil {
		return nil, fmt.Errorf("query market snapshot %s level %d: %w", date, level, err)
	}

	s.cache.putSnapshot(ctx, date, level, rows)
	return rows, nil
}
