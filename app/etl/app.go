package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/chipx-network/chipx/pkg/backup"
	"github.com/chipx-network/chipx/pkg/db"
	"github.com/chipx-network/chipx/pkg/feed"
	"github.com/chipx-network/chipx/pkg/logging"
	"github.com/chipx-network/chipx/pkg/normalize"
	"github.com/chipx-network/chipx/pkg/utils"
	"go.uber.org/zap"
)

// App wires one ingestion pass: feed -> raw backup -> normalize -> store.
// Each run is independently re-derivable from the raw feed; the backup
// written before any transformation is the replay source if the cleaning
// rules ever change.
type App struct {
	Logger *zap.Logger
	Feed   *feed.Client
	Bucket *backup.Bucket
	Store  *db.Store
}

// Initialize builds the app with injected client handles.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		return nil, err
	}

	store, err := db.NewStore(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	return &App{
		Logger: logger,
		Feed:   feed.New(logger, nil),
		Bucket: backup.New(logger, nil),
		Store:  store,
	}, nil
}

// Run executes one full ETL pass. Transport, decode and schema failures
// abort before any write; a partial store failure reports how many rows
// were committed so a re-invocation is safe and informed.
func (a *App) Run(ctx context.Context) error {
	a.Logger.Info("Starting ingestion pass")

	raw, err := a.Feed.Fetch(ctx)
	if err != nil {
		return err
	}

	// Backup before transformation. Failure is logged, not fatal: the load
	// must not be blocked by the archive being unavailable.
	if a.Bucket.Enabled() {
		name := backup.Name(time.Now())
		if err := a.Bucket.Upload(ctx, name, raw); err != nil {
			a.Logger.Warn("Raw backup failed, continuing with load", zap.Error(err))
		}
	} else {
		a.Logger.Warn("Raw backup disabled: BACKUP_URL not set")
	}

	if err := a.load(ctx, raw); err != nil {
		return err
	}

	if latest, err := a.Store.LatestDate(ctx); err == nil && latest != "" {
		a.Logger.Info("Store head after ingestion", zap.String("latest_date", latest))
	}
	return nil
}

// Reload replays one backed-up raw file through the current normalizer.
func (a *App) Reload(ctx context.Context, name string) error {
	a.Logger.Info("Reloading raw file", zap.String("object", name))

	raw, err := a.Bucket.Download(ctx, name)
	if err != nil {
		return err
	}
	return a.load(ctx, raw)
}

// ReloadAll replays every backed-up raw file. Files are disjoint by run
// date and upserts replace on the natural key, so a bounded worker group
// is safe; RELOAD_WORKERS caps the concurrency.
func (a *App) ReloadAll(ctx context.Context) error {
	names, err := a.Bucket.List(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		a.Logger.Warn("No raw backups found")
		return nil
	}

	a.Logger.Info("Reloading raw backups", zap.Int("files", len(names)))

	pool := pond.NewPool(utils.EnvInt("RELOAD_WORKERS", 4))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	for _, name := range names {
		group.SubmitErr(func() error {
			if err := a.Reload(ctx, name); err != nil {
				a.Logger.Error("Reload failed",
					zap.String("object", name),
					zap.Error(err))
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return fmt.Errorf("reload all: %w", err)
	}
	return nil
}

// load normalizes one raw file and upserts the canonical rows.
func (a *App) load(ctx context.Context, raw []byte) error {
	records, stats, err := normalize.Normalize(raw)
	if err != nil {
		return err
	}

	a.Logger.Info("Feed normalized",
		zap.Int("rows_read", stats.RowsRead),
		zap.Int("rows_kept", stats.RowsKept),
		zap.Int("rows_filtered", stats.RowsFiltered),
		zap.Int("rows_dropped", stats.RowsDropped),
		zap.Int("duplicates", stats.Duplicates))

	written, err := a.Store.Upsert(ctx, records)
	if err != nil {
		var writeErr *db.StoreWriteError
		if errors.As(err, &writeErr) {
			a.Logger.Error("Load failed partway, earlier chunks stay committed",
				zap.Int("rows_committed", writeErr.Written),
				zap.Int("rows_total", len(records)))
		}
		return err
	}

	a.Logger.Info("Load complete", zap.Int("rows_written", written))
	return nil
}

// Close releases the store connection.
func (a *App) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
