package api

import (
	"context"
	"net/http"
	"time"

	"github.com/chipx-network/chipx/pkg/aggregate"
	"github.com/chipx-network/chipx/pkg/analyst"
	"github.com/chipx-network/chipx/pkg/db"
	"github.com/chipx-network/chipx/pkg/logging"
	"github.com/chipx-network/chipx/pkg/prices"
	"github.com/chipx-network/chipx/pkg/utils"
	"go.uber.org/zap"
)

// App serves the finished tables to the presentation layer: recent dates,
// per-security snapshots, the market-wide delta ranking and the optional
// AI reading. The dashboard consumes these and emits nothing back.
type App struct {
	Logger     *zap.Logger
	Store      *db.Store
	Aggregator *aggregate.Aggregator
	Analyst    *analyst.Analyst
	Server     *http.Server
}

// Initialize wires the read-side of the pipeline behind an HTTP server.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		return nil, err
	}

	store, err := db.NewStore(ctx, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		Logger: logger,
		Store:  store,
		Aggregator: &aggregate.Aggregator{
			Store:  store,
			Prices: prices.New(logger, nil),
			Logger: logger,
			Weeks:  utils.EnvInt("HISTORY_WEEKS", 12),
		},
		Analyst: analyst.New(ctx, logger),
	}

	app.Server = &http.Server{
		Addr:              utils.Env("ADDR", ":3000"),
		Handler:           app.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// Start serves until the context is canceled, then shuts down gracefully.
func (a *App) Start(ctx context.Context) {
	go func() {
		a.Logger.Info("Starting API server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("API server shutdown", zap.Error(err))
	}
	_ = a.Store.Close()
	a.Logger.Info("API server stopped")
}
