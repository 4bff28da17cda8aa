package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chipx-network/chipx/app/etl"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := etl.Initialize(ctx)
	if err != nil {
		panic(err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		app.Logger.Error("Ingestion pass failed", zap.Error(err))
		os.Exit(1)
	}
}
