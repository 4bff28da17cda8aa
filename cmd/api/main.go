package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/chipx-network/chipx/app/api"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := api.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	app.Start(ctx)
}
