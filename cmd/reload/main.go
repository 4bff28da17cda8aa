package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/chipx-network/chipx/app/etl"
	"go.uber.org/zap"
)

func main() {
	file := flag.String("file", "", "replay a single raw backup object (e.g. TDCC_20251216.csv)")
	all := flag.Bool("all", false, "replay every raw backup object, oldest first")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := etl.Initialize(ctx)
	if err != nil {
		panic(err)
	}
	defer app.Close()

	switch {
	case *file != "":
		err = app.Reload(ctx, *file)
	case *all:
		err = app.ReloadAll(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		app.Logger.Error("Reload failed", zap.Error(err))
		os.Exit(1)
	}
}
