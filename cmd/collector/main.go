// Command collector runs the Binance spot market-data collector: it
// selects a rotating set of high-volume, high-amplitude USDT pairs,
// streams their order book, trade, and ticker data, and appends it to
// per-symbol daily log files until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arrowstream/binance-collector/internal/config"
	"github.com/arrowstream/binance-collector/internal/model"
	"github.com/arrowstream/binance-collector/internal/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "collector: config error: %v\n", err)
		return 1
	}

	rt := runtime.New(cfg)
	rt.Log.Info().
		Str("data_save_path", cfg.DataSavePath).
		Dur("selection_interval", cfg.SelectionInterval).
		Int("channel_capacity", cfg.ChannelCapacity).
		Msg("collector starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		rt.Log.Warn().Str("signal", sig.String()).Msg("shutting down gracefully")
		cancel()

		// A second signal forces an immediate, non-graceful exit.
		<-sigCh
		rt.Log.Error().Msg("second signal received, forcing exit")
		os.Exit(1)
	}()

	writerDone := make(chan error, 1)
	go func() { writerDone <- rt.Writer.Run(rt.Out) }()

	rt.Supervisor.Run(ctx)

	rt.Out <- (*model.OutputRecord)(nil)
	if err := <-writerDone; err != nil {
		rt.Log.Error().Err(err).Msg("writer sink failed")
		return 1
	}

	rt.Log.Info().Msg("collector stopped")
	return 0
}
