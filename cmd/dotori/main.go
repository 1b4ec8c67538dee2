// Command dotori serves an in-memory LRU cache over HTTP.
//
// Every flag can also be set from the environment, e.g.
//
//	MAX_VALUE_BLOCK_COUNT=10000 VALUE_OVERFLOW_BEHAVIOR=TRUNCATE dotori
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mrchypark/dotori"
	"github.com/mrchypark/dotori/pkg/server"
)

func main() {
	if err := newApp(os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(logOutput io.Writer) *cli.App {
	return &cli.App{
		Name:  "dotori",
		Usage: "in-memory LRU key-value cache with a JSON HTTP API",
		Flags: appFlags(),
		Action: func(ctx *cli.Context) error {
			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(sigCtx, ctx, logOutput)
		},
	}
}

// run builds the cache and server from flags and serves until ctx is done.
func run(ctx context.Context, cliCtx *cli.Context, logOutput io.Writer) error {
	logger, err := newLogger(logOutput, cliCtx.String(logLevelFlag))
	if err != nil {
		return err
	}

	opts, err := cacheOptions(cliCtx)
	if err != nil {
		return err
	}
	cache, err := dotori.New(logger, opts...)
	if err != nil {
		return err
	}

	srv := server.New(cache, logger, serverConfig(cliCtx, cache.Config()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if err := g.Wait(); err != nil {
		level.Error(logger).Log("msg", "dotori stopped with error", "err", err)
		return err
	}
	level.Info(logger).Log("msg", "dotori stopped")
	return nil
}
