package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"verigate/internal/platform/config"
	"verigate/internal/platform/httpserver"
	"verigate/internal/platform/logger"
	platformmetrics "verigate/internal/platform/metrics"
	"verigate/internal/platform/otel"
)

var version = "dev"

// main wires high-level dependencies, starts the background workers and the
// ops listener, and keeps the process lifecycle small. Business logic lives
// in the internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("verigate stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	reg := platformmetrics.NewRegistry(version)
	ops := httpserver.NewOpsRouter(reg)

	app, cleanup, err := build(ctx, cfg, log, reg, ops)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := httpserver.New(cfg.Server.Addr, ops.Handler())
	log.Info("starting verigate", "addr", cfg.Server.Addr, "version", version, "persistent", app.persistent)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return app.reaper.Start(gctx)
	})
	if app.outbox != nil {
		g.Go(func() error {
			return app.outbox.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("verigate shut down")
	return nil
}
