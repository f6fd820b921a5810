package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/octoit/octoit/pkg/control"
	"github.com/octoit/octoit/pkg/entity"
	"github.com/octoit/octoit/pkg/integration"
	"github.com/octoit/octoit/pkg/kraken"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/metrics"
	"github.com/octoit/octoit/pkg/server"
	"github.com/octoit/octoit/pkg/storage"
	"github.com/octoit/octoit/pkg/tariffs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// init packages
	s := storage.Configured()
	clients := kraken.Configured()
	registry := entity.Configured()
	source := tariffs.Configured()
	manager := integration.Configured(s, clients, registry, source)
	controller := control.New(registry, manager.Target)

	prometheus.MustRegister(metrics.NewCollector(registry, manager))

	// init server
	srv := server.Configured(manager, registry, controller, promhttp.Handler())

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog()
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// entries that fail to load are retried in the background, only a
	// storage failure stops startup
	if err := manager.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to start integration", "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
