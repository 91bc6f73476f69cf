package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/geotoken-cache/internal/app/server"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/config"
	"github.com/mohammed-shakir/geotoken-cache/internal/logger"
)

var Version = "dev"

func main() {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "tokencached",
	}, os.Stdout)
	log := logger.NewSlog(&zl)
	log.Info("starting tokencached",
		"addr", cfg.Addr, "version", Version,
		"remote_index", cfg.RemoteIndexURL, "cold_backend", cfg.ColdBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, log); err != nil {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
