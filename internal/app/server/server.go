// Package server runs the token cache daemon: engine, HTTP surface, and
// the optional invalidation consumer.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore/badgerstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore/redisstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/config"
	"github.com/mohammed-shakir/geotoken-cache/internal/engine"
	"github.com/mohammed-shakir/geotoken-cache/internal/health"
	"github.com/mohammed-shakir/geotoken-cache/internal/invalidation/kafkaconsumer"
	imw "github.com/mohammed-shakir/geotoken-cache/internal/middleware"
	"github.com/mohammed-shakir/geotoken-cache/internal/remote"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	cold, err := openColdStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var remoteOpts []remote.Option
	if cfg.FallbackPath != "" {
		tokens, err := remote.LoadFallback(cfg.FallbackPath)
		if err != nil {
			logger.Warn("fallback dataset unavailable", "path", cfg.FallbackPath, "err", err)
		} else {
			remoteOpts = append(remoteOpts, remote.WithFallback(tokens))
			logger.Info("fallback dataset loaded", "path", cfg.FallbackPath, "tokens", len(tokens))
		}
	}

	eng := engine.New(logger, cfg, cold, remoteOpts...)
	eng.Start()
	defer eng.Stop()

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: strings.Split(cfg.Invalidation.Brokers, ","),
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
		}, logger, eng)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	r := newRouter(logger, &handlers{log: logger, eng: eng})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr, "cold_backend", cfg.ColdBackend)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func newRouter(logger *slog.Logger, h *handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(imw.Recover(logger))
	r.Use(imw.Logging(logger))
	r.Use(imw.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(h.eng))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/viewport", h.viewport)
		r.Get("/tokens/visible", h.visible)
		r.Get("/stats", h.stats)
		r.Post("/mint", h.mint)
		r.Post("/mint/{id}/confirm", h.confirm)
	})
	return r
}

func openColdStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (coldstore.Store, error) {
	switch cfg.ColdBackend {
	case "badger":
		return badgerstore.Open(cfg.BadgerDir, logger)
	case "redis":
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr,
			redisstore.WithReadTimeout(cfg.ColdOpTimeout))
		if err != nil {
			return nil, err
		}
		return redisstore.New(client), nil
	case "none":
		logger.Warn("cold store disabled, tokens will not survive restarts")
		return coldstore.Noop{}, nil
	default:
		return nil, errors.New("unknown cold backend: " + cfg.ColdBackend)
	}
}
