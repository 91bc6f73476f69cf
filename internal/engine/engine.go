// Package engine assembles the cache: geospatial index, hot store, cold
// store, remote client, fetch orchestrator, eviction engine, and the
// background scheduler. One Engine per session; no package singletons.
package engine

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/config"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/evict"
	"github.com/mohammed-shakir/geotoken-cache/internal/fetch"
	"github.com/mohammed-shakir/geotoken-cache/internal/geoindex"
	"github.com/mohammed-shakir/geotoken-cache/internal/hotstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/remote"
	"github.com/mohammed-shakir/geotoken-cache/internal/scheduler"
)

type Engine struct {
	log   *slog.Logger
	hot   *hotstore.Store
	cold  coldstore.Store
	orch  *fetch.Orchestrator
	evict *evict.Engine
	sched *scheduler.Scheduler
}

// New wires an engine from config. The cold store is injected so the
// caller decides the backend (badger, redis, or noop).
func New(log *slog.Logger, cfg config.Config, cold coldstore.Store, remoteOpts ...remote.Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cold == nil {
		cold = coldstore.Noop{}
	}

	geo := geoindex.New(log, cfg.MaxCellsPerRes)
	hot := hotstore.New()
	rc := remote.New(cfg.RemoteIndexURL, log, remoteOpts...)

	orch := fetch.New(log, geo, rc, hot, cold, fetch.Config{
		OverlapThreshold: cfg.OverlapThreshold,
		Debounce:         cfg.FetchDebounce,
		ColdWriteTimeout: cfg.ColdOpTimeout,
	})

	ev := evict.New(log, hot, cold, orch, evict.Config{
		MinKeepDuration: cfg.MinKeepDuration,
		CleanupDebounce: cfg.CleanupDebounce,
		MaxCachedTokens: cfg.MaxCachedTokens,
		CacheZoneBuffer: cfg.CacheZoneBuffer,
		ColdMaxAge:      cfg.ColdMaxAge,
	})

	sched := scheduler.New(log, scheduler.Config{
		CleanupDebounce:    cfg.CleanupDebounce,
		HotCleanupInterval: cfg.HotCleanupInterval,
		ColdPruneInterval:  cfg.ColdPruneInterval,
	}, scheduler.Hooks{
		Cleanup:   func() { ev.Cleanup() },
		PruneCold: func(ctx context.Context) { _, _ = ev.PruneCold(ctx) },
	})

	return &Engine{log: log, hot: hot, cold: cold, orch: orch, evict: ev, sched: sched}
}

// Start launches the background cleanup and prune loops.
func (e *Engine) Start() {
	e.sched.Start()
}

// Stop halts the scheduler, drains pending cold writes, and closes the
// cold store.
func (e *Engine) Stop() {
	e.sched.Stop()
	e.orch.WaitColdWrites()
	if err := e.cold.Close(); err != nil {
		e.log.Warn("cold store close failed", "err", err)
	}
}

// FetchForViewport runs the admission-gated fetch for a viewport and
// notes the activity so the debounced cleanup re-arms.
func (e *Engine) FetchForViewport(ctx context.Context, vp model.Viewport) (fetch.Result, error) {
	e.evict.SetViewport(vp)
	res, err := e.orch.FetchForViewport(ctx, vp)
	e.sched.NotifyActivity()
	return res, err
}

// GetVisible returns the tokens currently marked visible in the hot store.
func (e *Engine) GetVisible() []*model.Token {
	return e.hot.GetVisible()
}

// Touch refreshes the access time of the given tokens.
func (e *Engine) Touch(ids ...string) {
	e.hot.Touch(ids...)
}

// InsertLocal puts a locally minted token into the hot store.
func (e *Engine) InsertLocal(t *model.Token, confirmed bool) error {
	return e.orch.InsertLocal(t, confirmed)
}

// ConfirmPersisted marks a local-mint token durable.
func (e *Engine) ConfirmPersisted(id string) bool {
	return e.orch.ConfirmPersisted(id)
}

// Cleanup triggers an eviction pass outside the scheduler cadence.
func (e *Engine) Cleanup() evict.Result {
	return e.evict.Cleanup()
}

// Stats returns the hot-tier cache counters.
func (e *Engine) Stats() model.CacheStats {
	return e.evict.Stats()
}

// ColdStats returns the cold-tier counters.
func (e *Engine) ColdStats(ctx context.Context) (model.ColdStats, error) {
	return e.cold.Stats(ctx)
}

// Ready reports whether the durable tier is answering.
func (e *Engine) Ready(ctx context.Context) error {
	_, err := e.cold.Stats(ctx)
	return err
}

// ApplyUpsert merges a token pushed by the remote index's change feed.
// It takes the same path a fetch merge does, as confirmed durable.
func (e *Engine) ApplyUpsert(t *model.Token) error {
	return e.orch.InsertLocal(t, true)
}

// ApplyDelete removes tokens from both tiers.
func (e *Engine) ApplyDelete(ctx context.Context, ids []string) error {
	e.hot.Remove(ids...)
	return e.cold.Delete(ctx, ids...)
}
