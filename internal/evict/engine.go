// Package evict drains the hot store: geospatially irrelevant, untouched
// tokens go first, and a priority score decides survivors when the hard
// ceiling is hit. The cold store is pruned separately, by age only.
package evict

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/observability"
	"github.com/mohammed-shakir/geotoken-cache/internal/hotstore"
)

// FetchState is the view of the orchestrator the engine needs: whether a
// fetch is running and what footprint is current.
type FetchState interface {
	InFlight() bool
	CurrentCellSet() model.CellSet
}

type Config struct {
	MinKeepDuration time.Duration
	CleanupDebounce time.Duration
	MaxCachedTokens int
	CacheZoneBuffer float64
	ColdMaxAge      time.Duration
	Weights         Weights
}

// SkipReason says why a cleanup pass did nothing.
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipInFlight  SkipReason = "fetch_in_flight"
	SkipDebounced SkipReason = "debounced"
)

type Result struct {
	Kept    []string
	Evicted []string
	Skipped SkipReason
}

type Engine struct {
	log   *slog.Logger
	hot   *hotstore.Store
	cold  coldstore.Store
	fetch FetchState
	cfg   Config
	now   func() time.Time

	mu            sync.Mutex
	lastCleanupAt time.Time
	stats         model.CacheStats
	viewport      model.Viewport
	hasViewport   bool
}

func New(log *slog.Logger, hot *hotstore.Store, cold coldstore.Store, fetch FetchState, cfg Config) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MinKeepDuration <= 0 {
		cfg.MinKeepDuration = 30 * time.Second
	}
	if cfg.CleanupDebounce <= 0 {
		cfg.CleanupDebounce = 5 * time.Second
	}
	if cfg.MaxCachedTokens <= 0 {
		cfg.MaxCachedTokens = 500
	}
	if cfg.CacheZoneBuffer <= 0 {
		cfg.CacheZoneBuffer = 1.5
	}
	if cfg.ColdMaxAge <= 0 {
		cfg.ColdMaxAge = 720 * time.Hour
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Engine{
		log:   log,
		hot:   hot,
		cold:  cold,
		fetch: fetch,
		cfg:   cfg,
		now:   time.Now,
	}
}

// SetClock overrides the cleanup clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// SetViewport records the current viewport for the coarse cache-zone
// fallback, used when no fetch has established a cell set yet.
func (e *Engine) SetViewport(vp model.Viewport) {
	e.mu.Lock()
	e.viewport = vp
	e.hasViewport = true
	e.mu.Unlock()
}

// Stats returns a copy of the cache counters.
func (e *Engine) Stats() model.CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.Cached = e.hot.Len()
	st.EstimatedBytes = e.hot.EstimatedBytes()
	return st
}

// Cleanup runs one eviction pass. It refuses to run concurrently with a
// fetch and is idempotent inside the debounce window, so racing
// invocations never double-evict or corrupt the counters.
func (e *Engine) Cleanup() Result {
	if e.fetch != nil && e.fetch.InFlight() {
		e.log.Debug("cleanup skipped", "reason", SkipInFlight)
		observability.ObserveCleanup(string(SkipInFlight))
		return Result{Skipped: SkipInFlight}
	}

	e.mu.Lock()
	now := e.now()
	if !e.lastCleanupAt.IsZero() && now.Sub(e.lastCleanupAt) < e.cfg.CleanupDebounce {
		e.mu.Unlock()
		e.log.Debug("cleanup skipped", "reason", SkipDebounced)
		observability.ObserveCleanup(string(SkipDebounced))
		return Result{Skipped: SkipDebounced}
	}
	e.lastCleanupAt = now
	vp, hasVP := e.viewport, e.hasViewport
	e.mu.Unlock()

	var cells model.CellSet
	if e.fetch != nil {
		cells = e.fetch.CurrentCellSet()
	}

	entries := e.hot.Entries()
	keep := make([]hotstore.Entry, 0, len(entries))
	var evicted []string

	for _, ent := range entries {
		if e.retain(ent, now, cells, vp, hasVP) {
			keep = append(keep, ent)
		} else {
			evicted = append(evicted, ent.Token.ID)
		}
	}

	// Hard ceiling: rank survivors by priority score and keep the top N.
	if len(keep) > e.cfg.MaxCachedTokens {
		scores := make(map[string]float64, len(keep))
		for _, ent := range keep {
			scores[ent.Token.ID] = priorityScore(ent.Token, ent.Rec, now, e.cfg.Weights)
		}
		sort.SliceStable(keep, func(i, j int) bool {
			return scores[keep[i].Token.ID] > scores[keep[j].Token.ID]
		})
		for _, ent := range keep[e.cfg.MaxCachedTokens:] {
			evicted = append(evicted, ent.Token.ID)
		}
		keep = keep[:e.cfg.MaxCachedTokens]
	}

	removed := e.hot.Remove(evicted...)

	e.mu.Lock()
	e.stats.EvictedTotal += int64(removed)
	e.stats.LastCleanupAt = now
	e.stats.CleanupRuns++
	e.stats.Cached = e.hot.Len()
	e.stats.EstimatedBytes = e.hot.EstimatedBytes()
	e.mu.Unlock()

	observability.ObserveCleanup("done")
	observability.AddEvicted(removed)
	observability.SetHotStoreTokens(e.hot.Len())

	kept := make([]string, 0, len(keep))
	for _, ent := range keep {
		kept = append(kept, ent.Token.ID)
	}
	if removed > 0 {
		e.log.Info("cleanup pass", "kept", len(kept), "evicted", removed)
	}
	return Result{Kept: kept, Evicted: evicted}
}

// retain decides whether one token survives outside the ceiling check.
func (e *Engine) retain(ent hotstore.Entry, now time.Time, cells model.CellSet, vp model.Viewport, hasVP bool) bool {
	// Recency override: tokens touched moments ago stay, even with zero
	// geospatial overlap, so an animated viewport move cannot evict and
	// immediately re-fetch them.
	if now.Sub(ent.Rec.LastAccessedAt) < e.cfg.MinKeepDuration {
		return true
	}

	// Geospatial relevance: membership at any resolution keeps the token.
	if !cells.IsEmpty() {
		for level := 0; level < model.NumResolutions; level++ {
			mine := ent.Rec.Cells[level]
			if mine == "" {
				continue
			}
			for _, c := range cells.PerRes[level] {
				if c == mine {
					return true
				}
			}
		}
		return false
	}

	// Coarse fallback: no cell set yet, use the buffered viewport.
	if hasVP {
		return vp.Contains(ent.Token.Lat(), ent.Token.Lng(), e.cfg.CacheZoneBuffer)
	}
	return true // no geography known yet, nothing is irrelevant
}

// PruneCold ages out cold-store records. Independent of hot-store
// eviction and of any viewport.
func (e *Engine) PruneCold(ctx context.Context) (int, error) {
	n, err := e.cold.PruneOlderThan(ctx, e.cfg.ColdMaxAge)
	if err != nil {
		e.log.Warn("cold store prune failed", "err", err)
		return 0, err
	}
	if n > 0 {
		e.log.Info("cold store pruned", "deleted", n)
	}
	return n, nil
}
