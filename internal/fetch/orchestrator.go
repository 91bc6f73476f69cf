// Package fetch decides when a viewport warrants a remote query, issues
// it, and merges results into the hot store. Cold-store writes happen
// off the critical path; the hot store stays authoritative.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/observability"
	"github.com/mohammed-shakir/geotoken-cache/internal/geoindex"
	"github.com/mohammed-shakir/geotoken-cache/internal/hotstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/remote"
)

type Config struct {
	OverlapThreshold float64
	Debounce         time.Duration
	ColdWriteTimeout time.Duration
}

// Result is what a viewport fetch produced. When Decision is a skip the
// token list is empty and no admission state changed.
type Result struct {
	Tokens   []*model.Token
	CellSet  model.CellSet
	Decision Decision
	Source   string
}

type Orchestrator struct {
	log    *slog.Logger
	geo    *geoindex.Index
	remote *remote.Client
	hot    *hotstore.Store
	cold   coldstore.Store
	cfg    Config
	now    func() time.Time

	mu             sync.Mutex
	seq            uint64
	inflight       bool
	inflightCells  model.CellSet
	inflightCancel context.CancelFunc
	lastCells      model.CellSet
	lastFetchAt    time.Time

	coldWG sync.WaitGroup
}

func New(log *slog.Logger, geo *geoindex.Index, rc *remote.Client, hot *hotstore.Store, cold coldstore.Store, cfg Config) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.OverlapThreshold <= 0 {
		cfg.OverlapThreshold = 0.5
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.ColdWriteTimeout <= 0 {
		cfg.ColdWriteTimeout = 5 * time.Second
	}
	return &Orchestrator{
		log:    log,
		geo:    geo,
		remote: rc,
		hot:    hot,
		cold:   cold,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetClock overrides the debounce clock, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

// InFlight reports whether a fetch is currently running; the eviction
// engine refuses to run while it is.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight
}

// CurrentCellSet is the footprint of the most recent completed fetch,
// used as the eviction relevance boundary.
func (o *Orchestrator) CurrentCellSet() model.CellSet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCells
}

// admit is the pure admission predicate over (new request, current
// state). Caller holds o.mu.
func (o *Orchestrator) admit(cells model.CellSet) Decision {
	if o.inflight {
		if geoindex.OverlapRatio(cells, o.inflightCells) >= o.cfg.OverlapThreshold {
			return SkipInFlight
		}
		// Materially different area: supersede the in-flight fetch.
		return Proceed
	}
	if !o.lastCells.IsEmpty() &&
		geoindex.OverlapRatio(cells, o.lastCells) >= o.cfg.OverlapThreshold {
		return SkipSameArea
	}
	if !o.lastFetchAt.IsZero() && o.now().Sub(o.lastFetchAt) < o.cfg.Debounce {
		return SkipDebounced
	}
	return Proceed
}

// FetchForViewport computes the viewport's cell set and, if admitted,
// queries the remote index and merges the result. A superseded fetch
// returns model.ErrAborted; callers drop it silently.
func (o *Orchestrator) FetchForViewport(ctx context.Context, vp model.Viewport) (Result, error) {
	cells := o.geo.CellsForViewport(vp)
	if cells.IsEmpty() {
		return Result{Decision: Proceed}, nil
	}

	o.mu.Lock()
	if d := o.admit(cells); d != Proceed {
		o.mu.Unlock()
		o.log.Debug("fetch skipped", "decision", d.String(), "cells", cells.Total())
		observability.ObserveFetch(d.String())
		return Result{CellSet: cells, Decision: d}, nil
	}
	if o.inflight && o.inflightCancel != nil {
		o.inflightCancel() // superseded, stop waiting on the stale call
	}
	o.seq++
	mySeq := o.seq
	fctx, cancel := context.WithCancel(ctx)
	o.inflight = true
	o.inflightCells = cells
	o.inflightCancel = cancel
	o.mu.Unlock()
	defer cancel()

	q := remote.Query{Cells: cells, Levels: geoindex.EnabledLevels(vp.Zoom)}
	res, err := o.remote.FetchTokens(fctx, q)

	o.mu.Lock()
	if o.seq != mySeq {
		// A newer fetch superseded this one while it was suspended;
		// its result must not be applied.
		o.mu.Unlock()
		return Result{}, fmt.Errorf("%w: fetch %d superseded", model.ErrAborted, mySeq)
	}
	o.inflight = false
	o.inflightCancel = nil
	if err != nil {
		o.mu.Unlock()
		if errors.Is(err, model.ErrAborted) {
			return Result{}, err
		}
		observability.ObserveFetch("error")
		return Result{}, err
	}
	o.lastCells = cells
	o.lastFetchAt = o.now()
	o.mu.Unlock()

	tokens := dedupe(res.Tokens)
	ids := make([]string, 0, len(tokens))
	for _, t := range tokens {
		o.hot.Upsert(t)
		ids = append(ids, t.ID)
	}
	o.hot.Touch(ids...)
	o.hot.MarkVisible(ids...)
	o.persistAsync(tokens)

	observability.ObserveFetch("fetched")
	o.log.Info("viewport fetch merged",
		"tokens", len(tokens), "cells", cells.Total(), "source", res.Source)
	return Result{Tokens: tokens, CellSet: cells, Decision: Proceed, Source: res.Source}, nil
}

// InsertLocal puts a locally minted token straight into the hot store so
// the UI reflects it before the remote index has indexed it. Cells are
// always derived from the coordinates. Only confirmed tokens reach the
// cold store.
func (o *Orchestrator) InsertLocal(t *model.Token, confirmed bool) error {
	if t == nil || t.ID == "" {
		return errors.New("insert local: token id required")
	}
	cells, err := geoindex.CellsForPoint(t.Lat(), t.Lng())
	if err != nil {
		return fmt.Errorf("insert local %s: %w", t.ID, err)
	}
	t.Cells = cells

	o.hot.Upsert(t)
	o.hot.MarkVisible(t.ID)
	if confirmed {
		if _, ok := o.hot.SetConfirmed(t.ID); ok {
			o.persistAsync([]*model.Token{t})
		}
	}
	return nil
}

// ConfirmPersisted flips a local-mint token to durable once its
// transaction receipt (or the remote index) confirms it.
func (o *Orchestrator) ConfirmPersisted(id string) bool {
	t, ok := o.hot.SetConfirmed(id)
	if !ok {
		return false
	}
	o.persistAsync([]*model.Token{t})
	return true
}

// persistAsync writes tokens to the cold store off the critical path.
// Failures are logged and swallowed: the hot store is already
// authoritative for the session.
func (o *Orchestrator) persistAsync(tokens []*model.Token) {
	if len(tokens) == 0 {
		return
	}
	o.coldWG.Add(1)
	go func() {
		defer o.coldWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ColdWriteTimeout)
		defer cancel()
		if err := o.cold.Put(ctx, tokens); err != nil {
			o.log.Warn("cold store write failed", "tokens", len(tokens), "err", err)
		}
	}()
}

// WaitColdWrites blocks until pending fire-and-forget writes finish.
// Used by shutdown and tests.
func (o *Orchestrator) WaitColdWrites() {
	o.coldWG.Wait()
}

func dedupe(tokens []*model.Token) []*model.Token {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]*model.Token, 0, len(tokens))
	for _, t := range tokens {
		if t == nil || t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}
