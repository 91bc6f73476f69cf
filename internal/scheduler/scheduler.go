// Package scheduler drives the background cadence of the cache: a
// debounced cleanup after viewport activity settles, a periodic
// hot-store sweep, and a slower cold-store prune.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Config struct {
	CleanupDebounce    time.Duration
	HotCleanupInterval time.Duration
	ColdPruneInterval  time.Duration
}

// Hooks are the actions the scheduler fires. Cleanup runs on the
// debounce timer and the periodic ticker; PruneCold on its own ticker.
type Hooks struct {
	Cleanup   func()
	PruneCold func(ctx context.Context)
}

type Scheduler struct {
	log   *slog.Logger
	cfg   Config
	hooks Hooks

	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

func New(log *slog.Logger, cfg Config, hooks Hooks) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CleanupDebounce <= 0 {
		cfg.CleanupDebounce = 5 * time.Second
	}
	if cfg.HotCleanupInterval <= 0 {
		cfg.HotCleanupInterval = time.Minute
	}
	if cfg.ColdPruneInterval <= 0 {
		cfg.ColdPruneInterval = time.Hour
	}
	return &Scheduler{log: log, cfg: cfg, hooks: hooks}
}

// Start launches the periodic loops. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.runTicker(ctx, s.cfg.HotCleanupInterval, func() { s.fire("cleanup", s.hooks.Cleanup) })
	go s.runTicker(ctx, s.cfg.ColdPruneInterval, func() {
		s.fire("cold_prune", func() {
			if s.hooks.PruneCold != nil {
				s.hooks.PruneCold(ctx)
			}
		})
	})
}

// Stop cancels the loops and any armed debounce timer, then waits for
// the ticker goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// NotifyActivity re-arms the debounce timer. Each viewport update or
// completed fetch pushes the cleanup back, so it fires once the user
// stops moving rather than mid-pan.
func (s *Scheduler) NotifyActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.CleanupDebounce, func() {
		s.fire("cleanup_debounced", s.hooks.Cleanup)
	})
}

func (s *Scheduler) runTicker(ctx context.Context, every time.Duration, tick func()) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick()
		}
	}
}

// fire runs a hook with panic isolation so one bad pass cannot take
// down the tickers.
func (s *Scheduler) fire(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("scheduled task panicked", "task", name, "err", rec)
		}
	}()
	fn()
}
