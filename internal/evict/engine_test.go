package evict

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/hotstore"
)

type fakeFetch struct {
	inflight bool
	cells    model.CellSet
}

func (f *fakeFetch) InFlight() bool                { return f.inflight }
func (f *fakeFetch) CurrentCellSet() model.CellSet { return f.cells }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cellsAt(level int, ids ...string) model.CellSet {
	cs := model.CellSet{}
	cs.PerRes[level] = ids
	return cs
}

type fixture struct {
	hot   *hotstore.Store
	fetch *fakeFetch
	eng   *Engine
	clock time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		hot:   hotstore.New(),
		fetch: &fakeFetch{},
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.hot.SetClock(func() time.Time { return f.clock })
	f.eng = New(discardLogger(), f.hot, coldstore.Noop{}, f.fetch, cfg)
	f.eng.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) add(t *model.Token) {
	f.hot.Upsert(t)
}

func tok(id, cell string) *model.Token {
	return &model.Token{
		ID:        id,
		Cells:     [model.NumResolutions]string{cell, "", "", ""},
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCleanup_EvictsIrrelevantKeepsRelevant(t *testing.T) {
	f := newFixture(t, Config{MinKeepDuration: 30 * time.Second})
	f.add(tok("keep", "in"))
	f.add(tok("drop", "out"))
	f.fetch.cells = cellsAt(0, "in")

	f.clock = f.clock.Add(time.Minute) // past the recency override
	res := f.eng.Cleanup()

	if res.Skipped != SkipNone {
		t.Fatalf("skipped: %s", res.Skipped)
	}
	if len(res.Evicted) != 1 || res.Evicted[0] != "drop" {
		t.Fatalf("evicted = %v, want [drop]", res.Evicted)
	}
	if _, ok := f.hot.Get("keep"); !ok {
		t.Fatal("relevant token evicted")
	}
	if _, ok := f.hot.Get("drop"); ok {
		t.Fatal("irrelevant token survived")
	}
}

func TestCleanup_RecencyOverride(t *testing.T) {
	f := newFixture(t, Config{MinKeepDuration: 30 * time.Second})
	f.add(tok("fresh", "nowhere"))
	f.fetch.cells = cellsAt(0, "somewhere-else")

	// Touched 10s ago: inside MIN_KEEP_DURATION, kept despite zero overlap.
	f.clock = f.clock.Add(10 * time.Second)
	res := f.eng.Cleanup()

	if len(res.Evicted) != 0 {
		t.Fatalf("evicted = %v, want none", res.Evicted)
	}
	if _, ok := f.hot.Get("fresh"); !ok {
		t.Fatal("recently touched token evicted")
	}
}

func TestCleanup_IdempotentWithinDebounce(t *testing.T) {
	f := newFixture(t, Config{CleanupDebounce: 5 * time.Second})
	f.add(tok("t1", "out"))
	f.fetch.cells = cellsAt(0, "in")

	f.clock = f.clock.Add(time.Minute)
	first := f.eng.Cleanup()
	if first.Skipped != SkipNone {
		t.Fatalf("first pass skipped: %s", first.Skipped)
	}
	statsAfterFirst := f.eng.Stats()

	second := f.eng.Cleanup()
	if second.Skipped != SkipDebounced {
		t.Fatalf("second pass not debounced: %+v", second)
	}
	if got := f.eng.Stats(); got != statsAfterFirst {
		t.Fatalf("stats changed by debounced pass: %+v vs %+v", got, statsAfterFirst)
	}
}

func TestCleanup_SkipsWhileFetchInFlight(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(tok("t1", "out"))
	f.fetch.inflight = true
	f.fetch.cells = cellsAt(0, "in")

	f.clock = f.clock.Add(time.Minute)
	res := f.eng.Cleanup()
	if res.Skipped != SkipInFlight {
		t.Fatalf("skipped = %q, want fetch_in_flight", res.Skipped)
	}
	if f.hot.Len() != 1 {
		t.Fatal("tokens evicted during in-flight fetch")
	}
}

func TestCleanup_CeilingKeepsTopByPriority(t *testing.T) {
	f := newFixture(t, Config{MaxCachedTokens: 2, MinKeepDuration: 30 * time.Second})
	f.fetch.cells = cellsAt(0, "in")

	mk := func(id string, gen, ref int, msg string, age time.Duration) *model.Token {
		return &model.Token{
			ID:         id,
			Cells:      [model.NumResolutions]string{"in", "", "", ""},
			Generation: gen,
			RefCount:   ref,
			Message:    msg,
			CreatedAt:  f.clock.Add(-age),
		}
	}
	f.add(mk("high", 8, 15, "hello", time.Hour))
	f.add(mk("mid", 3, 2, "", 48*time.Hour))
	f.add(mk("low", 0, 0, "", 90*24*time.Hour))

	f.clock = f.clock.Add(time.Minute)
	res := f.eng.Cleanup()

	if f.hot.Len() != 2 {
		t.Fatalf("hot store len = %d, want ceiling 2", f.hot.Len())
	}
	if _, ok := f.hot.Get("low"); ok {
		t.Fatal("lowest-priority token survived the ceiling")
	}
	if len(res.Kept) != 2 || res.Kept[0] != "high" || res.Kept[1] != "mid" {
		t.Fatalf("kept = %v, want [high mid] in score order", res.Kept)
	}
}

func TestCleanup_EstablishedBeatsEmptyWhenBothIrrelevant(t *testing.T) {
	// Both fail geospatial relevance; ceiling 1 must keep the
	// established token and evict the empty one.
	f := newFixture(t, Config{MaxCachedTokens: 1, MinKeepDuration: time.Second})
	f.fetch.cells = model.CellSet{} // no footprint: relevance cannot apply

	a := &model.Token{
		ID:         "a",
		Generation: 5,
		RefCount:   8,
		Message:    "first find",
		CreatedAt:  f.clock.Add(-time.Hour),
	}
	b := &model.Token{
		ID:        "b",
		CreatedAt: f.clock.Add(-90 * 24 * time.Hour),
	}
	f.add(a)
	f.add(b)

	f.clock = f.clock.Add(time.Minute)
	res := f.eng.Cleanup()

	if len(res.Kept) != 1 || res.Kept[0] != "a" {
		t.Fatalf("kept = %v, want [a]", res.Kept)
	}
	if len(res.Evicted) != 1 || res.Evicted[0] != "b" {
		t.Fatalf("evicted = %v, want [b]", res.Evicted)
	}
}

func TestCleanup_ViewportFallbackZone(t *testing.T) {
	f := newFixture(t, Config{MinKeepDuration: time.Second, CacheZoneBuffer: 1.5})
	f.fetch.cells = model.CellSet{} // force the coarse fallback

	inside := &model.Token{ID: "inside", LatE7: 593200000, LngE7: 180500000}
	outside := &model.Token{ID: "outside", LatE7: -338700000, LngE7: 1511500000}
	f.add(inside)
	f.add(outside)
	f.eng.SetViewport(model.Viewport{MinLat: 59.30, MinLng: 18.00, MaxLat: 59.35, MaxLng: 18.10, Zoom: 12})

	f.clock = f.clock.Add(time.Minute)
	res := f.eng.Cleanup()

	if len(res.Evicted) != 1 || res.Evicted[0] != "outside" {
		t.Fatalf("evicted = %v, want [outside]", res.Evicted)
	}
}

func TestCleanup_UpdatesStats(t *testing.T) {
	f := newFixture(t, Config{MinKeepDuration: time.Second})
	f.add(tok("t1", "out"))
	f.fetch.cells = cellsAt(0, "in")

	f.clock = f.clock.Add(time.Minute)
	f.eng.Cleanup()

	st := f.eng.Stats()
	if st.EvictedTotal != 1 || st.CleanupRuns != 1 || st.Cached != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if !st.LastCleanupAt.Equal(f.clock) {
		t.Fatalf("lastCleanupAt = %v, want %v", st.LastCleanupAt, f.clock)
	}
}

func TestPriorityScore_RankOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := DefaultWeights()
	rec := model.AccessRecord{LastAccessedAt: now.Add(-time.Hour)}

	established := &model.Token{Generation: 5, RefCount: 8, Message: "m", CreatedAt: now.Add(-time.Hour)}
	empty := &model.Token{CreatedAt: now.Add(-90 * 24 * time.Hour)}
	young := &model.Token{CreatedAt: now.Add(-time.Hour)}

	se := priorityScore(established, rec, now, w)
	sy := priorityScore(young, rec, now, w)
	s0 := priorityScore(empty, rec, now, w)

	if !(se > sy && sy > s0) {
		t.Fatalf("rank order broken: established=%v young=%v empty=%v", se, sy, s0)
	}
}

func TestPriorityScore_CapsApply(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := DefaultWeights()
	rec := model.AccessRecord{LastAccessedAt: now}

	capped := &model.Token{Generation: 10, RefCount: 20, CreatedAt: now}
	over := &model.Token{Generation: 1000, RefCount: 9999, CreatedAt: now}

	if priorityScore(capped, rec, now, w) != priorityScore(over, rec, now, w) {
		t.Fatal("generation/refCount caps not applied")
	}
}
