package hotstore

import (
	"testing"
	"time"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
)

func tok(id string) *model.Token {
	return &model.Token{
		ID:        id,
		LatE7:     593293000,
		LngE7:     180686000,
		Cells:     [model.NumResolutions]string{"a", "b", "c", "d"},
		CreatedAt: time.Now(),
	}
}

func TestUpsertCreatesRecord(t *testing.T) {
	s := New()
	s.Upsert(tok("t1"))

	rec, ok := s.Record("t1")
	if !ok {
		t.Fatal("record missing after upsert")
	}
	if rec.Cells != [model.NumResolutions]string{"a", "b", "c", "d"} {
		t.Fatalf("record cells not mirrored: %v", rec.Cells)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestUpsertPreservesVisibility(t *testing.T) {
	s := New()
	s.Upsert(tok("t1"))
	s.MarkVisible("t1")

	s.Upsert(tok("t1"))
	rec, _ := s.Record("t1")
	if !rec.Visible {
		t.Fatal("visibility lost on re-upsert")
	}
}

func TestTouchRefreshesTimestamp(t *testing.T) {
	s := New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	s.Upsert(tok("t1"))
	clock = clock.Add(time.Minute)
	s.Touch("t1", "unknown")

	rec, _ := s.Record("t1")
	if !rec.LastAccessedAt.Equal(clock) {
		t.Fatalf("lastAccessedAt = %v, want %v", rec.LastAccessedAt, clock)
	}
}

func TestGetVisibleOnlyReturnsVisible(t *testing.T) {
	s := New()
	s.Upsert(tok("t1"))
	s.Upsert(tok("t2"))
	s.MarkVisible("t2")

	vis := s.GetVisible()
	if len(vis) != 1 || vis[0].ID != "t2" {
		t.Fatalf("visible = %v, want exactly t2", vis)
	}
}

func TestRemoveDeletesTokenAndRecordTogether(t *testing.T) {
	s := New()
	s.Upsert(tok("t1"))
	s.Upsert(tok("t2"))

	if n := s.Remove("t1", "missing"); n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	if _, ok := s.Get("t1"); ok {
		t.Fatal("token survived remove")
	}
	if _, ok := s.Record("t1"); ok {
		t.Fatal("record survived remove")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestSetConfirmed(t *testing.T) {
	s := New()
	s.Upsert(tok("t1"))

	got, ok := s.SetConfirmed("t1")
	if !ok || got.ID != "t1" {
		t.Fatalf("SetConfirmed = (%v, %v)", got, ok)
	}
	rec, _ := s.Record("t1")
	if !rec.Confirmed {
		t.Fatal("confirmed flag not set")
	}
	if _, ok := s.SetConfirmed("missing"); ok {
		t.Fatal("SetConfirmed on unknown id must fail")
	}
}

func TestEntriesSnapshotIsCopy(t *testing.T) {
	s := New()
	s.Upsert(tok("t1"))

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entries[0].Rec.Visible = true
	rec, _ := s.Record("t1")
	if rec.Visible {
		t.Fatal("snapshot mutation leaked into store")
	}
}

func TestEstimatedBytesGrows(t *testing.T) {
	s := New()
	base := s.EstimatedBytes()
	s.Upsert(tok("t1"))
	if s.EstimatedBytes() <= base {
		t.Fatal("estimate did not grow after insert")
	}
}
