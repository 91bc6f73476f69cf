package geoindex

import (
	"io"
	"log/slog"
	"testing"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stockholmViewport(zoom float64) model.Viewport {
	return model.Viewport{
		MinLat: 59.30, MinLng: 18.00,
		MaxLat: 59.35, MaxLng: 18.10,
		Zoom: zoom,
	}
}

func TestEnabledLevels(t *testing.T) {
	cases := []struct {
		zoom float64
		want [model.NumResolutions]bool
	}{
		{0, [model.NumResolutions]bool{true, false, false, false}},
		{7.9, [model.NumResolutions]bool{true, false, false, false}},
		{8, [model.NumResolutions]bool{true, true, false, false}},
		{11, [model.NumResolutions]bool{true, true, true, false}},
		{14, [model.NumResolutions]bool{true, true, true, true}},
		{20, [model.NumResolutions]bool{true, true, true, true}},
	}
	for _, c := range cases {
		if got := EnabledLevels(c.zoom); got != c.want {
			t.Errorf("zoom %.1f: got %v want %v", c.zoom, got, c.want)
		}
	}
}

func TestCellsForPoint(t *testing.T) {
	cells, err := CellsForPoint(59.3293, 18.0686)
	if err != nil {
		t.Fatalf("CellsForPoint: %v", err)
	}
	seen := map[string]struct{}{}
	for i, c := range cells {
		if c == "" {
			t.Fatalf("level %d: empty cell", i)
		}
		if _, dup := seen[c]; dup {
			t.Fatalf("level %d: duplicate cell %s across resolutions", i, c)
		}
		seen[c] = struct{}{}
	}
}

func TestCellsForViewport_LowZoomCoarseOnly(t *testing.T) {
	ix := New(discardLogger(), 64)
	cs := ix.CellsForViewport(stockholmViewport(5))

	if len(cs.PerRes[0]) == 0 {
		t.Fatal("coarsest resolution must always be populated")
	}
	for level := 1; level < model.NumResolutions; level++ {
		if len(cs.PerRes[level]) != 0 {
			t.Fatalf("level %d populated at zoom 5", level)
		}
	}
}

func TestCellsForViewport_HighZoomAllLevels(t *testing.T) {
	ix := New(discardLogger(), 64)
	cs := ix.CellsForViewport(stockholmViewport(16))

	for level := 0; level < model.NumResolutions; level++ {
		if len(cs.PerRes[level]) == 0 {
			t.Fatalf("level %d empty at zoom 16", level)
		}
		seen := map[string]struct{}{}
		for _, c := range cs.PerRes[level] {
			if _, dup := seen[c]; dup {
				t.Fatalf("level %d: duplicate cell %s", level, c)
			}
			seen[c] = struct{}{}
		}
	}
}

func TestCellsForViewport_HardCap(t *testing.T) {
	ix := New(discardLogger(), 3)
	cs := ix.CellsForViewport(stockholmViewport(16))

	for level := 0; level < model.NumResolutions; level++ {
		if len(cs.PerRes[level]) > 3 {
			t.Fatalf("level %d exceeds cap: %d cells", level, len(cs.PerRes[level]))
		}
	}
}

func TestCellsForViewport_InvalidBBox(t *testing.T) {
	ix := New(discardLogger(), 64)
	cs := ix.CellsForViewport(model.Viewport{MinLat: 10, MaxLat: 5, MinLng: 0, MaxLng: 1, Zoom: 10})
	if !cs.IsEmpty() {
		t.Fatal("inverted bbox must yield an empty cell set")
	}
}

func TestOverlapRatio_Identity(t *testing.T) {
	ix := New(discardLogger(), 64)
	a := ix.CellsForViewport(stockholmViewport(12))
	b := ix.CellsForViewport(stockholmViewport(12))
	if r := OverlapRatio(a, b); r != 1 {
		t.Fatalf("identical viewports: ratio = %v, want 1", r)
	}
}

func TestOverlapRatio_Disjoint(t *testing.T) {
	ix := New(discardLogger(), 64)
	a := ix.CellsForViewport(stockholmViewport(12))
	far := model.Viewport{MinLat: -33.95, MinLng: 151.10, MaxLat: -33.85, MaxLng: 151.25, Zoom: 12}
	b := ix.CellsForViewport(far)
	if r := OverlapRatio(a, b); r != 0 {
		t.Fatalf("disjoint viewports: ratio = %v, want 0", r)
	}
}

func TestOverlapRatio_Partial(t *testing.T) {
	a := model.CellSet{}
	a.PerRes[0] = []string{"x", "y"}
	b := model.CellSet{}
	b.PerRes[0] = []string{"y", "z"}
	// |{y}| / |{x,y,z}| at the only populated level
	if r := OverlapRatio(a, b); r < 0.33 || r > 0.34 {
		t.Fatalf("partial overlap: ratio = %v, want 1/3", r)
	}
}

func TestOverlapRatio_Empty(t *testing.T) {
	if r := OverlapRatio(model.CellSet{}, model.CellSet{}); r != 0 {
		t.Fatalf("empty sets: ratio = %v, want 0", r)
	}
}
