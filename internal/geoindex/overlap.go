package geoindex

import "github.com/mohammed-shakir/geotoken-cache/internal/core/model"

// OverlapRatio computes |intersection|/|union| per resolution and
// averages across resolutions where either side has cells. Resolutions
// empty on both sides (disabled at the current zoom) are skipped so a
// coarse-only viewport can still reach a ratio of 1 against itself.
func OverlapRatio(a, b model.CellSet) float64 {
	sum := 0.0
	levels := 0
	for res := 0; res < model.NumResolutions; res++ {
		la, lb := a.PerRes[res], b.PerRes[res]
		if len(la) == 0 && len(lb) == 0 {
			continue
		}
		levels++
		if len(la) == 0 || len(lb) == 0 {
			continue // ratio 0 for this level
		}
		set := make(map[string]struct{}, len(la))
		for _, c := range la {
			set[c] = struct{}{}
		}
		inter := 0
		union := len(la)
		for _, c := range lb {
			if _, ok := set[c]; ok {
				inter++
			} else {
				union++
			}
		}
		if union > 0 {
			sum += float64(inter) / float64(union)
		}
	}
	if levels == 0 {
		return 0
	}
	return sum / float64(levels)
}
