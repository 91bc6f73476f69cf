// Package geoindex maps viewports and points to H3 cell sets at the four
// fixed resolutions used throughout the cache.
package geoindex

import (
	"fmt"
	"log/slog"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
)

// Resolutions are the four H3 resolutions, coarse to fine.
var Resolutions = [model.NumResolutions]int{5, 7, 9, 11}

// Zoom levels at which each resolution becomes active. The coarsest is
// always on; finer ones switch in as the viewport zooms, keeping the
// cell-set size bounded.
var zoomGates = [model.NumResolutions]float64{0, 8, 11, 14}

type Index struct {
	log            *slog.Logger
	maxCellsPerRes int
}

func New(log *slog.Logger, maxCellsPerRes int) *Index {
	if log == nil {
		log = slog.Default()
	}
	if maxCellsPerRes <= 0 {
		maxCellsPerRes = 64
	}
	return &Index{log: log, maxCellsPerRes: maxCellsPerRes}
}

// EnabledLevels returns which of the four resolution levels are active
// at the given zoom.
func EnabledLevels(zoom float64) [model.NumResolutions]bool {
	var out [model.NumResolutions]bool
	for i, gate := range zoomGates {
		out[i] = zoom >= gate
	}
	return out
}

// samplesPerAxis picks the sampling grid density for a zoom level.
func samplesPerAxis(zoom float64) int {
	switch {
	case zoom < 10:
		return 3
	case zoom < 13:
		return 4
	default:
		return 5
	}
}

// ringForLevel is the gridDisk radius applied to each sample cell. The
// two finest levels get one neighbor ring to tolerate sampling gaps.
func ringForLevel(level int) int {
	if level >= 2 {
		return 1
	}
	return 0
}

// CellsForViewport samples the viewport on a zoom-adaptive grid and
// returns the deduplicated cell set per enabled resolution, hard-capped
// at maxCellsPerRes cells each.
func (ix *Index) CellsForViewport(v model.Viewport) model.CellSet {
	var cs model.CellSet
	if v.MaxLat < v.MinLat || v.MaxLng < v.MinLng {
		return cs
	}

	enabled := EnabledLevels(v.Zoom)
	n := samplesPerAxis(v.Zoom)

	for level := 0; level < model.NumResolutions; level++ {
		if !enabled[level] {
			continue
		}
		res := Resolutions[level]
		ring := ringForLevel(level)

		seen := make(map[string]struct{})
		var cells []string
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				lat := v.MinLat + (v.MaxLat-v.MinLat)*float64(i)/float64(n-1)
				lng := v.MinLng + (v.MaxLng-v.MinLng)*float64(j)/float64(n-1)
				cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
				if err != nil {
					ix.log.Warn("h3 cell lookup failed", "lat", lat, "lng", lng, "res", res, "err", err)
					continue
				}
				for _, c := range ix.expand(cell, ring) {
					if _, ok := seen[c]; ok {
						continue
					}
					seen[c] = struct{}{}
					cells = append(cells, c)
				}
			}
		}

		if len(cells) > ix.maxCellsPerRes {
			drop := len(cells) - ix.maxCellsPerRes
			ix.log.Warn("cell set truncated",
				"res", res, "cells", len(cells), "max", ix.maxCellsPerRes, "dropped", drop)
			cells = cells[drop:]
		}
		cs.PerRes[level] = cells
	}
	return cs
}

func (ix *Index) expand(cell h3.Cell, ring int) []string {
	if ring <= 0 {
		return []string{cell.String()}
	}
	disk, err := cell.GridDisk(ring)
	if err != nil {
		return []string{cell.String()}
	}
	out := make([]string, 0, len(disk))
	for _, d := range disk {
		out = append(out, d.String())
	}
	return out
}

// CellsForPoint derives the four cell ids for a coordinate. Tokens store
// these at creation time; they are never supplied independently.
func CellsForPoint(lat, lng float64) ([model.NumResolutions]string, error) {
	var out [model.NumResolutions]string
	for level, res := range Resolutions {
		cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
		if err != nil {
			return out, fmt.Errorf("h3 cell at res %d: %w", res, err)
		}
		out[level] = cell.String()
	}
	return out, nil
}
