// Package model holds the shared data types of the token cache engine.
package model

import (
	"errors"
	"fmt"
	"time"
)

// NumResolutions is the number of fixed H3 resolutions every token and
// cell set carries, coarse to fine.
const NumResolutions = 4

// Color is the small enumerated color attribute a token carries.
type Color uint8

const (
	ColorNone Color = iota
	ColorRed
	ColorGreen
	ColorBlue
	ColorGold
)

func (c Color) String() string {
	switch c {
	case ColorRed:
		return "red"
	case ColorGreen:
		return "green"
	case ColorBlue:
		return "blue"
	case ColorGold:
		return "gold"
	default:
		return "none"
	}
}

// Edge is a reference from one token to another.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Token is the cached unit. Coordinates are fixed-point: latitude and
// longitude in 1e-7 degrees, elevation in centimeters. Cells holds the
// four H3 cell ids derived from the coordinates at creation time; they
// are never supplied independently.
type Token struct {
	ID          string                 `json:"id"`
	LatE7       int64                  `json:"lat_e7"`
	LngE7       int64                  `json:"lng_e7"`
	ElevationCm int32                  `json:"elevation_cm"`
	Cells       [NumResolutions]string `json:"cells"`
	Generation  int                    `json:"generation"`
	RefCount    int                    `json:"ref_count"`
	Message     string                 `json:"message,omitempty"`
	Color       Color                  `json:"color"`
	CreatedAt   time.Time              `json:"created_at"`
	Edges       []Edge                 `json:"edges,omitempty"`
}

// Lat returns the latitude in degrees.
func (t *Token) Lat() float64 { return float64(t.LatE7) / 1e7 }

// Lng returns the longitude in degrees.
func (t *Token) Lng() float64 { return float64(t.LngE7) / 1e7 }

// Viewport is the geographic window the UI currently shows. The cache
// only ever reads it.
type Viewport struct {
	MinLat    float64
	MinLng    float64
	MaxLat    float64
	MaxLng    float64
	Zoom      float64
	CenterLat float64
	CenterLng float64
}

// Contains reports whether the point lies inside the viewport expanded
// by the given buffer multiplier around its center.
func (v Viewport) Contains(lat, lng, buffer float64) bool {
	halfH := (v.MaxLat - v.MinLat) / 2 * buffer
	halfW := (v.MaxLng - v.MinLng) / 2 * buffer
	cLat := (v.MinLat + v.MaxLat) / 2
	cLng := (v.MinLng + v.MaxLng) / 2
	return lat >= cLat-halfH && lat <= cLat+halfH &&
		lng >= cLng-halfW && lng <= cLng+halfW
}

// CellSet is the per-resolution lists of cell ids representing a queried
// or cached geographic footprint.
type CellSet struct {
	PerRes [NumResolutions][]string
}

// IsEmpty reports whether no resolution holds any cell.
func (cs CellSet) IsEmpty() bool {
	for _, cells := range cs.PerRes {
		if len(cells) > 0 {
			return false
		}
	}
	return true
}

// Total returns the cell count summed over all resolutions.
func (cs CellSet) Total() int {
	n := 0
	for _, cells := range cs.PerRes {
		n += len(cells)
	}
	return n
}

// ContainsToken reports whether the token's stored cell ids intersect
// the set at any resolution.
func (cs CellSet) ContainsToken(t *Token) bool {
	for res := 0; res < NumResolutions; res++ {
		for _, c := range cs.PerRes[res] {
			if c != "" && c == t.Cells[res] {
				return true
			}
		}
	}
	return false
}

// AccessRecord is the per-token bookkeeping the hot store keeps next to
// the token itself. Cells mirrors Token.Cells so eviction checks need no
// token lookup.
type AccessRecord struct {
	LastAccessedAt time.Time
	Cells          [NumResolutions]string
	Visible        bool
	Confirmed      bool
}

// CacheStats is mutated only by the eviction engine.
type CacheStats struct {
	Cached         int       `json:"cached"`
	EvictedTotal   int64     `json:"evicted_total"`
	LastCleanupAt  time.Time `json:"last_cleanup_at"`
	CleanupRuns    int64     `json:"cleanup_runs"`
	EstimatedBytes int64     `json:"estimated_bytes"`
}

// ColdStats describes the durable tier.
type ColdStats struct {
	Count           int       `json:"count"`
	EstimatedSizeMB float64   `json:"estimated_size_mb"`
	LastPruneAt     time.Time `json:"last_prune_at"`
}

// Error sentinels. Only ErrTransientFetch is ever surfaced to the
// consumer as retryable; the rest degrade to "keep the last good state".
var (
	ErrTransientFetch = errors.New("transient fetch failure")
	ErrAborted        = errors.New("fetch superseded")
	ErrPersistence    = errors.New("cold store failure")
)

// TransientFetch wraps err as a retryable remote-index failure.
func TransientFetch(err error) error {
	return fmt.Errorf("%w: %w", ErrTransientFetch, err)
}
