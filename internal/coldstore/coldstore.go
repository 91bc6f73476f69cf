// Package coldstore defines the durable token tier. Implementations
// survive process restarts and are pruned by age, never by the hot-store
// eviction pass.
package coldstore

import (
	"context"
	"time"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
)

// Record wraps a token with the time it entered the cold tier. CachedAt
// is distinct from the token's own creation time and drives age pruning.
type Record struct {
	Token    *model.Token `json:"token"`
	CachedAt time.Time    `json:"cached_at"`
}

// Store is the cold tier contract. Put is an upsert keyed by token id.
// GetByCells addresses tokens through the per-resolution cell indices;
// level is the resolution index (0 = coarsest).
type Store interface {
	Put(ctx context.Context, tokens []*model.Token) error
	GetByCells(ctx context.Context, cells []string, level int) ([]*model.Token, error)
	GetAll(ctx context.Context) ([]*model.Token, error)
	Delete(ctx context.Context, ids ...string) error
	PruneOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (model.ColdStats, error)
	Close() error
}

// Noop is the degraded implementation for hosts without durable local
// storage. Every call succeeds with empty results.
type Noop struct{}

var _ Store = Noop{}

func (Noop) Put(context.Context, []*model.Token) error { return nil }

func (Noop) GetByCells(context.Context, []string, int) ([]*model.Token, error) {
	return nil, nil
}

func (Noop) GetAll(context.Context) ([]*model.Token, error) { return nil, nil }

func (Noop) Delete(context.Context, ...string) error { return nil }

func (Noop) PruneOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }

func (Noop) Clear(context.Context) error { return nil }

func (Noop) Stats(context.Context) (model.ColdStats, error) { return model.ColdStats{}, nil }

func (Noop) Close() error { return nil }
