package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore/keys"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/observability"
)

// avgRecordBytes is the coarse per-record size used for the stats
// estimate; Redis does not expose per-keyspace memory cheaply.
const avgRecordBytes = 512

type Store struct {
	cli *Client
	now func() time.Time

	mu          sync.Mutex
	lastPruneAt time.Time
}

var _ coldstore.Store = (*Store)(nil)

func New(cli *Client) *Store {
	return &Store{cli: cli, now: time.Now}
}

// SetClock overrides the cachedAt clock, for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Close() error { return s.cli.Close() }

func (s *Store) Put(ctx context.Context, tokens []*model.Token) error {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("put", err, time.Since(start).Seconds()) }()

	if len(tokens) == 0 {
		return nil
	}
	now := s.now()
	_, err = s.cli.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range tokens {
			if t == nil || t.ID == "" {
				continue
			}
			rec := coldstore.Record{Token: t, CachedAt: now}
			val, merr := json.Marshal(rec)
			if merr != nil {
				return fmt.Errorf("encode record %s: %w", t.ID, merr)
			}
			p.Set(ctx, keys.Token(t.ID), val, 0)
			p.SAdd(ctx, keys.AllSet, t.ID)
			for level, cell := range t.Cells {
				if cell == "" {
					continue
				}
				p.SAdd(ctx, keys.CellIndex(level, cell), t.ID)
			}
			p.ZAdd(ctx, keys.TimeIndex, redis.Z{Score: float64(now.Unix()), Member: t.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis put %d tokens: %w", model.ErrPersistence, len(tokens), err)
	}
	return nil
}

func (s *Store) GetByCells(ctx context.Context, cells []string, level int) ([]*model.Token, error) {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("get_by_cells", err, time.Since(start).Seconds()) }()

	if level < 0 || level >= model.NumResolutions {
		err = fmt.Errorf("resolution level %d out of range", level)
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}
	setKeys := make([]string, 0, len(cells))
	for _, c := range cells {
		if c != "" {
			setKeys = append(setKeys, keys.CellIndex(level, c))
		}
	}
	if len(setKeys) == 0 {
		return nil, nil
	}

	ids, uerr := s.cli.rdb.SUnion(ctx, setKeys...).Result()
	if uerr != nil {
		err = fmt.Errorf("%w: redis SUNION: %w", model.ErrPersistence, uerr)
		return nil, err
	}
	tokens, gerr := s.fetch(ctx, ids)
	if gerr != nil {
		err = gerr
		return nil, err
	}
	return tokens, nil
}

func (s *Store) GetAll(ctx context.Context) ([]*model.Token, error) {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("get_all", err, time.Since(start).Seconds()) }()

	ids, serr := s.cli.rdb.SMembers(ctx, keys.AllSet).Result()
	if serr != nil {
		err = fmt.Errorf("%w: redis SMEMBERS: %w", model.ErrPersistence, serr)
		return nil, err
	}
	tokens, gerr := s.fetch(ctx, ids)
	if gerr != nil {
		err = gerr
		return nil, err
	}
	return tokens, nil
}

func (s *Store) fetch(ctx context.Context, ids []string) ([]*model.Token, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	recKeys := make([]string, len(ids))
	for i, id := range ids {
		recKeys[i] = keys.Token(id)
	}
	vals, err := s.cli.mget(ctx, recKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	out := make([]*model.Token, 0, len(vals))
	for i, v := range vals {
		if len(v) == 0 {
			continue // index entry without a record, e.g. mid-delete
		}
		var rec coldstore.Record
		if uerr := json.Unmarshal(v, &rec); uerr != nil {
			return nil, fmt.Errorf("%w: decode record %s: %w", model.ErrPersistence, ids[i], uerr)
		}
		out = append(out, rec.Token)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("delete", err, time.Since(start).Seconds()) }()

	if len(ids) == 0 {
		return nil
	}
	recKeys := make([]string, len(ids))
	for i, id := range ids {
		recKeys[i] = keys.Token(id)
	}
	vals, merr := s.cli.mget(ctx, recKeys)
	if merr != nil {
		err = fmt.Errorf("%w: %w", model.ErrPersistence, merr)
		return err
	}

	_, err = s.cli.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			p.Del(ctx, recKeys[i])
			p.SRem(ctx, keys.AllSet, id)
			p.ZRem(ctx, keys.TimeIndex, id)
			if len(vals[i]) == 0 {
				continue
			}
			var rec coldstore.Record
			if uerr := json.Unmarshal(vals[i], &rec); uerr != nil {
				continue // record gone or corrupt, indexes already dropped above
			}
			for level, cell := range rec.Token.Cells {
				if cell == "" {
					continue
				}
				p.SRem(ctx, keys.CellIndex(level, cell), id)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis delete %d ids: %w", model.ErrPersistence, len(ids), err)
	}
	return nil
}

func (s *Store) PruneOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("prune", err, time.Since(start).Seconds()) }()

	cutoff := s.now().Add(-maxAge).Unix()
	ids, zerr := s.cli.rdb.ZRangeByScore(ctx, keys.TimeIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if zerr != nil {
		err = fmt.Errorf("%w: redis ZRANGEBYSCORE: %w", model.ErrPersistence, zerr)
		return 0, err
	}
	if len(ids) > 0 {
		if err = s.Delete(ctx, ids...); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	s.lastPruneAt = s.now()
	s.mu.Unlock()
	observability.AddColdPruned(len(ids))
	return len(ids), nil
}

func (s *Store) Clear(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("clear", err, time.Since(start).Seconds()) }()

	ids, serr := s.cli.rdb.SMembers(ctx, keys.AllSet).Result()
	if serr != nil {
		err = fmt.Errorf("%w: redis SMEMBERS: %w", model.ErrPersistence, serr)
		return err
	}
	if len(ids) > 0 {
		if err = s.Delete(ctx, ids...); err != nil {
			return err
		}
	}
	if derr := s.cli.rdb.Del(ctx, keys.AllSet, keys.TimeIndex).Err(); derr != nil {
		err = fmt.Errorf("%w: redis DEL indexes: %w", model.ErrPersistence, derr)
		return err
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (model.ColdStats, error) {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("stats", err, time.Since(start).Seconds()) }()

	n, cerr := s.cli.rdb.SCard(ctx, keys.AllSet).Result()
	if cerr != nil {
		err = fmt.Errorf("%w: redis SCARD: %w", model.ErrPersistence, cerr)
		return model.ColdStats{}, err
	}
	s.mu.Lock()
	last := s.lastPruneAt
	s.mu.Unlock()
	return model.ColdStats{
		Count:           int(n),
		EstimatedSizeMB: float64(n*avgRecordBytes) / (1 << 20),
		LastPruneAt:     last,
	}, nil
}
