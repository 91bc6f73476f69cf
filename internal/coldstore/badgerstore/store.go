// Package badgerstore is the default cold tier, persisted on local disk
// with BadgerDB.
//
// Key layout (single-byte prefixes):
//
//	0x01 + id                              -> JSON(Record)
//	0x02 + level + cell + 0x00 + id        -> empty (cell index, per resolution)
//	0x03 + bigendian(cachedAt) + 0x00 + id -> empty (insertion-time index)
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mohammed-shakir/geotoken-cache/internal/coldstore"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/core/observability"
)

const (
	prefixToken     = byte(0x01)
	prefixCellIndex = byte(0x02)
	prefixTimeIndex = byte(0x03)

	putBatch = 128
)

type Store struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time

	mu          sync.Mutex
	lastPruneAt time.Time
}

var _ coldstore.Store = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the cachedAt clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the store at dir. An empty dir opens an
// in-memory instance, used by tests.
func Open(dir string, log *slog.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	bo := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bo = bo.WithInMemory(true)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	s := &Store{db: db, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

func tokenKey(id string) []byte {
	return append([]byte{prefixToken}, id...)
}

func cellKey(level int, cell, id string) []byte {
	k := []byte{prefixCellIndex, byte(level)}
	k = append(k, cell...)
	k = append(k, 0x00)
	return append(k, id...)
}

func cellPrefix(level int, cell string) []byte {
	k := []byte{prefixCellIndex, byte(level)}
	k = append(k, cell...)
	return append(k, 0x00)
}

func timeKey(at time.Time, id string) []byte {
	k := make([]byte, 9, 9+1+len(id))
	k[0] = prefixTimeIndex
	binary.BigEndian.PutUint64(k[1:9], uint64(at.UnixNano()))
	k = append(k, 0x00)
	return append(k, id...)
}

// Put upserts tokens. A re-put refreshes cachedAt and moves the token's
// time-index entry; cell indices are stable because cells are immutable.
func (s *Store) Put(ctx context.Context, tokens []*model.Token) error {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("put", err, time.Since(start).Seconds()) }()

	for len(tokens) > 0 {
		n := min(putBatch, len(tokens))
		chunk := tokens[:n]
		tokens = tokens[n:]

		if err = ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", model.ErrPersistence, err)
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, t := range chunk {
				if t == nil || t.ID == "" {
					continue
				}
				if uerr := s.putOne(txn, t); uerr != nil {
					return uerr
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: badger put: %w", model.ErrPersistence, err)
		}
	}
	return nil
}

func (s *Store) putOne(txn *badger.Txn, t *model.Token) error {
	now := s.now()

	if old, err := s.readRecord(txn, t.ID); err == nil {
		if derr := txn.Delete(timeKey(old.CachedAt, t.ID)); derr != nil {
			return fmt.Errorf("drop stale time index for %s: %w", t.ID, derr)
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	rec := coldstore.Record{Token: t, CachedAt: now}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", t.ID, err)
	}
	if err := txn.Set(tokenKey(t.ID), val); err != nil {
		return fmt.Errorf("set record %s: %w", t.ID, err)
	}
	for level, cell := range t.Cells {
		if cell == "" {
			continue
		}
		if err := txn.Set(cellKey(level, cell, t.ID), nil); err != nil {
			return fmt.Errorf("set cell index %s: %w", t.ID, err)
		}
	}
	if err := txn.Set(timeKey(now, t.ID), nil); err != nil {
		return fmt.Errorf("set time index %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) readRecord(txn *badger.Txn, id string) (coldstore.Record, error) {
	var rec coldstore.Record
	item, err := txn.Get(tokenKey(id))
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return rec, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

// GetByCells returns the union of tokens indexed under the given cells
// at one resolution level. Each token appears at most once.
func (s *Store) GetByCells(ctx context.Context, cells []string, level int) ([]*model.Token, error) {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("get_by_cells", err, time.Since(start).Seconds()) }()

	if level < 0 || level >= model.NumResolutions {
		err = fmt.Errorf("resolution level %d out of range", level)
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	var out []*model.Token
	seen := make(map[string]struct{})
	err = s.db.View(func(txn *badger.Txn) error {
		for _, cell := range cells {
			if cell == "" {
				continue
			}
			prefix := cellPrefix(level, cell)
			io := badger.DefaultIteratorOptions
			io.PrefetchValues = false
			io.Prefix = prefix
			it := txn.NewIterator(io)
			for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
				id := string(it.Item().Key()[len(prefix):])
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				rec, rerr := s.readRecord(txn, id)
				if rerr != nil {
					it.Close()
					return rerr
				}
				out = append(out, rec.Token)
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: badger get by cells: %w", model.ErrPersistence, err)
	}
	return out, nil
}

func (s *Store) GetAll(ctx context.Context) ([]*model.Token, error) {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("get_all", err, time.Since(start).Seconds()) }()

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	var out []*model.Token
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixToken}
		io := badger.DefaultIteratorOptions
		io.Prefix = prefix
		it := txn.NewIterator(io)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec coldstore.Record
			verr := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if verr != nil {
				return verr
			}
			out = append(out, rec.Token)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: badger get all: %w", model.ErrPersistence, err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("delete", err, time.Since(start).Seconds()) }()

	if err = ctx.Err(); err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if derr := s.deleteOne(txn, id); derr != nil {
				return derr
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: badger delete: %w", model.ErrPersistence, err)
	}
	return nil
}

func (s *Store) deleteOne(txn *badger.Txn, id string) error {
	rec, err := s.readRecord(txn, id)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := txn.Delete(tokenKey(id)); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	for level, cell := range rec.Token.Cells {
		if cell == "" {
			continue
		}
		if err := txn.Delete(cellKey(level, cell, id)); err != nil {
			return fmt.Errorf("delete cell index %s: %w", id, err)
		}
	}
	if err := txn.Delete(timeKey(rec.CachedAt, id)); err != nil {
		return fmt.Errorf("delete time index %s: %w", id, err)
	}
	return nil
}

// PruneOlderThan deletes records whose cachedAt exceeds maxAge. The
// time index is ordered, so the scan stops at the cutoff.
func (s *Store) PruneOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("prune", err, time.Since(start).Seconds()) }()

	cutoff := s.now().Add(-maxAge).UnixNano()

	var ids []string
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixTimeIndex}
		io := badger.DefaultIteratorOptions
		io.PrefetchValues = false
		io.Prefix = prefix
		it := txn.NewIterator(io)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) < 10 {
				continue
			}
			ts := int64(binary.BigEndian.Uint64(key[1:9]))
			if ts > cutoff {
				break
			}
			ids = append(ids, string(key[10:]))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: badger prune scan: %w", model.ErrPersistence, err)
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
	err := s.db.DropAll()
	observability.ObserveColdOp("clear", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: badger drop all: %w", model.ErrPersistence, err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (model.ColdStats, error) {
	start := time.Now()
	var err error
	defer func() { observability.ObserveColdOp("stats", err, time.Since(start).Seconds()) }()

	count := 0
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixToken}
		io := badger.DefaultIteratorOptions
		io.PrefetchValues = false
		io.Prefix = prefix
		it := txn.NewIterator(io)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return model.ColdStats{}, fmt.Errorf("%w: badger stats: %w", model.ErrPersistence, err)
	}

	lsm, vlog := s.db.Size()
	s.mu.Lock()
	last := s.lastPruneAt
	s.mu.Unlock()
	return model.ColdStats{
		Count:           count,
		EstimatedSizeMB: float64(lsm+vlog) / (1 << 20),
		LastPruneAt:     last,
	}, nil
}
