// Package hotstore is the authoritative in-process token table. Tokens
// and their access records are maintained as a single atomic unit: every
// key present in one table has its counterpart in the other.
package hotstore

import (
	"sync"
	"time"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
)

type Store struct {
	mu      sync.RWMutex
	tokens  map[string]*model.Token
	records map[string]*model.AccessRecord

	now func() time.Time
}

func New() *Store {
	return &Store{
		tokens:  make(map[string]*model.Token),
		records: make(map[string]*model.AccessRecord),
		now:     time.Now,
	}
}

// SetClock overrides the access clock, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Upsert inserts or replaces a token and refreshes its access record.
// Visibility and confirmation survive a re-insert of a known token.
func (s *Store) Upsert(t *model.Token) {
	if t == nil || t.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[t.ID]
	if rec == nil {
		rec = &model.AccessRecord{}
		s.records[t.ID] = rec
	}
	rec.LastAccessedAt = s.now()
	rec.Cells = t.Cells
	s.tokens[t.ID] = t
}

func (s *Store) Get(id string) (*model.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, false
	}
	s.records[id].LastAccessedAt = s.now()
	return t, true
}

// GetVisible returns the tokens currently marked visible.
func (s *Store) GetVisible() []*model.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Token, 0, len(s.tokens))
	for id, rec := range s.records {
		if rec.Visible {
			out = append(out, s.tokens[id])
		}
	}
	return out
}

// Touch refreshes access timestamps for known ids; unknown ids are ignored.
func (s *Store) Touch(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now()
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			rec.LastAccessedAt = n
		}
	}
}

// MarkVisible flags known ids as visible.
func (s *Store) MarkVisible(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			rec.Visible = true
		}
	}
}

// SetConfirmed flips the persistence-confirmed flag. Returns the token
// so the caller can forward it to the cold store.
func (s *Store) SetConfirmed(id string) (*model.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	rec.Confirmed = true
	return s.tokens[id], true
}

// Remove deletes tokens and their access records together.
func (s *Store) Remove(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := s.tokens[id]; ok {
			delete(s.tokens, id)
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Record returns a copy of a token's access record.
func (s *Store) Record(id string) (model.AccessRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return model.AccessRecord{}, false
	}
	return *rec, true
}

// Entry pairs a token with a copy of its access record, as seen by the
// eviction engine.
type Entry struct {
	Token *model.Token
	Rec   model.AccessRecord
}

// Entries returns a stable snapshot of the table. Record values are
// copies; mutating them does not affect the store.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.tokens))
	for id, t := range s.tokens {
		out = append(out, Entry{Token: t, Rec: *s.records[id]})
	}
	return out
}

// EstimatedBytes is a rough per-token memory estimate used by CacheStats.
func (s *Store) EstimatedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, t := range s.tokens {
		total += tokenBytes(t)
	}
	return total
}

func tokenBytes(t *model.Token) int64 {
	n := int64(256) // struct, cell ids, access record
	n += int64(len(t.ID) + len(t.Message))
	for _, e := range t.Edges {
		n += int64(len(e.From) + len(e.To) + 32)
	}
	return n
}
